package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/auth"
)

// fakeStore is an in-memory Store. Like the SQL implementation, its
// UpdateStatusIf only applies when the row still carries the expected status.
type fakeStore struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*Order
	timeslots map[uuid.UUID]*TimeslotRef
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[uuid.UUID]*Order),
		timeslots: make(map[uuid.UUID]*TimeslotRef),
	}
}

func (f *fakeStore) Insert(_ context.Context, o *Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) UpdateStatusIf(_ context.Context, id uuid.UUID, from, to Status, txSignature *string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if txSignature != nil {
		o.TxSignature = txSignature
	}
	o.UpdatedAt = at
	return true, nil
}

func (f *fakeStore) matching(pred func(*Order) bool, q ListQuery) ([]Order, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []Order
	for _, o := range f.orders {
		if !pred(o) {
			continue
		}
		if q.Status != nil && o.Status != *q.Status {
			continue
		}
		if q.TimeslotID != nil && o.TimeslotID != *q.TimeslotID {
			continue
		}
		if q.MinPrice != nil && o.Price < *q.MinPrice {
			continue
		}
		if q.MaxPrice != nil && o.Price > *q.MaxPrice {
			continue
		}
		all = append(all, *o)
	}
	total := int64(len(all))
	start := q.Offset()
	if start >= len(all) {
		return []Order{}, total
	}
	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total
}

func (f *fakeStore) ListByUser(_ context.Context, userID uuid.UUID, side Side, q ListQuery) ([]Order, int64, error) {
	list, total := f.matching(func(o *Order) bool {
		return o.UserID == userID && o.Side == side
	}, q)
	return list, total, nil
}

func (f *fakeStore) ListByTimeslot(_ context.Context, timeslotID uuid.UUID, side Side, q ListQuery) ([]Order, int64, error) {
	list, total := f.matching(func(o *Order) bool {
		return o.TimeslotID == timeslotID && o.Side == side
	}, q)
	return list, total, nil
}

func (f *fakeStore) StatsByTimeslot(_ context.Context, timeslotID uuid.UUID) (*TimeslotStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &TimeslotStats{TimeslotID: timeslotID, CountByStatus: make(map[Status]int64)}
	for _, o := range f.orders {
		if o.TimeslotID != timeslotID {
			continue
		}
		stats.CountByStatus[o.Status]++
		if o.Status == StatusConfirmed || o.Status == StatusMatched {
			if o.Side == SideBid {
				stats.BidQuantity += o.Quantity
			} else {
				stats.SupplyQuantity += o.Quantity
			}
		}
	}
	return stats, nil
}

func (f *fakeStore) FindTimeslotRef(_ context.Context, id uuid.UUID) (*TimeslotRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.timeslots[id]
	if !ok {
		return nil, nil
	}
	cp := *ref
	return &cp, nil
}

// fakeEscrow derives predictable escrow references.
type fakeEscrow struct{}

func (fakeEscrow) CurrentEpoch(now time.Time) uint64 {
	return uint64(now.Unix()) / 3600
}

func (fakeEscrow) EscrowReference(walletAddress string, epoch uint64) string {
	return fmt.Sprintf("escrow-%s-%d", walletAddress, epoch)
}

func newTestService(store Store) *Service {
	return NewService(store, fakeEscrow{}, zerolog.Nop())
}

func participantSession() *auth.Session {
	return &auth.Session{
		UserID:        uuid.New(),
		WalletAddress: "wallet-" + uuid.NewString()[:8],
		Role:          auth.RoleParticipant,
	}
}

func operatorSession() *auth.Session {
	s := participantSession()
	s.Role = auth.RoleOperator
	return s
}

// openTimeslot registers an OPEN timeslot ending an hour from now and returns
// its id.
func openTimeslot(store *fakeStore) uuid.UUID {
	id := uuid.New()
	store.timeslots[id] = &TimeslotRef{
		ID:      id,
		Status:  timeslotOpen,
		EndTime: time.Now().Add(time.Hour),
	}
	return id
}

func placeOrder(t *testing.T, svc *Service, session *auth.Session, side Side, timeslotID uuid.UUID) *Order {
	t.Helper()
	order, err := svc.Place(context.Background(), session, side, &PlaceOrderRequest{
		TimeslotID: timeslotID,
		Price:      50,
		Quantity:   100,
	})
	require.NoError(t, err)
	return order
}

func TestPlaceCreatesPendingOrderWithEscrow(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := participantSession()
	timeslotID := openTimeslot(store)

	order := placeOrder(t, svc, session, SideBid, timeslotID)

	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, SideBid, order.Side)
	assert.Equal(t, session.UserID, order.UserID)
	require.NotNil(t, order.EscrowAccount)
	assert.Contains(t, *order.EscrowAccount, session.WalletAddress)

	stored, err := store.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestPlaceRejectsInvalidInput(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := participantSession()
	timeslotID := openTimeslot(store)

	cases := []struct {
		name string
		req  PlaceOrderRequest
	}{
		{"zero price", PlaceOrderRequest{TimeslotID: timeslotID, Price: 0, Quantity: 10}},
		{"negative price", PlaceOrderRequest{TimeslotID: timeslotID, Price: -5, Quantity: 10}},
		{"zero quantity", PlaceOrderRequest{TimeslotID: timeslotID, Price: 10, Quantity: 0}},
		{"missing timeslot id", PlaceOrderRequest{Price: 10, Quantity: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Place(context.Background(), session, SideBid, &tc.req)
			assert.True(t, apperror.IsValidationError(err), "expected validation error, got %v", err)
		})
	}

	_, err := svc.Place(context.Background(), session, Side("short"), &PlaceOrderRequest{
		TimeslotID: timeslotID, Price: 10, Quantity: 10,
	})
	assert.True(t, apperror.IsValidationError(err))
}

func TestPlaceRejectsClosedOrEndedTimeslot(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := participantSession()

	_, err := svc.Place(context.Background(), session, SideSupply, &PlaceOrderRequest{
		TimeslotID: uuid.New(), Price: 10, Quantity: 10,
	})
	assert.True(t, apperror.IsNotFound(err), "unknown timeslot: %v", err)

	sealed := uuid.New()
	store.timeslots[sealed] = &TimeslotRef{ID: sealed, Status: "SEALED", EndTime: time.Now().Add(time.Hour)}
	_, err = svc.Place(context.Background(), session, SideSupply, &PlaceOrderRequest{
		TimeslotID: sealed, Price: 10, Quantity: 10,
	})
	assert.True(t, apperror.IsStateConflict(err), "sealed timeslot: %v", err)

	ended := uuid.New()
	store.timeslots[ended] = &TimeslotRef{ID: ended, Status: timeslotOpen, EndTime: time.Now().Add(-time.Minute)}
	_, err = svc.Place(context.Background(), session, SideSupply, &PlaceOrderRequest{
		TimeslotID: ended, Price: 10, Quantity: 10,
	})
	assert.True(t, apperror.IsStateConflict(err), "ended timeslot: %v", err)
}

func TestCancelOwnPendingOrder(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := participantSession()
	order := placeOrder(t, svc, session, SideBid, openTimeslot(store))

	cancelled, err := svc.Cancel(context.Background(), session, SideBid, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// A second cancel hits a terminal order and must report the conflict, not
	// silently succeed.
	_, err = svc.Cancel(context.Background(), session, SideBid, order.ID)
	assert.True(t, apperror.IsStateConflict(err), "got %v", err)
}

func TestCancelEnforcesOwnership(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	owner := participantSession()
	order := placeOrder(t, svc, owner, SideBid, openTimeslot(store))

	_, err := svc.Cancel(context.Background(), participantSession(), SideBid, order.ID)
	assert.True(t, apperror.IsUnauthorizedError(err), "got %v", err)

	// Not even an operator may cancel on a participant's behalf; they pull
	// liquidity by cancelling the timeslot instead.
	_, err = svc.Cancel(context.Background(), operatorSession(), SideBid, order.ID)
	assert.True(t, apperror.IsUnauthorizedError(err), "got %v", err)

	cancelled, err := svc.Cancel(context.Background(), owner, SideBid, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestGetByIDHidesOtherSide(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := participantSession()
	order := placeOrder(t, svc, session, SideBid, openTimeslot(store))

	// Probing a bid through the supplies endpoint looks identical to a
	// missing order.
	_, err := svc.GetByID(context.Background(), session, SideSupply, order.ID)
	assert.True(t, apperror.IsNotFound(err), "got %v", err)

	got, err := svc.GetByID(context.Background(), session, SideBid, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	operator := operatorSession()
	order := placeOrder(t, svc, participantSession(), SideSupply, openTimeslot(store))

	// PENDING cannot jump straight to MATCHED.
	_, err := svc.UpdateStatus(context.Background(), operator, SideSupply, order.ID,
		&UpdateStatusRequest{Status: string(StatusMatched)})
	assert.True(t, apperror.IsStateConflict(err), "got %v", err)

	sig := "5VERYrealSIGNATURE"
	confirmed, err := svc.UpdateStatus(context.Background(), operator, SideSupply, order.ID,
		&UpdateStatusRequest{Status: string(StatusConfirmed), TxSignature: &sig})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.TxSignature)
	assert.Equal(t, sig, *confirmed.TxSignature)

	matched, err := svc.UpdateStatus(context.Background(), operator, SideSupply, order.ID,
		&UpdateStatusRequest{Status: string(StatusMatched)})
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, matched.Status)

	// MATCHED is terminal.
	_, err = svc.UpdateStatus(context.Background(), operator, SideSupply, order.ID,
		&UpdateStatusRequest{Status: string(StatusExpired)})
	assert.True(t, apperror.IsStateConflict(err), "got %v", err)

	_, err = svc.UpdateStatus(context.Background(), operator, SideSupply, order.ID,
		&UpdateStatusRequest{Status: "LIMBO"})
	assert.True(t, apperror.IsValidationError(err), "got %v", err)
}

func TestTransitionDetectsConcurrentChange(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := participantSession()
	order := placeOrder(t, svc, session, SideBid, openTimeslot(store))

	// Another writer moves the order between our read and our update.
	applied, err := store.UpdateStatusIf(context.Background(), order.ID, StatusPending, StatusConfirmed, nil, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	_, err = svc.Cancel(context.Background(), session, SideBid, order.ID)
	assert.True(t, apperror.IsStateConflict(err), "got %v", err)

	// The order keeps the concurrent writer's state.
	current, err := store.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, current.Status)
}

func TestListUserOrdersScopesToOwnerAndSide(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	timeslotID := openTimeslot(store)

	me := participantSession()
	other := participantSession()
	mine := placeOrder(t, svc, me, SideBid, timeslotID)
	placeOrder(t, svc, me, SideSupply, timeslotID)
	placeOrder(t, svc, other, SideBid, timeslotID)

	page, err := svc.ListUserOrders(context.Background(), me, SideBid, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, mine.ID, page.Orders[0].ID)
	assert.Equal(t, defaultPageLimit, page.Limit)
}

func TestListClampsLimit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := participantSession()
	timeslotID := openTimeslot(store)
	placeOrder(t, svc, session, SideBid, timeslotID)

	page, err := svc.ListUserOrders(context.Background(), session, SideBid, ListQuery{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, maxPageLimit, page.Limit)

	page, err = svc.ListTimeslotOrders(context.Background(), timeslotID, SideBid, ListQuery{Page: -3, Limit: 101})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxPageLimit, page.Limit)
	assert.Equal(t, int64(1), page.Total)
}

func TestTimeslotStatisticsRequiresExistingTimeslot(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	_, err := svc.TimeslotStatistics(context.Background(), uuid.New())
	assert.True(t, apperror.IsNotFound(err), "got %v", err)
}

func TestTimeslotStatisticsAggregatesConfirmedVolume(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	operator := operatorSession()
	timeslotID := openTimeslot(store)

	bid := placeOrder(t, svc, participantSession(), SideBid, timeslotID)
	supply := placeOrder(t, svc, participantSession(), SideSupply, timeslotID)
	placeOrder(t, svc, participantSession(), SideBid, timeslotID) // stays PENDING

	for _, o := range []*Order{bid, supply} {
		_, err := svc.UpdateStatus(context.Background(), operator, o.Side, o.ID,
			&UpdateStatusRequest{Status: string(StatusConfirmed)})
		require.NoError(t, err)
	}

	stats, err := svc.TimeslotStatistics(context.Background(), timeslotID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.CountByStatus[StatusConfirmed])
	assert.Equal(t, int64(1), stats.CountByStatus[StatusPending])
	assert.Equal(t, float64(100), stats.BidQuantity)
	assert.Equal(t, float64(100), stats.SupplyQuantity)
}
