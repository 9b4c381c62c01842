package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/auth"
)

// EscrowDeriver is the slice of the chain client the order module needs:
// mapping a wallet and point in time to the escrow account that should hold
// the order's funds.
type EscrowDeriver interface {
	CurrentEpoch(now time.Time) uint64
	EscrowReference(walletAddress string, epoch uint64) string
}

// Service carries the order lifecycle rules. All timeslot gating, ownership
// checks and status-machine decisions happen here; the store below executes
// them and the handlers above translate them to HTTP.
type Service struct {
	store  Store
	escrow EscrowDeriver
	log    zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates the order service.
func NewService(store Store, escrow EscrowDeriver, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		escrow: escrow,
		log:    log.With().Str("component", "orders").Logger(),
		now:    time.Now,
	}
}

// Place creates a new PENDING order of the given side against an open timeslot.
func (s *Service) Place(ctx context.Context, session *auth.Session, side Side, req *PlaceOrderRequest) (*Order, error) {
	if !side.Valid() {
		return nil, apperror.NewValidationError(fmt.Sprintf("unknown order side %q", side), nil)
	}
	if req.TimeslotID == uuid.Nil {
		return nil, apperror.NewValidationError("timeslot_id is required", nil)
	}
	if req.Price <= 0 {
		return nil, apperror.NewValidationError("price must be positive", nil)
	}
	if req.Quantity <= 0 {
		return nil, apperror.NewValidationError("quantity must be positive", nil)
	}

	now := s.now().UTC()

	// Orders attach to open, still-running timeslots only.
	ref, err := s.store.FindTimeslotRef(ctx, req.TimeslotID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, apperror.NewNotFoundError(fmt.Sprintf("timeslot %s not found", req.TimeslotID), nil)
	}
	if ref.Status != timeslotOpen {
		return nil, apperror.NewStateConflictError(
			fmt.Sprintf("timeslot %s is %s, not accepting orders", ref.ID, ref.Status), nil)
	}
	if !now.Before(ref.EndTime) {
		return nil, apperror.NewStateConflictError(
			fmt.Sprintf("timeslot %s has ended", ref.ID), nil)
	}

	escrow := s.escrow.EscrowReference(session.WalletAddress, s.escrow.CurrentEpoch(now))
	order := &Order{
		ID:            uuid.New(),
		Side:          side,
		UserID:        session.UserID,
		TimeslotID:    req.TimeslotID,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        StatusPending,
		EscrowAccount: &escrow,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(ctx, order); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("side", string(side)).
		Str("timeslot_id", req.TimeslotID.String()).
		Msg("Order placed")
	return order, nil
}

// GetByID returns a single order. Only the owner or an operator may read it.
func (s *Service) GetByID(ctx context.Context, session *auth.Session, side Side, id uuid.UUID) (*Order, error) {
	order, err := s.loadOwned(ctx, session, side, id, true)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel moves the caller's own PENDING order to CANCELLED. Strictly
// owner-only: operators withdraw liquidity by cancelling the timeslot, not by
// cancelling individual participants' orders.
func (s *Service) Cancel(ctx context.Context, session *auth.Session, side Side, id uuid.UUID) (*Order, error) {
	order, err := s.loadOwned(ctx, session, side, id, false)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order, StatusCancelled, nil)
}

// UpdateStatus applies a caller-requested status transition to the caller's
// own order. An optional tx signature may accompany the transition (for
// CONFIRMED and MATCHED, where an on-chain event drives the change).
func (s *Service) UpdateStatus(ctx context.Context, session *auth.Session, side Side, id uuid.UUID, req *UpdateStatusRequest) (*Order, error) {
	target, ok := ParseStatus(req.Status)
	if !ok {
		return nil, apperror.NewValidationError(fmt.Sprintf("unknown order status %q", req.Status), nil)
	}

	order, err := s.loadOwned(ctx, session, side, id, true)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order, target, req.TxSignature)
}

// ListUserOrders returns the session user's orders of the given side.
func (s *Service) ListUserOrders(ctx context.Context, session *auth.Session, side Side, q ListQuery) (*OrderPage, error) {
	if !side.Valid() {
		return nil, apperror.NewValidationError(fmt.Sprintf("unknown order side %q", side), nil)
	}
	q.Normalize()
	list, total, err := s.store.ListByUser(ctx, session.UserID, side, q)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: list, Page: q.Page, Limit: q.Limit, Total: total}, nil
}

// ListTimeslotOrders returns a timeslot's orders of the given side. This is
// the public order-book view, so no session is required.
func (s *Service) ListTimeslotOrders(ctx context.Context, timeslotID uuid.UUID, side Side, q ListQuery) (*OrderPage, error) {
	if !side.Valid() {
		return nil, apperror.NewValidationError(fmt.Sprintf("unknown order side %q", side), nil)
	}
	q.Normalize()
	list, total, err := s.store.ListByTimeslot(ctx, timeslotID, side, q)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: list, Page: q.Page, Limit: q.Limit, Total: total}, nil
}

// TimeslotStatistics aggregates a timeslot's order book. Quantity and price
// aggregates only count CONFIRMED and MATCHED orders; the per-status counts
// cover everything.
func (s *Service) TimeslotStatistics(ctx context.Context, timeslotID uuid.UUID) (*TimeslotStats, error) {
	ref, err := s.store.FindTimeslotRef(ctx, timeslotID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, apperror.NewNotFoundError(fmt.Sprintf("timeslot %s not found", timeslotID), nil)
	}
	return s.store.StatsByTimeslot(ctx, timeslotID)
}

// loadOwned fetches an order of the expected side and enforces access: the
// owner passes, an operator passes only where the caller opted in, everyone
// else gets an authorization error. The not-found answer is the same for a
// missing order and a side mismatch, so the endpoint for one side cannot be
// used to probe the other.
func (s *Service) loadOwned(ctx context.Context, session *auth.Session, side Side, id uuid.UUID, allowOperator bool) (*Order, error) {
	if !side.Valid() {
		return nil, apperror.NewValidationError(fmt.Sprintf("unknown order side %q", side), nil)
	}
	order, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil || order.Side != side {
		return nil, apperror.NewNotFoundError(fmt.Sprintf("order %s not found", id), nil)
	}
	if order.UserID != session.UserID && !(allowOperator && session.IsOperator()) {
		return nil, apperror.NewUnauthorizedError("order belongs to another user", nil)
	}
	return order, nil
}

// transition validates and applies a status change on a loaded order.
func (s *Service) transition(ctx context.Context, order *Order, target Status, txSignature *string) (*Order, error) {
	if order.Status.Terminal() {
		return nil, apperror.NewStateConflictError(
			fmt.Sprintf("order %s is %s and cannot change", order.ID, order.Status), nil)
	}
	if !CanTransition(order.Status, target) {
		return nil, apperror.NewStateConflictError(
			fmt.Sprintf("order %s cannot go from %s to %s", order.ID, order.Status, target), nil)
	}

	now := s.now().UTC()
	applied, err := s.store.UpdateStatusIf(ctx, order.ID, order.Status, target, txSignature, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent writer moved the order first. Report the conflict
		// rather than silently returning stale state.
		return nil, apperror.NewStateConflictError(
			fmt.Sprintf("order %s changed concurrently, retry with fresh state", order.ID), nil)
	}

	order.Status = target
	if txSignature != nil {
		order.TxSignature = txSignature
	}
	order.UpdatedAt = now

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("status", string(target)).
		Msg("Order status updated")
	return order, nil
}
