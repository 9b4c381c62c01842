package timeslots

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/voltmarket-go/apperror"
)

// Service carries the timeslot lifecycle rules. Mutations are operator-only;
// that is enforced at the routing layer, so the service assumes an authorized
// caller and concentrates on state-machine legality.
type Service struct {
	store Store
	log   zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates the timeslot service.
func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "timeslots").Logger(),
		now:   time.Now,
	}
}

// Create opens a new timeslot. It starts OPEN and accepts orders until it is
// sealed, cancelled, or runs past its end time.
func (s *Service) Create(ctx context.Context, req *CreateTimeslotRequest) (*Timeslot, error) {
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return nil, apperror.NewValidationError("startTime and endTime are required", nil)
	}
	if !req.StartTime.Before(req.EndTime) {
		return nil, apperror.NewValidationError("startTime must be before endTime", nil)
	}
	if req.Capacity <= 0 {
		return nil, apperror.NewValidationError("capacity must be positive", nil)
	}

	now := s.now().UTC()
	t := &Timeslot{
		ID:        uuid.New(),
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		Capacity:  req.Capacity,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("timeslot_id", t.ID.String()).
		Time("start", t.StartTime).
		Time("end", t.EndTime).
		Msg("Timeslot created")
	return t, nil
}

// Get returns a single timeslot.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Timeslot, error) {
	t, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperror.NewNotFoundError(fmt.Sprintf("timeslot %s not found", id), nil)
	}
	return t, nil
}

// List returns a page of timeslots, optionally filtered by status.
func (s *Service) List(ctx context.Context, q ListQuery) (*TimeslotPage, error) {
	q.Normalize()
	list, total, err := s.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return &TimeslotPage{Timeslots: list, Page: q.Page, Limit: q.Limit, Total: total}, nil
}

// Seal closes an OPEN timeslot to new orders.
func (s *Service) Seal(ctx context.Context, id uuid.UUID) (*Timeslot, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransition(t, StatusSealed); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	applied, err := s.store.UpdateStatusIf(ctx, id, t.Status, StatusSealed, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, concurrentChange(id)
	}

	t.Status = StatusSealed
	t.UpdatedAt = now
	s.log.Info().Str("timeslot_id", id.String()).Msg("Timeslot sealed")
	return t, nil
}

// Settle fixes the clearing price on a SEALED timeslot and moves it to
// SETTLED. The update runs transactionally in the store so the price and the
// status always land together.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, req *SettleRequest) (*Timeslot, error) {
	if req.ClearingPrice <= 0 {
		return nil, apperror.NewValidationError("clearingPrice must be positive", nil)
	}

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransition(t, StatusSettled); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	applied, err := s.store.Settle(ctx, id, req.ClearingPrice, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, concurrentChange(id)
	}

	t.Status = StatusSettled
	t.ClearingPrice = &req.ClearingPrice
	t.UpdatedAt = now
	s.log.Info().
		Str("timeslot_id", id.String()).
		Float64("clearing_price", req.ClearingPrice).
		Msg("Timeslot settled")
	return t, nil
}

// Cancel withdraws an OPEN or SEALED timeslot. Its PENDING orders are expired
// in the same transaction; CONFIRMED orders are left for settlement handling.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*CancelResult, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransition(t, StatusCancelled); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	applied, expired, err := s.store.CancelWithCascade(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, concurrentChange(id)
	}

	t.Status = StatusCancelled
	t.UpdatedAt = now
	s.log.Info().
		Str("timeslot_id", id.String()).
		Int64("expired_orders", expired).
		Msg("Timeslot cancelled")
	return &CancelResult{Timeslot: t, ExpiredOrders: expired}, nil
}

func (s *Service) checkTransition(t *Timeslot, target Status) error {
	if t.Status.Terminal() {
		return apperror.NewStateConflictError(
			fmt.Sprintf("timeslot %s is %s and cannot change", t.ID, t.Status), nil)
	}
	if !CanTransition(t.Status, target) {
		return apperror.NewStateConflictError(
			fmt.Sprintf("timeslot %s cannot go from %s to %s", t.ID, t.Status, target), nil)
	}
	return nil
}

func concurrentChange(id uuid.UUID) error {
	return apperror.NewStateConflictError(
		fmt.Sprintf("timeslot %s changed concurrently, retry with fresh state", id), nil)
}
