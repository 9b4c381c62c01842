// Package orders implements the order lifecycle: placement, cancellation, and
// the status transitions driven by on-chain confirmation events. Bids (buy
// side) and supplies (sell side) share the same shape and the same state
// machine; the side is just an attribute, so one service handles both and the
// HTTP layer mounts it twice.
package orders

import (
	"time"

	"github.com/google/uuid"
)

// Side distinguishes buy orders (bids) from sell orders (supplies).
type Side string

const (
	SideBid    Side = "bid"
	SideSupply Side = "supply"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBid || s == SideSupply
}

// Status is an order's position in its lifecycle.
//
//	PENDING → CONFIRMED → MATCHED
//	PENDING → CANCELLED
//	PENDING | CONFIRMED → EXPIRED
//
// CANCELLED, MATCHED and EXPIRED are terminal: orders are never deleted, only
// parked in a terminal status, to preserve an auditable history.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusMatched   Status = "MATCHED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// ParseStatus maps a raw string onto a known Status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusConfirmed, StatusMatched, StatusCancelled, StatusExpired:
		return Status(raw), true
	default:
		return "", false
	}
}

// transitions is the entire legal state machine. Anything not listed here is
// an illegal move, including every transition out of a terminal state.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusConfirmed: {StatusMatched, StatusExpired},
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Order is a time-boxed market order against a timeslot. Price and quantity
// are fixed at placement; only the status (and the on-chain bookkeeping that
// comes with it) changes afterwards.
type Order struct {
	ID         uuid.UUID `json:"id"`
	Side       Side      `json:"side"`
	UserID     uuid.UUID `json:"user_id"`
	TimeslotID uuid.UUID `json:"timeslot_id"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Status     Status    `json:"status"`
	// TxSignature is set once a blockchain-confirmation observer reports the
	// on-chain transaction carrying this order.
	TxSignature *string `json:"tx_signature,omitempty"`
	// EscrowAccount is the deterministically derived ledger account holding
	// this order's collateral; treated as an opaque lookup key here.
	EscrowAccount *string   `json:"escrow_account,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TimeslotRef is the slice of a timeslot the order service needs for
// placement checks: whether it exists, whether it is open, and when it ends.
// The full timeslot model lives in the timeslots package; orders only ever
// reads this projection through its own store.
type TimeslotRef struct {
	ID      uuid.UUID
	Status  string
	EndTime time.Time
}

// timeslotOpen is the only timeslot status that accepts new orders.
const timeslotOpen = "OPEN"
