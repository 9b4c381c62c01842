// Package timeslots implements the auction windows orders attach to. A
// timeslot moves through its own small state machine, and some of its moves
// ripple into the order book (cancelling a window expires its pending
// orders), which is why the write paths here run inside transactions.
package timeslots

import (
	"time"

	"github.com/google/uuid"
)

// Status is a timeslot's position in its lifecycle.
//
//	OPEN → SEALED → SETTLED
//	OPEN | SEALED → CANCELLED
//
// SETTLED and CANCELLED are terminal.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusSealed    Status = "SEALED"
	StatusSettled   Status = "SETTLED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus maps a raw string onto a known Status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusOpen, StatusSealed, StatusSettled, StatusCancelled:
		return Status(raw), true
	default:
		return "", false
	}
}

var transitions = map[Status][]Status{
	StatusOpen:   {StatusSealed, StatusCancelled},
	StatusSealed: {StatusSettled, StatusCancelled},
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

// Timeslot is one auction window. Orders reference it by id; its capacity is
// the total quantity the window can clear, and the clearing price is set once
// at settlement.
type Timeslot struct {
	ID            uuid.UUID `json:"id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Capacity      float64   `json:"capacity"`
	Status        Status    `json:"status"`
	ClearingPrice *float64  `json:"clearing_price,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
