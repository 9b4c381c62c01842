// This file, `dto.go`, defines the request and response shapes of the
// timeslot endpoints.
package timeslots

import (
	"net/http"
	"strconv"
	"time"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// CreateTimeslotRequest is the operator payload for opening a new window.
type CreateTimeslotRequest struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Capacity  float64   `json:"capacity" example:"1000"`
}

// SettleRequest carries the clearing price fixed at settlement.
type SettleRequest struct {
	ClearingPrice float64 `json:"clearingPrice" example:"42.5"`
}

// ListQuery carries pagination and the optional status filter of the listing
// endpoint.
type ListQuery struct {
	Page   int
	Limit  int
	Status *Status
}

// Normalize clamps the query into its documented bounds.
func (q *ListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
}

// Offset converts page/limit into a row offset.
func (q *ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ParseListQuery reads pagination and filters from a request's query string.
// Unparseable values fall back to the normalized defaults.
func ParseListQuery(r *http.Request) ListQuery {
	var q ListQuery
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		q.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		q.Limit = v
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status, ok := ParseStatus(raw); ok {
			q.Status = &status
		}
	}
	q.Normalize()
	return q
}

// TimeslotPage is a paginated slice of timeslots.
type TimeslotPage struct {
	Timeslots []Timeslot `json:"timeslots"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
	Total     int64      `json:"total"`
}

// CancelResult reports a cancellation together with its cascade: how many
// pending orders the cancel expired.
type CancelResult struct {
	Timeslot      *Timeslot `json:"timeslot"`
	ExpiredOrders int64     `json:"expired_orders"`
}
