// Package orders implements the order lifecycle.
// This file, `dto.go`, defines the request/response shapes of the order
// endpoints plus the shared pagination query. These mirror what DTOs with
// validation decorators would be in Nest.js; validation here is explicit in
// the service.
package orders

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// Pagination bounds. Whatever a caller asks for, the effective limit never
// exceeds maxPageLimit.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// sortColumns is the allow-list of sortable fields, mapping the API name to
// the SQL column. Sorting by anything else falls back to creation time, so a
// hostile sort parameter can never reach the query text.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"price":      "price",
	"quantity":   "quantity",
}

// PlaceOrderRequest is the payload for placing a bid or supply.
type PlaceOrderRequest struct {
	TimeslotID uuid.UUID `json:"timeslotId"`
	Price      float64   `json:"price" example:"50.5"`
	Quantity   float64   `json:"quantity" example:"100"`
}

// UpdateStatusRequest is the operator/internal payload reflecting an on-chain
// state change.
type UpdateStatusRequest struct {
	Status      string  `json:"status" example:"CONFIRMED"`
	TxSignature *string `json:"txSignature,omitempty"`
}

// ListQuery carries pagination, sorting and the optional filters of the
// listing endpoints.
type ListQuery struct {
	Page    int
	Limit   int
	SortBy  string
	SortDir string

	Status     *Status
	TimeslotID *uuid.UUID
	MinPrice   *float64
	MaxPrice   *float64
}

// Normalize clamps the query into its documented bounds: page ≥ 1, limit in
// [1, maxPageLimit], sort restricted to the allow-list, direction to asc/desc.
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
	if _, ok := sortColumns[q.SortBy]; !ok {
		q.SortBy = "created_at"
	}
	if q.SortDir != "asc" {
		q.SortDir = "desc"
	}
}

// Offset converts page/limit into a row offset.
func (q *ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ParseListQuery reads the pagination/filter parameters from a request's
// query string. Unparseable values are ignored rather than rejected; the
// normalized defaults take over.
func ParseListQuery(r *http.Request) ListQuery {
	q := ListQuery{
		SortBy:  r.URL.Query().Get("sortBy"),
		SortDir: r.URL.Query().Get("sortDir"),
	}
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
	if raw := r.URL.Query().Get("timeslotId"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			q.TimeslotID = &id
		}
	}
	if v, err := strconv.ParseFloat(r.URL.Query().Get("minPrice"), 64); err == nil {
		q.MinPrice = &v
	}
	if v, err := strconv.ParseFloat(r.URL.Query().Get("maxPrice"), 64); err == nil {
		q.MaxPrice = &v
	}
	q.Normalize()
	return q
}

// OrderPage is a paginated slice of orders.
type OrderPage struct {
	Orders []Order `json:"orders"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int64   `json:"total"`
}

// TimeslotStats is the aggregate view of one timeslot's order book. Counts
// cover every status; the volume and price figures aggregate only CONFIRMED
// and MATCHED orders so unconfirmed spam cannot skew the public picture.
type TimeslotStats struct {
	TimeslotID     uuid.UUID        `json:"timeslot_id"`
	CountByStatus  map[Status]int64 `json:"count_by_status"`
	BidQuantity    float64          `json:"bid_quantity"`
	SupplyQuantity float64          `json:"supply_quantity"`
	MinPrice       *float64         `json:"min_price,omitempty"`
	MaxPrice       *float64         `json:"max_price,omitempty"`
	AvgPrice       *float64         `json:"avg_price,omitempty"`
}
