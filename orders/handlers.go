// This file, `handlers.go`, is the HTTP surface of the order module. One
// Handlers instance serves one side of the book: main.go constructs it twice
// and mounts the same routes under /bids and /supplies, so the two sides stay
// symmetric by construction.
package orders

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/auth"
)

// Handlers wraps the order Service for one side of the book.
type Handlers struct {
	service *Service
	side    Side
}

// NewHandlers creates Handlers serving the given side.
func NewHandlers(service *Service, side Side) *Handlers {
	return &Handlers{service: service, side: side}
}

// RegisterRoutes mounts the side's routes on the given sub-router. Everything
// here needs a session; status updates additionally need the operator role.
func (h *Handlers) RegisterRoutes(router chi.Router, authService *auth.Service) {
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(authService))
		r.Post("/", h.HandlePlace())
		r.Get("/mine", h.HandleListMine())
		r.Get("/{id}", h.HandleGet())
		r.Post("/{id}/cancel", h.HandleCancel())

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireOperator())
			r.Patch("/{id}/status", h.HandleUpdateStatus())
		})
	})
}

// HandlePlace godoc
// @Summary Place an order
// @Description Creates a PENDING order against an open timeslot.
// @Tags Orders
// @Accept json
// @Produce json
// @Param orderBody body orders.PlaceOrderRequest true "Timeslot, price and quantity"
// @Success 201 {object} orders.Order "Order created"
// @Failure 400 {object} apperror.ErrorResponse "Invalid price, quantity or timeslot id"
// @Failure 404 {object} apperror.ErrorResponse "Timeslot not found"
// @Failure 409 {object} apperror.ErrorResponse "Timeslot closed or past its end"
// @Security BearerAuth
// @Router /api/v1/bids [post]
func (h *Handlers) HandlePlace() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			auth.WriteError(w, r, apperror.NewAuthError("authentication required", nil))
			return
		}

		var req PlaceOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, r, apperror.NewBadRequestError("invalid request body: "+err.Error(), nil))
			return
		}
		defer r.Body.Close()

		order, err := h.service.Place(r.Context(), session, h.side, &req)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusCreated, order)
	}
}

// HandleGet godoc
// @Summary Get an order
// @Description Returns a single order. Restricted to the owner and operators.
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} orders.Order "The order"
// @Failure 403 {object} apperror.ErrorResponse "Order belongs to another user"
// @Failure 404 {object} apperror.ErrorResponse "Order not found"
// @Security BearerAuth
// @Router /api/v1/bids/{id} [get]
func (h *Handlers) HandleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			auth.WriteError(w, r, apperror.NewAuthError("authentication required", nil))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		order, err := h.service.GetByID(r.Context(), session, h.side, id)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, order)
	}
}

// HandleListMine godoc
// @Summary List my orders
// @Description Returns the session user's orders of this side, paginated and filterable by status, timeslot and price range.
// @Tags Orders
// @Produce json
// @Param page query int false "Page number (1-based)"
// @Param limit query int false "Page size, capped at 100"
// @Param status query string false "Status filter"
// @Param timeslot_id query string false "Timeslot filter"
// @Success 200 {object} orders.OrderPage "Page of orders"
// @Security BearerAuth
// @Router /api/v1/bids/mine [get]
func (h *Handlers) HandleListMine() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			auth.WriteError(w, r, apperror.NewAuthError("authentication required", nil))
			return
		}

		q := ParseListQuery(r)
		page, err := h.service.ListUserOrders(r.Context(), session, h.side, q)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, page)
	}
}

// HandleCancel godoc
// @Summary Cancel an order
// @Description Moves the caller's own PENDING order to CANCELLED.
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} orders.Order "Cancelled order"
// @Failure 403 {object} apperror.ErrorResponse "Order belongs to another user"
// @Failure 404 {object} apperror.ErrorResponse "Order not found"
// @Failure 409 {object} apperror.ErrorResponse "Order is not PENDING"
// @Security BearerAuth
// @Router /api/v1/bids/{id}/cancel [post]
func (h *Handlers) HandleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			auth.WriteError(w, r, apperror.NewAuthError("authentication required", nil))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		order, err := h.service.Cancel(r.Context(), session, h.side, id)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, order)
	}
}

// HandleUpdateStatus godoc
// @Summary Update an order's status
// @Description Applies a legal status transition, optionally recording the chain transaction signature. Operator only.
// @Tags Orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param statusBody body orders.UpdateStatusRequest true "Target status and optional tx signature"
// @Success 200 {object} orders.Order "Updated order"
// @Failure 400 {object} apperror.ErrorResponse "Unknown status"
// @Failure 404 {object} apperror.ErrorResponse "Order not found"
// @Failure 409 {object} apperror.ErrorResponse "Illegal transition or terminal order"
// @Security BearerAuth
// @Router /api/v1/bids/{id}/status [patch]
func (h *Handlers) HandleUpdateStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			auth.WriteError(w, r, apperror.NewAuthError("authentication required", nil))
			return
		}

		id, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, r, apperror.NewBadRequestError("invalid request body: "+err.Error(), nil))
			return
		}
		defer r.Body.Close()

		order, err := h.service.UpdateStatus(r.Context(), session, h.side, id, &req)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, order)
	}
}

// HandleListByTimeslot godoc
// @Summary List a timeslot's orders
// @Description Public order-book view of a timeslot for this side.
// @Tags Orders
// @Produce json
// @Param id path string true "Timeslot ID"
// @Success 200 {object} orders.OrderPage "Page of orders"
// @Router /api/v1/timeslots/{id}/bids [get]
func (h *Handlers) HandleListByTimeslot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timeslotID, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		q := ParseListQuery(r)
		page, err := h.service.ListTimeslotOrders(r.Context(), timeslotID, h.side, q)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, page)
	}
}

// HandleTimeslotStats godoc
// @Summary Timeslot order statistics
// @Description Per-status counts plus volume and price aggregates over confirmed and matched orders.
// @Tags Orders
// @Produce json
// @Param id path string true "Timeslot ID"
// @Success 200 {object} orders.TimeslotStats "Aggregated statistics"
// @Failure 404 {object} apperror.ErrorResponse "Timeslot not found"
// @Router /api/v1/timeslots/{id}/stats [get]
func (h *Handlers) HandleTimeslotStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timeslotID, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		stats, err := h.service.TimeslotStatistics(r.Context(), timeslotID)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, stats)
	}
}

// parseIDParam reads the `id` URL parameter as a UUID.
func parseIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.NewValidationError("invalid id: must be a UUID", nil)
	}
	return id, nil
}
