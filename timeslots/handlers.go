// This file, `handlers.go`, is the HTTP surface of the timeslot module.
// Reads are public; every mutation sits behind the operator role.
package timeslots

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/auth"
)

// Handlers wraps the timeslot Service to provide HTTP handlers.
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the timeslot routes. The `extra` hook lets main.go
// attach the order-book sub-routes (per-timeslot bids, supplies and stats)
// without this package importing orders.
func (h *Handlers) RegisterRoutes(router chi.Router, authService *auth.Service, extra func(chi.Router)) {
	router.Get("/", h.HandleList())
	router.Get("/{id}", h.HandleGet())
	if extra != nil {
		extra(router)
	}

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(authService))
		r.Use(auth.RequireOperator())
		r.Post("/", h.HandleCreate())
		r.Post("/{id}/seal", h.HandleSeal())
		r.Post("/{id}/settle", h.HandleSettle())
		r.Post("/{id}/cancel", h.HandleCancel())
	})
}

// HandleCreate godoc
// @Summary Create a timeslot
// @Description Opens a new auction window. Operator only.
// @Tags Timeslots
// @Accept json
// @Produce json
// @Param timeslotBody body timeslots.CreateTimeslotRequest true "Window bounds and capacity"
// @Success 201 {object} timeslots.Timeslot "Timeslot created"
// @Failure 400 {object} apperror.ErrorResponse "Invalid bounds or capacity"
// @Security BearerAuth
// @Router /api/v1/timeslots [post]
func (h *Handlers) HandleCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTimeslotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, r, apperror.NewBadRequestError("invalid request body: "+err.Error(), nil))
			return
		}
		defer r.Body.Close()

		t, err := h.service.Create(r.Context(), &req)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusCreated, t)
	}
}

// HandleGet godoc
// @Summary Get a timeslot
// @Tags Timeslots
// @Produce json
// @Param id path string true "Timeslot ID"
// @Success 200 {object} timeslots.Timeslot "The timeslot"
// @Failure 404 {object} apperror.ErrorResponse "Timeslot not found"
// @Router /api/v1/timeslots/{id} [get]
func (h *Handlers) HandleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		t, err := h.service.Get(r.Context(), id)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, t)
	}
}

// HandleList godoc
// @Summary List timeslots
// @Description Paginated listing, newest first, optionally filtered by status.
// @Tags Timeslots
// @Produce json
// @Param page query int false "Page number (1-based)"
// @Param limit query int false "Page size, capped at 100"
// @Param status query string false "Status filter"
// @Success 200 {object} timeslots.TimeslotPage "Page of timeslots"
// @Router /api/v1/timeslots [get]
func (h *Handlers) HandleList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := h.service.List(r.Context(), ParseListQuery(r))
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, page)
	}
}

// HandleSeal godoc
// @Summary Seal a timeslot
// @Description Closes an OPEN timeslot to new orders. Operator only.
// @Tags Timeslots
// @Produce json
// @Param id path string true "Timeslot ID"
// @Success 200 {object} timeslots.Timeslot "Sealed timeslot"
// @Failure 404 {object} apperror.ErrorResponse "Timeslot not found"
// @Failure 409 {object} apperror.ErrorResponse "Timeslot is not OPEN"
// @Security BearerAuth
// @Router /api/v1/timeslots/{id}/seal [post]
func (h *Handlers) HandleSeal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		t, err := h.service.Seal(r.Context(), id)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, t)
	}
}

// HandleSettle godoc
// @Summary Settle a timeslot
// @Description Fixes the clearing price on a SEALED timeslot. Operator only.
// @Tags Timeslots
// @Accept json
// @Produce json
// @Param id path string true "Timeslot ID"
// @Param settleBody body timeslots.SettleRequest true "Clearing price"
// @Success 200 {object} timeslots.Timeslot "Settled timeslot"
// @Failure 404 {object} apperror.ErrorResponse "Timeslot not found"
// @Failure 409 {object} apperror.ErrorResponse "Timeslot is not SEALED"
// @Security BearerAuth
// @Router /api/v1/timeslots/{id}/settle [post]
func (h *Handlers) HandleSettle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		var req SettleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, r, apperror.NewBadRequestError("invalid request body: "+err.Error(), nil))
			return
		}
		defer r.Body.Close()

		t, err := h.service.Settle(r.Context(), id, &req)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, t)
	}
}

// HandleCancel godoc
// @Summary Cancel a timeslot
// @Description Withdraws an OPEN or SEALED timeslot, expiring its pending orders. Operator only.
// @Tags Timeslots
// @Produce json
// @Param id path string true "Timeslot ID"
// @Success 200 {object} timeslots.CancelResult "Cancelled timeslot with cascade count"
// @Failure 404 {object} apperror.ErrorResponse "Timeslot not found"
// @Failure 409 {object} apperror.ErrorResponse "Timeslot already terminal"
// @Security BearerAuth
// @Router /api/v1/timeslots/{id}/cancel [post]
func (h *Handlers) HandleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		result, err := h.service.Cancel(r.Context(), id)
		if err != nil {
			auth.WriteError(w, r, err)
			return
		}

		auth.WriteJSON(w, http.StatusOK, result)
	}
}

func parseIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.NewValidationError("invalid id: must be a UUID", nil)
	}
	return id, nil
}
