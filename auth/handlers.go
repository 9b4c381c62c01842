// Package auth implements wallet-based authentication.
// This file, `handlers.go`, is the HTTP surface of the module — the
// "Controller" layer in MVC terms, analogous to an AuthController in Nest.js.
// Handlers decode and validate DTOs, call the service, and translate its typed
// errors into responses through the shared WriteError helper.
package auth

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/user/voltmarket-go/apperror"
)

// Handlers wraps the auth Service to provide HTTP handlers.
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleInitAuth godoc
// @Summary Initialize wallet authentication
// @Description Phase one of the challenge/response protocol: issues a single-use nonce and the message to sign.
// @Tags Auth
// @Accept json
// @Produce json
// @Param initBody body auth.InitAuthRequest true "Wallet address to authenticate"
// @Success 200 {object} auth.InitAuthResponse "Challenge issued"
// @Failure 400 {object} apperror.ErrorResponse "Malformed wallet address"
// @Failure 500 {object} apperror.ErrorResponse "Internal Server Error"
// @Router /auth/init [post]
func (h *Handlers) HandleInitAuth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitAuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r, apperror.NewBadRequestError("invalid request body: "+err.Error(), nil))
			return
		}
		defer r.Body.Close()

		if req.WalletAddress == "" {
			WriteError(w, r, apperror.NewValidationError("walletAddress is required", nil))
			return
		}

		resp, err := h.service.InitializeAuth(r.Context(), req.WalletAddress)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleVerifyAuth godoc
// @Summary Verify a signed authentication challenge
// @Description Phase two: verifies the signature over the issued message, consumes the nonce, and returns a session token.
// @Tags Auth
// @Accept json
// @Produce json
// @Param verifyBody body auth.VerifyAuthRequest true "Wallet address, signature and signed message"
// @Success 200 {object} auth.VerifyAuthResponse "Session token issued"
// @Failure 400 {object} apperror.ErrorResponse "Missing or malformed fields"
// @Failure 401 {object} apperror.ErrorResponse "Invalid or expired nonce, or signature failure"
// @Failure 500 {object} apperror.ErrorResponse "Internal Server Error"
// @Router /auth/verify [post]
func (h *Handlers) HandleVerifyAuth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyAuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r, apperror.NewBadRequestError("invalid request body: "+err.Error(), nil))
			return
		}
		defer r.Body.Close()

		resp, err := h.service.VerifyAndAuthenticate(r.Context(), req)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleMe godoc
// @Summary Current user profile
// @Description Returns the public view of the authenticated user.
// @Tags Users
// @Produce json
// @Success 200 {object} auth.UserView "Authenticated user"
// @Failure 401 {object} apperror.ErrorResponse "No valid session"
// @Security BearerAuth
// @Router /users/me [get]
func (h *Handlers) HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		if !ok {
			WriteError(w, r, apperror.NewAuthError("authentication required", nil))
			return
		}

		view, err := h.service.Profile(r.Context(), session)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		WriteJSON(w, http.StatusOK, view)
	}
}

// Helper functions for writing responses. These are exported because every
// feature package's handlers (orders, timeslots) use the same response shape.

// WriteJSON serializes `data` to JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		}
	}
}

// WriteError converts any error into the standardized apperror response. An
// error that is not an *AppError is treated as an unexpected internal failure:
// the caller sees a generic message, the operator log gets the detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.FromError(err)
	if !ok {
		appErr = apperror.NewInternalError("an unexpected error occurred", err)
	}

	if appErr.StatusCode() >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}

	WriteJSON(w, appErr.StatusCode(), appErr.ToResponse())
}
