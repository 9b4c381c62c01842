// Package auth implements wallet-based authentication.
// This file, `middleware.go`, defines the session middleware consuming issued
// credentials. Two call modes exist because downstream consumers need both:
// RequireAuth blocks requests without a valid credential, OptionalAuth treats
// absence or invalidity as anonymous. The verification logic itself is shared.
// In Nest.js terms these are guards; in Go they are standard
// `func(http.Handler) http.Handler` middleware.
package auth

import (
	"net/http"
	// `strings` for splitting the Authorization header.
	"strings"

	"github.com/user/voltmarket-go/apperror"
)

// bearerToken extracts the token from an `Authorization: Bearer {token}`
// header. The bool result reports whether a well-formed header was present.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// RequireAuth returns middleware that rejects any request lacking a valid
// session credential. On success the resolved Session is injected into the
// request context for handlers and further middleware.
func RequireAuth(service *Service) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteError(w, r, apperror.NewAuthError("missing or malformed Authorization header", nil))
				return
			}

			session, err := service.ResolveSession(r.Context(), token)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithSession(r.Context(), session)))
		})
	}
}

// OptionalAuth returns middleware that resolves a session when a valid
// credential is presented and silently continues as anonymous otherwise.
// Invalid tokens are deliberately not an error here: a public listing endpoint
// must not start failing because a client kept sending a stale token.
func OptionalAuth(service *Service) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			session, err := service.ResolveSession(r.Context(), token)
			if err != nil {
				// Anonymous pass-through; the reason still goes to the log.
				service.log.Debug().Err(err).Msg("optional auth: ignoring invalid credential")
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithSession(r.Context(), session)))
		})
	}
}

// RequireOperator returns middleware for operator-only routes. It must be
// mounted inside RequireAuth (it assumes a session is already in the context).
func RequireOperator() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				WriteError(w, r, apperror.NewAuthError("authentication required", nil))
				return
			}
			if !session.IsOperator() {
				WriteError(w, r, apperror.NewUnauthorizedError("operator role required", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
