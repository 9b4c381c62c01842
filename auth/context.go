// Package auth implements wallet-based authentication.
// This file, `context.go`, defines the typed session identity and the helpers
// for carrying it through `context.Context`. The context is the standard Go
// way to move request-scoped values across API boundaries; using an explicit
// Session struct (instead of loose values attached to the request) means every
// handler sees the same, fully-typed notion of "who is calling".
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Session is the identity produced by a validated session credential. It is
// what the middleware injects and what services receive when they need to
// enforce ownership or roles.
type Session struct {
	UserID        uuid.UUID
	WalletAddress string
	Role          string
}

// IsOperator reports whether this session belongs to the platform operator role.
func (s *Session) IsOperator() bool {
	return s.Role == RoleOperator
}

// `contextKey` is a custom unexported type for context keys. Using a custom
// type prevents collisions with keys set by other packages; it's a common Go
// idiom.
type contextKey string

const sessionContextKey contextKey = "auth_session"

// NewContextWithSession returns a child context carrying the session.
func NewContextWithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext extracts the session placed by the middleware. The bool
// result is false for anonymous requests (optional-auth routes where no valid
// credential was presented).
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*Session)
	if !ok || session == nil {
		return nil, false
	}
	return session, true
}
