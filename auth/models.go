// Package auth implements wallet-based authentication.
// This file, `models.go`, defines the entities of the authentication domain:
// the User anchored to a wallet address, and the single-use AuthNonce that
// backs the challenge/response protocol.
package auth

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Operators administer timeslots and may report on-chain
// confirmations; participants place and cancel their own orders.
const (
	RoleParticipant = "participant"
	RoleOperator    = "operator"
)

// User represents a platform participant. Identity is anchored to the wallet
// address, which is the immutable natural key: there are no passwords and no
// email, a user simply is whoever controls the key pair. A row is created on
// first successful authentication and its LastLoginAt is bumped on every one
// after that; users are never hard-deleted by this subsystem.
type User struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Role          string    `json:"-"` // Internal authorization detail, not part of the public view
	CreatedAt     time.Time `json:"created_at"`
	LastLoginAt   time.Time `json:"last_login_at"`
}

// AuthNonce is a single-use authentication challenge. It is valid for
// verification iff UsedAt is nil, the expiry has not passed, and the wallet
// address matches the requester. Consumption (setting UsedAt) happens at most
// once, enforced by an atomic conditional update in the store.
type AuthNonce struct {
	ID            uuid.UUID
	WalletAddress string
	Nonce         string
	ExpiresAt     time.Time
	UsedAt        *time.Time
}
