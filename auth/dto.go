// Package auth implements wallet-based authentication.
// This file, `dto.go` (Data Transfer Object), defines the request and response
// shapes of the two-phase protocol. These are similar to DTOs in Nest.js,
// often used there with validation pipes; here the handlers validate them
// explicitly before calling the service.
package auth

import (
	"time"

	"github.com/google/uuid"
)

// InitAuthRequest starts phase one: the client announces which wallet it
// intends to authenticate.
type InitAuthRequest struct {
	WalletAddress string `json:"walletAddress" example:"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"`
}

// InitAuthResponse carries the challenge. No session exists yet; the client
// must sign `Message` with the wallet's private key and come back.
type InitAuthResponse struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message" example:"Sign this message to authenticate: ..."`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyAuthRequest completes phase two with the signed challenge.
type VerifyAuthRequest struct {
	WalletAddress string `json:"walletAddress" example:"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"`
	Signature     string `json:"signature" example:"base58-encoded Ed25519 signature"`
	Message       string `json:"message" example:"Sign this message to authenticate: ..."`
}

// UserView is the public projection of a User returned to clients.
type UserView struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	CreatedAt     time.Time `json:"createdAt"`
	LastLoginAt   time.Time `json:"lastLoginAt"`
}

// VerifyAuthResponse is returned after a successful verification: the session
// credential plus the public view of the (possibly just created) user record.
type VerifyAuthResponse struct {
	AccessToken string   `json:"accessToken"`
	ExpiresIn   int64    `json:"expiresIn" example:"86400"` // Seconds until the token's absolute expiry
	User        UserView `json:"user"`
}

// publicView converts a User to its client-facing projection.
func publicView(u *User) UserView {
	return UserView{
		ID:            u.ID,
		WalletAddress: u.WalletAddress,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}
