// Package auth implements wallet-based authentication: the two-phase
// challenge/response protocol, session token minting, and session resolution.
// In a Nest.js analogy this file is the AuthService of an "AuthModule"; the
// handlers are its controller and the middleware its guard. There are no
// passwords anywhere: possession of the wallet's private key, proven by
// signing a single-use nonce, is the only credential.
package auth

import (
	"context"
	"fmt"
	"time"

	// Third-party library for JWT handling. `jwt/v5` indicates version 5.
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/config"
	"github.com/user/voltmarket-go/wallet"
)

// tokenIssuer identifies this service in minted JWTs.
const tokenIssuer = "voltmarket"

// genericVerifyFailure is the uniform client-facing message for every nonce
// and signature problem (unknown, expired, replayed, wrong wallet, bad
// signature). Distinguishing them in the response would hand an attacker an
// enumeration oracle; the specific cause goes to the log instead.
const genericVerifyFailure = "invalid or expired nonce"

// Service orchestrates the authentication protocol. Dependencies are injected
// explicitly at construction time, the Go counterpart of Nest.js constructor
// injection: a Store for durable state, the auth configuration, and a logger.
type Service struct {
	store Store
	cfg   config.AuthConfig
	log   zerolog.Logger

	// now is swappable so tests can pin the clock.
	now func() time.Time
}

// NewService creates a new authentication Service.
func NewService(store Store, cfg config.AuthConfig, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// CustomClaims is the payload of a session token. Embedding
// `jwt.RegisteredClaims` brings the standard `exp`, `iat`, `nbf` handling.
type CustomClaims struct {
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	Role          string `json:"role"`
	jwt.RegisteredClaims
}

// InitializeAuth is phase one of the protocol. It validates the wallet address,
// issues a fresh nonce with its expiry, and returns the canonical message the
// wallet must sign. No session state is created; an attacker can call this all
// day and obtain nothing but challenges they cannot answer.
func (s *Service) InitializeAuth(ctx context.Context, walletAddress string) (*InitAuthResponse, error) {
	if !wallet.IsValidAddress(walletAddress) {
		return nil, apperror.NewValidationError("walletAddress is not a valid Solana address", nil)
	}

	nonce, err := wallet.GenerateNonce()
	if err != nil {
		return nil, apperror.NewInternalError("failed to generate authentication nonce", err)
	}
	now := s.now()
	expiresAt := wallet.NonceExpiration(now, s.cfg.NonceTTL)
	message := wallet.SignMessage(nonce)

	// Best-effort cleanup of this wallet's previously expired, unused nonces.
	// Failure here must not block the login flow, so it is logged and dropped.
	if deleted, err := s.store.DeleteExpiredNonces(ctx, walletAddress, now); err != nil {
		s.log.Warn().Err(err).Str("wallet", walletAddress).Msg("expired nonce cleanup failed")
	} else if deleted > 0 {
		s.log.Debug().Int64("deleted", deleted).Str("wallet", walletAddress).Msg("cleaned up expired nonces")
	}

	record := &AuthNonce{
		ID:            uuid.New(),
		WalletAddress: walletAddress,
		Nonce:         nonce,
		ExpiresAt:     expiresAt,
	}
	if err := s.store.CreateNonce(ctx, record); err != nil {
		return nil, apperror.NewDatabaseError("failed to persist authentication nonce", err)
	}

	return &InitAuthResponse{
		Nonce:     nonce,
		Message:   message,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyAndAuthenticate is phase two. Each gate below must pass in order, and
// nothing is persisted until the nonce is atomically consumed; a failure at
// any step leaves no partial state behind (no user created, nonce untouched).
func (s *Service) VerifyAndAuthenticate(ctx context.Context, req VerifyAuthRequest) (*VerifyAuthResponse, error) {
	// Gate 1: fail fast on malformed caller input.
	if req.WalletAddress == "" || req.Signature == "" || req.Message == "" {
		return nil, apperror.NewValidationError("walletAddress, signature and message are required", nil)
	}
	if !wallet.IsValidAddress(req.WalletAddress) {
		return nil, apperror.NewValidationError("walletAddress is not a valid Solana address", nil)
	}

	// Gate 2: the message must carry a nonce in the canonical format.
	nonce, err := wallet.ParseSignMessage(req.Message)
	if err != nil {
		return nil, apperror.NewAuthError(genericVerifyFailure, err)
	}

	// Gate 3: the nonce must exist, be unused, and be unexpired. This lookup is
	// the replay-protection gate for nonces that were never issued or already
	// burned.
	now := s.now()
	record, err := s.store.FindValidNonce(ctx, nonce, now)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to look up nonce", err)
	}
	if record == nil {
		return nil, apperror.NewAuthError(genericVerifyFailure, nil)
	}

	// Gate 4: the nonce must have been issued to this wallet. Without this, a
	// leaked nonce value could be laundered through a different key pair.
	if record.WalletAddress != req.WalletAddress {
		s.log.Warn().
			Str("issued_to", record.WalletAddress).
			Str("presented_by", req.WalletAddress).
			Msg("nonce presented by a different wallet")
		return nil, apperror.NewAuthError(genericVerifyFailure, nil)
	}

	// Gate 5: the signature must verify over the exact message bytes. The
	// verifier's reason stays in the wrapped error and the log; the caller
	// sees the same generic message as every other failed gate.
	if ok, reason := wallet.VerifySignature(req.Message, req.Signature, req.WalletAddress); !ok {
		s.log.Warn().Str("wallet", req.WalletAddress).Str("reason", reason).Msg("signature verification failed")
		return nil, apperror.NewAuthError(genericVerifyFailure, fmt.Errorf("signature rejected: %s", reason))
	}

	// Gate 6: consume the nonce atomically. If a concurrent verification with
	// the same nonce slipped past gates 3-5 at the same time, exactly one of
	// the two conditional updates wins; the loser lands here.
	consumed, err := s.store.ConsumeNonce(ctx, nonce, now)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to consume nonce", err)
	}
	if !consumed {
		return nil, apperror.NewAuthError(genericVerifyFailure, nil)
	}

	// Find-or-create the user. First successful verification is the account's
	// birth; every later one just bumps last-login.
	user, err := s.findOrCreateUser(ctx, req.WalletAddress, now)
	if err != nil {
		return nil, err
	}

	token, expiresIn, err := s.mintSessionToken(user)
	if err != nil {
		return nil, apperror.NewInternalError("failed to mint session token", err)
	}

	s.log.Info().Str("wallet", user.WalletAddress).Str("user_id", user.ID.String()).Msg("wallet authenticated")

	return &VerifyAuthResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		User:        publicView(user),
	}, nil
}

// findOrCreateUser looks the wallet up and creates the account on first login.
// Two first logins racing each other are resolved through the unique
// constraint: the loser's insert conflicts and it re-reads the winner's row.
func (s *Service) findOrCreateUser(ctx context.Context, walletAddress string, now time.Time) (*User, error) {
	user, err := s.store.FindUserByWallet(ctx, walletAddress)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to look up user", err)
	}
	if user != nil {
		user.LastLoginAt = now
		if err := s.store.UpdateLastLogin(ctx, user, now); err != nil {
			return nil, apperror.NewDatabaseError("failed to update last login", err)
		}
		return user, nil
	}

	user = &User{
		ID:            uuid.New(),
		WalletAddress: walletAddress,
		Role:          RoleParticipant,
		CreatedAt:     now,
		LastLoginAt:   now,
	}
	err = s.store.CreateUser(ctx, user)
	if err == nil {
		return user, nil
	}
	if appErr, ok := apperror.FromError(err); ok && appErr.Type == apperror.ConflictError {
		// Lost a creation race; the row exists now.
		existing, ferr := s.store.FindUserByWallet(ctx, walletAddress)
		if ferr != nil || existing == nil {
			return nil, apperror.NewDatabaseError("failed to resolve user creation race", ferr)
		}
		existing.LastLoginAt = now
		if err := s.store.UpdateLastLogin(ctx, existing, now); err != nil {
			return nil, apperror.NewDatabaseError("failed to update last login", err)
		}
		return existing, nil
	}
	return nil, apperror.NewDatabaseError("failed to create user", err)
}

// mintSessionToken signs an HS256 JWT binding user identity and wallet address
// with a fixed absolute expiry. There is no refresh token in this design:
// re-authentication is by repeating the two protocol phases.
func (s *Service) mintSessionToken(user *User) (string, int64, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.SessionDuration)
	claims := &CustomClaims{
		UserID:        user.ID.String(),
		WalletAddress: user.WalletAddress,
		Role:          user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int64(s.cfg.SessionDuration.Seconds()), nil
}

// ValidateToken parses and verifies a session token string and returns its
// claims. It rejects wrong signing methods, bad signatures, and expired
// tokens; all failures surface as AuthError.
func (s *Service) ValidateToken(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, apperror.NewAuthError("invalid or expired session token", err)
	}
	if !token.Valid {
		return nil, apperror.NewAuthError("invalid or expired session token", nil)
	}
	if claims.UserID == "" || claims.WalletAddress == "" {
		return nil, apperror.NewAuthError("session token is missing identity claims", nil)
	}
	return claims, nil
}

// ResolveSession validates a token and resolves the embedded wallet address to
// a live user record, producing the typed session identity the middleware
// threads through request contexts. A token whose user has vanished is
// rejected: credentials do not outlive the account.
func (s *Service) ResolveSession(ctx context.Context, tokenString string) (*Session, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.store.FindUserByWallet(ctx, claims.WalletAddress)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to resolve session user", err)
	}
	if user == nil {
		return nil, apperror.NewAuthError("session user no longer exists", nil)
	}

	return &Session{
		UserID:        user.ID,
		WalletAddress: user.WalletAddress,
		Role:          user.Role,
	}, nil
}

// Profile returns the public projection of the session's user record.
func (s *Service) Profile(ctx context.Context, session *Session) (*UserView, error) {
	user, err := s.store.FindUserByWallet(ctx, session.WalletAddress)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to load user", err)
	}
	if user == nil {
		return nil, apperror.NewNotFoundError("user not found", nil)
	}
	view := publicView(user)
	return &view, nil
}
