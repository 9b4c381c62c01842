package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/config"
	"github.com/user/voltmarket-go/wallet"
)

// fakeStore is an in-memory Store with the same linearizable consume semantics
// the SQL implementation gets from row-level locking.
type fakeStore struct {
	mu     sync.Mutex
	nonces map[string]*AuthNonce
	users  map[string]*User

	deleteExpiredErr error
	createUserCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nonces: make(map[string]*AuthNonce),
		users:  make(map[string]*User),
	}
}

func (f *fakeStore) CreateNonce(_ context.Context, n *AuthNonce) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.nonces[n.Nonce]; exists {
		return apperror.NewConflictError("nonce already exists", nil)
	}
	cp := *n
	f.nonces[n.Nonce] = &cp
	return nil
}

func (f *fakeStore) FindValidNonce(_ context.Context, nonce string, now time.Time) (*AuthNonce, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nonces[nonce]
	if !ok || n.UsedAt != nil || !now.Before(n.ExpiresAt) {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (f *fakeStore) ConsumeNonce(_ context.Context, nonce string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nonces[nonce]
	if !ok || n.UsedAt != nil || !now.Before(n.ExpiresAt) {
		return false, nil
	}
	at := now
	n.UsedAt = &at
	return true, nil
}

func (f *fakeStore) DeleteExpiredNonces(_ context.Context, walletAddress string, now time.Time) (int64, error) {
	if f.deleteExpiredErr != nil {
		return 0, f.deleteExpiredErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for k, n := range f.nonces {
		if n.WalletAddress == walletAddress && n.UsedAt == nil && !now.Before(n.ExpiresAt) {
			delete(f.nonces, k)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) PurgeExpiredNonces(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for k, n := range f.nonces {
		if !cutoff.Before(n.ExpiresAt) {
			delete(f.nonces, k)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) FindUserByWallet(_ context.Context, walletAddress string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[walletAddress]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) CreateUser(_ context.Context, u *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createUserCalls++
	if _, exists := f.users[u.WalletAddress]; exists {
		return apperror.NewConflictError("user already exists for wallet", nil)
	}
	cp := *u
	f.users[u.WalletAddress] = &cp
	return nil
}

func (f *fakeStore) UpdateLastLogin(_ context.Context, u *User, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[u.WalletAddress]
	if !ok {
		return errors.New("no such user")
	}
	stored.LastLoginAt = at
	return nil
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "test-secret",
		SessionDuration: 24 * time.Hour,
		NonceTTL:        10 * time.Minute,
	}
}

func newTestService(store Store) *Service {
	return NewService(store, testAuthConfig(), zerolog.Nop())
}

func newTestWallet(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base58.Encode(pub), priv
}

func signB58(priv ed25519.PrivateKey, message string) string {
	return base58.Encode(ed25519.Sign(priv, []byte(message)))
}

// initAndSign runs phase one and produces a valid phase-two request.
func initAndSign(t *testing.T, svc *Service, addr string, priv ed25519.PrivateKey) VerifyAuthRequest {
	t.Helper()
	init, err := svc.InitializeAuth(context.Background(), addr)
	require.NoError(t, err)
	return VerifyAuthRequest{
		WalletAddress: addr,
		Signature:     signB58(priv, init.Message),
		Message:       init.Message,
	}
}

func TestInitializeAuth(t *testing.T) {
	t.Run("issues nonce, message and expiry", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, _ := newTestWallet(t)

		resp, err := svc.InitializeAuth(context.Background(), addr)
		require.NoError(t, err)

		assert.NotEmpty(t, resp.Nonce)
		assert.Contains(t, resp.Message, resp.Nonce)
		assert.True(t, resp.ExpiresAt.After(time.Now()))
		// Phase one creates no session and no user.
		assert.Empty(t, store.users)
	})

	t.Run("rejects malformed wallet address", func(t *testing.T) {
		svc := newTestService(newFakeStore())

		_, err := svc.InitializeAuth(context.Background(), "not-an-address")
		require.Error(t, err)
		assert.True(t, apperror.IsValidationError(err))
	})

	t.Run("expired nonce cleanup failure is non-fatal", func(t *testing.T) {
		store := newFakeStore()
		store.deleteExpiredErr = errors.New("cleanup exploded")
		svc := newTestService(store)
		addr, _ := newTestWallet(t)

		resp, err := svc.InitializeAuth(context.Background(), addr)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Nonce)
	})
}

func TestVerifyAndAuthenticate(t *testing.T) {
	t.Run("happy path creates the user and mints a token", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, priv := newTestWallet(t)

		resp, err := svc.VerifyAndAuthenticate(context.Background(), initAndSign(t, svc, addr, priv))
		require.NoError(t, err)

		assert.NotEmpty(t, resp.AccessToken)
		assert.Equal(t, int64((24 * time.Hour).Seconds()), resp.ExpiresIn)
		assert.Equal(t, addr, resp.User.WalletAddress)

		// The token resolves back to the same identity.
		session, err := svc.ResolveSession(context.Background(), resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, session.UserID)
		assert.Equal(t, addr, session.WalletAddress)
		assert.Equal(t, RoleParticipant, session.Role)
	})

	t.Run("missing fields fail fast with validation errors", func(t *testing.T) {
		svc := newTestService(newFakeStore())
		addr, _ := newTestWallet(t)

		cases := []VerifyAuthRequest{
			{},
			{WalletAddress: addr},
			{WalletAddress: addr, Signature: "sig"},
			{Signature: "sig", Message: "msg"},
		}
		for _, req := range cases {
			_, err := svc.VerifyAndAuthenticate(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperror.IsValidationError(err))
		}
	})

	t.Run("unparseable message is an authentication failure", func(t *testing.T) {
		svc := newTestService(newFakeStore())
		addr, priv := newTestWallet(t)

		_, err := svc.VerifyAndAuthenticate(context.Background(), VerifyAuthRequest{
			WalletAddress: addr,
			Signature:     signB58(priv, "free-form text"),
			Message:       "free-form text",
		})
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
	})

	t.Run("never-issued nonce is rejected", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, priv := newTestWallet(t)

		msg := wallet.SignMessage("nonce-that-was-never-issued")
		_, err := svc.VerifyAndAuthenticate(context.Background(), VerifyAuthRequest{
			WalletAddress: addr,
			Signature:     signB58(priv, msg),
			Message:       msg,
		})
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
		assert.Contains(t, err.Error(), "invalid or expired nonce")
		// Failed verification leaves no partial state behind.
		assert.Empty(t, store.users)
	})

	t.Run("nonce issued to one wallet cannot be verified by another", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addrA, _ := newTestWallet(t)
		addrB, privB := newTestWallet(t)

		// Wallet B intercepts A's challenge and signs it correctly with B's key.
		init, err := svc.InitializeAuth(context.Background(), addrA)
		require.NoError(t, err)

		_, err = svc.VerifyAndAuthenticate(context.Background(), VerifyAuthRequest{
			WalletAddress: addrB,
			Signature:     signB58(privB, init.Message),
			Message:       init.Message,
		})
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))

		// The nonce stays unconsumed for its rightful owner.
		n, err := store.FindValidNonce(context.Background(), init.Nonce, time.Now())
		require.NoError(t, err)
		assert.NotNil(t, n)
	})

	t.Run("expired nonce fails even with a perfectly valid signature", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, priv := newTestWallet(t)

		req := initAndSign(t, svc, addr, priv)

		// Advance the service clock past the nonce window.
		svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

		_, err := svc.VerifyAndAuthenticate(context.Background(), req)
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
	})

	t.Run("invalid signature is rejected and consumes nothing", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, _ := newTestWallet(t)
		_, otherPriv := newTestWallet(t)

		init, err := svc.InitializeAuth(context.Background(), addr)
		require.NoError(t, err)

		_, err = svc.VerifyAndAuthenticate(context.Background(), VerifyAuthRequest{
			WalletAddress: addr,
			Signature:     signB58(otherPriv, init.Message),
			Message:       init.Message,
		})
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))

		// The client-facing message must not reveal which gate failed: a bad
		// signature reads exactly like a bad nonce.
		appErr, ok := apperror.FromError(err)
		require.True(t, ok)
		assert.Equal(t, "invalid or expired nonce", appErr.Message)

		n, err := store.FindValidNonce(context.Background(), init.Nonce, time.Now())
		require.NoError(t, err)
		assert.NotNil(t, n, "failed verification must not burn the nonce")
		assert.Empty(t, store.users)
	})

	t.Run("a nonce can be consumed at most once", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, priv := newTestWallet(t)

		req := initAndSign(t, svc, addr, priv)

		_, err := svc.VerifyAndAuthenticate(context.Background(), req)
		require.NoError(t, err)

		_, err = svc.VerifyAndAuthenticate(context.Background(), req)
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
	})

	t.Run("concurrent verifications of the same nonce yield exactly one success", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, priv := newTestWallet(t)

		req := initAndSign(t, svc, addr, priv)

		const attempts = 8
		results := make(chan error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.VerifyAndAuthenticate(context.Background(), req)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var successes, authFailures int
		for err := range results {
			switch {
			case err == nil:
				successes++
			case apperror.IsAuthError(err):
				authFailures++
			default:
				t.Fatalf("unexpected error kind: %v", err)
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, attempts-1, authFailures)
	})

	t.Run("second login updates last-login instead of creating a user", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store)
		addr, priv := newTestWallet(t)

		first, err := svc.VerifyAndAuthenticate(context.Background(), initAndSign(t, svc, addr, priv))
		require.NoError(t, err)

		// Second full round a bit later.
		svc.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
		second, err := svc.VerifyAndAuthenticate(context.Background(), initAndSign(t, svc, addr, priv))
		require.NoError(t, err)

		assert.Equal(t, first.User.ID, second.User.ID)
		assert.Equal(t, 1, store.createUserCalls)
		assert.True(t, second.User.LastLoginAt.After(first.User.LastLoginAt))
	})
}

func TestProfile(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	addr, priv := newTestWallet(t)

	resp, err := svc.VerifyAndAuthenticate(context.Background(), initAndSign(t, svc, addr, priv))
	require.NoError(t, err)
	session, err := svc.ResolveSession(context.Background(), resp.AccessToken)
	require.NoError(t, err)

	t.Run("returns the session user's public view", func(t *testing.T) {
		view, err := svc.Profile(context.Background(), session)
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, view.ID)
		assert.Equal(t, addr, view.WalletAddress)
	})

	t.Run("vanished user is not found", func(t *testing.T) {
		ghostAddr, _ := newTestWallet(t) // never registered
		_, err := svc.Profile(context.Background(), &Session{
			UserID:        uuid.New(),
			WalletAddress: ghostAddr,
			Role:          RoleParticipant,
		})
		require.Error(t, err)
		assert.True(t, apperror.IsNotFound(err))
	})
}

func TestResolveSession(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	addr, priv := newTestWallet(t)

	resp, err := svc.VerifyAndAuthenticate(context.Background(), initAndSign(t, svc, addr, priv))
	require.NoError(t, err)

	t.Run("garbage token is rejected", func(t *testing.T) {
		_, err := svc.ResolveSession(context.Background(), "not-a-jwt")
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
	})

	t.Run("token signed with a different secret is rejected", func(t *testing.T) {
		other := NewService(store, config.AuthConfig{
			JWTSecret:       "different-secret",
			SessionDuration: 24 * time.Hour,
			NonceTTL:        10 * time.Minute,
		}, zerolog.Nop())

		user, err := store.FindUserByWallet(context.Background(), addr)
		require.NoError(t, err)
		forged, _, err := other.mintSessionToken(user)
		require.NoError(t, err)

		_, err = svc.ResolveSession(context.Background(), forged)
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		past := NewService(store, testAuthConfig(), zerolog.Nop())
		past.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }

		user, err := store.FindUserByWallet(context.Background(), addr)
		require.NoError(t, err)
		stale, _, err := past.mintSessionToken(user)
		require.NoError(t, err)

		_, err = svc.ResolveSession(context.Background(), stale)
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
	})

	t.Run("token for a vanished user is rejected", func(t *testing.T) {
		unknownAddr, _ := newTestWallet(t) // never registered
		ghost := &User{
			ID:            uuid.New(),
			WalletAddress: unknownAddr,
			Role:          RoleParticipant,
		}
		token, _, err := svc.mintSessionToken(ghost)
		require.NoError(t, err)

		_, err = svc.ResolveSession(context.Background(), token)
		require.Error(t, err)
		assert.True(t, apperror.IsAuthError(err))
	})

	t.Run("valid token resolves", func(t *testing.T) {
		session, err := svc.ResolveSession(context.Background(), resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, addr, session.WalletAddress)
	})
}
