package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/voltmarket-go/wallet"
)

// newAuthRouter mounts the auth and user routes the way main.go does.
func newAuthRouter(svc *Service) http.Handler {
	h := NewHandlers(svc)
	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		r.Post("/init", h.HandleInitAuth())
		r.Post("/verify", h.HandleVerifyAuth())
	})
	r.Route("/users", func(r chi.Router) {
		r.Use(RequireAuth(svc))
		r.Get("/me", h.HandleMe())
	})
	return r
}

// doJSON performs a request with an optional JSON body and bearer token.
func doJSON(t *testing.T, h http.Handler, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestAuthEndpointsFullProtocol(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newAuthRouter(svc)
	addr, priv := newTestWallet(t)

	// Phase one over the wire.
	rec := doJSON(t, router, http.MethodPost, "/auth/init", "", InitAuthRequest{WalletAddress: addr})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	init := decodeBody(t, rec)
	nonce, _ := init["nonce"].(string)
	message, _ := init["message"].(string)
	require.NotEmpty(t, nonce)
	assert.Contains(t, message, nonce)
	assert.NotEmpty(t, init["expiresAt"])

	// Phase two with the signed challenge.
	rec = doJSON(t, router, http.MethodPost, "/auth/verify", "", VerifyAuthRequest{
		WalletAddress: addr,
		Signature:     signB58(priv, message),
		Message:       message,
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	verify := decodeBody(t, rec)
	token, _ := verify["accessToken"].(string)
	assert.NotEmpty(t, token)
	assert.EqualValues(t, (24*time.Hour).Seconds(), verify["expiresIn"])
	user, _ := verify["user"].(map[string]interface{})
	require.NotNil(t, user)
	assert.Equal(t, addr, user["walletAddress"])

	// The minted token works as a bearer credential.
	rec = doJSON(t, router, http.MethodGet, "/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody(t, rec)
	assert.Equal(t, addr, me["walletAddress"])
}

func TestInitEndpointValidation(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newAuthRouter(svc)

	t.Run("missing walletAddress", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/auth/init", "", InitAuthRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unparseable body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/init", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVerifyEndpointRejectsUnknownNonce(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newAuthRouter(svc)
	addr, priv := newTestWallet(t)

	msg := wallet.SignMessage("nonce-that-was-never-issued")
	rec := doJSON(t, router, http.MethodPost, "/auth/verify", "", VerifyAuthRequest{
		WalletAddress: addr,
		Signature:     signB58(priv, msg),
		Message:       msg,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	errMsg, _ := decodeBody(t, rec)["error"].(string)
	assert.Contains(t, errMsg, "invalid or expired nonce")
}

func TestVerifyEndpointHidesSignatureFailureCause(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newAuthRouter(svc)
	addr, _ := newTestWallet(t)
	_, otherPriv := newTestWallet(t)

	init, err := svc.InitializeAuth(context.Background(), addr)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/auth/verify", "", VerifyAuthRequest{
		WalletAddress: addr,
		Signature:     signB58(otherPriv, init.Message),
		Message:       init.Message,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	errMsg, _ := decodeBody(t, rec)["error"].(string)
	assert.Equal(t, "invalid or expired nonce", errMsg)
}

func TestMeEndpointRequiresSession(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newAuthRouter(svc)

	rec := doJSON(t, router, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
