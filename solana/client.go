// Package solana is the boundary to the settlement chain. The rest of the
// application only sees the Client interface; whether calls really hit a
// JSON-RPC node or a local stub is a wiring decision made once at startup.
package solana

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/config"
)

// escrowPrefix namespaces derived escrow references so they can never collide
// with raw wallet addresses.
const escrowPrefix = "voltmarket:escrow:"

// Client is the chain-facing contract of the application.
type Client interface {
	// Health reports whether the chain endpoint is reachable and caught up.
	Health(ctx context.Context) error
	// GetBalance returns an account's balance in lamports.
	GetBalance(ctx context.Context, address string) (uint64, error)
	// GetSignatureStatus returns the confirmation status of a transaction
	// signature, or "" when the chain does not know it.
	GetSignatureStatus(ctx context.Context, signature string) (string, error)
	// CurrentEpoch maps a wall-clock instant onto the numeric escrow epoch.
	CurrentEpoch(now time.Time) uint64
	// EscrowReference derives the deterministic escrow account key for a
	// wallet within an epoch. The result is opaque: same inputs, same key,
	// and nothing else is promised about it.
	EscrowReference(walletAddress string, epoch uint64) string
}

// New picks the implementation from configuration: a JSON-RPC client when an
// RPC URL is configured, the local stub otherwise.
func New(cfg config.SolanaConfig, log zerolog.Logger) Client {
	if cfg.RPCURL == "" {
		log.Info().Msg("No Solana RPC URL configured, using stub chain client")
		return NewStubClient(cfg.EpochLength)
	}
	return NewRPCClient(cfg, log)
}

// deriver holds the pure derivations shared by every implementation.
type deriver struct {
	epochLength time.Duration
}

func (d deriver) CurrentEpoch(now time.Time) uint64 {
	seconds := int64(d.epochLength / time.Second)
	if seconds <= 0 {
		seconds = 3600
	}
	return uint64(now.Unix() / seconds)
}

func (d deriver) EscrowReference(walletAddress string, epoch uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%s:%d", escrowPrefix, walletAddress, epoch)))
	return base58.Encode(sum[:])
}

// rpcRequest and rpcResponse are the JSON-RPC 2.0 envelope of the Solana API.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCClient talks JSON-RPC to a Solana node.
type RPCClient struct {
	deriver
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewRPCClient creates a JSON-RPC chain client with the configured request
// timeout.
func NewRPCClient(cfg config.SolanaConfig, log zerolog.Logger) *RPCClient {
	return &RPCClient{
		deriver:    deriver{epochLength: cfg.EpochLength},
		url:        cfg.RPCURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log.With().Str("component", "solana").Logger(),
	}
}

// call performs one JSON-RPC round trip and decodes the result into `out`.
// Transport and protocol failures both surface as BlockchainError so callers
// never have to care which layer broke.
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return apperror.NewInternalError("failed to encode RPC request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return apperror.NewInternalError("failed to build RPC request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.NewBlockchainError(fmt.Sprintf("chain RPC %s failed", method), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperror.NewBlockchainError(
			fmt.Sprintf("chain RPC %s returned HTTP %d", method, resp.StatusCode), nil)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperror.NewBlockchainError(fmt.Sprintf("chain RPC %s returned invalid JSON", method), err)
	}
	if envelope.Error != nil {
		return apperror.NewBlockchainError(
			fmt.Sprintf("chain RPC %s error %d: %s", method, envelope.Error.Code, envelope.Error.Message), nil)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return apperror.NewBlockchainError(fmt.Sprintf("chain RPC %s result mismatch", method), err)
		}
	}
	return nil
}

func (c *RPCClient) Health(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return apperror.NewBlockchainError(fmt.Sprintf("chain reports health %q", status), nil)
	}
	return nil
}

func (c *RPCClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{address}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (c *RPCClient) GetSignatureStatus(ctx context.Context, signature string) (string, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
		} `json:"value"`
	}
	params := []interface{}{[]string{signature}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return "", err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return "", nil
	}
	return result.Value[0].ConfirmationStatus, nil
}

// StubClient is the in-process stand-in used in development and tests. It is
// always healthy, every balance is zero unless seeded, and every signature is
// finalized.
type StubClient struct {
	deriver
	// Balances seeds GetBalance responses per address.
	Balances map[string]uint64
}

// NewStubClient creates a stub chain client.
func NewStubClient(epochLength time.Duration) *StubClient {
	return &StubClient{
		deriver:  deriver{epochLength: epochLength},
		Balances: make(map[string]uint64),
	}
}

func (c *StubClient) Health(context.Context) error {
	return nil
}

func (c *StubClient) GetBalance(_ context.Context, address string) (uint64, error) {
	return c.Balances[address], nil
}

func (c *StubClient) GetSignatureStatus(_ context.Context, _ string) (string, error) {
	return "finalized", nil
}
