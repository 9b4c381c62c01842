// Package wallet implements the cryptographic side of the challenge/response
// authentication protocol: nonce generation, the canonical message a wallet is
// asked to sign, and Ed25519 signature verification against a Solana address.
//
// Nothing in here touches the database or the network. Malformed input (a
// short key, a truncated signature, garbage base58) is a normal "invalid"
// outcome for verification, never a panic or an error return: an attacker
// feeding us junk should get the same answer as one feeding us a wrong-key
// signature.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// signMessagePrefix is the fixed, human-readable framing of the payload a
// wallet is asked to sign. Keeping it a protocol constant makes the signed
// bytes unambiguous: a signature over this prefix cannot be confused with a
// signature over a transaction or any other message format.
const signMessagePrefix = "Sign this message to authenticate: "

// nonceByteLen is the entropy of a nonce before encoding. 32 random bytes make
// collisions negligible for practical purposes; the store still enforces a
// uniqueness constraint on the encoded value.
const nonceByteLen = 32

// solanaKeyLen is the byte length of an Ed25519 public key, which is what a
// Solana wallet address encodes.
const solanaKeyLen = ed25519.PublicKeySize

// GenerateNonce returns a cryptographically random, URL-safe token.
func GenerateNonce() (string, error) {
	buf := make([]byte, nonceByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes for nonce: %w", err)
	}
	// Raw URL encoding keeps the token safe to embed in the sign message and
	// in query strings without padding characters.
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NonceExpiration returns the expiry instant for a nonce issued now. The
// window is a protocol parameter, not per-caller configuration: short enough
// to bound replay risk, long enough for a human to click through the wallet's
// signing prompt.
func NonceExpiration(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl)
}

// SignMessage builds the canonical message for the given nonce. The wallet
// address is deliberately not embedded: the binding between nonce and wallet
// lives in the stored nonce record, and verification checks it there, so a
// leaked nonce value is useless to any other wallet either way.
func SignMessage(nonce string) string {
	return signMessagePrefix + nonce
}

// ParseSignMessage extracts the nonce from a message previously produced by
// SignMessage. A format mismatch is an error the caller must treat as an
// authentication failure, not a crash.
func ParseSignMessage(message string) (string, error) {
	if !strings.HasPrefix(message, signMessagePrefix) {
		return "", fmt.Errorf("message does not match the expected sign-message format")
	}
	nonce := strings.TrimPrefix(message, signMessagePrefix)
	if nonce == "" {
		return "", fmt.Errorf("message contains no nonce")
	}
	return nonce, nil
}

// VerifySignature checks an Ed25519 signature over the exact message bytes,
// using the base58-decoded wallet address as the public key. The first return
// value is validity; the second is a short reason suitable for logging when
// invalid. Malformed encodings are reported as invalid, never as panics.
func VerifySignature(message, signatureB58, walletAddress string) (bool, string) {
	pubKey, err := base58.Decode(walletAddress)
	if err != nil {
		return false, "wallet address is not valid base58"
	}
	if len(pubKey) != solanaKeyLen {
		return false, "wallet address does not decode to an Ed25519 public key"
	}

	sig, err := base58.Decode(signatureB58)
	if err != nil {
		return false, "signature is not valid base58"
	}
	if len(sig) != ed25519.SignatureSize {
		return false, "signature has wrong length"
	}

	if !ed25519.Verify(ed25519.PublicKey(pubKey), []byte(message), sig) {
		return false, "signature does not verify against wallet address"
	}
	return true, ""
}

// IsValidAddress performs the cheap, format-level validation of a Solana
// wallet address: base58 alphabet, decoding to exactly 32 bytes. It exists to
// short-circuit obviously malformed input before any store or crypto work.
func IsValidAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		// 32 bytes of key material encode to 32-44 base58 characters.
		return false
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return len(decoded) == solanaKeyLen
}
