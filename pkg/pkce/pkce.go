// Package pkce implements RFC 7636 Proof Key for Code Exchange material
// for public OAuth2 clients.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// MethodS256 is the only challenge method this package produces. The
// "plain" method is deliberately unsupported.
const MethodS256 = "S256"

// MinVerifierLength is the RFC 7636 lower bound on verifier length.
const MinVerifierLength = 43

// maxVerifierLength bounds NewVerifier output (exclusive).
const maxVerifierLength = 60

// verifierAlphabet is the unreserved character set used for verifiers.
const verifierAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Challenge is the derived value sent to the authorization endpoint while
// the verifier stays with the client.
type Challenge struct {
	Value  string
	Method string
}

// NewVerifier returns a random code verifier with a length chosen
// uniformly in [43, 60) over a lowercase alphanumeric alphabet.
func NewVerifier() (string, error) {
	span := int64(maxVerifierLength - MinVerifierLength)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("failed to pick verifier length: %w", err)
	}
	length := MinVerifierLength + int(n.Int64())

	alphabetSize := big.NewInt(int64(len(verifierAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate verifier: %w", err)
		}
		buf[i] = verifierAlphabet[idx.Int64()]
	}

	return string(buf), nil
}

// NewChallenge derives the S256 challenge for a verifier: the base64url
// encoding (unpadded) of the SHA-256 digest of the verifier's UTF-8 bytes.
// Verifiers shorter than MinVerifierLength are rejected.
func NewChallenge(verifier string) (Challenge, error) {
	if len(verifier) < MinVerifierLength {
		return Challenge{}, fmt.Errorf("code verifier must be at least %d characters, got %d", MinVerifierLength, len(verifier))
	}

	sum := sha256.Sum256([]byte(verifier))
	return Challenge{
		Value:  base64.RawURLEncoding.EncodeToString(sum[:]),
		Method: MethodS256,
	}, nil
}
