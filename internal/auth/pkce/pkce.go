// Package pkce generates Proof Key for Code Exchange pairs for the OAuth2
// authorization code flow (RFC 7636). Only the S256 method is supported.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Method is the only code challenge method offered to the identity provider.
const Method = "S256"

// verifierBytes is the amount of randomness behind each verifier.
// 64 bytes encode to 86 unpadded base64url characters.
const verifierBytes = 64

// Codes holds the verification codes for one authorization flow.
type Codes struct {
	// CodeVerifier is the secret sent with the token request.
	CodeVerifier string
	// CodeChallenge is the base64url SHA-256 digest of CodeVerifier, sent with the authorize request.
	CodeChallenge string
}

// Generate creates a new verifier/challenge pair. Pairs are never reused.
func Generate() (*Codes, error) {
	return generate(rand.Reader)
}

func generate(source io.Reader) (*Codes, error) {
	buf := make([]byte, verifierBytes)
	if _, err := io.ReadFull(source, buf); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return &Codes{
		CodeVerifier:  verifier,
		CodeChallenge: Challenge(verifier),
	}, nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
