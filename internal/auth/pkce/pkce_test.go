package pkce

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"testing"
)

var urlSafe = regexp.MustCompile(`\A[A-Za-z0-9_-]+\z`)

func TestGenerateProducesMatchingPairs(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		codes, err := Generate()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n := len(codes.CodeVerifier); n < 43 || n > 128 {
			t.Fatalf("verifier length %d outside [43,128]", n)
		}
		if !urlSafe.MatchString(codes.CodeVerifier) {
			t.Fatalf("verifier %q is not url-safe", codes.CodeVerifier)
		}
		sum := sha256.Sum256([]byte(codes.CodeVerifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		if codes.CodeChallenge != want {
			t.Fatalf("challenge = %q, want %q", codes.CodeChallenge, want)
		}
		if Challenge(codes.CodeVerifier) != codes.CodeChallenge {
			t.Fatalf("recomputed challenge differs")
		}
		if _, dup := seen[codes.CodeVerifier]; dup {
			t.Fatalf("verifier reused: %q", codes.CodeVerifier)
		}
		seen[codes.CodeVerifier] = struct{}{}
	}
}

func TestChallengeKnownVector(t *testing.T) {
	// RFC 7636 appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := Challenge(verifier); got != want {
		t.Fatalf("Challenge() = %q, want %q", got, want)
	}
}

func TestGenerateShortRead(t *testing.T) {
	var empty bytes.Buffer
	codes, err := generate(&empty)
	if err == nil {
		t.Fatalf("expected error, got %+v", codes)
	}
}
