package auth

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("login: %w", Wrap(KindProxyUnreachable, "proxy down", cause))

	if !errors.Is(err, ErrProxyUnreachable) {
		t.Fatalf("expected errors.Is to match the proxy sentinel")
	}
	if errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("unexpected match with a different kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if KindOf(err) != KindProxyUnreachable {
		t.Fatalf("KindOf() = %s", KindOf(err))
	}
	if KindOf(cause) != KindUnknown {
		t.Fatalf("plain errors should have unknown kind")
	}
	if IsKind(nil, KindUnknown) {
		t.Fatalf("nil error must not match any kind")
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", New(KindTimeout, "no callback"), "Authentication timed out. Please try again."},
		{"rejected", New(KindRejected, "access_denied"), "Authentication was cancelled or denied: access_denied"},
		{"plain", errors.New("boom"), "An unexpected error occurred. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
