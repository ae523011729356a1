// Package auth holds the error taxonomy shared by the login components.
// Every failure that leaves a component boundary is an *Error carrying one Kind,
// so callers can switch on the kind instead of matching message text.
package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindProxyUnreachable  Kind = "proxy_unreachable"
	KindServerUnreachable Kind = "server_unreachable"
	KindTenantNotFound    Kind = "tenant_not_found"
	KindPortExhausted     Kind = "port_exhausted"
	KindListenFailed      Kind = "listen_failed"
	KindRejected          Kind = "authorization_rejected"
	KindTimeout           Kind = "timeout"
	KindTokenExchange     Kind = "token_exchange_failed"
	KindTokenMissing      Kind = "token_missing"
	KindValidationFailed  Kind = "validation_failed"
	KindStorageFailure    Kind = "storage_failure"
	KindSuperseded        Kind = "superseded"
	KindUnknown           Kind = "unknown"
)

// Error represents a classified authentication failure.
type Error struct {
	// Kind is the taxonomy member.
	Kind Kind
	// Message is a human-readable description safe to show to the user.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns a string representation of the authentication error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so sentinels like
// ErrTimeout match any timeout regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrProxyUnreachable  = &Error{Kind: KindProxyUnreachable}
	ErrServerUnreachable = &Error{Kind: KindServerUnreachable}
	ErrTenantNotFound    = &Error{Kind: KindTenantNotFound}
	ErrPortExhausted     = &Error{Kind: KindPortExhausted}
	ErrListenFailed      = &Error{Kind: KindListenFailed}
	ErrRejected          = &Error{Kind: KindRejected}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrTokenExchange     = &Error{Kind: KindTokenExchange}
	ErrTokenMissing      = &Error{Kind: KindTokenMissing}
	ErrValidationFailed  = &Error{Kind: KindValidationFailed}
	ErrStorageFailure    = &Error{Kind: KindStorageFailure}
	ErrSuperseded        = &Error{Kind: KindSuperseded}
)

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns a user-friendly message based on the error kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var authErr *Error
	if !errors.As(err, &authErr) {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Kind {
	case KindInvalidInput:
		return fmt.Sprintf("Invalid settings: %s", authErr.Message)
	case KindProxyUnreachable:
		return "The configured proxy is unreachable. Check your proxy settings and try again."
	case KindServerUnreachable:
		return "The base URI could not be reached. Check the URL and your network connection."
	case KindTenantNotFound:
		return "The tenant could not be found. Check the tenant name and try again."
	case KindPortExhausted:
		return "No free local port is available for the login callback. Close some applications and try again."
	case KindListenFailed:
		return "The local login callback server could not be started. Please try again."
	case KindRejected:
		return fmt.Sprintf("Authentication was cancelled or denied: %s", authErr.Message)
	case KindTimeout:
		return "Authentication timed out. Please try again."
	case KindTokenExchange:
		return fmt.Sprintf("The identity provider refused the login: %s", authErr.Message)
	case KindTokenMissing:
		return "The identity provider did not return a refresh token."
	case KindValidationFailed:
		return "The credential could not be validated. Please log in again."
	case KindStorageFailure:
		return "The credential could not be accessed in the system keychain."
	case KindSuperseded:
		return "This login was replaced by a newer login attempt."
	default:
		return "Authentication failed. Please try again."
	}
}
