package auth

import (
	cxauth "github.com/router-for-me/cxlogin/internal/auth"
)

// Error is the classified failure returned by every Authenticator operation.
type Error = cxauth.Error

// Kind classifies an Error.
type Kind = cxauth.Kind

// Sentinels usable with errors.Is. ErrSuperseded is returned by a flow
// replaced by a newer Authenticate call.
var (
	ErrInvalidInput      = cxauth.ErrInvalidInput
	ErrProxyUnreachable  = cxauth.ErrProxyUnreachable
	ErrServerUnreachable = cxauth.ErrServerUnreachable
	ErrTenantNotFound    = cxauth.ErrTenantNotFound
	ErrPortExhausted     = cxauth.ErrPortExhausted
	ErrListenFailed      = cxauth.ErrListenFailed
	ErrRejected          = cxauth.ErrRejected
	ErrTimeout           = cxauth.ErrTimeout
	ErrTokenExchange     = cxauth.ErrTokenExchange
	ErrTokenMissing      = cxauth.ErrTokenMissing
	ErrValidationFailed  = cxauth.ErrValidationFailed
	ErrStorageFailure    = cxauth.ErrStorageFailure
	ErrSuperseded        = cxauth.ErrSuperseded
)

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	return cxauth.KindOf(err)
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	return cxauth.UserMessage(err)
}
