// Package auth exposes the login orchestrator used by the CLI and by any
// embedding application.
package auth

import (
	"context"

	"github.com/router-for-me/cxlogin/internal/auth/connectivity"
	"github.com/router-for-me/cxlogin/internal/auth/iam"
)

// BrowserOpener opens the authorization URL in an external browser.
type BrowserOpener interface {
	Open(url string) error
}

// Notifier surfaces messages to the user outside the browser.
type Notifier interface {
	Info(message string)
	Error(message string)
}

// ConnectivityValidator checks the proxy, the server and the tenant.
type ConnectivityValidator interface {
	Validate(ctx context.Context, baseURI, tenant string) connectivity.Result
}

// PortAllocator finds a free loopback port for the callback server.
type PortAllocator interface {
	Allocate(ctx context.Context) (int, error)
}

// IdentityProvider performs the requests against the identity provider.
type IdentityProvider interface {
	ExchangeCode(ctx context.Context, code string, flow iam.FlowConfig) (*iam.TokenResponse, error)
	Introspect(ctx context.Context, credential string, fallback iam.Realm) (*iam.Introspection, error)
	FeatureFlag(ctx context.Context, realm iam.Realm, accessToken, name string) (bool, error)
}
