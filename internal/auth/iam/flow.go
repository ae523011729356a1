// Package iam talks to the identity provider of the platform: it builds the
// browser authorization URL, redeems authorization codes, checks stored
// credentials with a refresh grant and resolves feature flags.
package iam

import (
	"fmt"
	"strings"

	"github.com/router-for-me/cxlogin/internal/auth/loopback"
	"github.com/router-for-me/cxlogin/internal/auth/pkce"
	"github.com/router-for-me/cxlogin/internal/config"
	"golang.org/x/oauth2"
)

// FlowConfig is the per-flow input of the authorization code grant.
type FlowConfig struct {
	BaseURI     string
	Tenant      string
	ClientID    string
	Scope       string
	RedirectURI string
	PKCE        pkce.Codes
}

// RedirectURI returns the loopback redirect registered for a callback port.
func RedirectURI(port int) string {
	return fmt.Sprintf("http://localhost:%d%s", port, loopback.CallbackPath)
}

// NewFlowConfig assembles a FlowConfig from the application configuration.
func NewFlowConfig(cfg *config.Config, baseURI, tenant string, port int, codes pkce.Codes) FlowConfig {
	flow := FlowConfig{
		BaseURI:     strings.TrimRight(strings.TrimSpace(baseURI), "/"),
		Tenant:      strings.TrimSpace(tenant),
		ClientID:    config.DefaultClientID,
		Scope:       config.DefaultScope,
		RedirectURI: RedirectURI(port),
		PKCE:        codes,
	}
	if cfg != nil {
		if cfg.ClientID != "" {
			flow.ClientID = cfg.ClientID
		}
		if cfg.Scope != "" {
			flow.Scope = cfg.Scope
		}
	}
	return flow
}

// Endpoints returns the realm endpoints of the flow's tenant.
func (f FlowConfig) Endpoints() config.Endpoints {
	return config.RealmEndpoints(f.BaseURI, f.Tenant)
}

// Realm returns the base URI and tenant of the flow.
func (f FlowConfig) Realm() Realm {
	return Realm{BaseURI: f.BaseURI, Tenant: f.Tenant}
}

// BuildAuthURL returns the authorization endpoint URL the browser is sent to.
func BuildAuthURL(f FlowConfig) string {
	endpoints := f.Endpoints()
	oauthCfg := &oauth2.Config{
		ClientID:    f.ClientID,
		RedirectURL: f.RedirectURI,
		Scopes:      strings.Fields(f.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  endpoints.Authorize,
			TokenURL: endpoints.Token,
		},
	}
	return oauthCfg.AuthCodeURL("",
		oauth2.SetAuthURLParam("code_challenge", f.PKCE.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	)
}
