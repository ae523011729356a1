package iam

import (
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/cxlogin/internal/config"
)

const realmsSegment = "/auth/realms/"

// Realm identifies a tenant on a platform deployment.
type Realm struct {
	BaseURI string
	Tenant  string
}

// Empty reports whether the realm cannot address any endpoint.
func (r Realm) Empty() bool {
	return strings.TrimSpace(r.BaseURI) == "" || strings.TrimSpace(r.Tenant) == ""
}

// Endpoints returns the realm endpoints.
func (r Realm) Endpoints() config.Endpoints {
	return config.RealmEndpoints(r.BaseURI, r.Tenant)
}

// RealmFromIssuer splits an issuer of the form {base}/auth/realms/{tenant}.
func RealmFromIssuer(issuer string) (Realm, bool) {
	idx := strings.LastIndex(issuer, realmsSegment)
	if idx <= 0 {
		return Realm{}, false
	}
	tenant := strings.Trim(issuer[idx+len(realmsSegment):], "/")
	if unescaped, err := url.PathUnescape(tenant); err == nil {
		tenant = unescaped
	}
	if tenant == "" || strings.Contains(tenant, "/") {
		return Realm{}, false
	}
	return Realm{BaseURI: issuer[:idx], Tenant: tenant}, true
}

// tokenClaims is what a stored credential reveals about where it was issued.
type tokenClaims struct {
	Realm    Realm
	ClientID string
}

// inspectCredential reads the issuer and authorized party of a JWT credential
// without verifying it. The identity provider verifies it on use.
func inspectCredential(credential string) (tokenClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return tokenClaims{}, false
	}
	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" {
		return tokenClaims{}, false
	}
	realm, ok := RealmFromIssuer(issuer)
	if !ok {
		return tokenClaims{}, false
	}
	out := tokenClaims{Realm: realm}
	if azp, okAzp := claims["azp"].(string); okAzp {
		out.ClientID = azp
	}
	return out, true
}
