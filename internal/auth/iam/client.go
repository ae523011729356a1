package iam

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/router-for-me/cxlogin/internal/auth"
	"github.com/router-for-me/cxlogin/internal/buildinfo"
	"github.com/router-for-me/cxlogin/internal/config"
	"github.com/router-for-me/cxlogin/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// RequestTimeout bounds token and flag requests.
const RequestTimeout = 30 * time.Second

// maxBodySize caps how much of an identity provider response is read.
const maxBodySize = 1 << 20

// TokenResponse holds the fields of a token endpoint response.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresIn    int64
}

// Introspection is the outcome of checking a credential against its issuer.
type Introspection struct {
	// Valid is false when the identity provider refused the credential.
	Valid bool
	// AccessToken is a short-lived token minted by the check, set when Valid.
	AccessToken string
	// Realm is where the credential was checked.
	Realm Realm
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	Proxy    config.ProxyConfig
	ClientID string
	Timeout  time.Duration
}

// Client performs the identity provider requests through the proxy-aware transport.
type Client struct {
	httpClient *http.Client
	clientID   string
}

// NewClient builds a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = RequestTimeout
	}
	httpClient, err := util.NewHTTPClient(util.ClientOptions{Proxy: opts.Proxy, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = config.DefaultClientID
	}
	return &Client{httpClient: httpClient, clientID: clientID}, nil
}

// ExchangeCode redeems an authorization code together with the PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, code string, flow FlowConfig) (*TokenResponse, error) {
	if strings.TrimSpace(code) == "" {
		return nil, auth.New(auth.KindInvalidInput, "authorization code is empty")
	}
	if flow.PKCE.CodeVerifier == "" {
		return nil, auth.New(auth.KindInvalidInput, "PKCE verifier is required for token exchange")
	}

	clientID := flow.ClientID
	if clientID == "" {
		clientID = c.clientID
	}
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {flow.RedirectURI},
		"code_verifier": {flow.PKCE.CodeVerifier},
	}

	status, body, err := c.postForm(ctx, flow.Endpoints().Token, data)
	if err != nil {
		return nil, auth.Wrap(auth.KindTokenExchange, "token exchange request failed", err)
	}
	if status < 200 || status >= 300 {
		return nil, auth.Newf(auth.KindTokenExchange, "%s", describeFailure(status, body))
	}

	token := parseTokenResponse(body)
	if token.RefreshToken == "" {
		return nil, auth.New(auth.KindTokenMissing, "token response carries no refresh_token")
	}
	log.Debugf("authorization code redeemed, token type %q", token.TokenType)
	return token, nil
}

// Introspect checks a stored credential with a refresh grant. The token
// endpoint comes from the credential's issuer when it is a JWT and from
// fallback otherwise. A 400 or 401 answer means the credential is invalid and
// is not an error.
func (c *Client) Introspect(ctx context.Context, credential string, fallback Realm) (*Introspection, error) {
	if strings.TrimSpace(credential) == "" {
		return &Introspection{Valid: false, Realm: fallback}, nil
	}

	realm := fallback
	clientID := c.clientID
	if claims, ok := inspectCredential(credential); ok {
		realm = claims.Realm
		if claims.ClientID != "" {
			clientID = claims.ClientID
		}
	}
	if realm.Empty() {
		return nil, auth.New(auth.KindValidationFailed, "no base URI and tenant known for the credential")
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {credential},
	}
	status, body, err := c.postForm(ctx, realm.Endpoints().Token, data)
	if err != nil {
		return nil, auth.Wrap(auth.KindValidationFailed, "credential validation request failed", err)
	}

	switch {
	case status >= 200 && status < 300:
		token := parseTokenResponse(body)
		return &Introspection{Valid: true, AccessToken: token.AccessToken, Realm: realm}, nil
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		log.Debugf("credential refused by %s: %s", realm.BaseURI, describeFailure(status, body))
		return &Introspection{Valid: false, Realm: realm}, nil
	default:
		return nil, auth.Newf(auth.KindValidationFailed, "%s", describeFailure(status, body))
	}
}

// FeatureFlag reads one flag of the tenant.
func (c *Client) FeatureFlag(ctx context.Context, realm Realm, accessToken, name string) (bool, error) {
	if realm.BaseURI == "" {
		return false, fmt.Errorf("feature flag %s: base URI is empty", name)
	}
	target := fmt.Sprintf("%s/api/flags?filter=%s", strings.TrimRight(realm.BaseURI, "/"), url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create flag request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("feature flag request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("flag response body close error: %v", errClose)
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return false, fmt.Errorf("failed to read flag response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("feature flag %s: %s", name, describeFailure(resp.StatusCode, body))
	}

	result := gjson.GetBytes(body, fmt.Sprintf(`#(name==%q).status`, name))
	return result.Bool(), nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read token response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func parseTokenResponse(body []byte) *TokenResponse {
	return &TokenResponse{
		AccessToken:  gjson.GetBytes(body, "access_token").String(),
		RefreshToken: gjson.GetBytes(body, "refresh_token").String(),
		IDToken:      gjson.GetBytes(body, "id_token").String(),
		TokenType:    gjson.GetBytes(body, "token_type").String(),
		ExpiresIn:    gjson.GetBytes(body, "expires_in").Int(),
	}
}

// describeFailure prefers the OAuth error fields of body over its raw text.
func describeFailure(status int, body []byte) string {
	if desc := gjson.GetBytes(body, "error_description").String(); desc != "" {
		return fmt.Sprintf("status %d: %s", status, desc)
	}
	if code := gjson.GetBytes(body, "error").String(); code != "" {
		return fmt.Sprintf("status %d: %s", status, code)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		text = http.StatusText(status)
	}
	return fmt.Sprintf("status %d: %s", status, text)
}
