package iam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/cxlogin/internal/auth"
	"github.com/router-for-me/cxlogin/internal/auth/pkce"
	"github.com/router-for-me/cxlogin/internal/config"
)

const tokenPath = "/auth/realms/acme/protocol/openid-connect/token"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func testFlow(baseURI string) FlowConfig {
	return NewFlowConfig(&config.Config{}, baseURI, "acme", 51234, pkce.Codes{CodeVerifier: "the-verifier", CodeChallenge: "the-challenge"})
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != tokenPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		want := map[string]string{
			"grant_type":    "authorization_code",
			"client_id":     config.DefaultClientID,
			"code":          "abc123",
			"redirect_uri":  "http://localhost:51234/checkmarx1/callback",
			"code_verifier": "the-verifier",
		}
		for key, value := range want {
			if got := r.PostForm.Get(key); got != value {
				t.Errorf("%s = %q, want %q", key, got, value)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":300}`))
	}))
	defer srv.Close()

	token, err := newTestClient(t).ExchangeCode(context.Background(), "abc123", testFlow(srv.URL))
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if token.RefreshToken != "rt-1" || token.AccessToken != "at-1" || token.ExpiresIn != 300 {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestExchangeCodeFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind auth.Kind
		wantText string
	}{
		{name: "oauth error description", status: http.StatusBadRequest, body: `{"error":"invalid_grant","error_description":"Code not valid"}`, wantKind: auth.KindTokenExchange, wantText: "Code not valid"},
		{name: "oauth error code", status: http.StatusUnauthorized, body: `{"error":"unauthorized_client"}`, wantKind: auth.KindTokenExchange, wantText: "unauthorized_client"},
		{name: "plain text", status: http.StatusBadGateway, body: "upstream down", wantKind: auth.KindTokenExchange, wantText: "upstream down"},
		{name: "no refresh token", status: http.StatusOK, body: `{"access_token":"at-1"}`, wantKind: auth.KindTokenMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t).ExchangeCode(context.Background(), "abc123", testFlow(srv.URL))
			if !auth.IsKind(err, tt.wantKind) {
				t.Fatalf("err = %v, want %s", err, tt.wantKind)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Fatalf("err = %v, want text %q", err, tt.wantText)
			}
		})
	}
}

func TestExchangeCodeRejectsMissingInputs(t *testing.T) {
	client := newTestClient(t)
	if _, err := client.ExchangeCode(context.Background(), "", testFlow("https://x.example.com")); !auth.IsKind(err, auth.KindInvalidInput) {
		t.Fatalf("empty code: err = %v", err)
	}
	flow := testFlow("https://x.example.com")
	flow.PKCE.CodeVerifier = ""
	if _, err := client.ExchangeCode(context.Background(), "abc123", flow); !auth.IsKind(err, auth.KindInvalidInput) {
		t.Fatalf("empty verifier: err = %v", err)
	}
}

func TestExchangeCodeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t).ExchangeCode(context.Background(), "abc123", testFlow(url))
	if !auth.IsKind(err, auth.KindTokenExchange) {
		t.Fatalf("err = %v, want token exchange failure", err)
	}
}

func TestIntrospect(t *testing.T) {
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		gotClientID = r.PostForm.Get("client_id")
		switch r.PostForm.Get("refresh_token") {
		case "revoked":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2"}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t)
	fallback := Realm{BaseURI: srv.URL, Tenant: "acme"}

	res, err := client.Introspect(context.Background(), "rt-1", fallback)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !res.Valid || res.AccessToken != "at-2" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotClientID != config.DefaultClientID {
		t.Fatalf("client_id = %q", gotClientID)
	}

	res, err = client.Introspect(context.Background(), "revoked", fallback)
	if err != nil || res.Valid {
		t.Fatalf("revoked credential: %+v, %v", res, err)
	}

	if _, err = client.Introspect(context.Background(), "broken", fallback); !auth.IsKind(err, auth.KindValidationFailed) {
		t.Fatalf("server failure: err = %v", err)
	}

	if _, err = client.Introspect(context.Background(), "rt-1", Realm{}); !auth.IsKind(err, auth.KindValidationFailed) {
		t.Fatalf("unknown realm: err = %v", err)
	}

	res, err = client.Introspect(context.Background(), "", fallback)
	if err != nil || res.Valid {
		t.Fatalf("empty credential: %+v, %v", res, err)
	}
}

func TestIntrospectUsesCredentialIssuer(t *testing.T) {
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotClientID = r.PostForm.Get("client_id")
		_, _ = w.Write([]byte(`{"access_token":"at-3"}`))
	}))
	defer srv.Close()

	apiKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": srv.URL + "/auth/realms/acme",
		"azp": "ast-app",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	res, err := newTestClient(t).Introspect(context.Background(), apiKey, Realm{BaseURI: "https://unused.invalid", Tenant: "other"})
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !res.Valid || res.Realm.BaseURI != srv.URL || res.Realm.Tenant != "acme" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotClientID != "ast-app" {
		t.Fatalf("client_id = %q, want azp claim", gotClientID)
	}
}

func TestFeatureFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/flags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("filter") {
		case "SCAN_ENABLED":
			_, _ = w.Write([]byte(`[{"name":"SCAN_ENABLED","status":true}]`))
		case "BETA":
			_, _ = w.Write([]byte(`[{"name":"BETA","status":false}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t)
	realm := Realm{BaseURI: srv.URL, Tenant: "acme"}
	tests := []struct {
		name string
		want bool
	}{
		{name: "SCAN_ENABLED", want: true},
		{name: "BETA", want: false},
		{name: "UNKNOWN", want: false},
	}
	for _, tt := range tests {
		got, err := client.FeatureFlag(context.Background(), realm, "at-1", tt.name)
		if err != nil {
			t.Fatalf("FeatureFlag(%s): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("FeatureFlag(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := client.FeatureFlag(context.Background(), realm, "wrong", "SCAN_ENABLED"); err == nil {
		t.Fatal("expected an error for a refused token")
	}
}
