// Package connectivity checks that the proxy, the platform and the tenant are
// reachable before a login flow starts, so every failure is reported against
// the layer that is actually broken.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/router-for-me/cxlogin/internal/auth"
	"github.com/router-for-me/cxlogin/internal/buildinfo"
	"github.com/router-for-me/cxlogin/internal/config"
	"github.com/router-for-me/cxlogin/internal/util"
	log "github.com/sirupsen/logrus"
)

// ProbeTimeout bounds every individual probe.
const ProbeTimeout = 15 * time.Second

// Result is the outcome of a validation run. Err is an *auth.Error when Valid is false.
type Result struct {
	Valid bool
	Err   error
}

// Prober performs the network probes. Each method returns nil when the layer is reachable.
type Prober interface {
	ProbeProxy(ctx context.Context, proxyURL *url.URL) error
	ProbeServer(ctx context.Context, baseURI string) error
	ProbeTenant(ctx context.Context, realmURL string) error
}

// Validator runs the probes in strict order: syntax, proxy, server, tenant.
type Validator struct {
	proxy  config.ProxyConfig
	prober Prober
}

// NewValidator creates a validator for the resolved proxy settings. A nil prober
// selects the HTTP prober.
func NewValidator(proxyCfg config.ProxyConfig, prober Prober) (*Validator, error) {
	if prober == nil {
		httpProber, err := NewHTTPProber(proxyCfg)
		if err != nil {
			return nil, err
		}
		prober = httpProber
	}
	return &Validator{proxy: proxyCfg, prober: prober}, nil
}

// Validate checks baseURI and tenant. It never retries; the first failing step wins.
func (v *Validator) Validate(ctx context.Context, baseURI, tenant string) Result {
	base, err := parseBaseURI(baseURI)
	if err != nil {
		return fail(err)
	}
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return fail(auth.New(auth.KindInvalidInput, "tenant is required"))
	}

	proxyURL, err := v.proxy.Parse()
	if err != nil {
		return fail(err)
	}
	if proxyURL != nil {
		log.Debugf("probing proxy %s", proxyURL.Redacted())
		if err = v.prober.ProbeProxy(ctx, proxyURL); err != nil {
			return fail(classify(auth.KindProxyUnreachable, fmt.Sprintf("proxy %s is unreachable", proxyURL.Host), err))
		}
	}

	log.Debugf("probing base URI %s", base)
	if err = v.prober.ProbeServer(ctx, base); err != nil {
		return fail(classify(auth.KindServerUnreachable, fmt.Sprintf("base URI %s is unreachable", base), err))
	}

	realm := config.RealmEndpoints(base, tenant).Realm
	log.Debugf("probing tenant realm %s", realm)
	if err = v.prober.ProbeTenant(ctx, realm); err != nil {
		return fail(classify(auth.KindTenantNotFound, fmt.Sprintf("tenant %q was not found", tenant), err))
	}
	return Result{Valid: true}
}

func fail(err error) Result {
	return Result{Valid: false, Err: err}
}

// classify keeps typed errors from the prober and wraps anything else in kind.
func classify(kind auth.Kind, message string, err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr
	}
	return auth.Wrap(kind, message, err)
}

func parseBaseURI(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", auth.New(auth.KindInvalidInput, "base URI is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", auth.Wrap(auth.KindInvalidInput, "base URI is not a valid URL", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", auth.Newf(auth.KindInvalidInput, "base URI must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", auth.New(auth.KindInvalidInput, "base URI has no host")
	}
	return trimmed, nil
}

// HTTPProber probes over the network using the proxy-aware transport.
type HTTPProber struct {
	client *http.Client
	dialer *net.Dialer
}

// NewHTTPProber builds a prober with a 15 second timeout and a 5 hop redirect limit.
func NewHTTPProber(proxyCfg config.ProxyConfig) (*HTTPProber, error) {
	client, err := util.NewHTTPClient(util.ClientOptions{
		Proxy:        proxyCfg,
		Timeout:      ProbeTimeout,
		MaxRedirects: util.DefaultMaxRedirects,
	})
	if err != nil {
		return nil, err
	}
	return &HTTPProber{client: client, dialer: &net.Dialer{Timeout: ProbeTimeout}}, nil
}

// ProbeProxy opens and closes a TCP connection to the proxy.
func (p *HTTPProber) ProbeProxy(ctx context.Context, proxyURL *url.URL) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", proxyHostPort(proxyURL))
	if err != nil {
		return err
	}
	return conn.Close()
}

// ProbeServer issues a GET against the base URI; any status below 400 is reachable.
func (p *HTTPProber) ProbeServer(ctx context.Context, baseURI string) error {
	status, err := p.get(ctx, baseURI)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("base URI responded with status %d", status)
	}
	return nil
}

// ProbeTenant issues a GET against the tenant realm. Only 404 and 405 mean the
// tenant does not exist; other statuses still prove the realm route answers.
func (p *HTTPProber) ProbeTenant(ctx context.Context, realmURL string) error {
	status, err := p.get(ctx, realmURL)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
		return fmt.Errorf("realm responded with status %d", status)
	}
	return nil
}

func (p *HTTPProber) get(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}

func proxyHostPort(proxyURL *url.URL) string {
	if proxyURL.Port() != "" {
		return proxyURL.Host
	}
	port := "80"
	switch proxyURL.Scheme {
	case "https":
		port = "443"
	case "socks5", "socks5h":
		port = "1080"
	}
	return net.JoinHostPort(proxyURL.Hostname(), port)
}
