// Package util provides helpers shared across cxlogin: proxy-aware HTTP client
// construction, path resolution and log level management.
package util

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/router-for-me/cxlogin/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// DefaultMaxRedirects is the redirect budget used when ClientOptions leaves it unset.
const DefaultMaxRedirects = 5

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	// Proxy is the resolved proxy configuration; a disabled proxy dials directly.
	Proxy config.ProxyConfig
	// Timeout bounds each request including redirects.
	Timeout time.Duration
	// MaxRedirects caps followed redirects. Zero selects DefaultMaxRedirects,
	// a negative value disables following.
	MaxRedirects int
}

// NewHTTPClient builds an HTTP client honouring the proxy, timeout and redirect limit.
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	client := &http.Client{Timeout: opts.Timeout}

	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if maxRedirects < 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	if _, err := SetProxy(opts.Proxy, client); err != nil {
		return nil, err
	}
	return client, nil
}

// SetProxy configures the provided HTTP client with the proxy settings.
// It supports SOCKS5, HTTP, and HTTPS proxies. Without a proxy the client gets
// a transport that ignores the environment, because the environment has
// already been folded into cfg by config.ResolveProxy.
func SetProxy(cfg config.ProxyConfig, httpClient *http.Client) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	proxyURL, err := cfg.Parse()
	if err != nil {
		return httpClient, err
	}
	if proxyURL != nil {
		switch proxyURL.Scheme {
		case "socks5", "socks5h":
			// Configure SOCKS5 proxy with optional authentication.
			var proxyAuth *proxy.Auth
			if proxyURL.User != nil {
				username := proxyURL.User.Username()
				password, _ := proxyURL.User.Password()
				proxyAuth = &proxy.Auth{User: username, Password: password}
			}
			dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
			if errSOCKS5 != nil {
				log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
				return httpClient, fmt.Errorf("create SOCKS5 dialer failed: %w", errSOCKS5)
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
					return contextDialer.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			}
		default:
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		log.Debugf("outbound requests use proxy %s", proxyURL.Redacted())
	}
	httpClient.Transport = transport
	return httpClient, nil
}
