// Package config provides configuration management for cxlogin.
// It handles loading and parsing the YAML configuration file and resolving
// the effective proxy settings from the environment, the file and CLI overrides.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/router-for-me/cxlogin/internal/auth"
)

// Supported proxy authentication types.
const (
	ProxyAuthBasic = "basic"
	ProxyAuthNTLM  = "ntlm"
)

// proxyEnvKeys lists proxy environment variables in lookup order.
var proxyEnvKeys = []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"}

// ProxyConfig holds the proxy settings shared by every outbound request.
type ProxyConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// Credentials for basic authentication are carried in the userinfo part.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// ProxyAuthType selects how the proxy authenticates ("basic" or "ntlm").
	ProxyAuthType string `yaml:"proxy-auth-type,omitempty" json:"proxy-auth-type,omitempty"`

	// ProxyNTLMDomain is the Windows domain used with NTLM proxy authentication.
	ProxyNTLMDomain string `yaml:"proxy-ntlm-domain,omitempty" json:"proxy-ntlm-domain,omitempty"`
}

// Enabled reports whether a proxy URL is set.
func (p ProxyConfig) Enabled() bool {
	return strings.TrimSpace(p.ProxyURL) != ""
}

// Parse returns the parsed proxy URL, or nil when no proxy is configured.
func (p ProxyConfig) Parse() (*url.URL, error) {
	raw := strings.TrimSpace(p.ProxyURL)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	proxyURL, err := url.Parse(raw)
	if err != nil {
		return nil, auth.Wrap(auth.KindInvalidInput, "proxy URL is not valid", err)
	}
	switch proxyURL.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, auth.Newf(auth.KindInvalidInput, "unsupported proxy scheme %q", proxyURL.Scheme)
	}
	if proxyURL.Host == "" {
		return nil, auth.New(auth.KindInvalidInput, "proxy URL has no host")
	}
	return proxyURL, nil
}

// ResolveProxy merges proxy settings from the environment and the given layers.
// Layers are applied in order, so later layers win; pass the config file
// settings first and CLI overrides last. Empty fields never override.
func ResolveProxy(lookupEnv func(string) (string, bool), layers ...ProxyConfig) (ProxyConfig, error) {
	var resolved ProxyConfig
	if lookupEnv != nil {
		for _, key := range proxyEnvKeys {
			if value, ok := lookupEnv(key); ok && strings.TrimSpace(value) != "" {
				resolved.ProxyURL = strings.TrimSpace(value)
				break
			}
		}
	}
	for _, layer := range layers {
		if v := strings.TrimSpace(layer.ProxyURL); v != "" {
			resolved.ProxyURL = v
		}
		if v := strings.TrimSpace(layer.ProxyAuthType); v != "" {
			resolved.ProxyAuthType = strings.ToLower(v)
		}
		if v := strings.TrimSpace(layer.ProxyNTLMDomain); v != "" {
			resolved.ProxyNTLMDomain = v
		}
	}

	switch resolved.ProxyAuthType {
	case "", ProxyAuthBasic:
	case ProxyAuthNTLM:
		if resolved.Enabled() {
			return resolved, auth.New(auth.KindInvalidInput, "NTLM proxy authentication is not supported; use basic authentication")
		}
	default:
		return resolved, auth.Newf(auth.KindInvalidInput, "unknown proxy auth type %q", resolved.ProxyAuthType)
	}
	if _, err := resolved.Parse(); err != nil {
		return resolved, err
	}
	return resolved, nil
}

// Redacted returns the proxy URL with any password masked, for logging.
func (p ProxyConfig) Redacted() string {
	proxyURL, err := p.Parse()
	if err != nil || proxyURL == nil {
		return fmt.Sprintf("%q", p.ProxyURL)
	}
	return proxyURL.Redacted()
}
