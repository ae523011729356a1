package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultClientID is the OAuth client registered for IDE integrations.
	DefaultClientID = "ide-integration"
	// DefaultScope requests a refresh token alongside the identity.
	DefaultScope = "openid offline_access"
	// DefaultCallbackTimeout bounds the browser round trip.
	DefaultCallbackTimeout = 60 * time.Second
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	ProxyConfig `yaml:",inline"`

	// BaseURI is the root URL of the platform, e.g. https://eu.ast.example.com.
	BaseURI string `yaml:"base-uri" json:"base-uri"`

	// Tenant is the identity provider realm of the customer organization.
	Tenant string `yaml:"tenant" json:"tenant"`

	// ClientID is the OAuth client used for the authorization code flow.
	ClientID string `yaml:"client-id,omitempty" json:"client-id,omitempty"`

	// Scope is the space separated scope list requested from the identity provider.
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`

	// ProductVariant distinguishes sibling products sharing one machine so their
	// stored credentials never collide. Empty selects the standard variant.
	ProductVariant string `yaml:"product-variant,omitempty" json:"product-variant,omitempty"`

	// CallbackTimeoutSeconds overrides how long the local callback server waits.
	CallbackTimeoutSeconds int `yaml:"callback-timeout-seconds,omitempty" json:"callback-timeout-seconds,omitempty"`

	// FeatureFlags lists the tenant flags recomputed after every validation.
	FeatureFlags []string `yaml:"feature-flags,omitempty" json:"feature-flags,omitempty"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for log files; defaults to "logs" under the config directory.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// LogMaxBackups is how many rotated log files are kept. Zero selects the default.
	LogMaxBackups int `yaml:"log-max-backups,omitempty" json:"log-max-backups,omitempty"`

	// LogMaxAgeDays removes rotated log files older than this many days. Zero selects the default.
	LogMaxAgeDays int `yaml:"log-max-age-days,omitempty" json:"log-max-age-days,omitempty"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file. When optional is true a
// missing file yields the defaults instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(configFile) == "" {
		if !optional {
			return nil, fmt.Errorf("config: file path is required")
		}
		cfg.ApplyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
	}
	if len(data) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", configFile, err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// SaveConfig writes cfg to configFile as YAML.
func SaveConfig(configFile string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nothing to save")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal failed: %w", err)
	}
	if err = os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("config: write failed: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	c.BaseURI = strings.TrimRight(strings.TrimSpace(c.BaseURI), "/")
	c.Tenant = strings.TrimSpace(c.Tenant)
	if strings.TrimSpace(c.ClientID) == "" {
		c.ClientID = DefaultClientID
	}
	if strings.TrimSpace(c.Scope) == "" {
		c.Scope = DefaultScope
	}
	if c.CallbackTimeoutSeconds < 0 {
		c.CallbackTimeoutSeconds = 0
	}
}

// CallbackTimeout returns the configured callback deadline.
func (c *Config) CallbackTimeout() time.Duration {
	if c == nil || c.CallbackTimeoutSeconds <= 0 {
		return DefaultCallbackTimeout
	}
	return time.Duration(c.CallbackTimeoutSeconds) * time.Second
}

// Endpoints returns the realm scoped identity provider endpoints for a base URI and tenant.
type Endpoints struct {
	Realm     string
	Authorize string
	Token     string
}

// RealmEndpoints derives the identity provider endpoints for baseURI and tenant.
func RealmEndpoints(baseURI, tenant string) Endpoints {
	base := strings.TrimRight(strings.TrimSpace(baseURI), "/")
	realm := fmt.Sprintf("%s/auth/realms/%s", base, url.PathEscape(strings.TrimSpace(tenant)))
	return Endpoints{
		Realm:     realm,
		Authorize: realm + "/protocol/openid-connect/auth",
		Token:     realm + "/protocol/openid-connect/token",
	}
}
