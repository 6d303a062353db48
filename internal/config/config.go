// Package config loads the server configuration from YAML with environment
// overrides for secrets and the storage DSN.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultAuthCodeTTL     = 10 * time.Minute
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr         string `yaml:"addr"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Issuer string `yaml:"issuer"`

	JWT struct {
		// Secret is the HMAC key, >= 32 bytes. Env override: CLAVE_JWT_SECRET.
		Secret string `yaml:"secret"`
	} `yaml:"jwt"`

	// SessionKey backs the opaque consent-session cookies (hex, 64 bytes
	// recommended). Env override: CLAVE_SESSION_KEY.
	SessionKey string `yaml:"session_key"`

	Tokens struct {
		AccessTTL       string `yaml:"access_ttl"`
		RefreshTTL      string `yaml:"refresh_ttl"`
		AuthCodeTTL     string `yaml:"auth_code_ttl"`
		RefreshRotation *bool  `yaml:"refresh_rotation"` // default on
	} `yaml:"tokens"`

	Grants struct {
		// Enabled subset of authorization_code, client_credentials,
		// refresh_token, password. password is off unless listed.
		Enabled []string `yaml:"enabled"`
	} `yaml:"grants"`

	Scopes struct {
		Supported []string `yaml:"supported"`
	} `yaml:"scopes"`

	PKCE struct {
		// Methods subset of {S256, plain}. Default: S256 only.
		Methods                  []string `yaml:"methods"`
		RequiredForPublicClients *bool    `yaml:"required_for_public_clients"` // default true
	} `yaml:"pkce"`

	Storage struct {
		Driver string `yaml:"driver"` // memory | postgres
		DSN    string `yaml:"dsn"`    // env override: CLAVE_STORAGE_URL
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Rate struct {
		Enabled bool    `yaml:"enabled"`
		PerSec  float64 `yaml:"per_sec"`
		Burst   int     `yaml:"burst"`
	} `yaml:"rate"`

	Events struct {
		Sink       string   `yaml:"sink"` // log | rabbit | none
		Buffer     int      `yaml:"buffer"`
		FilterMode string   `yaml:"filter_mode"` // allow_all | include | exclude
		Types      []string `yaml:"types"`
		Rabbit     struct {
			URL        string `yaml:"url"` // env override: CLAVE_AMQP_URL
			Exchange   string `yaml:"exchange"`
			RoutingKey string `yaml:"routing_key"`
		} `yaml:"rabbit"`
	} `yaml:"events"`
}

// Load reads the YAML file, applies env overrides and defaults, and
// validates required keys.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	applyEnv(&c)
	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("CLAVE_ISSUER"); v != "" {
		c.Issuer = v
	}
	if v := os.Getenv("CLAVE_JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("CLAVE_SESSION_KEY"); v != "" {
		c.SessionKey = v
	}
	if v := os.Getenv("CLAVE_STORAGE_URL"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("CLAVE_AMQP_URL"); v != "" {
		c.Events.Rabbit.URL = v
	}
	if v := os.Getenv("CLAVE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CLAVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func applyDefaults(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if len(c.Grants.Enabled) == 0 {
		// OAuth 2.0 Security BCP: password stays off unless explicitly enabled.
		c.Grants.Enabled = []string{"authorization_code", "client_credentials", "refresh_token"}
	}
	if len(c.PKCE.Methods) == 0 {
		c.PKCE.Methods = []string{"S256"}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Events.Sink == "" {
		c.Events.Sink = "log"
	}
	if c.Events.FilterMode == "" {
		c.Events.FilterMode = "allow_all"
	}
	if c.Rate.PerSec <= 0 {
		c.Rate.PerSec = 10
	}
	if c.Rate.Burst <= 0 {
		c.Rate.Burst = 20
	}
}

// Validate checks required keys and value domains.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("config: issuer is required")
	}
	if !strings.HasPrefix(c.Issuer, "http://") && !strings.HasPrefix(c.Issuer, "https://") {
		return fmt.Errorf("config: issuer must be an absolute URL")
	}
	if strings.ToLower(c.App.Env) == "prod" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("config: jwt secret must be at least 32 bytes in prod")
	}
	for _, g := range c.Grants.Enabled {
		switch g {
		case "authorization_code", "client_credentials", "refresh_token", "password":
		default:
			return fmt.Errorf("config: unknown grant %q", g)
		}
	}
	for _, m := range c.PKCE.Methods {
		if m != "S256" && m != "plain" {
			return fmt.Errorf("config: unknown code_challenge_method %q", m)
		}
	}
	switch c.Events.FilterMode {
	case "allow_all", "include", "exclude":
	default:
		return fmt.Errorf("config: unknown event filter mode %q", c.Events.FilterMode)
	}
	return nil
}

// GrantEnabled reports whether the grant type is in the enabled set.
func (c *Config) GrantEnabled(grant string) bool {
	for _, g := range c.Grants.Enabled {
		if g == grant {
			return true
		}
	}
	return false
}

// PKCEMethodEnabled reports whether the challenge method is advertised.
func (c *Config) PKCEMethodEnabled(method string) bool {
	for _, m := range c.PKCE.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// RefreshRotationEnabled defaults to on.
func (c *Config) RefreshRotationEnabled() bool {
	if c.Tokens.RefreshRotation == nil {
		return true
	}
	return *c.Tokens.RefreshRotation
}

// PKCERequiredForPublicClients defaults to true.
func (c *Config) PKCERequiredForPublicClients() bool {
	if c.PKCE.RequiredForPublicClients == nil {
		return true
	}
	return *c.PKCE.RequiredForPublicClients
}

// AccessTokenTTL parses the configured duration, defaulting to 1 hour.
func (c *Config) AccessTokenTTL() time.Duration {
	return parseTTL(c.Tokens.AccessTTL, DefaultAccessTokenTTL)
}

// RefreshTokenTTL parses the configured duration, defaulting to 7 days.
func (c *Config) RefreshTokenTTL() time.Duration {
	return parseTTL(c.Tokens.RefreshTTL, DefaultRefreshTokenTTL)
}

// AuthCodeTTL parses the configured duration, defaulting to 10 minutes and
// capped at 10 minutes.
func (c *Config) AuthCodeTTL() time.Duration {
	ttl := parseTTL(c.Tokens.AuthCodeTTL, DefaultAuthCodeTTL)
	if ttl > DefaultAuthCodeTTL {
		ttl = DefaultAuthCodeTTL
	}
	return ttl
}

func parseTTL(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	// Accept bare seconds too
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
