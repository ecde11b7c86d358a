// Package config loads the relying-party configuration from YAML with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "15m" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderConfig holds one identity provider's credentials.
type ProviderConfig struct {
	// Type selects the client implementation: google | github | oidc.
	Type         string   `yaml:"type"`
	IssuerURL    string   `yaml:"issuer_url,omitempty"` // oidc only
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// SSOCookieConfig maps request hosts onto the name of the auxiliary
// "logged in to SSO" flag cookie. The host branching is environment data, not
// code.
type SSOCookieConfig struct {
	DefaultName string            `yaml:"default_name"`
	Hosts       map[string]string `yaml:"hosts,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Session struct {
		Backend  string   `yaml:"backend"` // memory | redis
		TokenTTL Duration `yaml:"token_ttl"`
		UserTTL  Duration `yaml:"user_ttl"`
		Redis    struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"session"`

	Storage struct {
		Driver string `yaml:"driver"` // memory | postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Registration struct {
		Mode     string `yaml:"mode"` // admin_only | visitors | visitors_approval
		Override bool   `yaml:"override"`
	} `yaml:"registration"`

	// DefaultDestination is the landing path when a flow carries none.
	DefaultDestination string `yaml:"default_destination"`

	SSOCookie SSOCookieConfig `yaml:"sso_cookie"`

	Providers map[string]ProviderConfig `yaml:"providers"`
}

// Load reads and parses the YAML file at path, then applies environment
// overrides of the form OIDC_PROVIDER_<NAME>_SECRET.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Default returns a config with development defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Session.Backend = "memory"
	cfg.Session.TokenTTL = Duration(15 * time.Minute)
	cfg.Session.UserTTL = Duration(24 * time.Hour)
	cfg.Storage.Driver = "memory"
	cfg.Registration.Mode = "admin_only"
	cfg.DefaultDestination = "/"
	cfg.SSOCookie.DefaultName = "sso_logged_in"
	return cfg
}

func (c *Config) applyEnv() {
	for name, pc := range c.Providers {
		if v := os.Getenv(envKey(name, "CLIENT_ID")); v != "" {
			pc.ClientID = v
		}
		if v := os.Getenv(envKey(name, "CLIENT_SECRET")); v != "" {
			pc.ClientSecret = v
		}
		c.Providers[name] = pc
	}
	if v := os.Getenv("OIDC_REDIS_ADDR"); v != "" {
		c.Session.Redis.Addr = v
	}
	if v := os.Getenv("OIDC_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
}

func envKey(provider, suffix string) string {
	out := make([]rune, 0, len(provider))
	for _, r := range provider {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return "OIDC_PROVIDER_" + string(out) + "_" + suffix
}
