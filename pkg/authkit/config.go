package authkit

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/veltaid/authkit/pkg/storage"
)

const (
	defaultRedirectURI = "http://localhost:8080/callback"
	defaultScope       = "openid profile email"
)

// Navigator sends the user agent to a URL. Desktop apps open a browser, CLIs
// print the URL, tests record it.
type Navigator interface {
	Navigate(url string) error
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(url string) error

func (f NavigatorFunc) Navigate(url string) error { return f(url) }

// Config configures a Client. Domain and ClientID are required; every other
// field has a usable default.
type Config struct {
	// Domain is the provider base URL, e.g. "https://auth.example.com".
	// A trailing slash is stripped.
	Domain string

	// ClientID identifies this application to the provider.
	ClientID string

	// TenantID scopes credential logins to a tenant. Optional.
	TenantID string

	// RedirectURI is where the provider sends the user back after
	// authorization. Defaults to http://localhost:8080/callback.
	RedirectURI string

	// Scope is the space-delimited scope list requested at authorization.
	// Defaults to "openid profile email".
	Scope string

	// DisableAutoRefresh turns off the proactive refresh timer. Reactive
	// refresh on expired access still happens.
	DisableAutoRefresh bool

	// Storage holds the long-lived token set. Defaults to in-memory.
	Storage storage.Adapter

	// FlowStorage holds transient flow artifacts (verifier, state, nonce).
	// Defaults to Storage.
	FlowStorage storage.Adapter

	// HTTPClient is used for all provider requests. Defaults to a client
	// with a 30 second timeout.
	HTTPClient *http.Client

	// Logger receives SDK diagnostics. Defaults to a discarding logger.
	Logger *slog.Logger

	// Navigator sends the user agent to the authorization URL during
	// redirect logins. Required only for StartRedirectLogin and
	// StartSocialLogin.
	Navigator Navigator

	// ClockSkew is the leeway subtracted from token expiry. Defaults to 30
	// seconds.
	ClockSkew time.Duration
}

func (c *Config) applyDefaults() {
	c.Domain = strings.TrimRight(c.Domain, "/")
	if c.RedirectURI == "" {
		c.RedirectURI = defaultRedirectURI
	}
	if c.Scope == "" {
		c.Scope = defaultScope
	}
	if c.Storage == nil {
		c.Storage = storage.NewMemory()
	}
	if c.FlowStorage == nil {
		c.FlowStorage = c.Storage
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

func (c *Config) validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: Domain is required")
	}
	if !strings.HasPrefix(c.Domain, "http://") && !strings.HasPrefix(c.Domain, "https://") {
		return fmt.Errorf("config: Domain must be an absolute http(s) URL, got %q", c.Domain)
	}
	if c.ClientID == "" {
		return fmt.Errorf("config: ClientID is required")
	}
	return nil
}

// LoadConfigFromEnv builds a Config from AUTHKIT_* environment variables.
// Storage, logging and navigation still need to be set by the caller.
func LoadConfigFromEnv() Config {
	return Config{
		Domain:             os.Getenv("AUTHKIT_DOMAIN"),
		ClientID:           os.Getenv("AUTHKIT_CLIENT_ID"),
		TenantID:           os.Getenv("AUTHKIT_TENANT_ID"),
		RedirectURI:        getEnvOrDefault("AUTHKIT_REDIRECT_URI", defaultRedirectURI),
		Scope:              getEnvOrDefault("AUTHKIT_SCOPE", defaultScope),
		DisableAutoRefresh: os.Getenv("AUTHKIT_DISABLE_AUTO_REFRESH") == "true",
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
