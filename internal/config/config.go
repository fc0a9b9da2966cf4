// Package config handles Fathom configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fathomhq/fathom/internal/core"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Browser-facing redirect targets after an OAuth callback.
	FrontendURL string `json:"frontend_url"`

	// Per-provider OAuth app credentials. A fully empty triple means
	// the provider is disabled; a partially filled one is a startup
	// error.
	OAuth OAuthConfig `json:"oauth"`

	// Vault
	Vault VaultConfig `json:"vault"`
}

// ServerConfig for the HTTP server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// OAuthCredentials is one client-id/secret/redirect triple.
type OAuthCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// Configured reports whether the triple is fully present.
func (c OAuthCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURI != ""
}

// Empty reports whether the triple is fully absent.
func (c OAuthCredentials) Empty() bool {
	return c.ClientID == "" && c.ClientSecret == "" && c.RedirectURI == ""
}

// OAuthConfig carries credentials per provider. Google Analytics and
// Google Ads share one Google OAuth app, as the upstream console does.
type OAuthConfig struct {
	Google     OAuthCredentials `json:"google"`
	Facebook   OAuthCredentials `json:"facebook"`
	QuickBooks OAuthCredentials `json:"quickbooks"`
	Shopify    OAuthCredentials `json:"shopify"`
	Salesforce OAuthCredentials `json:"salesforce"`
	Hubspot    OAuthCredentials `json:"hubspot"`
	Mailchimp  OAuthCredentials `json:"mailchimp"`
}

// VaultConfig for credential encryption at rest. The passphrase is
// never written to the config file.
type VaultConfig struct {
	Passphrase string `json:"-"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".fathom"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		FrontendURL: "http://localhost:3000",
	}
}

// Load loads config from file, falling back to defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded config.
func (c *Config) applyEnv() {
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		c.FrontendURL = v
	}
	if v := os.Getenv("FATHOM_VAULT_PASSPHRASE"); v != "" {
		c.Vault.Passphrase = v
	}

	overlay := func(dst *OAuthCredentials, prefix string) {
		if v := os.Getenv(prefix + "_CLIENT_ID"); v != "" {
			dst.ClientID = v
		}
		if v := os.Getenv(prefix + "_CLIENT_SECRET"); v != "" {
			dst.ClientSecret = v
		}
		if v := os.Getenv(prefix + "_REDIRECT_URI"); v != "" {
			dst.RedirectURI = v
		}
	}
	overlay(&c.OAuth.Google, "GOOGLE")
	overlay(&c.OAuth.Facebook, "FACEBOOK")
	overlay(&c.OAuth.QuickBooks, "QUICKBOOKS")
	overlay(&c.OAuth.Shopify, "SHOPIFY")
	overlay(&c.OAuth.Salesforce, "SALESFORCE")
	overlay(&c.OAuth.Hubspot, "HUBSPOT")
	overlay(&c.OAuth.Mailchimp, "MAILCHIMP")
}

// Credentials returns the triple backing a provider key.
func (c *Config) Credentials(key core.ProviderKey) OAuthCredentials {
	switch key {
	case core.ProviderGoogleAnalytics, core.ProviderGoogleAds:
		return c.OAuth.Google
	case core.ProviderFacebookAds:
		return c.OAuth.Facebook
	case core.ProviderQuickBooks:
		return c.OAuth.QuickBooks
	case core.ProviderShopify:
		return c.OAuth.Shopify
	case core.ProviderSalesforce:
		return c.OAuth.Salesforce
	case core.ProviderHubspot:
		return c.OAuth.Hubspot
	case core.ProviderMailchimp:
		return c.OAuth.Mailchimp
	}
	return OAuthCredentials{}
}

// Validate fails fast on partially configured providers so a missing
// secret surfaces at startup, not on the first callback.
func (c *Config) Validate() error {
	var incomplete []string
	check := func(name string, creds OAuthCredentials) {
		if !creds.Empty() && !creds.Configured() {
			incomplete = append(incomplete, name)
		}
	}
	check("google", c.OAuth.Google)
	check("facebook", c.OAuth.Facebook)
	check("quickbooks", c.OAuth.QuickBooks)
	check("shopify", c.OAuth.Shopify)
	check("salesforce", c.OAuth.Salesforce)
	check("hubspot", c.OAuth.Hubspot)
	check("mailchimp", c.OAuth.Mailchimp)

	if len(incomplete) > 0 {
		return fmt.Errorf("incomplete oauth credentials for: %s",
			strings.Join(incomplete, ", "))
	}
	return nil
}

// SuccessRedirect is where the browser lands after a good callback.
func (c *Config) SuccessRedirect() string {
	return c.FrontendURL + "/dashboard/sources?connect=success"
}

// ErrorRedirect is where the browser lands after a failed callback.
// Deliberately generic; detail stays in the logs.
func (c *Config) ErrorRedirect() string {
	return c.FrontendURL + "/dashboard/sources?connect=error"
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
