package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fathomhq/fathom/internal/core"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.FrontendURL != "http://localhost:3000" {
		t.Errorf("frontend url = %q", cfg.FrontendURL)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"frontend_url": "https://app.example.com",
		"oauth": {
			"facebook": {
				"client_id": "fb-id",
				"client_secret": "fb-secret",
				"redirect_uri": "https://api.example.com/integrations/facebook_ads/callback"
			}
		}
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FACEBOOK_CLIENT_SECRET", "env-secret")
	t.Setenv("FATHOM_VAULT_PASSPHRASE", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FrontendURL != "https://app.example.com" {
		t.Errorf("frontend url = %q", cfg.FrontendURL)
	}
	if got := cfg.OAuth.Facebook.ClientSecret; got != "env-secret" {
		t.Errorf("client secret = %q, want env override", got)
	}
	if cfg.OAuth.Facebook.ClientID != "fb-id" {
		t.Errorf("client id = %q, want file value", cfg.OAuth.Facebook.ClientID)
	}
	if cfg.Vault.Passphrase != "hunter2" {
		t.Errorf("vault passphrase = %q", cfg.Vault.Passphrase)
	}
}

func TestValidatePartialTriple(t *testing.T) {
	cfg := Default()
	cfg.OAuth.QuickBooks.ClientID = "qb-id"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for partial quickbooks credentials")
	}
	if !strings.Contains(err.Error(), "quickbooks") {
		t.Errorf("error %q does not name quickbooks", err)
	}
}

func TestValidateEmptyAndCompleteTriples(t *testing.T) {
	cfg := Default()
	cfg.OAuth.Google = OAuthCredentials{
		ClientID:     "g-id",
		ClientSecret: "g-secret",
		RedirectURI:  "https://api.example.com/integrations/google_analytics/callback",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCredentialsSharedGoogleApp(t *testing.T) {
	cfg := Default()
	cfg.OAuth.Google.ClientID = "g-id"

	ga := cfg.Credentials(core.ProviderGoogleAnalytics)
	ads := cfg.Credentials(core.ProviderGoogleAds)
	if ga.ClientID != "g-id" || ads.ClientID != "g-id" {
		t.Errorf("google analytics and google ads should share one app, got %q / %q",
			ga.ClientID, ads.ClientID)
	}
}
