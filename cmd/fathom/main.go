// Fathom daemon - workspace integration hub.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fathomhq/fathom/internal/api"
	"github.com/fathomhq/fathom/internal/config"
	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/provider/facebookads"
	"github.com/fathomhq/fathom/internal/provider/googleads"
	"github.com/fathomhq/fathom/internal/provider/googleanalytics"
	"github.com/fathomhq/fathom/internal/provider/hubspot"
	"github.com/fathomhq/fathom/internal/provider/mailchimp"
	"github.com/fathomhq/fathom/internal/provider/quickbooks"
	"github.com/fathomhq/fathom/internal/provider/salesforce"
	"github.com/fathomhq/fathom/internal/provider/shopify"
	"github.com/fathomhq/fathom/internal/provider/stripe"
	"github.com/fathomhq/fathom/internal/storage"
	"github.com/fathomhq/fathom/internal/syncer"
)

var (
	dataDir    string
	port       int
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fathom",
		Short: "Fathom - connect your workspace to the platforms your business runs on",
		RunE:  runDaemon,
	}

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".fathom")

	rootCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir, "Data directory")
	rootCmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default <data-dir>/config.json)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	fmt.Println("🚀 Starting Fathom...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Vault passphrase: config/env first, interactive prompt as fallback.
	if cfg.Vault.Passphrase == "" {
		fmt.Print("Vault passphrase: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		fmt.Println()
		cfg.Vault.Passphrase = string(raw)
	}
	vault, err := storage.NewVault(cfg.Vault.Passphrase)
	if err != nil {
		return err
	}

	// Open database
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "fathom.db")
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	connections := storage.NewConnectionStore(db, vault)
	events := storage.NewEventStore(db)

	registry := buildRegistry(cfg)

	hub := api.NewEventHub()
	refresher := syncer.NewRefresher(connections, registry)
	dispatcher := syncer.NewDispatcher(connections, events, registry, refresher, hub)

	integrations := api.NewIntegrationsAPI(cfg, registry, connections, events, refresher, dispatcher, hub)
	server := api.NewServer(cfg.Server.Host, cfg.Server.Port, integrations, hub)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\n🛑 Shutting down...")
		server.Stop(context.Background())
	}()

	fmt.Printf("🌐 API listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildRegistry registers an adapter for every provider whose OAuth app
// is configured. A fully empty credential triple disables the provider;
// Stripe is key-based and always available.
func buildRegistry(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()

	oauthAdapters := []struct {
		key  core.ProviderKey
		make func(config.OAuthCredentials) provider.Adapter
	}{
		{core.ProviderGoogleAnalytics, func(c config.OAuthCredentials) provider.Adapter {
			return googleanalytics.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
		{core.ProviderGoogleAds, func(c config.OAuthCredentials) provider.Adapter {
			return googleads.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
		{core.ProviderFacebookAds, func(c config.OAuthCredentials) provider.Adapter {
			return facebookads.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
		{core.ProviderQuickBooks, func(c config.OAuthCredentials) provider.Adapter {
			return quickbooks.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
		{core.ProviderShopify, func(c config.OAuthCredentials) provider.Adapter {
			return shopify.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
		{core.ProviderSalesforce, func(c config.OAuthCredentials) provider.Adapter {
			return salesforce.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
		{core.ProviderHubspot, func(c config.OAuthCredentials) provider.Adapter {
			return hubspot.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
		{core.ProviderMailchimp, func(c config.OAuthCredentials) provider.Adapter {
			return mailchimp.New(c.ClientID, c.ClientSecret, c.RedirectURI)
		}},
	}

	for _, a := range oauthAdapters {
		creds := cfg.Credentials(a.key)
		if !creds.Configured() {
			fmt.Printf("⚠️  %s not configured - provider disabled\n", a.key)
			continue
		}
		registry.Register(a.make(creds))
		fmt.Printf("✅ %s enabled\n", a.key)
	}

	registry.Register(stripe.New())
	fmt.Println("✅ stripe enabled (api key)")

	return registry
}
