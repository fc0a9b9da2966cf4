// Package provider defines the adapter surface that each third-party
// platform implements, plus the registry that resolves them.
package provider

import (
	"context"

	"github.com/fathomhq/fathom/internal/core"
)

// Adapter is the minimum surface every provider implements: building
// the authorization redirect and turning a callback into stored
// credentials.
type Adapter interface {
	// Key identifies the provider in the catalog.
	Key() core.ProviderKey

	// AuthorizeURL builds the upstream consent URL for a workspace.
	// Extras carry provider-specific parameters from the connect
	// request, like the Shopify shop domain.
	AuthorizeURL(workspaceID core.WorkspaceID, extras map[string]string) (string, error)

	// ExchangeCode turns an authorization code into a credential
	// bundle. State is the opaque token round-tripped through the
	// upstream redirect; extras carry callback query parameters the
	// provider needs, like the QuickBooks realmId.
	ExchangeCode(ctx context.Context, code, state string, extras map[string]string) (*core.CredentialBundle, error)
}

// TokenRefresher is implemented by adapters whose access tokens
// expire and can be renewed with a refresh token.
type TokenRefresher interface {
	// RefreshToken exchanges the stored refresh token for new
	// credentials. Returns the partial auth data to merge into the
	// stored record. A permanently revoked grant returns
	// core.ErrReauthRequired.
	RefreshToken(ctx context.Context, auth core.AuthData) (core.AuthData, error)
}

// Syncer is implemented by adapters that can pull data from the
// upstream platform.
type Syncer interface {
	// Sync fetches and normalizes the provider's data for a
	// connection. The result is persisted as a raw event. All
	// sub-fetches succeed or the whole sync fails.
	Sync(ctx context.Context, conn *core.Connection) (any, error)
}

// KeySaver is implemented by API-key providers that accept a key
// directly instead of running an OAuth flow.
type KeySaver interface {
	// SaveKey validates an API key against the upstream and returns
	// the credential bundle to store.
	SaveKey(ctx context.Context, workspaceID core.WorkspaceID, apiKey string) (*core.CredentialBundle, error)
}

// EmptyResult is returned by Sync when the upstream account is valid
// but has nothing to pull, like an ad platform with no ad accounts.
type EmptyResult struct {
	Message string `json:"message"`
}
