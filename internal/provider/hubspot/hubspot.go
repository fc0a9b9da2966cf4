// Package hubspot implements the HubSpot adapter. The authorize and
// token hosts differ (app.hubspot.com vs api.hubapi.com).
package hubspot

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

var defaultEndpoint = oauth2.Endpoint{
	AuthURL:  "https://app.hubspot.com/oauth/authorize",
	TokenURL: "https://api.hubapi.com/oauth/v1/token",
}

var scopes = []string{"crm.objects.contacts.read", "crm.objects.deals.read"}

// Adapter connects workspaces to HubSpot.
type Adapter struct {
	config *oauth2.Config
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the OAuth endpoints, for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(a *Adapter) { a.config.Endpoint = ep }
}

// New creates the HubSpot adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     defaultEndpoint,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderHubspot }

// AuthorizeURL builds the HubSpot consent URL.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, _ map[string]string) (string, error) {
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderHubspot,
	})
	if err != nil {
		return "", err
	}
	return a.config.AuthCodeURL(state), nil
}

// ExchangeCode trades the code for tokens.
func (a *Adapter) ExchangeCode(ctx context.Context, code, state string, _ map[string]string) (*core.CredentialBundle, error) {
	payload, err := statetoken.Decode(state)
	if err != nil {
		return nil, err
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, provider.TranslateOAuthError(err)
	}

	return &core.CredentialBundle{
		WorkspaceID: payload.WorkspaceID,
		Provider:    core.ProviderHubspot,
		AuthData:    provider.AuthDataFromToken(token),
	}, nil
}

// RefreshToken renews the access token.
func (a *Adapter) RefreshToken(ctx context.Context, auth core.AuthData) (core.AuthData, error) {
	refreshToken := auth.RefreshToken()
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", core.ErrReauthRequired)
	}

	src := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, provider.TranslateOAuthError(err)
	}

	updated := provider.AuthDataFromToken(token)
	if updated.RefreshToken() == "" {
		updated[core.AuthKeyRefreshToken] = refreshToken
	}
	return updated, nil
}
