// Package googleads implements the Google Ads adapter. Only the
// connection lifecycle is supported; report sync requires a developer
// token and is not implemented, so the adapter deliberately does not
// expose the sync capability.
package googleads

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

const scope = "https://www.googleapis.com/auth/adwords"

// Adapter connects workspaces to Google Ads.
type Adapter struct {
	config *oauth2.Config
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the OAuth endpoints, for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(a *Adapter) { a.config.Endpoint = ep }
}

// New creates the Google Ads adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{scope},
			Endpoint:     google.Endpoint,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderGoogleAds }

// AuthorizeURL builds the Google consent URL.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, _ map[string]string) (string, error) {
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderGoogleAds,
	})
	if err != nil {
		return "", err
	}
	return a.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// ExchangeCode trades the code for tokens. A response without a
// refresh token is rejected: Ads API access is useless once the
// short-lived access token lapses.
func (a *Adapter) ExchangeCode(ctx context.Context, code, state string, _ map[string]string) (*core.CredentialBundle, error) {
	payload, err := statetoken.Decode(state)
	if err != nil {
		return nil, err
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, provider.TranslateOAuthError(err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token response missing refresh token", core.ErrUpstreamAuth)
	}

	return &core.CredentialBundle{
		WorkspaceID: payload.WorkspaceID,
		Provider:    core.ProviderGoogleAds,
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
