// Package googleanalytics implements the GA4 adapter: Google OAuth,
// property listing through the Admin API, and traffic report sync
// through the Data API.
package googleanalytics

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

var scopes = []string{
	"https://www.googleapis.com/auth/analytics.readonly",
	"https://www.googleapis.com/auth/analytics.manage.users.readonly",
}

// AuthKeyPropertyID stores the GA4 property a connection reports on,
// chosen after connect via settings update.
const AuthKeyPropertyID = "propertyId"

// Adapter connects workspaces to Google Analytics 4.
type Adapter struct {
	config *oauth2.Config
	// Extra client options for the generated API services; tests
	// inject option.WithEndpoint here.
	dataOpts  []option.ClientOption
	adminOpts []option.ClientOption
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the OAuth endpoints, for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(a *Adapter) { a.config.Endpoint = ep }
}

// WithDataOptions appends client options for the Data API service.
func WithDataOptions(opts ...option.ClientOption) Option {
	return func(a *Adapter) { a.dataOpts = append(a.dataOpts, opts...) }
}

// WithAdminOptions appends client options for the Admin API service.
func WithAdminOptions(opts ...option.ClientOption) Option {
	return func(a *Adapter) { a.adminOpts = append(a.adminOpts, opts...) }
}

// New creates the Google Analytics adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderGoogleAnalytics }

// AuthorizeURL builds the Google consent URL. Offline access plus
// forced consent is the only combination that reliably yields a
// refresh token.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, _ map[string]string) (string, error) {
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderGoogleAnalytics,
	})
	if err != nil {
		return "", err
	}
	return a.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// ExchangeCode trades the authorization code for tokens.
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
		Provider:    core.ProviderGoogleAnalytics,
		AuthData:    provider.AuthDataFromToken(token),
	}, nil
}

// RefreshToken renews the access token. Google keeps the refresh
// token stable unless the user revokes access.
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

// httpClient builds an authenticated client from stored auth data.
func (a *Adapter) httpClient(ctx context.Context, auth core.AuthData) (option.ClientOption, error) {
	if auth.AccessToken() == "" {
		return nil, fmt.Errorf("%w: connection has no access token", core.ErrReauthRequired)
	}
	return option.WithHTTPClient(a.config.Client(ctx, provider.TokenFromAuthData(auth))), nil
}
