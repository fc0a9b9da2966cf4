// Package quickbooks implements the QuickBooks Online adapter:
// OAuth against Intuit, token refresh with rotating refresh tokens,
// and accounting report sync.
package quickbooks

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

// Intuit OAuth endpoints. The token endpoint wants the client
// credentials in the Authorization header, not the form body.
var defaultEndpoint = oauth2.Endpoint{
	AuthURL:   "https://appcenter.intuit.com/connect/oauth2",
	TokenURL:  "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
	AuthStyle: oauth2.AuthStyleInHeader,
}

const scope = "com.intuit.quickbooks.accounting openid profile email"

// defaultAPIBase is the production QuickBooks API host.
const defaultAPIBase = "https://quickbooks.api.intuit.com"

// Adapter connects workspaces to QuickBooks Online.
type Adapter struct {
	config  *oauth2.Config
	apiBase string
	client  *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the OAuth endpoints, for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(a *Adapter) { a.config.Endpoint = ep }
}

// WithAPIBase overrides the report API host, for tests.
func WithAPIBase(base string) Option {
	return func(a *Adapter) { a.apiBase = base }
}

// New creates the QuickBooks adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{scope},
			Endpoint:     defaultEndpoint,
		},
		apiBase: defaultAPIBase,
		client:  provider.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderQuickBooks }

// AuthorizeURL builds the Intuit consent URL.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, _ map[string]string) (string, error) {
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderQuickBooks,
	})
	if err != nil {
		return "", err
	}
	return a.config.AuthCodeURL(state), nil
}

// ExchangeCode trades the authorization code for tokens. Intuit sends
// the company realm ID as a callback query parameter, not in the
// token response, so it arrives through extras.
func (a *Adapter) ExchangeCode(ctx context.Context, code, state string, extras map[string]string) (*core.CredentialBundle, error) {
	payload, err := statetoken.Decode(state)
	if err != nil {
		return nil, err
	}

	realmID := extras["realmId"]
	if realmID == "" {
		return nil, fmt.Errorf("%w: callback missing realmId", core.ErrUpstreamAuth)
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, provider.TranslateOAuthError(err)
	}

	auth := provider.AuthDataFromToken(token)
	auth[core.AuthKeyRealmID] = realmID

	return &core.CredentialBundle{
		WorkspaceID: payload.WorkspaceID,
		Provider:    core.ProviderQuickBooks,
		AuthData:    auth,
	}, nil
}

// RefreshToken renews the access token. Intuit rotates the refresh
// token on every renewal, so the returned bundle always carries the
// latest one.
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
		// Keep the old one if the endpoint did not rotate.
		updated[core.AuthKeyRefreshToken] = refreshToken
	}
	return updated, nil
}
