// Package shopify implements the Shopify adapter. OAuth endpoints
// are per shop, so the shop domain rides through the connect request
// and the state token. Shopify access tokens do not expire.
package shopify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

const scope = "read_orders,read_customers,read_products"

// apiVersion pins the Admin API revision.
const apiVersion = "2024-01"

// Adapter connects workspaces to Shopify stores.
type Adapter struct {
	clientID     string
	clientSecret string
	redirectURI  string
	client       *http.Client
	// shopBaseURL builds the base URL for a shop domain; tests
	// redirect it at an httptest server.
	shopBaseURL func(shop string) string
}

// Option configures the adapter.
type Option func(*Adapter)

// WithShopBaseURL overrides shop URL construction, for tests.
func WithShopBaseURL(fn func(shop string) string) Option {
	return func(a *Adapter) { a.shopBaseURL = fn }
}

// New creates the Shopify adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		client:       provider.NewHTTPClient(),
		shopBaseURL: func(shop string) string {
			return "https://" + shop
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderShopify }

// normalizeShop validates a shop domain from user input.
func normalizeShop(shop string) (string, error) {
	shop = strings.TrimSpace(strings.ToLower(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimSuffix(shop, "/")

	if shop == "" {
		return "", fmt.Errorf("%w: shop domain is required", core.ErrMalformedState)
	}
	if strings.ContainsAny(shop, "/?#") {
		return "", fmt.Errorf("%w: invalid shop domain %q", core.ErrMalformedState, shop)
	}
	if !strings.Contains(shop, ".") {
		shop += ".myshopify.com"
	}
	return shop, nil
}

// oauthConfig builds the per-shop oauth2 config.
func (a *Adapter) oauthConfig(shop string) *oauth2.Config {
	base := a.shopBaseURL(shop)
	return &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		RedirectURL:  a.redirectURI,
		Scopes:       []string{scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/admin/oauth/authorize",
			TokenURL: base + "/admin/oauth/access_token",
		},
	}
}

// AuthorizeURL builds the shop's consent URL. The shop domain comes
// in through extras and is carried in the state token so the
// callback knows which shop to exchange against.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, extras map[string]string) (string, error) {
	shop, err := normalizeShop(extras["shop"])
	if err != nil {
		return "", err
	}

	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderShopify,
		Extras:      map[string]string{"shop": shop},
	})
	if err != nil {
		return "", err
	}
	return a.oauthConfig(shop).AuthCodeURL(state), nil
}

// ExchangeCode trades the code for a permanent access token against
// the shop recovered from the state.
func (a *Adapter) ExchangeCode(ctx context.Context, code, state string, _ map[string]string) (*core.CredentialBundle, error) {
	payload, err := statetoken.Decode(state)
	if err != nil {
		return nil, err
	}

	shop := payload.Extras["shop"]
	if shop == "" {
		return nil, fmt.Errorf("%w: state missing shop domain", core.ErrMalformedState)
	}

	token, err := a.oauthConfig(shop).Exchange(ctx, code)
	if err != nil {
		return nil, provider.TranslateOAuthError(err)
	}

	return &core.CredentialBundle{
		WorkspaceID: payload.WorkspaceID,
		Provider:    core.ProviderShopify,
		AuthData: core.AuthData{
			core.AuthKeyAccessToken: token.AccessToken,
			core.AuthKeyShopDomain:  shop,
		},
	}, nil
}
