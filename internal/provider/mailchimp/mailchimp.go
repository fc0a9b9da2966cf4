// Package mailchimp implements the Mailchimp adapter. Tokens do not
// expire; the post-exchange metadata call resolves which data center
// hosts the account's API.
package mailchimp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

const defaultLoginBase = "https://login.mailchimp.com"

// AuthKeyAPIEndpoint stores the data-center-specific API base URL
// returned by the metadata call.
const AuthKeyAPIEndpoint = "apiEndpoint"

// Adapter connects workspaces to Mailchimp.
type Adapter struct {
	config    *oauth2.Config
	loginBase string
	client    *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithLoginBase overrides the login host, for tests.
func WithLoginBase(base string) Option {
	return func(a *Adapter) {
		a.loginBase = base
		a.config.Endpoint = oauth2.Endpoint{
			AuthURL:  base + "/oauth2/authorize",
			TokenURL: base + "/oauth2/token",
		}
	}
}

// New creates the Mailchimp adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  defaultLoginBase + "/oauth2/authorize",
				TokenURL: defaultLoginBase + "/oauth2/token",
			},
		},
		loginBase: defaultLoginBase,
		client:    provider.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderMailchimp }

// AuthorizeURL builds the Mailchimp consent URL.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, _ map[string]string) (string, error) {
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderMailchimp,
	})
	if err != nil {
		return "", err
	}
	return a.config.AuthCodeURL(state), nil
}

// ExchangeCode trades the code for a non-expiring token, then
// resolves the account's data center.
func (a *Adapter) ExchangeCode(ctx context.Context, code, state string, _ map[string]string) (*core.CredentialBundle, error) {
	payload, err := statetoken.Decode(state)
	if err != nil {
		return nil, err
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, provider.TranslateOAuthError(err)
	}

	apiEndpoint, err := a.fetchMetadata(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &core.CredentialBundle{
		WorkspaceID: payload.WorkspaceID,
		Provider:    core.ProviderMailchimp,
		AuthData: core.AuthData{
			core.AuthKeyAccessToken: token.AccessToken,
			AuthKeyAPIEndpoint:      apiEndpoint,
		},
	}, nil
}

func (a *Adapter) fetchMetadata(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.loginBase+"/oauth2/metadata", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read metadata: %v", core.ErrUpstream, err)
	}
	if err := provider.TranslateStatus(resp.StatusCode, string(body)); err != nil {
		return "", err
	}

	var meta struct {
		APIEndpoint string `json:"api_endpoint"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("%w: decode metadata: %v", core.ErrUpstream, err)
	}
	if meta.APIEndpoint == "" {
		return "", fmt.Errorf("%w: metadata missing api_endpoint", core.ErrUpstreamAuth)
	}
	return meta.APIEndpoint, nil
}
