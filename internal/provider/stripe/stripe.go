// Package stripe implements the Stripe adapter. Stripe connects with
// a workspace-supplied secret key instead of an OAuth flow; the key
// is validated against the Account API before it is stored.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
)

const defaultAPIBase = "https://api.stripe.com"

// Adapter connects workspaces to Stripe.
type Adapter struct {
	apiBase string
	client  *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithAPIBase overrides the API host, for tests.
func WithAPIBase(base string) Option {
	return func(a *Adapter) { a.apiBase = base }
}

// New creates the Stripe adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		apiBase: defaultAPIBase,
		client:  provider.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderStripe }

// AuthorizeURL is not part of the Stripe flow; keys are submitted
// directly.
func (a *Adapter) AuthorizeURL(core.WorkspaceID, map[string]string) (string, error) {
	return "", fmt.Errorf("%w: stripe connects with an API key, not OAuth", core.ErrUnsupportedProvider)
}

// ExchangeCode is not part of the Stripe flow.
func (a *Adapter) ExchangeCode(context.Context, string, string, map[string]string) (*core.CredentialBundle, error) {
	return nil, fmt.Errorf("%w: stripe connects with an API key, not OAuth", core.ErrUnsupportedProvider)
}

// SaveKey validates the secret key against the Account API and
// returns the bundle to store. An invalid key never reaches the
// database.
func (a *Adapter) SaveKey(ctx context.Context, workspaceID core.WorkspaceID, apiKey string) (*core.CredentialBundle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is required", core.ErrUpstreamAuth)
	}

	account, err := a.fetchAccount(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	return &core.CredentialBundle{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderStripe,
		AuthData: core.AuthData{
			core.AuthKeyAPIKey:    apiKey,
			core.AuthKeyAccountID: account.ID,
		},
	}, nil
}

type account struct {
	ID      string `json:"id"`
	Country string `json:"country"`
}

func (a *Adapter) fetchAccount(ctx context.Context, apiKey string) (*account, error) {
	body, err := a.get(ctx, apiKey, "/v1/account", nil)
	if err != nil {
		return nil, err
	}

	var acct account
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("%w: decode account: %v", core.ErrUpstream, err)
	}
	return &acct, nil
}

// stripeError is the Stripe failure envelope.
type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) get(ctx context.Context, apiKey, path string, q url.Values) ([]byte, error) {
	u := a.apiBase + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", core.ErrUpstream, err)
	}

	if resp.StatusCode >= 400 {
		var se stripeError
		if err := json.Unmarshal(body, &se); err == nil && se.Error.Type == "invalid_request_error" &&
			resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s", core.ErrReauthRequired, se.Error.Message)
		}
		return nil, provider.TranslateStatus(resp.StatusCode, string(body))
	}
	return body, nil
}
