// Package facebookads implements the Meta advertising adapter. The
// Graph API uses non-standard OAuth: token exchange is a GET, and
// short-lived user tokens are upgraded to long-lived ones with a
// second exchange.
package facebookads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

const (
	defaultDialogBase = "https://www.facebook.com/v19.0"
	defaultGraphBase  = "https://graph.facebook.com/v19.0"

	scope = "ads_read,business_management"
)

// Adapter connects workspaces to Facebook Ads.
type Adapter struct {
	clientID     string
	clientSecret string
	redirectURI  string
	dialogBase   string
	graphBase    string
	client       *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithGraphBase overrides the Graph API host, for tests.
func WithGraphBase(base string) Option {
	return func(a *Adapter) { a.graphBase = base }
}

// WithDialogBase overrides the consent dialog host, for tests.
func WithDialogBase(base string) Option {
	return func(a *Adapter) { a.dialogBase = base }
}

// New creates the Facebook Ads adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		dialogBase:   defaultDialogBase,
		graphBase:    defaultGraphBase,
		client:       provider.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderFacebookAds }

// AuthorizeURL builds the Facebook login dialog URL.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, _ map[string]string) (string, error) {
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderFacebookAds,
	})
	if err != nil {
		return "", err
	}

	q := url.Values{
		"client_id":     {a.clientID},
		"redirect_uri":  {a.redirectURI},
		"scope":         {scope},
		"response_type": {"code"},
		"state":         {state},
	}
	return a.dialogBase + "/dialog/oauth?" + q.Encode(), nil
}

// ExchangeCode exchanges the code for a short-lived token, upgrades
// it to a long-lived one, and records the Graph user ID.
func (a *Adapter) ExchangeCode(ctx context.Context, code, state string, _ map[string]string) (*core.CredentialBundle, error) {
	payload, err := statetoken.Decode(state)
	if err != nil {
		return nil, err
	}

	shortLived, err := a.fetchToken(ctx, url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"redirect_uri":  {a.redirectURI},
		"code":          {code},
	})
	if err != nil {
		return nil, err
	}

	longLived, err := a.exchangeLongLived(ctx, shortLived.AccessToken)
	if err != nil {
		return nil, err
	}

	userID, err := a.fetchUserID(ctx, longLived.AccessToken)
	if err != nil {
		return nil, err
	}

	auth := core.AuthData{
		core.AuthKeyAccessToken: longLived.AccessToken,
		core.AuthKeyAccountID:   userID,
	}
	if longLived.ExpiresIn > 0 {
		auth[core.AuthKeyExpiresIn] = longLived.ExpiresIn
		auth.SetTokenExpiry(time.Now().Add(time.Duration(longLived.ExpiresIn) * time.Second))
	}

	return &core.CredentialBundle{
		WorkspaceID: payload.WorkspaceID,
		Provider:    core.ProviderFacebookAds,
		AuthData:    auth,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchangeLongLived swaps a short-lived user token for a long-lived
// one (around 60 days).
func (a *Adapter) exchangeLongLived(ctx context.Context, shortLived string) (*tokenResponse, error) {
	return a.fetchToken(ctx, url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {a.clientID},
		"client_secret":     {a.clientSecret},
		"fb_exchange_token": {shortLived},
	})
}

func (a *Adapter) fetchToken(ctx context.Context, q url.Values) (*tokenResponse, error) {
	body, err := a.get(ctx, a.graphBase+"/oauth/access_token?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: decode token: %v", core.ErrUpstreamAuth, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", core.ErrUpstreamAuth)
	}
	return &token, nil
}

func (a *Adapter) fetchUserID(ctx context.Context, accessToken string) (string, error) {
	body, err := a.get(ctx, a.graphBase+"/me?"+url.Values{"access_token": {accessToken}}.Encode())
	if err != nil {
		return "", err
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return "", fmt.Errorf("%w: decode /me: %v", core.ErrUpstreamAuth, err)
	}
	return me.ID, nil
}

// graphError is the Graph API failure envelope.
type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (a *Adapter) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

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
		return nil, translateGraphError(resp.StatusCode, body)
	}
	return body, nil
}

// translateGraphError maps Graph API failures onto the error
// taxonomy. Code 190 is an invalid or expired user token.
func translateGraphError(status int, body []byte) error {
	var ge graphError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Message != "" {
		switch {
		case ge.Error.Code == 190:
			return fmt.Errorf("%w: %s", core.ErrReauthRequired, ge.Error.Message)
		case ge.Error.Code == 10 || ge.Error.Code == 200:
			return fmt.Errorf("%w: %s", core.ErrPermissionDenied, ge.Error.Message)
		default:
			return fmt.Errorf("%w: graph error %d: %s", core.ErrUpstream, ge.Error.Code, ge.Error.Message)
		}
	}
	return provider.TranslateStatus(status, string(body))
}
