// Package salesforce implements the Salesforce adapter. Every org
// lives on its own instance, so the token exchange captures the
// instance URL alongside the tokens.
package salesforce

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/statetoken"
)

var defaultEndpoint = oauth2.Endpoint{
	AuthURL:  "https://login.salesforce.com/services/oauth2/authorize",
	TokenURL: "https://login.salesforce.com/services/oauth2/token",
}

const scope = "api refresh_token"

// Adapter connects workspaces to Salesforce.
type Adapter struct {
	config *oauth2.Config
	client *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the OAuth endpoints, for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(a *Adapter) { a.config.Endpoint = ep }
}

// New creates the Salesforce adapter.
func New(clientID, clientSecret, redirectURI string, opts ...Option) *Adapter {
	a := &Adapter{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{scope},
			Endpoint:     defaultEndpoint,
		},
		client: provider.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key identifies the provider in the catalog.
func (a *Adapter) Key() core.ProviderKey { return core.ProviderSalesforce }

// AuthorizeURL builds the Salesforce consent URL.
func (a *Adapter) AuthorizeURL(workspaceID core.WorkspaceID, _ map[string]string) (string, error) {
	state, err := statetoken.Encode(statetoken.Payload{
		WorkspaceID: workspaceID,
		Provider:    core.ProviderSalesforce,
	})
	if err != nil {
		return "", err
	}
	return a.config.AuthCodeURL(state), nil
}

// ExchangeCode trades the code for tokens and records which instance
// the org lives on. Salesforce returns instance_url and the identity
// URL as extra token fields.
func (a *Adapter) ExchangeCode(ctx context.Context, code, state string, _ map[string]string) (*core.CredentialBundle, error) {
	payload, err := statetoken.Decode(state)
	if err != nil {
		return nil, err
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, provider.TranslateOAuthError(err)
	}

	instanceURL, _ := token.Extra("instance_url").(string)
	if instanceURL == "" {
		return nil, fmt.Errorf("%w: token response missing instance_url", core.ErrUpstreamAuth)
	}

	auth := provider.AuthDataFromToken(token)
	auth[core.AuthKeyInstanceURL] = instanceURL
	if identityURL, _ := token.Extra("id").(string); identityURL != "" {
		auth[core.AuthKeyIdentityURL] = identityURL
	}

	return &core.CredentialBundle{
		WorkspaceID: payload.WorkspaceID,
		Provider:    core.ProviderSalesforce,
		AuthData:    auth,
	}, nil
}

// RefreshToken renews the access token. Salesforce does not rotate
// refresh tokens.
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
