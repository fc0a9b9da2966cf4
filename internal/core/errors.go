// Package core defines the fundamental types and errors for Fathom.
package core

import "errors"

// Errors crossing package boundaries. Provider-native error shapes are
// translated into these inside the owning adapter; the dispatcher,
// refresher and HTTP layer only ever inspect this taxonomy.
var (
	// ErrMalformedState means a redirect state token could not be
	// decoded. Fatal for the callback request it arrived on.
	ErrMalformedState = errors.New("malformed state token")

	// ErrUpstreamAuth means a token exchange or refresh was rejected
	// by the provider, or a required field (e.g. refresh token) was
	// missing from its response.
	ErrUpstreamAuth = errors.New("upstream authorization rejected")

	// ErrReauthRequired means the refresh token itself is invalid or
	// revoked. The connection is disconnected; the user must restart
	// the OAuth flow. Never retried automatically.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrPermissionDenied means the provider reports insufficient
	// scope or account privileges for the requested data.
	ErrPermissionDenied = errors.New("insufficient provider permissions")

	// ErrUnsupportedProvider means no adapter is registered for the
	// key, or the adapter lacks the requested capability.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrNotFound is a caller error: the referenced record is absent
	// or disconnected.
	ErrNotFound = errors.New("not found")

	// ErrUpstream is a transient provider failure (network, 5xx).
	// Retryable by the caller; the core does not retry.
	ErrUpstream = errors.New("upstream provider error")
)
