// Package statetoken encodes the opaque state carried through OAuth
// redirects. The token is the only mechanism by which a callback
// recovers its workspace context, so encoding must round-trip exactly
// and decoding must reject anything it does not fully understand.
package statetoken

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fathomhq/fathom/internal/core"
)

// Payload is the redirect context. Extras carries provider-specific
// fields (e.g. the Shopify shop domain) that must survive the round
// trip through the provider's consent screen.
type Payload struct {
	WorkspaceID core.WorkspaceID  `json:"workspaceId"`
	Provider    core.ProviderKey  `json:"integration"`
	Extras      map[string]string `json:"extras,omitempty"`
}

// Encode serializes a payload into a URL-safe token.
func Encode(p Payload) (string, error) {
	if p.WorkspaceID == "" {
		return "", fmt.Errorf("encode state: workspace id is required")
	}
	if p.Provider == "" {
		return "", fmt.Errorf("encode state: provider is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode. Any failure, including
// unknown fields or missing required fields, yields ErrMalformedState;
// callers treat that as fatal to the callback request, never as an
// unknown-provider condition.
func Decode(token string) (Payload, error) {
	var p Payload
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return p, fmt.Errorf("%w: %v", core.ErrMalformedState, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%w: %v", core.ErrMalformedState, err)
	}
	if dec.More() {
		return p, fmt.Errorf("%w: trailing data", core.ErrMalformedState)
	}
	if p.WorkspaceID == "" || p.Provider == "" {
		return p, fmt.Errorf("%w: incomplete payload", core.ErrMalformedState)
	}
	return p, nil
}
