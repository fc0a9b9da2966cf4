// Package core defines the fundamental types shared across Fathom.
package core

import (
	"time"
)

// WorkspaceID identifies a workspace. Workspaces themselves are managed
// by an external service; Fathom only references them.
type WorkspaceID string

// ConnectionID identifies one workspace↔provider connection.
type ConnectionID string

// ProviderKey is the stable key of an external platform.
type ProviderKey string

// The fixed provider enumeration. New providers require a catalog
// migration and a registered adapter.
const (
	ProviderGoogleAnalytics ProviderKey = "google_analytics"
	ProviderGoogleAds       ProviderKey = "google_ads"
	ProviderFacebookAds     ProviderKey = "facebook_ads"
	ProviderQuickBooks      ProviderKey = "quickbooks"
	ProviderStripe          ProviderKey = "stripe"
	ProviderShopify         ProviderKey = "shopify"
	ProviderSalesforce      ProviderKey = "salesforce"
	ProviderHubspot         ProviderKey = "hubspot"
	ProviderMailchimp       ProviderKey = "mailchimp"
)

// AllProviders lists every key in the catalog enumeration.
func AllProviders() []ProviderKey {
	return []ProviderKey{
		ProviderGoogleAnalytics,
		ProviderGoogleAds,
		ProviderFacebookAds,
		ProviderQuickBooks,
		ProviderStripe,
		ProviderShopify,
		ProviderSalesforce,
		ProviderHubspot,
		ProviderMailchimp,
	}
}

// AuthKind describes how a provider authorizes access.
type AuthKind string

const (
	AuthOAuth  AuthKind = "oauth"
	AuthAPIKey AuthKind = "api_key"
)

// Provider is an immutable catalog entry, seeded by migration.
type Provider struct {
	ID          string
	Key         ProviderKey
	Name        string
	Description string
	AuthKind    AuthKind
	Category    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SyncFrequency controls how often a connection is expected to sync.
type SyncFrequency string

const (
	SyncHourly  SyncFrequency = "hourly"
	SyncDaily   SyncFrequency = "daily"
	SyncWeekly  SyncFrequency = "weekly"
	SyncMonthly SyncFrequency = "monthly"
)

// HistoricalData is the backfill policy chosen at connect time.
type HistoricalData string

const (
	HistoryAllAvailable HistoricalData = "all_available_data"
	HistoryLast12Months HistoricalData = "last_12_months"
	HistoryLast3Months  HistoricalData = "last_3_months"
	HistoryNone         HistoricalData = "none"
)

// Well-known AuthData keys. Provider-specific keys (realm id, shop
// domain, instance URL) live alongside the token fields in the same
// bundle, so partial updates must merge rather than replace.
const (
	AuthKeyAccessToken    = "accessToken"
	AuthKeyRefreshToken   = "refreshToken"
	AuthKeyExpiresIn      = "expiresIn"
	AuthKeyTokenExpiresAt = "tokenExpiresAt" // unix milliseconds
	AuthKeyRealmID        = "realmId"
	AuthKeyShopDomain     = "shop"
	AuthKeyInstanceURL    = "instanceUrl"
	AuthKeyIdentityURL    = "identityUrl"
	AuthKeyAPIKey         = "apiKey"
	AuthKeyAccountID      = "accountId"
)

// AuthData is the opaque credential bundle stored with a connection.
type AuthData map[string]any

// AccessToken returns the stored access token, or "".
func (a AuthData) AccessToken() string { return a.str(AuthKeyAccessToken) }

// RefreshToken returns the stored refresh token, or "".
func (a AuthData) RefreshToken() string { return a.str(AuthKeyRefreshToken) }

// String returns the named field as a string, or "" if absent or not
// string-typed.
func (a AuthData) String(key string) string { return a.str(key) }

func (a AuthData) str(key string) string {
	if a == nil {
		return ""
	}
	s, _ := a[key].(string)
	return s
}

// TokenExpiresAt returns the access-token expiry, or the zero time when
// the provider's tokens do not expire (no expiry recorded).
func (a AuthData) TokenExpiresAt() time.Time {
	if a == nil {
		return time.Time{}
	}
	switch v := a[AuthKeyTokenExpiresAt].(type) {
	case int64:
		return time.UnixMilli(v)
	case float64:
		return time.UnixMilli(int64(v))
	case int:
		return time.UnixMilli(int64(v))
	}
	return time.Time{}
}

// SetTokenExpiry records the expiry as unix milliseconds.
func (a AuthData) SetTokenExpiry(t time.Time) {
	a[AuthKeyTokenExpiresAt] = t.UnixMilli()
}

// ExpiresWithin reports whether the token expires inside the buffer
// window. Bundles without an expiry never report stale.
func (a AuthData) ExpiresWithin(buffer time.Duration) bool {
	exp := a.TokenExpiresAt()
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) < buffer
}

// Merge overlays the fields of partial onto a copy of a. Fields absent
// from partial keep their existing values.
func (a AuthData) Merge(partial AuthData) AuthData {
	merged := make(AuthData, len(a)+len(partial))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}

// CredentialBundle is what an adapter extracts from a completed OAuth
// exchange: the redirect context recovered from the state token plus
// the tokens and provider-specific identifiers to persist.
type CredentialBundle struct {
	WorkspaceID WorkspaceID
	Provider    ProviderKey
	AuthData    AuthData
}

// Connection links a workspace to one provider. One connection per
// (workspace, provider) pair; disconnecting flips Connected to false,
// the row is never deleted.
type Connection struct {
	ID             ConnectionID
	WorkspaceID    WorkspaceID
	Provider       ProviderKey
	Connected      bool
	LastSyncedAt   *time.Time
	SyncFrequency  SyncFrequency
	HistoricalData HistoricalData
	AuthData       AuthData
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RawEvent is one appended provider payload or normalized metric
// snapshot. Append-only; queried most-recent-first.
type RawEvent struct {
	ID             string
	WorkspaceID    WorkspaceID
	ConnectionID   ConnectionID
	Provider       ProviderKey
	Payload        any
	EventTimestamp time.Time
	ProcessedAt    time.Time
}
