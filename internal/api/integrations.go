package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fathomhq/fathom/internal/config"
	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/logging"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/provider/googleanalytics"
	"github.com/fathomhq/fathom/internal/statetoken"
	"github.com/fathomhq/fathom/internal/storage"
	"github.com/fathomhq/fathom/internal/syncer"
)

// propertyLister is implemented by the analytics adapter; listing is
// resolved through the registry so a test double can stand in.
type propertyLister interface {
	ListProperties(ctx context.Context, auth core.AuthData) ([]googleanalytics.Property, error)
}

// IntegrationsAPI handles the connection lifecycle for external
// platforms: OAuth connect/callback, API key saves, sync triggers,
// per-connection settings, and the raw event feed.
type IntegrationsAPI struct {
	cfg         *config.Config
	registry    *provider.Registry
	connections *storage.ConnectionStore
	events      *storage.EventStore
	refresher   *syncer.Refresher
	dispatcher  *syncer.Dispatcher
	hub         *EventHub
	log         *logging.Logger
}

// NewIntegrationsAPI creates the integrations API handler.
func NewIntegrationsAPI(cfg *config.Config, registry *provider.Registry,
	connections *storage.ConnectionStore, events *storage.EventStore,
	refresher *syncer.Refresher, dispatcher *syncer.Dispatcher, hub *EventHub) *IntegrationsAPI {
	return &IntegrationsAPI{
		cfg:         cfg,
		registry:    registry,
		connections: connections,
		events:      events,
		refresher:   refresher,
		dispatcher:  dispatcher,
		hub:         hub,
		log:         logging.Component("api"),
	}
}

// RegisterRoutes registers integration routes
func (api *IntegrationsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/integrations", func(r chi.Router) {
		r.Get("/", api.handleCatalog)
		r.Get("/connections", api.handleListConnections)
		r.Get("/events", api.handleRecentEvents)
		r.Post("/sync", api.handleSync)
		r.Post("/stripe/key", api.handleSaveStripeKey)
		r.Get("/google_analytics/properties", api.handleListProperties)
		r.Patch("/disconnect/{connectionID}", api.handleDisconnect)
		r.Patch("/{connectionID}", api.handleUpdateSettings)
		r.Get("/{provider}/connect", api.handleConnect)
		r.Get("/{provider}/callback", api.handleCallback)
	})
}

// ProviderResponse is one catalog entry with the workspace's
// connection status folded in.
type ProviderResponse struct {
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	AuthKind     string     `json:"auth_kind"`
	Category     string     `json:"category"`
	IsConnected  bool       `json:"is_connected"`
	ConnectionID string     `json:"connection_id,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// ConnectionResponse is a connection without its credential bundle.
// Auth data never leaves the service.
type ConnectionResponse struct {
	ID             string     `json:"id"`
	WorkspaceID    string     `json:"workspace_id"`
	Provider       string     `json:"provider"`
	Connected      bool       `json:"connected"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	SyncFrequency  string     `json:"sync_frequency"`
	HistoricalData string     `json:"historical_data"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func connectionResponse(c *core.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:             string(c.ID),
		WorkspaceID:    string(c.WorkspaceID),
		Provider:       string(c.Provider),
		Connected:      c.Connected,
		LastSyncedAt:   c.LastSyncedAt,
		SyncFrequency:  string(c.SyncFrequency),
		HistoricalData: string(c.HistoricalData),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// EventResponse is one raw event in the feed.
type EventResponse struct {
	ID             string    `json:"id"`
	ConnectionID   string    `json:"connection_id"`
	Provider       string    `json:"provider"`
	Payload        any       `json:"payload"`
	EventTimestamp time.Time `json:"event_timestamp"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// handleCatalog returns every provider in the catalog. With a
// workspaceId query the workspace's connection status is included.
func (api *IntegrationsAPI) handleCatalog(w http.ResponseWriter, r *http.Request) {
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspaceId"))

	byProvider := make(map[core.ProviderKey]*core.Connection)
	if workspaceID != "" {
		conns, err := api.connections.ListByWorkspace(workspaceID)
		if err != nil {
			api.log.WithError(err).Error("list connections for catalog")
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		for _, c := range conns {
			byProvider[c.Provider] = c
		}
	}

	providers := make([]ProviderResponse, 0, len(core.AllProviders()))
	for _, entry := range core.Catalog() {
		resp := ProviderResponse{
			Key:         string(entry.Key),
			Name:        entry.Name,
			Description: entry.Description,
			AuthKind:    string(entry.AuthKind),
			Category:    entry.Category,
		}
		if c, ok := byProvider[entry.Key]; ok && c.Connected {
			resp.IsConnected = true
			resp.ConnectionID = string(c.ID)
			resp.LastSyncedAt = c.LastSyncedAt
		}
		providers = append(providers, resp)
	}

	respondJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// handleListConnections returns every connection of a workspace.
func (api *IntegrationsAPI) handleListConnections(w http.ResponseWriter, r *http.Request) {
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspaceId"))
	if workspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId required")
		return
	}

	conns, err := api.connections.ListByWorkspace(workspaceID)
	if err != nil {
		api.log.WithError(err).Error("list connections")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	responses := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		responses = append(responses, connectionResponse(c))
	}
	respondJSON(w, http.StatusOK, map[string]any{"connections": responses})
}

// handleRecentEvents returns the workspace's raw event feed, newest
// first.
func (api *IntegrationsAPI) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspaceId"))
	if workspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId required")
		return
	}

	events, err := api.events.RecentByWorkspace(workspaceID)
	if err != nil {
		api.log.WithError(err).Error("list raw events")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	responses := make([]EventResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, EventResponse{
			ID:             e.ID,
			ConnectionID:   string(e.ConnectionID),
			Provider:       string(e.Provider),
			Payload:        e.Payload,
			EventTimestamp: e.EventTimestamp,
			ProcessedAt:    e.ProcessedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": responses})
}

// handleConnect starts the OAuth flow: resolves the provider adapter
// and returns the authorize URL the browser should visit.
func (api *IntegrationsAPI) handleConnect(w http.ResponseWriter, r *http.Request) {
	providerKey := core.ProviderKey(chi.URLParam(r, "provider"))
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspaceId"))
	if workspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId required")
		return
	}

	adapter, err := api.registry.Resolve(providerKey)
	if err != nil {
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	extras := map[string]string{}
	if shop := r.URL.Query().Get("shop"); shop != "" {
		extras["shop"] = shop
	}

	authURL, err := adapter.AuthorizeURL(workspaceID, extras)
	if err != nil {
		api.log.WithField("provider", providerKey).WithError(err).Error("build authorize url")
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"auth_url": authURL,
		"provider": string(providerKey),
	})
}

// handleCallback completes the OAuth flow. This endpoint faces the
// browser: every outcome is an HTTP redirect to the frontend, success
// or a generic error page. Failure detail goes to the log only.
func (api *IntegrationsAPI) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerKey := core.ProviderKey(chi.URLParam(r, "provider"))
	q := r.URL.Query()
	log := api.log.WithField("provider", providerKey)

	if denied := q.Get("error"); denied != "" {
		log.WithField("oauth_error", denied).Warn("provider denied authorization")
		http.Redirect(w, r, api.cfg.ErrorRedirect(), http.StatusFound)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		log.Warn("callback missing code or state")
		http.Redirect(w, r, api.cfg.ErrorRedirect(), http.StatusFound)
		return
	}

	// The state must have been minted for this callback path. A token
	// for another provider is rejected here, before any exchange.
	payload, err := statetoken.Decode(state)
	if err != nil {
		log.WithError(err).Warn("callback state undecodable")
		http.Redirect(w, r, api.cfg.ErrorRedirect(), http.StatusFound)
		return
	}
	if payload.Provider != providerKey {
		log.WithField("state_provider", string(payload.Provider)).
			Warn("callback state minted for a different provider")
		http.Redirect(w, r, api.cfg.ErrorRedirect(), http.StatusFound)
		return
	}

	adapter, err := api.registry.Resolve(providerKey)
	if err != nil {
		log.WithError(err).Warn("callback for unregistered provider")
		http.Redirect(w, r, api.cfg.ErrorRedirect(), http.StatusFound)
		return
	}

	extras := map[string]string{}
	if realmID := q.Get("realmId"); realmID != "" {
		extras["realmId"] = realmID
	}

	bundle, err := adapter.ExchangeCode(r.Context(), code, state, extras)
	if err != nil {
		log.WithError(err).Error("code exchange failed")
		http.Redirect(w, r, api.cfg.ErrorRedirect(), http.StatusFound)
		return
	}

	conn, err := api.connections.Upsert(bundle)
	if err != nil {
		log.WithError(err).Error("persist connection")
		http.Redirect(w, r, api.cfg.ErrorRedirect(), http.StatusFound)
		return
	}

	api.hub.Broadcast(conn.WorkspaceID, "connection_updated", connectionResponse(conn))
	http.Redirect(w, r, api.cfg.SuccessRedirect(), http.StatusFound)
}

type syncRequest struct {
	WorkspaceID  string `json:"workspaceId"`
	ConnectionID string `json:"connectionId"`
}

// handleSync triggers a sync for one connection and returns the
// appended raw event.
func (api *IntegrationsAPI) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkspaceID == "" || req.ConnectionID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId and connectionId required")
		return
	}

	event, err := api.dispatcher.RunSync(r.Context(),
		core.WorkspaceID(req.WorkspaceID), core.ConnectionID(req.ConnectionID))
	if err != nil {
		api.log.WithFields(map[string]any{
			"workspace":  req.WorkspaceID,
			"connection": req.ConnectionID,
		}).WithError(err).Error("sync failed")
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"event": EventResponse{
			ID:             event.ID,
			ConnectionID:   string(event.ConnectionID),
			Provider:       string(event.Provider),
			Payload:        event.Payload,
			EventTimestamp: event.EventTimestamp,
			ProcessedAt:    event.ProcessedAt,
		},
	})
}

type updateSettingsRequest struct {
	WorkspaceID    string         `json:"workspaceId"`
	SyncFrequency  *string        `json:"syncFrequency,omitempty"`
	HistoricalData *string        `json:"historicalData,omitempty"`
	AuthData       map[string]any `json:"authData,omitempty"`
}

var validFrequencies = map[core.SyncFrequency]bool{
	core.SyncHourly: true, core.SyncDaily: true,
	core.SyncWeekly: true, core.SyncMonthly: true,
}

var validHistories = map[core.HistoricalData]bool{
	core.HistoryAllAvailable: true, core.HistoryLast12Months: true,
	core.HistoryLast3Months: true, core.HistoryNone: true,
}

// handleUpdateSettings patches a connection's sync settings. AuthData
// fields (like the analytics property selection) merge into the sealed
// bundle; omitted fields are untouched.
func (api *IntegrationsAPI) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	connectionID := core.ConnectionID(chi.URLParam(r, "connectionID"))

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId required")
		return
	}

	conn, err := api.connections.GetByWorkspaceAndID(core.WorkspaceID(req.WorkspaceID), connectionID)
	if err != nil {
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	var freq *core.SyncFrequency
	if req.SyncFrequency != nil {
		f := core.SyncFrequency(*req.SyncFrequency)
		if !validFrequencies[f] {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid sync frequency %q", *req.SyncFrequency))
			return
		}
		freq = &f
	}

	var hist *core.HistoricalData
	if req.HistoricalData != nil {
		h := core.HistoricalData(*req.HistoricalData)
		if !validHistories[h] {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid historical data policy %q", *req.HistoricalData))
			return
		}
		hist = &h
	}

	if freq != nil || hist != nil {
		conn, err = api.connections.UpdateSettings(connectionID, freq, hist)
		if err != nil {
			respondError(w, errorStatus(err), errorMessage(err))
			return
		}
	}

	if len(req.AuthData) > 0 {
		conn, err = api.connections.UpdateAuthData(connectionID, core.AuthData(req.AuthData))
		if err != nil {
			respondError(w, errorStatus(err), errorMessage(err))
			return
		}
	}

	api.hub.Broadcast(conn.WorkspaceID, "connection_updated", connectionResponse(conn))
	respondJSON(w, http.StatusOK, map[string]any{"connection": connectionResponse(conn)})
}

type disconnectRequest struct {
	WorkspaceID string `json:"workspaceId"`
}

// handleDisconnect flips a connection to disconnected and wipes its
// credentials. The row stays so history and settings survive a
// reconnect.
func (api *IntegrationsAPI) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := core.ConnectionID(chi.URLParam(r, "connectionID"))

	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId required")
		return
	}

	if _, err := api.connections.GetByWorkspaceAndID(core.WorkspaceID(req.WorkspaceID), connectionID); err != nil {
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	conn, err := api.connections.Disconnect(connectionID)
	if err != nil {
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	api.hub.Broadcast(conn.WorkspaceID, "connection_updated", connectionResponse(conn))
	respondJSON(w, http.StatusOK, map[string]any{"connection": connectionResponse(conn)})
}

type saveKeyRequest struct {
	WorkspaceID string `json:"workspaceId"`
	APIKey      string `json:"apiKey"`
}

// handleSaveStripeKey validates and stores a Stripe restricted key.
func (api *IntegrationsAPI) handleSaveStripeKey(w http.ResponseWriter, r *http.Request) {
	var req saveKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkspaceID == "" || req.APIKey == "" {
		respondError(w, http.StatusBadRequest, "workspaceId and apiKey required")
		return
	}

	adapter, err := api.registry.Resolve(core.ProviderStripe)
	if err != nil {
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}
	saver, ok := adapter.(provider.KeySaver)
	if !ok {
		respondError(w, http.StatusBadRequest, "provider does not accept api keys")
		return
	}

	bundle, err := saver.SaveKey(r.Context(), core.WorkspaceID(req.WorkspaceID), req.APIKey)
	if err != nil {
		api.log.WithError(err).Error("stripe key validation failed")
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	conn, err := api.connections.Upsert(bundle)
	if err != nil {
		api.log.WithError(err).Error("persist stripe connection")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	api.hub.Broadcast(conn.WorkspaceID, "connection_updated", connectionResponse(conn))
	respondJSON(w, http.StatusOK, map[string]any{"connection": connectionResponse(conn)})
}

// PropertyResponse is one selectable analytics property.
type PropertyResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Account     string `json:"account"`
}

// handleListProperties lists the GA4 properties visible to the
// workspace's analytics connection, for property selection in the UI.
func (api *IntegrationsAPI) handleListProperties(w http.ResponseWriter, r *http.Request) {
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspaceId"))
	if workspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId required")
		return
	}

	conn, err := api.connections.GetByProvider(workspaceID, core.ProviderGoogleAnalytics)
	if err != nil {
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}
	if !conn.Connected {
		respondError(w, http.StatusUnauthorized, errorMessage(core.ErrReauthRequired))
		return
	}

	conn, err = api.refresher.EnsureFresh(r.Context(), conn)
	if err != nil {
		api.log.WithError(err).Error("refresh before property listing")
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	adapter, err := api.registry.Resolve(core.ProviderGoogleAnalytics)
	if err != nil {
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}
	lister, ok := adapter.(propertyLister)
	if !ok {
		respondError(w, http.StatusBadRequest, errorMessage(core.ErrUnsupportedProvider))
		return
	}

	props, err := lister.ListProperties(r.Context(), conn.AuthData)
	if err != nil {
		api.log.WithError(err).Error("list analytics properties")
		respondError(w, errorStatus(err), errorMessage(err))
		return
	}

	responses := make([]PropertyResponse, 0, len(props))
	for _, p := range props {
		responses = append(responses, PropertyResponse{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Account:     p.Account,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"properties": responses})
}
