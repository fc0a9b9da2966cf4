package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/logging"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/storage"
)

// Notifier receives sync lifecycle events for push delivery.
type Notifier interface {
	Broadcast(workspaceID core.WorkspaceID, event string, payload any)
}

// Dispatcher runs syncs end to end: load the connection, make sure
// the token is fresh, run the adapter, persist the payload, advance
// the last-synced marker. The marker only moves on full success.
type Dispatcher struct {
	connections *storage.ConnectionStore
	events      *storage.EventStore
	registry    *provider.Registry
	refresher   *Refresher
	notifier    Notifier // may be nil
	log         *logging.Logger
}

// NewDispatcher creates a dispatcher. notifier may be nil.
func NewDispatcher(connections *storage.ConnectionStore, events *storage.EventStore,
	registry *provider.Registry, refresher *Refresher, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		connections: connections,
		events:      events,
		registry:    registry,
		refresher:   refresher,
		notifier:    notifier,
		log:         logging.Component("dispatcher"),
	}
}

// RunSync executes one sync for a workspace's connection.
func (d *Dispatcher) RunSync(ctx context.Context, workspaceID core.WorkspaceID, connectionID core.ConnectionID) (*core.RawEvent, error) {
	conn, err := d.connections.GetByWorkspaceAndID(workspaceID, connectionID)
	if err != nil {
		return nil, err
	}
	// A disconnected connection is not syncable; callers see the same
	// outcome as a missing one.
	if !conn.Connected {
		return nil, fmt.Errorf("%w: connection is disconnected", core.ErrNotFound)
	}

	syncer, err := d.registry.ResolveSyncer(conn.Provider)
	if err != nil {
		return nil, err
	}

	conn, err = d.refresher.EnsureFresh(ctx, conn)
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	d.log.WithField("connection", string(connectionID)).
		WithField("provider", string(conn.Provider)).
		Info("sync started")

	payload, err := syncer.Sync(ctx, conn)
	if err != nil {
		d.log.WithField("connection", string(connectionID)).
			WithError(err).
			Error("sync failed")
		return nil, err
	}

	completed := time.Now().UTC()
	event := &core.RawEvent{
		WorkspaceID:    workspaceID,
		ConnectionID:   conn.ID,
		Provider:       conn.Provider,
		Payload:        payload,
		EventTimestamp: started,
		ProcessedAt:    completed,
	}
	if err := d.events.Append(event); err != nil {
		return nil, fmt.Errorf("persist sync payload: %w", err)
	}

	if err := d.connections.UpdateLastSynced(conn.ID, completed); err != nil {
		return nil, fmt.Errorf("advance last synced: %w", err)
	}

	d.log.WithField("connection", string(connectionID)).
		WithField("duration", completed.Sub(started).String()).
		Info("sync completed")

	if d.notifier != nil {
		d.notifier.Broadcast(workspaceID, "sync_completed", map[string]any{
			"connectionId": conn.ID,
			"provider":     conn.Provider,
			"completedAt":  completed,
		})
	}
	return event, nil
}
