// Package syncer coordinates token refresh and sync dispatch across
// provider connections.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/logging"
	"github.com/fathomhq/fathom/internal/provider"
	"github.com/fathomhq/fathom/internal/storage"
)

// refreshBuffer is how close to expiry a token may get before it is
// renewed ahead of use.
const refreshBuffer = 5 * time.Minute

// Refresher renews access tokens before they lapse. Refreshes are
// serialized per connection: concurrent callers hitting the same
// stale token produce exactly one upstream refresh, the rest reuse
// the stored result.
type Refresher struct {
	store    *storage.ConnectionStore
	registry *provider.Registry
	log      *logging.Logger

	mu    sync.Mutex
	locks map[core.ConnectionID]*connLock
}

// connLock serializes refreshes for one connection. refs counts the
// holders and waiters so the map entry can be dropped when the last
// one leaves; otherwise the map would grow with connection churn for
// the life of the daemon.
type connLock struct {
	sync.Mutex
	refs int
}

// NewRefresher creates a refresher.
func NewRefresher(store *storage.ConnectionStore, registry *provider.Registry) *Refresher {
	return &Refresher{
		store:    store,
		registry: registry,
		log:      logging.Component("refresher"),
		locks:    make(map[core.ConnectionID]*connLock),
	}
}

func (r *Refresher) acquire(id core.ConnectionID) *connLock {
	r.mu.Lock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &connLock{}
		r.locks[id] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.Lock()
	return lock
}

func (r *Refresher) release(id core.ConnectionID, lock *connLock) {
	lock.Unlock()

	r.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, id)
	}
	r.mu.Unlock()
}

// EnsureFresh returns a connection whose access token is valid for
// at least the buffer window. Providers without a refresh capability
// and tokens without an expiry pass through untouched. A dead grant
// disconnects the connection and reports ErrReauthRequired; a
// transient upstream failure leaves the stored token alone.
func (r *Refresher) EnsureFresh(ctx context.Context, conn *core.Connection) (*core.Connection, error) {
	refresher, err := r.registry.ResolveRefresher(conn.Provider)
	if err != nil {
		return nil, err
	}
	if refresher == nil {
		return conn, nil
	}
	if !conn.AuthData.ExpiresWithin(refreshBuffer) {
		return conn, nil
	}

	lock := r.acquire(conn.ID)
	defer r.release(conn.ID, lock)

	// Another caller may have refreshed while we waited on the lock;
	// re-read before hitting the upstream.
	latest, err := r.store.Get(conn.ID)
	if err != nil {
		return nil, err
	}
	if !latest.AuthData.ExpiresWithin(refreshBuffer) {
		return latest, nil
	}

	r.log.WithField("connection", string(conn.ID)).
		WithField("provider", string(conn.Provider)).
		Debug("refreshing access token")

	updated, err := refresher.RefreshToken(ctx, latest.AuthData)
	if err != nil {
		if errors.Is(err, core.ErrReauthRequired) {
			r.log.WithField("connection", string(conn.ID)).
				Warn("refresh grant revoked, disconnecting")
			if _, derr := r.store.Disconnect(conn.ID); derr != nil {
				return nil, fmt.Errorf("disconnect after dead grant: %w", derr)
			}
			return nil, err
		}
		// Transient failure: keep the stored token, the next attempt
		// may succeed.
		return nil, err
	}

	return r.store.UpdateAuthData(conn.ID, updated)
}
