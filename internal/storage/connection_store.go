package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fathomhq/fathom/internal/core"
)

// ConnectionStore manages provider connection persistence. Auth data
// is sealed through the vault before it touches disk.
type ConnectionStore struct {
	db    *DB
	vault *Vault
}

// NewConnectionStore creates a new connection store
func NewConnectionStore(db *DB, vault *Vault) *ConnectionStore {
	return &ConnectionStore{
		db:    db,
		vault: vault,
	}
}

// Upsert saves a connection for a workspace/provider pair. A second
// authorization for the same pair replaces the stored auth data and
// re-marks the connection as connected, keeping its ID and sync
// settings.
func (s *ConnectionStore) Upsert(bundle *core.CredentialBundle) (*core.Connection, error) {
	sealed, err := s.seal(bundle.AuthData)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var existingID string
	err = s.db.conn.QueryRow(`
		SELECT id FROM connections WHERE workspace_id = ? AND provider = ?
	`, bundle.WorkspaceID, bundle.Provider).Scan(&existingID)

	if err == sql.ErrNoRows {
		id := uuid.New().String()
		_, err = s.db.conn.Exec(`
			INSERT INTO connections (
				id, workspace_id, provider, connected, sync_frequency,
				historical_data, encrypted_auth, created_at, updated_at
			) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
		`,
			id,
			bundle.WorkspaceID,
			bundle.Provider,
			core.SyncDaily,
			core.HistoryLast12Months,
			sealed,
			now,
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert connection: %w", err)
		}
		return s.Get(core.ConnectionID(id))
	} else if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}

	_, err = s.db.conn.Exec(`
		UPDATE connections SET
			connected = 1,
			encrypted_auth = ?,
			updated_at = ?
		WHERE id = ?
	`, sealed, now, existingID)
	if err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}
	return s.Get(core.ConnectionID(existingID))
}

// Get retrieves a connection by ID.
func (s *ConnectionStore) Get(id core.ConnectionID) (*core.Connection, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, workspace_id, provider, connected, sync_frequency,
			historical_data, encrypted_auth, last_synced_at, created_at, updated_at
		FROM connections WHERE id = ?
	`, id)
	return s.scanConnection(row)
}

// GetByWorkspaceAndID retrieves a connection scoped to a workspace.
// A valid connection ID from another workspace is not found.
func (s *ConnectionStore) GetByWorkspaceAndID(workspaceID core.WorkspaceID, id core.ConnectionID) (*core.Connection, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, workspace_id, provider, connected, sync_frequency,
			historical_data, encrypted_auth, last_synced_at, created_at, updated_at
		FROM connections WHERE id = ? AND workspace_id = ?
	`, id, workspaceID)
	return s.scanConnection(row)
}

// GetByProvider retrieves a workspace's connection for a provider.
func (s *ConnectionStore) GetByProvider(workspaceID core.WorkspaceID, provider core.ProviderKey) (*core.Connection, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, workspace_id, provider, connected, sync_frequency,
			historical_data, encrypted_auth, last_synced_at, created_at, updated_at
		FROM connections WHERE workspace_id = ? AND provider = ?
	`, workspaceID, provider)
	return s.scanConnection(row)
}

// ListByWorkspace returns all connections for a workspace.
func (s *ConnectionStore) ListByWorkspace(workspaceID core.WorkspaceID) ([]*core.Connection, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, workspace_id, provider, connected, sync_frequency,
			historical_data, encrypted_auth, last_synced_at, created_at, updated_at
		FROM connections WHERE workspace_id = ?
		ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []*core.Connection
	for rows.Next() {
		conn, err := s.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// UpdateAuthData merges partial auth data into the stored record.
// Keys present in partial overwrite; keys absent survive. The read
// and write happen in one transaction so concurrent merges do not
// drop each other's keys.
func (s *ConnectionStore) UpdateAuthData(id core.ConnectionID, partial core.AuthData) (*core.Connection, error) {
	err := s.db.Transaction(func(tx *sql.Tx) error {
		var sealed []byte
		err := tx.QueryRow(`
			SELECT encrypted_auth FROM connections WHERE id = ?
		`, id).Scan(&sealed)
		if err == sql.ErrNoRows {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query auth data: %w", err)
		}

		current, err := s.open(sealed)
		if err != nil {
			return err
		}

		merged, err := s.seal(current.Merge(partial))
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			UPDATE connections SET encrypted_auth = ?, updated_at = ? WHERE id = ?
		`, merged, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update auth data: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// UpdateSettings changes sync frequency and/or historical data range.
// Nil fields are left unchanged.
func (s *ConnectionStore) UpdateSettings(id core.ConnectionID, freq *core.SyncFrequency, hist *core.HistoricalData) (*core.Connection, error) {
	conn, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if freq != nil {
		conn.SyncFrequency = *freq
	}
	if hist != nil {
		conn.HistoricalData = *hist
	}

	_, err = s.db.conn.Exec(`
		UPDATE connections SET sync_frequency = ?, historical_data = ?, updated_at = ?
		WHERE id = ?
	`, conn.SyncFrequency, conn.HistoricalData, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return s.Get(id)
}

// UpdateLastSynced records a successful sync completion time.
func (s *ConnectionStore) UpdateLastSynced(id core.ConnectionID, at time.Time) error {
	res, err := s.db.conn.Exec(`
		UPDATE connections SET last_synced_at = ?, updated_at = ? WHERE id = ?
	`, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update last synced: %w", err)
	}
	return s.requireRow(res)
}

// Disconnect marks a connection as disconnected and wipes its stored
// auth data. The row and its sync history survive for reconnection.
func (s *ConnectionStore) Disconnect(id core.ConnectionID) (*core.Connection, error) {
	empty, err := s.seal(core.AuthData{})
	if err != nil {
		return nil, err
	}

	res, err := s.db.conn.Exec(`
		UPDATE connections SET connected = 0, encrypted_auth = ?, updated_at = ?
		WHERE id = ?
	`, empty, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("disconnect: %w", err)
	}
	if err := s.requireRow(res); err != nil {
		return nil, err
	}
	return s.Get(id)
}

func (s *ConnectionStore) requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *ConnectionStore) seal(data core.AuthData) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal auth data: %w", err)
	}
	sealed, err := s.vault.Seal(raw)
	if err != nil {
		return nil, fmt.Errorf("seal auth data: %w", err)
	}
	return sealed, nil
}

func (s *ConnectionStore) open(sealed []byte) (core.AuthData, error) {
	raw, err := s.vault.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open auth data: %w", err)
	}
	var data core.AuthData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal auth data: %w", err)
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *ConnectionStore) scanConnection(row rowScanner) (*core.Connection, error) {
	var conn core.Connection
	var sealed []byte
	var lastSynced sql.NullTime

	err := row.Scan(
		&conn.ID,
		&conn.WorkspaceID,
		&conn.Provider,
		&conn.Connected,
		&conn.SyncFrequency,
		&conn.HistoricalData,
		&sealed,
		&lastSynced,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}

	if lastSynced.Valid {
		conn.LastSyncedAt = &lastSynced.Time
	}

	conn.AuthData, err = s.open(sealed)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}
