package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fathomhq/fathom/internal/core"
)

// recentEventLimit caps how many raw events a workspace query returns.
const recentEventLimit = 50

// EventStore manages the append-only raw event log. Events record
// what a provider returned at sync time and are never updated.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new event store
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append records a raw sync payload for a connection.
func (s *EventStore) Append(event *core.RawEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var processedAt *time.Time
	if !event.ProcessedAt.IsZero() {
		t := event.ProcessedAt.UTC()
		processedAt = &t
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO raw_events (
			id, workspace_id, connection_id, provider, payload,
			event_timestamp, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.WorkspaceID,
		event.ConnectionID,
		event.Provider,
		string(payload),
		event.EventTimestamp.UTC(),
		processedAt,
	)
	if err != nil {
		return fmt.Errorf("insert raw event: %w", err)
	}
	return nil
}

// RecentByWorkspace returns the most recent events for a workspace,
// newest first, capped at 50.
func (s *EventStore) RecentByWorkspace(workspaceID core.WorkspaceID) ([]*core.RawEvent, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, workspace_id, connection_id, provider, payload,
			event_timestamp, processed_at
		FROM raw_events
		WHERE workspace_id = ?
		ORDER BY event_timestamp DESC
		LIMIT ?
	`, workspaceID, recentEventLimit)
	if err != nil {
		return nil, fmt.Errorf("query raw events: %w", err)
	}
	defer rows.Close()

	var events []*core.RawEvent
	for rows.Next() {
		var event core.RawEvent
		var payload string
		var processedAt sql.NullTime

		err := rows.Scan(
			&event.ID,
			&event.WorkspaceID,
			&event.ConnectionID,
			&event.Provider,
			&payload,
			&event.EventTimestamp,
			&processedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}

		if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		if processedAt.Valid {
			event.ProcessedAt = processedAt.Time
		}

		events = append(events, &event)
	}
	return events, rows.Err()
}
