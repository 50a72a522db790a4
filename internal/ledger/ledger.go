// Package ledger provides an append-only audit history of engine activity.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/eventbus"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventSceneStaged    EventType = EventType(eventbus.EventTypeSceneStaged)
	EventSceneUnstaged  EventType = EventType(eventbus.EventTypeSceneUnstaged)
	EventScenesApplied  EventType = EventType(eventbus.EventTypeScenesApplied)
	EventDispatchFailed EventType = EventType(eventbus.EventTypeDispatchFailed)
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"eventType"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	BatchID   string         `json:"batchId,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, source, batchID string, payload map[string]any) error {
	return l.appendAt(l.now(), eventType, source, batchID, payload)
}

func (l *Ledger) appendAt(at time.Time, eventType EventType, source, batchID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	var batch sql.NullString
	if batchID != "" {
		batch = sql.NullString{String: batchID, Valid: true}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, batch_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), at.UTC().Unix(), string(payloadJSON), source, batch,
	)
	return err
}

// Subscribe records every engine event type published on bus.
func (l *Ledger) Subscribe(bus *eventbus.Bus) {
	for _, t := range []eventbus.EventType{
		eventbus.EventTypeSceneStaged,
		eventbus.EventTypeSceneUnstaged,
		eventbus.EventTypeScenesApplied,
		eventbus.EventTypeDispatchFailed,
	} {
		bus.Subscribe(t, l.record)
	}
}

func (l *Ledger) record(event eventbus.Event) {
	batch, _ := event.Data["batch"].(string)
	at := event.Time
	if at.IsZero() {
		at = l.now()
	}
	if err := l.appendAt(at, EventType(event.Type), "engine", batch, event.Data); err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to record ledger entry")
	}
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, batch_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetRecent returns the newest entries of any type
func (l *Ledger) GetRecent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, batch_id
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByBatch returns the entries written for one apply batch
func (l *Ledger) GetByBatch(batchID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, batch_id
		FROM event_ledger
		WHERE batch_id = ?
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup deletes entries older than retention every interval until ctx is done.
func (l *Ledger) RunCleanup(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, batchID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &batchID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.BatchID = batchID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
