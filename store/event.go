package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event levels
const (
	EventInfo    = "info"
	EventWarning = "warning"
	EventError   = "error"
)

// ReconcileEvent one entry of the reconciliation event log
type ReconcileEvent struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"trade_id"`
	UserID    string    `json:"user_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	MatchType string    `json:"match_type,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// EventStore reconciliation event log
type EventStore struct {
	db *sql.DB
}

func (s *EventStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reconcile_events (
			id TEXT PRIMARY KEY,
			trade_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			match_type TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create reconcile_events table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_reconcile_events_trade ON reconcile_events(trade_id, created_at)`)
	return err
}

// Append adds an event; ID and CreatedAt are filled when empty
func (s *EventStore) Append(e *ReconcileEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO reconcile_events (id, trade_id, user_id, level, message, match_type, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TradeID, e.UserID, e.Level, e.Message, e.MatchType, e.Attempts, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append reconcile event: %w", err)
	}
	return nil
}

// ListByTrade returns the newest events of a trade owned by userID
func (s *EventStore) ListByTrade(userID, tradeID string, limit int) ([]*ReconcileEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, trade_id, user_id, level, message, match_type, attempts, created_at
		FROM reconcile_events
		WHERE trade_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, tradeID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconcile events: %w", err)
	}
	defer rows.Close()

	events := make([]*ReconcileEvent, 0)
	for rows.Next() {
		var e ReconcileEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TradeID, &e.UserID, &e.Level, &e.Message, &e.MatchType, &e.Attempts, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}
