// Package store provides unified database storage layer
// All database operations should go through this package
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradedesk/logger"

	_ "modernc.org/sqlite"
)

// ErrNotFound row missing or not owned by the requesting user
var ErrNotFound = errors.New("not found")

// Store unified data storage
type Store struct {
	db *sql.DB

	// Sub-stores (lazy initialization)
	trade    *TradeStore
	exchange *ExchangeStore
	event    *EventStore

	// Encryption functions for credential columns
	encryptFunc func(string) string
	decryptFunc func(string) string

	mu sync.RWMutex
}

// New opens (or creates) the SQLite database at dbPath and initializes tables
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	logger.Infof("✅ Database initialized (%s)", dbPath)
	return s, nil
}

// SetCryptoFuncs sets encryption/decryption functions
func (s *Store) SetCryptoFuncs(encrypt, decrypt func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptFunc = encrypt
	s.decryptFunc = decrypt

	if s.exchange != nil {
		s.exchange.encryptFunc = encrypt
		s.exchange.decryptFunc = decrypt
	}
}

// initTables initializes all database tables
func (s *Store) initTables() error {
	if err := s.Trade().initTables(); err != nil {
		return fmt.Errorf("failed to initialize trade tables: %w", err)
	}
	if err := s.Exchange().initTables(); err != nil {
		return fmt.Errorf("failed to initialize exchange tables: %w", err)
	}
	if err := s.Event().initTables(); err != nil {
		return fmt.Errorf("failed to initialize event tables: %w", err)
	}
	return nil
}

// Trade gets trade storage
func (s *Store) Trade() *TradeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trade == nil {
		s.trade = &TradeStore{db: s.db}
	}
	return s.trade
}

// Exchange gets exchange account storage
func (s *Store) Exchange() *ExchangeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exchange == nil {
		s.exchange = &ExchangeStore{
			db:          s.db,
			encryptFunc: s.encryptFunc,
			decryptFunc: s.decryptFunc,
		}
	}
	return s.exchange
}

// Event gets reconciliation event log storage
func (s *Store) Event() *EventStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		s.event = &EventStore{db: s.db}
	}
	return s.event
}

// Close closes database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// transaction executes fn inside a transaction
func transaction(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// fixed-width so text comparison in SQL orders chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timestamps are stored as text in UTC
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
