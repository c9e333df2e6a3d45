package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExchangeStore exchange account storage
type ExchangeStore struct {
	db          *sql.DB
	encryptFunc func(string) string
	decryptFunc func(string) string
}

// ExchangeAccount API credentials of one user on one exchange
type ExchangeAccount struct {
	ID        string    `json:"id"` // UUID
	UserID    string    `json:"user_id"`
	Exchange  string    `json:"exchange"` // "bybit", "binance"
	APIKey    string    `json:"-"`
	SecretKey string    `json:"-"`
	Testnet   bool      `json:"testnet"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *ExchangeStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS exchange_accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			exchange TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			secret_key TEXT NOT NULL DEFAULT '',
			testnet BOOLEAN NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user_id, exchange)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create exchange_accounts table: %w", err)
	}
	return nil
}

func (s *ExchangeStore) encrypt(v string) string {
	if s.encryptFunc == nil {
		return v
	}
	return s.encryptFunc(v)
}

func (s *ExchangeStore) decrypt(v string) string {
	if s.decryptFunc == nil {
		return v
	}
	return s.decryptFunc(v)
}

// Upsert stores credentials for (user, exchange). Empty key/secret keep the existing values.
func (s *ExchangeStore) Upsert(a *ExchangeAccount) error {
	now := time.Now().UTC()
	a.Exchange = strings.ToLower(a.Exchange)
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	_, err := s.db.Exec(`
		INSERT INTO exchange_accounts (id, user_id, exchange, api_key, secret_key, testnet, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, exchange) DO UPDATE SET
			api_key = CASE WHEN excluded.api_key = '' THEN exchange_accounts.api_key ELSE excluded.api_key END,
			secret_key = CASE WHEN excluded.secret_key = '' THEN exchange_accounts.secret_key ELSE excluded.secret_key END,
			testnet = excluded.testnet,
			updated_at = excluded.updated_at
	`, a.ID, a.UserID, a.Exchange, s.encrypt(a.APIKey), s.encrypt(a.SecretKey), a.Testnet,
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to save exchange account: %w", err)
	}
	return nil
}

// Get returns decrypted credentials of userID on exchange
func (s *ExchangeStore) Get(userID, exchange string) (*ExchangeAccount, error) {
	var a ExchangeAccount
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, exchange, api_key, secret_key, testnet, created_at, updated_at
		FROM exchange_accounts WHERE user_id = ? AND exchange = ?
	`, userID, strings.ToLower(exchange)).Scan(
		&a.ID, &a.UserID, &a.Exchange, &a.APIKey, &a.SecretKey, &a.Testnet, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s account for user %s: %w", exchange, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange account: %w", err)
	}
	a.APIKey = s.decrypt(a.APIKey)
	a.SecretKey = s.decrypt(a.SecretKey)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// EncryptPlaintext re-saves credentials that are not yet encrypted at rest. Returns the number of accounts rewritten.
func (s *ExchangeStore) EncryptPlaintext(isEncrypted func(string) bool) (int, error) {
	if s.encryptFunc == nil {
		return 0, errors.New("no encryption function configured")
	}

	type pending struct{ id, apiKey, secretKey string }
	rows, err := s.db.Query(`SELECT id, api_key, secret_key FROM exchange_accounts`)
	if err != nil {
		return 0, fmt.Errorf("failed to query exchange accounts: %w", err)
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.apiKey, &p.secretKey); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan exchange account: %w", err)
		}
		if (p.apiKey != "" && !isEncrypted(p.apiKey)) || (p.secretKey != "" && !isEncrypted(p.secretKey)) {
			todo = append(todo, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	seal := func(v string) string {
		if v == "" || isEncrypted(v) {
			return v
		}
		return s.encryptFunc(v)
	}

	now := formatTime(time.Now())
	err = transaction(s.db, func(tx *sql.Tx) error {
		for _, p := range todo {
			if _, err := tx.Exec(`UPDATE exchange_accounts SET api_key = ?, secret_key = ?, updated_at = ? WHERE id = ?`,
				seal(p.apiKey), seal(p.secretKey), now, p.id); err != nil {
				return fmt.Errorf("failed to encrypt account %s: %w", p.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(todo), nil
}
