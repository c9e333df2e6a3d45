package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trade status values
const (
	TradeStatusOpen          = "open"
	TradeStatusClosed        = "closed"             // closed with exchange PnL attached
	TradeStatusClosedPending = "closed_pending_pnl" // closed, PnL not yet found on the exchange
)

// Win/loss classification of a reconciled trade
const (
	WinLossWin       = "win"
	WinLossLoss      = "loss"
	WinLossBreakeven = "breakeven"
)

// Trade manually recorded or webhook-opened trade
type Trade struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	BotID             string     `json:"bot_id"`
	Exchange          string     `json:"exchange"` // bybit/binance
	Symbol            string     `json:"symbol"`   // as received from TradingView, may carry a perp suffix
	Side              string     `json:"side"`     // Buy/Sell
	Quantity          float64    `json:"quantity"`
	EntryPrice        float64    `json:"entry_price"`
	RiskAmount        float64    `json:"risk_amount"` // quote currency at risk, for R multiples
	OrderID           string     `json:"order_id"`
	EntryTime         time.Time  `json:"entry_time"`
	Status            string     `json:"status"`
	ClosePrice        float64    `json:"close_price"`
	PnL               float64    `json:"pnl"`
	FinishR           float64    `json:"finish_r"`
	WinLoss           string     `json:"win_loss"`
	ClosedAt          *time.Time `json:"closed_at"`
	ReconciledAt      *time.Time `json:"reconciled_at"`
	ReconcileAttempts int        `json:"reconcile_attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TradeClose exchange outcome written back on a successful reconciliation
type TradeClose struct {
	ClosePrice float64
	PnL        float64
	FinishR    float64
	WinLoss    string
	ClosedAt   time.Time
}

// TradeStore trade storage
type TradeStore struct {
	db *sql.DB
}

func (s *TradeStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			bot_id TEXT NOT NULL DEFAULT '',
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL DEFAULT 0,
			entry_price REAL NOT NULL DEFAULT 0,
			risk_amount REAL NOT NULL DEFAULT 0,
			order_id TEXT NOT NULL DEFAULT '',
			entry_time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			close_price REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			finish_r REAL NOT NULL DEFAULT 0,
			win_loss TEXT NOT NULL DEFAULT '',
			closed_at TEXT,
			reconciled_at TEXT,
			reconcile_attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create trades table: %w", err)
	}

	indices := []string{
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, entry_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status, closed_at)`,
	}
	for _, idx := range indices {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Create inserts a new open trade; ID is generated when empty
func (s *TradeStore) Create(t *Trade) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TradeStatusOpen
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO trades (
			id, user_id, bot_id, exchange, symbol, side, quantity, entry_price,
			risk_amount, order_id, entry_time, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.UserID, t.BotID, t.Exchange, t.Symbol, t.Side, t.Quantity, t.EntryPrice,
		t.RiskAmount, t.OrderID, formatTime(t.EntryTime), t.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

const tradeColumns = `
	id, user_id, bot_id, exchange, symbol, side, quantity, entry_price, risk_amount,
	order_id, entry_time, status, close_price, pnl, finish_r, win_loss, closed_at,
	reconciled_at, reconcile_attempts, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var t Trade
	var entryTime, createdAt, updatedAt string
	var closedAt, reconciledAt sql.NullString
	err := row.Scan(
		&t.ID, &t.UserID, &t.BotID, &t.Exchange, &t.Symbol, &t.Side, &t.Quantity,
		&t.EntryPrice, &t.RiskAmount, &t.OrderID, &entryTime, &t.Status, &t.ClosePrice,
		&t.PnL, &t.FinishR, &t.WinLoss, &closedAt, &reconciledAt, &t.ReconcileAttempts,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.EntryTime = parseTime(entryTime)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.ClosedAt = parseNullTime(closedAt)
	t.ReconciledAt = parseNullTime(reconciledAt)
	return &t, nil
}

// Get returns the trade if it belongs to userID
func (s *TradeStore) Get(userID, tradeID string) (*Trade, error) {
	row := s.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE id = ? AND user_id = ?`, tradeID, userID)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// MarkReconciled writes the exchange outcome and sets status closed
func (s *TradeStore) MarkReconciled(tradeID string, c TradeClose) error {
	now := time.Now().UTC()
	return s.exec(tradeID, `
		UPDATE trades SET
			status = ?, close_price = ?, pnl = ?, finish_r = ?, win_loss = ?,
			closed_at = COALESCE(closed_at, ?), reconciled_at = ?, updated_at = ?
		WHERE id = ?
	`, TradeStatusClosed, c.ClosePrice, c.PnL, c.FinishR, c.WinLoss,
		formatTime(c.ClosedAt), formatTime(now), formatTime(now), tradeID)
}

// MarkPendingPnL marks the trade closed without exchange PnL; a later sweep retries it
func (s *TradeStore) MarkPendingPnL(tradeID string, closedAt time.Time) error {
	now := time.Now().UTC()
	return s.exec(tradeID, `
		UPDATE trades SET
			status = ?, closed_at = COALESCE(closed_at, ?), updated_at = ?
		WHERE id = ?
	`, TradeStatusClosedPending, formatTime(closedAt), formatTime(now), tradeID)
}

// IncrementAttempts bumps the reconciliation attempt counter
func (s *TradeStore) IncrementAttempts(tradeID string) error {
	return s.exec(tradeID, `
		UPDATE trades SET reconcile_attempts = reconcile_attempts + 1, updated_at = ?
		WHERE id = ?
	`, formatTime(time.Now().UTC()), tradeID)
}

// ListPendingPnL trades closed without PnL since the given time with fewer than maxAttempts tries
func (s *TradeStore) ListPendingPnL(since time.Time, maxAttempts int) ([]*Trade, error) {
	rows, err := s.db.Query(`SELECT `+tradeColumns+` FROM trades
		WHERE status = ? AND closed_at >= ? AND reconcile_attempts < ?
		ORDER BY closed_at ASC
	`, TradeStatusClosedPending, formatTime(since), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *TradeStore) exec(tradeID, query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", tradeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trade %s: %w", tradeID, ErrNotFound)
	}
	return nil
}
