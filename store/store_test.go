package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	st *Store
}

func (s *StoreTestSuite) SetupTest() {
	st, err := New(filepath.Join(s.T().TempDir(), "test.db"))
	s.Require().NoError(err)
	s.st = st
}

func (s *StoreTestSuite) TearDownTest() {
	s.st.Close()
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) newTrade(userID string) *Trade {
	t := &Trade{
		UserID:     userID,
		Exchange:   "bybit",
		Symbol:     "BTCUSDT.P",
		Side:       "Buy",
		Quantity:   0.01,
		EntryPrice: 64000,
		RiskAmount: 50,
		OrderID:    "ord-1",
		EntryTime:  time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	s.Require().NoError(s.st.Trade().Create(t))
	return t
}

func (s *StoreTestSuite) TestTrade_CreateAndGet() {
	created := s.newTrade("alice")

	got, err := s.st.Trade().Get("alice", created.ID)
	s.Require().NoError(err)
	s.Equal(TradeStatusOpen, got.Status)
	s.Equal("BTCUSDT.P", got.Symbol)
	s.Equal("ord-1", got.OrderID)
	s.True(got.EntryTime.Equal(created.EntryTime))
	s.Nil(got.ClosedAt)
}

func (s *StoreTestSuite) TestTrade_VisibleOnlyToOwner() {
	created := s.newTrade("alice")

	_, err := s.st.Trade().Get("mallory", created.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestTrade_MarkReconciled() {
	created := s.newTrade("alice")
	closedAt := created.EntryTime.Add(2 * time.Hour)

	s.Require().NoError(s.st.Trade().MarkReconciled(created.ID, TradeClose{
		ClosePrice: 65000, PnL: 10, FinishR: 0.2, WinLoss: WinLossWin, ClosedAt: closedAt,
	}))

	got, err := s.st.Trade().Get("alice", created.ID)
	s.Require().NoError(err)
	s.Equal(TradeStatusClosed, got.Status)
	s.InDelta(65000, got.ClosePrice, 1e-9)
	s.InDelta(10, got.PnL, 1e-9)
	s.Equal(WinLossWin, got.WinLoss)
	s.Require().NotNil(got.ClosedAt)
	s.True(got.ClosedAt.Equal(closedAt))
	s.NotNil(got.ReconciledAt)
}

func (s *StoreTestSuite) TestTrade_PendingKeepsFirstCloseTime() {
	created := s.newTrade("alice")
	first := created.EntryTime.Add(time.Hour)

	s.Require().NoError(s.st.Trade().MarkPendingPnL(created.ID, first))
	s.Require().NoError(s.st.Trade().MarkPendingPnL(created.ID, first.Add(time.Hour)))

	got, err := s.st.Trade().Get("alice", created.ID)
	s.Require().NoError(err)
	s.Equal(TradeStatusClosedPending, got.Status)
	s.True(got.ClosedAt.Equal(first))
}

func (s *StoreTestSuite) TestTrade_ListPendingPnL() {
	fresh := s.newTrade("alice")
	stale := s.newTrade("bob")
	tired := s.newTrade("carol")
	now := time.Now().UTC()

	s.Require().NoError(s.st.Trade().MarkPendingPnL(fresh.ID, now.Add(-time.Hour)))
	s.Require().NoError(s.st.Trade().MarkPendingPnL(stale.ID, now.Add(-30*24*time.Hour)))
	s.Require().NoError(s.st.Trade().MarkPendingPnL(tired.ID, now.Add(-time.Hour)))
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.st.Trade().IncrementAttempts(tired.ID))
	}

	pending, err := s.st.Trade().ListPendingPnL(now.Add(-7*24*time.Hour), 3)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(fresh.ID, pending[0].ID)
}

func (s *StoreTestSuite) TestTrade_UpdateUnknownID() {
	err := s.st.Trade().IncrementAttempts("nope")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestExchange_UpsertEncryptsAndKeepsSecrets() {
	s.st.SetCryptoFuncs(
		func(v string) string {
			if v == "" {
				return v
			}
			return "ENC:" + v
		},
		func(v string) string { return strings.TrimPrefix(v, "ENC:") },
	)

	s.Require().NoError(s.st.Exchange().Upsert(&ExchangeAccount{UserID: "alice", Exchange: "Bybit", APIKey: "key", SecretKey: "secret"}))
	// empty credentials must not overwrite stored ones
	s.Require().NoError(s.st.Exchange().Upsert(&ExchangeAccount{UserID: "alice", Exchange: "bybit", Testnet: true}))

	var raw string
	s.Require().NoError(s.st.db.QueryRow(`SELECT secret_key FROM exchange_accounts WHERE user_id = 'alice'`).Scan(&raw))
	s.Equal("ENC:secret", raw)

	acc, err := s.st.Exchange().Get("alice", "BYBIT")
	s.Require().NoError(err)
	s.Equal("key", acc.APIKey)
	s.Equal("secret", acc.SecretKey)
	s.True(acc.Testnet)

	_, err = s.st.Exchange().Get("alice", "binance")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestEvent_AppendAndList() {
	ev := s.st.Event()
	s.Require().NoError(ev.Append(&ReconcileEvent{TradeID: "t1", UserID: "alice", Level: EventWarning, Message: "no match", CreatedAt: time.Now().Add(-time.Minute)}))
	s.Require().NoError(ev.Append(&ReconcileEvent{TradeID: "t1", UserID: "alice", Level: EventInfo, Message: "matched", MatchType: "time_match", Attempts: 2}))
	s.Require().NoError(ev.Append(&ReconcileEvent{TradeID: "t1", UserID: "bob", Level: EventInfo, Message: "other owner"}))

	events, err := ev.ListByTrade("alice", "t1", 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("matched", events[0].Message)
	s.Equal("time_match", events[0].MatchType)
	s.Equal(2, events[0].Attempts)
	s.NotEmpty(events[0].ID)
}

func (s *StoreTestSuite) TestTransaction_RollsBackOnError() {
	ev := s.st.Event()
	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.Exec(`
			INSERT INTO reconcile_events (id, trade_id, user_id, level, message, created_at)
			VALUES (?, 't1', 'alice', 'info', ?, ?)
		`, id, id, formatTime(time.Now()))
		return err
	}

	failed := errors.New("boom")
	err := transaction(s.st.db, func(tx *sql.Tx) error {
		if err := insert(tx, "rolled-back"); err != nil {
			return err
		}
		return failed
	})
	s.ErrorIs(err, failed)

	s.Require().NoError(transaction(s.st.db, func(tx *sql.Tx) error {
		return insert(tx, "committed")
	}))

	events, err := ev.ListByTrade("alice", "t1", 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal("committed", events[0].Message)
}

func (s *StoreTestSuite) TestExchange_EncryptPlaintext() {
	_, err := s.st.Exchange().EncryptPlaintext(func(string) bool { return false })
	s.Error(err, "no encryption configured yet")

	// written before encryption was enabled
	s.Require().NoError(s.st.Exchange().Upsert(&ExchangeAccount{UserID: "alice", Exchange: "bybit", APIKey: "key", SecretKey: "secret"}))

	var encrypted []string
	s.st.SetCryptoFuncs(
		func(v string) string {
			encrypted = append(encrypted, v)
			return "ENC:" + v
		},
		func(v string) string { return strings.TrimPrefix(v, "ENC:") },
	)
	isEncrypted := func(v string) bool { return strings.HasPrefix(v, "ENC:") }

	n, err := s.st.Exchange().EncryptPlaintext(isEncrypted)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.ElementsMatch([]string{"key", "secret"}, encrypted)

	n, err = s.st.Exchange().EncryptPlaintext(isEncrypted)
	s.Require().NoError(err)
	s.Equal(0, n)

	var raw string
	s.Require().NoError(s.st.db.QueryRow(`SELECT secret_key FROM exchange_accounts WHERE user_id = 'alice'`).Scan(&raw))
	s.Equal("ENC:secret", raw)

	acc, err := s.st.Exchange().Get("alice", "bybit")
	s.Require().NoError(err)
	s.Equal("secret", acc.SecretKey)
}

func TestNew_BadPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing-dir", "x", "test.db"))
	require.Error(t, err)
}

func TestFormatTime_SortsChronologically(t *testing.T) {
	a := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(500 * time.Millisecond)
	assert.Less(t, formatTime(a), formatTime(b))
	assert.True(t, parseTime(formatTime(b)).Equal(b))
}
