package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradedesk/logger"
	"tradedesk/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TradeRepository trade reads and outcome writes
type TradeRepository interface {
	Get(userID, tradeID string) (*store.Trade, error)
	MarkReconciled(tradeID string, c store.TradeClose) error
	MarkPendingPnL(tradeID string, closedAt time.Time) error
	IncrementAttempts(tradeID string) error
}

// AccountRepository exchange credentials lookup
type AccountRepository interface {
	Get(userID, exchange string) (*store.ExchangeAccount, error)
}

// EventLog append-only reconciliation log
type EventLog interface {
	Append(e *store.ReconcileEvent) error
}

// SourceFactory builds the one-shot closed-PnL query for an exchange
type SourceFactory func(exchange string, creds Credentials) (QueryFunc, error)

// ServiceConfig tunables of the reconciliation service
type ServiceConfig struct {
	Retry        RetryPolicy
	Lookback     time.Duration
	Limit        int
	PerpSuffixes []string
	SideMappings map[string]SideMapping // exchange -> mapping, OppositeSide when absent
}

// DefaultServiceConfig 3 attempts, 24h lookback, 50 records
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Retry:        DefaultRetryPolicy(),
		Lookback:     24 * time.Hour,
		Limit:        50,
		PerpSuffixes: defaultPerpSuffixes,
	}
}

// Outcome result of reconciling one trade
type Outcome struct {
	Trade  *store.Trade `json:"trade"`
	Result MatchResult  `json:"result"`
}

// Service reconciles stored trades against the exchange closed-PnL feed
type Service struct {
	trades   TradeRepository
	accounts AccountRepository
	events   EventLog
	sources  SourceFactory
	cfg      ServiceConfig

	fetcherOpts []FetcherOption
	now         func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithFetcherOptions passes options to every Fetcher the service builds
func WithFetcherOptions(opts ...FetcherOption) ServiceOption {
	return func(s *Service) {
		s.fetcherOpts = append(s.fetcherOpts, opts...)
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a reconciliation service
func NewService(trades TradeRepository, accounts AccountRepository, events EventLog, sources SourceFactory, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	// nil means unset; an empty list turns suffix stripping off
	if cfg.PerpSuffixes == nil {
		cfg.PerpSuffixes = defaultPerpSuffixes
	}
	s := &Service{
		trades:   trades,
		accounts: accounts,
		events:   events,
		sources:  sources,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// matcherFor builds the matcher with the exchange's side convention
func (s *Service) matcherFor(exchange string) *Matcher {
	mapping := OppositeSide
	if m, ok := s.cfg.SideMappings[strings.ToLower(exchange)]; ok {
		mapping = m
	}
	return NewMatcher(WithPerpSuffixes(s.cfg.PerpSuffixes...), WithSideMapping(mapping))
}

// Reconcile attaches exchange PnL to a trade. A fetch failure leaves the trade status
// untouched and is returned; no match marks the trade closed without PnL.
func (s *Service) Reconcile(ctx context.Context, userID, tradeID string) (*Outcome, error) {
	trade, err := s.trades.Get(userID, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status == store.TradeStatusClosed {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ErrAlreadyReconciled)
	}

	local, err := toLocalTrade(trade)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.Get(userID, trade.Exchange)
	if err != nil {
		return nil, err
	}
	creds := Credentials{APIKey: account.APIKey, SecretKey: account.SecretKey, Testnet: account.Testnet}

	query, err := s.sources(trade.Exchange, creds)
	if err != nil {
		return nil, err
	}

	matcher := s.matcherFor(trade.Exchange)
	now := s.now()
	q := NewQuery(local, matcher.NormalizeSymbol(local.Symbol), creds, now, s.cfg.Lookback, s.cfg.Limit)

	records, err := NewFetcher(query, s.cfg.Retry, s.fetcherOpts...).Fetch(ctx, q)
	if err != nil {
		if incErr := s.trades.IncrementAttempts(trade.ID); incErr != nil {
			logger.Warnf("⚠️  Failed to count reconcile attempt for %s: %v", trade.ID, incErr)
		}
		s.appendEvent(trade, store.EventError, fmt.Sprintf("closed pnl fetch failed: %v", err), "", attemptsOf(err, s.cfg.Retry.MaxAttempts))
		return nil, fmt.Errorf("reconcile trade %s: %w", trade.ID, err)
	}

	result := matcher.Match(local, records)

	if !result.Found() {
		if err := s.trades.MarkPendingPnL(trade.ID, now); err != nil {
			return nil, err
		}
		if err := s.trades.IncrementAttempts(trade.ID); err != nil {
			logger.Warnf("⚠️  Failed to count reconcile attempt for %s: %v", trade.ID, err)
		}
		logger.Warnf("⚠️  No closed pnl record for trade %s %s %s (%s, %d candidates)",
			trade.ID, trade.Symbol, trade.Side, result.MatchType, len(records))
		s.appendEvent(trade, store.EventWarning,
			fmt.Sprintf("closed without pnl: %s among %d records", result.MatchType, len(records)),
			result.MatchType, 0)
	} else {
		closing := closeFor(trade, result.Match, now)
		if err := s.trades.MarkReconciled(trade.ID, closing); err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"trade_id":   trade.ID,
			"match_type": result.MatchType,
			"order_id":   result.Match.OrderID,
		}).Infof("📊 Trade reconciled: PnL %.4f, R %.2f", closing.PnL, closing.FinishR)
		s.appendEvent(trade, store.EventInfo,
			fmt.Sprintf("reconciled with order %s, pnl %s", result.Match.OrderID,
				decimal.NewFromFloat(closing.PnL).StringFixed(4)),
			result.MatchType, 0)
	}

	updated, err := s.trades.Get(userID, tradeID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Trade: updated, Result: result}, nil
}

// appendEvent never fails the reconciliation
func (s *Service) appendEvent(trade *store.Trade, level, message string, matchType MatchType, attempts int) {
	if s.events == nil {
		return
	}
	err := s.events.Append(&store.ReconcileEvent{
		TradeID:   trade.ID,
		UserID:    trade.UserID,
		Level:     level,
		Message:   message,
		MatchType: string(matchType),
		Attempts:  attempts,
	})
	if err != nil {
		logger.Warnf("⚠️  Failed to append reconcile event for %s: %v", trade.ID, err)
	}
}

func attemptsOf(err error, fallback int) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return fallback
}

func toLocalTrade(t *store.Trade) (LocalTrade, error) {
	side, err := ParseSide(t.Side)
	if err != nil {
		return LocalTrade{}, fmt.Errorf("trade %s: %w", t.ID, err)
	}
	return LocalTrade{
		Symbol:    t.Symbol,
		Side:      side,
		Quantity:  t.Quantity,
		OrderID:   t.OrderID,
		EntryTime: t.EntryTime,
	}, nil
}

// closeFor derives the stored outcome; R is PnL over the risked amount, 0 when risk is unknown
func closeFor(trade *store.Trade, rec *ClosedPositionRecord, now time.Time) store.TradeClose {
	pnl := decimal.NewFromFloat(rec.ClosedPnL)

	var finishR float64
	if trade.RiskAmount > 0 {
		finishR = pnl.Div(decimal.NewFromFloat(trade.RiskAmount)).Round(2).InexactFloat64()
	}

	winLoss := store.WinLossBreakeven
	switch pnl.Sign() {
	case 1:
		winLoss = store.WinLossWin
	case -1:
		winLoss = store.WinLossLoss
	}

	closedAt := now
	if rec.CreatedTime > 0 {
		closedAt = rec.CreatedAt()
	}

	return store.TradeClose{
		ClosePrice: rec.AvgExitPrice,
		PnL:        rec.ClosedPnL,
		FinishR:    finishR,
		WinLoss:    winLoss,
		ClosedAt:   closedAt,
	}
}
