package reconcile

import (
	"context"
	"sync"
	"time"

	"tradedesk/logger"
	"tradedesk/store"
)

// PendingLister lists trades closed without exchange PnL
type PendingLister interface {
	ListPendingPnL(since time.Time, maxAttempts int) ([]*store.Trade, error)
}

// Reconciler reconciles one trade
type Reconciler interface {
	Reconcile(ctx context.Context, userID, tradeID string) (*Outcome, error)
}

// Sweeper periodically retries trades that were closed before their PnL reached the exchange feed
type Sweeper struct {
	reconciler  Reconciler
	pending     PendingLister
	interval    time.Duration
	maxAge      time.Duration
	maxAttempts int
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewSweeper creates a sweeper; zero values fall back to 5m interval, 7d age, 10 attempts
func NewSweeper(reconciler Reconciler, pending PendingLister, interval, maxAge time.Duration, maxAttempts int) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Sweeper{
		reconciler:  reconciler,
		pending:     pending,
		interval:    interval,
		maxAge:      maxAge,
		maxAttempts: maxAttempts,
		stopCh:      make(chan struct{}),
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	logger.Infof("🧹 Reconcile sweeper started (every %s)", s.interval)
}

// Stop stops the loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	logger.Info("🧹 Reconcile sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep reconciles every eligible pending trade once, sequentially. Returns how many got PnL.
func (s *Sweeper) Sweep(ctx context.Context) int {
	trades, err := s.pending.ListPendingPnL(time.Now().Add(-s.maxAge), s.maxAttempts)
	if err != nil {
		logger.Warnf("⚠️  Failed to list trades pending pnl: %v", err)
		return 0
	}
	if len(trades) == 0 {
		return 0
	}

	logger.Infof("🧹 Retrying reconciliation for %d trades", len(trades))
	reconciled := 0
	for _, t := range trades {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.reconciler.Reconcile(ctx, t.UserID, t.ID)
		if err != nil {
			logger.WithField("trade_id", t.ID).Warnf("⚠️  Sweep reconcile failed: %v", err)
			continue
		}
		if outcome.Result.Found() {
			reconciled++
		}
	}
	return reconciled
}
