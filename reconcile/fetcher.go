package reconcile

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"tradedesk/logger"
)

// QueryFunc performs exactly one closed-PnL lookup against the exchange
type QueryFunc func(ctx context.Context, q Query) ([]ClosedPositionRecord, error)

// RetryPolicy bounded exponential backoff with additive jitter
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryPolicy 3 attempts, min(1s*2^n, 8s) plus up to 1s jitter between them
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		MaxJitter:   time.Second,
	}
}

// Backoff delay after failed attempt n (0-based), excluding jitter
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Fetcher wraps a QueryFunc with the retry policy. The closed-PnL ledger is filled
// asynchronously after a position closes, so an early read may legitimately fail.
type Fetcher struct {
	query  QueryFunc
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithSleep replaces the wait between attempts
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// WithJitter replaces the jitter source
func WithJitter(jitter func(max time.Duration) time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.jitter = jitter
	}
}

// NewFetcher creates a retrying fetcher; a non-positive MaxAttempts is treated as 1
func NewFetcher(query QueryFunc, policy RetryPolicy, opts ...FetcherOption) *Fetcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	f := &Fetcher{
		query:  query,
		policy: policy,
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs the query up to MaxAttempts times. On exhaustion it returns *ExhaustedError
// wrapping the last failure, never an empty list.
func (f *Fetcher) Fetch(ctx context.Context, q Query) ([]ClosedPositionRecord, error) {
	var lastErr error
	for attempt := 0; attempt < f.policy.MaxAttempts; attempt++ {
		records, err := f.query(ctx, q)
		if err == nil {
			if attempt > 0 {
				logger.Infof("📊 Closed PnL for %s fetched on attempt %d", q.Symbol, attempt+1)
			}
			return records, nil
		}
		lastErr = err
		logger.Warnf("⚠️  Closed PnL fetch for %s failed (attempt %d/%d): %v", q.Symbol, attempt+1, f.policy.MaxAttempts, err)

		if attempt == f.policy.MaxAttempts-1 {
			break
		}

		delay := f.policy.Backoff(attempt)
		if f.policy.MaxJitter > 0 {
			delay += f.jitter(f.policy.MaxJitter)
		}
		if err := f.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("closed pnl fetch for %s cancelled after %d attempts: %w", q.Symbol, attempt+1, err)
		}
	}
	return nil, &ExhaustedError{Attempts: f.policy.MaxAttempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(max)))
}
