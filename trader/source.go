package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradedesk/logger"
	"tradedesk/reconcile"

	"github.com/shopspring/decimal"
)

// ErrMalformedRecord an upstream closed-pnl record could not be parsed
var ErrMalformedRecord = errors.New("malformed closed pnl record")

// ClosedPnLSource one-shot closed-PnL query against an exchange
type ClosedPnLSource interface {
	QueryClosedPnL(ctx context.Context, q reconcile.Query) ([]reconcile.ClosedPositionRecord, error)
}

// MalformedPolicy what to do with records that fail to parse
type MalformedPolicy int

const (
	SkipMalformed   MalformedPolicy = iota // drop the record, log at warn
	FailOnMalformed                        // fail the whole query with ErrMalformedRecord
)

// ParseMalformedPolicy accepts "skip" or "fail", empty means skip
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return SkipMalformed, nil
	case "fail":
		return FailOnMalformed, nil
	}
	return SkipMalformed, fmt.Errorf("unknown malformed record policy %q", s)
}

func (p MalformedPolicy) String() string {
	if p == FailOnMalformed {
		return "fail"
	}
	return "skip"
}

// NewSource builds the closed-PnL query for an exchange account
func NewSource(exchange string, creds reconcile.Credentials, policy MalformedPolicy) (reconcile.QueryFunc, error) {
	var src ClosedPnLSource
	switch strings.ToLower(exchange) {
	case "bybit":
		src = NewBybitClosedPnL(creds, policy)
	case "binance":
		src = NewBinanceClosedPnL(creds, policy)
	default:
		return nil, fmt.Errorf("closed pnl not supported for exchange %q", exchange)
	}
	return src.QueryClosedPnL, nil
}

// SourceFactory adapts NewSource to the reconcile service with a fixed policy
func SourceFactory(policy MalformedPolicy) reconcile.SourceFactory {
	return func(exchange string, creds reconcile.Credentials) (reconcile.QueryFunc, error) {
		return NewSource(exchange, creds, policy)
	}
}

// maxQueryWindow both exchanges reject closed-pnl windows longer than 7 days
const maxQueryWindow = 7 * 24 * time.Hour

// windowStart keeps the query inside maxQueryWindow, dropping the oldest part
func windowStart(q reconcile.Query) time.Time {
	if q.EndTime.Sub(q.StartTime) > maxQueryWindow {
		start := q.EndTime.Add(-maxQueryWindow)
		logger.Debugf("closed pnl window for %s clamped to start at %s", q.Symbol, start.Format(time.RFC3339))
		return start
	}
	return q.StartTime
}

// fieldDecimal parses a numeric string field; missing or empty fields are reported as absent
func fieldDecimal(item map[string]interface{}, key string) (decimal.Decimal, bool, error) {
	raw, ok := item[key]
	if !ok || raw == nil {
		return decimal.Zero, false, nil
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		return decimal.NewFromFloat(v), true, nil
	default:
		return decimal.Zero, false, fmt.Errorf("%s: unexpected type %T", key, raw)
	}
	if s == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}
