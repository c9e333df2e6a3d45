// Package reconcile matches locally recorded trades against the exchange's
// closed-position PnL feed and owns the retry policy used to read that feed.
package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// Side order direction as reported by the exchange
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// ParseSide accepts Buy/Sell in any case, plus LONG/SHORT aliases used by the dashboard
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Opposite returns Buy for Sell and Sell for Buy
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// LocalTrade the locally recorded trade being reconciled
type LocalTrade struct {
	Symbol    string    // may carry a perpetual suffix, e.g. BTCUSDT.P
	Side      Side      // side of the opening order
	Quantity  float64   // signed or unsigned; 0 means unknown
	OrderID   string    // opening order id, empty when unknown
	EntryTime time.Time // anchor for time-proximity tie-breaks
}

// ClosedPositionRecord a closed position as reported by the exchange
type ClosedPositionRecord struct {
	OrderID       string  `json:"order_id"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"` // side of the closing order
	Quantity      float64 `json:"quantity"`
	ClosedPnL     float64 `json:"closed_pnl"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	AvgExitPrice  float64 `json:"avg_exit_price"`
	CumEntryValue float64 `json:"cum_entry_value"`
	CumExitValue  float64 `json:"cum_exit_value"`
	CreatedTime   int64   `json:"created_time"` // epoch ms
}

// CreatedAt returns CreatedTime as time.Time
func (r ClosedPositionRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedTime)
}

// MatchType which rule produced the result
type MatchType string

const (
	MatchExactOrderID MatchType = "exact_order_id"
	MatchSameSideTime MatchType = "same_side_time_match"
	MatchQuantityTime MatchType = "quantity_time_match"
	MatchTime         MatchType = "time_match"
	MatchNoSymbol     MatchType = "no_symbol_match"
	MatchNoSide       MatchType = "no_side_match"
)

// MatchResult outcome of a single Match call. Match is nil for the no_* types.
type MatchResult struct {
	Match     *ClosedPositionRecord `json:"match"`
	MatchType MatchType             `json:"match_type"`
}

// Found reports whether a record was selected
func (r MatchResult) Found() bool {
	return r.Match != nil
}

// Credentials exchange authentication material supplied by the caller
type Credentials struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// Query parameters of one closed-PnL lookup
type Query struct {
	Symbol      string
	StartTime   time.Time
	EndTime     time.Time
	Limit       int
	Credentials Credentials
}

// NewQuery anchors the lookback window at trade.EntryTime - lookback and ends it at now.
// symbol must already be in the exchange's native format.
func NewQuery(trade LocalTrade, symbol string, creds Credentials, now time.Time, lookback time.Duration, limit int) Query {
	return Query{
		Symbol:      symbol,
		StartTime:   trade.EntryTime.Add(-lookback),
		EndTime:     now,
		Limit:       limit,
		Credentials: creds,
	}
}
