package reconcile

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// SideMapping how an exchange reports the side of the order that closed a position
type SideMapping int

const (
	// OppositeSide the closing order reports the side opposite to the opening order (Bybit, Binance one-way mode)
	OppositeSide SideMapping = iota
	// SameSide the record repeats the opening side
	SameSide
)

// ParseSideMapping "same" selects SameSide, anything else OppositeSide
func ParseSideMapping(s string) SideMapping {
	if strings.EqualFold(strings.TrimSpace(s), "same") {
		return SameSide
	}
	return OppositeSide
}

func (m SideMapping) String() string {
	if m == SameSide {
		return "same"
	}
	return "opposite"
}

// closingSide side a closing record is expected to carry for a trade opened on open
func (m SideMapping) closingSide(open Side) Side {
	if m == SameSide {
		return open
	}
	return open.Opposite()
}

var (
	defaultPerpSuffixes      = []string{".P", "PERP", "-PERP"}
	defaultQuantityTolerance = decimal.NewFromFloat(0.01)
)

// Matcher selects the closed-position record that most likely belongs to a local trade.
// A Matcher holds only configuration and is safe for concurrent use.
type Matcher struct {
	suffixes    []string
	sideMapping SideMapping
	tolerance   decimal.Decimal
}

// Option configures a Matcher
type Option func(*Matcher)

// WithPerpSuffixes replaces the perpetual-market suffixes stripped from trade symbols
func WithPerpSuffixes(suffixes ...string) Option {
	return func(m *Matcher) {
		m.suffixes = normalizeSuffixes(suffixes)
	}
}

// WithSideMapping sets the exchange's closing-side convention
func WithSideMapping(mapping SideMapping) Option {
	return func(m *Matcher) {
		m.sideMapping = mapping
	}
}

// WithQuantityTolerance sets the relative quantity tolerance (strict less-than)
func WithQuantityTolerance(tolerance float64) Option {
	return func(m *Matcher) {
		m.tolerance = decimal.NewFromFloat(tolerance)
	}
}

// NewMatcher creates a matcher with the default suffixes, opposite-side mapping and 1% tolerance
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		suffixes:    normalizeSuffixes(defaultPerpSuffixes),
		sideMapping: OppositeSide,
		tolerance:   defaultQuantityTolerance,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// longest first so "-PERP" wins over "PERP"
func normalizeSuffixes(suffixes []string) []string {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// NormalizeSymbol upper-cases the symbol and strips one perpetual suffix
func (m *Matcher) NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range m.suffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}

// stage one step of the rule chain: either a decision, or the narrowed candidate set for the next stage
type stage func(trade LocalTrade, set []ClosedPositionRecord) (*MatchResult, []ClosedPositionRecord)

// Match runs the rule chain: exact order id, symbol, opposite side (same-side fallback),
// quantity tolerance, nearest in time. It never mutates candidates.
func (m *Matcher) Match(trade LocalTrade, candidates []ClosedPositionRecord) MatchResult {
	stages := []stage{
		m.byOrderID,
		m.bySymbol,
		m.bySide,
		m.byQuantity,
		m.byTime,
	}

	set := candidates
	for _, next := range stages {
		var decision *MatchResult
		decision, set = next(trade, set)
		if decision != nil {
			return *decision
		}
	}
	// byTime always decides; kept for totality
	return MatchResult{MatchType: MatchNoSide}
}

// byOrderID an order id is globally unique, so it bypasses every other filter
func (m *Matcher) byOrderID(trade LocalTrade, set []ClosedPositionRecord) (*MatchResult, []ClosedPositionRecord) {
	if trade.OrderID == "" {
		return nil, set
	}
	for _, c := range set {
		if c.OrderID == trade.OrderID {
			match := c
			return &MatchResult{Match: &match, MatchType: MatchExactOrderID}, nil
		}
	}
	return nil, set
}

func (m *Matcher) bySymbol(trade LocalTrade, set []ClosedPositionRecord) (*MatchResult, []ClosedPositionRecord) {
	symbol := m.NormalizeSymbol(trade.Symbol)
	matches := filter(set, func(c ClosedPositionRecord) bool {
		return strings.EqualFold(c.Symbol, symbol)
	})
	if len(matches) == 0 {
		return &MatchResult{MatchType: MatchNoSymbol}, nil
	}
	return nil, matches
}

// bySide keeps closing-side records; when there are none it falls back to the other side and decides by time
func (m *Matcher) bySide(trade LocalTrade, set []ClosedPositionRecord) (*MatchResult, []ClosedPositionRecord) {
	closing := m.sideMapping.closingSide(trade.Side)
	closingSet := filter(set, func(c ClosedPositionRecord) bool { return c.Side == closing })
	if len(closingSet) > 0 {
		return nil, closingSet
	}

	fallback := closing.Opposite()
	fallbackSet := filter(set, func(c ClosedPositionRecord) bool { return c.Side == fallback })
	if len(fallbackSet) == 0 {
		return &MatchResult{MatchType: MatchNoSide}, nil
	}
	return &MatchResult{Match: nearest(trade, fallbackSet), MatchType: MatchSameSideTime}, nil
}

// byQuantity decides only when some record is within tolerance; otherwise passes the set through untouched
func (m *Matcher) byQuantity(trade LocalTrade, set []ClosedPositionRecord) (*MatchResult, []ClosedPositionRecord) {
	if trade.Quantity == 0 {
		return nil, set
	}
	want := decimal.NewFromFloat(math.Abs(trade.Quantity))
	within := filter(set, func(c ClosedPositionRecord) bool {
		got := decimal.NewFromFloat(math.Abs(c.Quantity))
		return got.Sub(want).Abs().Div(want).LessThan(m.tolerance)
	})
	if len(within) == 0 {
		return nil, set
	}
	return &MatchResult{Match: nearest(trade, within), MatchType: MatchQuantityTime}, nil
}

func (m *Matcher) byTime(trade LocalTrade, set []ClosedPositionRecord) (*MatchResult, []ClosedPositionRecord) {
	if len(set) == 0 {
		return &MatchResult{MatchType: MatchNoSide}, nil
	}
	return &MatchResult{Match: nearest(trade, set), MatchType: MatchTime}, nil
}

// filter returns a fresh slice; the input is never aliased
func filter(set []ClosedPositionRecord, keep func(ClosedPositionRecord) bool) []ClosedPositionRecord {
	var out []ClosedPositionRecord
	for _, c := range set {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// nearest record closest in time to the trade's entry; equidistant records keep input order
func nearest(trade LocalTrade, set []ClosedPositionRecord) *ClosedPositionRecord {
	anchor := trade.EntryTime.UnixMilli()
	sorted := make([]ClosedPositionRecord, len(set))
	copy(sorted, set)
	sort.SliceStable(sorted, func(i, j int) bool {
		return distance(sorted[i].CreatedTime, anchor) < distance(sorted[j].CreatedTime, anchor)
	})
	return &sorted[0]
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
