package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entry = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func at(offset time.Duration) int64 {
	return entry.Add(offset).UnixMilli()
}

func btcTrade() LocalTrade {
	return LocalTrade{
		Symbol:    "BTCUSDTPERP",
		Side:      SideBuy,
		Quantity:  0.01,
		EntryTime: entry,
	}
}

func TestMatch_QuantityExcludesCloserCandidate(t *testing.T) {
	candidates := []ClosedPositionRecord{
		{OrderID: "X", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(2000 * time.Millisecond)},
		{OrderID: "Y", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.05, CreatedTime: at(500 * time.Millisecond)},
	}

	res := NewMatcher().Match(btcTrade(), candidates)

	require.True(t, res.Found())
	assert.Equal(t, MatchQuantityTime, res.MatchType)
	assert.Equal(t, "X", res.Match.OrderID)
}

func TestMatch_SameSideFallback(t *testing.T) {
	candidates := []ClosedPositionRecord{
		{OrderID: "Z", Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.01, CreatedTime: at(100 * time.Millisecond)},
	}

	res := NewMatcher().Match(btcTrade(), candidates)

	require.True(t, res.Found())
	assert.Equal(t, MatchSameSideTime, res.MatchType)
	assert.Equal(t, "Z", res.Match.OrderID)
}

func TestMatch_EmptyCandidates(t *testing.T) {
	res := NewMatcher().Match(btcTrade(), nil)

	assert.Nil(t, res.Match)
	assert.Equal(t, MatchNoSymbol, res.MatchType)
}

func TestMatch_NoSymbolMatch(t *testing.T) {
	candidates := []ClosedPositionRecord{
		{OrderID: "E", Symbol: "ETHUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(0)},
	}

	res := NewMatcher().Match(btcTrade(), candidates)

	assert.Nil(t, res.Match)
	assert.Equal(t, MatchNoSymbol, res.MatchType)
}

func TestMatch_NoSideMatch(t *testing.T) {
	candidates := []ClosedPositionRecord{
		{OrderID: "Q", Symbol: "BTCUSDT", Side: Side(""), Quantity: 0.01, CreatedTime: at(0)},
	}

	res := NewMatcher().Match(btcTrade(), candidates)

	assert.Nil(t, res.Match)
	assert.Equal(t, MatchNoSide, res.MatchType)
}

func TestMatch_ExactOrderIDBypassesFilters(t *testing.T) {
	trade := btcTrade()
	trade.OrderID = "order-1"
	candidates := []ClosedPositionRecord{
		{OrderID: "near", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(0)},
		// wrong symbol, wrong side, wrong quantity, far away in time
		{OrderID: "order-1", Symbol: "DOGEUSDT", Side: SideBuy, Quantity: 900, CreatedTime: at(20 * time.Hour)},
	}

	res := NewMatcher().Match(trade, candidates)

	require.True(t, res.Found())
	assert.Equal(t, MatchExactOrderID, res.MatchType)
	assert.Equal(t, "DOGEUSDT", res.Match.Symbol)
}

func TestMatch_UnknownOrderIDFallsThrough(t *testing.T) {
	trade := btcTrade()
	trade.OrderID = "missing"
	candidates := []ClosedPositionRecord{
		{OrderID: "A", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(time.Second)},
	}

	res := NewMatcher().Match(trade, candidates)

	assert.Equal(t, MatchQuantityTime, res.MatchType)
	assert.Equal(t, "A", res.Match.OrderID)
}

func TestMatch_QuantityToleranceIsStrict(t *testing.T) {
	trade := btcTrade()
	trade.Quantity = 1

	tests := []struct {
		name     string
		quantity float64
		want     MatchType
	}{
		{"exactly 1% is excluded", 1.01, MatchTime},
		{"0.99% is included", 1.0099, MatchQuantityTime},
		{"below by 0.99% is included", 0.9901, MatchQuantityTime},
		{"below by 1% is excluded", 0.99, MatchTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := []ClosedPositionRecord{
				{OrderID: "C", Symbol: "BTCUSDT", Side: SideSell, Quantity: tt.quantity, CreatedTime: at(time.Second)},
			}
			res := NewMatcher().Match(trade, candidates)
			assert.Equal(t, tt.want, res.MatchType)
			assert.Equal(t, "C", res.Match.OrderID)
		})
	}
}

func TestMatch_CustomQuantityToleranceIsStrict(t *testing.T) {
	trade := btcTrade()
	trade.Quantity = 1
	matcher := NewMatcher(WithQuantityTolerance(0.05))

	tests := []struct {
		name     string
		quantity float64
		want     MatchType
	}{
		{"outside the default 1% but within 5%", 1.02, MatchQuantityTime},
		{"exactly 5% above is excluded", 1.05, MatchTime},
		{"just under 5% above is included", 1.0499, MatchQuantityTime},
		{"exactly 5% below is excluded", 0.95, MatchTime},
		{"just under 5% below is included", 0.9501, MatchQuantityTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := []ClosedPositionRecord{
				{OrderID: "C", Symbol: "BTCUSDT", Side: SideSell, Quantity: tt.quantity, CreatedTime: at(time.Second)},
			}
			res := matcher.Match(trade, candidates)
			assert.Equal(t, tt.want, res.MatchType)
		})
	}

	// the default matcher rejects what the wider tolerance accepts
	res := NewMatcher().Match(trade, []ClosedPositionRecord{
		{OrderID: "C", Symbol: "BTCUSDT", Side: SideSell, Quantity: 1.02, CreatedTime: at(time.Second)},
	})
	assert.Equal(t, MatchTime, res.MatchType)
}

func TestMatch_NearestInTimeWins(t *testing.T) {
	candidates := []ClosedPositionRecord{
		{OrderID: "far", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(500 * time.Millisecond)},
		{OrderID: "near", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(-100 * time.Millisecond)},
	}

	res := NewMatcher().Match(btcTrade(), candidates)

	assert.Equal(t, MatchQuantityTime, res.MatchType)
	assert.Equal(t, "near", res.Match.OrderID)
}

func TestMatch_TimeOnlyWhenQuantityUnknown(t *testing.T) {
	trade := btcTrade()
	trade.Quantity = 0
	candidates := []ClosedPositionRecord{
		{OrderID: "a", Symbol: "BTCUSDT", Side: SideSell, Quantity: 3, CreatedTime: at(time.Hour)},
		{OrderID: "b", Symbol: "BTCUSDT", Side: SideSell, Quantity: 7, CreatedTime: at(time.Minute)},
	}

	res := NewMatcher().Match(trade, candidates)

	assert.Equal(t, MatchTime, res.MatchType)
	assert.Equal(t, "b", res.Match.OrderID)
}

func TestMatch_SignedQuantities(t *testing.T) {
	trade := btcTrade()
	trade.Side = SideSell
	trade.Quantity = -0.5
	candidates := []ClosedPositionRecord{
		{OrderID: "s", Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.5, CreatedTime: at(time.Minute)},
	}

	res := NewMatcher().Match(trade, candidates)

	assert.Equal(t, MatchQuantityTime, res.MatchType)
}

func TestMatch_SameSideMappingInvertsSideRules(t *testing.T) {
	candidates := []ClosedPositionRecord{
		{OrderID: "opp", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(0)},
		{OrderID: "same", Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.01, CreatedTime: at(time.Minute)},
	}

	res := NewMatcher(WithSideMapping(SameSide)).Match(btcTrade(), candidates)
	assert.Equal(t, MatchQuantityTime, res.MatchType)
	assert.Equal(t, "same", res.Match.OrderID)

	res = NewMatcher(WithSideMapping(SameSide)).Match(btcTrade(), candidates[:1])
	assert.Equal(t, MatchSameSideTime, res.MatchType)
	assert.Equal(t, "opp", res.Match.OrderID)
}

func TestMatch_DoesNotMutateCandidates(t *testing.T) {
	candidates := []ClosedPositionRecord{
		{OrderID: "1", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(5 * time.Second)},
		{OrderID: "2", Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.01, CreatedTime: at(time.Second)},
	}
	before := make([]ClosedPositionRecord, len(candidates))
	copy(before, candidates)

	res := NewMatcher().Match(btcTrade(), candidates)
	res.Match.ClosedPnL = 42

	assert.Equal(t, before, candidates)
}

func TestNormalizeSymbol(t *testing.T) {
	m := NewMatcher()
	assert.Equal(t, "BTCUSDT", m.NormalizeSymbol("BTCUSDT.P"))
	assert.Equal(t, "BTCUSDT", m.NormalizeSymbol("btcusdtperp"))
	assert.Equal(t, "BTCUSDT", m.NormalizeSymbol("BTCUSDT-PERP"))
	assert.Equal(t, "ETHUSDT", m.NormalizeSymbol(" ETHUSDT "))
	assert.Equal(t, "PERP", m.NormalizeSymbol("PERP"))

	custom := NewMatcher(WithPerpSuffixes("_SWAP"))
	assert.Equal(t, "BTCUSDT", custom.NormalizeSymbol("BTCUSDT_SWAP"))
	assert.Equal(t, "BTCUSDT.P", custom.NormalizeSymbol("BTCUSDT.P"))
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": SideBuy, "LONG": SideBuy, "Sell": SideSell, "short": SideSell} {
		got, err := ParseSide(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSide("flat")
	assert.Error(t, err)
}
