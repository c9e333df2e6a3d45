package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"tradedesk/hook"
	"tradedesk/logger"
	"tradedesk/reconcile"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	binanceFuturesTestnetURL = "https://testnet.binancefuture.com"
	binanceTradesPageSize    = 1000 // userTrades maximum
	binanceMaxPages          = 50
)

// BinanceClosedPnL rebuilds closed positions from USDⓈ-M account fills.
// Closing fills are grouped by order id.
type BinanceClosedPnL struct {
	client   *futures.Client
	policy   MalformedPolicy
	pageSize int
}

// NewBinanceClosedPnL creates a Binance futures closed-PnL source
func NewBinanceClosedPnL(creds reconcile.Credentials, policy MalformedPolicy) *BinanceClosedPnL {
	client := futures.NewClient(creds.APIKey, creds.SecretKey)
	if creds.Testnet {
		client.BaseURL = binanceFuturesTestnetURL
	}
	client.HTTPClient = hook.ExchangeHTTPClient("binance", client.HTTPClient)
	return &BinanceClosedPnL{client: client, policy: policy, pageSize: binanceTradesPageSize}
}

type binanceCloseAgg struct {
	orderID   string
	symbol    string
	side      reconcile.Side
	qty       decimal.Decimal
	notional  decimal.Decimal
	pnl       decimal.Decimal
	createdAt int64
	firstSeen int
}

// QueryClosedPnL single attempt, no retry. q.Limit caps the closed positions returned, not the fills read.
func (b *BinanceClosedPnL) QueryClosedPnL(ctx context.Context, q reconcile.Query) ([]reconcile.ClosedPositionRecord, error) {
	fills, err := b.fetchFills(ctx, q.Symbol, windowStart(q).UnixMilli(), q.EndTime.UnixMilli())
	if err != nil {
		return nil, err
	}

	records, err := b.aggregate(fills)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(records) > q.Limit {
		// most recent closes, like Bybit's newest-first limit
		records = records[len(records)-q.Limit:]
	}
	return records, nil
}

// fetchFills pages forward through userTrades, which returns fills oldest first from startTime
func (b *BinanceClosedPnL) fetchFills(ctx context.Context, symbol string, start, end int64) ([]*futures.AccountTrade, error) {
	pageSize := b.pageSize
	if pageSize <= 0 {
		pageSize = binanceTradesPageSize
	}

	seen := make(map[int64]bool)
	var fills []*futures.AccountTrade
	for page := 0; start <= end; page++ {
		if page == binanceMaxPages {
			logger.Warnf("⚠️  [Binance] %s fills truncated after %d pages", symbol, page)
			break
		}

		batch, err := b.client.NewListAccountTradeService().
			Symbol(symbol).
			StartTime(start).
			EndTime(end).
			Limit(pageSize).
			Do(ctx)
		if err != nil {
			var apiErr *common.APIError
			if errors.As(err, &apiErr) {
				return nil, &reconcile.APIError{Code: int(apiErr.Code), Message: apiErr.Message}
			}
			return nil, fmt.Errorf("binance user trades request: %w", err)
		}

		last := start
		for _, f := range batch {
			if f == nil || seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			fills = append(fills, f)
			if f.Time > last {
				last = f.Time
			}
		}
		if len(batch) < pageSize {
			break
		}
		// the next page restarts at the last millisecond; repeated fills are dropped by id
		if last == start {
			last++
		}
		start = last
	}
	return fills, nil
}

// isClosingFill hedge mode tells closes apart by position side. One-way mode only has the
// realized pnl, so a one-way position closed exactly at breakeven looks like an opening fill.
func isClosingFill(f *futures.AccountTrade, pnl decimal.Decimal) bool {
	switch f.PositionSide {
	case futures.PositionSideTypeLong:
		return f.Side == futures.SideTypeSell
	case futures.PositionSideTypeShort:
		return f.Side == futures.SideTypeBuy
	}
	return !pnl.IsZero()
}

func (b *BinanceClosedPnL) aggregate(fills []*futures.AccountTrade) ([]reconcile.ClosedPositionRecord, error) {
	byOrder := make(map[int64]*binanceCloseAgg)

	for _, f := range fills {
		if f == nil {
			continue
		}
		pnl, err := decimal.NewFromString(f.RealizedPnl)
		if err != nil {
			if err := b.malformed(f.OrderID, fmt.Errorf("realizedPnl %q", f.RealizedPnl)); err != nil {
				return nil, err
			}
			continue
		}
		if !isClosingFill(f, pnl) {
			continue
		}
		qty, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			if err := b.malformed(f.OrderID, fmt.Errorf("qty %q", f.Quantity)); err != nil {
				return nil, err
			}
			continue
		}
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			if err := b.malformed(f.OrderID, fmt.Errorf("price %q", f.Price)); err != nil {
				return nil, err
			}
			continue
		}
		side, err := reconcile.ParseSide(string(f.Side))
		if err != nil {
			if err := b.malformed(f.OrderID, err); err != nil {
				return nil, err
			}
			continue
		}
		if f.Time <= 0 {
			if err := b.malformed(f.OrderID, fmt.Errorf("time %d", f.Time)); err != nil {
				return nil, err
			}
			continue
		}

		agg, ok := byOrder[f.OrderID]
		if !ok {
			agg = &binanceCloseAgg{
				orderID:   strconv.FormatInt(f.OrderID, 10),
				symbol:    f.Symbol,
				side:      side,
				firstSeen: len(byOrder),
			}
			byOrder[f.OrderID] = agg
		}
		agg.qty = agg.qty.Add(qty)
		agg.notional = agg.notional.Add(qty.Mul(price))
		agg.pnl = agg.pnl.Add(pnl)
		if f.Time > agg.createdAt {
			agg.createdAt = f.Time
		}
	}

	aggs := make([]*binanceCloseAgg, 0, len(byOrder))
	for _, agg := range byOrder {
		aggs = append(aggs, agg)
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].firstSeen < aggs[j].firstSeen })

	records := make([]reconcile.ClosedPositionRecord, 0, len(aggs))
	for _, agg := range aggs {
		records = append(records, agg.record())
	}
	return records, nil
}

func (b *BinanceClosedPnL) malformed(orderID int64, cause error) error {
	err := fmt.Errorf("%w: order %d: %v", ErrMalformedRecord, orderID, cause)
	if b.policy == FailOnMalformed {
		return err
	}
	logger.Warnf("⚠️  [Binance] Skipping fill: %v", err)
	return nil
}

// record derives entry from exit and pnl: a long closed by a sell earned (exit-entry)*qty
func (a *binanceCloseAgg) record() reconcile.ClosedPositionRecord {
	rec := reconcile.ClosedPositionRecord{
		OrderID:      a.orderID,
		Symbol:       a.symbol,
		Side:         a.side,
		Quantity:     a.qty.InexactFloat64(),
		ClosedPnL:    a.pnl.InexactFloat64(),
		CumExitValue: a.notional.InexactFloat64(),
		CreatedTime:  a.createdAt,
	}
	if a.qty.IsZero() {
		return rec
	}
	exit := a.notional.Div(a.qty)
	perUnit := a.pnl.Div(a.qty)
	entry := exit.Sub(perUnit)
	if a.side == reconcile.SideBuy {
		entry = exit.Add(perUnit)
	}
	rec.AvgExitPrice = exit.InexactFloat64()
	rec.AvgEntryPrice = entry.InexactFloat64()
	rec.CumEntryValue = entry.Mul(a.qty).InexactFloat64()
	return rec
}
