package trader

import (
	"context"
	"fmt"
	"strconv"

	"tradedesk/hook"
	"tradedesk/logger"
	"tradedesk/reconcile"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

// BybitClosedPnL reads /v5/position/closed-pnl for linear perpetuals
type BybitClosedPnL struct {
	client *bybit.Client
	policy MalformedPolicy
}

// NewBybitClosedPnL creates a Bybit closed-PnL source
func NewBybitClosedPnL(creds reconcile.Credentials, policy MalformedPolicy) *BybitClosedPnL {
	baseURL := bybit.MAINNET
	if creds.Testnet {
		baseURL = bybit.TESTNET
	}
	client := bybit.NewBybitHttpClient(creds.APIKey, creds.SecretKey, bybit.WithBaseURL(baseURL))
	client.HTTPClient = hook.ExchangeHTTPClient("bybit", client.HTTPClient)
	return &BybitClosedPnL{client: client, policy: policy}
}

// QueryClosedPnL single attempt, no retry
func (b *BybitClosedPnL) QueryClosedPnL(ctx context.Context, q reconcile.Query) ([]reconcile.ClosedPositionRecord, error) {
	params := map[string]interface{}{
		"category":  "linear",
		"symbol":    q.Symbol,
		"startTime": strconv.FormatInt(windowStart(q).UnixMilli(), 10),
		"endTime":   strconv.FormatInt(q.EndTime.UnixMilli(), 10),
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}

	result, err := b.client.NewUtaBybitServiceWithParams(params).GetClosePnl(ctx)
	if err != nil {
		return nil, fmt.Errorf("bybit closed pnl request: %w", err)
	}
	if result.RetCode != 0 {
		return nil, &reconcile.APIError{Code: result.RetCode, Message: result.RetMsg}
	}

	resultData, ok := result.Result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("bybit closed pnl: unexpected result %T", result.Result)
	}
	list, _ := resultData["list"].([]interface{})

	records := make([]reconcile.ClosedPositionRecord, 0, len(list))
	for i, raw := range list {
		item, ok := raw.(map[string]interface{})
		if !ok {
			err = fmt.Errorf("%w: item %d is %T", ErrMalformedRecord, i, raw)
		} else {
			var rec reconcile.ClosedPositionRecord
			rec, err = parseBybitClosedPnL(item)
			if err == nil {
				records = append(records, rec)
				continue
			}
		}
		if b.policy == FailOnMalformed {
			return nil, err
		}
		logger.Warnf("⚠️  [Bybit] Skipping closed pnl record: %v", err)
	}
	return records, nil
}

func parseBybitClosedPnL(item map[string]interface{}) (reconcile.ClosedPositionRecord, error) {
	orderID, _ := item["orderId"].(string)
	symbol, _ := item["symbol"].(string)
	sideStr, _ := item["side"].(string)

	malformed := func(err error) error {
		return fmt.Errorf("%w: order %s: %v", ErrMalformedRecord, orderID, err)
	}

	side, err := reconcile.ParseSide(sideStr)
	if err != nil {
		return reconcile.ClosedPositionRecord{}, malformed(err)
	}

	createdStr, _ := item["createdTime"].(string)
	created, err := strconv.ParseInt(createdStr, 10, 64)
	if err != nil {
		return reconcile.ClosedPositionRecord{}, malformed(fmt.Errorf("createdTime %q", createdStr))
	}

	// closedSize is the closed position size; qty is the closing order size
	qty, ok, err := fieldDecimal(item, "closedSize")
	if err == nil && !ok {
		qty, ok, err = fieldDecimal(item, "qty")
	}
	if err != nil {
		return reconcile.ClosedPositionRecord{}, malformed(err)
	}
	if !ok {
		return reconcile.ClosedPositionRecord{}, malformed(fmt.Errorf("missing qty"))
	}

	rec := reconcile.ClosedPositionRecord{
		OrderID:     orderID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty.InexactFloat64(),
		CreatedTime: created,
	}
	for key, dst := range map[string]*float64{
		"closedPnl":     &rec.ClosedPnL,
		"avgEntryPrice": &rec.AvgEntryPrice,
		"avgExitPrice":  &rec.AvgExitPrice,
		"cumEntryValue": &rec.CumEntryValue,
		"cumExitValue":  &rec.CumExitValue,
	} {
		d, _, err := fieldDecimal(item, key)
		if err != nil {
			return reconcile.ClosedPositionRecord{}, malformed(err)
		}
		*dst = d.InexactFloat64()
	}
	return rec, nil
}
