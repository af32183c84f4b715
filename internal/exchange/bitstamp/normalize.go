package bitstamp

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"trade-adapter/internal/core"
)

func normalizeTrades(body []byte) ([]core.Trade, error) {
	var resp []transactionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: transactions: %v", core.ErrMalformedResponse, err)
	}
	trades := make([]core.Trade, 0, len(resp))
	for _, t := range resp {
		ts, err := parseInt64(t.Date.String())
		if err != nil {
			return nil, fmt.Errorf("%w: transaction date %q", core.ErrMalformedResponse, t.Date)
		}
		price, err := parseDecimal(t.Price)
		if err != nil {
			return nil, err
		}
		amount, err := parseDecimal(t.Amount)
		if err != nil {
			return nil, err
		}
		trades = append(trades, core.Trade{Time: ts, Price: price, Amount: amount})
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Time < trades[j].Time
	})
	return trades, nil
}

func normalizeBalance(body []byte, pair core.CurrencyPair) (core.Balance, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Balance{}, fmt.Errorf("%w: balance: %v", core.ErrMalformedResponse, err)
	}
	currency, err := balanceValue(resp, strings.ToLower(pair.Currency)+"_available")
	if err != nil {
		return core.Balance{}, err
	}
	asset, err := balanceValue(resp, strings.ToLower(pair.Asset)+"_available")
	if err != nil {
		return core.Balance{}, err
	}
	feeKey := "fee"
	if _, ok := resp[feeKey]; !ok {
		feeKey = strings.ToLower(pair.Pair) + "_fee"
	}
	fee, err := balanceValue(resp, feeKey)
	if err != nil {
		return core.Balance{}, err
	}
	return core.Balance{CurrencyAvailable: currency, AssetAvailable: asset, Fee: fee}, nil
}

func balanceValue(resp map[string]json.RawMessage, key string) (decimal.Decimal, error) {
	raw, ok := resp[key]
	if !ok {
		return decimal.Zero, nil
	}
	var v numString
	if err := json.Unmarshal(raw, &v); err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance %s: %v", core.ErrMalformedResponse, key, err)
	}
	if v == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(v)
}

func normalizeOrderBook(body []byte) (core.OrderBook, error) {
	var resp orderBookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderBook{}, fmt.Errorf("%w: order book: %v", core.ErrMalformedResponse, err)
	}
	bids, err := bookLevels(resp.Bids)
	if err != nil {
		return core.OrderBook{}, err
	}
	asks, err := bookLevels(resp.Asks)
	if err != nil {
		return core.OrderBook{}, err
	}
	return core.OrderBook{Bids: bids, Asks: asks}, nil
}

func bookLevels(rows [][]numString) ([]core.OrderBookLevel, error) {
	levels := make([]core.OrderBookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: order book level has %d fields", core.ErrMalformedResponse, len(row))
		}
		price, err := parseDecimal(row[0])
		if err != nil {
			return nil, err
		}
		amount, err := parseDecimal(row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, core.OrderBookLevel{AssetAmount: amount, CurrencyPrice: price})
	}
	return levels, nil
}

func normalizePlacement(body []byte) (core.OrderPlacement, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderPlacement{}, fmt.Errorf("%w: order: %v", core.ErrMalformedResponse, err)
	}
	if resp.ID == "" {
		return core.OrderPlacement{}, fmt.Errorf("%w: order response without id", core.ErrMalformedResponse)
	}
	return core.OrderPlacement{TxID: resp.ID.String()}, nil
}

// orderFilled treats an order that is not in the open orders list as filled.
func orderFilled(body []byte, orderID string) (bool, error) {
	var resp []openOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("%w: open orders: %v", core.ErrMalformedResponse, err)
	}
	for _, o := range resp {
		if o.ID.String() == orderID {
			return false, nil
		}
	}
	return true, nil
}

// cancelSucceeded reports success when the body carries no error field.
func cancelSucceeded(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return true
	}
	return bodyError(0, trimmed) == nil
}

func parseDecimal(v numString) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: number %q", core.ErrMalformedResponse, v)
	}
	return d, nil
}
