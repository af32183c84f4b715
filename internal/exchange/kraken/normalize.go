package kraken

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"trade-adapter/internal/core"
)

// normalizeTrades reads result[pair] rows of [price, volume, time, ...]. Kraken
// already delivers them oldest first, so the order is kept.
func normalizeTrades(result []byte, pair string) ([]core.Trade, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("%w: trades: %v", core.ErrMalformedResponse, err)
	}
	raw, ok := resp[pair]
	if !ok {
		return []core.Trade{}, nil
	}
	var rows [][]numString
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: trades %s: %v", core.ErrMalformedResponse, pair, err)
	}
	trades := make([]core.Trade, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("%w: trade row has %d fields", core.ErrMalformedResponse, len(row))
		}
		price, err := parseDecimal(row[0])
		if err != nil {
			return nil, err
		}
		amount, err := parseDecimal(row[1])
		if err != nil {
			return nil, err
		}
		ts, err := parseDecimal(row[2])
		if err != nil {
			return nil, err
		}
		trades = append(trades, core.Trade{Time: ts.IntPart(), Price: price, Amount: amount})
	}
	return trades, nil
}

func normalizeBalance(balance, volume []byte, pair core.CurrencyPair) (core.Balance, error) {
	var holdings map[string]numString
	if err := json.Unmarshal(balance, &holdings); err != nil {
		return core.Balance{}, fmt.Errorf("%w: balance: %v", core.ErrMalformedResponse, err)
	}
	currency, err := holdingValue(holdings, pair.Currency)
	if err != nil {
		return core.Balance{}, err
	}
	asset, err := holdingValue(holdings, pair.Asset)
	if err != nil {
		return core.Balance{}, err
	}
	fee, err := normalizeFee(volume, pair.Pair)
	if err != nil {
		return core.Balance{}, err
	}
	return core.Balance{CurrencyAvailable: currency, AssetAvailable: asset, Fee: fee}, nil
}

func holdingValue(holdings map[string]numString, key string) (decimal.Decimal, error) {
	v, ok := holdings[key]
	if !ok || strings.TrimSpace(v.String()) == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(v)
}

func normalizeFee(volume []byte, pair string) (decimal.Decimal, error) {
	var resp tradeVolumeResponse
	if err := json.Unmarshal(volume, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: trade volume: %v", core.ErrMalformedResponse, err)
	}
	tier, ok := resp.Fees[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: trade volume has no fee for %s", core.ErrMalformedResponse, pair)
	}
	return parseDecimal(tier.Fee)
}

func normalizeOrderBook(result []byte, pair string) (core.OrderBook, error) {
	var resp map[string]depthResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return core.OrderBook{}, fmt.Errorf("%w: depth: %v", core.ErrMalformedResponse, err)
	}
	depth, ok := resp[pair]
	if !ok {
		return core.OrderBook{}, fmt.Errorf("%w: depth has no book for %s", core.ErrMalformedResponse, pair)
	}
	bids, err := bookLevels(depth.Bids)
	if err != nil {
		return core.OrderBook{}, err
	}
	asks, err := bookLevels(depth.Asks)
	if err != nil {
		return core.OrderBook{}, err
	}
	return core.OrderBook{Bids: bids, Asks: asks}, nil
}

func bookLevels(rows [][]numString) ([]core.OrderBookLevel, error) {
	levels := make([]core.OrderBookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: depth level has %d fields", core.ErrMalformedResponse, len(row))
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

func normalizePlacement(result []byte) (core.OrderPlacement, error) {
	var resp addOrderResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return core.OrderPlacement{}, fmt.Errorf("%w: add order: %v", core.ErrMalformedResponse, err)
	}
	if len(resp.TxID) == 0 || resp.TxID[0] == "" {
		return core.OrderPlacement{}, fmt.Errorf("%w: add order without txid", core.ErrMalformedResponse)
	}
	return core.OrderPlacement{TxID: resp.TxID[0]}, nil
}

// orderFilled treats an order that is not keyed in result.open as filled.
func orderFilled(result []byte, orderID string) (bool, error) {
	var resp openOrdersResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return false, fmt.Errorf("%w: open orders: %v", core.ErrMalformedResponse, err)
	}
	_, open := resp.Open[orderID]
	return !open, nil
}

func cancelSucceeded(result []byte) (bool, error) {
	var resp cancelOrderResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return false, fmt.Errorf("%w: cancel order: %v", core.ErrMalformedResponse, err)
	}
	return resp.Count > 0, nil
}

func parseDecimal(v numString) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: number %q", core.ErrMalformedResponse, v)
	}
	return d, nil
}
