package feed

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trade-adapter/internal/core"
)

// Bitstamp reads the live_trades_<pair> channel of the v2 websocket API.
type Bitstamp struct {
	channel string
}

func NewBitstamp(symbol string) *Bitstamp {
	return &Bitstamp{channel: "live_trades_" + strings.ToLower(symbol)}
}

func (b *Bitstamp) Name() string { return "bitstamp" }

func (b *Bitstamp) Channel() string { return b.channel }

type bitstampRequest struct {
	Event string          `json:"event"`
	Data  bitstampChannel `json:"data"`
}

type bitstampChannel struct {
	Channel string `json:"channel"`
}

type bitstampEvent struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type bitstampTrade struct {
	Timestamp string      `json:"timestamp"`
	Price     json.Number `json:"price"`
	PriceStr  string      `json:"price_str"`
	Amount    json.Number `json:"amount"`
	AmountStr string      `json:"amount_str"`
}

type bitstampError struct {
	Message string `json:"message"`
}

func (b *Bitstamp) Subscribe(conn *websocket.Conn) error {
	return conn.WriteJSON(bitstampRequest{Event: "bts:subscribe", Data: bitstampChannel{Channel: b.channel}})
}

func (b *Bitstamp) Decode(msg []byte) ([]core.Trade, error) {
	var ev bitstampEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return nil, fmt.Errorf("%w: bitstamp frame: %v", core.ErrMalformedResponse, err)
	}
	switch ev.Event {
	case "trade":
		if ev.Channel != "" && ev.Channel != b.channel {
			return nil, nil
		}
		return decodeBitstampTrade(ev.Data)
	case "bts:request_reconnect":
		return nil, ErrReconnectRequested
	case "bts:error":
		var e bitstampError
		_ = json.Unmarshal(ev.Data, &e)
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionRejected, e.Message)
	}
	return nil, nil
}

func decodeBitstampTrade(data []byte) ([]core.Trade, error) {
	var raw bitstampTrade
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: bitstamp trade: %v", core.ErrMalformedResponse, err)
	}
	price, err := firstDecimal(raw.PriceStr, raw.Price.String())
	if err != nil {
		return nil, fmt.Errorf("bitstamp trade price: %w", err)
	}
	amount, err := firstDecimal(raw.AmountStr, raw.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("bitstamp trade amount: %w", err)
	}
	ts, err := decimal.NewFromString(raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: bitstamp trade timestamp %q", core.ErrMalformedResponse, raw.Timestamp)
	}
	return []core.Trade{{Time: ts.IntPart(), Price: price, Amount: amount}}, nil
}

// firstDecimal parses the first non-empty candidate.
func firstDecimal(candidates ...string) (decimal.Decimal, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		d, err := decimal.NewFromString(c)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %q", core.ErrMalformedResponse, c)
		}
		return d, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: missing number", core.ErrMalformedResponse)
}
