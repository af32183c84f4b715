package feed

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trade-adapter/internal/core"
)

// Kraken reads the "trade" channel of the v1 public websocket. Frames are
// either event objects or arrays of [channelID, rows, "trade", pair].
type Kraken struct {
	pair string
}

func NewKraken(symbol string) *Kraken {
	return &Kraken{pair: symbol}
}

func (k *Kraken) Name() string { return "kraken" }

type krakenSubscribe struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

type krakenSubscription struct {
	Name string `json:"name"`
}

type krakenEvent struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

func (k *Kraken) Subscribe(conn *websocket.Conn) error {
	return conn.WriteJSON(krakenSubscribe{
		Event:        "subscribe",
		Pair:         []string{k.pair},
		Subscription: krakenSubscription{Name: "trade"},
	})
}

func (k *Kraken) Decode(msg []byte) ([]core.Trade, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, nil
	}
	if msg[0] == '{' {
		return nil, k.decodeEvent(msg)
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("%w: kraken frame: %v", core.ErrMalformedResponse, err)
	}
	if len(frame) < 4 {
		return nil, fmt.Errorf("%w: kraken frame has %d elements", core.ErrMalformedResponse, len(frame))
	}
	var channel, pair string
	if err := json.Unmarshal(frame[len(frame)-2], &channel); err != nil {
		return nil, fmt.Errorf("%w: kraken channel name: %v", core.ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return nil, fmt.Errorf("%w: kraken pair: %v", core.ErrMalformedResponse, err)
	}
	if channel != "trade" || pair != k.pair {
		return nil, nil
	}

	var rows [][]string
	if err := json.Unmarshal(frame[1], &rows); err != nil {
		return nil, fmt.Errorf("%w: kraken trade rows: %v", core.ErrMalformedResponse, err)
	}
	trades := make([]core.Trade, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("%w: kraken trade row has %d fields", core.ErrMalformedResponse, len(row))
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: kraken price %q", core.ErrMalformedResponse, row[0])
		}
		amount, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("%w: kraken volume %q", core.ErrMalformedResponse, row[1])
		}
		ts, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, fmt.Errorf("%w: kraken time %q", core.ErrMalformedResponse, row[2])
		}
		trades = append(trades, core.Trade{Time: ts.IntPart(), Price: price, Amount: amount})
	}
	return trades, nil
}

func (k *Kraken) decodeEvent(msg []byte) error {
	var ev krakenEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return fmt.Errorf("%w: kraken event: %v", core.ErrMalformedResponse, err)
	}
	if ev.Event == "subscriptionStatus" && ev.Status == "error" {
		return fmt.Errorf("%w: %s", ErrSubscriptionRejected, ev.ErrorMessage)
	}
	return nil
}
