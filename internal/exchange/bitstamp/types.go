package bitstamp

import (
	"bytes"
	"strconv"

	json "github.com/goccy/go-json"
)

// numString accepts both JSON strings and JSON numbers; Bitstamp mixes them
// between endpoints and API versions.
type numString string

func (n *numString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = numString(num.String())
	return nil
}

func (n numString) String() string { return string(n) }

type transactionResponse struct {
	Date   numString `json:"date"`
	TID    numString `json:"tid"`
	Price  numString `json:"price"`
	Amount numString `json:"amount"`
	Type   numString `json:"type"`
}

type orderBookResponse struct {
	Timestamp numString     `json:"timestamp"`
	Bids      [][]numString `json:"bids"`
	Asks      [][]numString `json:"asks"`
}

type orderResponse struct {
	ID     numString `json:"id"`
	Price  numString `json:"price"`
	Amount numString `json:"amount"`
}

type openOrderResponse struct {
	ID       numString `json:"id"`
	Datetime string    `json:"datetime"`
	Type     numString `json:"type"`
	Price    numString `json:"price"`
	Amount   numString `json:"amount"`
}

// errorBody covers both the legacy {"error": ...} and the v2
// {"status": "error", "reason": ...} shapes.
type errorBody struct {
	Error  json.RawMessage `json:"error"`
	Status string          `json:"status"`
	Reason json.RawMessage `json:"reason"`
	Code   string          `json:"code"`
}

func parseInt64(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
