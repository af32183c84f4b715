package kraken

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// envelope is the {error, result} wrapper around every Kraken response.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// numString accepts both JSON strings and JSON numbers; trade rows mix
// quoted prices with bare float timestamps.
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

type depthResponse struct {
	Bids [][]numString `json:"bids"`
	Asks [][]numString `json:"asks"`
}

type tradeVolumeResponse struct {
	Currency string                   `json:"currency"`
	Volume   numString                `json:"volume"`
	Fees     map[string]feeTierResult `json:"fees"`
}

type feeTierResult struct {
	Fee     numString `json:"fee"`
	MinFee  numString `json:"minfee"`
	MaxFee  numString `json:"maxfee"`
	NextFee numString `json:"nextfee"`
}

type addOrderResponse struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type openOrdersResponse struct {
	Open map[string]json.RawMessage `json:"open"`
}

type cancelOrderResponse struct {
	Count   int  `json:"count"`
	Pending bool `json:"pending"`
}
