package core

import "github.com/shopspring/decimal"

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts exactly "buy" or "sell".
func ParseSide(v string) (Side, error) {
	switch Side(v) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", ErrInvalidOrderType
}

// Trade is one executed market trade. Time is unix seconds.
type Trade struct {
	Time   int64           `json:"timestamp"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type Balance struct {
	CurrencyAvailable decimal.Decimal `json:"currency_available"`
	AssetAvailable    decimal.Decimal `json:"asset_available"`
	Fee               decimal.Decimal `json:"fee"`
}

type OrderBookLevel struct {
	AssetAmount   decimal.Decimal `json:"asset_amount"`
	CurrencyPrice decimal.Decimal `json:"currency_price"`
}

// OrderBook levels keep the order delivered by the exchange (best first).
type OrderBook struct {
	Bids []OrderBookLevel `json:"bids"`
	Asks []OrderBookLevel `json:"asks"`
}

type OrderPlacement struct {
	TxID string `json:"txid"`
}

// CurrencyPair is fixed for the lifetime of the process.
// Pair is the exchange-native market symbol, Asset and Currency are the
// balance keys of the traded asset and the quote currency.
type CurrencyPair struct {
	Pair     string `yaml:"pair" json:"pair"`
	Asset    string `yaml:"asset" json:"asset"`
	Currency string `yaml:"currency" json:"currency"`
}

// OrderRequest carries placeOrder arguments after validation.
type OrderRequest struct {
	Side   Side
	Amount decimal.Decimal
	Price  decimal.Decimal
}
