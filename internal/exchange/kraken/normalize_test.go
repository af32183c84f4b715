package kraken

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-adapter/internal/core"
)

var testPair = core.CurrencyPair{Pair: "XXBTZUSD", Asset: "XXBT", Currency: "ZUSD"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizeBalanceScenario(t *testing.T) {
	balance := []byte(`{"ZUSD":"100.0"}`)
	volume := []byte(`{"currency":"ZUSD","volume":"0.0000","fees":{"XXBTZUSD":{"fee":"0.0026","minfee":"0.1000","maxfee":"0.2600"}}}`)

	got, err := normalizeBalance(balance, volume, testPair)
	require.NoError(t, err)
	assert.True(t, got.CurrencyAvailable.Equal(dec("100.0")))
	assert.True(t, got.AssetAvailable.IsZero())
	assert.True(t, got.Fee.Equal(dec("0.0026")))
}

func TestNormalizeBalanceMissingFeeTier(t *testing.T) {
	_, err := normalizeBalance([]byte(`{}`), []byte(`{"fees":{}}`), testPair)
	assert.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestNormalizeTradesKeepsSourceOrder(t *testing.T) {
	result := []byte(`{"XXBTZUSD":[
		["30000.1","0.01",1700000000.1234,"b","l","",1],
		["30001.0","0.25",1700000005.9,"s","m","",2]
	],"last":"1700000005900000000"}`)

	trades, err := normalizeTrades(result, "XXBTZUSD")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(1700000000), trades[0].Time)
	assert.Equal(t, int64(1700000005), trades[1].Time)
	assert.True(t, trades[0].Price.Equal(dec("30000.1")))
	assert.True(t, trades[1].Amount.Equal(dec("0.25")))
}

func TestNormalizeTradesUnknownKeyIsEmpty(t *testing.T) {
	trades, err := normalizeTrades([]byte(`{"last":"1"}`), "XXBTZUSD")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestNormalizeOrderBook(t *testing.T) {
	result := []byte(`{"XXBTZUSD":{"asks":[["101.0","1.5",1700000000]],"bids":[["100.0","2.0",1700000000],["99.5","3",1700000001]]}}`)

	book, err := normalizeOrderBook(result, "XXBTZUSD")
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[0].CurrencyPrice.Equal(dec("100.0")))
	assert.True(t, book.Bids[1].AssetAmount.Equal(dec("3")))
	assert.True(t, book.Asks[0].CurrencyPrice.Equal(dec("101.0")))
	assert.True(t, book.Asks[0].AssetAmount.Equal(dec("1.5")))

	_, err = normalizeOrderBook(result, "XETHZUSD")
	assert.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestNormalizePlacementTakesFirstTxID(t *testing.T) {
	got, err := normalizePlacement([]byte(`{"descr":{"order":"buy 1.0 XBTUSD @ limit 100"},"txid":["OAAAA-BBBBB-CCCCCC","OTHER"]}`))
	require.NoError(t, err)
	assert.Equal(t, "OAAAA-BBBBB-CCCCCC", got.TxID)

	_, err = normalizePlacement([]byte(`{"txid":[]}`))
	assert.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestOrderFilledWhenKeyAbsent(t *testing.T) {
	result := []byte(`{"open":{"OPEN-1":{"status":"open"}}}`)

	filled, err := orderFilled(result, "GONE-2")
	require.NoError(t, err)
	assert.True(t, filled)

	filled, err = orderFilled(result, "OPEN-1")
	require.NoError(t, err)
	assert.False(t, filled)

	filled, err = orderFilled([]byte(`{"open":{}}`), "OPEN-1")
	require.NoError(t, err)
	assert.True(t, filled)
}

func TestCancelSucceededByCount(t *testing.T) {
	ok, err := cancelSucceeded([]byte(`{"count":1}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cancelSucceeded([]byte(`{"count":0}`))
	require.NoError(t, err)
	assert.False(t, ok)
}
