package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"trade-adapter/internal/adapter"
	"trade-adapter/internal/config"
	"trade-adapter/internal/core"
)

type stubClient struct {
	balanceErr error
	placed     []core.OrderRequest
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) Trades(context.Context) ([]core.Trade, error) {
	return []core.Trade{{Time: 10, Price: decimal.NewFromInt(5), Amount: decimal.NewFromInt(1)}}, nil
}

func (s *stubClient) Balance(context.Context) (core.Balance, error) {
	return core.Balance{}, s.balanceErr
}

func (s *stubClient) OrderBook(context.Context) (core.OrderBook, error) {
	return core.OrderBook{}, nil
}

func (s *stubClient) PlaceOrder(_ context.Context, req core.OrderRequest) (core.OrderPlacement, error) {
	s.placed = append(s.placed, req)
	return core.OrderPlacement{TxID: "tx-1"}, nil
}

func (s *stubClient) OrderFilled(context.Context, string) (bool, error) { return false, nil }

func (s *stubClient) CancelOrder(context.Context, string) (bool, error) { return true, nil }

func newTestAdapter(t *testing.T, client *stubClient) *adapter.Adapter {
	t.Helper()
	a, err := adapter.New(adapter.Options{
		Spacing: time.Millisecond,
		Fatal:   func(err error) { t.Errorf("unexpected fatal: %v", err) },
	}, client)
	if err != nil {
		t.Fatalf("adapter.New() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func findCheck(t *testing.T, r report, name string) checkResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q missing from report", name)
	return checkResult{}
}

func TestRunChecksReadOnly(t *testing.T) {
	client := &stubClient{balanceErr: errors.New("boom")}
	a := newTestAdapter(t, client)
	cfg := config.Config{Exchange: config.ExchangeKraken, CurrencyPair: core.CurrencyPair{Pair: "XXBTZUSD"}}

	r := runChecks(context.Background(), a, cfg, orderFlags{cancel: true})

	if got := findCheck(t, r, "get_trades"); got.Status != statusPass || !strings.Contains(got.Detail, "last_price=5") {
		t.Fatalf("get_trades = %+v", got)
	}
	if got := findCheck(t, r, "get_balance"); got.Status != statusFail || got.Error != "boom" {
		t.Fatalf("get_balance = %+v, want FAIL boom", got)
	}
	for _, name := range []string{"place_order", "order_filled", "cancel_order"} {
		if got := findCheck(t, r, name); got.Status != statusSkip {
			t.Fatalf("%s status = %s, want SKIP", name, got.Status)
		}
	}
	if !failed(r) {
		t.Fatalf("failed() = false, want true")
	}
	if len(client.placed) != 0 {
		t.Fatalf("placed %d orders, want 0", len(client.placed))
	}
}

func TestRunChecksPlacesAndCancels(t *testing.T) {
	client := &stubClient{}
	a := newTestAdapter(t, client)
	cfg := config.Config{Exchange: config.ExchangeBitstamp, CurrencyPair: core.CurrencyPair{Pair: "btcusd"}}

	r := runChecks(context.Background(), a, cfg, orderFlags{place: true, side: "sell", amount: "0.01", price: "90000", cancel: true})

	if got := findCheck(t, r, "place_order"); got.Status != statusPass || got.Detail != "txid=tx-1" {
		t.Fatalf("place_order = %+v", got)
	}
	if got := findCheck(t, r, "order_filled"); got.Status != statusPass || !strings.Contains(got.Detail, "filled=false") {
		t.Fatalf("order_filled = %+v", got)
	}
	if got := findCheck(t, r, "cancel_order"); got.Status != statusPass || !strings.Contains(got.Detail, "cancelled=true") {
		t.Fatalf("cancel_order = %+v", got)
	}
	if failed(r) {
		t.Fatalf("failed() = true, want false")
	}
	if len(client.placed) != 1 || client.placed[0].Side != core.Sell {
		t.Fatalf("placed = %+v, want one sell", client.placed)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := await(ctx, func(func(int, error)) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("await() error = %v, want context.Canceled", err)
	}

	v, err := await(context.Background(), func(cb func(int, error)) { cb(7, nil) })
	if err != nil || v != 7 {
		t.Fatalf("await() = %d, %v; want 7, nil", v, err)
	}
}

func TestParseOrderArgs(t *testing.T) {
	if _, _, err := parseOrderArgs("", "1"); err == nil {
		t.Fatalf("parseOrderArgs() error = nil, want missing amount")
	}
	if _, _, err := parseOrderArgs("x", "1"); err == nil {
		t.Fatalf("parseOrderArgs() error = nil, want invalid amount")
	}
	amount, price, err := parseOrderArgs("0.5", "100.25")
	if err != nil {
		t.Fatalf("parseOrderArgs() error = %v", err)
	}
	if amount.String() != "0.5" || price.String() != "100.25" {
		t.Fatalf("parseOrderArgs() = %s, %s", amount, price)
	}
}

func TestWriteReportAndSummary(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := report{
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Exchange:   "kraken",
		Pair:       "XXBTZUSD",
		Checks: []checkResult{
			{Name: "get_trades", Status: statusPass},
			{Name: "place_order", Status: statusSkip},
		},
	}
	path := filepath.Join(t.TempDir(), "report.json")
	if err := writeReport(path, r); err != nil {
		t.Fatalf("writeReport() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Exchange != "kraken" || len(decoded.Checks) != 2 {
		t.Fatalf("decoded report = %+v", decoded)
	}

	var buf bytes.Buffer
	printSummary(&buf, r)
	if !strings.Contains(buf.String(), "pass=1 fail=0 skip=1 duration=1.5s") {
		t.Fatalf("summary = %q", buf.String())
	}
}
