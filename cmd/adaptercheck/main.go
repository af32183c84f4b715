package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"trade-adapter/internal/adapter"
	"trade-adapter/internal/alert"
	"trade-adapter/internal/config"
	"trade-adapter/internal/core"
	"trade-adapter/internal/logging"
	"trade-adapter/internal/store"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
	statusSkip checkStatus = "SKIP"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Exchange   string        `json:"exchange"`
	Pair       string        `json:"pair"`
	Checks     []checkResult `json:"checks"`
}

type orderFlags struct {
	place   bool
	side    string
	amount  string
	price   string
	orderID string
	cancel  bool
}

func main() {
	var (
		configPath  string
		timeoutSec  int
		outJSONPath string
		order       orderFlags
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.IntVar(&timeoutSec, "timeout-sec", 120, "total timeout seconds")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&order.place, "place", false, "place a limit order (real funds)")
	flag.StringVar(&order.side, "side", "buy", "order side for -place")
	flag.StringVar(&order.amount, "amount", "", "order amount for -place")
	flag.StringVar(&order.price, "price", "", "order price for -place")
	flag.StringVar(&order.orderID, "order-id", "", "existing order id for the filled/cancel checks")
	flag.BoolVar(&order.cancel, "cancel", true, "cancel the placed or given order")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logCloser, err := logging.Setup(cfg.Observability.Log)
	if err != nil {
		fatal(err.Error())
	}
	defer logCloser.Close()

	if timeoutSec < 10 {
		timeoutSec = 10
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	alerts := buildAlertManager(cfg)
	lock, err := store.AcquireInstanceLock(cfg.State.Dir,
		store.LockName(string(cfg.Exchange), cfg.CurrencyPair.Pair, cfg.InstanceID),
		store.LockOptions{
			TakeoverEnabled: cfg.State.LockTakeover == nil || *cfg.State.LockTakeover,
			StaleAfter:      time.Duration(cfg.State.LockStaleSec) * time.Second,
		})
	if err != nil {
		fatal(err.Error())
	}
	shutdown := func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := alerts.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "close alert manager failed: %v\n", err)
		}
		if err := lock.Release(); err != nil {
			fmt.Fprintf(os.Stderr, "release instance lock failed: %v\n", err)
		}
	}

	a, err := adapter.NewFromConfig(cfg, alerts, func(err error) {
		log.Printf("level=ERROR event=fatal_exit exchange=%s err=%q", cfg.Exchange, err.Error())
		shutdown()
		os.Exit(1)
	})
	if err != nil {
		shutdown()
		fatal(err.Error())
	}

	r := runChecks(ctx, a, cfg, order)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := a.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "close adapter failed: %v\n", err)
	}
	closeCancel()
	shutdown()

	printSummary(os.Stdout, r)
	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
	}
	if failed(r) {
		os.Exit(1)
	}
}

func runChecks(ctx context.Context, a *adapter.Adapter, cfg config.Config, order orderFlags) report {
	r := report{
		StartedAt: time.Now().UTC(),
		Exchange:  string(cfg.Exchange),
		Pair:      cfg.CurrencyPair.Pair,
	}
	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
			Status:     statusPass,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		}
		r.Checks = append(r.Checks, cr)
		printCheck(os.Stdout, cr)
	}
	skip := func(name, why string) {
		cr := checkResult{Name: name, Status: statusSkip, Detail: why}
		r.Checks = append(r.Checks, cr)
		printCheck(os.Stdout, cr)
	}

	run("get_trades", func() (string, error) {
		trades, err := await(ctx, func(cb func([]core.Trade, error)) { a.GetTrades(false, cb) })
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("count=%d", len(trades))
		if n := len(trades); n > 0 {
			detail += fmt.Sprintf(" last_price=%s last_time=%d", trades[n-1].Price.String(), trades[n-1].Time)
		}
		return detail, nil
	})
	run("get_balance", func() (string, error) {
		bal, err := await(ctx, func(cb func(core.Balance, error)) { a.GetBalance(false, cb) })
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("currency=%s asset=%s fee=%s",
			bal.CurrencyAvailable.String(), bal.AssetAvailable.String(), bal.Fee.String()), nil
	})
	run("get_order_book", func() (string, error) {
		book, err := await(ctx, func(cb func(core.OrderBook, error)) { a.GetOrderBook(false, cb) })
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("bids=%d asks=%d", len(book.Bids), len(book.Asks))
		if len(book.Bids) > 0 && len(book.Asks) > 0 {
			detail += fmt.Sprintf(" best_bid=%s best_ask=%s", book.Bids[0].CurrencyPrice.String(), book.Asks[0].CurrencyPrice.String())
		}
		return detail, nil
	})

	orderID := order.orderID
	if order.place {
		run("place_order", func() (string, error) {
			amount, price, err := parseOrderArgs(order.amount, order.price)
			if err != nil {
				return "", err
			}
			placed, err := await(ctx, func(cb func(core.OrderPlacement, error)) {
				a.PlaceOrder(order.side, amount, price, false, cb)
			})
			if err != nil {
				return "", err
			}
			orderID = placed.TxID
			return "txid=" + placed.TxID, nil
		})
	} else {
		skip("place_order", "enable with -place")
	}

	if orderID == "" {
		skip("order_filled", "no order id")
		skip("cancel_order", "no order id")
	} else {
		run("order_filled", func() (string, error) {
			filled, err := await(ctx, func(cb func(bool, error)) { a.OrderFilled(orderID, false, cb) })
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("id=%s filled=%t", orderID, filled), nil
		})
		if order.cancel {
			run("cancel_order", func() (string, error) {
				ok, err := await(ctx, func(cb func(bool, error)) { a.CancelOrder(orderID, false, cb) })
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("id=%s cancelled=%t", orderID, ok), nil
			})
		} else {
			skip("cancel_order", "disabled with -cancel=false")
		}
	}

	r.FinishedAt = time.Now().UTC()
	return r
}

type outcome[T any] struct {
	value T
	err   error
}

// await starts an adapter call and blocks until its callback fires or ctx
// ends. The callback channel is buffered so a late result never blocks the
// adapter worker.
func await[T any](ctx context.Context, start func(cb func(T, error))) (T, error) {
	ch := make(chan outcome[T], 1)
	start(func(v T, err error) { ch <- outcome[T]{value: v, err: err} })
	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func parseOrderArgs(amount, price string) (decimal.Decimal, decimal.Decimal, error) {
	if amount == "" || price == "" {
		return decimal.Zero, decimal.Zero, errors.New("-amount and -price are required with -place")
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid -amount %q: %w", amount, err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid -price %q: %w", price, err)
	}
	return a, p, nil
}

func buildAlertManager(cfg config.Config) *alert.Manager {
	tg := cfg.Observability.Telegram
	if !tg.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(
		tg.Enabled,
		tg.BotToken,
		tg.ChatID,
		tg.APIBaseURL,
		time.Duration(tg.TimeoutSec)*time.Second,
	)
	return alert.NewManager(string(cfg.Exchange), cfg.CurrencyPair.Pair, notifier)
}

func printCheck(w io.Writer, cr checkResult) {
	switch cr.Status {
	case statusPass:
		fmt.Fprintf(w, "[PASS] %s (%dms)", cr.Name, cr.DurationMs)
		if cr.Detail != "" {
			fmt.Fprintf(w, " - %s", cr.Detail)
		}
		fmt.Fprintln(w)
	case statusSkip:
		fmt.Fprintf(w, "[SKIP] %s - %s\n", cr.Name, cr.Detail)
	default:
		fmt.Fprintf(w, "[FAIL] %s (%dms) - %s\n", cr.Name, cr.DurationMs, cr.Error)
	}
}

func printSummary(w io.Writer, r report) {
	pass, fail, skipped := 0, 0, 0
	for _, c := range r.Checks {
		switch c.Status {
		case statusPass:
			pass++
		case statusSkip:
			skipped++
		default:
			fail++
		}
	}
	fmt.Fprintf(w, "\nsummary exchange=%s pair=%s pass=%d fail=%d skip=%d duration=%s\n",
		r.Exchange,
		r.Pair,
		pass,
		fail,
		skipped,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func failed(r report) bool {
	for _, c := range r.Checks {
		if c.Status == statusFail {
			return true
		}
	}
	return false
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
