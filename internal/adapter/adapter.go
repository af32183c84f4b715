// Package adapter exposes one callback API over whichever exchange is
// configured. Every call goes through a single serialized queue; failures are
// classified and either surfaced, replayed later or treated as fatal.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trade-adapter/internal/alert"
	"trade-adapter/internal/core"
	"trade-adapter/internal/exchange"
	"trade-adapter/internal/exchange/rest"
	"trade-adapter/internal/queue"
	"trade-adapter/internal/retry"
)

// ErrClosed is delivered to callbacks of calls made after Close.
var ErrClosed = errors.New("adapter closed")

const logTruncate = 99

type Options struct {
	Rules     core.OrderRules
	Spacing   time.Duration
	Retry     retry.Policy
	Scheduler retry.Scheduler
	Alerter   alert.Alerter
	// Fatal runs on an unrecoverable classification. The default exits the
	// process with status 1.
	Fatal func(err error)
	Debug bool
	Now   func() time.Time
}

type Adapter struct {
	client    exchange.Client
	queue     *queue.Queue
	rules     core.OrderRules
	policy    retry.Policy
	scheduler retry.Scheduler
	alerter   alert.Alerter
	fatal     func(error)
	debug     bool
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending map[*replay]struct{}
}

type replay struct {
	timer retry.Timer
	call  *Call
}

func New(opts Options, client exchange.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("exchange client required")
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = retry.WallClock()
	}
	fatal := opts.Fatal
	if fatal == nil {
		fatal = func(error) { os.Exit(1) }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		client:    client,
		queue:     queue.New(queue.Options{Name: client.Name(), Spacing: opts.Spacing}),
		rules:     opts.Rules,
		policy:    opts.Retry,
		scheduler: scheduler,
		alerter:   opts.Alerter,
		fatal:     fatal,
		debug:     opts.Debug,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[*replay]struct{}),
	}, nil
}

func (a *Adapter) Exchange() string { return a.client.Name() }

func (a *Adapter) GetTrades(retryAllowed bool, cb func([]core.Trade, error)) {
	a.dispatch(newCall(OpGetTrades, retryAllowed, a.policy, func(v any, err error) {
		trades, _ := v.([]core.Trade)
		cb(trades, err)
	}))
}

func (a *Adapter) GetBalance(retryAllowed bool, cb func(core.Balance, error)) {
	a.dispatch(newCall(OpGetBalance, retryAllowed, a.policy, func(v any, err error) {
		bal, _ := v.(core.Balance)
		cb(bal, err)
	}))
}

func (a *Adapter) GetOrderBook(retryAllowed bool, cb func(core.OrderBook, error)) {
	a.dispatch(newCall(OpGetOrderBook, retryAllowed, a.policy, func(v any, err error) {
		book, _ := v.(core.OrderBook)
		cb(book, err)
	}))
}

// PlaceOrder accepts side "buy" or "sell". Anything else, or a non-positive
// amount or price, is reported to cb straight away and nothing is sent.
func (a *Adapter) PlaceOrder(side string, amount, price decimal.Decimal, retryAllowed bool, cb func(core.OrderPlacement, error)) {
	req, err := core.NormalizeOrder(side, amount, price, a.rules)
	if err != nil {
		log.Printf("level=ERROR event=invalid_order exchange=%q op=%q side=%q amount=%s price=%s err=%q",
			a.client.Name(), OpPlaceOrder, side, amount.String(), price.String(), err.Error())
		cb(core.OrderPlacement{}, err)
		return
	}
	a.dispatch(placeOrderCall(req, retryAllowed, a.policy, cb))
}

func (a *Adapter) OrderFilled(orderID string, retryAllowed bool, cb func(bool, error)) {
	c := newCall(OpOrderFilled, retryAllowed, a.policy, func(v any, err error) {
		filled, _ := v.(bool)
		cb(filled, err)
	})
	c.OrderID = orderID
	a.dispatch(c)
}

func (a *Adapter) CancelOrder(orderID string, retryAllowed bool, cb func(bool, error)) {
	c := newCall(OpCancelOrder, retryAllowed, a.policy, func(v any, err error) {
		ok, _ := v.(bool)
		cb(ok, err)
	})
	c.OrderID = orderID
	a.dispatch(c)
}

// Close stops accepting calls and waits for the queue to drain. Calls
// waiting on a scheduled replay get ErrClosed.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	var cancelled []*Call
	for r := range a.pending {
		if r.timer.Stop() {
			cancelled = append(cancelled, r.call)
		}
	}
	a.pending = map[*replay]struct{}{}
	a.mu.Unlock()

	for _, c := range cancelled {
		log.Printf("level=WARN event=replay_cancelled exchange=%q op=%q call_id=%s", a.client.Name(), c.Op, c.ID)
		c.done(nil, ErrClosed)
	}

	err := a.queue.Close(ctx)
	a.cancel()
	return err
}

// dispatch is the entry point for both first attempts and replays. On
// exchanges that refuse to cancel a closed order, a cancel first resolves
// whether the order is still open.
func (a *Adapter) dispatch(c *Call) {
	if c.Op == OpCancelOrder && exchange.NeedsOpenCheck(a.client) {
		a.dispatchGuardedCancel(c)
		return
	}
	a.submit(c)
}

func (a *Adapter) dispatchGuardedCancel(c *Call) {
	check := newCall(OpOrderFilled, true, a.policy, func(v any, err error) {
		if err != nil {
			c.done(false, err)
			return
		}
		if filled, _ := v.(bool); filled {
			log.Printf("level=INFO event=cancel_skipped_filled exchange=%q call_id=%s order_id=%q", a.client.Name(), c.ID, c.OrderID)
			c.done(false, nil)
			return
		}
		a.submit(c)
	})
	check.OrderID = c.OrderID
	a.submit(check)
}

func (a *Adapter) submit(c *Call) {
	if a.isClosed() || !a.queue.Enqueue(func() { a.execute(c) }) {
		c.done(nil, ErrClosed)
	}
}

func (a *Adapter) execute(c *Call) {
	result, err := a.invoke(c)
	d := retry.Classify(err, c.RetryAllowed)
	switch d.Kind {
	case retry.KindSuccess:
		if a.debug {
			log.Printf("level=DEBUG event=exchange_call_ok exchange=%q op=%q call_id=%s result=%q",
				a.client.Name(), c.Op, c.ID, rest.Truncate(fmt.Sprintf("%+v", result), logTruncate))
		}
		c.done(result, nil)
	case retry.KindSurface:
		a.logFailure(c, d)
		c.done(nil, err)
	case retry.KindRetry:
		a.logFailure(c, d)
		a.scheduleReplay(c, err)
	case retry.KindFatal:
		a.logFailure(c, d)
		if a.alerter != nil {
			a.alerter.Important("fatal_exit", map[string]string{
				"op":     string(c.Op),
				"reason": d.Reason,
				"error":  rest.Truncate(err.Error(), logTruncate),
			})
		}
		a.fatal(err)
	}
}

func (a *Adapter) invoke(c *Call) (any, error) {
	ctx := a.ctx
	switch c.Op {
	case OpGetTrades:
		return a.client.Trades(ctx)
	case OpGetBalance:
		return a.client.Balance(ctx)
	case OpGetOrderBook:
		return a.client.OrderBook(ctx)
	case OpPlaceOrder:
		return a.client.PlaceOrder(ctx, c.Order)
	case OpOrderFilled:
		return a.client.OrderFilled(ctx, c.OrderID)
	case OpCancelOrder:
		return a.client.CancelOrder(ctx, c.OrderID)
	}
	return nil, fmt.Errorf("unknown operation %q", c.Op)
}

func (a *Adapter) scheduleReplay(c *Call, err error) {
	delay, ok := c.state.Next(a.now())
	if !ok {
		log.Printf("level=ERROR event=retry_exhausted exchange=%q op=%q call_id=%s attempts=%d",
			a.client.Name(), c.Op, c.ID, c.state.Attempts())
		c.done(nil, err)
		return
	}
	log.Printf("level=WARN event=retry_scheduled exchange=%q op=%q call_id=%s attempt=%d delay_ms=%d",
		a.client.Name(), c.Op, c.ID, c.state.Attempts(), delay.Milliseconds())

	entry := &replay{call: c}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		c.done(nil, ErrClosed)
		return
	}
	entry.timer = a.scheduler.AfterFunc(delay, func() {
		a.mu.Lock()
		delete(a.pending, entry)
		a.mu.Unlock()
		a.dispatch(c)
	})
	a.pending[entry] = struct{}{}
	a.mu.Unlock()
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) logFailure(c *Call, d retry.Decision) {
	level := "ERROR"
	if d.Kind == retry.KindRetry {
		level = "WARN"
	}
	log.Printf("level=%s event=exchange_call_failed exchange=%q op=%q call_id=%s args=%q retry_allowed=%s decision=%s reason=%s err=%q",
		level, a.client.Name(), c.Op, c.ID, c.args(), strconv.FormatBool(c.RetryAllowed), d.Kind, d.Reason,
		rest.Truncate(d.Err.Error(), logTruncate))
}
