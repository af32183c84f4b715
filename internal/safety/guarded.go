package safety

import (
	"context"
	"errors"

	"trade-adapter/internal/core"
	"trade-adapter/internal/exchange"
)

// GuardedClient runs order placement and cancellation through a Breaker.
// Reads pass straight to the wrapped client.
type GuardedClient struct {
	inner   exchange.Client
	breaker *Breaker
}

func NewGuardedClient(inner exchange.Client, breaker *Breaker) *GuardedClient {
	return &GuardedClient{inner: inner, breaker: breaker}
}

func (g *GuardedClient) Name() string { return g.inner.Name() }

func (g *GuardedClient) CheckOpenBeforeCancel() bool { return exchange.NeedsOpenCheck(g.inner) }

func (g *GuardedClient) Trades(ctx context.Context) ([]core.Trade, error) {
	return g.inner.Trades(ctx)
}

func (g *GuardedClient) Balance(ctx context.Context) (core.Balance, error) {
	return g.inner.Balance(ctx)
}

func (g *GuardedClient) OrderBook(ctx context.Context) (core.OrderBook, error) {
	return g.inner.OrderBook(ctx)
}

func (g *GuardedClient) OrderFilled(ctx context.Context, orderID string) (bool, error) {
	return g.inner.OrderFilled(ctx, orderID)
}

// PlaceOrder keeps the exchange error in the chain when the breaker trips so
// the caller still sees what kind of failure it was.
func (g *GuardedClient) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderPlacement, error) {
	if err := g.breaker.AllowPlace(); err != nil {
		return core.OrderPlacement{}, err
	}
	placed, err := g.inner.PlaceOrder(ctx, req)
	if trip := g.breaker.RecordPlace(err); trip != nil {
		return placed, errors.Join(err, trip)
	}
	return placed, err
}

func (g *GuardedClient) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := g.breaker.AllowCancel(); err != nil {
		return false, err
	}
	ok, err := g.inner.CancelOrder(ctx, orderID)
	if trip := g.breaker.RecordCancel(err); trip != nil {
		return ok, errors.Join(err, trip)
	}
	return ok, err
}
