package exchange

import (
	"context"

	"trade-adapter/internal/core"
)

// Client is one exchange backend bound to a single currency pair. Every
// method performs the wire calls for one adapter operation and returns
// canonical records.
type Client interface {
	Name() string
	Trades(ctx context.Context) ([]core.Trade, error)
	Balance(ctx context.Context) (core.Balance, error)
	OrderBook(ctx context.Context) (core.OrderBook, error)
	PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderPlacement, error)
	// OrderFilled reports true when orderID is no longer in the open orders set.
	OrderFilled(ctx context.Context, orderID string) (bool, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}

// CancelGuard is implemented by exchanges that reject cancellation of an
// order that has already been filled; callers resolve OrderFilled first.
type CancelGuard interface {
	CheckOpenBeforeCancel() bool
}

func NeedsOpenCheck(c Client) bool {
	g, ok := c.(CancelGuard)
	return ok && g.CheckOpenBeforeCancel()
}
