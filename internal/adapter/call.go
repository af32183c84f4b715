package adapter

import (
	"github.com/google/uuid"

	"trade-adapter/internal/core"
	"trade-adapter/internal/retry"
)

type Operation string

const (
	OpGetTrades    Operation = "getTrades"
	OpGetBalance   Operation = "getBalance"
	OpGetOrderBook Operation = "getOrderBook"
	OpPlaceOrder   Operation = "placeOrder"
	OpOrderFilled  Operation = "orderFilled"
	OpCancelOrder  Operation = "cancelOrder"
)

// Call is one logical adapter request. A retry replays the same Call value,
// so the arguments a replay sends are exactly the ones the caller gave.
type Call struct {
	ID           string
	Op           Operation
	Order        core.OrderRequest
	OrderID      string
	RetryAllowed bool

	state *retry.State
	done  func(result any, err error)
}

func newCall(op Operation, retryAllowed bool, policy retry.Policy, done func(any, error)) *Call {
	return &Call{
		ID:           uuid.NewString()[:8],
		Op:           op,
		RetryAllowed: retryAllowed,
		state:        policy.NewState(),
		done:         done,
	}
}

// Attempts reports how many replays were scheduled for this call.
func (c *Call) Attempts() int { return c.state.Attempts() }

func (c *Call) args() string {
	switch c.Op {
	case OpPlaceOrder:
		return string(c.Order.Side) + " " + c.Order.Amount.String() + "@" + c.Order.Price.String()
	case OpOrderFilled, OpCancelOrder:
		return c.OrderID
	}
	return ""
}

func placeOrderCall(req core.OrderRequest, retryAllowed bool, policy retry.Policy, cb func(core.OrderPlacement, error)) *Call {
	c := newCall(OpPlaceOrder, retryAllowed, policy, func(v any, err error) {
		placed, _ := v.(core.OrderPlacement)
		cb(placed, err)
	})
	c.Order = req
	return c
}
