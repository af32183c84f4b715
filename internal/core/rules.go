package core

import (
	"github.com/shopspring/decimal"
)

// OrderRules are optional rounding steps applied before an order goes on the wire.
type OrderRules struct {
	PriceTick  decimal.Decimal
	AmountStep decimal.Decimal
}

func NormalizeOrder(side string, amount, price decimal.Decimal, rules OrderRules) (OrderRequest, error) {
	s, err := ParseSide(side)
	if err != nil {
		return OrderRequest{}, err
	}
	if amount.Cmp(decimal.Zero) <= 0 || price.Cmp(decimal.Zero) <= 0 {
		return OrderRequest{}, ErrInvalidOrder
	}
	if rules.AmountStep.Cmp(decimal.Zero) > 0 {
		amount = RoundDown(amount, rules.AmountStep)
	}
	if rules.PriceTick.Cmp(decimal.Zero) > 0 {
		price = RoundDown(price, rules.PriceTick)
	}
	if amount.Cmp(decimal.Zero) <= 0 || price.Cmp(decimal.Zero) <= 0 {
		return OrderRequest{}, ErrInvalidOrder
	}
	return OrderRequest{Side: s, Amount: amount, Price: price}, nil
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
