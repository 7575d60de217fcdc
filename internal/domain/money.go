package domain

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type Money struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

// Subtotal is the item's unit price times its quantity.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the subtotals of every item in unit.
func (c Cart) Total(unit currency.Unit) Money {
	amount := decimal.Zero
	for _, item := range c.Items {
		amount = amount.Add(item.Subtotal())
	}

	return Money{Amount: amount, Currency: unit}
}
