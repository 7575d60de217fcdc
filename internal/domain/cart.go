package domain

import (
	"github.com/shopspring/decimal"
)

type Cart struct {
	Items []CartItem
}

// Product is a cart line before it has a quantity.
type Product struct {
	ID       string
	Title    string
	ImageURL string
	Price    decimal.Decimal
}

type CartItem struct {
	Product

	Quantity int
}

// Clone returns a deep copy, so callers can hand it out as a read-only snapshot.
func (c Cart) Clone() Cart {
	if c.Items == nil {
		return Cart{}
	}

	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)

	return Cart{Items: items}
}

func (c Cart) ItemCount() int {
	var n int
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}
