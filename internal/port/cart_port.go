package port

import (
	"context"

	"github.com/nikolayk812/gomarketplace-cart/internal/domain"
)

// CartRepository persists a whole cart as one snapshot.
type CartRepository interface {
	// LoadCart returns false when no snapshot has been saved yet.
	LoadCart(ctx context.Context) (domain.Cart, bool, error)
	SaveCart(ctx context.Context, cart domain.Cart) error
}
