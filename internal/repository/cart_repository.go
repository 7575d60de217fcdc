package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nikolayk812/gomarketplace-cart/internal/domain"
	"github.com/nikolayk812/gomarketplace-cart/internal/port"
	"github.com/shopspring/decimal"
)

const DefaultKey = "@GoMarketplace:cartProducts"

type cartRepository struct {
	kv  port.KeyValueStore
	key string
}

func NewCart(kv port.KeyValueStore, key string) (port.CartRepository, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv is nil")
	}
	if key == "" {
		return nil, fmt.Errorf("key is empty")
	}

	return &cartRepository{
		kv:  kv,
		key: key,
	}, nil
}

func (r *cartRepository) LoadCart(ctx context.Context) (domain.Cart, bool, error) {
	data, err := r.kv.Get(ctx, r.key)
	if errors.Is(err, port.ErrKeyNotFound) {
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("kv.Get: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// blank value counts as no saved cart
		return domain.Cart{}, false, nil
	}

	cart, err := DecodeCart(data)
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("DecodeCart: %w", err)
	}

	return cart, true, nil
}

func (r *cartRepository) SaveCart(ctx context.Context, cart domain.Cart) error {
	data, err := EncodeCart(cart)
	if err != nil {
		return fmt.Errorf("EncodeCart: %w", err)
	}

	if err := r.kv.Set(ctx, r.key, data); err != nil {
		return fmt.Errorf("kv.Set: %w", err)
	}

	return nil
}

// cartItemRecord is the stored form of a cart item.
type cartItemRecord struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	ImageURL string      `json:"image_url"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

// EncodeCart renders the cart as a JSON array; an empty cart is "[]".
func EncodeCart(cart domain.Cart) ([]byte, error) {
	records := make([]cartItemRecord, 0, len(cart.Items))

	for _, item := range cart.Items {
		records = append(records, mapDomainToRecord(item))
	}

	return json.Marshal(records)
}

// DecodeCart parses a JSON array of cart items. A JSON null decodes to an empty cart.
func DecodeCart(data []byte) (domain.Cart, error) {
	var records []cartItemRecord

	if err := json.Unmarshal(data, &records); err != nil {
		return domain.Cart{}, fmt.Errorf("json.Unmarshal: %w", err)
	}

	items, err := mapRecordsToDomain(records)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("mapRecordsToDomain: %w", err)
	}

	return domain.Cart{Items: items}, nil
}

func mapDomainToRecord(item domain.CartItem) cartItemRecord {
	return cartItemRecord{
		ID:       item.ID,
		Title:    item.Title,
		ImageURL: item.ImageURL,
		Price:    json.Number(item.Price.String()),
		Quantity: item.Quantity,
	}
}

func mapRecordToDomain(record cartItemRecord) (domain.CartItem, error) {
	if record.Quantity < 1 {
		return domain.CartItem{}, fmt.Errorf("quantity[%d] of item[%s] is below 1", record.Quantity, record.ID)
	}

	price := decimal.Zero
	if record.Price != "" {
		parsed, err := decimal.NewFromString(record.Price.String())
		if err != nil {
			return domain.CartItem{}, fmt.Errorf("price[%s] of item[%s] is not valid: %w", record.Price, record.ID, err)
		}
		price = parsed
	}

	return domain.CartItem{
		Product: domain.Product{
			ID:       record.ID,
			Title:    record.Title,
			ImageURL: record.ImageURL,
			Price:    price,
		},
		Quantity: record.Quantity,
	}, nil
}

func mapRecordsToDomain(records []cartItemRecord) ([]domain.CartItem, error) {
	var items []domain.CartItem

	for _, record := range records {
		item, err := mapRecordToDomain(record)
		if err != nil {
			return nil, fmt.Errorf("mapRecordToDomain: %w", err)
		}

		items = append(items, item)
	}

	return items, nil
}
