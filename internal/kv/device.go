package kv

import (
	"context"
	"fmt"

	ledisconfig "github.com/siddontang/ledisdb/config"
	"github.com/siddontang/ledisdb/ledis"

	"github.com/nikolayk812/gomarketplace-cart/internal/port"
)

// DeviceStore keeps values in an embedded on-disk database under a data directory,
// the way a mobile app keeps them in local device storage.
type DeviceStore struct {
	l  *ledis.Ledis
	db *ledis.DB
}

func NewDevice(dataDir string) (*DeviceStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("dataDir is empty")
	}

	cfg := ledisconfig.NewConfigDefault()
	cfg.DataDir = dataDir

	l, err := ledis.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("ledis.Open: %w", err)
	}

	db, err := l.Select(0)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("l.Select: %w", err)
	}

	return &DeviceStore{l: l, db: db}, nil
}

func (s *DeviceStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("db.Get: %w", err)
	}
	if value == nil {
		return nil, port.ErrKeyNotFound
	}

	return value, nil
}

func (s *DeviceStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.db.Set([]byte(key), value); err != nil {
		return fmt.Errorf("db.Set: %w", err)
	}

	return nil
}

func (s *DeviceStore) Close() error {
	s.l.Close()
	return nil
}
