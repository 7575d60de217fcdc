package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/text/currency"

	"github.com/nikolayk812/gomarketplace-cart/internal/domain"
	"github.com/nikolayk812/gomarketplace-cart/internal/port"
)

var (
	ErrNoStore        = errors.New("cart store must be used within a provider")
	ErrStoreClosed    = errors.New("cart store is closed")
	ErrNotStarted     = errors.New("cart store is not started")
	ErrAlreadyStarted = errors.New("cart store is already started")
)

// Store owns the in-memory cart and mirrors it to a CartRepository after every change.
// Reads see mutations immediately; writes to the repository happen in the background.
type Store struct {
	repo       port.CartRepository
	logger     *slog.Logger
	policy     AddPolicy
	loadPolicy LoadPolicy
	unit       currency.Unit
	onError    func(error)

	mu      sync.RWMutex
	cart    domain.Cart
	seq     uint64
	started bool
	closed  bool
	subs    map[int]chan []domain.CartItem
	nextSub int

	loaded chan struct{}
	w      *writer
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(repo port.CartRepository, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		logger:     slog.Default(),
		policy:     AddPolicyDuplicate,
		loadPolicy: LoadPolicyReplace,
		unit:       currency.USD,
		subs:       make(map[int]chan []domain.CartItem),
		loaded:     make(chan struct{}),
		w:          newWriter(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the one-shot load of the saved cart and the background writer.
// It does not wait for the load; use Loaded for that. Callers must Close the store.
func (s *Store) Start(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	// background work outlives ctx and stops on Close, after pending writes are flushed
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Add(2)
	go s.load(ctx)
	go s.persist(ctx)

	return nil
}

// Loaded is closed once the initial load has resolved, successfully or not.
// By default a saved cart replaces the in-memory one even if it changed meanwhile; see WithLoadPolicy.
func (s *Store) Loaded() <-chan struct{} {
	return s.loaded
}

func (s *Store) load(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.loaded)

	cart, found, err := s.repo.LoadCart(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.reportError(fmt.Errorf("repo.LoadCart: %w", err))
		}
		return
	}
	if !found {
		s.logger.Debug("no saved cart")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq > 0 && s.loadPolicy == LoadPolicyKeepLocal {
		s.logger.Warn("saved cart discarded, cart changed before load finished",
			"saved_items", len(cart.Items), "mutations", s.seq)
		return
	}

	s.cart = cart
	s.publishLocked()

	s.logger.Debug("cart loaded", "items", len(cart.Items))
}

// Products returns a copy of the current cart lines in order.
func (s *Store) Products() []domain.CartItem {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cart.Clone().Items
}

// Cart returns a copy of the current cart.
func (s *Store) Cart() domain.Cart {
	if s == nil {
		return domain.Cart{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cart.Clone()
}

func (s *Store) Total() domain.Money {
	if s == nil {
		return domain.Money{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cart.Total(s.unit)
}

func (s *Store) Currency() currency.Unit {
	if s == nil {
		return currency.Unit{}
	}
	return s.unit
}

func (s *Store) ItemCount() int {
	if s == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cart.ItemCount()
}

func (s *Store) AddToCart(product domain.Product) error {
	return s.mutate(func(items []domain.CartItem) []domain.CartItem {
		idx := indexOf(items, product.ID)

		if idx != -1 {
			items[idx].Quantity++

			if s.policy == AddPolicyMerge {
				return items
			}
		}

		return append(items, domain.CartItem{Product: product, Quantity: 1})
	})
}

// Increment raises the quantity of every line with id by one.
func (s *Store) Increment(id string) error {
	return s.mutate(func(items []domain.CartItem) []domain.CartItem {
		for i := range items {
			if items[i].ID == id {
				items[i].Quantity++
			}
		}
		return items
	})
}

// Decrement lowers the quantity of every line with id by one, never below 1.
func (s *Store) Decrement(id string) error {
	return s.mutate(func(items []domain.CartItem) []domain.CartItem {
		for i := range items {
			if items[i].ID == id && items[i].Quantity > 1 {
				items[i].Quantity--
			}
		}
		return items
	})
}

// mutate applies fn to a private copy of the items, swaps it in and queues a write.
// The write is queued even when fn changed nothing.
func (s *Store) mutate(fn func(items []domain.CartItem) []domain.CartItem) error {
	if s == nil {
		return ErrNoStore
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	next := fn(s.cart.Clone().Items)

	s.cart = domain.Cart{Items: next}
	s.seq++
	s.w.enqueue(s.seq, s.cart.Clone())
	s.publishLocked()

	return nil
}

// Flush waits until every mutation made before the call has been written or has failed to.
func (s *Store) Flush(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}

	s.mu.RLock()
	target, started := s.seq, s.started
	s.mu.RUnlock()

	if !started && !s.w.doneAt(target) {
		return ErrNotStarted
	}

	return s.w.wait(ctx, target)
}

// Close rejects further mutations, flushes pending writes and stops the background work.
func (s *Store) Close(ctx context.Context) error {
	if s == nil {
		return ErrNoStore
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	// without Start, queued mutations can never be written and Flush reports ErrNotStarted
	flushErr := s.Flush(ctx)
	if started {
		s.cancel()
		s.wg.Wait()
	}

	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	s.logger.Debug("cart store closed")

	if flushErr != nil {
		return fmt.Errorf("s.Flush: %w", flushErr)
	}
	return nil
}

// Subscribe delivers a snapshot after each change. A slow subscriber only sees the latest one.
// The returned func unsubscribes; the channel is closed on unsubscribe or Close.
func (s *Store) Subscribe() (<-chan []domain.CartItem, func()) {
	ch := make(chan []domain.CartItem, 1)

	if s == nil {
		close(ch)
		return ch, func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if sub, ok := s.subs[id]; ok {
				close(sub)
				delete(s.subs, id)
			}
		})
	}
}

func (s *Store) publishLocked() {
	for _, ch := range s.subs {
		snapshot := s.cart.Clone().Items

		select {
		case ch <- snapshot:
		default:
			// drop the stale snapshot
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

func (s *Store) reportError(err error) {
	s.logger.Error("cart persistence failed", "error", err)

	if s.onError != nil {
		s.onError(err)
	}
}

func indexOf(items []domain.CartItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
