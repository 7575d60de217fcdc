package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/nikolayk812/gomarketplace-cart/internal/domain"
)

// writer hands the newest cart snapshot to the persist goroutine.
// Snapshots are stamped with the mutation sequence; an older one never replaces a newer one,
// and snapshots queued while a write is in flight collapse into the latest.
type writer struct {
	wake chan struct{}

	mu       sync.Mutex
	pending  domain.Cart
	queued   uint64
	done     uint64
	advanced chan struct{}
}

func newWriter() *writer {
	return &writer{
		wake:     make(chan struct{}, 1),
		advanced: make(chan struct{}),
	}
}

func (w *writer) enqueue(seq uint64, cart domain.Cart) {
	w.mu.Lock()
	if seq > w.queued {
		w.pending = cart
		w.queued = seq
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next returns the latest snapshot not yet written.
func (w *writer) next() (domain.Cart, uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.queued <= w.done {
		return domain.Cart{}, 0, false
	}
	return w.pending, w.queued, true
}

func (w *writer) markDone(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seq <= w.done {
		return
	}
	w.done = seq
	close(w.advanced)
	w.advanced = make(chan struct{})
}

func (w *writer) doneAt(seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.done >= seq
}

func (w *writer) wait(ctx context.Context, seq uint64) error {
	for {
		w.mu.Lock()
		if w.done >= seq {
			w.mu.Unlock()
			return nil
		}
		advanced := w.advanced
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-advanced:
		}
	}
}

func (s *Store) persist(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.w.wake:
		}

		for {
			cart, seq, ok := s.w.next()
			if !ok {
				break
			}

			if err := s.repo.SaveCart(ctx, cart); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.reportError(fmt.Errorf("repo.SaveCart: %w", err))
			} else {
				s.logger.Debug("cart saved", "seq", seq, "items", len(cart.Items))
			}

			s.w.markDone(seq)
		}
	}
}
