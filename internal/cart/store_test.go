package cart_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"golang.org/x/text/currency"

	"github.com/nikolayk812/gomarketplace-cart/internal/cart"
	"github.com/nikolayk812/gomarketplace-cart/internal/domain"
	"github.com/nikolayk812/gomarketplace-cart/internal/kv"
	"github.com/nikolayk812/gomarketplace-cart/internal/port"
	"github.com/nikolayk812/gomarketplace-cart/internal/repository"
)

const waitTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type storeSuite struct {
	suite.Suite

	kv    *kv.MemoryStore
	repo  port.CartRepository
	store *cart.Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(storeSuite))
}

// before each test
func (suite *storeSuite) SetupTest() {
	suite.resetStorage()

	suite.store = suite.startStore()
}

// resetStorage points suite.repo at empty storage, so stores started afterwards load nothing.
func (suite *storeSuite) resetStorage() {
	var err error

	suite.kv = kv.NewMemory()

	suite.repo, err = repository.NewCart(suite.kv, repository.DefaultKey)
	suite.Require().NoError(err)
}

// after each test
func (suite *storeSuite) TearDownTest() {
	suite.NoError(suite.store.Close(context.Background()))
}

func (suite *storeSuite) startStore(opts ...cart.Option) *cart.Store {
	t := suite.T()

	store := cart.New(suite.repo, opts...)
	require.NoError(t, store.Start(t.Context()))

	waitLoaded(t, store)

	return store
}

func (suite *storeSuite) TestAddToCart() {
	first := randomProduct()
	second := randomProduct()

	tests := []struct {
		name     string
		policy   cart.AddPolicy
		products []domain.Product
		want     []domain.CartItem
	}{
		{
			name:     "add to empty cart: one line",
			policy:   cart.AddPolicyDuplicate,
			products: []domain.Product{first},
			want:     []domain.CartItem{{Product: first, Quantity: 1}},
		},
		{
			name:     "add two products: two lines in order",
			policy:   cart.AddPolicyDuplicate,
			products: []domain.Product{first, second},
			want: []domain.CartItem{
				{Product: first, Quantity: 1},
				{Product: second, Quantity: 1},
			},
		},
		{
			name:     "add same product twice, duplicate policy: bumped line plus new line",
			policy:   cart.AddPolicyDuplicate,
			products: []domain.Product{first, first},
			want: []domain.CartItem{
				{Product: first, Quantity: 2},
				{Product: first, Quantity: 1},
			},
		},
		{
			name:     "add same product three times, duplicate policy: only first line bumped",
			policy:   cart.AddPolicyDuplicate,
			products: []domain.Product{first, first, first},
			want: []domain.CartItem{
				{Product: first, Quantity: 3},
				{Product: first, Quantity: 1},
				{Product: first, Quantity: 1},
			},
		},
		{
			name:     "add same product twice, merge policy: single bumped line",
			policy:   cart.AddPolicyMerge,
			products: []domain.Product{first, second, first},
			want: []domain.CartItem{
				{Product: first, Quantity: 2},
				{Product: second, Quantity: 1},
			},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			t := suite.T()

			suite.resetStorage()
			store := suite.startStore(cart.WithAddPolicy(tt.policy))
			defer func() {
				require.NoError(t, store.Close(context.Background()))
			}()

			for _, p := range tt.products {
				require.NoError(t, store.AddToCart(p))
			}

			assertItems(t, tt.want, store.Products())
		})
	}
}

func (suite *storeSuite) TestIncrement() {
	t := suite.T()

	product := randomProduct()
	other := randomProduct()
	require.NoError(t, suite.store.AddToCart(product))
	require.NoError(t, suite.store.AddToCart(other))

	for i := 2; i <= 10; i++ {
		require.NoError(t, suite.store.Increment(product.ID))

		items := suite.store.Products()
		require.Len(t, items, 2)
		assert.Equal(t, i, items[0].Quantity)
		assert.Equal(t, 1, items[1].Quantity)
	}
}

func (suite *storeSuite) TestIncrementEveryDuplicateLine() {
	t := suite.T()

	product := randomProduct()
	require.NoError(t, suite.store.AddToCart(product))
	require.NoError(t, suite.store.AddToCart(product))

	require.NoError(t, suite.store.Increment(product.ID))

	assertItems(t, []domain.CartItem{
		{Product: product, Quantity: 3},
		{Product: product, Quantity: 2},
	}, suite.store.Products())
}

func (suite *storeSuite) TestDecrement() {
	product := randomProduct()

	tests := []struct {
		name         string
		increments   int
		decrements   int
		wantQuantity int
	}{
		{
			name:         "decrement single unit: floored at 1",
			decrements:   1,
			wantQuantity: 1,
		},
		{
			name:         "decrement below zero: floored at 1",
			increments:   2,
			decrements:   10,
			wantQuantity: 1,
		},
		{
			name:         "decrement partially: ok",
			increments:   4,
			decrements:   2,
			wantQuantity: 3,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			t := suite.T()

			suite.resetStorage()
			store := suite.startStore()
			defer func() {
				require.NoError(t, store.Close(context.Background()))
			}()

			require.NoError(t, store.AddToCart(product))
			for range tt.increments {
				require.NoError(t, store.Increment(product.ID))
			}

			for range tt.decrements {
				require.NoError(t, store.Decrement(product.ID))

				items := store.Products()
				require.Len(t, items, 1)
				assert.GreaterOrEqual(t, items[0].Quantity, 1)
			}

			assertItems(t, []domain.CartItem{{Product: product, Quantity: tt.wantQuantity}}, store.Products())
		})
	}
}

func (suite *storeSuite) TestDecrementEveryDuplicateLine() {
	t := suite.T()

	product := randomProduct()
	other := randomProduct()
	require.NoError(t, suite.store.AddToCart(product))
	require.NoError(t, suite.store.AddToCart(product))
	require.NoError(t, suite.store.AddToCart(other))
	require.NoError(t, suite.store.Increment(product.ID))
	require.NoError(t, suite.store.Increment(other.ID))

	// lines for product: 3 and 2
	require.NoError(t, suite.store.Decrement(product.ID))
	assertItems(t, []domain.CartItem{
		{Product: product, Quantity: 2},
		{Product: product, Quantity: 1},
		{Product: other, Quantity: 2},
	}, suite.store.Products())

	require.NoError(t, suite.store.Decrement(product.ID))
	require.NoError(t, suite.store.Decrement(product.ID))
	assertItems(t, []domain.CartItem{
		{Product: product, Quantity: 1},
		{Product: product, Quantity: 1},
		{Product: other, Quantity: 2},
	}, suite.store.Products())
}

func (suite *storeSuite) TestUnknownIDLeavesCartUnchanged() {
	t := suite.T()

	require.NoError(t, suite.store.AddToCart(randomProduct()))
	require.NoError(t, suite.store.AddToCart(randomProduct()))
	before := suite.store.Products()

	require.NoError(t, suite.store.Increment(gofakeit.UUID()))
	require.NoError(t, suite.store.Decrement(gofakeit.UUID()))

	assertItems(t, before, suite.store.Products())

	// still persisted
	require.NoError(t, suite.store.Flush(t.Context()))
	assertSaved(t, suite.repo, before)
}

func (suite *storeSuite) TestSavedSnapshotMatchesMemory() {
	t := suite.T()

	a, b := randomProduct(), randomProduct()

	ops := []func() error{
		func() error { return suite.store.AddToCart(a) },
		func() error { return suite.store.AddToCart(b) },
		func() error { return suite.store.Increment(a.ID) },
		func() error { return suite.store.AddToCart(a) },
		func() error { return suite.store.Decrement(b.ID) },
		func() error { return suite.store.Increment(b.ID) },
	}

	for _, op := range ops {
		require.NoError(t, op())

		want := suite.store.Products()
		require.NoError(t, suite.store.Flush(t.Context()))
		assertSaved(t, suite.repo, want)
	}
}

func (suite *storeSuite) TestLoadSavedCart() {
	t := suite.T()

	saved := []domain.CartItem{
		{Product: randomProduct(), Quantity: 3},
		{Product: randomProduct(), Quantity: 1},
	}
	require.NoError(t, suite.repo.SaveCart(t.Context(), domain.Cart{Items: saved}))

	store := suite.startStore()
	defer func() {
		require.NoError(t, store.Close(context.Background()))
	}()

	assertItems(t, saved, store.Products())
}

func (suite *storeSuite) TestLoadSavedSnapshotJSON() {
	t := suite.T()

	snapshot := `[{"id":"2","title":"B","image_url":"u","price":10,"quantity":3}]`
	require.NoError(t, suite.kv.Set(t.Context(), repository.DefaultKey, []byte(snapshot)))

	store := suite.startStore()
	defer func() {
		require.NoError(t, store.Close(context.Background()))
	}()

	assertItems(t, []domain.CartItem{
		{
			Product:  domain.Product{ID: "2", Title: "B", ImageURL: "u", Price: decimal.NewFromInt(10)},
			Quantity: 3,
		},
	}, store.Products())
}

func (suite *storeSuite) TestStorageKeyIsInjectable() {
	t := suite.T()

	repo, err := repository.NewCart(suite.kv, "test:cart")
	require.NoError(t, err)

	store := cart.New(repo)
	require.NoError(t, store.Start(t.Context()))
	waitLoaded(t, store)

	require.NoError(t, store.AddToCart(randomProduct()))
	require.NoError(t, store.Close(t.Context()))

	_, err = suite.kv.Get(t.Context(), "test:cart")
	require.NoError(t, err)

	_, err = suite.kv.Get(t.Context(), repository.DefaultKey)
	require.ErrorIs(t, err, port.ErrKeyNotFound)
}

func (suite *storeSuite) TestTotal() {
	t := suite.T()

	store := suite.startStore(cart.WithCurrency(currency.BRL))
	defer func() {
		require.NoError(t, store.Close(context.Background()))
	}()

	require.NoError(t, store.AddToCart(domain.Product{ID: "1", Price: decimal.RequireFromString("10.50")}))
	require.NoError(t, store.AddToCart(domain.Product{ID: "2", Price: decimal.RequireFromString("2")}))
	require.NoError(t, store.Increment("2"))

	total := store.Total()
	assert.Equal(t, "14.5", total.Amount.String())
	assert.Equal(t, currency.BRL, total.Currency)
	assert.Equal(t, 3, store.ItemCount())
}

func (suite *storeSuite) TestSubscribe() {
	t := suite.T()

	updates, unsubscribe := suite.store.Subscribe()
	defer unsubscribe()

	product := randomProduct()
	require.NoError(t, suite.store.AddToCart(product))
	require.NoError(t, suite.store.Increment(product.ID))

	// a slow subscriber sees only the latest snapshot
	select {
	case items := <-updates:
		assertItems(t, []domain.CartItem{{Product: product, Quantity: 2}}, items)
	case <-time.After(waitTimeout):
		t.Fatal("no update received")
	}

	unsubscribe()
	_, ok := <-updates
	assert.False(t, ok)
}

func (suite *storeSuite) TestClosedStore() {
	t := suite.T()

	store := suite.startStore()
	updates, _ := store.Subscribe()

	require.NoError(t, store.Close(t.Context()))
	require.NoError(t, store.Close(t.Context()))

	_, ok := <-updates
	assert.False(t, ok)

	assert.ErrorIs(t, store.AddToCart(randomProduct()), cart.ErrStoreClosed)
	assert.ErrorIs(t, store.Increment("1"), cart.ErrStoreClosed)
	assert.ErrorIs(t, store.Decrement("1"), cart.ErrStoreClosed)
	assert.ErrorIs(t, store.Start(t.Context()), cart.ErrStoreClosed)
}

func (suite *storeSuite) TestStartTwice() {
	suite.ErrorIs(suite.store.Start(suite.T().Context()), cart.ErrAlreadyStarted)
}

func TestNoStore(t *testing.T) {
	var store *cart.Store

	assert.ErrorIs(t, store.AddToCart(domain.Product{ID: "1"}), cart.ErrNoStore)
	assert.ErrorIs(t, store.Increment("1"), cart.ErrNoStore)
	assert.ErrorIs(t, store.Decrement("1"), cart.ErrNoStore)
	assert.Nil(t, store.Products())

	_, err := cart.FromContext(t.Context())
	require.EqualError(t, err, "cart store must be used within a provider")

	store = cart.New(&fakeRepo{})
	got, err := cart.FromContext(cart.NewContext(t.Context(), store))
	require.NoError(t, err)
	assert.Same(t, store, got)
}

func TestFlushBeforeStart(t *testing.T) {
	store := cart.New(&fakeRepo{})

	require.NoError(t, store.Flush(t.Context()))

	require.NoError(t, store.AddToCart(randomProduct()))
	require.ErrorIs(t, store.Flush(t.Context()), cart.ErrNotStarted)
}

func TestCloseBeforeStart(t *testing.T) {
	t.Run("nothing queued: ok", func(t *testing.T) {
		store := cart.New(&fakeRepo{})
		require.NoError(t, store.Close(t.Context()))
	})

	t.Run("mutations queued: not started", func(t *testing.T) {
		repo := &fakeRepo{}
		store := cart.New(repo)

		require.NoError(t, store.AddToCart(randomProduct()))

		require.ErrorIs(t, store.Close(t.Context()), cart.ErrNotStarted)
		assert.Empty(t, repo.savedCarts())
		assert.ErrorIs(t, store.AddToCart(randomProduct()), cart.ErrStoreClosed)
	})
}

func TestLoadAfterMutation(t *testing.T) {
	saved := []domain.CartItem{{Product: domain.Product{ID: "2", Title: "B"}, Quantity: 3}}
	local := domain.Product{ID: "1", Title: "A"}

	tests := []struct {
		name string
		opts []cart.Option
		want []domain.CartItem
	}{
		{
			name: "default: saved cart replaces memory",
			want: saved,
		},
		{
			name: "replace policy: saved cart replaces memory",
			opts: []cart.Option{cart.WithLoadPolicy(cart.LoadPolicyReplace)},
			want: saved,
		},
		{
			name: "keep-local policy: saved cart discarded",
			opts: []cart.Option{cart.WithLoadPolicy(cart.LoadPolicyKeepLocal)},
			want: []domain.CartItem{{Product: local, Quantity: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{
				loadCart:  domain.Cart{Items: saved},
				loadFound: true,
				release:   make(chan struct{}),
			}

			store := cart.New(repo, tt.opts...)
			require.NoError(t, store.Start(t.Context()))
			defer func() {
				require.NoError(t, store.Close(context.Background()))
			}()

			// usable before the load resolves
			assert.Empty(t, store.Products())

			require.NoError(t, store.AddToCart(local))
			assertItems(t, []domain.CartItem{{Product: local, Quantity: 1}}, store.Products())

			close(repo.release)
			waitLoaded(t, store)

			assertItems(t, tt.want, store.Products())
		})
	}
}

func TestLoadErrorReported(t *testing.T) {
	memory := kv.NewMemory()
	require.NoError(t, memory.Set(t.Context(), repository.DefaultKey, []byte("{not json")))

	repo, err := repository.NewCart(memory, repository.DefaultKey)
	require.NoError(t, err)

	var reported errorCollector
	store := cart.New(repo, cart.WithErrorHandler(reported.add))
	require.NoError(t, store.Start(t.Context()))
	defer func() {
		require.NoError(t, store.Close(context.Background()))
	}()

	waitLoaded(t, store)

	assert.Empty(t, store.Products())
	require.Len(t, reported.all(), 1)
	assert.ErrorContains(t, reported.all()[0], "repo.LoadCart")
}

func TestSaveErrorReported(t *testing.T) {
	saveErr := errors.New("disk full")
	repo := &fakeRepo{saveErr: saveErr}

	var reported errorCollector
	store := cart.New(repo, cart.WithErrorHandler(reported.add))
	require.NoError(t, store.Start(t.Context()))
	defer func() {
		require.NoError(t, store.Close(context.Background()))
	}()

	product := randomProduct()
	require.NoError(t, store.AddToCart(product))
	require.NoError(t, store.Flush(t.Context()))

	// memory keeps the mutation
	assertItems(t, []domain.CartItem{{Product: product, Quantity: 1}}, store.Products())

	errs := reported.all()
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], saveErr)
}

func TestWritesCoalesceToLatest(t *testing.T) {
	repo := &fakeRepo{saveGate: make(chan struct{})}

	store := cart.New(repo)
	require.NoError(t, store.Start(t.Context()))
	defer func() {
		require.NoError(t, store.Close(context.Background()))
	}()
	waitLoaded(t, store)

	product := randomProduct()
	require.NoError(t, store.AddToCart(product))

	// first write is now blocked; these pile up behind it
	require.Eventually(t, func() bool { return repo.saveCalls() == 1 }, waitTimeout, time.Millisecond)
	for range 5 {
		require.NoError(t, store.Increment(product.ID))
	}

	close(repo.saveGate)
	require.NoError(t, store.Flush(t.Context()))

	saved := repo.savedCarts()
	require.Len(t, saved, 2)
	assertItems(t, []domain.CartItem{{Product: product, Quantity: 1}}, saved[0].Items)
	assertItems(t, []domain.CartItem{{Product: product, Quantity: 6}}, saved[1].Items)
}

func TestConcurrentMutations(t *testing.T) {
	memory := kv.NewMemory()
	repo, err := repository.NewCart(memory, repository.DefaultKey)
	require.NoError(t, err)

	store := cart.New(repo, cart.WithAddPolicy(cart.AddPolicyMerge))
	require.NoError(t, store.Start(t.Context()))
	defer func() {
		require.NoError(t, store.Close(context.Background()))
	}()
	waitLoaded(t, store)

	product := randomProduct()
	require.NoError(t, store.AddToCart(product))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Increment(product.ID))
		}()
	}
	wg.Wait()

	require.NoError(t, store.Flush(t.Context()))

	want := []domain.CartItem{{Product: product, Quantity: 51}}
	assertItems(t, want, store.Products())
	assertSaved(t, repo, want)
}

type fakeRepo struct {
	loadCart  domain.Cart
	loadFound bool
	release   chan struct{}

	saveErr  error
	saveGate chan struct{}

	mu    sync.Mutex
	calls int
	saved []domain.Cart
}

func (f *fakeRepo) LoadCart(ctx context.Context) (domain.Cart, bool, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.Cart{}, false, ctx.Err()
		}
	}
	return f.loadCart, f.loadFound, nil
}

func (f *fakeRepo) SaveCart(ctx context.Context, c domain.Cart) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.saveGate != nil {
		select {
		case <-f.saveGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if f.saveErr != nil {
		return f.saveErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, c)
	return nil
}

func (f *fakeRepo) saveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRepo) savedCarts() []domain.Cart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Cart(nil), f.saved...)
}

type errorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errorCollector) add(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errorCollector) all() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func waitLoaded(t *testing.T, store *cart.Store) {
	t.Helper()

	select {
	case <-store.Loaded():
	case <-time.After(waitTimeout):
		t.Fatal("cart was not loaded")
	}
}

func randomProduct() domain.Product {
	return domain.Product{
		ID:       gofakeit.UUID(),
		Title:    gofakeit.ProductName(),
		ImageURL: gofakeit.URL(),
		Price:    decimal.NewFromFloat(gofakeit.Price(1, 100)),
	}
}

func assertSaved(t *testing.T, repo port.CartRepository, expected []domain.CartItem) {
	t.Helper()

	saved, found, err := repo.LoadCart(t.Context())
	require.NoError(t, err)
	require.True(t, found)

	assertItems(t, expected, saved.Items)
}

func assertItems(t *testing.T, expected, actual []domain.CartItem) {
	t.Helper()

	decimalComparer := cmp.Comparer(func(x, y decimal.Decimal) bool {
		return x.Equal(y)
	})

	diff := cmp.Diff(expected, actual, decimalComparer, cmpEmptyEqual())
	assert.Empty(t, diff)
}

// cmpEmptyEqual treats nil and empty slices as equal.
func cmpEmptyEqual() cmp.Option {
	return cmp.FilterValues(func(x, y []domain.CartItem) bool {
		return len(x) == 0 && len(y) == 0
	}, cmp.Comparer(func(_, _ []domain.CartItem) bool { return true }))
}
