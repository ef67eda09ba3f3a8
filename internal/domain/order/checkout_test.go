package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
	"github.com/jimmyweng/ecommerce-go/internal/domain/user"
	"github.com/jimmyweng/ecommerce-go/internal/storage"
)

// --- Mock implementations ---

// mockTx runs the unit of work inline; the real transaction semantics are
// covered by the integration tests.
type mockTx struct{}

func (mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (mockTx) InReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockDirectory struct {
	users map[string]*user.User
}

func (m *mockDirectory) ByEmail(_ context.Context, email string) (*user.User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, &user.NotFoundError{Email: email}
	}
	return u, nil
}

// mockCatalog tracks stock levels and records every decrement so tests can
// assert the order in which row locks would be taken.
type mockCatalog struct {
	byID       map[int64]product.Product
	stock      map[int64]int
	decrements []int64
}

func newCatalog(products ...product.Product) *mockCatalog {
	m := &mockCatalog{
		byID:  make(map[int64]product.Product, len(products)),
		stock: make(map[int64]int, len(products)),
	}
	for _, p := range products {
		m.byID[p.ID] = p
		m.stock[p.ID] = p.Stock
	}
	return m
}

func (m *mockCatalog) ActiveByID(_ context.Context, id int64) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, &product.NotFoundError{ID: id}
	}
	return &p, nil
}

func (m *mockCatalog) ActiveByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) DecrementStock(_ context.Context, id int64, quantity int) (int64, error) {
	m.decrements = append(m.decrements, id)
	if m.stock[id] < quantity {
		return 0, nil
	}
	m.stock[id] -= quantity
	return 1, nil
}

func (m *mockCatalog) SearchActive(_ context.Context, _ product.Filter) ([]product.Product, error) {
	return nil, nil
}

func (m *mockCatalog) Insert(_ context.Context, _ product.Fields, _ time.Time) (*product.Product, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCatalog) Update(_ context.Context, _, _ int64, _ product.Fields, _ time.Time) (*product.Product, error) {
	return nil, errors.New("not implemented")
}

func (m *mockCatalog) SoftDelete(_ context.Context, _, _ int64, _ time.Time) error {
	return errors.New("not implemented")
}

type mockOrderStore struct {
	byKey     map[string]*Order
	byID      map[int64]*Order
	insertErr error

	lastInserted *Order
	// primaryForced records whether the lookup that found an order ran with
	// primary reads forced on the context.
	primaryForced bool
}

func (m *mockOrderStore) ByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	o, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	m.primaryForced = storage.PrimaryReadsForced(ctx)
	return o, nil
}

func (m *mockOrderStore) Insert(_ context.Context, o *Order) (*Order, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	stored := *o
	stored.ID = 100
	m.lastInserted = &stored
	return &stored, nil
}

func (m *mockOrderStore) ByIDWithItems(_ context.Context, id int64) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return o, nil
}

// --- Helpers ---

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestProduct(id int64, price string, stock int) product.Product {
	return product.Product{
		ID:       id,
		Title:    "Widget",
		Category: "test",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		Version:  1,
	}
}

func newCheckout(catalog *mockCatalog, orders *mockOrderStore) *CheckoutService {
	users := &mockDirectory{users: map[string]*user.User{
		"alice@example.com": {ID: 7, Email: "alice@example.com"},
	}}
	return NewCheckoutService(mockTx{}, users, catalog, orders, func() time.Time { return testNow })
}

func orderStore() *mockOrderStore {
	return &mockOrderStore{byKey: make(map[string]*Order)}
}

// --- Tests ---

func TestCheckout_Validation(t *testing.T) {
	svc := newCheckout(newCatalog(), orderStore())
	ctx := context.Background()

	_, err := svc.Checkout(ctx, "alice@example.com", CheckoutRequest{
		Items: []ItemRequest{{ProductID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrEmptyIdempotencyKey)

	_, err = svc.Checkout(ctx, "alice@example.com", CheckoutRequest{IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrEmptyItems)

	_, err = svc.Checkout(ctx, "alice@example.com", CheckoutRequest{
		IdempotencyKey: "k",
		Items:          []ItemRequest{{ProductID: 3, Quantity: 0}},
	})
	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, int64(3), iqErr.ProductID)

	_, err = svc.Checkout(ctx, "alice@example.com", CheckoutRequest{
		IdempotencyKey: "k",
		Items: []ItemRequest{
			{ProductID: 3, Quantity: 1},
			{ProductID: 3, Quantity: 2},
		},
	})
	var dupErr *DuplicateItemError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, int64(3), dupErr.ProductID)
}

func TestCheckout_UnknownRequester(t *testing.T) {
	svc := newCheckout(newCatalog(newTestProduct(1, "10.00", 5)), orderStore())

	_, err := svc.Checkout(context.Background(), "nobody@example.com", CheckoutRequest{
		IdempotencyKey: "k",
		Items:          []ItemRequest{{ProductID: 1, Quantity: 1}},
	})

	var nfErr *user.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "nobody@example.com", nfErr.Email)
}

func TestCheckout_CreatesOrder(t *testing.T) {
	catalog := newCatalog(
		newTestProduct(1, "19.99", 10),
		newTestProduct(2, "5.00", 10),
	)
	orders := orderStore()
	svc := newCheckout(catalog, orders)

	result, err := svc.Checkout(context.Background(), "alice@example.com", CheckoutRequest{
		IdempotencyKey: "key-1",
		Items: []ItemRequest{
			{ProductID: 1, Quantity: 3},
			{ProductID: 2, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	o := result.Order
	assert.Equal(t, int64(100), o.ID)
	assert.Equal(t, int64(7), o.OwnerID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "key-1", o.IdempotencyKey)
	assert.True(t, decimal.RequireFromString("64.97").Equal(o.TotalAmount),
		"got total %s", o.TotalAmount)
	assert.Equal(t, testNow, o.CreatedAt)
	require.Len(t, o.Items, 2)
	assert.True(t, decimal.RequireFromString("19.99").Equal(o.Items[0].UnitPrice))

	assert.Equal(t, 7, catalog.stock[1])
	assert.Equal(t, 9, catalog.stock[2])
}

func TestCheckout_ExactDecimalTotal(t *testing.T) {
	catalog := newCatalog(newTestProduct(1, "19.99", 10))
	svc := newCheckout(catalog, orderStore())

	result, err := svc.Checkout(context.Background(), "alice@example.com", CheckoutRequest{
		IdempotencyKey: "key-1",
		Items:          []ItemRequest{{ProductID: 1, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, "59.97", result.Order.TotalAmount.StringFixed(2))
}

func TestCheckout_DecrementsInAscendingProductIDOrder(t *testing.T) {
	catalog := newCatalog(
		newTestProduct(10, "1.00", 5),
		newTestProduct(20, "1.00", 5),
		newTestProduct(30, "1.00", 5),
	)
	svc := newCheckout(catalog, orderStore())

	_, err := svc.Checkout(context.Background(), "alice@example.com", CheckoutRequest{
		IdempotencyKey: "key-1",
		Items: []ItemRequest{
			{ProductID: 30, Quantity: 1},
			{ProductID: 10, Quantity: 1},
			{ProductID: 20, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, catalog.decrements)
}

func TestCheckout_DuplicateKeyShortCircuits(t *testing.T) {
	catalog := newCatalog(newTestProduct(1, "10.00", 5))
	orders := orderStore()
	existing := &Order{ID: 42, OwnerID: 7, IdempotencyKey: "key-1", Status: StatusPending}
	orders.byKey["key-1"] = existing

	svc := newCheckout(catalog, orders)
	result, err := svc.Checkout(context.Background(), "alice@example.com", CheckoutRequest{
		IdempotencyKey: "key-1",
		Items:          []ItemRequest{{ProductID: 1, Quantity: 1}},
	})

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, existing, result.Order)
	assert.Empty(t, catalog.decrements, "duplicate submission must not touch stock")
	assert.Equal(t, 5, catalog.stock[1])
}

func TestCheckout_ProductNotFoundReportsSmallestMissingID(t *testing.T) {
	catalog := newCatalog(newTestProduct(5, "10.00", 5))
	svc := newCheckout(catalog, orderStore())

	_, err := svc.Checkout(context.Background(), "alice@example.com", CheckoutRequest{
		IdempotencyKey: "key-1",
		Items: []ItemRequest{
			{ProductID: 9, Quantity: 1},
			{ProductID: 5, Quantity: 1},
			{ProductID: 3, Quantity: 1},
		},
	})

	var nfErr *product.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, int64(3), nfErr.ID)
	assert.Empty(t, catalog.decrements, "missing products must fail before any decrement")
}

func TestCheckout_OutOfStock(t *testing.T) {
	catalog := newCatalog(
		newTestProduct(1, "10.00", 5),
		newTestProduct(2, "10.00", 1),
	)
	orders := orderStore()
	svc := newCheckout(catalog, orders)

	_, err := svc.Checkout(context.Background(), "alice@example.com", CheckoutRequest{
		IdempotencyKey: "key-1",
		Items: []ItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 3},
		},
	})

	var oosErr *product.OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, int64(2), oosErr.ID)
	assert.Nil(t, orders.lastInserted, "failed checkout must not insert an order")
}

func TestCheckout_IdempotencyRaceReturnsWinner(t *testing.T) {
	catalog := newCatalog(newTestProduct(1, "10.00", 5))
	orders := orderStore()
	orders.insertErr = ErrIdempotencyConflict
	winner := &Order{ID: 42, OwnerID: 9, IdempotencyKey: "key-1", Status: StatusPending}

	users := &mockDirectory{users: map[string]*user.User{
		"alice@example.com": {ID: 7, Email: "alice@example.com"},
	}}
	svc := NewCheckoutService(raceTx{orders: orders, winner: winner}, users, catalog, orders,
		func() time.Time { return testNow })

	result, err := svc.Checkout(context.Background(), "alice@example.com", CheckoutRequest{
		IdempotencyKey: "key-1",
		Items:          []ItemRequest{{ProductID: 1, Quantity: 1}},
	})

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, winner, result.Order)
	assert.True(t, orders.primaryForced, "winner re-query must force primary reads")
}

// raceTx makes the winning order visible only to the read transaction that
// runs after the write transaction failed, mimicking a lost insert race.
type raceTx struct {
	orders *mockOrderStore
	winner *Order
}

func (tx raceTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (tx raceTx) InReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.orders.byKey[tx.winner.IdempotencyKey] = tx.winner
	return fn(ctx)
}
