//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jimmyweng/ecommerce-go/internal/domain/order"
	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
)

func TestCheckout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.createUser(t, "alice@example.com")
	p1 := e.createProduct(t, "Widget", "19.99", 10)
	p2 := e.createProduct(t, "Gadget", "5.00", 10)

	result, err := e.checkout.Checkout(ctx, "alice@example.com", order.CheckoutRequest{
		IdempotencyKey: "order-1",
		Items: []order.ItemRequest{
			{ProductID: p1.ID, Quantity: 3},
			{ProductID: p2.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	o := result.Order
	assert.NotZero(t, o.ID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("64.97").Equal(o.TotalAmount),
		"got total %s", o.TotalAmount)

	assert.Equal(t, 7, e.productByID(t, p1.ID).Stock)
	assert.Equal(t, 9, e.productByID(t, p2.ID).Stock)

	// The owner can read the order back with its items; another user cannot.
	e.createUser(t, "bob@example.com")
	fetched, err := e.orderQueries.OrderForRequester(ctx, o.ID, "alice@example.com", false)
	require.NoError(t, err)
	require.Len(t, fetched.Items, 2)
	assert.True(t, decimal.RequireFromString("19.99").Equal(fetched.Items[0].UnitPrice))

	_, err = e.orderQueries.OrderForRequester(ctx, o.ID, "bob@example.com", false)
	var nfErr *order.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestCheckoutDuplicateKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.createUser(t, "alice@example.com")
	p := e.createProduct(t, "Widget", "10.00", 5)

	req := order.CheckoutRequest{
		IdempotencyKey: "order-1",
		Items:          []order.ItemRequest{{ProductID: p.ID, Quantity: 2}},
	}

	first, err := e.checkout.Checkout(ctx, "alice@example.com", req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := e.checkout.Checkout(ctx, "alice@example.com", req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	// The duplicate submission must not have touched stock again.
	assert.Equal(t, 3, e.productByID(t, p.ID).Stock)
}

func TestCheckoutConcurrentStockDrain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.createUser(t, "alice@example.com")
	p := e.createProduct(t, "Widget", "10.00", 20)

	const attempts = 30

	var successes, outOfStock atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := range attempts {
		g.Go(func() error {
			_, err := e.checkout.Checkout(gctx, "alice@example.com", order.CheckoutRequest{
				IdempotencyKey: fmt.Sprintf("drain-%d", i),
				Items:          []order.ItemRequest{{ProductID: p.ID, Quantity: 1}},
			})

			var oosErr *product.OutOfStockError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &oosErr):
				outOfStock.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Exactly the available stock is sold, never more.
	assert.Equal(t, int64(20), successes.Load())
	assert.Equal(t, int64(10), outOfStock.Load())
	assert.Equal(t, 0, e.productByID(t, p.ID).Stock)
}

func TestCheckoutIdempotencyKeyRace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.createUser(t, "alice@example.com")
	p := e.createProduct(t, "Widget", "10.00", 100)

	const racers = 8
	key := uuid.NewString()

	results := make([]*order.CheckoutResult, racers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range racers {
		g.Go(func() error {
			result, err := e.checkout.Checkout(gctx, "alice@example.com", order.CheckoutRequest{
				IdempotencyKey: key,
				Items:          []order.ItemRequest{{ProductID: p.ID, Quantity: 2}},
			})
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every racer got the same order, and stock was decremented exactly once.
	for _, r := range results[1:] {
		assert.Equal(t, results[0].Order.ID, r.Order.ID)
	}
	assert.Equal(t, 98, e.productByID(t, p.ID).Stock)
}

func TestCheckoutOppositeItemOrdersNoDeadlock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.createUser(t, "alice@example.com")
	a := e.createProduct(t, "Widget", "10.00", 1000)
	b := e.createProduct(t, "Gadget", "10.00", 1000)

	// Half the checkouts submit {A,B}, half {B,A}. The sorted decrement order
	// means they contend but never deadlock.
	const rounds = 25
	g, gctx := errgroup.WithContext(ctx)
	for i := range rounds {
		g.Go(func() error {
			_, err := e.checkout.Checkout(gctx, "alice@example.com", order.CheckoutRequest{
				IdempotencyKey: fmt.Sprintf("ab-%d", i),
				Items: []order.ItemRequest{
					{ProductID: a.ID, Quantity: 1},
					{ProductID: b.ID, Quantity: 1},
				},
			})
			return err
		})
		g.Go(func() error {
			_, err := e.checkout.Checkout(gctx, "alice@example.com", order.CheckoutRequest{
				IdempotencyKey: fmt.Sprintf("ba-%d", i),
				Items: []order.ItemRequest{
					{ProductID: b.ID, Quantity: 1},
					{ProductID: a.ID, Quantity: 1},
				},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1000-rounds*2, e.productByID(t, a.ID).Stock)
	assert.Equal(t, 1000-rounds*2, e.productByID(t, b.ID).Stock)
}

func TestCheckoutRollsBackOnOutOfStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.createUser(t, "alice@example.com")
	a := e.createProduct(t, "Widget", "10.00", 10)
	b := e.createProduct(t, "Gadget", "10.00", 5)

	// Product a decrements first (smaller id), then b fails. The whole
	// transaction rolls back, so a's stock is restored.
	_, err := e.checkout.Checkout(ctx, "alice@example.com", order.CheckoutRequest{
		IdempotencyKey: "rollback-1",
		Items: []order.ItemRequest{
			{ProductID: a.ID, Quantity: 2},
			{ProductID: b.ID, Quantity: 6},
		},
	})

	var oosErr *product.OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, b.ID, oosErr.ID)

	assert.Equal(t, 10, e.productByID(t, a.ID).Stock)
	assert.Equal(t, 5, e.productByID(t, b.ID).Stock)

	// The failed key was not burned; a retry with available quantities works.
	_, err = e.checkout.Checkout(ctx, "alice@example.com", order.CheckoutRequest{
		IdempotencyKey: "rollback-1",
		Items: []order.ItemRequest{
			{ProductID: a.ID, Quantity: 2},
			{ProductID: b.ID, Quantity: 5},
		},
	})
	require.NoError(t, err)
}
