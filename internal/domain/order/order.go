// Package order holds the order domain: the order/order-item records, the
// order storage contract, and the checkout and query services.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order. Orders are created PENDING;
// transitions beyond creation are handled elsewhere.
type Status string

// StatusPending is the state of every freshly created order.
const StatusPending Status = "PENDING"

// ErrIdempotencyConflict is surfaced by the store when inserting an order
// whose idempotency key already exists. The checkout service handles it by
// re-querying the winning order; it never escapes to callers.
var ErrIdempotencyConflict = errors.New("idempotency key already used")

// NotFoundError indicates no order exists with the given id, or the
// requester is not allowed to see it.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %d not found", e.ID)
}

// Order is a customer order. It is created exactly once per idempotency key
// and never mutated afterwards by this service. TotalAmount is always the
// exact sum of quantity times unit price across the items.
type Order struct {
	ID             int64
	OwnerID        int64
	Status         Status
	IdempotencyKey string
	TotalAmount    decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Items          []Item
}

// Item is a single order line. UnitPrice is the product price captured at
// checkout time; later price edits never change existing orders.
type Item struct {
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Store is the persistence contract for orders.
type Store interface {
	// ByIdempotencyKey returns the order created under the given key with its
	// items, or (nil, nil) when no such order exists.
	ByIdempotencyKey(ctx context.Context, key string) (*Order, error)

	// Insert persists the order and its items as one write and returns the
	// stored order. A concurrent insert under the same idempotency key makes
	// it fail with ErrIdempotencyConflict.
	Insert(ctx context.Context, o *Order) (*Order, error)

	// ByIDWithItems returns the order with its items, ordered as inserted.
	// Returns *NotFoundError when absent.
	ByIDWithItems(ctx context.Context, id int64) (*Order, error)
}
