// Package product holds the catalog domain: product records, the catalog
// storage contract, and the admin/query services built on top of it.
package product

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrVersionConflict is returned when a version-guarded update observes a
// version other than the one the caller expected. The stored row is left
// untouched.
var ErrVersionConflict = errors.New("product version conflict")

// NotFoundError indicates a product does not exist or is soft-deleted.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ID)
}

// OutOfStockError indicates a conditional stock decrement did not apply
// because the remaining stock was insufficient.
type OutOfStockError struct {
	ID int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d is out of stock", e.ID)
}

// Product is a catalog item available for purchase. Stock is only ever
// mutated through the catalog's conditional decrement; price and the other
// fields change through version-guarded admin updates.
type Product struct {
	ID          int64
	Title       string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Deleted reports whether the product has been soft-deleted.
func (p *Product) Deleted() bool {
	return p.DeletedAt != nil
}

// Fields is the mutable portion of a product, used for create and update.
type Fields struct {
	Title       string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int
}

// Filter narrows catalog listings. Zero values mean "no constraint"; Limit
// falls back to the store default when zero.
type Filter struct {
	Category string
	Keyword  string
	Limit    int
	Offset   int
}

// Catalog is the storage contract for products.
//
// DecrementStock is the only stock mutation path and must be implemented as
// a single conditional write so concurrent checkouts cannot both observe
// sufficient stock. Update and SoftDelete are version-guarded compare-and-swap
// writes; they return ErrVersionConflict without touching storage when the
// stored version differs from the expected one.
type Catalog interface {
	ActiveByID(ctx context.Context, id int64) (*Product, error)
	ActiveByIDs(ctx context.Context, ids []int64) ([]Product, error)
	SearchActive(ctx context.Context, f Filter) ([]Product, error)

	Insert(ctx context.Context, fields Fields, at time.Time) (*Product, error)

	// DecrementStock atomically subtracts quantity from the product's stock if
	// the product is active and has at least quantity units left. It returns
	// the number of rows affected (0 or 1).
	DecrementStock(ctx context.Context, id int64, quantity int) (int64, error)

	Update(ctx context.Context, id, expectedVersion int64, fields Fields, at time.Time) (*Product, error)
	SoftDelete(ctx context.Context, id, expectedVersion int64, at time.Time) error
}
