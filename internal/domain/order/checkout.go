package order

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
	"github.com/jimmyweng/ecommerce-go/internal/domain/user"
	"github.com/jimmyweng/ecommerce-go/internal/storage"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyItems          = errors.New("items required")
	ErrEmptyIdempotencyKey = errors.New("idempotency key required")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

// DuplicateItemError indicates a product appears more than once in a request.
type DuplicateItemError struct {
	ProductID int64
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("product %d appears more than once", e.ProductID)
}

// ItemRequest is one requested order line.
type ItemRequest struct {
	ProductID int64
	Quantity  int
}

// CheckoutRequest holds the input for creating an order.
type CheckoutRequest struct {
	IdempotencyKey string
	Items          []ItemRequest
}

// CheckoutResult is the outcome of a checkout. Duplicate is true when the
// idempotency key had already been used and the existing order was returned
// without touching stock.
type CheckoutResult struct {
	Order     *Order
	Duplicate bool
}

// CheckoutService creates orders. The whole operation runs as one read-write
// transaction on the primary store: either every stock decrement and the
// order insert commit together, or none do.
type CheckoutService struct {
	tx       storage.TxRunner
	users    user.Directory
	products product.Catalog
	orders   Store
	now      func() time.Time
}

// NewCheckoutService creates a CheckoutService with the required
// collaborators. The clock is injected so tests can pin timestamps.
func NewCheckoutService(
	tx storage.TxRunner,
	users user.Directory,
	products product.Catalog,
	orders Store,
	now func() time.Time,
) *CheckoutService {
	return &CheckoutService{tx: tx, users: users, products: products, orders: orders, now: now}
}

// Checkout creates an order for the requester identified by email.
//
// Items are processed in ascending product-id order. This fixed ordering is
// the deadlock-avoidance invariant of the checkout path: any two concurrent
// checkouts that share products acquire the per-product row locks in the same
// relative order, so they can block but never deadlock. Do not reorder the
// decrement loop.
//
// Submitting the same idempotency key again returns the already-created order
// flagged as duplicate, with no stock mutation.
func (s *CheckoutService) Checkout(ctx context.Context, email string, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	items := sortedByProductID(req.Items)

	var result *CheckoutResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		requester, err := s.users.ByEmail(ctx, email)
		if err != nil {
			return err
		}

		existing, err := s.orders.ByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return errors.Wrap(err, "idempotency lookup")
		}
		if existing != nil {
			result = &CheckoutResult{Order: existing, Duplicate: true}
			return nil
		}

		created, err := s.placeOrder(ctx, requester.ID, req.IdempotencyKey, items)
		if err != nil {
			return err
		}
		result = &CheckoutResult{Order: created}
		return nil
	})
	if err != nil {
		// A concurrent request won the race between the key lookup and the
		// insert. Our transaction has rolled back; return the winner's order.
		if errors.Is(err, ErrIdempotencyConflict) {
			return s.winningOrder(ctx, req.IdempotencyKey)
		}
		return nil, err
	}
	return result, nil
}

// placeOrder runs steps 4-7 of the checkout: bulk fetch, conditional
// decrements in sorted order, total computation, and the order insert.
// Must be called inside the checkout transaction with items already sorted.
func (s *CheckoutService) placeOrder(ctx context.Context, ownerID int64, key string, items []ItemRequest) (*Order, error) {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	fetched, err := s.products.ActiveByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "fetch products")
	}
	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	// ids is sorted ascending, so the first miss is the smallest missing id.
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, &product.NotFoundError{ID: id}
		}
	}

	orderItems := make([]Item, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		affected, err := s.products.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "decrement stock for product %d", item.ProductID)
		}
		if affected == 0 {
			return nil, &product.OutOfStockError{ID: item.ProductID}
		}

		unitPrice := byID[item.ProductID].Price
		orderItems = append(orderItems, Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
		})
		total = total.Add(unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	now := s.now()
	created, err := s.orders.Insert(ctx, &Order{
		OwnerID:        ownerID,
		Status:         StatusPending,
		IdempotencyKey: key,
		TotalAmount:    total,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          orderItems,
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// winningOrder fetches the order created by the request that won the
// idempotency race. The read is forced to the primary so it observes the
// winner's freshly committed insert even when replicas lag.
func (s *CheckoutService) winningOrder(ctx context.Context, key string) (*CheckoutResult, error) {
	ctx = storage.WithPrimaryReads(ctx)

	var winner *Order
	err := s.tx.InReadTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.ByIdempotencyKey(ctx, key)
		if err != nil {
			return errors.Wrap(err, "re-query idempotency key")
		}
		if o == nil {
			return errors.New("order missing after idempotency conflict")
		}
		winner = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: winner, Duplicate: true}, nil
}

func validateRequest(req CheckoutRequest) error {
	if req.IdempotencyKey == "" {
		return ErrEmptyIdempotencyKey
	}
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}

	seen := make(map[int64]bool, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
		if seen[item.ProductID] {
			return &DuplicateItemError{ProductID: item.ProductID}
		}
		seen[item.ProductID] = true
	}
	return nil
}

func sortedByProductID(items []ItemRequest) []ItemRequest {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b ItemRequest) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}
