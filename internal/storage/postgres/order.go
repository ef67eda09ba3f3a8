package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/jimmyweng/ecommerce-go/internal/domain/order"
)

const (
	orderByIdempotencyKeySQL = `SELECT id, user_id, status, idempotency_key, total_amount, created_at, updated_at
		FROM orders WHERE idempotency_key = $1`

	orderByIDSQL = `SELECT id, user_id, status, idempotency_key, total_amount, created_at, updated_at
		FROM orders WHERE id = $1`

	insertOrderSQL = `INSERT INTO orders (user_id, status, idempotency_key, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`

	orderItemsSQL = `SELECT order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`
)

// idempotencyKeyConstraint is the unique constraint guarding one order per
// idempotency key. Its violation is how a lost creation race surfaces.
const idempotencyKeyConstraint = "orders_idempotency_key_key"

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by the cluster.
type OrderStore struct {
	cluster *Cluster
}

// NewOrderStore returns an OrderStore using the given cluster.
func NewOrderStore(cluster *Cluster) *OrderStore {
	return &OrderStore{cluster: cluster}
}

// ByIdempotencyKey returns the order created under the key with its items, or
// (nil, nil) when the key has never been used.
func (s *OrderStore) ByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	q := s.cluster.q(ctx, true)

	rows, err := q.Query(ctx, orderByIdempotencyKeySQL, key)
	if err != nil {
		return nil, errors.Wrap(err, "get order by idempotency key")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get order by idempotency key")
	}

	if err := s.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Insert persists the order and its items. The items go out as one batch in
// the caller's transaction, so the order is either fully visible or absent.
// A unique violation on the idempotency key maps to ErrIdempotencyConflict.
func (s *OrderStore) Insert(ctx context.Context, o *order.Order) (*order.Order, error) {
	q := s.cluster.q(ctx, false)

	stored := *o
	err := q.QueryRow(ctx, insertOrderSQL,
		o.OwnerID, o.Status, o.IdempotencyKey, o.TotalAmount, o.CreatedAt, o.UpdatedAt,
	).Scan(&stored.ID)
	if err != nil {
		if isUniqueViolation(err, idempotencyKeyConstraint) {
			return nil, order.ErrIdempotencyConflict
		}
		return nil, errors.Wrap(err, "insert order")
	}

	batch := &pgx.Batch{}
	stored.Items = make([]order.Item, len(o.Items))
	for i, item := range o.Items {
		item.OrderID = stored.ID
		stored.Items[i] = item
		batch.Queue(insertOrderItemSQL, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return nil, errors.Wrap(err, "insert order items")
	}

	return &stored, nil
}

// ByIDWithItems returns the order with its items in insertion order.
func (s *OrderStore) ByIDWithItems(ctx context.Context, id int64) (*order.Order, error) {
	q := s.cluster.q(ctx, true)

	rows, err := q.Query(ctx, orderByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{ID: id}
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}

	if err := s.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *OrderStore) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := s.cluster.q(ctx, true).Query(ctx, orderItemsSQL, o.ID)
	if err != nil {
		return errors.Wrapf(err, "get items for order %d", o.ID)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var item order.Item
		err := row.Scan(&item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice)
		return item, err
	})
	if err != nil {
		return errors.Wrapf(err, "get items for order %d", o.ID)
	}

	o.Items = items
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.OwnerID, &o.Status, &o.IdempotencyKey, &o.TotalAmount,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}
