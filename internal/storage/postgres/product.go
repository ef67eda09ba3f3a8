package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
)

const productColumns = `id, title, description, category, price, stock, version, created_at, updated_at, deleted_at`

const (
	activeProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1 AND deleted_at IS NULL`

	activeProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1) AND deleted_at IS NULL`

	insertProductSQL = `INSERT INTO products (title, description, category, price, stock, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		RETURNING ` + productColumns

	// The stock decrement is a single conditional statement on purpose:
	// concurrent checkouts must never both observe sufficient stock and both
	// succeed. Do not split it into a read followed by a write.
	decrementStockSQL = `UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL AND stock >= $2`

	updateProductSQL = `UPDATE products
		SET title = $3, description = $4, category = $5, price = $6, stock = $7,
		    version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING ` + productColumns

	softDeleteProductSQL = `UPDATE products
		SET deleted_at = $3, updated_at = $3, version = version + 1
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL`
)

var _ product.Catalog = (*ProductStore)(nil)

// ProductStore implements product.Catalog backed by the cluster.
type ProductStore struct {
	cluster *Cluster
}

// NewProductStore returns a ProductStore using the given cluster.
func NewProductStore(cluster *Cluster) *ProductStore {
	return &ProductStore{cluster: cluster}
}

// ActiveByID returns the product if it exists and is not soft-deleted.
func (s *ProductStore) ActiveByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := s.cluster.q(ctx, true).Query(ctx, activeProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &product.NotFoundError{ID: id}
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

// ActiveByIDs returns all non-deleted products matching the given ids in one
// query. Missing ids are simply absent from the result.
func (s *ProductStore) ActiveByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := s.cluster.q(ctx, true).Query(ctx, activeProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// SearchActive lists non-deleted products matching the filter, ordered by id.
func (s *ProductStore) SearchActive(ctx context.Context, f product.Filter) ([]product.Product, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + productColumns + ` FROM products WHERE deleted_at IS NULL`)

	if f.Category != "" {
		args = append(args, f.Category)
		fmt.Fprintf(&sb, " AND category = $%d", len(args))
	}
	if f.Keyword != "" {
		args = append(args, "%"+f.Keyword+"%")
		fmt.Fprintf(&sb, " AND (title ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY id LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.cluster.q(ctx, true).Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "search products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Insert persists a new product with version 1.
func (s *ProductStore) Insert(ctx context.Context, fields product.Fields, at time.Time) (*product.Product, error) {
	rows, err := s.cluster.q(ctx, false).Query(ctx, insertProductSQL,
		fields.Title, fields.Description, fields.Category, fields.Price, fields.Stock, at,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert product")
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "insert product")
	}
	return &p, nil
}

// DecrementStock applies the conditional decrement and returns the affected
// row count: 1 when the decrement applied, 0 when stock was insufficient or
// the product is deleted.
func (s *ProductStore) DecrementStock(ctx context.Context, id int64, quantity int) (int64, error) {
	tag, err := s.cluster.q(ctx, false).Exec(ctx, decrementStockSQL, id, quantity)
	if err != nil {
		return 0, errors.Wrapf(err, "decrement stock for product %d", id)
	}
	return tag.RowsAffected(), nil
}

// Update applies fields only if the stored version equals expectedVersion,
// incrementing the version. Zero affected rows map to ErrVersionConflict; the
// caller is expected to have already distinguished a missing product.
func (s *ProductStore) Update(ctx context.Context, id, expectedVersion int64, fields product.Fields, at time.Time) (*product.Product, error) {
	rows, err := s.cluster.q(ctx, false).Query(ctx, updateProductSQL,
		id, expectedVersion,
		fields.Title, fields.Description, fields.Category, fields.Price, fields.Stock, at,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "update product %d", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrVersionConflict
		}
		return nil, errors.Wrapf(err, "update product %d", id)
	}
	return &p, nil
}

// SoftDelete stamps deleted_at through the same version-guarded path as
// Update.
func (s *ProductStore) SoftDelete(ctx context.Context, id, expectedVersion int64, at time.Time) error {
	tag, err := s.cluster.q(ctx, false).Exec(ctx, softDeleteProductSQL, id, expectedVersion, at)
	if err != nil {
		return errors.Wrapf(err, "soft-delete product %d", id)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrVersionConflict
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Category, &p.Price, &p.Stock,
		&p.Version, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	return p, err
}
