package product

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/jimmyweng/ecommerce-go/internal/storage"
)

// AdminService implements the write side of the catalog: create, update, and
// soft-delete. Updates and deletes are guarded by the product version so
// stale admin edits are rejected instead of silently overwriting each other.
type AdminService struct {
	catalog Catalog
	tx      storage.TxRunner
	now     func() time.Time
}

// NewAdminService creates an AdminService. The clock is injected so tests can
// pin timestamps.
func NewAdminService(catalog Catalog, tx storage.TxRunner, now func() time.Time) *AdminService {
	return &AdminService{catalog: catalog, tx: tx, now: now}
}

// CreateProduct inserts a new product with version 1. The category is
// normalized to lower case so listings can filter on it case-insensitively.
func (s *AdminService) CreateProduct(ctx context.Context, fields Fields) (*Product, error) {
	fields.Category = normalizeCategory(fields.Category)

	var created *Product
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.catalog.Insert(ctx, fields, s.now())
		if err != nil {
			return errors.Wrap(err, "insert product")
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateProduct applies fields to the product only if the stored version
// equals expectedVersion. On success the version is incremented and the new
// state returned; on mismatch it fails with ErrVersionConflict and leaves
// storage untouched. Admin edits are low-contention, so a read-check-write
// with a version-guarded final UPDATE is sufficient here; the high-contention
// stock path uses the single-statement conditional decrement instead.
func (s *AdminService) UpdateProduct(ctx context.Context, id, expectedVersion int64, fields Fields) (*Product, error) {
	fields.Category = normalizeCategory(fields.Category)

	var updated *Product
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.catalog.ActiveByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		p, err := s.catalog.Update(ctx, id, expectedVersion, fields, s.now())
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProduct soft-deletes the product by stamping deleted_at, following
// the same version-guarded path as UpdateProduct. Already-deleted products
// report NotFoundError.
func (s *AdminService) DeleteProduct(ctx context.Context, id, expectedVersion int64) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.catalog.ActiveByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
		return s.catalog.SoftDelete(ctx, id, expectedVersion, s.now())
	})
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
