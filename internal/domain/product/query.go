package product

import (
	"context"
	"strings"

	"github.com/jimmyweng/ecommerce-go/internal/storage"
)

// QueryService serves catalog reads. Listings run in read-only transactions,
// so they may be served by a read replica when replicas are configured.
type QueryService struct {
	catalog Catalog
	tx      storage.TxRunner
}

// NewQueryService creates a QueryService over the given catalog.
func NewQueryService(catalog Catalog, tx storage.TxRunner) *QueryService {
	return &QueryService{catalog: catalog, tx: tx}
}

// ListProducts returns active products matching the filter. Category matching
// is case-insensitive; the keyword matches title or description.
func (s *QueryService) ListProducts(ctx context.Context, f Filter) ([]Product, error) {
	f.Category = normalizeCategory(f.Category)
	f.Keyword = strings.TrimSpace(f.Keyword)

	var products []Product
	err := s.tx.InReadTx(ctx, func(ctx context.Context) error {
		var err error
		products, err = s.catalog.SearchActive(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Product returns a single active product by id.
func (s *QueryService) Product(ctx context.Context, id int64) (*Product, error) {
	var p *Product
	err := s.tx.InReadTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.catalog.ActiveByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
