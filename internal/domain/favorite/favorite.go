// Package favorite implements per-user product favorites.
package favorite

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
	"github.com/jimmyweng/ecommerce-go/internal/domain/user"
	"github.com/jimmyweng/ecommerce-go/internal/storage"
)

// Favorite marks a product as favorited by a user.
type Favorite struct {
	UserID    int64
	ProductID int64
	CreatedAt time.Time
}

// Store is the persistence contract for favorites.
type Store interface {
	// Insert adds the favorite if it does not exist yet and reports whether a
	// row was created.
	Insert(ctx context.Context, f Favorite) (bool, error)
	Delete(ctx context.Context, userID, productID int64) error
	// ProductIDsByUser returns favorited product ids, newest first.
	ProductIDsByUser(ctx context.Context, userID int64) ([]int64, error)
}

// Service implements the favorites feature on top of the user directory and
// the product catalog.
type Service struct {
	tx        storage.TxRunner
	users     user.Directory
	products  product.Catalog
	favorites Store
	now       func() time.Time
}

// NewService creates a favorites Service.
func NewService(
	tx storage.TxRunner,
	users user.Directory,
	products product.Catalog,
	favorites Store,
	now func() time.Time,
) *Service {
	return &Service{tx: tx, users: users, products: products, favorites: favorites, now: now}
}

// Add favorites the product for the user. Adding an existing favorite is a
// no-op; the returned flag reports whether the favorite was newly created.
func (s *Service) Add(ctx context.Context, email string, productID int64) (*product.Product, bool, error) {
	var (
		p       *product.Product
		created bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.users.ByEmail(ctx, email)
		if err != nil {
			return err
		}
		p, err = s.products.ActiveByID(ctx, productID)
		if err != nil {
			return err
		}
		created, err = s.favorites.Insert(ctx, Favorite{
			UserID:    u.ID,
			ProductID: productID,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// Remove deletes the favorite. Removing an absent favorite is a no-op.
func (s *Service) Remove(ctx context.Context, email string, productID int64) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.users.ByEmail(ctx, email)
		if err != nil {
			return err
		}
		return s.favorites.Delete(ctx, u.ID, productID)
	})
}

// List returns the user's favorited products, newest favorite first.
// Products deleted since they were favorited are silently skipped.
func (s *Service) List(ctx context.Context, email string) ([]product.Product, error) {
	var listed []product.Product
	err := s.tx.InReadTx(ctx, func(ctx context.Context) error {
		u, err := s.users.ByEmail(ctx, email)
		if err != nil {
			return err
		}

		ids, err := s.favorites.ProductIDsByUser(ctx, u.ID)
		if err != nil {
			return errors.Wrap(err, "list favorites")
		}
		if len(ids) == 0 {
			return nil
		}

		products, err := s.products.ActiveByIDs(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "fetch favorited products")
		}
		byID := make(map[int64]product.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}

		listed = make([]product.Product, 0, len(ids))
		for _, id := range ids {
			if p, ok := byID[id]; ok {
				listed = append(listed, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listed, nil
}
