package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/jimmyweng/ecommerce-go/internal/domain/favorite"
)

const (
	insertFavoriteSQL = `INSERT INTO favorites (user_id, product_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id) DO NOTHING`

	deleteFavoriteSQL = `DELETE FROM favorites WHERE user_id = $1 AND product_id = $2`

	favoriteIDsByUserSQL = `SELECT product_id FROM favorites
		WHERE user_id = $1 ORDER BY created_at DESC, product_id DESC`
)

var _ favorite.Store = (*FavoriteStore)(nil)

// FavoriteStore implements favorite.Store backed by the cluster.
type FavoriteStore struct {
	cluster *Cluster
}

// NewFavoriteStore returns a FavoriteStore using the given cluster.
func NewFavoriteStore(cluster *Cluster) *FavoriteStore {
	return &FavoriteStore{cluster: cluster}
}

// Insert adds the favorite, reporting whether a row was created. An existing
// favorite leaves the original created_at untouched.
func (s *FavoriteStore) Insert(ctx context.Context, f favorite.Favorite) (bool, error) {
	tag, err := s.cluster.q(ctx, false).Exec(ctx, insertFavoriteSQL, f.UserID, f.ProductID, f.CreatedAt)
	if err != nil {
		return false, errors.Wrap(err, "insert favorite")
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the favorite. Deleting an absent favorite is not an error.
func (s *FavoriteStore) Delete(ctx context.Context, userID, productID int64) error {
	if _, err := s.cluster.q(ctx, false).Exec(ctx, deleteFavoriteSQL, userID, productID); err != nil {
		return errors.Wrap(err, "delete favorite")
	}
	return nil
}

// ProductIDsByUser returns the user's favorited product ids, newest first.
func (s *FavoriteStore) ProductIDsByUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.cluster.q(ctx, true).Query(ctx, favoriteIDsByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list favorite product ids")
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
