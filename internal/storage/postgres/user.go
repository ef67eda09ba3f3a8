package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/jimmyweng/ecommerce-go/internal/domain/user"
)

const (
	userByEmailSQL = `SELECT id, email, name, created_at
		FROM users WHERE lower(email) = lower($1)`

	insertUserSQL = `INSERT INTO users (email, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`
)

var _ user.Directory = (*UserStore)(nil)

// UserStore implements user.Directory backed by the cluster.
type UserStore struct {
	cluster *Cluster
}

// NewUserStore returns a UserStore using the given cluster.
func NewUserStore(cluster *Cluster) *UserStore {
	return &UserStore{cluster: cluster}
}

// ByEmail resolves an account by email, case-insensitively.
func (s *UserStore) ByEmail(ctx context.Context, email string) (*user.User, error) {
	rows, err := s.cluster.q(ctx, true).Query(ctx, userByEmailSQL, email)
	if err != nil {
		return nil, errors.Wrap(err, "get user by email")
	}

	u, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (user.User, error) {
		var u user.User
		err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
		return u, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &user.NotFoundError{Email: email}
		}
		return nil, errors.Wrap(err, "get user by email")
	}
	return &u, nil
}

// Insert creates an account. Checkout never registers users; this exists for
// seeding and tests.
func (s *UserStore) Insert(ctx context.Context, email, name string, at time.Time) (*user.User, error) {
	u := user.User{Email: email, Name: name, CreatedAt: at}
	err := s.cluster.q(ctx, false).QueryRow(ctx, insertUserSQL, email, name, at).Scan(&u.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert user")
	}
	return &u, nil
}
