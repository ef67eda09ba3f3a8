package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jimmyweng/ecommerce-go/internal/storage"
)

// Cluster owns the primary connection pool and zero or more read-replica
// pools, and implements storage.TxRunner over them. All writes go to the
// primary; read-only units of work are round-robined across replicas unless
// primary reads are forced on the context.
type Cluster struct {
	primary  *pgxpool.Pool
	replicas []*pgxpool.Pool
	router   router
}

var _ storage.TxRunner = (*Cluster)(nil)

// NewCluster connects to the primary and every configured replica.
// replicaURLs may be empty, in which case all traffic uses the primary.
func NewCluster(ctx context.Context, primaryURL string, replicaURLs []string) (*Cluster, error) {
	primary, err := NewPool(ctx, primaryURL)
	if err != nil {
		return nil, errors.Wrap(err, "primary")
	}

	c := &Cluster{primary: primary}
	for i, u := range replicaURLs {
		replica, err := NewPool(ctx, u)
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "replica %d", i)
		}
		c.replicas = append(c.replicas, replica)
	}
	c.router.replicas = len(c.replicas)

	return c, nil
}

// Primary exposes the primary pool for migrations and health checks.
func (c *Cluster) Primary() *pgxpool.Pool {
	return c.primary
}

// Close closes the primary and all replica pools.
func (c *Cluster) Close() {
	c.primary.Close()
	for _, r := range c.replicas {
		r.Close()
	}
}

// dbtx is the querying surface shared by pgxpool.Pool and pgx.Tx. Stores go
// through it so the same code runs inside and outside transactions.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

func txFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// pool resolves the physical pool for a new unit of work.
func (c *Cluster) pool(ctx context.Context, readOnly bool) *pgxpool.Pool {
	i := c.router.pick(storage.PrimaryReadsForced(ctx), readOnly)
	if i == primaryIndex {
		return c.primary
	}
	return c.replicas[i]
}

// q resolves the querier for a store call: the transaction pinned on the
// context when inside a unit of work, otherwise a routed pool for a
// single-statement unit of work.
func (c *Cluster) q(ctx context.Context, readOnly bool) dbtx {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return c.pool(ctx, readOnly)
}

// InTx runs fn inside a read-write transaction on the primary. If the context
// already carries a transaction, fn joins it and commit/rollback stay with
// the outermost caller. Any error from fn rolls the transaction back.
func (c *Cluster) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.begin(ctx, c.primary, pgx.TxOptions{}, fn)
}

// InReadTx runs fn inside a read-only transaction. The serving pool is chosen
// by the router once, at transaction start, and pinned for the transaction's
// lifetime.
func (c *Cluster) InReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.begin(ctx, c.pool(ctx, true), pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (c *Cluster) begin(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Wrapf(err, "rollback failed: %v; original error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}
