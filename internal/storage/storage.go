// Package storage defines the storage-facing contracts shared by the domain
// services: transactional units of work and the primary-read routing override.
package storage

import "context"

// TxRunner executes a function inside a single transactional unit of work.
// The storage implementation decides which physical connection serves the
// transaction; the decision is made once, at transaction start, and never
// changes for its lifetime.
type TxRunner interface {
	// InTx runs fn inside a read-write transaction on the primary store.
	// If the context already carries a transaction, fn joins it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// InReadTx runs fn inside a read-only transaction. The transaction may be
	// served by a read replica unless primary reads are forced on the context.
	InReadTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type primaryReadsKey struct{}

// WithPrimaryReads marks the context so that read-only work started from it
// is routed to the primary store. Use it when a read must observe the effects
// of a preceding write. The override is scoped to the returned context; it
// does not leak across calls the way a thread-local flag would.
func WithPrimaryReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryReadsKey{}, true)
}

// PrimaryReadsForced reports whether WithPrimaryReads was applied to ctx.
func PrimaryReadsForced(ctx context.Context) bool {
	forced, _ := ctx.Value(primaryReadsKey{}).(bool)
	return forced
}
