package rdf

import "context"

// Store is the quad store consumed by the synchronizer, the query engine
// and the graph management endpoints. Mutations happen inside an explicit
// write transaction; reads outside a transaction see the last committed
// state.
type Store interface {
	// Begin opens a write transaction. The store supports a single
	// writer at a time; Begin blocks until the previous transaction
	// finished.
	Begin(ctx context.Context) (Tx, error)

	// Find returns all committed quads matching the pattern. Wildcard
	// (zero-value) components match everything.
	Find(ctx context.Context, pattern Quad) ([]Quad, error)

	// DefaultGraph is the graph all synchronized dataspace facts are
	// scoped into.
	DefaultGraph() Term
}

// Tx is a write transaction. Either Commit or Abort must be called
// exactly once; Abort after Commit is a no-op.
type Tx interface {
	Add(ctx context.Context, q Quad) error
	Delete(ctx context.Context, q Quad) error

	// Find returns quads matching the pattern including uncommitted
	// changes of this transaction.
	Find(ctx context.Context, pattern Quad) ([]Quad, error)

	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}
