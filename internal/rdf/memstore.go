package rdf

import (
	"context"
	"errors"
	"sync"
)

// MemStore is an in-memory transactional quad store. It is the default
// backing store when no database is configured and the store used
// throughout the test suite. Safe for concurrent use; writers are
// serialized through the transaction lock.
type MemStore struct {
	mu           sync.RWMutex // guards quads for readers
	writeMu      sync.Mutex   // serializes write transactions
	quads        map[Quad]struct{}
	defaultGraph Term
}

// NewMemStore creates an empty in-memory store with the given default
// graph name.
func NewMemStore(defaultGraph string) *MemStore {
	return &MemStore{
		quads:        make(map[Quad]struct{}),
		defaultGraph: IRI(defaultGraph),
	}
}

// DefaultGraph returns the graph synchronized dataspace facts live in.
func (s *MemStore) DefaultGraph() Term {
	return s.defaultGraph
}

// Find returns all committed quads matching the pattern.
func (s *MemStore) Find(ctx context.Context, pattern Quad) ([]Quad, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Quad
	for q := range s.quads {
		if q.Matches(pattern) {
			result = append(result, q)
		}
	}
	return result, nil
}

// Len returns the number of committed quads.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quads)
}

// Begin opens a write transaction, blocking until any previous writer
// finished.
func (s *MemStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	return &memTx{store: s, staged: make(map[Quad]bool)}, nil
}

// memTx stages changes in an overlay map: true = added, false = deleted.
// Commit applies the overlay under the read lock; Abort drops it.
type memTx struct {
	store  *MemStore
	staged map[Quad]bool
	done   bool
}

var errTxDone = errors.New("rdf: transaction already finished")

func (tx *memTx) Add(ctx context.Context, q Quad) error {
	if tx.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.staged[q] = true
	return nil
}

func (tx *memTx) Delete(ctx context.Context, q Quad) error {
	if tx.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.staged[q] = false
	return nil
}

func (tx *memTx) Find(ctx context.Context, pattern Quad) ([]Quad, error) {
	if tx.done {
		return nil, errTxDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	var result []Quad
	for q := range tx.store.quads {
		if added, staged := tx.staged[q]; staged && !added {
			continue // deleted in this transaction
		}
		if q.Matches(pattern) {
			result = append(result, q)
		}
	}
	for q, added := range tx.staged {
		if !added {
			continue
		}
		if _, exists := tx.store.quads[q]; exists {
			continue
		}
		if q.Matches(pattern) {
			result = append(result, q)
		}
	}
	return result, nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return errTxDone
	}
	tx.store.mu.Lock()
	for q, added := range tx.staged {
		if added {
			tx.store.quads[q] = struct{}{}
		} else {
			delete(tx.store.quads, q)
		}
	}
	tx.store.mu.Unlock()
	tx.finish()
	return nil
}

func (tx *memTx) Abort(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *memTx) finish() {
	tx.done = true
	tx.staged = nil
	tx.store.writeMu.Unlock()
}
