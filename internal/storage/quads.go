package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tsunagu/internal/rdf"
)

const quadSchema = `
CREATE TABLE IF NOT EXISTS quads (
	graph           TEXT NOT NULL,
	subject         TEXT NOT NULL,
	predicate       TEXT NOT NULL,
	object_kind     SMALLINT NOT NULL,
	object          TEXT NOT NULL,
	object_datatype TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (graph, subject, predicate, object_kind, object, object_datatype)
);
CREATE INDEX IF NOT EXISTS quads_graph_idx ON quads (graph);
CREATE INDEX IF NOT EXISTS quads_subject_idx ON quads (subject);
`

// QuadStore is the Postgres-backed quad store. It satisfies the same
// single-writer transaction contract as the in-memory store: Begin
// serializes writers, readers outside a transaction see committed state.
type QuadStore struct {
	db           *DB
	defaultGraph rdf.Term

	writeMu sync.Mutex
}

// NewQuadStore creates the quad store and ensures its schema exists.
func NewQuadStore(ctx context.Context, db *DB, defaultGraph string) (*QuadStore, error) {
	if _, err := db.pool.Exec(ctx, quadSchema); err != nil {
		return nil, fmt.Errorf("storage: ensure quad schema: %w", err)
	}
	return &QuadStore{db: db, defaultGraph: rdf.IRI(defaultGraph)}, nil
}

// DefaultGraph returns the graph synchronized dataspace facts are scoped into.
func (s *QuadStore) DefaultGraph() rdf.Term {
	return s.defaultGraph
}

// Begin opens a write transaction. Writers are serialized; the lock is
// released on Commit or Abort.
func (s *QuadStore) Begin(ctx context.Context) (rdf.Tx, error) {
	s.writeMu.Lock()
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("storage: begin quad tx: %w", err)
	}
	return &quadTx{store: s, tx: tx}, nil
}

// Find returns all committed quads matching the pattern. Reads race
// the synchronizer's rewrite transactions, so transient conflicts are
// retried.
func (s *QuadStore) Find(ctx context.Context, pattern rdf.Quad) ([]rdf.Quad, error) {
	query, args := buildFindQuery(pattern)
	var out []rdf.Quad
	err := WithRetry(ctx, findRetries, findBaseDelay, func() error {
		rows, err := s.db.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = scanQuads(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: find quads: %w", err)
	}
	return out, nil
}

type quadTx struct {
	store *QuadStore
	tx    pgx.Tx
	done  bool
}

func (t *quadTx) Add(ctx context.Context, q rdf.Quad) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO quads (graph, subject, predicate, object_kind, object, object_datatype)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT DO NOTHING`,
		q.Graph.Value, q.Subject.Value, q.Predicate.Value,
		int16(q.Object.Kind), q.Object.Value, q.Object.Datatype)
	if err != nil {
		return fmt.Errorf("storage: add quad: %w", err)
	}
	return nil
}

func (t *quadTx) Delete(ctx context.Context, q rdf.Quad) error {
	query, args := buildDeleteQuery(q)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: delete quads: %w", err)
	}
	return nil
}

func (t *quadTx) Find(ctx context.Context, pattern rdf.Quad) ([]rdf.Quad, error) {
	query, args := buildFindQuery(pattern)
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: find quads in tx: %w", err)
	}
	return scanQuads(rows)
}

func (t *quadTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.writeMu.Unlock()
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit quad tx: %w", err)
	}
	return nil
}

func (t *quadTx) Abort(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.writeMu.Unlock()
	if err := t.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("storage: abort quad tx: %w", err)
	}
	return nil
}

// buildFindQuery builds a SELECT whose WHERE clause pins every
// non-wildcard component of the pattern.
func buildFindQuery(pattern rdf.Quad) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if !pattern.Graph.IsAny() {
		add("graph", pattern.Graph.Value)
	}
	if !pattern.Subject.IsAny() {
		add("subject", pattern.Subject.Value)
	}
	if !pattern.Predicate.IsAny() {
		add("predicate", pattern.Predicate.Value)
	}
	if !pattern.Object.IsAny() {
		add("object_kind", int16(pattern.Object.Kind))
		add("object", pattern.Object.Value)
		if pattern.Object.Datatype != "" {
			add("object_datatype", pattern.Object.Datatype)
		}
	}

	query := `SELECT graph, subject, predicate, object_kind, object, object_datatype FROM quads`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query, args
}

func buildDeleteQuery(pattern rdf.Quad) (string, []any) {
	findQuery, args := buildFindQuery(pattern)
	_, where, found := strings.Cut(findQuery, " WHERE ")
	if !found {
		return `DELETE FROM quads`, nil
	}
	return `DELETE FROM quads WHERE ` + where, args
}

func scanQuads(rows pgx.Rows) ([]rdf.Quad, error) {
	defer rows.Close()

	var out []rdf.Quad
	for rows.Next() {
		var (
			graph, subject, predicate string
			objectKind                int16
			object, objectDatatype    string
		)
		if err := rows.Scan(&graph, &subject, &predicate, &objectKind, &object, &objectDatatype); err != nil {
			return nil, fmt.Errorf("storage: scan quad: %w", err)
		}
		out = append(out, rdf.Quad{
			Graph:     rdf.IRI(graph),
			Subject:   rdf.IRI(subject),
			Predicate: rdf.IRI(predicate),
			Object:    rdf.Term{Kind: rdf.TermKind(objectKind), Value: object, Datatype: objectDatatype},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate quads: %w", err)
	}
	return out, nil
}
