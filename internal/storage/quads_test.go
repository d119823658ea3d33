package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsunagu/internal/rdf"
	"github.com/ashita-ai/tsunagu/internal/storage"
	"github.com/ashita-ai/tsunagu/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func newQuadStore(t *testing.T) *storage.QuadStore {
	t.Helper()
	store, err := storage.NewQuadStore(context.Background(), testDB, "urn:x-arq:DefaultGraph")
	require.NoError(t, err)

	// Each test starts from an empty table.
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Delete(context.Background(), rdf.Quad{}))
	require.NoError(t, tx.Commit(context.Background()))
	return store
}

func quad(graph, subject, predicate string, object rdf.Term) rdf.Quad {
	return rdf.Quad{
		Graph:     rdf.IRI(graph),
		Subject:   rdf.IRI(subject),
		Predicate: rdf.IRI(predicate),
		Object:    object,
	}
}

func TestQuadStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newQuadStore(t)

	q := quad("urn:g1", "urn:s1", "urn:p1", rdf.Literal("v1"))
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, q))
	require.NoError(t, tx.Commit(ctx))

	found, err := store.Find(ctx, rdf.Quad{Subject: rdf.IRI("urn:s1")})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, q, found[0])
}

func TestQuadStoreAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newQuadStore(t)

	q := quad("urn:g1", "urn:s1", "urn:p1", rdf.IRI("urn:o1"))
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, q))
	require.NoError(t, tx.Add(ctx, q))
	require.NoError(t, tx.Commit(ctx))

	found, err := store.Find(ctx, rdf.Quad{})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestQuadStoreFindMatchesWildcards(t *testing.T) {
	ctx := context.Background()
	store := newQuadStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, quad("urn:g1", "urn:s1", "urn:p1", rdf.Literal("v1"))))
	require.NoError(t, tx.Add(ctx, quad("urn:g2", "urn:s1", "urn:p2", rdf.TypedLiteral("true", "http://www.w3.org/2001/XMLSchema#boolean"))))
	require.NoError(t, tx.Add(ctx, quad("urn:g2", "urn:s2", "urn:p1", rdf.IRI("urn:o1"))))
	require.NoError(t, tx.Commit(ctx))

	bySubject, err := store.Find(ctx, rdf.Quad{Subject: rdf.IRI("urn:s1")})
	require.NoError(t, err)
	assert.Len(t, bySubject, 2)

	byGraph, err := store.Find(ctx, rdf.Quad{Graph: rdf.IRI("urn:g2")})
	require.NoError(t, err)
	assert.Len(t, byGraph, 2)

	typed, err := store.Find(ctx, rdf.Quad{Object: rdf.TypedLiteral("true", "http://www.w3.org/2001/XMLSchema#boolean")})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, "http://www.w3.org/2001/XMLSchema#boolean", typed[0].Object.Datatype)
}

func TestQuadStoreDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	store := newQuadStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, quad("urn:g1", "urn:s1", "urn:p1", rdf.Literal("v1"))))
	require.NoError(t, tx.Add(ctx, quad("urn:g1", "urn:s2", "urn:p1", rdf.Literal("v2"))))
	require.NoError(t, tx.Add(ctx, quad("urn:g2", "urn:s3", "urn:p1", rdf.Literal("v3"))))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, rdf.Quad{Graph: rdf.IRI("urn:g1")}))
	require.NoError(t, tx.Commit(ctx))

	remaining, err := store.Find(ctx, rdf.Quad{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, rdf.IRI("urn:g2"), remaining[0].Graph)
}

func TestQuadStoreAbortDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	store := newQuadStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, quad("urn:g1", "urn:s1", "urn:p1", rdf.Literal("v1"))))

	// the transaction sees its own uncommitted write
	inside, err := tx.Find(ctx, rdf.Quad{})
	require.NoError(t, err)
	assert.Len(t, inside, 1)

	require.NoError(t, tx.Abort(ctx))

	outside, err := store.Find(ctx, rdf.Quad{})
	require.NoError(t, err)
	assert.Empty(t, outside)
}

func TestQuadStoreSerializesWriters(t *testing.T) {
	ctx := context.Background()
	store := newQuadStore(t)

	first, err := store.Begin(ctx)
	require.NoError(t, err)

	started := make(chan struct{})
	committed := make(chan error, 1)
	go func() {
		close(started)
		second, err := store.Begin(ctx)
		if err != nil {
			committed <- err
			return
		}
		if err := second.Add(ctx, quad("urn:g1", "urn:s2", "urn:p1", rdf.Literal("second"))); err != nil {
			committed <- err
			return
		}
		committed <- second.Commit(ctx)
	}()

	<-started
	require.NoError(t, first.Add(ctx, quad("urn:g1", "urn:s1", "urn:p1", rdf.Literal("first"))))
	require.NoError(t, first.Commit(ctx))

	require.NoError(t, <-committed)
	found, err := store.Find(ctx, rdf.Quad{Graph: rdf.IRI("urn:g1")})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}
