package rdf

import (
	"context"
	"testing"
)

func TestMemStoreAddFindDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("urn:x-arq:DefaultGraph")

	q := Quad{
		Graph:     s.DefaultGraph(),
		Subject:   IRI("urn:test:a"),
		Predicate: IRI("urn:test:p"),
		Object:    Literal("v"),
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := tx.Add(ctx, q); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	got, err := s.Find(ctx, Quad{Subject: IRI("urn:test:a")})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(got) != 1 || got[0] != q {
		t.Fatalf("expected the inserted quad, got %v", got)
	}

	tx, err = s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := tx.Delete(ctx, q); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store after delete, got %d quads", s.Len())
	}
}

func TestMemStoreAbortDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("urn:x-arq:DefaultGraph")

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	q := Quad{Graph: s.DefaultGraph(), Subject: IRI("urn:test:a"), Predicate: IRI("urn:test:p"), Object: Literal("v")}
	if err := tx.Add(ctx, q); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := tx.Abort(ctx); err != nil {
		t.Fatalf("Abort error: %v", err)
	}

	if s.Len() != 0 {
		t.Fatalf("expected empty store after abort, got %d quads", s.Len())
	}
}

func TestMemTxFindSeesStagedChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("urn:x-arq:DefaultGraph")

	committed := Quad{Graph: s.DefaultGraph(), Subject: IRI("urn:test:a"), Predicate: IRI("urn:test:p"), Object: Literal("old")}
	tx, _ := s.Begin(ctx)
	_ = tx.Add(ctx, committed)
	_ = tx.Commit(ctx)

	tx, _ = s.Begin(ctx)
	defer tx.Abort(ctx)

	staged := Quad{Graph: s.DefaultGraph(), Subject: IRI("urn:test:a"), Predicate: IRI("urn:test:p"), Object: Literal("new")}
	_ = tx.Add(ctx, staged)
	_ = tx.Delete(ctx, committed)

	got, err := tx.Find(ctx, Quad{Subject: IRI("urn:test:a")})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(got) != 1 || got[0] != staged {
		t.Fatalf("expected only the staged quad, got %v", got)
	}
}
