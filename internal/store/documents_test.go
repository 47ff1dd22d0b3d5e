package store

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"permission-explorer/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return s
}

func TestSaveDocumentDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.SaveDocument(ctx, "a.json", "hash-1", []byte(`{"sources":[]}`))
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if !created {
		t.Fatal("expected new document")
	}
	if first.ID == "" || first.Name != "a.json" || string(first.Body) != `{"sources":[]}` {
		t.Fatalf("unexpected document %+v", first)
	}
	if first.Active {
		t.Fatal("expected new document to be inactive")
	}
	if first.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	again, created, err := s.SaveDocument(ctx, "renamed.json", "hash-1", []byte(`{"sources":[]}`))
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if created {
		t.Fatal("expected existing document to be returned")
	}
	if again.ID != first.ID || again.Name != "a.json" {
		t.Fatalf("expected original document, got %+v", again)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Body != nil {
		t.Fatal("expected list without bodies")
	}
}

func TestActivateDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ActiveDocument(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	a, _, err := s.SaveDocument(ctx, "a.json", "hash-a", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	b, _, err := s.SaveDocument(ctx, "b.json", "hash-b", []byte(`{"b":1}`))
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	if err := s.ActivateDocument(ctx, a.ID); err != nil {
		t.Fatalf("ActivateDocument: %v", err)
	}
	if err := s.ActivateDocument(ctx, b.ID); err != nil {
		t.Fatalf("ActivateDocument: %v", err)
	}

	active, err := s.ActiveDocument(ctx)
	if err != nil {
		t.Fatalf("ActiveDocument: %v", err)
	}
	if active.ID != b.ID || !active.Active || string(active.Body) != `{"b":1}` {
		t.Fatalf("expected b to be active, got %+v", active)
	}

	got, err := s.GetDocument(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Active {
		t.Fatal("expected a to be deactivated")
	}

	if err := s.ActivateDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// A failed activation leaves the previous one in place.
	if active, err := s.ActiveDocument(ctx); err != nil || active.ID != b.ID {
		t.Fatalf("expected b to stay active, got %v %v", active, err)
	}
}

func TestLatestAndDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestDocument(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc, _, err := s.SaveDocument(ctx, "a.json", "hash-a", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	latest, err := s.LatestDocument(ctx)
	if err != nil {
		t.Fatalf("LatestDocument: %v", err)
	}
	if latest.ID != doc.ID {
		t.Fatalf("expected %s, got %s", doc.ID, latest.ID)
	}

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestNewDialect(t *testing.T) {
	if NewDialect("postgres").Name() != "postgres" {
		t.Fatal("expected postgres dialect")
	}
	if NewDialect("").Name() != "sqlite" {
		t.Fatal("expected sqlite as default dialect")
	}

	pb := NewDialect("postgres").NewParamBuilder()
	if pb.Add(1) != "$1" || pb.Add(2) != "$2" || pb.Count() != 2 {
		t.Fatal("unexpected postgres placeholders")
	}
	pb = NewDialect("sqlite").NewParamBuilder()
	if pb.Add(1) != "?1" || len(pb.Params()) != 1 {
		t.Fatal("unexpected sqlite placeholders")
	}

	err := NewDialect("sqlite").MapError(errors.New("constraint failed: UNIQUE constraint failed: _documents.hash"))
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}
