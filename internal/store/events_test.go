package store

import (
	"context"
	"testing"
	"time"
)

func TestInsertAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.InsertEvents(ctx, []Event{
		{Action: "document.uploaded", DocumentID: "doc-1", Actor: "admin", CreatedAt: base, Detail: map[string]any{"tables": float64(3)}},
		{Action: "document.activated", DocumentID: "doc-1", Actor: "admin", CreatedAt: base.Add(time.Second)},
		{Action: "document.uploaded", DocumentID: "doc-2", CreatedAt: base.Add(2 * time.Second)},
	})
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	all, err := s.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].DocumentID != "doc-2" || all[2].Action != "document.uploaded" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[0].ID == "" || all[0].Actor != "" {
		t.Fatalf("unexpected defaults %+v", all[0])
	}
	if !all[2].CreatedAt.Equal(base) {
		t.Fatalf("expected %v, got %v", base, all[2].CreatedAt)
	}
	if all[2].Detail["tables"] != float64(3) {
		t.Fatalf("expected detail to round trip, got %v", all[2].Detail)
	}

	uploads, err := s.ListEvents(ctx, EventFilter{Action: "document.uploaded", DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(uploads) != 1 || uploads[0].DocumentID != "doc-1" {
		t.Fatalf("expected one filtered event, got %+v", uploads)
	}

	limited, err := s.ListEvents(ctx, EventFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 events, got %d", len(limited))
	}

	if err := s.InsertEvents(ctx, nil); err != nil {
		t.Fatalf("expected empty insert to be a no-op, got %v", err)
	}
}

func TestDeleteEventsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := s.InsertEvents(ctx, []Event{
		{Action: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{Action: "new", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	n, err := s.DeleteEventsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteEventsBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	left, _ := s.ListEvents(ctx, EventFilter{})
	if len(left) != 1 || left[0].Action != "new" {
		t.Fatalf("expected only the new event, got %+v", left)
	}
}
