package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"permission-explorer/internal/store"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]store.Event
	err     error
}

func (m *memorySink) InsertEvents(_ context.Context, events []store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, events)
	return nil
}

func (m *memorySink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestBufferFlushesOnStop(t *testing.T) {
	sink := &memorySink{}
	b := NewBuffer(sink, 10, time.Hour, zap.NewNop())

	b.Record(store.Event{Action: DocumentUploaded, DocumentID: "a"})
	b.Record(store.Event{Action: DocumentActivated, DocumentID: "a"})
	if b.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", b.Len())
	}

	b.Stop()
	b.Stop()

	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %v", sink.batches)
	}
	if sink.batches[0][0].CreatedAt.IsZero() {
		t.Fatal("expected Record to stamp created_at")
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}
}

func TestBufferFlushesWhenFull(t *testing.T) {
	sink := &memorySink{}
	b := NewBuffer(sink, 2, time.Hour, zap.NewNop())
	defer b.Stop()

	b.Record(store.Event{Action: DocumentUploaded})
	b.Record(store.Event{Action: DocumentUploaded})

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected a flush once the buffer filled, got %d events", sink.total())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBufferFlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	b := NewBuffer(sink, 100, 10*time.Millisecond, zap.NewNop())
	defer b.Stop()

	b.Record(store.Event{Action: DocumentDeleted})

	deadline := time.Now().Add(2 * time.Second)
	for sink.total() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("expected the ticker to flush")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBufferDropsEventsAfterStop(t *testing.T) {
	sink := &memorySink{}
	b := NewBuffer(sink, 1, time.Hour, zap.NewNop())
	b.Record(store.Event{Action: DocumentUploaded})
	b.Stop()
	if sink.total() != 1 {
		t.Fatalf("expected 1 event flushed before stop, got %d", sink.total())
	}

	b.Record(store.Event{Action: DocumentDeleted})
	b.Record(store.Event{Action: DocumentDeleted})
	if b.Len() != 0 {
		t.Fatalf("expected events after stop to be dropped, got %d buffered", b.Len())
	}
	time.Sleep(20 * time.Millisecond)
	if sink.total() != 1 {
		t.Fatalf("expected no writes after stop, got %d events", sink.total())
	}
}

func TestBufferDropsFailedBatch(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	b := NewBuffer(sink, 10, time.Hour, zap.NewNop())

	b.Record(store.Event{Action: DocumentUploaded})
	b.Flush(context.Background())
	if b.Len() != 0 {
		t.Fatalf("expected failed batch to be dropped, got %d", b.Len())
	}
	b.Stop()
}

type fakePruner struct {
	cutoff time.Time
	calls  int
}

func (f *fakePruner) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	f.calls++
	return 1, nil
}

func TestPrune(t *testing.T) {
	p := &fakePruner{}
	Prune(context.Background(), p, 0, nil)
	if p.calls != 0 {
		t.Fatal("expected zero retention to keep everything")
	}

	Prune(context.Background(), p, 7, zap.NewNop())
	if p.calls != 1 {
		t.Fatalf("expected 1 call, got %d", p.calls)
	}
	want := time.Now().UTC().AddDate(0, 0, -7)
	if d := want.Sub(p.cutoff); d < 0 || d > time.Minute {
		t.Fatalf("expected cutoff near %v, got %v", want, p.cutoff)
	}
}

func TestPruneEveryStopsWithContext(t *testing.T) {
	p := &fakePruner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		PruneEvery(ctx, p, 1, time.Hour, zap.NewNop())
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected PruneEvery to return after cancel")
	}
}
