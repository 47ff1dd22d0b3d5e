package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"permission-explorer/internal/store"
)

// Actions recorded by the document admin API.
const (
	DocumentUploaded  = "document.uploaded"
	DocumentActivated = "document.activated"
	DocumentDeleted   = "document.deleted"
)

// Recorder accepts activity events. Record must not block on I/O.
type Recorder interface {
	Record(e store.Event)
}

// Sink persists a batch of events. *store.Store implements it.
type Sink interface {
	InsertEvents(ctx context.Context, events []store.Event) error
}

// Buffer collects events in memory and periodically flushes them to a Sink
// in one batch insert.
type Buffer struct {
	mu      sync.Mutex
	events  []store.Event
	stopped bool
	sink    Sink
	maxSize int
	logger  *zap.Logger

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBuffer creates a buffer that flushes every interval or when it holds
// maxSize events.
func NewBuffer(sink Sink, maxSize int, interval time.Duration, logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	b := &Buffer{
		sink:    sink,
		maxSize: maxSize,
		logger:  logger,
		ticker:  time.NewTicker(interval),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Buffer) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.ticker.C:
			b.Flush(context.Background())
		}
	}
}

// Record stamps and enqueues e. A full buffer triggers an asynchronous flush.
// Events recorded after Stop are dropped.
func (b *Buffer) Record(e store.Event) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.logger.Debug("activity event dropped after stop", zap.String("action", e.Action))
		return
	}
	b.events = append(b.events, e)
	if len(b.events) >= b.maxSize {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.Flush(context.Background())
		}()
	}
	b.mu.Unlock()
}

// Len returns the number of events waiting to be flushed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flush writes all buffered events. A failed batch is logged and dropped.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	if err := b.sink.InsertEvents(ctx, batch); err != nil {
		b.logger.Error("activity flush failed", zap.Int("events", len(batch)), zap.Error(err))
	}
}

// Stop halts the background ticker, waits for in-flight flushes and flushes
// remaining events. The sink is not used after Stop returns.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.ticker.Stop()
		close(b.done)
		b.wg.Wait()
		b.Flush(context.Background())
	})
}
