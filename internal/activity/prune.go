package activity

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes events older than a cutoff. *store.Store implements it.
type Pruner interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Prune deletes events older than retentionDays. Zero or negative retention
// keeps everything.
func Prune(ctx context.Context, p Pruner, retentionDays int, logger *zap.Logger) {
	if retentionDays <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := p.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		logger.Error("activity cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("activity cleanup", zap.Int64("deleted", n))
	}
}

// PruneEvery runs Prune immediately and then once per interval until ctx is
// done.
func PruneEvery(ctx context.Context, p Pruner, retentionDays int, interval time.Duration, logger *zap.Logger) {
	Prune(ctx, p, retentionDays, logger)
	if retentionDays <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Prune(ctx, p, retentionDays, logger)
		}
	}
}
