// Package completion periodically moves Confirmed bookings whose window has ended
// to Completed.
package completion

import (
	"context"
	"log/slog"
	"time"
)

// Completer is satisfied by booking.Service.
type Completer interface {
	CompleteElapsed(ctx context.Context, limit int) (int, error)
}

type Worker struct {
	completer Completer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewWorker(completer Completer, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Worker{
		completer: completer,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("completion sweep failed", "err", err)
			}
		}
	}
}

// Sweep completes due bookings in batches until a batch comes back short.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	var total int
	for {
		n, err := w.completer.CompleteElapsed(ctx, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize || ctx.Err() != nil {
			return total, nil
		}
	}
}
