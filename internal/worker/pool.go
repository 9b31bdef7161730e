package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// spawnWorkerPool spawns one polling goroutine per configured slot
func (w *Worker) spawnWorkerPool(ctx context.Context, g *errgroup.Group) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		workerNum := i
		g.Go(func() error {
			w.workerLoop(ctx, workerNum)
			return nil
		})
	}
}

// workerLoop reaps stale claims of the worker id, drains the queue and then
// sleeps until the next tick or wakeup.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	logger := w.logger.With(slog.String("worker_name", w.goroutineName(workerNum)))

	logger.Info("Worker goroutine started", slog.Int("worker_num", workerNum))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.runCycle(ctx, w.workerID)

		select {
		case <-w.stopChan:
			logger.Info("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			logger.Info("Worker goroutine stopping - context canceled")
			return

		case <-ticker.C:

		case <-w.wakeChans[workerNum]:
			logger.Debug("Worker goroutine woken up")
		}
	}
}

// runCycle reaps workerID and then claims batches until the queue runs
// dry, a batch fails or the worker is stopped.
func (w *Worker) runCycle(ctx context.Context, workerID string) {
	if _, err := w.queue.Reap(ctx, workerID, w.staleThreshold); err != nil {
		w.logger.Error("Failed to reap stale claims",
			slog.String("claimed_by", workerID),
			slog.Any("error", err),
		)
	}

	for {
		if w.stopping(ctx) {
			return
		}

		claimed, err := w.processBatch(ctx, workerID)
		if err != nil || claimed < w.batchSize {
			return
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
