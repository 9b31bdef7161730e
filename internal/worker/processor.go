package worker

import (
	"context"
	"log/slog"
)

// processBatch claims up to batchSize entries for workerID and delivers
// them. It returns the number of entries claimed. A failed delivery leaves
// the entries claimed; they are released by the reaper once stale.
func (w *Worker) processBatch(ctx context.Context, workerID string) (int, error) {
	entries, err := w.queue.ClaimBatch(ctx, workerID, w.batchSize)
	if err != nil {
		w.logger.Error("Failed to claim batch",
			slog.String("claimed_by", workerID),
			slog.Any("error", err),
		)
		return 0, err
	}

	if len(entries) == 0 {
		return 0, nil
	}

	w.logger.Debug("Batch claimed",
		slog.String("claimed_by", workerID),
		slog.Int("entries", len(entries)),
	)

	deliverCtx := ctx
	if w.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(ctx, w.deliveryTimeout)
		defer cancel()
	}

	result, err := w.queue.Deliver(deliverCtx, entries)
	if err != nil {
		w.logger.Error("Batch delivery failed",
			slog.String("claimed_by", workerID),
			slog.Int("entries", len(entries)),
			slog.Any("error", err),
		)
		return len(entries), err
	}

	w.logger.Info("Batch processed",
		slog.String("claimed_by", workerID),
		slog.Int("delivered", result.Delivered),
		slog.Int("discarded", result.Discarded),
	)

	return len(entries), nil
}
