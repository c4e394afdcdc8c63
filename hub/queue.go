package hub

import (
	"context"
	"errors"
	"time"

	"bloodlink-push/connectors"
	"bloodlink-push/store"
)

// StartQueueProcessor retries queued deliveries every QueueInterval until ctx
// is cancelled. The returned channel is closed once the processor exits.
func (h *Hub) StartQueueProcessor(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(h.opts.QueueInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.logger.Info("queue processor stopped")
				return
			case <-ticker.C:
				h.processQueue(ctx)
			}
		}
	}()
	h.logger.Infow("queue processor started", "interval", h.opts.QueueInterval)
	return done
}

// processQueue makes one attempt for each pending item.
func (h *Hub) processQueue(ctx context.Context) {
	pending, err := h.store.GetPendingDeliveries(ctx, h.opts.QueueBatch)
	if err != nil {
		h.logger.Errorw("failed to load pending deliveries", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	h.logger.Debugw("processing queue", "count", len(pending))
	for _, item := range pending {
		if ctx.Err() != nil {
			return
		}
		h.retry(ctx, item)
	}
}

func (h *Hub) retry(ctx context.Context, item store.QueueItem) {
	rec := item.Record()
	err := h.send(ctx, rec, item.Payload)

	var status, outcome string
	switch {
	case err == nil:
		status, outcome = store.StatusDelivered, "delivered"
	case connectors.IsPermanent(err):
		// Deleting the subscription drops its queue items, this one included.
		if perr := h.prune(ctx, rec); perr != nil {
			h.logger.Errorw("failed to prune subscription", "subscription", rec.ID, "error", perr)
		}
		h.metrics.retries.WithLabelValues("dropped").Inc()
		return
	case connectors.IsRetryable(err) && item.Attempts < h.opts.MaxAttempts:
		status, outcome = store.StatusPending, "retry"
	default:
		status, outcome = store.StatusFailed, "failed"
	}
	h.metrics.retries.WithLabelValues(outcome).Inc()

	if err := h.store.UpdateDelivery(ctx, item.ID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Errorw("failed to update delivery", "queue_id", item.ID, "error", err)
		return
	}

	switch status {
	case store.StatusDelivered:
		if err := h.store.RecordSent(ctx, 1); err != nil {
			h.logger.Warnw("failed to record sent count", "error", err)
		}
		h.logger.Infow("queued delivery succeeded", "queue_id", item.ID, "attempts", item.Attempts+1)
	case store.StatusFailed:
		h.logger.Warnw("queued delivery abandoned", "queue_id", item.ID, "attempts", item.Attempts+1, "error", err)
	}
}
