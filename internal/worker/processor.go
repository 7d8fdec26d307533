package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dominion-sim/internal/events"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
)

// processItem runs the handler for a claimed item and records the outcome.
// Nothing here returns an error: the outcome lives on the item, the breaker
// and the published events.
func (w *Worker) processItem(ctx context.Context, item *domain.WorkItem) {
	w.logger.Info("Processing work item",
		slog.String("work_item_id", item.ID),
		slog.String("work_type", item.WorkType),
	)

	err := w.executeItem(ctx, item)

	// Outcome writes must survive loop cancellation.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	if err == nil {
		err = w.recordCompletion(recordCtx, item)
		if err == nil {
			return
		}
	}

	w.recordFailure(recordCtx, item, err)
}

// executeItem looks up the handler and invokes it, converting a panic into an error
func (w *Worker) executeItem(ctx context.Context, item *domain.WorkItem) (err error) {
	handler, err := w.registry.Get(item.WorkType)
	if err != nil {
		return err
	}

	if w.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewHandlerPanicError(r)
		}
	}()

	return handler(ctx, item.Payload)
}

// recordCompletion persists COMPLETED, publishes WorkItemCompleted and closes
// the breaker. A persistence error is returned so the caller records a
// failure instead; the in-memory item stays PROCESSING in that case.
func (w *Worker) recordCompletion(ctx context.Context, item *domain.WorkItem) error {
	completed := *item
	if err := completed.Complete(); err != nil {
		return err
	}

	if err := w.store.Save(ctx, &completed); err != nil {
		w.logger.Error("Failed to update work item status to COMPLETED",
			slog.String("work_item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to record completion: %w", err)
	}
	*item = completed

	duration := item.Duration()
	workItemsProcessed.WithLabelValues(item.WorkType, string(domain.StatusCompleted)).Inc()
	workItemDuration.WithLabelValues(item.WorkType).Observe(duration.Seconds())

	w.logger.Info("Work item completed successfully",
		slog.String("work_item_id", item.ID),
		slog.String("work_type", item.WorkType),
		slog.Duration("duration", duration),
	)

	w.publishDetached(ctx, events.WorkItemCompleted{
		ID:       item.ID,
		WorkType: item.WorkType,
		Duration: duration,
	}, events.SeverityInfo)

	w.breaker.RecordSuccess()
	return nil
}

// recordFailure persists FAILED, publishes WorkItemFailed and counts the
// failure on the breaker. A persistence error aborts the tick after logging.
func (w *Worker) recordFailure(ctx context.Context, item *domain.WorkItem, cause error) {
	w.logger.Error("Work item execution failed",
		slog.String("work_item_id", item.ID),
		slog.String("work_type", item.WorkType),
		slog.String("error", cause.Error()),
	)

	defer w.breaker.RecordFailure()

	if err := item.Fail(cause.Error()); err != nil {
		w.logger.Error("Cannot mark work item as FAILED",
			slog.String("work_item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := w.store.Save(ctx, item); err != nil {
		w.logger.Error("Failed to update work item status to FAILED",
			slog.String("work_item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	workItemsProcessed.WithLabelValues(item.WorkType, string(domain.StatusFailed)).Inc()
	workItemDuration.WithLabelValues(item.WorkType).Observe(item.Duration().Seconds())

	w.publishDetached(ctx, events.WorkItemFailed{
		ID:           item.ID,
		WorkType:     item.WorkType,
		ErrorMessage: item.ErrorText(),
		RetryCount:   item.RetryCount,
	}, events.SeverityError)
}
