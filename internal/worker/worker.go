package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/events"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
)

// Default loop timings
const (
	DefaultPollInterval       = 5 * time.Second
	DefaultCircuitBreakerWait = 30 * time.Second

	// lifecycle events and outcome writes run detached from the loop context
	// so they still go out during shutdown
	detachedTimeout = 10 * time.Second
)

// WorkItemStore is the persistence used by the worker loop
type WorkItemStore interface {
	Pending(ctx context.Context) (*domain.WorkItem, error)
	Claim(ctx context.Context, item *domain.WorkItem) error
	Save(ctx context.Context, item *domain.WorkItem) error
}

// Breaker gates processing after repeated failures
type Breaker interface {
	IsAvailable() bool
	RecordSuccess()
	RecordFailure()
}

// Config holds worker configuration
type Config struct {
	Logger             *slog.Logger
	Store              WorkItemStore
	Breaker            Breaker
	Publisher          events.Publisher
	Registry           *Registry
	Environment        string
	PollInterval       time.Duration
	CircuitBreakerWait time.Duration
	HandlerTimeout     time.Duration // zero means no per-item deadline
}

// Worker is the simulation worker: a single loop that claims the oldest
// pending work item, dispatches it to the registered handler and records
// the outcome. Failures never escape the loop.
type Worker struct {
	logger             *slog.Logger
	store              WorkItemStore
	breaker            Breaker
	publisher          events.Publisher
	registry           *Registry
	environment        string
	pollInterval       time.Duration
	circuitBreakerWait time.Duration
	handlerTimeout     time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	circuitBreakerWait := cfg.CircuitBreakerWait
	if circuitBreakerWait <= 0 {
		circuitBreakerWait = DefaultCircuitBreakerWait
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Worker{
		logger:             cfg.Logger,
		store:              cfg.Store,
		breaker:            cfg.Breaker,
		publisher:          cfg.Publisher,
		registry:           registry,
		environment:        cfg.Environment,
		pollInterval:       pollInterval,
		circuitBreakerWait: circuitBreakerWait,
		handlerTimeout:     cfg.HandlerTimeout,
	}
}

// Start runs the loop until ctx is canceled or Stop is called. It returns nil
// on cancellation; processing errors are logged, never returned. Once Stop has
// been called, Start returns immediately without running the loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.logger.Info("Worker already stopped, not starting")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	defer w.wg.Done()
	defer cancel()

	w.logger.Info("Starting simulation worker",
		slog.String("environment", w.environment),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("circuit_breaker_wait", w.circuitBreakerWait),
		slog.Any("work_types", w.registry.WorkTypes()),
	)
	w.publishDetached(ctx, events.ServiceStarted{Environment: w.environment}, events.SeverityInfo)

	for ctx.Err() == nil {
		wait := w.tick(ctx)
		if !sleep(ctx, wait) {
			break
		}
	}

	w.logger.Info("Worker context canceled, stopping...")
	w.publishDetached(ctx, events.ServiceStopping{Reason: "cancellation requested"}, events.SeverityInfo)

	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish. A Start
// that has not begun yet will not run.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")

	w.mu.Lock()
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// tick performs one loop iteration and returns how long to sleep before the next
func (w *Worker) tick(ctx context.Context) time.Duration {
	if !w.breaker.IsAvailable() {
		w.logger.Debug("Circuit breaker open, skipping claim",
			slog.Duration("wait", w.circuitBreakerWait),
		)
		ticksTotal.WithLabelValues(tickBreakerOpen).Inc()
		return w.circuitBreakerWait
	}

	item, err := w.store.Pending(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingWorkItem) {
			ticksTotal.WithLabelValues(tickIdle).Inc()
			return w.pollInterval
		}
		w.logger.Error("Failed to fetch pending work item",
			slog.String("error", err.Error()),
		)
		ticksTotal.WithLabelValues(tickStoreError).Inc()
		return w.pollInterval
	}

	if err := item.Start(); err != nil {
		w.logger.Warn("Pending work item cannot be started",
			slog.String("work_item_id", item.ID),
			slog.String("error", err.Error()),
		)
		ticksTotal.WithLabelValues(tickStoreError).Inc()
		return w.pollInterval
	}

	if err := w.store.Claim(ctx, item); err != nil {
		if errors.Is(err, domain.ErrWorkItemAlreadyClaimed) {
			w.logger.Info("Work item already claimed, skipping",
				slog.String("work_item_id", item.ID),
			)
			ticksTotal.WithLabelValues(tickClaimLost).Inc()
			return w.pollInterval
		}
		w.logger.Error("Failed to claim work item",
			slog.String("work_item_id", item.ID),
			slog.String("error", err.Error()),
		)
		ticksTotal.WithLabelValues(tickStoreError).Inc()
		return w.pollInterval
	}

	w.processItem(ctx, item)
	ticksTotal.WithLabelValues(tickProcessed).Inc()

	return w.pollInterval
}

// publishDetached publishes a lifecycle event, logging instead of failing
func (w *Worker) publishDetached(ctx context.Context, event events.Event, severity events.Severity) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	if err := w.publisher.Publish(pubCtx, event, severity); err != nil {
		eventPublishFailures.WithLabelValues(string(event.Kind())).Inc()
		w.logger.Error("Failed to publish event",
			slog.String("kind", string(event.Kind())),
			slog.String("error", err.Error()),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
