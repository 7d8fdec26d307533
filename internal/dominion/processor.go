// Package dominion drives dominion turn jobs: N ordered scenarios executed
// for one government, with the job record persisted after every step.
package dominion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/events"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const failureRecordTimeout = 10 * time.Second

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dominion_sim_dominion_turns_total",
		Help: "Dominion turn jobs that reached a terminal status, by status",
	}, []string{"status"})

	scenariosProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dominion_sim_dominion_scenarios_processed_total",
		Help: "Scenarios executed across all dominion turn jobs",
	})
)

// JobStore persists dominion turn jobs
type JobStore interface {
	GetByID(ctx context.Context, id string) (*domain.DominionTurnJob, error)
	Save(ctx context.Context, job *domain.DominionTurnJob) error
}

// Config holds processor configuration
type Config struct {
	Logger    *slog.Logger
	Store     JobStore
	Publisher events.Publisher
	Runner    ScenarioRunner
}

// Processor executes dominion turn jobs. Unlike the worker loop it does not
// swallow failures: the job is recorded as FAILED and the original error is
// returned so the caller can decide on retries.
type Processor struct {
	logger    *slog.Logger
	store     JobStore
	publisher events.Publisher
	runner    ScenarioRunner
}

// NewProcessor creates a new processor instance
func NewProcessor(cfg *Config) *Processor {
	return &Processor{
		logger:    cfg.Logger,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		runner:    cfg.Runner,
	}
}

// Process runs every scenario of a PENDING job in order and records the outcome.
// Every failure after Start, including the first Save, publishes
// DominionTurnFailed, so a consumer can see Failed without a preceding
// Started when that Save is what failed.
func (p *Processor) Process(ctx context.Context, job *domain.DominionTurnJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", domain.ErrInvalidArgument)
	}

	// A job that cannot start was never ours to run; leave its record alone.
	if err := job.Start(); err != nil {
		return err
	}

	p.logger.Info("Processing dominion turn",
		slog.String("job_id", job.ID),
		slog.String("government", job.GovernmentName),
		slog.Int("total_scenarios", job.TotalScenarios),
	)

	if err := p.execute(ctx, job); err != nil {
		return p.recordFailure(ctx, job, err)
	}

	turnsTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
	p.logger.Info("Dominion turn completed",
		slog.String("job_id", job.ID),
		slog.Int("scenarios_processed", job.ScenariosProcessed),
	)

	// The job is already persisted as COMPLETED; a terminal outcome is never
	// rewritten, so a publish error is only reported.
	if err := p.publisher.Publish(ctx, events.DominionTurnCompleted{
		JobID:              job.ID,
		ScenariosProcessed: job.ScenariosProcessed,
	}, events.SeverityInfo); err != nil {
		p.logger.Error("Failed to publish dominion turn completion",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// execute persists the start, runs the scenarios and persists completion
func (p *Processor) execute(ctx context.Context, job *domain.DominionTurnJob) error {
	if err := p.store.Save(ctx, job); err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, events.DominionTurnStarted{
		JobID:          job.ID,
		GovernmentName: job.GovernmentName,
	}, events.SeverityInfo); err != nil {
		return err
	}

	for index := job.ScenariosProcessed; index < job.TotalScenarios; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.runner.Execute(ctx, job, index); err != nil {
			p.logger.Warn("Scenario failed",
				slog.String("job_id", job.ID),
				slog.Int("scenario", index),
				slog.String("error", err.Error()),
			)
			return err
		}

		if err := job.AdvanceScenario(); err != nil {
			return err
		}
		if err := p.store.Save(ctx, job); err != nil {
			return err
		}
		scenariosProcessed.Inc()
	}

	completed := *job
	if err := completed.Complete(); err != nil {
		return err
	}
	if err := p.store.Save(ctx, &completed); err != nil {
		return err
	}
	*job = completed

	return nil
}

// recordFailure marks the job FAILED, persists and announces it, then
// returns cause unchanged. Errors while recording are logged only.
func (p *Processor) recordFailure(ctx context.Context, job *domain.DominionTurnJob, cause error) error {
	p.logger.Error("Dominion turn failed",
		slog.String("job_id", job.ID),
		slog.Int("scenarios_processed", job.ScenariosProcessed),
		slog.Int("total_scenarios", job.TotalScenarios),
		slog.String("error", cause.Error()),
	)

	if err := job.Fail(cause.Error()); err != nil {
		p.logger.Error("Cannot mark dominion turn as FAILED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return cause
	}
	turnsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	if err := p.store.Save(recordCtx, job); err != nil {
		p.logger.Error("Failed to update dominion turn status to FAILED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := p.publisher.Publish(recordCtx, events.DominionTurnFailed{
		JobID:        job.ID,
		ErrorMessage: job.ErrorText(),
	}, events.SeverityError); err != nil {
		p.logger.Error("Failed to publish dominion turn failure",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return cause
}
