package dominion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
)

// ScenarioRunner executes the effect of one scenario of a job. Index runs
// from 0 to TotalScenarios-1 and is never skipped or reordered.
type ScenarioRunner interface {
	Execute(ctx context.Context, job *domain.DominionTurnJob, index int) error
}

// ScenarioRunnerFunc adapts a function to ScenarioRunner
type ScenarioRunnerFunc func(ctx context.Context, job *domain.DominionTurnJob, index int) error

// Execute calls f(ctx, job, index)
func (f ScenarioRunnerFunc) Execute(ctx context.Context, job *domain.DominionTurnJob, index int) error {
	return f(ctx, job, index)
}

// LoggingScenarioRunner only records each scenario; the simulation rules
// plug in behind ScenarioRunner
func LoggingScenarioRunner(logger *slog.Logger) ScenarioRunner {
	return ScenarioRunnerFunc(func(ctx context.Context, job *domain.DominionTurnJob, index int) error {
		logger.DebugContext(ctx, "Executing scenario",
			slog.String("job_id", job.ID),
			slog.String("government", job.GovernmentName),
			slog.Int("scenario", index),
		)
		return nil
	})
}

// HandleWorkItem is the worker handler for DominionTurn work items: it
// decodes the payload, loads the referenced job and processes it. If only the
// DominionTurnCompleted publish fails, the job stays COMPLETED but the error
// is returned, so the worker records the work item FAILED.
func (p *Processor) HandleWorkItem(ctx context.Context, payload string) error {
	msg, err := domain.ParseDominionTurnPayload(payload)
	if err != nil {
		return err
	}

	job, err := p.store.GetByID(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load dominion turn job: %w", err)
	}

	return p.Process(ctx, job)
}
