package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

const dominionTurnColumns = `id, government_name, scheduled_at, total_scenarios, scenarios_processed, status, started_at, completed_at, error_message`

// DominionTurnStorage handles database operations on dominion turn jobs
type DominionTurnStorage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewDominionTurnStorage creates a new DominionTurnStorage instance
func NewDominionTurnStorage(db *sqlx.DB, logger *slog.Logger) *DominionTurnStorage {
	return &DominionTurnStorage{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new dominion turn job
func (s *DominionTurnStorage) Create(ctx context.Context, job *domain.DominionTurnJob) error {
	if err := insertDominionTurn(ctx, s.db, job); err != nil {
		return fmt.Errorf("failed to create dominion turn job: %w", err)
	}
	return nil
}

// CreateWithWorkItem inserts a job together with the work item that
// references it, in one transaction
func (s *DominionTurnStorage) CreateWithWorkItem(ctx context.Context, job *domain.DominionTurnJob, item *domain.WorkItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertDominionTurn(ctx, tx, job); err != nil {
		return fmt.Errorf("failed to create dominion turn job: %w", err)
	}

	query := `
		INSERT INTO work_items (` + workItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(ctx, query,
		item.ID,
		item.WorkType,
		item.Payload,
		item.Status,
		item.CreatedAt,
		item.StartedAt,
		item.CompletedAt,
		item.RetryCount,
		item.ErrorMessage,
	); err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Dominion turn enqueued",
		slog.String("job_id", job.ID),
		slog.String("work_item_id", item.ID),
		slog.String("government_name", job.GovernmentName),
	)

	return nil
}

func insertDominionTurn(ctx context.Context, exec sqlx.ExecerContext, job *domain.DominionTurnJob) error {
	query := `
		INSERT INTO dominion_turn_jobs (` + dominionTurnColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := exec.ExecContext(ctx, query,
		job.ID,
		job.GovernmentName,
		job.ScheduledAt,
		job.TotalScenarios,
		job.ScenariosProcessed,
		job.Status,
		job.StartedAt,
		job.CompletedAt,
		job.ErrorMessage,
	)
	return err
}

// GetByID retrieves a dominion turn job by its ID
func (s *DominionTurnStorage) GetByID(ctx context.Context, id string) (*domain.DominionTurnJob, error) {
	query := `SELECT ` + dominionTurnColumns + ` FROM dominion_turn_jobs WHERE id = $1`

	var job domain.DominionTurnJob
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDominionTurnJobNotFound
		}
		return nil, fmt.Errorf("failed to get dominion turn job: %w", err)
	}

	return &job, nil
}

// Save persists the full current state of a job in a single statement
func (s *DominionTurnStorage) Save(ctx context.Context, job *domain.DominionTurnJob) error {
	query := `
		UPDATE dominion_turn_jobs
		SET scenarios_processed = $1,
		    status = $2,
		    started_at = $3,
		    completed_at = $4,
		    error_message = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		job.ScenariosProcessed,
		job.Status,
		job.StartedAt,
		job.CompletedAt,
		job.ErrorMessage,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save dominion turn job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDominionTurnJobNotFound
	}

	s.logger.Debug("Dominion turn job saved",
		slog.String("job_id", job.ID),
		slog.String("status", job.Status.String()),
		slog.Int("scenarios_processed", job.ScenariosProcessed),
	)

	return nil
}
