package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// Migrations holds the schema for work_items and dominion_turn_jobs
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files
const MigrationsDir = "migrations"

const workItemColumns = `id, work_type, payload, status, created_at, started_at, completed_at, retry_count, error_message`

// WorkItemStorage handles all database operations on work items
type WorkItemStorage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewWorkItemStorage creates a new WorkItemStorage instance
func NewWorkItemStorage(db *sqlx.DB, logger *slog.Logger) *WorkItemStorage {
	return &WorkItemStorage{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new work item
func (s *WorkItemStorage) Create(ctx context.Context, item *domain.WorkItem) error {
	query := `
		INSERT INTO work_items (` + workItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		item.ID,
		item.WorkType,
		item.Payload,
		item.Status,
		item.CreatedAt,
		item.StartedAt,
		item.CompletedAt,
		item.RetryCount,
		item.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}

	return nil
}

// GetByID retrieves a work item by its ID
func (s *WorkItemStorage) GetByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = $1`

	var item domain.WorkItem
	if err := s.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWorkItemNotFound
		}
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}

	return &item, nil
}

// Pending returns the oldest PENDING work item, ties broken by ID.
// Returns domain.ErrNoPendingWorkItem when the queue is empty.
func (s *WorkItemStorage) Pending(ctx context.Context) (*domain.WorkItem, error) {
	query := `
		SELECT ` + workItemColumns + `
		FROM work_items
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	var item domain.WorkItem
	if err := s.db.GetContext(ctx, &item, query, domain.StatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoPendingWorkItem
		}
		return nil, fmt.Errorf("failed to get pending work item: %w", err)
	}

	return &item, nil
}

// Claim persists a started item using optimistic locking: the row is only
// updated while it is still PENDING, so concurrent claimers cannot both win.
// The item must already be in PROCESSING state (see domain.WorkItem.Start).
func (s *WorkItemStorage) Claim(ctx context.Context, item *domain.WorkItem) error {
	if item.Status != domain.StatusProcessing || item.StartedAt == nil {
		return fmt.Errorf("%w: claim requires a started work item", domain.ErrInvalidArgument)
	}

	query := `
		UPDATE work_items
		SET status = $1,
		    started_at = $2
		WHERE id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, item.Status, item.StartedAt, item.ID, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to claim work item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Failed to claim work item - already claimed or not found",
			slog.String("work_item_id", item.ID),
		)
		return domain.ErrWorkItemAlreadyClaimed
	}

	s.logger.Debug("Work item claimed",
		slog.String("work_item_id", item.ID),
		slog.String("work_type", item.WorkType),
	)

	return nil
}

// Save persists the full current state of a work item in a single statement
func (s *WorkItemStorage) Save(ctx context.Context, item *domain.WorkItem) error {
	query := `
		UPDATE work_items
		SET status = $1,
		    started_at = $2,
		    completed_at = $3,
		    retry_count = $4,
		    error_message = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		item.Status,
		item.StartedAt,
		item.CompletedAt,
		item.RetryCount,
		item.ErrorMessage,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save work item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrWorkItemNotFound
	}

	s.logger.Debug("Work item saved",
		slog.String("work_item_id", item.ID),
		slog.String("status", item.Status.String()),
	)

	return nil
}

// CountByStatus returns the number of work items per status
func (s *WorkItemStorage) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM work_items GROUP BY status`

	var rows []struct {
		Status domain.Status `db:"status"`
		Count  int           `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count work items: %w", err)
	}

	counts := make(map[domain.Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// WorkItemFilter narrows List; empty fields match everything
type WorkItemFilter struct {
	WorkType string
	Status   domain.Status
	PageSize int
	Cursor   *WorkItemCursor
}

// WorkItemCursor marks the last row of the previous page
type WorkItemCursor struct {
	CreatedAt time.Time
	ID        string
}

// List returns work items newest first. It fetches PageSize+1 rows so the
// caller can tell whether another page exists.
func (s *WorkItemStorage) List(ctx context.Context, filter WorkItemFilter) ([]domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.WorkType != "" {
		query += fmt.Sprintf(" AND work_type = $%d", argIdx)
		args = append(args, filter.WorkType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var items []domain.WorkItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}

	return items, nil
}
