package domain

import (
	"time"
)

// WorkItem is a generic, type-tagged unit of deferred work
type WorkItem struct {
	ID           string     `db:"id"`
	WorkType     string     `db:"work_type"`
	Payload      string     `db:"payload"` // opaque, owned by the handler
	Status       Status     `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	RetryCount   int        `db:"retry_count"`
	ErrorMessage *string    `db:"error_message"`
}

// NewWorkItem creates a PENDING work item
func NewWorkItem(id, workType, payload string) (*WorkItem, error) {
	if id == "" || workType == "" {
		return nil, ErrInvalidArgument
	}

	return &WorkItem{
		ID:        id,
		WorkType:  workType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Start moves the item from PENDING to PROCESSING and stamps StartedAt
func (w *WorkItem) Start() error {
	if w.Status != StatusPending {
		return transitionError(w.Status, StatusProcessing)
	}

	now := time.Now().UTC()
	w.Status = StatusProcessing
	w.StartedAt = &now
	return nil
}

// Complete moves the item from PROCESSING to COMPLETED and stamps CompletedAt
func (w *WorkItem) Complete() error {
	if w.Status != StatusProcessing {
		return transitionError(w.Status, StatusCompleted)
	}

	now := time.Now().UTC()
	w.Status = StatusCompleted
	w.CompletedAt = &now
	return nil
}

// Fail moves the item from PROCESSING to FAILED, records the message and
// counts the failed attempt in RetryCount
func (w *WorkItem) Fail(message string) error {
	if w.Status != StatusProcessing {
		return transitionError(w.Status, StatusFailed)
	}

	now := time.Now().UTC()
	w.Status = StatusFailed
	w.CompletedAt = &now
	w.ErrorMessage = &message
	w.RetryCount++
	return nil
}

// Duration returns how long the item spent processing, zero until it is terminal
func (w *WorkItem) Duration() time.Duration {
	if w.StartedAt == nil || w.CompletedAt == nil {
		return 0
	}
	return w.CompletedAt.Sub(*w.StartedAt)
}

// ErrorText returns the recorded error message or an empty string
func (w *WorkItem) ErrorText() string {
	if w.ErrorMessage == nil {
		return ""
	}
	return *w.ErrorMessage
}
