package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DominionTurnJob is a multi-step job that executes TotalScenarios ordered
// scenarios for one government. It is tracked independently of WorkItem.
type DominionTurnJob struct {
	ID                 string     `db:"id"`
	GovernmentName     string     `db:"government_name"`
	ScheduledAt        time.Time  `db:"scheduled_at"`
	TotalScenarios     int        `db:"total_scenarios"`
	ScenariosProcessed int        `db:"scenarios_processed"`
	Status             Status     `db:"status"`
	StartedAt          *time.Time `db:"started_at"`
	CompletedAt        *time.Time `db:"completed_at"`
	ErrorMessage       *string    `db:"error_message"`
}

// NewDominionTurnJob creates a PENDING job
func NewDominionTurnJob(id, governmentName string, scheduledAt time.Time, totalScenarios int) (*DominionTurnJob, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidArgument)
	}
	if governmentName == "" {
		return nil, fmt.Errorf("%w: government name is required", ErrInvalidArgument)
	}
	if totalScenarios <= 0 {
		return nil, fmt.Errorf("%w: total scenarios must be greater than 0", ErrInvalidArgument)
	}

	return &DominionTurnJob{
		ID:             id,
		GovernmentName: governmentName,
		ScheduledAt:    scheduledAt.UTC(),
		TotalScenarios: totalScenarios,
		Status:         StatusPending,
	}, nil
}

// IsComplete holds iff every scenario has been processed
func (j *DominionTurnJob) IsComplete() bool {
	return j.ScenariosProcessed == j.TotalScenarios
}

// Start moves the job from PENDING to PROCESSING and stamps StartedAt
func (j *DominionTurnJob) Start() error {
	if j.Status != StatusPending {
		return transitionError(j.Status, StatusProcessing)
	}

	now := time.Now().UTC()
	j.Status = StatusProcessing
	j.StartedAt = &now
	return nil
}

// AdvanceScenario records one more processed scenario
func (j *DominionTurnJob) AdvanceScenario() error {
	if j.Status != StatusProcessing {
		return transitionError(j.Status, StatusProcessing)
	}
	if j.ScenariosProcessed >= j.TotalScenarios {
		return fmt.Errorf("%w: all %d scenarios already processed", ErrInvalidTransition, j.TotalScenarios)
	}

	j.ScenariosProcessed++
	return nil
}

// Complete moves the job to COMPLETED; every scenario must have been processed
func (j *DominionTurnJob) Complete() error {
	if j.Status != StatusProcessing {
		return transitionError(j.Status, StatusCompleted)
	}
	if !j.IsComplete() {
		return fmt.Errorf("%w: %d of %d", ErrScenariosIncomplete, j.ScenariosProcessed, j.TotalScenarios)
	}

	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	return nil
}

// Fail moves a non-terminal job to FAILED, keeping partial progress
func (j *DominionTurnJob) Fail(message string) error {
	if j.Status.IsTerminal() {
		return transitionError(j.Status, StatusFailed)
	}

	now := time.Now().UTC()
	j.Status = StatusFailed
	j.CompletedAt = &now
	j.ErrorMessage = &message
	return nil
}

// ErrorText returns the recorded error message or an empty string
func (j *DominionTurnJob) ErrorText() string {
	if j.ErrorMessage == nil {
		return ""
	}
	return *j.ErrorMessage
}

// DominionTurnPayload is the work item payload referencing a dominion turn job
type DominionTurnPayload struct {
	JobID string `json:"job_id"`
}

// ParseDominionTurnPayload decodes a DominionTurn work item payload
func ParseDominionTurnPayload(payload string) (*DominionTurnPayload, error) {
	var p DominionTurnPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.JobID == "" {
		return nil, fmt.Errorf("%w: job_id is required", ErrInvalidPayload)
	}
	return &p, nil
}

// Encode serializes the payload for storage on a work item
func (p DominionTurnPayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dominion turn payload: %w", err)
	}
	return string(data), nil
}
