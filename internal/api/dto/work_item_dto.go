package dto

import (
	"time"

	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
)

type CreateWorkItemRequest struct {
	WorkType string `json:"work_type" binding:"required"`
	Payload  string `json:"payload"`
}

type ListWorkItemsRequest struct {
	WorkType string `form:"work_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListWorkItemsResponse struct {
	WorkItems  []WorkItemDTO `json:"work_items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type WorkItemDTO struct {
	ID           string  `json:"id"`
	WorkType     string  `json:"work_type"`
	Payload      string  `json:"payload"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	StartedAt    *string `json:"started_at,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	RetryCount   int     `json:"retry_count"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

type WorkItemStatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type CreateDominionTurnRequest struct {
	GovernmentName string     `json:"government_name" binding:"required"`
	TotalScenarios int        `json:"total_scenarios" binding:"required,min=1"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
}

type CreateDominionTurnResponse struct {
	Job        DominionTurnDTO `json:"job"`
	WorkItemID string          `json:"work_item_id"`
}

type DominionTurnDTO struct {
	ID                 string  `json:"id"`
	GovernmentName     string  `json:"government_name"`
	ScheduledAt        string  `json:"scheduled_at"`
	TotalScenarios     int     `json:"total_scenarios"`
	ScenariosProcessed int     `json:"scenarios_processed"`
	Status             string  `json:"status"`
	StartedAt          *string `json:"started_at,omitempty"`
	CompletedAt        *string `json:"completed_at,omitempty"`
	ErrorMessage       *string `json:"error_message,omitempty"`
}

// NewWorkItemDTO converts a work item for the API
func NewWorkItemDTO(item *domain.WorkItem) WorkItemDTO {
	return WorkItemDTO{
		ID:           item.ID,
		WorkType:     item.WorkType,
		Payload:      item.Payload,
		Status:       item.Status.String(),
		CreatedAt:    item.CreatedAt.Format(time.RFC3339),
		StartedAt:    formatTime(item.StartedAt),
		CompletedAt:  formatTime(item.CompletedAt),
		RetryCount:   item.RetryCount,
		ErrorMessage: item.ErrorMessage,
	}
}

// NewDominionTurnDTO converts a dominion turn job for the API
func NewDominionTurnDTO(job *domain.DominionTurnJob) DominionTurnDTO {
	return DominionTurnDTO{
		ID:                 job.ID,
		GovernmentName:     job.GovernmentName,
		ScheduledAt:        job.ScheduledAt.Format(time.RFC3339),
		TotalScenarios:     job.TotalScenarios,
		ScenariosProcessed: job.ScenariosProcessed,
		Status:             job.Status.String(),
		StartedAt:          formatTime(job.StartedAt),
		CompletedAt:        formatTime(job.CompletedAt),
		ErrorMessage:       job.ErrorMessage,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
