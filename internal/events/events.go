// Package events defines the lifecycle notifications emitted by the
// simulation worker and job processors, and the sinks that publish them.
package events

import (
	"time"
)

// Severity classifies an event for downstream consumers
type Severity string

// Severity levels
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Kind tags an event; it doubles as the suffix of the AMQP routing key
type Kind string

// Event kinds
const (
	KindServiceStarted        Kind = "service.started"
	KindServiceStopping       Kind = "service.stopping"
	KindWorkItemCompleted     Kind = "work_item.completed"
	KindWorkItemFailed        Kind = "work_item.failed"
	KindDominionTurnStarted   Kind = "dominion_turn.started"
	KindDominionTurnCompleted Kind = "dominion_turn.completed"
	KindDominionTurnFailed    Kind = "dominion_turn.failed"
)

// Event is a small record carrying identifiers and summary fields only
type Event interface {
	Kind() Kind
}

// ServiceStarted is published when the worker loop starts
type ServiceStarted struct {
	Environment string `json:"environment"`
}

// ServiceStopping is published when the worker loop exits on cancellation
type ServiceStopping struct {
	Reason string `json:"reason"`
}

// WorkItemCompleted is published after a work item is persisted as COMPLETED
type WorkItemCompleted struct {
	ID       string        `json:"id"`
	WorkType string        `json:"workType"`
	Duration time.Duration `json:"duration"`
}

// WorkItemFailed is published after a work item is persisted as FAILED
type WorkItemFailed struct {
	ID           string `json:"id"`
	WorkType     string `json:"workType"`
	ErrorMessage string `json:"errorMessage"`
	RetryCount   int    `json:"retryCount"`
}

// DominionTurnStarted is published once a job has entered PROCESSING
type DominionTurnStarted struct {
	JobID          string `json:"jobId"`
	GovernmentName string `json:"governmentName"`
}

// DominionTurnCompleted is published after every scenario of a job ran
type DominionTurnCompleted struct {
	JobID              string `json:"jobId"`
	ScenariosProcessed int    `json:"scenariosProcessed"`
}

// DominionTurnFailed is published after a job is persisted as FAILED
type DominionTurnFailed struct {
	JobID        string `json:"jobId"`
	ErrorMessage string `json:"errorMessage"`
}

func (ServiceStarted) Kind() Kind        { return KindServiceStarted }
func (ServiceStopping) Kind() Kind       { return KindServiceStopping }
func (WorkItemCompleted) Kind() Kind     { return KindWorkItemCompleted }
func (WorkItemFailed) Kind() Kind        { return KindWorkItemFailed }
func (DominionTurnStarted) Kind() Kind   { return KindDominionTurnStarted }
func (DominionTurnCompleted) Kind() Kind { return KindDominionTurnCompleted }
func (DominionTurnFailed) Kind() Kind    { return KindDominionTurnFailed }
