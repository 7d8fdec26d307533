package domain

// Status is the lifecycle state shared by work items and dominion turn jobs
type Status string

// Status constants
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the persisted representation of the status
func (s Status) String() string {
	return string(s)
}

// Work type tags understood by the simulation worker
const (
	WorkTypeDominionTurn  = "DominionTurn"
	WorkTypeCivicStats    = "CivicStats"
	WorkTypePersonaAction = "PersonaAction"
	WorkTypeMarketPricing = "MarketPricing"
)
