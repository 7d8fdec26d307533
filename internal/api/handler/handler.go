package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/cuongbtq/dominion-sim/internal/worker/storage"
	"github.com/gin-gonic/gin"
)

// WorkItemStore is the work item persistence used by the API
type WorkItemStore interface {
	Create(ctx context.Context, item *domain.WorkItem) error
	GetByID(ctx context.Context, id string) (*domain.WorkItem, error)
	List(ctx context.Context, filter storage.WorkItemFilter) ([]domain.WorkItem, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// DominionTurnStore is the dominion turn persistence used by the API
type DominionTurnStore interface {
	CreateWithWorkItem(ctx context.Context, job *domain.DominionTurnJob, item *domain.WorkItem) error
	GetByID(ctx context.Context, id string) (*domain.DominionTurnJob, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	ServiceName   string
	Health        HealthChecker
	WorkItems     WorkItemStore
	DominionTurns DominionTurnStore
}

// WorkItemHandler handles work item HTTP requests
type WorkItemHandler struct {
	logger    *slog.Logger
	workItems WorkItemStore
}

// NewWorkItemHandler creates a new WorkItemHandler instance
func NewWorkItemHandler(deps *Dependencies) *WorkItemHandler {
	return &WorkItemHandler{
		logger:    deps.Logger,
		workItems: deps.WorkItems,
	}
}

// DominionTurnHandler handles dominion turn HTTP requests
type DominionTurnHandler struct {
	logger        *slog.Logger
	dominionTurns DominionTurnStore
}

// NewDominionTurnHandler creates a new DominionTurnHandler instance
func NewDominionTurnHandler(deps *Dependencies) *DominionTurnHandler {
	return &DominionTurnHandler{
		logger:        deps.Logger,
		dominionTurns: deps.DominionTurns,
	}
}

// Health returns GET /health; it reports 503 when the health checker fails
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()

			if err := deps.Health.HealthCheck(ctx); err != nil {
				deps.Logger.Warn("Health check failed", slog.String("error", err.Error()))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": deps.ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		})
	}
}
