package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/api/dto"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateDominionTurn handles POST /api/v1/dominion-turns
// Creates a PENDING job and the DominionTurn work item that references it
func (h *DominionTurnHandler) CreateDominionTurn(c *gin.Context) {
	var req dto.CreateDominionTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}

	job, err := domain.NewDominionTurnJob(uuid.New().String(), req.GovernmentName, scheduledAt, req.TotalScenarios)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	payload, err := domain.DominionTurnPayload{JobID: job.ID}.Encode()
	if err != nil {
		h.logger.Error("Failed to encode payload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create dominion turn",
		})
		return
	}

	item, err := domain.NewWorkItem(uuid.New().String(), domain.WorkTypeDominionTurn, payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create dominion turn",
		})
		return
	}

	if err := h.dominionTurns.CreateWithWorkItem(c.Request.Context(), job, item); err != nil {
		h.logger.Error("Failed to create dominion turn", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create dominion turn",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateDominionTurnResponse{
		Job:        dto.NewDominionTurnDTO(job),
		WorkItemID: item.ID,
	})
}

// GetDominionTurn handles GET /api/v1/dominion-turns/:id
func (h *DominionTurnHandler) GetDominionTurn(c *gin.Context) {
	id := c.Param("id")

	job, err := h.dominionTurns.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrDominionTurnJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Dominion turn not found",
			})
			return
		}
		h.logger.Error("Failed to get dominion turn",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get dominion turn",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewDominionTurnDTO(job))
}
