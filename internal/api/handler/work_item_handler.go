package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/dominion-sim/internal/api/dto"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/cuongbtq/dominion-sim/internal/worker/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateWorkItem handles POST /api/v1/work-items
// Enqueues a PENDING work item for the simulation worker
func (h *WorkItemHandler) CreateWorkItem(c *gin.Context) {
	var req dto.CreateWorkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	item, err := domain.NewWorkItem(uuid.New().String(), req.WorkType, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.workItems.Create(c.Request.Context(), item); err != nil {
		h.logger.Error("Failed to create work item", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create work item",
		})
		return
	}

	h.logger.Info("Work item enqueued",
		slog.String("work_item_id", item.ID),
		slog.String("work_type", item.WorkType),
	)

	c.JSON(http.StatusCreated, dto.NewWorkItemDTO(item))
}

// GetWorkItem handles GET /api/v1/work-items/:id
func (h *WorkItemHandler) GetWorkItem(c *gin.Context) {
	id := c.Param("id")

	item, err := h.workItems.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrWorkItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Work item not found",
			})
			return
		}
		h.logger.Error("Failed to get work item",
			slog.String("work_item_id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get work item",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewWorkItemDTO(item))
}

// ListWorkItems handles GET /api/v1/work-items
// Lists work items newest first with optional filtering and cursor pagination
func (h *WorkItemHandler) ListWorkItems(c *gin.Context) {
	var req dto.ListWorkItemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	status := domain.Status(req.Status)
	if status != "" && !isKnownStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	cursor, err := DecodeWorkItemCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	items, err := h.workItems.List(c.Request.Context(), storage.WorkItemFilter{
		WorkType: req.WorkType,
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list work items", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list work items",
		})
		return
	}

	hasMore := len(items) > req.PageSize
	if hasMore {
		items = items[:req.PageSize]
	}

	response := dto.ListWorkItemsResponse{
		WorkItems: make([]dto.WorkItemDTO, len(items)),
	}
	for i := range items {
		response.WorkItems[i] = dto.NewWorkItemDTO(&items[i])
	}

	if hasMore {
		last := items[len(items)-1]
		response.NextCursor = EncodeWorkItemCursor(&storage.WorkItemCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, response)
}

// Stats handles GET /api/v1/work-items/stats
func (h *WorkItemHandler) Stats(c *gin.Context) {
	counts, err := h.workItems.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count work items", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count work items",
		})
		return
	}

	response := dto.WorkItemStatsResponse{Counts: make(map[string]int)}
	for _, s := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		response.Counts[s.String()] = counts[s]
		response.Total += counts[s]
	}

	c.JSON(http.StatusOK, response)
}

func isKnownStatus(s domain.Status) bool {
	switch s {
	case domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed:
		return true
	}
	return false
}
