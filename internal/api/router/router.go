package router

import (
	"github.com/cuongbtq/dominion-sim/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options toggles the optional routes
type Options struct {
	MetricsEnabled bool
	MetricsPath    string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := SetupOpsRouter(deps, opts)

	r.Use(CORSMiddleware())

	workItemHandler := handler.NewWorkItemHandler(deps)
	dominionTurnHandler := handler.NewDominionTurnHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		workItems := v1.Group("/work-items")
		{
			workItems.POST("", workItemHandler.CreateWorkItem)
			workItems.GET("", workItemHandler.ListWorkItems)
			workItems.GET("/stats", workItemHandler.Stats)
			workItems.GET("/:id", workItemHandler.GetWorkItem)
		}

		dominionTurns := v1.Group("/dominion-turns")
		{
			dominionTurns.POST("", dominionTurnHandler.CreateDominionTurn)
			dominionTurns.GET("/:id", dominionTurnHandler.GetDominionTurn)
		}
	}

	return r
}

// SetupOpsRouter returns a router serving only /health and metrics; the
// simulation worker exposes it next to its loop
func SetupOpsRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/health", handler.Health(deps))

	if opts.MetricsEnabled {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	return r
}
