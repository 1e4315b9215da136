// Package http exposes stored AMM index runs over a JSON API.
package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"go.ngs.io/amm-index/internal/usecase"
)

// SetupRouter creates and configures the Gin router. An empty origins list
// allows all origins.
func SetupRouter(queryUC *usecase.QueryUseCase, origins []string, clock clockwork.Clock, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger, clock))

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	handler := NewHandler(queryUC, clock, logger)

	// API v1 routes.
	v1 := router.Group("/v1")
	runs := v1.Group("/runs")
	runs.GET("", handler.ListRuns)
	runs.GET("/:id", handler.GetRun)

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestLogger logs one line per request.
func requestLogger(logger logrus.FieldLogger, clock clockwork.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := clock.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": clock.Since(start),
		}).Info("request")
	}
}
