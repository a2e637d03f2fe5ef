// Package api implements the v1 HTTP interface: screenshot uploads, the
// suggestion SSE stream and the analysis-result callback.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mindtrack/mindtrack-go/internal/conf"
	"github.com/mindtrack/mindtrack-go/internal/datastore"
	"github.com/mindtrack/mindtrack-go/internal/dedupcache"
	"github.com/mindtrack/mindtrack-go/internal/errors"
	"github.com/mindtrack/mindtrack-go/internal/observability/metrics"
	"github.com/mindtrack/mindtrack-go/internal/sampling"
	"github.com/mindtrack/mindtrack-go/internal/suggestionhub"
)

// Controller handles all v1 API endpoints.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	store   datastore.Interface
	decider *sampling.Decider
	cache   *dedupcache.Cache
	hub     *suggestionhub.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates the controller and registers its routes on the echo instance.
func New(e *echo.Echo, settings *conf.Settings, store datastore.Interface,
	decider *sampling.Decider, cache *dedupcache.Cache, hub *suggestionhub.Hub,
	m *metrics.Metrics, logger *slog.Logger) *Controller {

	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		Echo:     e,
		Settings: settings,
		store:    store,
		decider:  decider,
		cache:    cache,
		hub:      hub,
		metrics:  m,
		logger:   logger,
	}
	c.Group = e.Group("/api/v1")
	c.registerRoutes()
	return c
}

func (c *Controller) registerRoutes() {
	c.Group.GET("/health", c.Health)

	auth := c.Group.Group("", c.AuthMiddleware)
	auth.POST("/screenshots", c.UploadScreenshot)
	auth.GET("/suggestions/stream", c.StreamSuggestions)
	auth.GET("/suggestions/latest", c.LatestSuggestion)
	auth.POST("/analysis/result", c.SubmitAnalysisResult)

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// Health reports liveness.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// httpStatusFor maps an error to a response status by its category.
func httpStatusFor(err error) int {
	var enhanced *errors.EnhancedError
	if !errors.As(err, &enhanced) {
		return http.StatusInternalServerError
	}
	switch enhanced.Category {
	case errors.CategoryValidation, errors.CategoryImageProcessing:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// fail logs the error and writes a JSON error response.
func (c *Controller) fail(ctx echo.Context, err error, msg string) error {
	status := httpStatusFor(err)
	if status >= http.StatusInternalServerError {
		c.logger.Error(msg, "error", err, "path", ctx.Path())
	} else {
		c.logger.Debug(msg, "error", err, "path", ctx.Path())
	}
	return ctx.JSON(status, map[string]string{"error": msg})
}
