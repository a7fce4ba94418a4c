package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cartie/cartie/internal/healthcheck"
)

// HealthHandler reports whether storage dependencies answer.
type HealthHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{logger: log.With(slog.String("handler", "health")), checkers: checkers}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c echo.Context) error {
	results, healthy := healthcheck.Run(c.Request().Context(), h.checkers...)
	status := http.StatusOK
	overall := healthcheck.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = healthcheck.StatusError
		h.logger.Warn("health check failed", slog.Any("checks", results))
	}
	return c.JSON(status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
