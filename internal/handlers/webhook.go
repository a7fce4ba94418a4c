package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/telegram"
)

const (
	webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB
	secretHeader              = "X-Telegram-Bot-Api-Secret-Token"
)

// TenantResolver authenticates a webhook call for one bot.
type TenantResolver interface {
	Resolve(ctx context.Context, botID, presented string) (bots.Bot, error)
}

// UpdateRunner processes one update. It never fails: errors are logged
// inside.
type UpdateRunner interface {
	Run(ctx context.Context, st pipeline.State)
}

// WebhookHandler receives Telegram Bot API updates for tenant bots.
type WebhookHandler struct {
	logger   *slog.Logger
	tenants  TenantResolver
	pipeline UpdateRunner
	spawn    func(func())
	now      func() time.Time
}

func NewWebhookHandler(log *slog.Logger, tenants TenantResolver, runner UpdateRunner) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:   log.With(slog.String("handler", "telegram_webhook")),
		tenants:  tenants,
		pipeline: runner,
		spawn:    func(fn func()) { go fn() },
		now:      time.Now,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/:botId", h.Handle)
}

// Handle validates the bot and its secret, answers at once and processes
// the update in the background.
func (h *WebhookHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	botID := strings.TrimSpace(c.Param("botId"))
	bot, err := h.tenants.Resolve(ctx, botID, c.Request().Header.Get(secretHeader))
	switch {
	case errors.Is(err, pipeline.ErrTenantNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bot not found")
	case errors.Is(err, pipeline.ErrSecretMismatch):
		h.logger.Warn("webhook secret rejected", slog.String("bot_id", botID), slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case err != nil:
		h.logger.Error("resolve bot failed", slog.String("bot_id", botID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}

	update, err := telegram.Decode(payload)
	if err != nil {
		// Telegram retries anything but 2xx, and a poison update would come
		// back forever.
		h.logger.Warn("malformed update dropped", slog.String("bot_id", bot.ID), slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	st := pipeline.State{
		Bot:        bot,
		Update:     update,
		Source:     pipeline.SourceWebhook,
		ReceivedAt: h.now(),
	}
	bg := context.WithoutCancel(ctx)
	h.spawn(func() { h.pipeline.Run(bg, st) })
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
