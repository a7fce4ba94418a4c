package handlers

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/cartie/cartie/internal/media/providers/localfs"
)

// MediaHandler serves downloaded channel photos.
type MediaHandler struct {
	logger *slog.Logger
	root   string
}

func NewMediaHandler(log *slog.Logger, provider *localfs.Provider) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{logger: log.With(slog.String("handler", "media")), root: provider.Root()}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.Static(localfs.URLPrefix, h.root)
}
