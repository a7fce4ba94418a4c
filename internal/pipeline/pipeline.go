// Package pipeline composes the stages an inbound Telegram update passes
// through. Each stage receives its own copy of State and hands a copy
// forward through a continuation that may be invoked at most once.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/session"
	"github.com/cartie/cartie/internal/settings"
	"github.com/cartie/cartie/internal/telegram"
)

var ErrNextCalledTwice = errors.New("pipeline: next called more than once")

// SourceWebhook marks updates delivered by the Bot API webhook.
const SourceWebhook = "webhook"

// State is the per-update context threaded through the stages.
type State struct {
	Bot        bots.Bot
	Update     telegram.Update
	Source     string
	ReceivedAt time.Time

	CompanyID string
	Kind      telegram.Kind
	ChatID    string
	UserID    string
	Duplicate bool
	Locale    string
	Settings  settings.Company

	Session    session.Session
	HasSession bool

	Normalized Normalized
}

// Normalized holds canonical values derived from the update text.
type Normalized struct {
	Phone string
	Brand string
	Model string
	City  string
}

// Next continues the pipeline with st.
type Next func(ctx context.Context, st State) error

// Stage is one step of the pipeline. A stage that does not call next ends
// the pipeline.
type Stage func(ctx context.Context, st State, next Next) error

// Handler runs a composed pipeline.
type Handler func(ctx context.Context, st State) error

// Compose chains stages in order.
func Compose(stages ...Stage) Handler {
	return func(ctx context.Context, st State) error {
		return dispatch(ctx, stages, 0, st)
	}
}

func dispatch(ctx context.Context, stages []Stage, i int, st State) error {
	if i >= len(stages) {
		return nil
	}
	var used atomic.Bool
	next := func(ctx context.Context, st State) error {
		if !used.CompareAndSwap(false, true) {
			return ErrNextCalledTwice
		}
		return dispatch(ctx, stages, i+1, st)
	}
	return stages[i](ctx, st, next)
}

// Runner is the outermost boundary of the pipeline. It never returns an
// error or propagates a panic: the webhook has already been answered.
type Runner struct {
	handler Handler
	logger  *slog.Logger
}

func NewRunner(log *slog.Logger, stages ...Stage) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		handler: Compose(stages...),
		logger:  log.With(slog.String("component", "pipeline")),
	}
}

// Run processes one update.
func (r *Runner) Run(ctx context.Context, st State) {
	if st.ReceivedAt.IsZero() {
		st.ReceivedAt = time.Now()
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pipeline panic",
				append(stateAttrs(st),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)...,
			)
		}
	}()
	if err := r.handler(ctx, st); err != nil {
		r.logger.Error("pipeline failed", append(stateAttrs(st), slog.Any("error", err))...)
	}
}

func stateAttrs(st State) []any {
	return []any{
		slog.String("bot_id", st.Bot.ID),
		slog.Int64("update_id", st.Update.ID()),
		slog.String("kind", string(st.Update.Kind())),
		slog.String("chat_id", st.Update.ChatID()),
		slog.String("source", st.Source),
	}
}
