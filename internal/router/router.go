// Package router interprets enriched updates. Exactly one handler runs per
// update: inline queries first, then callback buttons, mini-app data and
// plain messages. Handlers create leads, move the session through the
// bot's conversation template and reply through the outbox.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/leads"
	"github.com/cartie/cartie/internal/message"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/session"
	"github.com/cartie/cartie/internal/telegram"
)

// Messenger sends replies on behalf of a bot.
type Messenger interface {
	SendMessage(ctx context.Context, bot bots.Bot, chatID, text string, markup any) (int, error)
	SendPhoto(ctx context.Context, bot bots.Bot, chatID, photo, caption string, markup any) (int, error)
	SendMediaGroup(ctx context.Context, bot bots.Bot, chatID string, photos []string, caption string) ([]int, error)
	SendChatAction(ctx context.Context, bot bots.Bot, chatID, action string)
	EditMessageText(ctx context.Context, bot bots.Bot, chatID string, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, bot bots.Bot, callbackID, text string)
	AnswerInline(ctx context.Context, bot bots.Bot, queryID string, results []interface{}) error
}

// LeadService creates leads and requests.
type LeadService interface {
	CreateOrMerge(ctx context.Context, in leads.Input, bot bots.Bot) (leads.Result, error)
	OpenRequest(ctx context.Context, data leads.RequestInput, kind, companyID, leadID, chatID string) (leads.Request, error)
	UpdateStatus(ctx context.Context, bot bots.Bot, leadID, status string) (leads.Lead, error)
}

// Normalizer canonicalizes free-text fields per tenant.
type Normalizer interface {
	Brand(ctx context.Context, companyID, raw string) (string, bool)
	Model(ctx context.Context, companyID, raw string) (string, bool)
	City(ctx context.Context, companyID, raw string) (string, bool)
}

// LegacyEngine runs the per-bot scenario interpreter. It gets the first
// chance at messages and callbacks and reports whether it consumed the
// update.
type LegacyEngine interface {
	HandleUpdate(ctx context.Context, bot bots.Bot, sess session.Session, u telegram.Update) (bool, error)
}

// Emitter records analytics events.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event)
}

// Deps groups the router's collaborators. Legacy, Messages and Emitter are
// optional.
type Deps struct {
	Outbox     Messenger
	Sessions   session.Store
	Leads      LeadService
	Listings   inventory.Listings
	Normalizer Normalizer
	Messages   message.Logger
	Emitter    Emitter
	Legacy     LegacyEngine
	// MiniAppURL is the process-wide mini-app base for bots without one.
	MiniAppURL string
}

// Router dispatches updates to handlers.
type Router struct {
	out        Messenger
	sessions   session.Store
	leads      LeadService
	listings   inventory.Listings
	normalizer Normalizer
	messages   message.Logger
	emitter    Emitter
	legacy     LegacyEngine
	texts      *Texts
	miniAppURL string
	logger     *slog.Logger
	now        func() time.Time
}

func New(log *slog.Logger, deps Deps) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	texts, err := LoadTexts()
	if err != nil {
		return nil, err
	}
	return &Router{
		out:        deps.Outbox,
		sessions:   deps.Sessions,
		leads:      deps.Leads,
		listings:   deps.Listings,
		normalizer: deps.Normalizer,
		messages:   deps.Messages,
		emitter:    deps.Emitter,
		legacy:     deps.Legacy,
		texts:      texts,
		miniAppURL: deps.MiniAppURL,
		logger:     log.With(slog.String("component", "router")),
		now:        time.Now,
	}, nil
}

// Stage routes non-duplicate updates, then continues the pipeline.
func (r *Router) Stage() pipeline.Stage {
	return func(ctx context.Context, st pipeline.State, next pipeline.Next) error {
		if !st.Duplicate {
			if err := r.Route(ctx, st); err != nil {
				return err
			}
		}
		return next(ctx, st)
	}
}

// Route runs the handler for the update kind.
func (r *Router) Route(ctx context.Context, st pipeline.State) error {
	kind := st.Kind
	if kind == "" {
		kind = st.Update.Kind()
	}
	var (
		handled bool
		err     error
	)
	switch kind {
	case telegram.KindInlineQuery:
		handled, err = r.handleInline(ctx, st)
	case telegram.KindCallback:
		handled, err = r.handleCallback(ctx, r.newTurn(st))
	case telegram.KindWebApp:
		handled, err = r.handleWebApp(ctx, r.newTurn(st))
	case telegram.KindMessage:
		handled, err = r.handleMessage(ctx, r.newTurn(st))
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("route %s: %w", kind, err)
	}
	if !handled {
		r.logger.Debug("update not handled",
			slog.String("bot_id", st.Bot.ID),
			slog.String("kind", string(kind)),
			slog.String("state", st.Session.State),
		)
	}
	return nil
}

// runLegacy gives the scenario interpreter the update. Its failures count
// as "not handled".
func (r *Router) runLegacy(ctx context.Context, t *turn) bool {
	if r.legacy == nil || !t.st.HasSession {
		return false
	}
	handled, err := r.legacy.HandleUpdate(ctx, t.st.Bot, t.sess, t.st.Update)
	if err != nil {
		r.logger.Warn("legacy engine failed", slog.String("bot_id", t.st.Bot.ID), slog.Any("error", err))
		return false
	}
	return handled
}

// turn is the mutable view of one routed update.
type turn struct {
	r    *Router
	st   pipeline.State
	sess session.Session
	lang string
}

func (r *Router) newTurn(st pipeline.State) *turn {
	lang := st.Locale
	if lang == "" {
		lang = defaultLang
	}
	return &turn{r: r, st: st, sess: st.Session, lang: lang}
}

func (t *turn) text(key string, vars ...string) string {
	return t.r.texts.T(t.lang, key, vars...)
}

func (t *turn) button(key string) string {
	return t.r.texts.Button(t.lang, key)
}

func (t *turn) vars() session.Variables {
	return t.sess.Variables.Clone()
}

// reply sends text to the chat of the update.
func (t *turn) reply(ctx context.Context, text string, markup any) error {
	if t.st.ChatID == "" {
		return nil
	}
	_, err := t.r.out.SendMessage(ctx, t.st.Bot, t.st.ChatID, text, markup)
	return err
}

// notify sends text to a staff chat. Failures are logged: a staff
// notification never blocks the user reply.
func (t *turn) notify(ctx context.Context, chatID, text string, markup any) {
	if chatID == "" {
		return
	}
	if _, err := t.r.out.SendMessage(ctx, t.st.Bot, chatID, text, markup); err != nil {
		t.r.logger.Warn("staff notification failed",
			slog.String("bot_id", t.st.Bot.ID),
			slog.String("chat_id", chatID),
			slog.Any("error", err),
		)
	}
}

// save moves the session to state with vars.
func (t *turn) save(ctx context.Context, state string, vars session.Variables) error {
	if !t.st.HasSession || t.r.sessions == nil {
		return nil
	}
	next := t.sess
	next.State = state
	next.Variables = vars
	next.LastActive = t.r.now()
	saved, err := t.r.sessions.Update(ctx, next)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	t.sess = saved
	return nil
}

// audit appends an inbound entry that summarizes a finished flow.
func (t *turn) audit(ctx context.Context, text string, payload map[string]any) {
	if t.r.messages == nil {
		return
	}
	err := t.r.messages.Log(ctx, message.Entry{
		BotID:     t.st.Bot.ID,
		ChatID:    t.st.ChatID,
		Direction: message.DirectionIncoming,
		Text:      text,
		Payload:   payload,
	})
	if err != nil {
		t.r.logger.Warn("flow audit failed", slog.String("bot_id", t.st.Bot.ID), slog.Any("error", err))
	}
}

func (t *turn) emit(ctx context.Context, eventType string, payload events.Payload) {
	if t.r.emitter == nil {
		return
	}
	t.r.emitter.Emit(ctx, events.Event{
		Type:      eventType,
		CompanyID: t.st.CompanyID,
		BotID:     t.st.Bot.ID,
		ChatID:    t.st.ChatID,
		UserID:    t.st.UserID,
		Payload:   payload,
	})
}

func (t *turn) city(ctx context.Context, raw string) string {
	if t.r.normalizer == nil {
		return strings.TrimSpace(raw)
	}
	value, _ := t.r.normalizer.City(ctx, t.st.CompanyID, raw)
	return value
}

func (t *turn) brand(ctx context.Context, raw string) string {
	if t.r.normalizer == nil {
		return strings.TrimSpace(raw)
	}
	value, _ := t.r.normalizer.Brand(ctx, t.st.CompanyID, raw)
	return value
}

func (t *turn) model(ctx context.Context, raw string) string {
	if t.r.normalizer == nil {
		return strings.TrimSpace(raw)
	}
	value, _ := t.r.normalizer.Model(ctx, t.st.CompanyID, raw)
	return value
}
