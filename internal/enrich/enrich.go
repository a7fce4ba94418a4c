// Package enrich attaches the conversation context to an update: its
// classification, locale, feature flags and session. First contact creates
// the session and a skeleton lead. Every non-duplicate update is written to
// the inbound message log.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/leads"
	"github.com/cartie/cartie/internal/message"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/session"
	"github.com/cartie/cartie/internal/settings"
)

// Locales understood by the reply catalog.
const (
	LocaleEN = "EN"
	LocaleUK = "UK"
	LocaleRU = "RU"
)

// FlagSource returns the cached settings of a company.
type FlagSource interface {
	Get(ctx context.Context, companyID string) settings.Company
}

// SkeletonCreator opens the first lead of a new conversation.
type SkeletonCreator interface {
	EnsureSkeleton(ctx context.Context, bot bots.Bot, sk leads.Skeleton) (bool, error)
}

// Enricher is the context stage.
type Enricher struct {
	sessions session.Store
	flags    FlagSource
	leads    SkeletonCreator
	messages message.Logger
	logger   *slog.Logger
}

func New(log *slog.Logger, sessions session.Store, flags FlagSource, skeletons SkeletonCreator, messages message.Logger) *Enricher {
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{
		sessions: sessions,
		flags:    flags,
		leads:    skeletons,
		messages: messages,
		logger:   log.With(slog.String("component", "enrich")),
	}
}

// Stage classifies every update. Duplicates stop there: no session, lead or
// audit writes happen for a repeated delivery.
func (e *Enricher) Stage() pipeline.Stage {
	return func(ctx context.Context, st pipeline.State, next pipeline.Next) error {
		st.Kind = st.Update.Kind()
		st.ChatID = st.Update.ChatID()
		st.UserID = st.Update.UserID()
		if st.Duplicate {
			return next(ctx, st)
		}
		if e.flags != nil && st.CompanyID != "" {
			st.Settings = e.flags.Get(ctx, st.CompanyID)
		}
		if st.ChatID != "" && e.sessions != nil {
			sess, err := e.loadSession(ctx, st)
			if err != nil {
				return err
			}
			st.Session = sess
			st.HasSession = true
		}
		st.Locale = ResolveLocale(st)
		e.audit(ctx, st)
		return next(ctx, st)
	}
}

func (e *Enricher) loadSession(ctx context.Context, st pipeline.State) (session.Session, error) {
	sess, err := e.sessions.Get(ctx, st.Bot.ID, st.ChatID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	sess, created, err := e.sessions.Create(ctx, st.Bot.ID, st.ChatID)
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	if created {
		e.firstContact(ctx, st)
	}
	return sess, nil
}

func (e *Enricher) firstContact(ctx context.Context, st pipeline.State) {
	if e.leads == nil || st.CompanyID == "" {
		return
	}
	sk := leads.Skeleton{
		ChatID: st.ChatID,
		UserID: st.UserID,
		Phone:  st.Update.ContactPhone(),
	}
	if from := st.Update.From(); from != nil {
		sk.FirstName = from.FirstName
		sk.Username = from.UserName
	}
	if _, err := e.leads.EnsureSkeleton(ctx, st.Bot, sk); err != nil {
		e.logger.Warn("skeleton lead failed",
			slog.String("bot_id", st.Bot.ID),
			slog.String("chat_id", st.ChatID),
			slog.Any("error", err),
		)
	}
}

func (e *Enricher) audit(ctx context.Context, st pipeline.State) {
	if e.messages == nil || st.ChatID == "" {
		return
	}
	err := e.messages.Log(ctx, message.Entry{
		BotID:     st.Bot.ID,
		ChatID:    st.ChatID,
		Direction: message.DirectionIncoming,
		Text:      st.Update.AuditText(),
		MessageID: st.Update.MessageID(),
		Payload: map[string]any{
			"updateId": st.Update.ID(),
			"kind":     string(st.Kind),
		},
	})
	if err != nil {
		e.logger.Warn("inbound audit failed", slog.String("bot_id", st.Bot.ID), slog.Any("error", err))
	}
}

// ResolveLocale picks the reply language: the language the conversation
// stored, the platform language of the sender, the tenant default, EN.
func ResolveLocale(st pipeline.State) string {
	if st.HasSession {
		if locale, ok := platformLocale(st.Session.Variables.Locale()); ok {
			return locale
		}
	}
	if locale, ok := platformLocale(st.Update.LanguageCode()); ok {
		return locale
	}
	for _, fallback := range []string{st.Bot.Config.DefaultLocale, st.Settings.DefaultLocale} {
		if locale, ok := platformLocale(fallback); ok {
			return locale
		}
	}
	return LocaleEN
}

// NormalizeLocale maps a language code to a supported locale, EN otherwise.
func NormalizeLocale(code string) string {
	if locale, ok := platformLocale(code); ok {
		return locale
	}
	return LocaleEN
}

func platformLocale(code string) (string, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", false
	}
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	switch code {
	case "uk", "ua":
		return LocaleUK, true
	case "ru":
		return LocaleRU, true
	default:
		return LocaleEN, true
	}
}
