package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"

	"github.com/cartie/cartie/internal/leads"
	"github.com/cartie/cartie/internal/router/callback"
)

// Raw callback data of the legacy lead confirm buttons.
const (
	legacyLeadConfirmSend = "LEAD_CONFIRM_SEND"
	legacyLeadConfirmBack = "LEAD_CONFIRM_BACK"
)

func (r *Router) handleCallback(ctx context.Context, t *turn) (bool, error) {
	cq := t.st.Update.CallbackQuery
	if cq == nil || cq.Data == "" || !t.st.HasSession {
		return false, nil
	}
	r.out.AnswerCallback(ctx, t.st.Bot, cq.ID, "")

	if status, leadID, ok := parseStatusCallback(cq.Data); ok {
		return true, r.changeStatus(ctx, t, status, leadID)
	}
	if r.runLegacy(ctx, t) {
		return true, nil
	}

	action := cq.Data
	data, err := callback.Parse(cq.Data)
	switch {
	case err == nil:
		action = data.Action
	case errors.Is(err, callback.ErrLegacy):
	default:
		return false, nil
	}

	switch action {
	case ActionClientLeadSend, legacyLeadConfirmSend:
		return true, r.finalizeClientLead(ctx, t)
	case ActionClientLeadBack, legacyLeadConfirmBack:
		return true, t.step(ctx, StateClientContact, t.vars(), "askContact", t.contactKeyboard())
	case ActionCatalogSell:
		return true, r.finalizeCatalogSell(ctx, t)
	case ActionCatalogBack:
		return true, t.step(ctx, StateCatalogSellCar, t.vars(), "catalogSellCar", nil)
	case ActionB2BSend:
		return true, r.finalizeB2BRequest(ctx, t)
	case ActionB2BBack:
		return true, t.step(ctx, StateB2BDesc, t.vars(), "b2bAskDesc", nil)
	}
	return false, nil
}

// changeStatus applies an admin status button and stamps the card with the
// new status. Only the bot's admin chat may change statuses, and only of the
// bot's own leads.
func (r *Router) changeStatus(ctx context.Context, t *turn, status, leadID string) error {
	admin := t.st.Bot.AdminChatID()
	if admin == "" || t.st.ChatID != admin {
		r.logger.Warn("status change outside admin chat",
			slog.String("bot_id", t.st.Bot.ID),
			slog.String("chat_id", t.st.ChatID),
			slog.String("lead_id", leadID),
		)
		return nil
	}
	if _, err := r.leads.UpdateStatus(ctx, t.st.Bot, leadID, status); err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			r.logger.Warn("status change for unknown lead",
				slog.String("bot_id", t.st.Bot.ID),
				slog.String("lead_id", leadID),
			)
			return nil
		}
		return fmt.Errorf("update lead status: %w", err)
	}
	msg := t.st.Update.CallbackQuery.Message
	if msg == nil {
		return nil
	}
	body := msg.Text
	if body == "" {
		body = msg.Caption
	}
	text := html.EscapeString(body) + "\n\n✅ " + status
	err := r.out.EditMessageText(ctx, t.st.Bot, t.st.ChatID, msg.MessageID, text, msg.ReplyMarkup)
	if err != nil {
		r.logger.Warn("edit status card failed",
			slog.String("bot_id", t.st.Bot.ID),
			slog.String("lead_id", leadID),
			slog.Any("error", err),
		)
	}
	return nil
}
