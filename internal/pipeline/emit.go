package pipeline

import (
	"context"

	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/telegram"
)

// Emitter records analytics events.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event)
}

// EmitStage wraps the rest of the pipeline and records the update once it
// finishes, whether downstream succeeded, failed or panicked. Duplicates are
// recorded too.
func EmitStage(emitter Emitter) Stage {
	return func(ctx context.Context, st State, next Next) error {
		defer emitReceived(ctx, emitter, st)
		return next(ctx, st)
	}
}

func emitReceived(ctx context.Context, emitter Emitter, st State) {
	if emitter == nil {
		return
	}
	kind := st.Kind
	if kind == "" {
		kind = st.Update.Kind()
	}
	base := events.Event{
		CompanyID: st.CompanyID,
		BotID:     st.Bot.ID,
		ChatID:    firstNonEmpty(st.ChatID, st.Update.ChatID()),
		UserID:    firstNonEmpty(st.UserID, st.Update.UserID()),
	}

	received := base
	received.Type = events.TypeUpdateReceived
	received.Payload = events.Payload{
		UpdateID:   st.Update.ID(),
		UpdateKind: string(kind),
		Duplicate:  st.Duplicate,
	}
	emitter.Emit(ctx, received)

	if kind != telegram.KindMessage && kind != telegram.KindWebApp {
		return
	}
	incoming := base
	incoming.Type = events.TypeMessageIncoming
	incoming.Payload = events.Payload{
		MessageID: st.Update.MessageID(),
		Text:      events.SummarizeText(st.Update.MessageText()),
		Extra:     map[string]any{"hasContact": st.Update.ContactPhone() != ""},
	}
	emitter.Emit(ctx, incoming)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
