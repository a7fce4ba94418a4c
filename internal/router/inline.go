package router

import (
	"context"
	"log/slog"

	"github.com/cartie/cartie/internal/pipeline"
)

// handleInline answers inline queries with no results. Inline search is
// not offered yet, but an unanswered query spins in the client.
func (r *Router) handleInline(ctx context.Context, st pipeline.State) (bool, error) {
	q := st.Update.InlineQuery
	if q == nil {
		return false, nil
	}
	r.logger.Info("inline query",
		slog.String("bot_id", st.Bot.ID),
		slog.String("user_id", st.UserID),
		slog.String("query", q.Query),
	)
	if err := r.out.AnswerInline(ctx, st.Bot, q.ID, []interface{}{}); err != nil {
		return true, err
	}
	return true, nil
}
