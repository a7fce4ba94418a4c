// Package dedup guarantees that side effects for a (bot, update id) pair run
// at most once. The unique key on telegram_updates is the authority; there is
// no read before the insert.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cartie/cartie/internal/db"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/telegram"
)

var ErrDuplicate = errors.New("update already processed")

// Record is one row of the update ledger.
type Record struct {
	BotID         string `json:"-"`
	UpdateID      int64  `json:"-"`
	MessageID     int    `json:"messageId,omitempty"`
	CallbackID    string `json:"callbackId,omitempty"`
	InlineQueryID string `json:"inlineQueryId,omitempty"`
	ChatID        string `json:"chatId,omitempty"`
}

// Store inserts ledger rows. Insert returns ErrDuplicate when the key exists.
type Store interface {
	Insert(ctx context.Context, rec Record) error
}

// Gate marks repeated deliveries as duplicates.
type Gate struct {
	store  Store
	logger *slog.Logger
}

func NewGate(log *slog.Logger, store Store) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		store:  store,
		logger: log.With(slog.String("component", "dedup")),
	}
}

// Check records the update and reports whether it was seen before. Updates
// without an id are never duplicates.
func (g *Gate) Check(ctx context.Context, botID string, u telegram.Update) (bool, error) {
	if !u.HasID() {
		return false, nil
	}
	err := g.store.Insert(ctx, recordFor(botID, u))
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrDuplicate) {
		g.logger.Debug("duplicate update", slog.String("bot_id", botID), slog.Int64("update_id", u.ID()))
		return true, nil
	}
	return false, err
}

// Stage flags duplicates and lets them continue in observe-only mode. Store
// failures other than a key conflict abort the pipeline.
func (g *Gate) Stage() pipeline.Stage {
	return func(ctx context.Context, st pipeline.State, next pipeline.Next) error {
		dup, err := g.Check(ctx, st.Bot.ID, st.Update)
		if err != nil {
			return fmt.Errorf("dedup: %w", err)
		}
		st.Duplicate = dup
		return next(ctx, st)
	}
}

func recordFor(botID string, u telegram.Update) Record {
	rec := Record{
		BotID:     botID,
		UpdateID:  u.ID(),
		MessageID: u.MessageID(),
	}
	if u.CallbackQuery != nil {
		rec.CallbackID = u.CallbackQuery.ID
	}
	if u.InlineQuery != nil {
		rec.InlineQueryID = u.InlineQuery.ID
	}
	if u.InlineQuery == nil {
		rec.ChatID = u.ChatID()
	}
	return rec
}

// DBStore writes the ledger to telegram_updates.
type DBStore struct {
	db db.DBTX
}

func NewDBStore(conn db.DBTX) *DBStore {
	return &DBStore{db: conn}
}

func (s *DBStore) Insert(ctx context.Context, rec Record) error {
	pgBotID, err := db.ParseUUID(rec.BotID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dedup payload: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO telegram_updates (bot_id, update_id, payload) VALUES ($1, $2, $3)`,
		pgBotID, rec.UpdateID, payload,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert telegram update: %w", err)
	}
	return nil
}
