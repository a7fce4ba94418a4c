package events

import (
	"context"
	"fmt"

	"github.com/cartie/cartie/internal/db"
)

// DBStore writes events to platform_events.
type DBStore struct {
	db db.DBTX
}

func NewDBStore(conn db.DBTX) *DBStore {
	return &DBStore{db: conn}
}

func (s *DBStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO platform_events (id, company_id, bot_id, chat_id, user_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		db.OptionalUUID(rec.ID),
		db.OptionalUUID(rec.CompanyID),
		db.OptionalUUID(rec.BotID),
		db.Text(rec.ChatID),
		db.Text(rec.UserID),
		rec.Type,
		rec.Payload,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert platform event: %w", err)
	}
	return nil
}
