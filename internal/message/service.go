package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cartie/cartie/internal/db"
)

// DBService appends to bot_messages.
type DBService struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewService creates a message log service.
func NewService(log *slog.Logger, conn db.DBTX) *DBService {
	if log == nil {
		log = slog.Default()
	}
	return &DBService{
		db:     conn,
		logger: log.With(slog.String("service", "message")),
	}
}

// Log writes a single entry.
func (s *DBService) Log(ctx context.Context, entry Entry) error {
	pgBotID, err := db.ParseUUID(entry.BotID)
	if err != nil {
		return fmt.Errorf("invalid bot id: %w", err)
	}
	chatID := strings.TrimSpace(entry.ChatID)
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	direction := entry.Direction
	if direction == "" {
		direction = DirectionIncoming
	}
	payload, err := json.Marshal(nonNilMap(entry.Payload))
	if err != nil {
		return fmt.Errorf("marshal message payload: %w", err)
	}
	id := entry.ID
	if id == "" {
		id = db.NewID()
	}
	var messageID pgtype.Int8
	if entry.MessageID != 0 {
		messageID = pgtype.Int8{Int64: int64(entry.MessageID), Valid: true}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO bot_messages (id, bot_id, chat_id, direction, text, message_id, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		db.OptionalUUID(id), pgBotID, chatID, string(direction), entry.Text, messageID, payload,
	)
	if err != nil {
		return fmt.Errorf("insert bot message: %w", err)
	}
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
