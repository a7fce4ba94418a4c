package message

import (
	"context"
	"time"
)

// Direction of a logged message relative to the bot.
type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

// Entry is one row of the bot message log backing the unified inbox.
type Entry struct {
	ID        string
	BotID     string
	ChatID    string
	Direction Direction
	Text      string
	MessageID int
	Payload   map[string]any
	CreatedAt time.Time
}

// Logger appends entries to the message log.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}
