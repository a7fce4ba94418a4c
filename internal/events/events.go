// Package events records analytics and audit events emitted by the update
// pipeline. Emission never fails the caller.
package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cartie/cartie/internal/db"
	"github.com/cartie/cartie/internal/envelope"
)

// Event types.
const (
	TypeUpdateReceived   = "tg.update.received"
	TypeMessageIncoming  = "tg.message.incoming"
	TypeMessageOutgoing  = "tg.message.outgoing"
	TypeLeadCreated      = "lead.created"
	TypeLeadMerged       = "lead.duplicate_merged"
	TypeMiniAppSubmitted = "miniapp.submitted"
	TypeMiniAppOpened    = "miniapp.opened"
)

const summaryLimit = 200

// Event is one analytics record.
type Event struct {
	Type      string
	CompanyID string
	BotID     string
	ChatID    string
	UserID    string
	Payload   Payload
}

// Payload is the event body. Phone is never persisted: Emit replaces it with
// PhoneHash.
type Payload struct {
	Phone      string `json:"-"`
	PhoneHash  string `json:"phoneHash,omitempty"`
	UpdateID   int64  `json:"updateId,omitempty"`
	UpdateKind string `json:"updateType,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	MessageID  int    `json:"messageId,omitempty"`
	Text       string `json:"text,omitempty"`
	LeadID     string `json:"leadId,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Source     string `json:"source,omitempty"`
	Valid      *bool  `json:"valid,omitempty"`
	Error      string `json:"error,omitempty"`

	Extra map[string]any `json:"-"`
}

type plainPayload Payload

func (p Payload) MarshalJSON() ([]byte, error) {
	return envelope.Marshal(plainPayload(p), p.Extra)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var plain plainPayload
	extra, err := envelope.Unmarshal(data, &plain)
	if err != nil {
		return err
	}
	*p = Payload(plain)
	p.Extra = extra
	return nil
}

// Record is the persisted form of an event.
type Record struct {
	ID        string
	Type      string
	CompanyID string
	BotID     string
	ChatID    string
	UserID    string
	Payload   []byte
	CreatedAt time.Time
}

// Store persists event records.
type Store interface {
	Insert(ctx context.Context, rec Record) error
}

// Emitter scrubs and stores events.
type Emitter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates an emitter. A nil store turns Emit into a log line.
func NewEmitter(log *slog.Logger, store Store) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		store:  store,
		logger: log.With(slog.String("component", "events")),
		now:    time.Now,
	}
}

// Emit stores ev. Failures are logged and dropped.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || strings.TrimSpace(ev.Type) == "" {
		return
	}
	payload := Scrub(ev.Payload)
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("encode event payload failed", slog.String("type", ev.Type), slog.Any("error", err))
		return
	}
	if e.store == nil {
		e.logger.Debug("event", slog.String("type", ev.Type), slog.String("bot_id", ev.BotID))
		return
	}
	rec := Record{
		ID:        db.NewID(),
		Type:      ev.Type,
		CompanyID: ev.CompanyID,
		BotID:     ev.BotID,
		ChatID:    ev.ChatID,
		UserID:    ev.UserID,
		Payload:   body,
		CreatedAt: e.now(),
	}
	if err := e.store.Insert(ctx, rec); err != nil {
		e.logger.Warn("store event failed",
			slog.String("type", ev.Type),
			slog.String("bot_id", ev.BotID),
			slog.Any("error", err),
		)
	}
}

// Scrub hashes phone numbers out of the payload.
func Scrub(p Payload) Payload {
	out := p
	out.Extra = envelope.CloneMap(p.Extra)
	phone := strings.TrimSpace(p.Phone)
	out.Phone = ""
	for _, key := range []string{"phone", "phoneRaw"} {
		value, ok := out.Extra[key]
		if !ok {
			continue
		}
		delete(out.Extra, key)
		if s, ok := value.(string); ok && phone == "" {
			phone = strings.TrimSpace(s)
		}
	}
	if phone != "" && out.PhoneHash == "" {
		out.PhoneHash = HashPhone(phone)
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

// HashPhone returns the hex sha256 of phone.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	phoneLikePattern  = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}\d`)
)

// SummarizeText collapses whitespace, masks phone-like substrings and
// truncates to 200 characters.
func SummarizeText(text string) string {
	text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
	if text == "" {
		return ""
	}
	text = phoneLikePattern.ReplaceAllString(text, "[redacted]")
	runes := []rune(text)
	if len(runes) > summaryLimit {
		return string(runes[:summaryLimit])
	}
	return text
}
