// Package telegram holds the inbound Bot API update envelope shared by the
// webhook pipeline and the ingestion path.
package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Kind classifies an update for routing.
type Kind string

const (
	KindMessage     Kind = "message"
	KindCallback    Kind = "callback"
	KindInlineQuery Kind = "inline_query"
	KindWebApp      Kind = "web_app"
	KindChannelPost Kind = "channel_post"
	KindMembership  Kind = "my_chat_member"
	KindUnknown     Kind = "unknown"
)

// Update is one inbound Bot API update. UpdateID is nil when the payload
// carries no update_id.
type Update struct {
	UpdateID      *int64                      `json:"update_id,omitempty"`
	Message       *Message                    `json:"message,omitempty"`
	EditedMessage *Message                    `json:"edited_message,omitempty"`
	ChannelPost   *Message                    `json:"channel_post,omitempty"`
	CallbackQuery *tgbotapi.CallbackQuery     `json:"callback_query,omitempty"`
	InlineQuery   *tgbotapi.InlineQuery       `json:"inline_query,omitempty"`
	MyChatMember  *tgbotapi.ChatMemberUpdated `json:"my_chat_member,omitempty"`
}

// Message extends the library message with fields it does not model.
type Message struct {
	tgbotapi.Message
	WebAppData *WebAppData `json:"web_app_data,omitempty"`
}

// WebAppData is the payload a mini-app sends back through the chat.
type WebAppData struct {
	Data       string `json:"data"`
	ButtonText string `json:"button_text"`
}

// Decode parses a raw webhook body.
func Decode(body []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// HasID reports whether the update carries an update_id.
func (u Update) HasID() bool {
	return u.UpdateID != nil
}

// ID returns the update id or zero.
func (u Update) ID() int64 {
	if u.UpdateID == nil {
		return 0
	}
	return *u.UpdateID
}

// Kind classifies the update. Inline queries win over callbacks, callbacks
// over mini-app data, mini-app data over plain messages.
func (u Update) Kind() Kind {
	switch {
	case u.InlineQuery != nil:
		return KindInlineQuery
	case u.CallbackQuery != nil:
		return KindCallback
	case u.Message != nil && u.Message.WebAppData != nil:
		return KindWebApp
	case u.Message != nil:
		return KindMessage
	case u.ChannelPost != nil:
		return KindChannelPost
	case u.MyChatMember != nil:
		return KindMembership
	default:
		return KindUnknown
	}
}

// IsIngestion reports whether the update belongs to the channel ingestion
// path rather than the conversational router.
func (u Update) IsIngestion() bool {
	kind := u.Kind()
	return kind == KindChannelPost || kind == KindMembership
}

// UserID returns the sender id from the message, callback or inline query.
func (u Update) UserID() string {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return formatID(u.Message.From.ID)
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return formatID(u.CallbackQuery.From.ID)
	case u.InlineQuery != nil && u.InlineQuery.From != nil:
		return formatID(u.InlineQuery.From.ID)
	}
	return ""
}

// ChatID returns the conversation id. Inline queries have no chat, so the
// sender id stands in for it.
func (u Update) ChatID() string {
	switch {
	case u.Message != nil && u.Message.Chat != nil:
		return formatID(u.Message.Chat.ID)
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return formatID(u.CallbackQuery.Message.Chat.ID)
	case u.ChannelPost != nil && u.ChannelPost.Chat != nil:
		return formatID(u.ChannelPost.Chat.ID)
	case u.MyChatMember != nil:
		return formatID(u.MyChatMember.Chat.ID)
	}
	return u.UserID()
}

// From returns the sending user when known.
func (u Update) From() *tgbotapi.User {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From
	case u.InlineQuery != nil && u.InlineQuery.From != nil:
		return u.InlineQuery.From
	}
	return nil
}

// LanguageCode returns the platform-reported language of the sender.
func (u Update) LanguageCode() string {
	if from := u.From(); from != nil {
		return from.LanguageCode
	}
	return ""
}

// MessageID returns the id of the message carried by the update.
func (u Update) MessageID() int {
	switch {
	case u.Message != nil:
		return u.Message.MessageID
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.MessageID
	case u.ChannelPost != nil:
		return u.ChannelPost.MessageID
	}
	return 0
}

// MessageText returns the message text or caption.
func (u Update) MessageText() string {
	if u.Message == nil {
		return ""
	}
	if u.Message.Text != "" {
		return u.Message.Text
	}
	return u.Message.Caption
}

// ContactPhone returns the phone from a shared contact card.
func (u Update) ContactPhone() string {
	if u.Message != nil && u.Message.Contact != nil {
		return strings.TrimSpace(u.Message.Contact.PhoneNumber)
	}
	return ""
}

// AuditText summarizes the update for the inbound message log: the text, or
// a typed marker for non-text updates.
func (u Update) AuditText() string {
	if text := u.MessageText(); text != "" {
		return text
	}
	if phone := u.ContactPhone(); phone != "" {
		return "contact:" + phone
	}
	if u.CallbackQuery != nil {
		return "callback:" + u.CallbackQuery.Data
	}
	if u.InlineQuery != nil {
		return "inline:" + u.InlineQuery.Query
	}
	if u.Message != nil && u.Message.WebAppData != nil {
		return "web_app:" + u.Message.WebAppData.ButtonText
	}
	return "[update]"
}

// LargestPhoto picks the biggest photo size, by file size first, then area.
func LargestPhoto(items []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.FileSize == best.FileSize && item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best, true
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
