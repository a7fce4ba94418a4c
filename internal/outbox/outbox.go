// Package outbox delivers bot replies to Telegram through a per-chat paced
// queue and records every successful send.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/message"
	"github.com/cartie/cartie/internal/prune"
)

// Emitter records analytics events.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event)
}

// Outbox sends content on behalf of bots.
type Outbox struct {
	sender    *Sender
	transport Transport
	messages  message.Logger
	emitter   Emitter
	logger    *slog.Logger
}

func New(log *slog.Logger, sender *Sender, transport Transport, messages message.Logger, emitter Emitter) *Outbox {
	if log == nil {
		log = slog.Default()
	}
	if sender == nil {
		sender = NewSender(log, DefaultPacing)
	}
	return &Outbox{
		sender:    sender,
		transport: transport,
		messages:  messages,
		emitter:   emitter,
		logger:    log.With(slog.String("service", "outbox")),
	}
}

// SendMessage sends an HTML text message. markup may be any tgbotapi reply
// markup or nil.
func (o *Outbox) SendMessage(ctx context.Context, bot bots.Bot, chatID, text string, markup any) (int, error) {
	base, err := baseChat(chatID)
	if err != nil {
		return 0, err
	}
	base.ReplyMarkup = markup
	text = prune.Fit(text, prune.MessageLimit)
	msg := tgbotapi.MessageConfig{
		BaseChat:  base,
		Text:      text,
		ParseMode: tgbotapi.ModeHTML,
	}
	return o.send(ctx, bot, chatID, "sendMessage", text, msg)
}

// SendPhoto sends a photo by URL, file id or local path.
func (o *Outbox) SendPhoto(ctx context.Context, bot bots.Bot, chatID, photo, caption string, markup any) (int, error) {
	base, err := baseChat(chatID)
	if err != nil {
		return 0, err
	}
	base.ReplyMarkup = markup
	caption = prune.Fit(caption, prune.CaptionLimit)
	cfg := tgbotapi.PhotoConfig{
		BaseFile:  tgbotapi.BaseFile{BaseChat: base, File: fileRef(photo)},
		Caption:   caption,
		ParseMode: tgbotapi.ModeHTML,
	}
	return o.send(ctx, bot, chatID, "sendPhoto", caption, cfg)
}

// SendMediaGroup sends up to ten photos as an album; caption goes on the
// first one.
func (o *Outbox) SendMediaGroup(ctx context.Context, bot bots.Bot, chatID string, photos []string, caption string) ([]int, error) {
	if len(photos) == 0 {
		return nil, nil
	}
	if len(photos) > 10 {
		photos = photos[:10]
	}
	base, err := baseChat(chatID)
	if err != nil {
		return nil, err
	}
	media := make([]interface{}, 0, len(photos))
	for i, p := range photos {
		item := tgbotapi.NewInputMediaPhoto(fileRef(p))
		if i == 0 && caption != "" {
			item.Caption = prune.Fit(caption, prune.CaptionLimit)
			item.ParseMode = tgbotapi.ModeHTML
		}
		media = append(media, item)
	}
	cfg := tgbotapi.MediaGroupConfig{
		ChatID:          base.ChatID,
		ChannelUsername: base.ChannelUsername,
		Media:           media,
	}

	var sent []tgbotapi.Message
	err = o.sender.Do(ctx, chatID, func(ctx context.Context) error {
		var err error
		sent, err = o.transport.SendMediaGroup(ctx, bot.Token, cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sendMediaGroup: %w", err)
	}
	ids := make([]int, 0, len(sent))
	for _, m := range sent {
		ids = append(ids, m.MessageID)
	}
	first := 0
	if len(ids) > 0 {
		first = ids[0]
	}
	o.record(ctx, bot, chatID, "sendMediaGroup", caption, first)
	return ids, nil
}

// EditMessageText replaces the text and inline keyboard of a sent message.
// An edit that changes nothing succeeds.
func (o *Outbox) EditMessageText(ctx context.Context, bot bots.Bot, chatID string, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return fmt.Errorf("edit target must be a numeric chat id: %w", err)
	}
	cfg := tgbotapi.NewEditMessageText(id, messageID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.ReplyMarkup = markup
	err = o.sender.Do(ctx, chatID, func(ctx context.Context) error {
		_, err := o.transport.Request(ctx, bot.Token, cfg)
		if isMessageNotModified(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("editMessageText: %w", err)
	}
	o.record(ctx, bot, chatID, "editMessageText", text, messageID)
	return nil
}

// SendChatAction shows a typing or upload indicator. Failures are dropped.
func (o *Outbox) SendChatAction(ctx context.Context, bot bots.Bot, chatID, action string) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return
	}
	if action == "" {
		action = tgbotapi.ChatTyping
	}
	err = o.sender.Do(ctx, chatID, func(ctx context.Context) error {
		_, err := o.transport.Request(ctx, bot.Token, tgbotapi.NewChatAction(id, action))
		return err
	})
	if err != nil {
		o.logger.Debug("chat action failed", slog.String("chat_id", chatID), slog.Any("error", err))
	}
}

// AnswerCallback acknowledges a button press. It bypasses the chat queue
// and drops failures.
func (o *Outbox) AnswerCallback(ctx context.Context, bot bots.Bot, callbackID, text string) {
	if strings.TrimSpace(callbackID) == "" {
		return
	}
	if _, err := o.transport.Request(ctx, bot.Token, tgbotapi.NewCallback(callbackID, text)); err != nil {
		o.logger.Debug("answer callback failed", slog.String("bot_id", bot.ID), slog.Any("error", err))
	}
}

// AnswerInline answers an inline query with results.
func (o *Outbox) AnswerInline(ctx context.Context, bot bots.Bot, queryID string, results []interface{}) error {
	if results == nil {
		results = []interface{}{}
	}
	cfg := tgbotapi.InlineConfig{
		InlineQueryID: queryID,
		Results:       results,
		CacheTime:     0,
		IsPersonal:    true,
	}
	if _, err := o.transport.Request(ctx, bot.Token, cfg); err != nil {
		return fmt.Errorf("answerInlineQuery: %w", err)
	}
	return nil
}

func (o *Outbox) send(ctx context.Context, bot bots.Bot, chatID, method, text string, c tgbotapi.Chattable) (int, error) {
	var sent tgbotapi.Message
	err := o.sender.Do(ctx, chatID, func(ctx context.Context) error {
		var err error
		sent, err = o.transport.Send(ctx, bot.Token, c)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	o.record(ctx, bot, chatID, method, text, sent.MessageID)
	return sent.MessageID, nil
}

func (o *Outbox) record(ctx context.Context, bot bots.Bot, chatID, method, text string, messageID int) {
	if o.messages != nil {
		err := o.messages.Log(ctx, message.Entry{
			BotID:     bot.ID,
			ChatID:    chatID,
			Direction: message.DirectionOutgoing,
			Text:      text,
			MessageID: messageID,
			Payload:   map[string]any{"method": method},
		})
		if err != nil {
			o.logger.Warn("log outgoing message failed", slog.String("chat_id", chatID), slog.Any("error", err))
		}
	}
	if o.emitter != nil {
		o.emitter.Emit(ctx, events.Event{
			Type:      events.TypeMessageOutgoing,
			CompanyID: bot.CompanyID,
			BotID:     bot.ID,
			ChatID:    chatID,
			Payload: events.Payload{
				MessageID: messageID,
				Text:      events.SummarizeText(text),
				Extra:     map[string]any{"method": method},
			},
		})
	}
}

func baseChat(chatID string) (tgbotapi.BaseChat, error) {
	chatID = strings.TrimSpace(chatID)
	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.BaseChat{ChannelUsername: chatID}, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return tgbotapi.BaseChat{}, fmt.Errorf("telegram target must be @username or chat id, got %q", chatID)
	}
	return tgbotapi.BaseChat{ChatID: id}, nil
}

func fileRef(ref string) tgbotapi.RequestFileData {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return tgbotapi.FileURL(ref)
	case strings.HasPrefix(ref, "/"), strings.HasPrefix(ref, "./"):
		return tgbotapi.FilePath(ref)
	default:
		return tgbotapi.FileID(ref)
	}
}
