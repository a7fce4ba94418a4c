package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/envelope"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/normalize"
)

// DefaultDedupDays is used when neither the bot nor the process configures
// a window.
const DefaultDedupDays = 14

var ErrCompanyRequired = errors.New("company id is required to create a lead")

// ErrNotFound is returned when no lead with the id belongs to the bot.
var ErrNotFound = errors.New("lead not found")

// Emitter records analytics events.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event)
}

// Service creates leads and folds repeat submissions into the existing one.
type Service struct {
	store       Store
	emitter     Emitter
	logger      *slog.Logger
	defaultDays int
	now         func() time.Time
}

// NewService creates a lead service. defaultDays is the process-wide dedup
// window; values <= 0 fall back to DefaultDedupDays.
func NewService(log *slog.Logger, store Store, emitter Emitter, defaultDays int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if defaultDays <= 0 {
		defaultDays = DefaultDedupDays
	}
	return &Service{
		store:       store,
		emitter:     emitter,
		logger:      log.With(slog.String("service", "leads")),
		defaultDays: defaultDays,
		now:         time.Now,
	}
}

// DedupDays returns the window for bot.
func (s *Service) DedupDays(bot bots.Bot) int {
	if days := bot.DedupWindowDays(); days > 0 {
		return days
	}
	return s.defaultDays
}

// CreateOrMerge stores a submission. A lead of the same bot matching, in
// order, the phone within the window, the Telegram user within the window,
// or the phone and name at any time is treated as the same prospect.
func (s *Service) CreateOrMerge(ctx context.Context, in Input, bot bots.Bot) (Result, error) {
	companyID := strings.TrimSpace(bot.CompanyID)
	if companyID == "" {
		return Result{}, ErrCompanyRequired
	}
	phone, _ := normalize.Phone(in.Phone)
	userTgID := telegramUserID(in.UserID, in.ChatID)
	now := s.now()
	since := now.AddDate(0, 0, -s.DedupDays(bot))

	dup, found, err := s.findDuplicate(ctx, bot.ID, phone, userTgID, in.Name, since)
	if err != nil {
		return Result{}, err
	}
	if found {
		s.merge(ctx, dup, in, bot, phone, userTgID, now)
		return Result{Lead: dup, Duplicate: true}, nil
	}

	payload := in.Payload
	payload.Extra = envelope.CloneMap(in.Payload.Extra)
	payload.LeadType = in.LeadType
	payload.Phone = phone
	payload.TelegramChatID = in.ChatID
	payload.TelegramUserID = userTgID

	lead, err := s.store.CreateLead(ctx, Lead{
		CompanyID: companyID,
		BotID:     bot.ID,
		Code:      leadCode(),
		Name:      in.Name,
		Phone:     phone,
		UserTgID:  userTgID,
		Request:   in.Request,
		Status:    StatusNew,
		Source:    in.Source,
		Payload:   payload,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create lead: %w", err)
	}

	result := Result{Lead: lead}
	if in.CreateRequest {
		data := in.RequestData
		if data.Title == "" {
			data.Title = firstNonEmpty(in.Request, "Request")
		}
		req, err := s.OpenRequest(ctx, data, RequestKindClient, companyID, lead.ID, in.ChatID)
		if err != nil {
			return Result{}, err
		}
		result.Request = &req
		lead.Payload.LinkedRequestID = firstNonEmpty(req.PublicID, req.ID)
		if err := s.store.UpdatePayload(ctx, lead.ID, lead.Payload); err != nil {
			s.logger.Warn("link request to lead failed", slog.String("lead_id", lead.ID), slog.Any("error", err))
		}
		result.Lead = lead
	}

	s.emit(ctx, events.TypeLeadCreated, bot, in.ChatID, userTgID, lead.ID, phone)
	return result, nil
}

func (s *Service) findDuplicate(ctx context.Context, botID, phone, userTgID, name string, since time.Time) (Lead, bool, error) {
	var matches []Match
	if phone != "" {
		matches = append(matches, Match{BotID: botID, Phone: phone, Since: since})
	}
	if userTgID != "" {
		matches = append(matches, Match{BotID: botID, UserTgID: userTgID, Since: since})
	}
	if phone != "" && strings.TrimSpace(name) != "" {
		matches = append(matches, Match{BotID: botID, Phone: phone, Name: strings.TrimSpace(name)})
	}
	for _, m := range matches {
		lead, ok, err := s.store.FindLatest(ctx, m)
		if err != nil {
			return Lead{}, false, fmt.Errorf("find duplicate lead: %w", err)
		}
		if ok {
			return lead, true, nil
		}
	}
	return Lead{}, false, nil
}

func (s *Service) merge(ctx context.Context, dup Lead, in Input, bot bots.Bot, phone, userTgID string, now time.Time) {
	activity := map[string]any{
		"source": firstNonEmpty(in.Source, "TELEGRAM"),
		"botId":  bot.ID,
	}
	if in.ChatID != "" {
		activity["chatId"] = in.ChatID
	}
	if in.UserID != "" {
		activity["userId"] = in.UserID
	}
	if in.Request != "" {
		activity["request"] = in.Request
	}
	if err := s.store.AddActivity(ctx, Activity{LeadID: dup.ID, Type: ActivityDuplicateMerged, Payload: activity}); err != nil {
		s.logger.Warn("record merge activity failed", slog.String("lead_id", dup.ID), slog.Any("error", err))
	}

	payload := dup.Payload
	payload.Extra = envelope.CloneMap(dup.Payload.Extra)
	payload.LastInteractionAt = now.UTC().Format(time.RFC3339)
	if in.ChatID != "" {
		payload.TelegramChatID = in.ChatID
	}
	if userTgID != "" {
		payload.TelegramUserID = userTgID
	}
	if err := s.store.UpdatePayload(ctx, dup.ID, payload); err != nil {
		s.logger.Warn("touch merged lead failed", slog.String("lead_id", dup.ID), slog.Any("error", err))
	}

	s.emit(ctx, events.TypeLeadMerged, bot, in.ChatID, userTgID, dup.ID, phone)
}

// OpenRequest creates a request with a fresh public id.
func (s *Service) OpenRequest(ctx context.Context, data RequestInput, kind, companyID, leadID, chatID string) (Request, error) {
	req, err := s.store.CreateRequest(ctx, Request{
		PublicID:    PublicID(s.now()),
		Kind:        kind,
		CompanyID:   companyID,
		LeadID:      leadID,
		ChatID:      chatID,
		Title:       firstNonEmpty(strings.TrimSpace(data.Title), "Request"),
		BudgetMin:   data.BudgetMin,
		BudgetMax:   data.BudgetMax,
		YearMin:     data.YearMin,
		YearMax:     data.YearMax,
		City:        data.City,
		Description: data.Description,
		Status:      RequestStatusCollecting,
		Language:    data.Language,
	})
	if err != nil {
		return Request{}, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// Skeleton describes the first contact of a chat.
type Skeleton struct {
	ChatID    string
	UserID    string
	FirstName string
	Username  string
	Phone     string
}

// EnsureSkeleton creates a NEW lead for a conversation that has none, so
// every chat is visible in the pipeline from its first message. It is a
// no-op for bots without a company.
func (s *Service) EnsureSkeleton(ctx context.Context, bot bots.Bot, sk Skeleton) (bool, error) {
	if strings.TrimSpace(bot.CompanyID) == "" {
		return false, nil
	}
	userTgID := firstNonEmpty(sk.UserID, sk.ChatID)
	if userTgID == "" {
		return false, nil
	}
	_, found, err := s.store.FindLatest(ctx, Match{BotID: bot.ID, UserTgID: userTgID})
	if err != nil {
		return false, fmt.Errorf("find lead for user: %w", err)
	}
	if found {
		return false, nil
	}
	phone, _ := normalize.Phone(sk.Phone)
	_, err = s.store.CreateLead(ctx, Lead{
		CompanyID: bot.CompanyID,
		BotID:     bot.ID,
		Code:      leadCode(),
		Name:      firstNonEmpty(strings.TrimSpace(sk.FirstName), strings.TrimSpace(sk.Username), "Unknown User"),
		Phone:     phone,
		UserTgID:  userTgID,
		Status:    StatusNew,
		Source:    bot.DisplayName("Telegram Bot"),
		Payload:   Payload{TelegramChatID: sk.ChatID, TelegramUserID: userTgID, Phone: phone},
	})
	if err != nil {
		return false, fmt.Errorf("create skeleton lead: %w", err)
	}
	s.logger.Info("created lead for new conversation", slog.String("bot_id", bot.ID), slog.String("chat_id", sk.ChatID))
	return true, nil
}

// UpdateStatus changes the status of a lead owned by bot.
func (s *Service) UpdateStatus(ctx context.Context, bot bots.Bot, leadID, status string) (Lead, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !ValidStatus(status) {
		return Lead{}, fmt.Errorf("invalid lead status %q", status)
	}
	lead, err := s.store.UpdateStatus(ctx, bot.ID, leadID, status)
	if err != nil {
		return Lead{}, fmt.Errorf("update lead status: %w", err)
	}
	return lead, nil
}

func (s *Service) emit(ctx context.Context, eventType string, bot bots.Bot, chatID, userTgID, leadID, phone string) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, events.Event{
		Type:      eventType,
		CompanyID: bot.CompanyID,
		BotID:     bot.ID,
		ChatID:    chatID,
		UserID:    userTgID,
		Payload:   events.Payload{LeadID: leadID, Phone: phone},
	})
}

// telegramUserID prefers the sender id; a private chat id stands in for it.
// Group chats have negative ids and identify no single user.
func telegramUserID(userID, chatID string) string {
	if userID = strings.TrimSpace(userID); userID != "" {
		return userID
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || strings.HasPrefix(chatID, "-") {
		return ""
	}
	return chatID
}

func leadCode() string {
	return "L-" + strconv.Itoa(100000+rand.IntN(900000))
}

// PublicID returns a shareable request id such as REQ-LZ3K9Q2A7F1C.
func PublicID(now time.Time) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return "REQ-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + string(suffix)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
