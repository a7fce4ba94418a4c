// Package ingest turns channel activity into inventory: posts into drafts,
// bot membership changes into publishing destinations, and MTProto history
// into car listings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/media"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/telegram"
)

const (
	draftSourceChannel = "CHANNEL"
	importedTag        = "imported"
	fileIDPrefix       = "tg_file_id:"
)

// ParsedMessage is one channel message read through MTProto.
type ParsedMessage struct {
	ChatID        string
	MessageID     int64
	Text          string
	Date          time.Time
	MediaURLs     []string
	MediaGroupKey string
}

// FileLocator resolves a Bot API file id to a download URL.
type FileLocator interface {
	FileURL(ctx context.Context, token, fileID string) (string, error)
}

// MediaFetcher downloads a remote file into the media store.
type MediaFetcher interface {
	Fetch(ctx context.Context, botID, url string) (media.Asset, error)
}

// Service handles channel posts, membership changes and parsed history.
type Service struct {
	drafts       inventory.Drafts
	destinations inventory.Destinations
	listings     inventory.Listings
	detector     Detector
	files        FileLocator
	media        MediaFetcher
	logger       *slog.Logger
	now          func() time.Time
}

// Deps groups the collaborators of Service. Files and Media are optional:
// without them post photos are kept as file id references.
type Deps struct {
	Drafts       inventory.Drafts
	Destinations inventory.Destinations
	Listings     inventory.Listings
	Detector     Detector
	Files        FileLocator
	Media        MediaFetcher
}

func NewService(log *slog.Logger, deps Deps) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		drafts:       deps.Drafts,
		destinations: deps.Destinations,
		listings:     deps.Listings,
		detector:     deps.Detector,
		files:        deps.Files,
		media:        deps.Media,
		logger:       log.With(slog.String("service", "ingest")),
		now:          time.Now,
	}
}

// Stage takes channel posts and membership updates out of the
// conversational pipeline. Repeated deliveries are dropped.
func (s *Service) Stage() pipeline.Stage {
	return func(ctx context.Context, st pipeline.State, next pipeline.Next) error {
		if !st.Update.IsIngestion() {
			return next(ctx, st)
		}
		st.Kind = st.Update.Kind()
		st.ChatID = st.Update.ChatID()
		if st.Duplicate {
			return nil
		}
		return s.HandleUpdate(ctx, st.Bot, st.Update)
	}
}

// HandleUpdate processes a channel_post or my_chat_member update. Other
// kinds are ignored.
func (s *Service) HandleUpdate(ctx context.Context, bot bots.Bot, u telegram.Update) error {
	switch {
	case u.ChannelPost != nil:
		return s.handleChannelPost(ctx, bot, u.ChannelPost)
	case u.MyChatMember != nil:
		return s.handleMembership(ctx, bot, u.MyChatMember)
	}
	return nil
}

func (s *Service) handleChannelPost(ctx context.Context, bot bots.Bot, post *telegram.Message) error {
	if post.Chat == nil {
		return nil
	}
	text := post.Caption
	if text == "" {
		text = post.Text
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	price, hasPrice := ParsePrice(text)
	mileage, hasMileage := ParseMileage(text)
	year, hasYear := ParseYear(text)
	if !hasPrice || (!hasYear && !hasMileage) {
		return nil
	}

	channelID := strconv.FormatInt(post.Chat.ID, 10)
	metadata := map[string]any{
		"channelId": channelID,
		"messageId": post.MessageID,
	}
	if hasYear {
		metadata["parsedYear"] = year
	}
	if hasMileage {
		metadata["parsedMileage"] = mileage
	}
	if thumb := s.thumbnail(ctx, bot, post.Photo); thumb != "" {
		metadata["thumbnail"] = thumb
	}
	title := strings.TrimSpace(post.Chat.Title)
	if title == "" {
		title = "Channel Post"
	}
	created, err := s.drafts.CreateDraft(ctx, inventory.Draft{
		BotID:       bot.ID,
		Source:      draftSourceChannel,
		Title:       title,
		Description: text,
		Price:       fmt.Sprintf("%d %s", price.Amount, price.Currency),
		URL:         MessageLink(channelID, int64(post.MessageID)),
		Status:      inventory.StatusPending,
		Destination: channelID,
		MessageID:   int64(post.MessageID),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	if created {
		s.logger.Info("imported draft from channel", slog.String("bot_id", bot.ID), slog.String("channel_id", channelID))
	}
	return nil
}

// thumbnail stores the largest photo in the media dir. When that is not
// possible the file id is kept so the photo can be fetched later.
func (s *Service) thumbnail(ctx context.Context, bot bots.Bot, photos []tgbotapi.PhotoSize) string {
	largest, ok := telegram.LargestPhoto(photos)
	if !ok {
		return ""
	}
	fallback := fileIDPrefix + largest.FileID
	if s.files == nil || s.media == nil {
		return fallback
	}
	url, err := s.files.FileURL(ctx, bot.Token, largest.FileID)
	if err != nil {
		s.logger.Warn("resolve photo url failed", slog.String("bot_id", bot.ID), slog.Any("error", err))
		return fallback
	}
	asset, err := s.media.Fetch(ctx, bot.ID, url)
	if err != nil {
		s.logger.Warn("download photo failed", slog.String("bot_id", bot.ID), slog.Any("error", err))
		return fallback
	}
	return asset.Path
}

func (s *Service) handleMembership(ctx context.Context, bot bots.Bot, upd *tgbotapi.ChatMemberUpdated) error {
	switch upd.NewChatMember.Status {
	case "administrator", "member", "creator":
	default:
		return nil
	}
	var destType string
	switch upd.Chat.Type {
	case "channel":
		destType = inventory.DestinationChannel
	case "supergroup", "group":
		destType = inventory.DestinationGroup
	default:
		return nil
	}
	chatID := strconv.FormatInt(upd.Chat.ID, 10)
	name := strings.TrimSpace(upd.Chat.Title)
	if name == "" {
		name = chatID
	}
	err := s.destinations.UpsertDestination(ctx, inventory.Destination{
		ID:         "dest_" + chatID,
		BotID:      bot.ID,
		Identifier: chatID,
		Name:       name,
		Type:       destType,
		Verified:   true,
		Tags:       []string{importedTag},
	})
	if err != nil {
		return fmt.Errorf("upsert destination: %w", err)
	}
	s.logger.Info("destination registered",
		slog.String("bot_id", bot.ID),
		slog.String("chat_id", chatID),
		slog.String("type", destType),
	)
	return nil
}

// HandleParsed imports one channel message as a car listing when it passes
// the source's import rules. Messages already imported are skipped.
func (s *Service) HandleParsed(ctx context.Context, src inventory.ChannelSource, msg ParsedMessage) error {
	if s.listings == nil {
		return errors.New("listing store not configured")
	}
	now := s.now()
	data, ok := ExtractCarData(s.detector, msg.Text, now)
	if !ok {
		return nil
	}
	data, ok = ApplyRules(data, src.ImportRules)
	if !ok {
		s.logger.Debug("message filtered by import rules",
			slog.String("source_id", src.ID),
			slog.Int64("message_id", msg.MessageID),
		)
		return nil
	}
	companyID := src.Connector.CompanyID
	if companyID == "" {
		companyID = src.CompanyID
	}
	status := inventory.StatusPending
	if src.ImportRules.AutoPublish {
		status = inventory.StatusAvailable
	}
	year := data.Year
	if year == 0 {
		year = now.Year()
	}
	postedAt := msg.Date
	if postedAt.IsZero() {
		postedAt = now
	}
	listing := inventory.Listing{
		CompanyID:       companyID,
		Title:           data.Title,
		Year:            year,
		Price:           data.Price,
		Currency:        data.Currency,
		Mileage:         data.Mileage,
		Location:        data.Location,
		MediaURLs:       msg.MediaURLs,
		Specs:           data.Specs,
		Status:          status,
		Source:          inventory.SourceMTProto,
		SourceURL:       MessageLink(msg.ChatID, msg.MessageID),
		SourceChatID:    msg.ChatID,
		SourceMessageID: msg.MessageID,
		MediaGroupKey:   msg.MediaGroupKey,
		OriginalRaw: map[string]any{
			"text":            msg.Text,
			"date":            postedAt.UTC().Format(time.RFC3339),
			"channelSourceId": src.ID,
		},
		PostedAt: postedAt,
	}
	if len(msg.MediaURLs) > 0 {
		listing.Thumbnail = msg.MediaURLs[0]
	}
	created, err := s.listings.CreateListing(ctx, listing)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	if created {
		s.logger.Info("imported listing",
			slog.String("source_id", src.ID),
			slog.Int64("message_id", msg.MessageID),
			slog.String("title", data.Title),
		)
	}
	return nil
}

// MessageLink is the t.me link of a message in a private channel.
func MessageLink(chatID string, messageID int64) string {
	return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(chatID, "-100"), messageID)
}
