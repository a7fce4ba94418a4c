package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Transport performs Bot API calls on behalf of a bot token.
type Transport interface {
	Send(ctx context.Context, token string, c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(ctx context.Context, token string, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(ctx context.Context, token string, cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// BotTransport keeps one tgbotapi client per token. Clients are built
// without the getMe handshake, so an unknown token fails on first use
// instead of at construction.
type BotTransport struct {
	logger   *slog.Logger
	client   *http.Client
	endpoint string

	mu   sync.RWMutex
	bots map[string]*tgbotapi.BotAPI
}

// NewBotTransport creates a transport. An empty endpoint uses the public
// Bot API; timeout bounds every HTTP round trip.
func NewBotTransport(log *slog.Logger, endpoint string, timeout time.Duration) *BotTransport {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	t := &BotTransport{
		logger:   log.With(slog.String("component", "telegram_transport")),
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
	return t
}

// SetLibraryLogger routes tgbotapi's own debug output to log. The library
// keeps a single package-level logger, so call this once at startup.
func SetLibraryLogger(log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	return tgbotapi.SetLogger(&slogBotLogger{log: log.With(slog.String("component", "tgbotapi"))})
}

// Bot returns the cached client for token.
func (t *BotTransport) Bot(token string) (*tgbotapi.BotAPI, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	t.mu.RLock()
	bot, ok := t.bots[token]
	t.mu.RUnlock()
	if ok {
		return bot, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if bot, ok := t.bots[token]; ok {
		return bot, nil
	}
	bot = &tgbotapi.BotAPI{
		Token:  token,
		Client: t.client,
		Buffer: 100,
	}
	bot.SetAPIEndpoint(t.endpoint)
	t.bots[token] = bot
	return bot, nil
}

func (t *BotTransport) Send(ctx context.Context, token string, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := ctx.Err(); err != nil {
		return tgbotapi.Message{}, err
	}
	bot, err := t.Bot(token)
	if err != nil {
		return tgbotapi.Message{}, err
	}
	return bot.Send(c)
}

func (t *BotTransport) Request(ctx context.Context, token string, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bot, err := t.Bot(token)
	if err != nil {
		return nil, err
	}
	return bot.Request(c)
}

func (t *BotTransport) SendMediaGroup(ctx context.Context, token string, cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bot, err := t.Bot(token)
	if err != nil {
		return nil, err
	}
	return bot.SendMediaGroup(cfg)
}

// FileURL resolves a file id to a direct download URL.
func (t *BotTransport) FileURL(ctx context.Context, token, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bot, err := t.Bot(token)
	if err != nil {
		return "", err
	}
	return bot.GetFileDirectURL(fileID)
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
