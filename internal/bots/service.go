package bots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cartie/cartie/internal/db"
)

var ErrBotNotFound = errors.New("bot not found")

// Getter loads one bot configuration.
type Getter interface {
	Get(ctx context.Context, botID string) (Bot, error)
}

// Service reads bot configurations. Bots are written by the dashboard; the
// pipeline only reads them.
type Service struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewService creates a new bot service.
func NewService(log *slog.Logger, conn db.DBTX) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     conn,
		logger: log.With(slog.String("service", "bots")),
	}
}

const getBotSQL = `SELECT id, company_id, name, token, enabled, template, config, created_at
FROM bot_configs WHERE id = $1`

// Get returns the bot by id, or ErrBotNotFound.
func (s *Service) Get(ctx context.Context, botID string) (Bot, error) {
	if s.db == nil {
		return Bot{}, fmt.Errorf("bot queries not configured")
	}
	pgID, err := db.ParseUUID(botID)
	if err != nil {
		return Bot{}, ErrBotNotFound
	}
	var (
		id        pgtype.UUID
		companyID pgtype.UUID
		bot       Bot
		config    []byte
		createdAt pgtype.Timestamptz
	)
	err = s.db.QueryRow(ctx, getBotSQL, pgID).Scan(&id, &companyID, &bot.Name, &bot.Token, &bot.Enabled, &bot.Template, &config, &createdAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Bot{}, ErrBotNotFound
		}
		return Bot{}, fmt.Errorf("get bot: %w", err)
	}
	bot.ID = db.UUIDString(id)
	bot.CompanyID = db.UUIDString(companyID)
	bot.Template = strings.ToUpper(strings.TrimSpace(bot.Template))
	if createdAt.Valid {
		bot.CreatedAt = createdAt.Time
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &bot.Config); err != nil {
			s.logger.Warn("bot config is not valid json", slog.String("bot_id", bot.ID), slog.Any("error", err))
		}
	}
	return bot, nil
}

// Cached wraps a Getter with a short in-process cache. The cache is owned by
// the process and is not shared between instances.
type Cached struct {
	inner Getter
	ttl   time.Duration
	now   func() time.Time
	cache *ttlCache
}

// NewCached returns a Getter that reuses lookups for ttl.
func NewCached(inner Getter, ttl time.Duration) *Cached {
	return &Cached{inner: inner, ttl: ttl, now: time.Now, cache: newTTLCache()}
}

func (c *Cached) Get(ctx context.Context, botID string) (Bot, error) {
	if bot, ok := c.cache.get(botID, c.now()); ok {
		return bot, nil
	}
	bot, err := c.inner.Get(ctx, botID)
	if err != nil {
		return Bot{}, err
	}
	c.cache.put(botID, bot, c.now().Add(c.ttl))
	return bot, nil
}
