package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cartie:settings:"

// redisClient is the subset of *redis.Client the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStore shares recently loaded settings between processes. Redis
// failures fall through to the wrapped store.
type RedisStore struct {
	client redisClient
	inner  Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(log *slog.Logger, client redisClient, inner Store, ttl time.Duration) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client: client,
		inner:  inner,
		ttl:    ttl,
		logger: log.With(slog.String("component", "settings_redis")),
	}
}

func (s *RedisStore) Load(ctx context.Context, companyID string) (Company, error) {
	key := redisKeyPrefix + companyID
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out Company
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		s.logger.Warn("discarding corrupt cached settings", slog.String("company_id", companyID))
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("redis get failed", slog.String("company_id", companyID), slog.Any("error", err))
	}

	out, err := s.inner.Load(ctx, companyID)
	if err != nil {
		return Company{}, err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return out, nil
	}
	if err := s.client.Set(ctx, key, body, s.ttl).Err(); err != nil {
		s.logger.Warn("redis set failed", slog.String("company_id", companyID), slog.Any("error", err))
	}
	return out, nil
}
