package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cartie/cartie/internal/db"
)

// DBStore reads company_settings.
type DBStore struct {
	db db.DBTX
}

func NewDBStore(conn db.DBTX) *DBStore {
	return &DBStore{db: conn}
}

func (s *DBStore) Load(ctx context.Context, companyID string) (Company, error) {
	pgID, err := db.ParseUUID(companyID)
	if err != nil {
		return Company{}, err
	}
	var (
		features []byte
		locale   string
	)
	err = s.db.QueryRow(ctx,
		`SELECT features, default_locale FROM company_settings WHERE company_id = $1`, pgID,
	).Scan(&features, &locale)
	if err != nil {
		if db.IsNoRows(err) {
			return Company{}, nil
		}
		return Company{}, fmt.Errorf("load company settings: %w", err)
	}
	out := Company{DefaultLocale: strings.ToUpper(strings.TrimSpace(locale))}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &out.Features); err != nil {
			return Company{}, fmt.Errorf("decode features: %w", err)
		}
	}
	return out, nil
}

type cacheEntry struct {
	value   Company
	expires time.Time
}

// Cache is a process-scoped TTL cache in front of a Store. It is not shared
// between processes; each instance loads its own copy.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a settings cache. ttl <= 0 disables caching.
func NewCache(log *slog.Logger, store Store, ttl time.Duration) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:   store,
		ttl:     ttl,
		logger:  log.With(slog.String("component", "settings_cache")),
		now:     time.Now,
		entries: map[string]cacheEntry{},
	}
}

// Get returns the company settings. Load failures are logged and cached as
// empty settings for the TTL so a broken store is not hit per update.
func (c *Cache) Get(ctx context.Context, companyID string) Company {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" || c.store == nil {
		return Company{}
	}
	now := c.now()
	c.mu.Lock()
	entry, ok := c.entries[companyID]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.value
	}

	value, err := c.store.Load(ctx, companyID)
	if err != nil {
		c.logger.Warn("load feature flags failed", slog.String("company_id", companyID), slog.Any("error", err))
		value = Company{}
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[companyID] = cacheEntry{value: value, expires: now.Add(c.ttl)}
		c.mu.Unlock()
	}
	return value
}

