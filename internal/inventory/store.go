package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cartie/cartie/internal/db"
)

// DefaultSearchLimit caps catalog results.
const DefaultSearchLimit = 5

// DBStore implements the inventory interfaces on Postgres.
type DBStore struct {
	db db.DBTX
}

func NewDBStore(conn db.DBTX) *DBStore {
	return &DBStore{db: conn}
}

const listingColumns = `id, company_id, title, year, price, currency, location, thumbnail, status, posted_at,
	source, source_url, mileage, media_urls, specs, source_chat_id, source_message_id, media_group_key`

func (s *DBStore) Search(ctx context.Context, f Filter) ([]Listing, error) {
	var (
		where = []string{"status = $1"}
		args  = []any{StatusAvailable}
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Brand != "" {
		add("title ILIKE ?", "%"+f.Brand+"%")
	}
	if f.Model != "" {
		add("title ILIKE ?", "%"+f.Model+"%")
	}
	if f.YearMin > 0 {
		add("year >= ?", f.YearMin)
	}
	if f.YearMax > 0 {
		add("year <= ?", f.YearMax)
	}
	if f.PriceMin > 0 {
		add("price >= ?", f.PriceMin)
	}
	if f.PriceMax > 0 {
		add("price <= ?", f.PriceMax)
	}
	if f.City != "" {
		add("location ILIKE ?", "%"+f.City+"%")
	}
	if companyID, err := db.ParseUUID(f.CompanyID); err == nil {
		add("(company_id = ? OR company_id IS NULL)", companyID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	args = append(args, limit)
	query := `SELECT ` + listingColumns + ` FROM car_listings WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY posted_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	defer rows.Close()
	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *DBStore) Get(ctx context.Context, id string) (Listing, bool, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Listing{}, false, nil
	}
	l, err := scanListing(s.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM car_listings WHERE id = $1`, pgID))
	if err != nil {
		if db.IsNoRows(err) {
			return Listing{}, false, nil
		}
		return Listing{}, false, err
	}
	return l, true, nil
}

func (s *DBStore) CreateListing(ctx context.Context, l Listing) (bool, error) {
	specs, err := json.Marshal(nonNilMap(l.Specs))
	if err != nil {
		return false, fmt.Errorf("marshal specs: %w", err)
	}
	raw, err := json.Marshal(nonNilMap(l.OriginalRaw))
	if err != nil {
		return false, fmt.Errorf("marshal original: %w", err)
	}
	mediaURLs := l.MediaURLs
	if mediaURLs == nil {
		mediaURLs = []string{}
	}
	postedAt := l.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now()
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO car_listings (id, company_id, title, year, price, currency, location, thumbnail, status, posted_at,
		   source, source_url, mileage, media_urls, specs, source_chat_id, source_message_id, media_group_key, original_raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (source_chat_id, source_message_id) WHERE source_chat_id IS NOT NULL DO NOTHING`,
		db.OptionalUUID(db.NewID()), db.OptionalUUID(l.CompanyID), l.Title, optionalInt4(l.Year), optionalInt4(l.Price),
		db.Text(l.Currency), db.Text(l.Location), db.Text(l.Thumbnail), l.Status, postedAt,
		l.Source, db.Text(l.SourceURL), optionalInt4(l.Mileage), mediaURLs, specs,
		db.Text(l.SourceChatID), optionalInt8(l.SourceMessageID), db.Text(l.MediaGroupKey), raw,
	)
	if err != nil {
		return false, fmt.Errorf("insert listing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *DBStore) CreateDraft(ctx context.Context, d Draft) (bool, error) {
	metadata, err := json.Marshal(nonNilMap(d.Metadata))
	if err != nil {
		return false, fmt.Errorf("marshal draft metadata: %w", err)
	}
	status := d.Status
	if status == "" {
		status = StatusPending
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO drafts (id, bot_id, source, title, description, price, url, status, destination, message_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (destination, message_id) DO NOTHING`,
		db.OptionalUUID(db.NewID()), db.OptionalUUID(d.BotID), d.Source, d.Title, d.Description, d.Price, d.URL,
		status, d.Destination, d.MessageID, metadata,
	)
	if err != nil {
		return false, fmt.Errorf("insert draft: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *DBStore) UpsertDestination(ctx context.Context, d Destination) error {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO destinations (id, bot_id, identifier, name, type, verified, tags, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (identifier) DO UPDATE SET
		   name = EXCLUDED.name,
		   type = EXCLUDED.type,
		   verified = EXCLUDED.verified,
		   bot_id = COALESCE(EXCLUDED.bot_id, destinations.bot_id),
		   tags = ARRAY(SELECT DISTINCT unnest(destinations.tags || EXCLUDED.tags)),
		   updated_at = now()`,
		d.ID, db.OptionalUUID(d.BotID), d.Identifier, d.Name, d.Type, d.Verified, tags,
	)
	if err != nil {
		return fmt.Errorf("upsert destination: %w", err)
	}
	return nil
}

func (s *DBStore) ActiveSources(ctx context.Context) ([]ChannelSource, error) {
	rows, err := s.db.Query(ctx,
		`SELECT s.id, s.connector_id, COALESCE(s.company_id, c.company_id), s.channel_id, s.access_hash, s.title,
		   s.username, s.status, s.import_rules, s.last_synced_at, c.name, c.phone, c.status
		 FROM channel_sources s
		 JOIN mtproto_connectors c ON c.id = s.connector_id
		 WHERE s.status = $1
		 ORDER BY s.title`,
		SourceActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list channel sources: %w", err)
	}
	defer rows.Close()
	var out []ChannelSource
	for rows.Next() {
		var (
			src                     ChannelSource
			id, connectorID, compID pgtype.UUID
			username, connPhone     pgtype.Text
			rules                   []byte
			lastSynced              pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &connectorID, &compID, &src.ChannelID, &src.AccessHash, &src.Title,
			&username, &src.Status, &rules, &lastSynced, &src.Connector.Name, &connPhone, &src.Connector.Status); err != nil {
			return nil, err
		}
		src.ID = db.UUIDString(id)
		src.ConnectorID = db.UUIDString(connectorID)
		src.CompanyID = db.UUIDString(compID)
		src.Username = db.TextValue(username)
		if lastSynced.Valid {
			src.LastSyncedAt = lastSynced.Time
		}
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &src.ImportRules); err != nil {
				return nil, fmt.Errorf("decode import rules of source %s: %w", src.ID, err)
			}
		}
		src.Connector.ID = src.ConnectorID
		src.Connector.CompanyID = src.CompanyID
		src.Connector.Phone = db.TextValue(connPhone)
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *DBStore) ReadyConnectors(ctx context.Context) ([]Connector, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, company_id, name, phone, status FROM mtproto_connectors WHERE status = $1 ORDER BY name`,
		ConnectorReady,
	)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()
	var out []Connector
	for rows.Next() {
		var (
			c             Connector
			id, companyID pgtype.UUID
			phone         pgtype.Text
		)
		if err := rows.Scan(&id, &companyID, &c.Name, &phone, &c.Status); err != nil {
			return nil, err
		}
		c.ID = db.UUIDString(id)
		c.CompanyID = db.UUIDString(companyID)
		c.Phone = db.TextValue(phone)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *DBStore) TouchSource(ctx context.Context, id string, at time.Time) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `UPDATE channel_sources SET last_synced_at = $2 WHERE id = $1`, pgID, at)
	return err
}

func scanListing(row pgx.Row) (Listing, error) {
	var (
		l                             Listing
		id, companyID                 pgtype.UUID
		year, price, mileage          pgtype.Int4
		currency, location, thumbnail pgtype.Text
		sourceURL, chatID, groupKey   pgtype.Text
		messageID                     pgtype.Int8
		specs                         []byte
		postedAt                      pgtype.Timestamptz
	)
	err := row.Scan(&id, &companyID, &l.Title, &year, &price, &currency, &location, &thumbnail, &l.Status, &postedAt,
		&l.Source, &sourceURL, &mileage, &l.MediaURLs, &specs, &chatID, &messageID, &groupKey)
	if err != nil {
		return Listing{}, err
	}
	l.ID = db.UUIDString(id)
	l.CompanyID = db.UUIDString(companyID)
	l.Year = int(year.Int32)
	l.Price = int(price.Int32)
	l.Mileage = int(mileage.Int32)
	l.Currency = db.TextValue(currency)
	l.Location = db.TextValue(location)
	l.Thumbnail = db.TextValue(thumbnail)
	l.SourceURL = db.TextValue(sourceURL)
	l.SourceChatID = db.TextValue(chatID)
	l.SourceMessageID = messageID.Int64
	l.MediaGroupKey = db.TextValue(groupKey)
	if postedAt.Valid {
		l.PostedAt = postedAt.Time
	}
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &l.Specs); err != nil {
			return Listing{}, fmt.Errorf("decode listing specs: %w", err)
		}
	}
	return l, nil
}

func optionalInt4(v int) pgtype.Int4 {
	return pgtype.Int4{Int32: int32(v), Valid: v > 0}
}

func optionalInt8(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
