// Package inventory stores car listings, channel drafts, publishing
// destinations and the MTProto channel sources that feed them.
package inventory

import (
	"context"
	"time"
)

// Listing statuses.
const (
	StatusAvailable = "AVAILABLE"
	StatusPending   = "PENDING"
)

// Listing sources.
const (
	SourceManual  = "MANUAL"
	SourceChannel = "CHANNEL"
	SourceMTProto = "MTPROTO"
)

// Connector statuses.
const (
	ConnectorReady = "READY"
)

// Channel source statuses.
const (
	SourceActive = "ACTIVE"
)

// Destination types.
const (
	DestinationChannel = "CHANNEL"
	DestinationGroup   = "GROUP"
)

// Listing is a car for sale.
type Listing struct {
	ID              string
	CompanyID       string
	Title           string
	Year            int
	Price           int
	Currency        string
	Mileage         int
	Location        string
	Thumbnail       string
	MediaURLs       []string
	Specs           map[string]any
	Status          string
	Source          string
	SourceURL       string
	SourceChatID    string
	SourceMessageID int64
	MediaGroupKey   string
	OriginalRaw     map[string]any
	PostedAt        time.Time
}

// Filter narrows a listing search. Zero fields do not filter.
type Filter struct {
	CompanyID string
	Brand     string
	Model     string
	YearMin   int
	YearMax   int
	PriceMin  int
	PriceMax  int
	City      string
	Limit     int
}

// Draft is a channel post awaiting review.
type Draft struct {
	ID          string
	BotID       string
	Source      string
	Title       string
	Description string
	Price       string
	URL         string
	Status      string
	Destination string
	MessageID   int64
	Metadata    map[string]any
}

// Destination is a channel or group the bot can publish to.
type Destination struct {
	ID         string
	BotID      string
	Identifier string
	Name       string
	Type       string
	Verified   bool
	Tags       []string
}

// Connector is an MTProto user session.
type Connector struct {
	ID        string
	CompanyID string
	Name      string
	Phone     string
	Status    string
}

// ChannelSource is a channel watched through a connector.
type ChannelSource struct {
	ID           string
	ConnectorID  string
	CompanyID    string
	ChannelID    string
	AccessHash   int64
	Title        string
	Username     string
	Status       string
	ImportRules  ImportRules
	LastSyncedAt time.Time
	Connector    Connector
}

// ImportRules filter and adjust listings imported from a channel source.
type ImportRules struct {
	MinYear        int      `json:"minYear,omitempty"`
	MaxYear        int      `json:"maxYear,omitempty"`
	MinPrice       int      `json:"minPrice,omitempty"`
	MaxPrice       int      `json:"maxPrice,omitempty"`
	FilterKeywords []string `json:"filterKeywords,omitempty"`
	MapTo          MapTo    `json:"mapTo,omitempty"`
	AutoPublish    bool     `json:"autoPublish,omitempty"`
}

// MapTo overrides parsed values.
type MapTo struct {
	Brand    string `json:"brand,omitempty"`
	Location string `json:"location,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Listings searches and records car listings.
type Listings interface {
	Search(ctx context.Context, f Filter) ([]Listing, error)
	Get(ctx context.Context, id string) (Listing, bool, error)
	// CreateListing inserts l unless a listing from the same source
	// message exists; created is false in that case.
	CreateListing(ctx context.Context, l Listing) (created bool, err error)
}

// Drafts records drafts imported from channel posts.
type Drafts interface {
	// CreateDraft is idempotent per (destination, message id).
	CreateDraft(ctx context.Context, d Draft) (created bool, err error)
}

// Destinations records publishing targets.
type Destinations interface {
	UpsertDestination(ctx context.Context, d Destination) error
}

// Sources lists channel sources for the backfill worker.
type Sources interface {
	ActiveSources(ctx context.Context) ([]ChannelSource, error)
	ReadyConnectors(ctx context.Context) ([]Connector, error)
	TouchSource(ctx context.Context, id string, at time.Time) error
}
