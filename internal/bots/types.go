package bots

import (
	"strings"
	"time"

	"github.com/cartie/cartie/internal/envelope"
)

// Conversation templates a bot can run when the legacy interpreter does not
// consume an update.
const (
	TemplateClientLead = "CLIENT_LEAD"
	TemplateCatalog    = "CATALOG"
	TemplateB2B        = "B2B"
)

// Bot is one tenant-owned Telegram bot.
type Bot struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id,omitempty"`
	Name      string    `json:"name"`
	Token     string    `json:"-"`
	Enabled   bool      `json:"enabled"`
	Template  string    `json:"template,omitempty"`
	Config    Settings  `json:"config"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings is the bot's JSON config: typed keys the pipeline reads plus
// whatever else the dashboard stores.
type Settings struct {
	WebhookSecret    string `json:"webhookSecret,omitempty"`
	AdminChatID      string `json:"adminChatId,omitempty"`
	B2BManagerChatID string `json:"b2bManagerChatId,omitempty"`
	Username         string `json:"username,omitempty"`
	DefaultLocale    string `json:"defaultLocale,omitempty"`
	DedupWindowDays  int    `json:"dedupWindowDays,omitempty"`
	LeadDedupDays    int    `json:"leadDedupDays,omitempty"`
	MiniAppURL       string `json:"miniAppUrl,omitempty"`
	ShowcaseSlug     string `json:"defaultShowcaseSlug,omitempty"`

	Extra map[string]any `json:"-"`
}

type plainSettings Settings

func (s Settings) MarshalJSON() ([]byte, error) {
	return envelope.Marshal(plainSettings(s), s.Extra)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	var plain plainSettings
	extra, err := envelope.Unmarshal(data, &plain)
	if err != nil {
		return err
	}
	*s = Settings(plain)
	s.Extra = extra
	return nil
}

// Secret returns the bot's webhook secret, or fallback when the bot has none.
func (b Bot) Secret(fallback string) string {
	if secret := strings.TrimSpace(b.Config.WebhookSecret); secret != "" {
		return secret
	}
	return strings.TrimSpace(fallback)
}

// DedupWindowDays returns the bot-level lead dedup window, or zero.
func (b Bot) DedupWindowDays() int {
	if b.Config.DedupWindowDays > 0 {
		return b.Config.DedupWindowDays
	}
	if b.Config.LeadDedupDays > 0 {
		return b.Config.LeadDedupDays
	}
	return 0
}

// AdminChatID returns the chat that receives lead cards.
func (b Bot) AdminChatID() string {
	return strings.TrimSpace(b.Config.AdminChatID)
}

// ManagerChatID returns the B2B manager chat, defaulting to the admin chat.
func (b Bot) ManagerChatID() string {
	if id := strings.TrimSpace(b.Config.B2BManagerChatID); id != "" {
		return id
	}
	return b.AdminChatID()
}

// DisplayName returns the bot name used in menus and lead sources.
func (b Bot) DisplayName(fallback string) string {
	if name := strings.TrimSpace(b.Name); name != "" {
		return name
	}
	return fallback
}
