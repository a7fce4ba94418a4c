package session

import (
	"context"
	"errors"
	"time"

	"github.com/cartie/cartie/internal/envelope"
)

// StateStart is the state of a freshly created session.
const StateStart = "START"

var ErrNotFound = errors.New("session not found")

// Session is the conversational state of one chat with one bot.
type Session struct {
	ID         string
	BotID      string
	ChatID     string
	State      string
	Variables  Variables
	LastActive time.Time
}

// Variables is the session variable bag: the keys the template flows use plus
// whatever the legacy interpreter stores.
type Variables struct {
	Language    string       `json:"language,omitempty"`
	Lang        string       `json:"lang,omitempty"`
	LeadFlow    *LeadFlow    `json:"leadFlow,omitempty"`
	CatalogFlow *CatalogFlow `json:"catalogFlow,omitempty"`
	B2BFlow     *B2BFlow     `json:"b2bFlow,omitempty"`

	Extra map[string]any `json:"-"`
}

// LeadFlow collects the client lead conversation.
type LeadFlow struct {
	Name   string `json:"name,omitempty"`
	Car    string `json:"car,omitempty"`
	Budget int    `json:"budget,omitempty"`
	City   string `json:"city,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// CatalogFlow collects catalog search filters and the sell branch.
type CatalogFlow struct {
	Brand    string `json:"brand,omitempty"`
	Model    string `json:"model,omitempty"`
	YearMin  int    `json:"yearMin,omitempty"`
	YearMax  int    `json:"yearMax,omitempty"`
	PriceMin int    `json:"priceMin,omitempty"`
	PriceMax int    `json:"priceMax,omitempty"`
	City     string `json:"city,omitempty"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Car      string `json:"car,omitempty"`
}

// B2BFlow collects a dealer-to-dealer request.
type B2BFlow struct {
	Title       string `json:"title,omitempty"`
	YearMin     int    `json:"yearMin,omitempty"`
	YearMax     int    `json:"yearMax,omitempty"`
	BudgetMin   int    `json:"budgetMin,omitempty"`
	BudgetMax   int    `json:"budgetMax,omitempty"`
	City        string `json:"city,omitempty"`
	Description string `json:"description,omitempty"`
}

type plainVariables Variables

func (v Variables) MarshalJSON() ([]byte, error) {
	return envelope.Marshal(plainVariables(v), v.Extra)
}

func (v *Variables) UnmarshalJSON(data []byte) error {
	var plain plainVariables
	extra, err := envelope.Unmarshal(data, &plain)
	if err != nil {
		return err
	}
	*v = Variables(plain)
	v.Extra = extra
	return nil
}

// Locale returns the language stored by the conversation, if any.
func (v Variables) Locale() string {
	if v.Language != "" {
		return v.Language
	}
	return v.Lang
}

// Clone returns a copy that shares no flow pointers with v.
func (v Variables) Clone() Variables {
	out := v
	out.Extra = envelope.CloneMap(v.Extra)
	if v.LeadFlow != nil {
		flow := *v.LeadFlow
		out.LeadFlow = &flow
	}
	if v.CatalogFlow != nil {
		flow := *v.CatalogFlow
		out.CatalogFlow = &flow
	}
	if v.B2BFlow != nil {
		flow := *v.B2BFlow
		out.B2BFlow = &flow
	}
	return out
}

// Store persists sessions keyed by (bot, chat).
type Store interface {
	Get(ctx context.Context, botID, chatID string) (Session, error)
	// Create inserts a START session, or returns the existing one when a
	// concurrent first contact won the insert. created reports which.
	Create(ctx context.Context, botID, chatID string) (sess Session, created bool, err error)
	Update(ctx context.Context, sess Session) (Session, error)
}
