package leads

import (
	"context"
	"time"

	"github.com/cartie/cartie/internal/envelope"
)

// Lead statuses.
const (
	StatusNew        = "NEW"
	StatusContacted  = "CONTACTED"
	StatusInProgress = "IN_PROGRESS"
	StatusWon        = "WON"
	StatusLost       = "LOST"
	StatusDone       = "DONE"
)

// ValidStatus reports whether s is a lead status.
func ValidStatus(s string) bool {
	switch s {
	case StatusNew, StatusContacted, StatusInProgress, StatusWon, StatusLost, StatusDone:
		return true
	}
	return false
}

// Lead types.
const (
	TypeBuy  = "BUY"
	TypeSell = "SELL"
)

// ActivityDuplicateMerged is logged when a submission folds into an
// existing lead.
const ActivityDuplicateMerged = "DUPLICATE_MERGED"

// Request kinds.
const (
	RequestKindClient = "CLIENT"
	RequestKindB2B    = "B2B"
)

// RequestStatusCollecting is the initial status of a request.
const RequestStatusCollecting = "COLLECTING_VARIANTS"

// Lead is a prospective contact captured by a bot.
type Lead struct {
	ID        string
	CompanyID string
	BotID     string
	Code      string
	Name      string
	Phone     string
	UserTgID  string
	Request   string
	Status    string
	Source    string
	Payload   Payload
	CreatedAt time.Time
}

// Payload is the lead's JSON bag.
type Payload struct {
	LeadType          string `json:"leadType,omitempty"`
	Phone             string `json:"phone,omitempty"`
	TelegramChatID    string `json:"telegramChatId,omitempty"`
	TelegramUserID    string `json:"telegramUserId,omitempty"`
	LastInteractionAt string `json:"lastInteractionAt,omitempty"`
	LinkedRequestID   string `json:"linkedRequestId,omitempty"`
	Budget            int    `json:"budget,omitempty"`
	City              string `json:"city,omitempty"`
	Language          string `json:"language,omitempty"`

	Extra map[string]any `json:"-"`
}

type plainPayload Payload

func (p Payload) MarshalJSON() ([]byte, error) {
	return envelope.Marshal(plainPayload(p), p.Extra)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var plain plainPayload
	extra, err := envelope.Unmarshal(data, &plain)
	if err != nil {
		return err
	}
	*p = Payload(plain)
	p.Extra = extra
	return nil
}

// Request is a structured buy ask, optionally linked to a lead.
type Request struct {
	ID          string
	PublicID    string
	Kind        string
	CompanyID   string
	LeadID      string
	ChatID      string
	Title       string
	BudgetMin   int
	BudgetMax   int
	YearMin     int
	YearMax     int
	City        string
	Description string
	Status      string
	Language    string
	CreatedAt   time.Time
}

// RequestInput describes a request to open.
type RequestInput struct {
	Title       string
	BudgetMin   int
	BudgetMax   int
	YearMin     int
	YearMax     int
	City        string
	Description string
	Language    string
}

// Input is one lead submission.
type Input struct {
	ChatID        string
	UserID        string
	Name          string
	Phone         string
	Request       string
	Source        string
	LeadType      string
	Payload       Payload
	CreateRequest bool
	RequestData   RequestInput
}

// Result is the outcome of CreateOrMerge.
type Result struct {
	Lead      Lead
	Duplicate bool
	Request   *Request
}

// Activity is one lead timeline entry.
type Activity struct {
	LeadID  string
	Type    string
	Payload map[string]any
}

// Match selects a lead for deduplication. Since zero disables the window.
type Match struct {
	BotID    string
	Phone    string
	UserTgID string
	Name     string
	Since    time.Time
}

// Store persists leads and requests.
type Store interface {
	// FindLatest returns the newest lead matching every non-empty field of m.
	FindLatest(ctx context.Context, m Match) (Lead, bool, error)
	CreateLead(ctx context.Context, lead Lead) (Lead, error)
	UpdatePayload(ctx context.Context, leadID string, payload Payload) error
	// UpdateStatus returns ErrNotFound unless the lead belongs to botID.
	UpdateStatus(ctx context.Context, botID, leadID, status string) (Lead, error)
	AddActivity(ctx context.Context, activity Activity) error
	CreateRequest(ctx context.Context, req Request) (Request, error)
}
