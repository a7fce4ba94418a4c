package router

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/leads"
)

// LeadCardData is what an admin card shows about a lead.
type LeadCardData struct {
	Name    string
	Phone   string
	Request string
	City    string
	Budget  int
}

// LeadCard renders a lead for the admin chat.
func LeadCard(d LeadCardData) string {
	name := d.Name
	if strings.TrimSpace(name) == "" {
		name = "Client"
	}
	lines := []string{"🙋‍♂️ <b>" + html.EscapeString(name) + "</b>"}
	if d.Phone != "" {
		lines = append(lines, "📞 "+html.EscapeString(d.Phone))
	}
	if d.Request != "" {
		lines = append(lines, "🚗 "+html.EscapeString(d.Request))
	}
	if d.City != "" {
		lines = append(lines, "📍 "+html.EscapeString(d.City))
	}
	if d.Budget > 0 {
		lines = append(lines, "💰 "+strconv.Itoa(d.Budget))
	}
	return strings.Join(lines, "\n")
}

// RequestCard renders a request for the admin or manager chat.
func RequestCard(r leads.Request) string {
	title := r.Title
	if strings.TrimSpace(title) == "" {
		title = "Request"
	}
	lines := []string{"📄 <b>" + html.EscapeString(title) + "</b>"}
	if r.BudgetMin > 0 || r.BudgetMax > 0 {
		lower, upper := "0", "∞"
		if r.BudgetMin > 0 {
			lower = formatNumber(r.BudgetMin)
		}
		if r.BudgetMax > 0 {
			upper = formatNumber(r.BudgetMax)
		}
		lines = append(lines, fmt.Sprintf("💰 %s - %s USD", lower, upper))
	}
	if r.YearMin > 0 {
		lines = append(lines, fmt.Sprintf("📅 %d+", r.YearMin))
	}
	if r.City != "" {
		lines = append(lines, "📍 "+html.EscapeString(r.City))
	}
	if r.Description != "" {
		lines = append(lines, "📝 "+html.EscapeString(r.Description))
	}
	if r.PublicID != "" {
		lines = append(lines, "ID: "+r.PublicID)
	}
	return strings.Join(lines, "\n")
}

// ListingCaption renders a catalog search result.
func ListingCaption(l inventory.Listing) string {
	title := l.Title
	if strings.TrimSpace(title) == "" {
		title = "Car"
	}
	lines := []string{"🚗 <b>" + html.EscapeString(title) + "</b>"}
	if l.Year > 0 {
		lines = append(lines, fmt.Sprintf("📅 %d", l.Year))
	}
	if price := formatPrice(l.Price, l.Currency); price != "" {
		lines = append(lines, "💰 "+price)
	}
	if l.Location != "" {
		lines = append(lines, "📍 "+html.EscapeString(l.Location))
	}
	return strings.Join(lines, "\n")
}

// StatusKeyboard holds the admin buttons that move a lead through its
// statuses. The callback data is lead_<STATUS>_<lead id>.
func StatusKeyboard(leadID string) *tgbotapi.InlineKeyboardMarkup {
	if leadID == "" {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📞 Contacted", statusCallback(leads.StatusContacted, leadID)),
			tgbotapi.NewInlineKeyboardButtonData("⏳ In progress", statusCallback(leads.StatusInProgress, leadID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏆 Won", statusCallback(leads.StatusWon, leadID)),
			tgbotapi.NewInlineKeyboardButtonData("🚫 Lost", statusCallback(leads.StatusLost, leadID)),
		),
	)
	return &kb
}

const statusCallbackPrefix = "lead_"

func statusCallback(status, leadID string) string {
	return statusCallbackPrefix + status + "_" + leadID
}

// parseStatusCallback splits lead_<STATUS>_<id>. Statuses may contain
// underscores, so the status is matched against the known set.
func parseStatusCallback(data string) (status, leadID string, ok bool) {
	rest, found := strings.CutPrefix(data, statusCallbackPrefix)
	if !found {
		return "", "", false
	}
	for _, s := range []string{
		leads.StatusInProgress, leads.StatusNew, leads.StatusContacted,
		leads.StatusWon, leads.StatusLost, leads.StatusDone,
	} {
		if id, match := strings.CutPrefix(rest, s+"_"); match && id != "" {
			return s, id, true
		}
	}
	return "", "", false
}

func formatPrice(amount int, currency string) string {
	if amount <= 0 {
		return ""
	}
	if currency == "" {
		currency = "USD"
	}
	return formatNumber(amount) + " " + currency
}

// formatNumber groups thousands with commas: 18500 becomes "18,500".
func formatNumber(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
