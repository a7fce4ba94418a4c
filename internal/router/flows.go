package router

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/normalize"
	"github.com/cartie/cartie/internal/session"
)

// Conversation states of the built-in templates.
const (
	StateClientMenu    = "CL_MENU"
	StateClientName    = "CL_NAME"
	StateClientCar     = "CL_CAR"
	StateClientBudget  = "CL_BUDGET"
	StateClientCity    = "CL_CITY"
	StateClientContact = "CL_CONTACT"
	StateClientConfirm = "CL_CONFIRM"
	StateClientSupport = "CL_SUPPORT"

	StateCatalogMenu        = "CAT_MENU"
	StateCatalogFindBrand   = "CAT_FIND_BRAND"
	StateCatalogFindModel   = "CAT_FIND_MODEL"
	StateCatalogFindYear    = "CAT_FIND_YEAR"
	StateCatalogFindPrice   = "CAT_FIND_PRICE"
	StateCatalogFindCity    = "CAT_FIND_CITY"
	StateCatalogResults     = "CAT_RESULTS"
	StateCatalogSellContact = "CAT_SELL_CONTACT"
	StateCatalogSellCar     = "CAT_SELL_CAR"
	StateCatalogSellConfirm = "CAT_SELL_CONFIRM"

	StateB2BMenu    = "B2B_MENU"
	StateB2BTitle   = "B2B_REQ_TITLE"
	StateB2BYear    = "B2B_REQ_YEAR"
	StateB2BBudget  = "B2B_REQ_BUDGET"
	StateB2BCity    = "B2B_REQ_CITY"
	StateB2BDesc    = "B2B_REQ_DESC"
	StateB2BConfirm = "B2B_REQ_CONFIRM"
)

// Callback actions of the confirm keyboards.
const (
	ActionClientLeadSend = "cl_lead_send"
	ActionClientLeadBack = "cl_lead_back"
	ActionCatalogSell    = "cat_sell_send"
	ActionCatalogBack    = "cat_sell_back"
	ActionB2BSend        = "b2b_req_send"
	ActionB2BBack        = "b2b_req_back"
)

const defaultBotName = "CarTie"

var numberRe = regexp.MustCompile(`\d{2,}`)

// commands recognized in every template, on top of the localized buttons.
type commands struct {
	menu, cancel, back, skip bool
}

func (t *turn) commands(text string) commands {
	normalized := normalizeInput(text)
	return commands{
		menu:   IsCommand(text, "/start", "/menu", "menu", "reset") || strings.HasPrefix(normalized, "/start "),
		cancel: IsCommand(text, "cancel", "stop", "відміна", "отмена", t.button("common.cancel")),
		back:   IsCommand(text, "back", "назад", "⬅️ back", "⬅️ назад", t.button("common.back")),
		skip:   IsCommand(text, "skip", t.button("common.skip")),
	}
}

func (r *Router) handleMessage(ctx context.Context, t *turn) (bool, error) {
	if !t.st.HasSession {
		return false, nil
	}
	if r.runLegacy(ctx, t) {
		return true, nil
	}
	text := strings.TrimSpace(t.st.Update.MessageText())
	switch t.st.Bot.Template {
	case bots.TemplateClientLead:
		return r.clientLead(ctx, t, text)
	case bots.TemplateCatalog:
		return r.catalog(ctx, t, text)
	case bots.TemplateB2B:
		return r.b2b(ctx, t, text)
	}
	return false, nil
}

// showMenu resets the template's flow and shows its main keyboard, after an
// optional notice.
func (t *turn) showMenu(ctx context.Context, template, notice string) error {
	if notice != "" {
		if err := t.reply(ctx, notice, nil); err != nil {
			return err
		}
	}
	botName := html.EscapeString(t.st.Bot.DisplayName(defaultBotName))
	vars := t.vars()
	var (
		text  string
		state string
		kb    any
	)
	switch template {
	case bots.TemplateClientLead:
		text = t.text("clientMenu", "bot", botName)
		kb = t.keyboard([]string{t.button("clientLead.lead")}, []string{t.button("clientLead.support")})
		state = StateClientMenu
		vars.LeadFlow = &session.LeadFlow{}
	case bots.TemplateCatalog:
		text = t.text("catalogMenu", "bot", botName)
		kb = t.keyboard([]string{t.button("catalog.find"), t.button("catalog.sell")})
		state = StateCatalogMenu
		vars.CatalogFlow = &session.CatalogFlow{}
	case bots.TemplateB2B:
		text = t.text("b2bMenu", "bot", botName)
		kb = t.keyboard([]string{t.button("b2b.request")})
		state = StateB2BMenu
		vars.B2BFlow = &session.B2BFlow{}
	default:
		return fmt.Errorf("unknown template %q", template)
	}
	if err := t.reply(ctx, text, kb); err != nil {
		return err
	}
	return t.save(ctx, state, vars)
}

func (t *turn) sendConfirm(ctx context.Context, intro string, summary []string, confirmAction, backAction string) error {
	return t.reply(ctx, intro+"\n\n"+strings.Join(summary, "\n"), t.confirmKeyboard(confirmAction, backAction))
}

// step saves state and asks the next question.
func (t *turn) step(ctx context.Context, state string, vars session.Variables, key string, markup any) error {
	if err := t.save(ctx, state, vars); err != nil {
		return err
	}
	return t.reply(ctx, t.text(key), markup)
}

// menuState maps a fresh session onto the template's menu.
func menuState(state, menu string) string {
	if state == "" || state == session.StateStart {
		return menu
	}
	return state
}

func (r *Router) clientLead(ctx context.Context, t *turn, text string) (bool, error) {
	state := menuState(t.sess.State, StateClientMenu)
	vars := t.vars()
	if vars.LeadFlow == nil {
		vars.LeadFlow = &session.LeadFlow{}
	}
	flow := vars.LeadFlow
	cmd := t.commands(text)
	isLead := IsCommand(text, "/buy", t.button("clientLead.lead"))
	isSupport := IsCommand(text, t.button("clientLead.support"))

	switch {
	case cmd.menu:
		return true, t.showMenu(ctx, bots.TemplateClientLead, "")
	case cmd.cancel:
		return true, t.showMenu(ctx, bots.TemplateClientLead, t.text("cancelled"))
	case state == StateClientMenu && !isLead && !isSupport:
		return true, t.showMenu(ctx, bots.TemplateClientLead, t.text("fallback"))
	case isSupport || state == StateClientSupport:
		if state != StateClientSupport {
			return true, t.step(ctx, StateClientSupport, vars, "supportAsk", removeKeyboard())
		}
		if err := t.reply(ctx, t.text("supportReceived"), nil); err != nil {
			return true, err
		}
		t.notify(ctx, t.st.Bot.AdminChatID(), fmt.Sprintf("🆘 Support request from %s: %s",
			html.EscapeString(senderName(t, "User")), html.EscapeString(text)), nil)
		return true, t.showMenu(ctx, bots.TemplateClientLead, "")
	case isLead || state == StateClientMenu:
		vars.LeadFlow = &session.LeadFlow{}
		return true, t.step(ctx, StateClientName, vars, "askName", removeKeyboard())
	}

	switch state {
	case StateClientName:
		if cmd.back {
			return true, t.showMenu(ctx, bots.TemplateClientLead, "")
		}
		if len([]rune(text)) < 2 {
			return true, t.reply(ctx, t.text("invalidName"), nil)
		}
		flow.Name = text
		return true, t.step(ctx, StateClientCar, vars, "askCar", nil)
	case StateClientCar:
		if cmd.back {
			return true, t.step(ctx, StateClientName, vars, "askName", nil)
		}
		if len([]rune(text)) < 3 {
			return true, t.reply(ctx, t.text("invalidCar"), nil)
		}
		flow.Car = text
		return true, t.step(ctx, StateClientBudget, vars, "askBudget", nil)
	case StateClientBudget:
		if cmd.back {
			return true, t.step(ctx, StateClientCar, vars, "askCar", nil)
		}
		if cmd.skip {
			flow.Budget = 0
		} else {
			budget := digitsOnly(text)
			if budget <= 0 {
				return true, t.reply(ctx, t.text("invalidBudget"), nil)
			}
			flow.Budget = budget
		}
		return true, t.step(ctx, StateClientCity, vars, "askCity", nil)
	case StateClientCity:
		if cmd.back {
			return true, t.step(ctx, StateClientBudget, vars, "askBudget", nil)
		}
		if cmd.skip {
			flow.City = ""
		} else {
			flow.City = t.city(ctx, text)
		}
		return true, t.step(ctx, StateClientContact, vars, "askContact", t.contactKeyboard())
	case StateClientContact:
		if cmd.back {
			return true, t.step(ctx, StateClientCity, vars, "askCity", nil)
		}
		phone, ok := t.phone(text)
		if !ok {
			return true, t.reply(ctx, t.text("invalidPhone"), nil)
		}
		flow.Phone = phone
		if err := t.save(ctx, StateClientConfirm, vars); err != nil {
			return true, err
		}
		summary := []string{"🙋 " + html.EscapeString(flow.Name), "🚗 " + html.EscapeString(flow.Car)}
		if flow.Budget > 0 {
			summary = append(summary, "💰 $"+strconv.Itoa(flow.Budget))
		}
		if flow.City != "" {
			summary = append(summary, "📍 "+html.EscapeString(flow.City))
		}
		summary = append(summary, "📞 "+flow.Phone)
		return true, t.sendConfirm(ctx, t.text("leadConfirm"), summary, ActionClientLeadSend, ActionClientLeadBack)
	case StateClientConfirm:
		if cmd.back {
			return true, t.step(ctx, StateClientContact, vars, "askContact", t.contactKeyboard())
		}
		return true, t.reply(ctx, t.text("fallback"), nil)
	}
	return false, nil
}

func (r *Router) catalog(ctx context.Context, t *turn, text string) (bool, error) {
	state := menuState(t.sess.State, StateCatalogMenu)
	vars := t.vars()
	if vars.CatalogFlow == nil {
		vars.CatalogFlow = &session.CatalogFlow{}
	}
	flow := vars.CatalogFlow
	cmd := t.commands(text)
	isFind := IsCommand(text, "/find", t.button("catalog.find"))
	isSell := IsCommand(text, "/sell", t.button("catalog.sell"))

	switch {
	case cmd.menu:
		return true, t.showMenu(ctx, bots.TemplateCatalog, "")
	case cmd.cancel:
		return true, t.showMenu(ctx, bots.TemplateCatalog, t.text("cancelled"))
	case state == StateCatalogMenu && !isFind && !isSell:
		return true, t.showMenu(ctx, bots.TemplateCatalog, t.text("fallback"))
	case isFind:
		vars.CatalogFlow = &session.CatalogFlow{}
		return true, t.step(ctx, StateCatalogFindBrand, vars, "catalogAskBrand", t.skipKeyboard("common.cancel"))
	case isSell:
		vars.CatalogFlow = &session.CatalogFlow{}
		return true, t.step(ctx, StateCatalogSellContact, vars, "catalogSellContact", t.contactKeyboard())
	}

	switch state {
	case StateCatalogFindBrand:
		if cmd.back {
			return true, t.showMenu(ctx, bots.TemplateCatalog, "")
		}
		if !cmd.skip {
			flow.Brand = t.brand(ctx, text)
		}
		return true, t.step(ctx, StateCatalogFindModel, vars, "catalogAskModel", t.skipKeyboard("common.back"))
	case StateCatalogFindModel:
		if cmd.back {
			return true, t.step(ctx, StateCatalogFindBrand, vars, "catalogAskBrand", nil)
		}
		if !cmd.skip {
			flow.Model = t.model(ctx, text)
		}
		return true, t.step(ctx, StateCatalogFindYear, vars, "catalogAskYear", t.skipKeyboard("common.back"))
	case StateCatalogFindYear:
		if cmd.back {
			return true, t.step(ctx, StateCatalogFindModel, vars, "catalogAskModel", nil)
		}
		if !cmd.skip {
			flow.YearMin, flow.YearMax = parseRange(text)
		}
		return true, t.step(ctx, StateCatalogFindPrice, vars, "catalogAskPrice", t.skipKeyboard("common.back"))
	case StateCatalogFindPrice:
		if cmd.back {
			return true, t.step(ctx, StateCatalogFindYear, vars, "catalogAskYear", nil)
		}
		if !cmd.skip {
			flow.PriceMin, flow.PriceMax = parseBudget(text)
		}
		return true, t.step(ctx, StateCatalogFindCity, vars, "catalogAskCity", t.skipKeyboard("common.back"))
	case StateCatalogFindCity:
		if cmd.back {
			return true, t.step(ctx, StateCatalogFindPrice, vars, "catalogAskPrice", nil)
		}
		if !cmd.skip {
			flow.City = t.city(ctx, text)
		}
		if err := t.save(ctx, StateCatalogResults, vars); err != nil {
			return true, err
		}
		return true, r.showResults(ctx, t, *flow)
	case StateCatalogSellContact:
		if cmd.back {
			return true, t.showMenu(ctx, bots.TemplateCatalog, "")
		}
		phone, ok := t.phone(text)
		if !ok {
			return true, t.reply(ctx, t.text("invalidPhone"), nil)
		}
		flow.Phone = phone
		if flow.Name == "" {
			flow.Name = senderName(t, "")
		}
		return true, t.step(ctx, StateCatalogSellCar, vars, "catalogSellCar", removeKeyboard())
	case StateCatalogSellCar:
		if cmd.back {
			return true, t.step(ctx, StateCatalogSellContact, vars, "catalogSellContact", nil)
		}
		if len([]rune(text)) < 3 {
			return true, t.reply(ctx, t.text("invalidCar"), nil)
		}
		flow.Car = text
		if err := t.save(ctx, StateCatalogSellConfirm, vars); err != nil {
			return true, err
		}
		summary := []string{"🚗 " + html.EscapeString(flow.Car), "📞 " + flow.Phone}
		return true, t.sendConfirm(ctx, t.text("catalogSellConfirm"), summary, ActionCatalogSell, ActionCatalogBack)
	case StateCatalogSellConfirm:
		if cmd.back {
			return true, t.step(ctx, StateCatalogSellCar, vars, "catalogSellCar", nil)
		}
		return true, t.reply(ctx, t.text("fallback"), nil)
	}
	return false, nil
}

// showResults sends the top catalog matches, the mini-app link with the
// same filters, and the menu.
func (r *Router) showResults(ctx context.Context, t *turn, flow session.CatalogFlow) error {
	var cars []inventory.Listing
	if r.listings != nil {
		r.out.SendChatAction(ctx, t.st.Bot, t.st.ChatID, tgbotapi.ChatTyping)
		found, err := r.listings.Search(ctx, inventory.Filter{
			CompanyID: t.st.CompanyID,
			Brand:     flow.Brand,
			Model:     flow.Model,
			YearMin:   flow.YearMin,
			YearMax:   flow.YearMax,
			PriceMin:  flow.PriceMin,
			PriceMax:  flow.PriceMax,
			City:      flow.City,
			Limit:     inventory.DefaultSearchLimit,
		})
		if err != nil {
			return fmt.Errorf("search listings: %w", err)
		}
		cars = found
	}
	if len(cars) == 0 {
		if err := t.reply(ctx, t.text("catalogNoResults"), nil); err != nil {
			return err
		}
	} else {
		if err := t.reply(ctx, t.text("catalogResults"), nil); err != nil {
			return err
		}
		for _, car := range cars {
			caption := ListingCaption(car)
			var err error
			switch photos := listingPhotos(car); len(photos) {
			case 0:
				err = t.reply(ctx, caption, nil)
			case 1:
				_, err = r.out.SendPhoto(ctx, t.st.Bot, t.st.ChatID, photos[0], caption, nil)
			default:
				_, err = r.out.SendMediaGroup(ctx, t.st.Bot, t.st.ChatID, photos, caption)
			}
			if err != nil {
				return err
			}
		}
	}
	url := BuildMiniAppURL(t.st.Bot, r.miniAppURL, MiniAppFilters{
		Brand:    flow.Brand,
		Model:    flow.Model,
		YearMin:  flow.YearMin,
		YearMax:  flow.YearMax,
		PriceMin: flow.PriceMin,
		PriceMax: flow.PriceMax,
		City:     flow.City,
	})
	if url != "" {
		label := t.button("common.openMiniApp")
		if err := t.reply(ctx, label, miniAppKeyboard(label, url)); err != nil {
			return err
		}
	}
	return t.showMenu(ctx, bots.TemplateCatalog, "")
}

func (r *Router) b2b(ctx context.Context, t *turn, text string) (bool, error) {
	state := menuState(t.sess.State, StateB2BMenu)
	vars := t.vars()
	if vars.B2BFlow == nil {
		vars.B2BFlow = &session.B2BFlow{}
	}
	flow := vars.B2BFlow
	cmd := t.commands(text)
	isNew := IsCommand(text, "/request", t.button("b2b.request"))

	switch {
	case cmd.menu:
		return true, t.showMenu(ctx, bots.TemplateB2B, "")
	case cmd.cancel:
		return true, t.showMenu(ctx, bots.TemplateB2B, t.text("cancelled"))
	case state == StateB2BMenu && !isNew:
		return true, t.showMenu(ctx, bots.TemplateB2B, t.text("fallback"))
	case isNew || state == StateB2BMenu:
		vars.B2BFlow = &session.B2BFlow{}
		return true, t.step(ctx, StateB2BTitle, vars, "b2bAskTitle", removeKeyboard())
	}

	switch state {
	case StateB2BTitle:
		if cmd.back {
			return true, t.showMenu(ctx, bots.TemplateB2B, "")
		}
		if len([]rune(text)) < 3 {
			return true, t.reply(ctx, t.text("invalidCar"), nil)
		}
		flow.Title = text
		return true, t.step(ctx, StateB2BYear, vars, "b2bAskYear", nil)
	case StateB2BYear:
		if cmd.back {
			return true, t.step(ctx, StateB2BTitle, vars, "b2bAskTitle", nil)
		}
		if !cmd.skip {
			flow.YearMin, flow.YearMax = parseRange(text)
		}
		return true, t.step(ctx, StateB2BBudget, vars, "b2bAskBudget", nil)
	case StateB2BBudget:
		if cmd.back {
			return true, t.step(ctx, StateB2BYear, vars, "b2bAskYear", nil)
		}
		if !cmd.skip {
			flow.BudgetMin, flow.BudgetMax = parseBudget(text)
		}
		return true, t.step(ctx, StateB2BCity, vars, "b2bAskCity", nil)
	case StateB2BCity:
		if cmd.back {
			return true, t.step(ctx, StateB2BBudget, vars, "b2bAskBudget", nil)
		}
		if !cmd.skip {
			flow.City = t.city(ctx, text)
		}
		return true, t.step(ctx, StateB2BDesc, vars, "b2bAskDesc", nil)
	case StateB2BDesc:
		if cmd.back {
			return true, t.step(ctx, StateB2BCity, vars, "b2bAskCity", nil)
		}
		flow.Description = text
		if err := t.save(ctx, StateB2BConfirm, vars); err != nil {
			return true, err
		}
		summary := []string{"🚗 " + html.EscapeString(flow.Title)}
		if flow.YearMin > 0 {
			years := strconv.Itoa(flow.YearMin)
			if flow.YearMax > 0 {
				years += "-" + strconv.Itoa(flow.YearMax)
			}
			summary = append(summary, "📅 "+years)
		}
		if flow.BudgetMax > 0 {
			summary = append(summary, "💰 "+t.text("budgetUpTo")+" "+strconv.Itoa(flow.BudgetMax))
		}
		if flow.City != "" {
			summary = append(summary, "📍 "+html.EscapeString(flow.City))
		}
		if flow.Description != "" {
			summary = append(summary, "📝 "+html.EscapeString(flow.Description))
		}
		return true, t.sendConfirm(ctx, t.text("b2bConfirm"), summary, ActionB2BSend, ActionB2BBack)
	case StateB2BConfirm:
		if cmd.back {
			return true, t.step(ctx, StateB2BDesc, vars, "b2bAskDesc", nil)
		}
		return true, t.reply(ctx, t.text("fallback"), nil)
	}
	return false, nil
}

// phone takes the shared contact, or the typed text.
func (t *turn) phone(text string) (string, bool) {
	raw := t.st.Update.ContactPhone()
	if raw == "" {
		raw = text
	}
	return normalize.Phone(raw)
}

func senderName(t *turn, fallback string) string {
	if from := t.st.Update.From(); from != nil {
		if name := strings.TrimSpace(from.FirstName); name != "" {
			return name
		}
		if name := strings.TrimSpace(from.UserName); name != "" {
			return name
		}
	}
	return fallback
}

// parseRange reads "2018-2022". A single number is both bounds.
func parseRange(text string) (lower, upper int) {
	nums := numbers(text)
	switch len(nums) {
	case 0:
		return 0, 0
	case 1:
		return nums[0], nums[0]
	}
	return min(nums[0], nums[1]), max(nums[0], nums[1])
}

// parseBudget reads "15000-30000". A single number is the upper bound.
func parseBudget(text string) (lower, upper int) {
	nums := numbers(text)
	switch len(nums) {
	case 0:
		return 0, 0
	case 1:
		return 0, nums[0]
	}
	return min(nums[0], nums[1]), max(nums[0], nums[1])
}

func numbers(text string) []int {
	var out []int
	for _, m := range numberRe.FindAllString(text, -1) {
		if n, err := strconv.Atoi(m); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func digitsOnly(text string) int {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, _ := strconv.Atoi(b.String())
	return n
}

// listingPhotos returns the sendable photos of a listing: its media URLs or,
// failing that, the thumbnail. Raw channel file ids belong to another bot
// and are skipped.
func listingPhotos(car inventory.Listing) []string {
	var photos []string
	for _, u := range car.MediaURLs {
		if u != "" && !strings.HasPrefix(u, "tg_file_id:") {
			photos = append(photos, u)
		}
	}
	if len(photos) == 0 && car.Thumbnail != "" && !strings.HasPrefix(car.Thumbnail, "tg_file_id:") {
		photos = append(photos, car.Thumbnail)
	}
	return photos
}
