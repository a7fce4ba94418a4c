package router

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/leads"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/session"
	"github.com/cartie/cartie/internal/telegram"
)

type sent struct {
	ChatID string
	Text   string
	Markup any
	Photo  string
}

type fakeOutbox struct {
	mu        sync.Mutex
	sent      []sent
	edits     []string
	answered  []string
	inline    []string
	albums    [][]string
	actions   []string
	editError error
}

func (f *fakeOutbox) SendMediaGroup(_ context.Context, _ bots.Bot, chatID string, photos []string, caption string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.albums = append(f.albums, photos)
	f.sent = append(f.sent, sent{ChatID: chatID, Text: caption, Photo: photos[0]})
	return []int{len(f.sent)}, nil
}

func (f *fakeOutbox) SendChatAction(_ context.Context, _ bots.Bot, chatID, action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, chatID+":"+action)
}

func (f *fakeOutbox) SendMessage(_ context.Context, _ bots.Bot, chatID, text string, markup any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ChatID: chatID, Text: text, Markup: markup})
	return len(f.sent), nil
}

func (f *fakeOutbox) SendPhoto(_ context.Context, _ bots.Bot, chatID, photo, caption string, markup any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ChatID: chatID, Text: caption, Markup: markup, Photo: photo})
	return len(f.sent), nil
}

func (f *fakeOutbox) EditMessageText(_ context.Context, _ bots.Bot, _ string, _ int, text string, _ *tgbotapi.InlineKeyboardMarkup) error {
	f.edits = append(f.edits, text)
	return f.editError
}

func (f *fakeOutbox) AnswerCallback(_ context.Context, _ bots.Bot, id, _ string) {
	f.answered = append(f.answered, id)
}

func (f *fakeOutbox) AnswerInline(_ context.Context, _ bots.Bot, id string, _ []interface{}) error {
	f.inline = append(f.inline, id)
	return nil
}

func (f *fakeOutbox) to(chatID string) []sent {
	var out []sent
	for _, s := range f.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeOutbox) last(chatID string) sent {
	msgs := f.to(chatID)
	if len(msgs) == 0 {
		return sent{}
	}
	return msgs[len(msgs)-1]
}

type fakeSessions struct {
	saved []session.Session
}

func (f *fakeSessions) Get(context.Context, string, string) (session.Session, error) {
	return session.Session{}, session.ErrNotFound
}

func (f *fakeSessions) Create(_ context.Context, botID, chatID string) (session.Session, bool, error) {
	return session.Session{BotID: botID, ChatID: chatID, State: session.StateStart}, true, nil
}

func (f *fakeSessions) Update(_ context.Context, sess session.Session) (session.Session, error) {
	f.saved = append(f.saved, sess)
	return sess, nil
}

type fakeLeads struct {
	inputs    []leads.Input
	requests  []leads.RequestInput
	kinds     []string
	statuses  []string
	duplicate bool
	// owners maps lead ids to bot ids; unlisted leads belong to any bot.
	owners map[string]string
}

func (f *fakeLeads) CreateOrMerge(_ context.Context, in leads.Input, _ bots.Bot) (leads.Result, error) {
	f.inputs = append(f.inputs, in)
	res := leads.Result{Lead: leads.Lead{ID: "lead-1", Name: in.Name, Phone: in.Phone}, Duplicate: f.duplicate}
	if in.CreateRequest && !f.duplicate {
		res.Request = &leads.Request{ID: "req-1", PublicID: "REQ-1", Title: in.RequestData.Title}
	}
	return res, nil
}

func (f *fakeLeads) OpenRequest(_ context.Context, data leads.RequestInput, kind, companyID, leadID, chatID string) (leads.Request, error) {
	f.requests = append(f.requests, data)
	f.kinds = append(f.kinds, kind)
	return leads.Request{ID: "req-b2b", PublicID: "B2B-7", Kind: kind, Title: data.Title, CompanyID: companyID, ChatID: chatID}, nil
}

func (f *fakeLeads) UpdateStatus(_ context.Context, bot bots.Bot, leadID, status string) (leads.Lead, error) {
	if owner, ok := f.owners[leadID]; ok && owner != bot.ID {
		return leads.Lead{}, leads.ErrNotFound
	}
	f.statuses = append(f.statuses, leadID+":"+status)
	return leads.Lead{ID: leadID, Status: status}, nil
}

type fakeListings struct {
	found   []inventory.Listing
	filters []inventory.Filter
}

func (f *fakeListings) Search(_ context.Context, filter inventory.Filter) ([]inventory.Listing, error) {
	f.filters = append(f.filters, filter)
	return f.found, nil
}

func (f *fakeListings) Get(_ context.Context, id string) (inventory.Listing, bool, error) {
	for _, l := range f.found {
		if l.ID == id {
			return l, true, nil
		}
	}
	return inventory.Listing{}, false, nil
}

func (f *fakeListings) CreateListing(context.Context, inventory.Listing) (bool, error) {
	return true, nil
}

type fakeEmitter struct {
	events []events.Event
}

func (f *fakeEmitter) Emit(_ context.Context, ev events.Event) {
	f.events = append(f.events, ev)
}

type fakeLegacy struct {
	handled bool
	calls   int
}

func (f *fakeLegacy) HandleUpdate(context.Context, bots.Bot, session.Session, telegram.Update) (bool, error) {
	f.calls++
	return f.handled, nil
}

type harness struct {
	router   *Router
	out      *fakeOutbox
	sessions *fakeSessions
	leads    *fakeLeads
	listings *fakeListings
	emitter  *fakeEmitter
	bot      bots.Bot
	sess     session.Session
}

const (
	userChat  = "42"
	adminChat = "-1001"
)

func newHarness(t *testing.T, template string) *harness {
	t.Helper()
	h := &harness{
		out:      &fakeOutbox{},
		sessions: &fakeSessions{},
		leads:    &fakeLeads{},
		listings: &fakeListings{},
		emitter:  &fakeEmitter{},
		bot: bots.Bot{
			ID:        "bot-1",
			CompanyID: "company-1",
			Name:      "Acme Cars",
			Template:  template,
			Config:    bots.Settings{AdminChatID: adminChat, Username: "acme_bot"},
		},
	}
	h.sess = session.Session{ID: "s1", BotID: "bot-1", ChatID: userChat, State: session.StateStart}
	r, err := New(nil, Deps{
		Outbox:   h.out,
		Sessions: h.sessions,
		Leads:    h.leads,
		Listings: h.listings,
		Emitter:  h.emitter,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	h.router = r
	return h
}

func (h *harness) state(u telegram.Update) pipeline.State {
	return pipeline.State{
		Bot:        h.bot,
		Update:     u,
		CompanyID:  h.bot.CompanyID,
		Kind:       u.Kind(),
		ChatID:     u.ChatID(),
		UserID:     u.UserID(),
		Locale:     "EN",
		Session:    h.sess,
		HasSession: true,
	}
}

// route runs u and carries the saved session into the next call.
func (h *harness) route(t *testing.T, u telegram.Update) {
	t.Helper()
	if err := h.router.Route(context.Background(), h.state(u)); err != nil {
		t.Fatalf("route: %v", err)
	}
	if n := len(h.sessions.saved); n > 0 {
		h.sess = h.sessions.saved[n-1]
	}
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	h.route(t, textUpdate(text))
}

func textUpdate(text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{Message: tgbotapi.Message{
		MessageID: 1,
		Text:      text,
		From:      &tgbotapi.User{ID: 42, FirstName: "Olena"},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
	}}}
}

func contactUpdate(phone string) telegram.Update {
	u := textUpdate("")
	u.Message.Contact = &tgbotapi.Contact{PhoneNumber: phone}
	return u
}

func callbackUpdate(chatID int64, data string, msg string) telegram.Update {
	return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: 42, FirstName: "Olena"},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 9,
			Text:      msg,
			Chat:      &tgbotapi.Chat{ID: chatID},
		},
	}}
}

func webAppUpdate(data string) telegram.Update {
	u := textUpdate("")
	u.Message.WebAppData = &telegram.WebAppData{Data: data, ButtonText: "Open"}
	return u
}
