package router

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/leads"
	"github.com/cartie/cartie/internal/session"
)

const defaultSource = "Telegram"

// adminCard joins a header with the lead and request cards.
func adminCard(header string, lead LeadCardData, req *leads.Request) string {
	parts := []string{header, LeadCard(lead)}
	if req != nil {
		parts = append(parts, RequestCard(*req))
	}
	return strings.Join(parts, "\n\n")
}

func (r *Router) finalizeClientLead(ctx context.Context, t *turn) error {
	flow := session.LeadFlow{}
	if t.sess.Variables.LeadFlow != nil {
		flow = *t.sess.Variables.LeadFlow
	}
	name := flow.Name
	if name == "" {
		name = "Client"
	}
	title := flow.Car
	if title == "" {
		title = "Request"
	}
	res, err := r.leads.CreateOrMerge(ctx, leads.Input{
		ChatID:   t.st.ChatID,
		UserID:   t.st.UserID,
		Name:     name,
		Phone:    flow.Phone,
		Request:  flow.Car,
		Source:   t.st.Bot.DisplayName(defaultSource),
		LeadType: leads.TypeBuy,
		Payload: leads.Payload{
			Budget:   flow.Budget,
			City:     flow.City,
			Language: t.lang,
		},
		CreateRequest: true,
		RequestData: leads.RequestInput{
			Title:       title,
			BudgetMax:   flow.Budget,
			City:        flow.City,
			Description: "Via Bot. User: " + name,
			Language:    t.lang,
		},
	}, t.st.Bot)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}

	key := "leadReceived"
	if res.Duplicate {
		key = "leadDuplicate"
	} else if res.Request != nil {
		t.audit(ctx, "[Client Lead] "+flow.Car, map[string]any{"requestId": res.Request.ID, "leadId": res.Lead.ID})
	}
	if err := t.reply(ctx, t.text(key), removeKeyboard()); err != nil {
		return err
	}

	header := "🔥 New lead"
	if res.Duplicate {
		header = "♻️ Duplicate lead merged"
	}
	card := adminCard(header, LeadCardData{
		Name:    name,
		Phone:   flow.Phone,
		Request: flow.Car,
		City:    flow.City,
		Budget:  flow.Budget,
	}, res.Request)
	t.notify(ctx, t.st.Bot.AdminChatID(), card, StatusKeyboard(res.Lead.ID))
	return t.showMenu(ctx, bots.TemplateClientLead, "")
}

func (r *Router) finalizeCatalogSell(ctx context.Context, t *turn) error {
	flow := session.CatalogFlow{}
	if t.sess.Variables.CatalogFlow != nil {
		flow = *t.sess.Variables.CatalogFlow
	}
	name := flow.Name
	if name == "" {
		name = "Seller"
	}
	res, err := r.leads.CreateOrMerge(ctx, leads.Input{
		ChatID:   t.st.ChatID,
		UserID:   t.st.UserID,
		Name:     name,
		Phone:    flow.Phone,
		Request:  flow.Car,
		Source:   t.st.Bot.DisplayName(defaultSource),
		LeadType: leads.TypeSell,
		Payload: leads.Payload{
			LeadType: leads.TypeSell,
			Language: t.lang,
		},
	}, t.st.Bot)
	if err != nil {
		return fmt.Errorf("create sell lead: %w", err)
	}

	key := "catalogSellReceived"
	header := "💵 New sell lead"
	if res.Duplicate {
		key = "leadDuplicate"
		header = "♻️ Duplicate sell lead merged"
	}
	if err := t.reply(ctx, t.text(key), removeKeyboard()); err != nil {
		return err
	}
	card := adminCard(header, LeadCardData{Name: name, Phone: flow.Phone, Request: flow.Car}, nil)
	t.notify(ctx, t.st.Bot.AdminChatID(), card, StatusKeyboard(res.Lead.ID))
	return t.showMenu(ctx, bots.TemplateCatalog, "")
}

func (r *Router) finalizeB2BRequest(ctx context.Context, t *turn) error {
	flow := session.B2BFlow{}
	if t.sess.Variables.B2BFlow != nil {
		flow = *t.sess.Variables.B2BFlow
	}
	req, err := r.leads.OpenRequest(ctx, leads.RequestInput{
		Title:       flow.Title,
		BudgetMin:   flow.BudgetMin,
		BudgetMax:   flow.BudgetMax,
		YearMin:     flow.YearMin,
		YearMax:     flow.YearMax,
		City:        flow.City,
		Description: flow.Description,
		Language:    t.lang,
	}, leads.RequestKindB2B, t.st.CompanyID, "", t.st.ChatID)
	if err != nil {
		return fmt.Errorf("open b2b request: %w", err)
	}
	t.audit(ctx, "[B2B Request] "+flow.Title, map[string]any{"requestId": req.ID})
	if err := t.reply(ctx, t.text("b2bSent"), removeKeyboard()); err != nil {
		return err
	}

	text := "📝 New B2B request " + req.PublicID + "\n" + RequestCard(req)
	if username := strings.TrimPrefix(t.st.Bot.Config.Username, "@"); username != "" && req.PublicID != "" {
		text += "\n\n🔗 https://t.me/" + username + "?start=" + url.QueryEscape("request:"+req.PublicID)
	}
	t.notify(ctx, t.st.Bot.ManagerChatID(), text, nil)
	return t.showMenu(ctx, bots.TemplateB2B, "")
}
