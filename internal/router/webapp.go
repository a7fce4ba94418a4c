package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/cartie/cartie/internal/enrich"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/leads"
	"github.com/cartie/cartie/internal/router/miniapp"
)

func (r *Router) handleWebApp(ctx context.Context, t *turn) (bool, error) {
	msg := t.st.Update.Message
	if msg == nil || msg.WebAppData == nil {
		return false, nil
	}
	res := miniapp.Parse([]byte(msg.WebAppData.Data))
	if !res.OK {
		if res.Error != miniapp.ErrInvalidJSON && r.runLegacy(ctx, t) {
			return true, nil
		}
		valid := false
		t.emit(ctx, events.TypeMiniAppSubmitted, events.Payload{Valid: &valid, Error: res.Error})
		return true, t.reply(ctx, t.text("miniappInvalid"), nil)
	}
	p := res.Payload
	if lang := p.Lang(); lang != "" {
		t.lang = enrich.NormalizeLocale(lang)
	}

	if p.Type == miniapp.TypeInterestClick {
		t.emit(ctx, events.TypeMiniAppOpened, events.Payload{Extra: map[string]any{
			"type":  p.Type,
			"carId": p.CarID,
			"meta":  p.Meta,
		}})
		return true, nil
	}
	return true, r.submitMiniApp(ctx, t, p)
}

// submitMiniApp turns a lead or sell submission into a lead.
func (r *Router) submitMiniApp(ctx context.Context, t *turn, p miniapp.Payload) error {
	name := p.Field("name", "firstName", "fullName")
	if name == "" {
		name = "Client"
	}
	phone := p.Field("phone", "tel")
	brand := p.Field("brand")
	if brand != "" {
		brand = t.brand(ctx, brand)
	}
	model := p.Field("model")
	if model != "" {
		model = t.model(ctx, model)
	}
	city := p.Field("city")
	if city != "" {
		city = t.city(ctx, city)
	}
	title := strings.TrimSpace(brand + " " + model)
	if title == "" && p.CarID != "" && r.listings != nil {
		if car, ok, err := r.listings.Get(ctx, p.CarID); err == nil && ok {
			title = car.Title
		}
	}

	sell := p.Type == miniapp.TypeSellSubmit
	leadType := leads.TypeBuy
	if sell {
		leadType = leads.TypeSell
	}
	in := leads.Input{
		ChatID:   t.st.ChatID,
		UserID:   t.st.UserID,
		Name:     name,
		Phone:    phone,
		Request:  title,
		Source:   t.st.Bot.DisplayName(defaultSource),
		LeadType: leadType,
		Payload: leads.Payload{
			City:     city,
			Language: t.lang,
			Extra: map[string]any{
				"brand": brand,
				"model": model,
				"city":  city,
				"meta":  p.Meta,
				"carId": p.CarID,
			},
		},
		CreateRequest: !sell,
	}
	if sell {
		in.Payload.LeadType = leads.TypeSell
	} else {
		reqTitle := title
		if reqTitle == "" {
			reqTitle = "Request"
		}
		in.RequestData = leads.RequestInput{
			Title:       reqTitle,
			BudgetMin:   p.IntField("priceMin", "budgetMin"),
			BudgetMax:   p.IntField("priceMax", "budget", "budgetMax"),
			YearMin:     p.IntField("yearMin", "year"),
			YearMax:     p.IntField("yearMax"),
			City:        city,
			Description: p.Field("note", "comment"),
			Language:    t.lang,
		}
	}
	res, err := r.leads.CreateOrMerge(ctx, in, t.st.Bot)
	if err != nil {
		return fmt.Errorf("create mini-app lead: %w", err)
	}

	valid := true
	t.emit(ctx, events.TypeMiniAppSubmitted, events.Payload{
		Valid:  &valid,
		LeadID: res.Lead.ID,
		Extra:  map[string]any{"type": p.Type, "carId": p.CarID},
	})

	key := "miniappReceived"
	if res.Duplicate {
		key = "leadDuplicate"
	}
	if err := t.reply(ctx, t.text(key), nil); err != nil {
		return err
	}

	header := "📥 MiniApp Lead"
	switch {
	case res.Duplicate:
		header = "♻️ Duplicate lead merged"
	case sell:
		header = "💵 MiniApp Sell"
	}
	card := adminCard(header, LeadCardData{
		Name:    name,
		Phone:   phone,
		Request: title,
		City:    city,
		Budget:  in.RequestData.BudgetMax,
	}, res.Request)
	t.notify(ctx, t.st.Bot.AdminChatID(), card, StatusKeyboard(res.Lead.ID))
	return nil
}
