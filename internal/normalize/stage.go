package normalize

import (
	"context"
	"strings"

	"github.com/cartie/cartie/internal/pipeline"
)

// Stage fills State.Normalized: the phone from a shared contact or the
// message text, and brand, model or city when the session state expects one.
func (n *Normalizer) Stage() pipeline.Stage {
	return func(ctx context.Context, st pipeline.State, next pipeline.Next) error {
		if st.Duplicate || st.Update.Message == nil {
			return next(ctx, st)
		}
		text := st.Update.MessageText()
		raw := st.Update.ContactPhone()
		if raw == "" {
			raw = FindPhone(text)
		}
		if phone, ok := Phone(raw); ok {
			st.Normalized.Phone = phone
		}
		state := ""
		if st.HasSession {
			state = st.Session.State
		}
		if text != "" {
			if strings.Contains(state, "BRAND") {
				st.Normalized.Brand, _ = n.Brand(ctx, st.CompanyID, text)
			}
			if strings.Contains(state, "MODEL") {
				st.Normalized.Model, _ = n.Model(ctx, st.CompanyID, text)
			}
			if strings.Contains(state, "CITY") {
				st.Normalized.City, _ = n.City(ctx, st.CompanyID, text)
			}
		}
		return next(ctx, st)
	}
}
