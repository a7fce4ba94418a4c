package pipeline

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/cartie/cartie/internal/bots"
)

var (
	ErrTenantNotFound = errors.New("bot not found or disabled")
	ErrSecretMismatch = errors.New("webhook secret mismatch")
)

// TenantResolver maps a webhook call to its bot and checks the shared
// secret. It runs on every update because Telegram resends the secret with
// every call.
type TenantResolver struct {
	bots           bots.Getter
	fallbackSecret string
}

func NewTenantResolver(getter bots.Getter, fallbackSecret string) *TenantResolver {
	return &TenantResolver{bots: getter, fallbackSecret: fallbackSecret}
}

// Resolve returns the enabled bot whose secret matches presented.
func (r *TenantResolver) Resolve(ctx context.Context, botID, presented string) (bots.Bot, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return bots.Bot{}, ErrTenantNotFound
	}
	bot, err := r.bots.Get(ctx, botID)
	if err != nil {
		if errors.Is(err, bots.ErrBotNotFound) {
			return bots.Bot{}, ErrTenantNotFound
		}
		return bots.Bot{}, fmt.Errorf("resolve bot: %w", err)
	}
	if !bot.Enabled {
		return bots.Bot{}, ErrTenantNotFound
	}
	expected := bot.Secret(r.fallbackSecret)
	presented = strings.TrimSpace(presented)
	if expected == "" || presented == "" {
		return bots.Bot{}, ErrSecretMismatch
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return bots.Bot{}, ErrSecretMismatch
	}
	return bot, nil
}

// TenantStage attaches the tenant of an already resolved bot.
func TenantStage() Stage {
	return func(ctx context.Context, st State, next Next) error {
		if st.Bot.ID == "" || !st.Bot.Enabled {
			return ErrTenantNotFound
		}
		st.CompanyID = st.Bot.CompanyID
		return next(ctx, st)
	}
}
