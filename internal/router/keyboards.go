package router

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cartie/cartie/internal/router/callback"
)

// The library version in use has no web_app button, so the mini-app
// keyboard is encoded by hand.
type webAppKeyboard struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

type webAppButton struct {
	Text   string     `json:"text"`
	WebApp webAppInfo `json:"web_app"`
}

type webAppInfo struct {
	URL string `json:"url"`
}

func (t *turn) keyboard(labels ...[]string) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(labels))
	for _, row := range labels {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

func (t *turn) contactKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(t.button("common.contact"))),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(t.button("common.back"))),
	)
}

func (t *turn) skipKeyboard(second string) tgbotapi.ReplyKeyboardMarkup {
	return t.keyboard([]string{t.button("common.skip")}, []string{t.button(second)})
}

func removeKeyboard() tgbotapi.ReplyKeyboardRemove {
	return tgbotapi.ReplyKeyboardRemove{RemoveKeyboard: true}
}

func (t *turn) confirmKeyboard(confirmAction, backAction string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(t.button("common.confirm"), callback.Build(confirmAction, "")),
		tgbotapi.NewInlineKeyboardButtonData(t.button("common.back"), callback.Build(backAction, "")),
	))
}

func miniAppKeyboard(label, url string) webAppKeyboard {
	return webAppKeyboard{InlineKeyboard: [][]webAppButton{{{Text: label, WebApp: webAppInfo{URL: url}}}}}
}
