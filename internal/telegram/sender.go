package telegram

import "context"

// Button represents an inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

type sendMessage struct {
	ChatID      int64           `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

// Send posts a Markdown message to the configured chat.
func (b *Bot) Send(ctx context.Context, text string) error {
	if b == nil {
		return nil
	}
	return b.call(ctx, "sendMessage", sendMessage{ChatID: b.chatID, Text: text, ParseMode: "Markdown"}, nil)
}

// SendWithButtons sends a message with one row of inline buttons.
func (b *Bot) SendWithButtons(ctx context.Context, text string, buttons []Button) error {
	if b == nil {
		return nil
	}
	msg := sendMessage{ChatID: b.chatID, Text: text, ParseMode: "Markdown"}
	if len(buttons) > 0 {
		msg.ReplyMarkup = &inlineKeyboard{InlineKeyboard: [][]Button{buttons}}
	}
	return b.call(ctx, "sendMessage", msg, nil)
}
