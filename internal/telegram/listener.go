package telegram

import (
	"context"
	"strings"
	"time"

	"trading_assistant/internal/logger"

	"github.com/sirupsen/logrus"
)

// Update represents a Telegram Update object (partial schema)
type Update struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message,omitempty"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		Data string `json:"data"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
		Message struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query,omitempty"`
}

// Handler answers slash commands and inline button presses.
type Handler interface {
	HandleCommand(ctx context.Context, text string) string
	HandleCallback(ctx context.Context, data string) string
}

const retryDelay = 5 * time.Second

// Listen long-polls for updates until ctx is cancelled.
// Only the configured chat is served; other senders are logged and ignored.
func (b *Bot) Listen(ctx context.Context, h Handler) {
	if b == nil {
		logger.Infof("Telegram Listener: Credentials missing, disabled.")
		return
	}
	logger.Infof("Telegram Listener: Started")

	offset := 0
	for ctx.Err() == nil {
		updates, err := b.poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("Telegram Listener Error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			b.dispatch(ctx, u, h)
		}
	}
}

func (b *Bot) poll(ctx context.Context, offset int) ([]Update, error) {
	var updates []Update
	err := b.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         60,
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

func (b *Bot) dispatch(ctx context.Context, u Update, h Handler) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Message.Chat.ID != b.chatID {
			unauthorized(q.From.Username, q.Message.Chat.ID, q.Data)
			return
		}
		reply := h.HandleCallback(ctx, q.Data)
		if err := b.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": q.ID, "text": reply}, nil); err != nil {
			logger.WithError(err).Warn("Failed to answer callback")
		}
		b.reply(ctx, reply)

	case u.Message != nil:
		m := u.Message
		if m.Chat.ID != b.chatID {
			// No reply, so the bot does not reveal itself.
			unauthorized(m.From.Username, m.Chat.ID, m.Text)
			return
		}
		text := strings.TrimSpace(m.Text)
		if !strings.HasPrefix(text, "/") {
			return
		}
		logger.WithField("command", text).Info("Command received")
		b.reply(ctx, h.HandleCommand(ctx, text))
	}
}

func (b *Bot) reply(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := b.Send(ctx, text); err != nil {
		logger.WithError(err).Warn("Telegram reply failed")
	}
}

func unauthorized(user string, chatID int64, text string) {
	logger.WithFields(logrus.Fields{"user": user, "chat_id": chatID, "text": text}).
		Warn("Unauthorized Telegram access attempt")
}
