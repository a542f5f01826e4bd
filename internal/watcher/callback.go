package watcher

import (
	"context"

	"trading_assistant/internal/notifications"
)

// HandleCallback processes button clicks from Telegram.
func (w *Watcher) HandleCallback(ctx context.Context, data string) string {
	id, verdict, ok := notifications.ParseFeedbackData(data)
	if !ok {
		return "⚠️ Invalid callback data."
	}
	return w.submitFeedback(ctx, id, verdict, "")
}
