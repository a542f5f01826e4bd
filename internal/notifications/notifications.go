package notifications

import (
	"context"
	"fmt"
	"strings"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
	"trading_assistant/internal/telegram"
)

// Message is one notification. DecisionID, when set, asks the channel to offer feedback buttons.
type Message struct {
	Text       string
	DecisionID string
}

// Channel delivers notifications. Delivery is best-effort.
type Channel interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every channel; failures are logged, never returned.
type Multi []Channel

func (m Multi) Notify(ctx context.Context, msg Message) error {
	for _, ch := range m {
		if ch == nil {
			continue
		}
		if err := ch.Notify(ctx, msg); err != nil {
			logger.WithError(err).Warn("Notification failed")
		}
	}
	return nil
}

// Log writes notifications to the application log.
type Log struct{}

func (Log) Notify(ctx context.Context, msg Message) error {
	entry := logger.WithField("channel", "log")
	if msg.DecisionID != "" {
		entry = entry.WithField("decision_id", msg.DecisionID)
	}
	entry.Info(msg.Text)
	return nil
}

// Telegram sends notifications to the bot chat, with GOOD/BAD/NEUTRAL buttons for decisions.
type Telegram struct {
	Bot *telegram.Bot
}

func (t Telegram) Notify(ctx context.Context, msg Message) error {
	if t.Bot == nil {
		return nil
	}
	if msg.DecisionID == "" {
		return t.Bot.Send(ctx, msg.Text)
	}
	return t.Bot.SendWithButtons(ctx, msg.Text, FeedbackButtons(msg.DecisionID))
}

const callbackPrefix = "fb"

// FeedbackButtons are the inline buttons attached to a decision notification.
func FeedbackButtons(decisionID string) []telegram.Button {
	return []telegram.Button{
		{Text: "👍 Good", CallbackData: FeedbackData(decisionID, models.VerdictGood)},
		{Text: "👎 Bad", CallbackData: FeedbackData(decisionID, models.VerdictBad)},
		{Text: "😐 Neutral", CallbackData: FeedbackData(decisionID, models.VerdictNeutral)},
	}
}

// FeedbackData encodes a button payload. Telegram limits callback data to 64 bytes,
// which a UUID plus verdict fits.
func FeedbackData(decisionID string, v models.Verdict) string {
	return fmt.Sprintf("%s:%s:%s", callbackPrefix, decisionID, v)
}

// ParseFeedbackData reverses FeedbackData.
func ParseFeedbackData(data string) (decisionID, verdict string, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// FormatDecision renders a decision for chat.
func FormatDecision(d models.Decision) string {
	icon := "⏸️"
	switch d.Type {
	case models.DecisionBuy:
		icon = "🟢"
	case models.DecisionSell:
		icon = "🔴"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s *%s %s* (confidence %.2f)\n", icon, d.Type, d.Symbol, d.Confidence))
	sb.WriteString(fmt.Sprintf("Sentiment: %.2f\n", d.SentimentScore))
	if d.PriceTarget != nil {
		sb.WriteString(fmt.Sprintf("Target: $%s\n", d.PriceTarget.StringFixed(2)))
	}
	if d.RiskAssessment != "" {
		sb.WriteString(fmt.Sprintf("Risk: %s\n", d.RiskAssessment))
	}
	sb.WriteString(d.Rationale)
	if d.Source != "" && d.Source != "ai" {
		sb.WriteString(fmt.Sprintf("\n_source: %s_", d.Source))
	}
	return sb.String()
}
