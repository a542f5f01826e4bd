package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/storage"
)

// StatusReport is the /status dashboard.
func (w *Watcher) StatusReport(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 *TRADING ASSISTANT %s*\n", w.Config.Version))
	sb.WriteString(fmt.Sprintf("Uptime: %s\n", time.Since(w.startTime).Round(time.Second)))

	mode := "PAUSED 🛑"
	if w.autoTrading(ctx) {
		mode = "ACTIVE ✅"
	}
	sb.WriteString(fmt.Sprintf("Auto-trading: %s\n", mode))

	if w.Clock != nil {
		if open, err := w.Clock.IsOpen(ctx); err == nil {
			state := "CLOSED 🔴"
			if open {
				state = "OPEN 🟢"
			}
			sb.WriteString(fmt.Sprintf("Market: %s\n", state))
		}
	}

	sb.WriteString("\n🧠 *Learning*\n")
	lc, ok, err := w.Learning.Active(ctx)
	switch {
	case err != nil:
		logger.WithError(err).Error("Status: learning context unavailable")
		sb.WriteString("⚠️ unavailable\n")
	case !ok:
		th, _ := w.Learning.Threshold(ctx)
		sb.WriteString(fmt.Sprintf("No context yet, threshold %.2f\n", th))
	default:
		sb.WriteString(fmt.Sprintf("v%d: threshold %.2f, risk adj %.2f, accuracy %.0f%% over %d ratings\n",
			lc.Version, lc.Parameters.ConfidenceThreshold, lc.Parameters.RiskAdjustment,
			lc.FeedbackSummary.AccuracyRate*100, lc.FeedbackSummary.Total))
	}

	since := w.now().AddDate(0, 0, -w.Config.LearningWindowDays)
	if stats, err := w.Feedback.Stats(ctx, since); err == nil {
		sb.WriteString(fmt.Sprintf("Feedback (%dd): %d 👍 %d 👎 %d 😐\n", w.Config.LearningWindowDays, stats.Positive, stats.Negative, stats.Neutral))
	}

	sb.WriteString("\n📝 *Recent decisions*\n")
	recent, err := w.Store.ListDecisions(ctx, storage.DecisionFilter{Limit: 5})
	if err != nil || len(recent) == 0 {
		sb.WriteString("none\n")
	}
	for _, d := range recent {
		flag := ""
		if d.Executed() {
			flag = " ✅"
		}
		sb.WriteString(fmt.Sprintf("• %s %s %.2f%s `%s`\n", d.Type, d.Symbol, d.Confidence, flag, d.ID))
	}

	if key, err := w.account(ctx); err == nil {
		if snap, err := w.Store.LatestSnapshot(ctx, key); err == nil && snap != nil {
			sb.WriteString(fmt.Sprintf("\n💼 *Portfolio* (%s)\nValue: $%s | Cash: $%s | Positions: %d\n",
				snap.TakenAt.Format("Jan 02 15:04"), snap.TotalValue.StringFixed(2), snap.Cash.StringFixed(2), len(snap.Positions)))
		}
	}
	return sb.String()
}

func (w *Watcher) getHelp() string {
	var sb strings.Builder
	sb.WriteString("🤖 *Commands*\n")
	for _, c := range w.commands {
		sb.WriteString(fmt.Sprintf("%s: %s\n`%s`\n", c.Name, c.Description, c.Example))
	}
	return sb.String()
}
