package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trading_assistant/internal/execution"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
)

type CommandDoc struct {
	Name        string
	Description string
	Example     string
}

// HandleCommand processes inbound Telegram commands safely.
func (w *Watcher) HandleCommand(ctx context.Context, cmd string) string {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return ""
	}

	// Strip the @botname suffix Telegram adds in groups.
	name := strings.ToLower(strings.SplitN(parts[0], "@", 2)[0])
	switch name {
	case "/ping":
		return "Pong 🏓"
	case "/help":
		return w.getHelp()
	case "/status":
		return w.StatusReport(ctx)
	case "/analyze":
		return w.handleAnalyzeCommand(ctx, parts)
	case "/execute":
		return w.handleExecuteCommand(ctx)
	case "/optimize":
		return w.handleOptimizeCommand(ctx)
	case "/feedback":
		return w.handleFeedbackCommand(ctx, parts)
	case "/stop":
		return w.handleStopCommand(ctx)
	case "/start":
		return w.handleStartCommand(ctx)
	default:
		return "Unknown command. Try /status, /analyze, /execute, /optimize, /feedback, /stop or /start."
	}
}

func (w *Watcher) handleAnalyzeCommand(ctx context.Context, parts []string) string {
	if len(parts) < 2 {
		return "Usage: /analyze <symbol>"
	}
	symbol := strings.ToUpper(parts[1])
	d, err := w.Analyze(ctx, symbol)
	if err != nil {
		logger.WithField("symbol", symbol).WithError(err).Error("Manual analysis failed")
		return fmt.Sprintf("⚠️ Analysis of %s failed: %v", symbol, err)
	}
	// The decision itself was already sent with feedback buttons.
	return fmt.Sprintf("🔍 Analysis of %s complete: %s (%.2f)", symbol, d.Type, d.Confidence)
}

func (w *Watcher) handleExecuteCommand(ctx context.Context) string {
	if !w.autoTrading(ctx) {
		return "🛑 Auto-trading is paused. Use /start first."
	}
	results := w.executePending(ctx)
	if len(results) == 0 {
		return "Nothing to execute."
	}
	var sb strings.Builder
	sb.WriteString("⚙️ *EXECUTION REPORT*\n")
	for _, r := range results {
		line := fmt.Sprintf("• %s %s: %s", r.Action, r.Symbol, r.Status)
		switch r.Status {
		case execution.StatusExecuted:
			line += fmt.Sprintf(" (qty %s, order %s)", r.Quantity, r.OrderID)
		case execution.StatusSkipped:
			line += " (" + r.Reason + ")"
		case execution.StatusFailed:
			line += fmt.Sprintf(" (%v)", r.Err)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (w *Watcher) handleOptimizeCommand(ctx context.Context) string {
	lc, changed, err := w.Learning.Optimize(ctx, w.now())
	switch {
	case errors.Is(err, models.ErrConcurrentUpdate):
		return "⏳ Another optimization is running, try again."
	case err != nil:
		return fmt.Sprintf("⚠️ Optimization failed: %v", err)
	case !changed:
		return "No new feedback in the learning window. Context unchanged."
	}
	return fmt.Sprintf("🧠 Learning context v%d: threshold %.2f (accuracy %.0f%% over %d ratings)",
		lc.Version, lc.Parameters.ConfidenceThreshold, lc.FeedbackSummary.AccuracyRate*100, lc.FeedbackSummary.Total)
}

func (w *Watcher) handleFeedbackCommand(ctx context.Context, parts []string) string {
	if len(parts) < 3 {
		return "Usage: /feedback <decision id> GOOD|BAD|NEUTRAL [notes]"
	}
	notes := strings.Join(parts[3:], " ")
	return w.submitFeedback(ctx, parts[1], parts[2], notes)
}

func (w *Watcher) submitFeedback(ctx context.Context, id, verdict, notes string) string {
	d, err := w.Feedback.Submit(ctx, id, verdict, notes, w.now())
	switch {
	case errors.Is(err, models.ErrInvalidVerdict):
		return "⚠️ Verdict must be GOOD, BAD or NEUTRAL."
	case errors.Is(err, models.ErrDecisionNotFound):
		return fmt.Sprintf("⚠️ Decision %s not found.", id)
	case err != nil:
		logger.WithField("decision_id", id).WithError(err).Error("Feedback failed")
		return "⚠️ Could not record feedback."
	}
	return fmt.Sprintf("📝 Feedback %s recorded for %s %s.", d.Feedback.Verdict, d.Type, d.Symbol)
}

func (w *Watcher) handleStopCommand(ctx context.Context) string {
	if err := w.Store.SetAutoTrading(ctx, false); err != nil {
		return fmt.Sprintf("⚠️ Could not pause auto-trading: %v", err)
	}
	return "🛑 AUTO-TRADING DISABLED. Decisions continue, orders stop."
}

func (w *Watcher) handleStartCommand(ctx context.Context) string {
	if err := w.Store.SetAutoTrading(ctx, true); err != nil {
		return fmt.Sprintf("⚠️ Could not resume auto-trading: %v", err)
	}
	if !w.Config.AutoTradingEnabled {
		return "⚠️ Resumed, but AUTO_TRADING_ENABLED=false in configuration keeps orders off."
	}
	return "✅ AUTO-TRADING ENABLED."
}
