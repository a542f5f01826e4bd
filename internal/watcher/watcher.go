package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trading_assistant/internal/config"
	"trading_assistant/internal/decision"
	"trading_assistant/internal/execution"
	"trading_assistant/internal/feedback"
	"trading_assistant/internal/learning"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/market"
	"trading_assistant/internal/models"
	"trading_assistant/internal/notifications"
	"trading_assistant/internal/sentiment"
	"trading_assistant/internal/storage"
)

// Deps are the services a Watcher drives. Clock may be nil when the broker has no market clock.
type Deps struct {
	Config    *config.Config
	Store     *storage.Store
	Data      market.DataProvider
	Broker    market.Broker
	Clock     market.Clock
	Sentiment *sentiment.Analyzer
	Engine    *decision.Engine
	Executor  *execution.Executor
	Learning  *learning.Manager
	Feedback  *feedback.Ingestor
	Notifier  notifications.Channel
}

// Watcher runs the periodic analysis cycle and answers interactive commands.
type Watcher struct {
	Deps

	cycleMu    sync.Mutex
	mu         sync.Mutex
	accountKey string
	lastBackup time.Time

	startTime time.Time
	commands  []CommandDoc
	now       func() time.Time
}

func New(d Deps) *Watcher {
	if d.Notifier == nil {
		d.Notifier = notifications.Log{}
	}
	return &Watcher{
		Deps:      d,
		startTime: time.Now(),
		now:       time.Now,
		commands: []CommandDoc{
			{"/ping", "Connectivity check", "/ping"},
			{"/status", "Assistant, learning and portfolio summary", "/status"},
			{"/analyze", "Run sentiment and a decision for one symbol", "/analyze AAPL"},
			{"/execute", "Execute pending high-confidence decisions", "/execute"},
			{"/optimize", "Re-derive the learning context from feedback", "/optimize"},
			{"/feedback", "Rate a decision", "/feedback <id> GOOD|BAD|NEUTRAL [notes]"},
			{"/stop", "Pause auto-trading", "/stop"},
			{"/start", "Resume auto-trading", "/start"},
			{"/help", "This list", "/help"},
		},
	}
}

func (w *Watcher) profile() models.UserProfile {
	return models.UserProfile{
		RiskTolerance:      models.RiskTolerance(w.Config.RiskTolerance),
		MaxTradeAmount:     w.Config.MaxTradeAmount,
		AutoTradingEnabled: w.Config.AutoTradingEnabled,
	}
}

// Analyze scores one symbol, decides, stores the decision and notifies.
func (w *Watcher) Analyze(ctx context.Context, symbol string) (*models.Decision, error) {
	snap, err := market.Snapshot(ctx, w.Data, symbol)
	if err != nil {
		return nil, fmt.Errorf("market data for %s: %w", symbol, err)
	}
	headlines, err := w.Data.Headlines(ctx, symbol, sentiment.MaxHeadlines)
	if err != nil {
		logger.WithField("symbol", symbol).WithError(err).Warn("Headlines unavailable")
	}

	res := w.Sentiment.Score(ctx, symbol, *snap, models.Titles(headlines))
	rec := models.SentimentRecord{
		Symbol:    symbol,
		Score:     res.Score,
		Summary:   res.Summary,
		Source:    res.Outcome.Source(),
		CreatedAt: w.now().UTC(),
	}
	if err := w.Store.SaveSentiment(ctx, &rec); err != nil {
		return nil, err
	}
	return w.decide(ctx, *snap, decision.Sentiment{Score: res.Score, Summary: res.Summary})
}

func (w *Watcher) decide(ctx context.Context, snap models.MarketSnapshot, s decision.Sentiment) (*models.Decision, error) {
	lc, ok, err := w.Learning.Active(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		lc = nil
	}

	d, _ := w.Engine.Decide(ctx, decision.Input{
		Symbol:    snap.Symbol,
		Portfolio: w.portfolio(ctx),
		Market:    snap,
		Sentiment: s,
		Profile:   w.profile(),
		Learning:  lc,
	})
	if err := w.Store.CreateDecision(ctx, &d); err != nil {
		return nil, err
	}
	_ = w.Notifier.Notify(ctx, notifications.Message{Text: notifications.FormatDecision(d), DecisionID: d.ID})
	return &d, nil
}

// Poll runs one full cycle. Overlapping calls are skipped.
func (w *Watcher) Poll(ctx context.Context) {
	if !w.cycleMu.TryLock() {
		logger.Warnf("Previous cycle still running, skipping poll")
		return
	}
	defer w.cycleMu.Unlock()

	start := w.now()
	logger.Infof("Cycle started for %d symbols", len(w.Config.Watchlist))

	// 1. Sentiment for the whole watchlist.
	records := w.Sentiment.ScoreWatchlist(ctx, w.Config.Watchlist, w.Data, w.Store)

	// 2. One decision per scored symbol, on the snapshot the sentiment saw.
	decided := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.decide(ctx, rec.Snapshot, decision.Sentiment{Score: rec.Score, Summary: rec.Summary}); err != nil {
			logger.WithField("symbol", rec.Symbol).WithError(err).Error("Decision failed")
			continue
		}
		decided++
	}

	// 3. Orders, only while the market is open.
	if w.marketOpen(ctx) {
		w.executePending(ctx)
	} else {
		logger.Infof("Market closed, execution skipped")
	}

	// 4. Portfolio snapshot.
	if _, err := w.SyncPortfolio(ctx); err != nil && !errors.Is(err, models.ErrAuthenticationRequired) {
		logger.WithError(err).Warn("Portfolio sync failed")
	}

	// 5. Learning.
	if _, _, err := w.Learning.Optimize(ctx, w.now()); err != nil {
		logger.WithError(err).Error("Learning optimization failed")
	}

	// 6. Housekeeping.
	w.maintain(ctx)

	logger.Infof("Cycle finished: %d sentiment records, %d decisions in %s", len(records), decided, w.now().Sub(start).Round(time.Millisecond))
}

func (w *Watcher) marketOpen(ctx context.Context) bool {
	if w.Clock == nil {
		return true
	}
	open, err := w.Clock.IsOpen(ctx)
	if err != nil {
		logger.WithError(err).Warn("Market clock unavailable, assuming open")
		return true
	}
	return open
}

func (w *Watcher) executePending(ctx context.Context) []execution.Result {
	results, err := w.Executor.ExecutePending(ctx)
	if err != nil {
		logger.WithError(err).Error("Execution failed")
		return nil
	}
	for _, r := range results {
		if r.Status != execution.StatusExecuted {
			continue
		}
		msg := fmt.Sprintf("✅ *ORDER PLACED*: %s %s %s (order %s)", r.Action, r.Quantity, r.Symbol, r.OrderID)
		_ = w.Notifier.Notify(ctx, notifications.Message{Text: msg})
	}
	return results
}

// Startup announces the assistant.
func (w *Watcher) Startup(ctx context.Context) {
	mode := "MANUAL"
	if w.autoTrading(ctx) {
		mode = "AUTO-TRADING"
	}
	msg := fmt.Sprintf("🚀 *SYSTEM START: Trading Assistant %s online*\nMode: [%s]\nBroker: %s | Data: %s | Backend: %s",
		w.Config.Version, mode, w.Config.Broker, w.Config.MarketData, w.Config.ReasoningBackend)
	_ = w.Notifier.Notify(ctx, notifications.Message{Text: msg})
}

func (w *Watcher) Shutdown(ctx context.Context) {
	_ = w.Notifier.Notify(ctx, notifications.Message{Text: "🛑 SYSTEM SHUTDOWN: Signal received."})
}

func (w *Watcher) autoTrading(ctx context.Context) bool {
	if !w.Config.AutoTradingEnabled {
		return false
	}
	on, err := w.Store.AutoTrading(ctx, true)
	return err == nil && on
}
