package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading_assistant/internal/ai"
	"trading_assistant/internal/config"
	"trading_assistant/internal/decision"
	"trading_assistant/internal/execution"
	"trading_assistant/internal/feedback"
	"trading_assistant/internal/learning"
	"trading_assistant/internal/logger"
	"trading_assistant/internal/market"
	"trading_assistant/internal/market/alpaca"
	"trading_assistant/internal/market/etrade"
	"trading_assistant/internal/market/yahoo"
	"trading_assistant/internal/notifications"
	"trading_assistant/internal/sentiment"
	"trading_assistant/internal/storage"
	"trading_assistant/internal/telegram"
	"trading_assistant/internal/watcher"

	"github.com/shopspring/decimal"
)

// app holds every service handle of one process. Nothing here is global.
type app struct {
	cfg *config.Config

	store      *storage.Store
	dispatcher *ai.Dispatcher
	sessions   *etrade.SessionStore
	etrade     *etrade.Client

	data     market.DataProvider
	broker   market.Broker
	clock    market.Clock
	analyzer *sentiment.Analyzer
	learning *learning.Manager
	feedback *feedback.Ingestor
	executor *execution.Executor
	bot      *telegram.Bot
	watcher  *watcher.Watcher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.store = store

	if err := a.setupMarket(); err != nil {
		return nil, err
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dispatcher = ai.NewDispatcher(backend, cfg.BackendWorkers, cfg.BackendTimeout)

	a.analyzer = sentiment.New(a.dispatcher)
	engine := decision.New(a.dispatcher, cfg.ConfidenceThreshold)
	window := time.Duration(cfg.LearningWindowDays) * 24 * time.Hour
	a.learning = learning.NewManager(store, window, cfg.MaxTradeAmount).WithDefaultThreshold(cfg.ConfidenceThreshold)
	a.feedback = feedback.NewIngestor(store)
	a.executor = execution.New(a.broker, store, a.learning, execution.Options{
		AutoTrading: cfg.AutoTradingEnabled,
		BatchSize:   cfg.ExecutionBatchSize,
		Quantity:    decimal.NewFromInt(int64(cfg.TradeQuantity)),
	})

	a.bot, err = telegram.New(telegram.Options{Token: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID})
	if err != nil {
		return nil, err
	}
	notifier := notifications.Multi{notifications.Log{}}
	if a.bot != nil {
		notifier = append(notifier, notifications.Telegram{Bot: a.bot})
	}

	a.watcher = watcher.New(watcher.Deps{
		Config:    cfg,
		Store:     store,
		Data:      a.data,
		Broker:    a.broker,
		Clock:     a.clock,
		Sentiment: a.analyzer,
		Engine:    engine,
		Executor:  a.executor,
		Learning:  a.learning,
		Feedback:  a.feedback,
		Notifier:  notifier,
	})
	ok = true
	return a, nil
}

func (a *app) setupMarket() error {
	var ap *alpaca.Provider
	if a.cfg.Broker == "alpaca" || a.cfg.MarketData == "alpaca" {
		ap = alpaca.NewProvider(alpaca.Options{
			APIKey:    a.cfg.AlpacaKeyID,
			APISecret: a.cfg.AlpacaSecret,
			BaseURL:   a.cfg.AlpacaBaseURL,
		})
		// The Alpaca calendar serves as market clock whichever broker trades.
		a.clock = ap
	}

	switch a.cfg.MarketData {
	case "alpaca":
		a.data = ap
	case "yahoo":
		a.data = yahoo.NewProvider(yahoo.NewNewsClient(""))
	default:
		return fmt.Errorf("%w: unknown market data provider %q", config.ErrConfiguration, a.cfg.MarketData)
	}

	switch a.cfg.Broker {
	case "alpaca":
		a.broker = ap
	case "etrade":
		var key []byte
		if a.cfg.SessionKey != "" {
			key = []byte(a.cfg.SessionKey)
		}
		sessions, err := etrade.OpenSessionStore(etrade.SessionOptions{Path: a.cfg.SessionDir, EncryptionKey: key})
		if err != nil {
			return err
		}
		a.sessions = sessions
		a.etrade = etrade.NewClient(etrade.Options{
			ConsumerKey:    a.cfg.ETradeConsumerKey,
			ConsumerSecret: a.cfg.ETradeSecret,
			Sandbox:        a.cfg.ETradeSandbox,
			RatePerSecond:  a.cfg.ETradeRatePerSec,
		}, sessions)
		a.broker = a.etrade
	default:
		return fmt.Errorf("%w: unknown broker %q", config.ErrConfiguration, a.cfg.Broker)
	}
	return nil
}

// newBackend returns nil when the selected backend has no credentials; callers then run on fallbacks.
func newBackend(ctx context.Context, cfg *config.Config) (ai.Backend, error) {
	var (
		b   *ai.ChatBackend
		err error
	)
	switch cfg.ReasoningBackend {
	case "none":
		return nil, nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Warnf("GEMINI_API_KEY not set, using fallback analysis")
			return nil, nil
		}
		return ai.NewGemini(ai.GeminiOptions{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			Timeout:    cfg.BackendTimeout,
			MaxRetries: cfg.BackendMaxRetries,
		}), nil
	case "openai":
		b, err = ai.NewOpenAI(ctx, ai.ChatOptions{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL})
	case "deepseek":
		b, err = ai.NewDeepSeek(ctx, ai.ChatOptions{APIKey: cfg.DeepSeekAPIKey, Model: cfg.DeepSeekModel})
	default:
		return nil, fmt.Errorf("%w: unknown reasoning backend %q", config.ErrConfiguration, cfg.ReasoningBackend)
	}
	if errors.Is(err, ai.ErrBackendAbsent) {
		logger.Warnf("%s API key not set, using fallback analysis", cfg.ReasoningBackend)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// accountKey is the first open brokerage account.
func (a *app) accountKey(ctx context.Context) (string, error) {
	accounts, err := a.broker.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	for _, acc := range accounts {
		if !acc.Closed() {
			return acc.Key, nil
		}
	}
	return "", execution.ErrNoAccount
}

func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			logger.WithError(err).Warn("Closing session store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.WithError(err).Warn("Closing database")
		}
	}
}
