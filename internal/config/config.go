package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned when required settings are missing or invalid.
var ErrConfiguration = errors.New("configuration error")

// Config holds every tunable of the assistant. YAML keys mirror the environment variable names in lower case.
type Config struct {
	Version string `yaml:"-"`

	// Logging
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	MaxLogSizeMB  int    `yaml:"max_log_size_mb"`
	MaxLogBackups int    `yaml:"max_log_backups"`
	MaxLogAgeDays int    `yaml:"max_log_age_days"`

	// Trading
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	MaxTradeAmount      float64  `yaml:"max_trade_amount"`
	AutoTradingEnabled  bool     `yaml:"auto_trading_enabled"`
	RiskTolerance       string   `yaml:"risk_tolerance"`
	Watchlist           []string `yaml:"watchlist"`
	TradeQuantity       int      `yaml:"trade_quantity"`
	ExecutionBatchSize  int      `yaml:"execution_batch_size"`

	// Learning and maintenance
	LearningWindowDays int    `yaml:"learning_window_days"`
	RetentionDays      int    `yaml:"retention_days"`
	BackupRetention    int    `yaml:"backup_retention"`
	BackupDir          string `yaml:"backup_dir"`
	DatabasePath       string `yaml:"database_path"`

	// Scheduling
	PollIntervalMins int `yaml:"poll_interval_mins"`

	// Reasoning backend
	ReasoningBackend  string        `yaml:"reasoning_backend"` // gemini, openai, deepseek, none
	GeminiAPIKey      string        `yaml:"-"`
	GeminiModel       string        `yaml:"gemini_model"`
	OpenAIAPIKey      string        `yaml:"-"`
	OpenAIModel       string        `yaml:"openai_model"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	DeepSeekAPIKey    string        `yaml:"-"`
	DeepSeekModel     string        `yaml:"deepseek_model"`
	BackendTimeout    time.Duration `yaml:"backend_timeout"`
	BackendWorkers    int           `yaml:"backend_workers"`
	BackendMaxRetries int           `yaml:"backend_max_retries"`

	// Market data and broker
	MarketData        string  `yaml:"market_data"` // alpaca, yahoo
	Broker            string  `yaml:"broker"`      // alpaca, etrade
	AlpacaKeyID       string  `yaml:"-"`
	AlpacaSecret      string  `yaml:"-"`
	AlpacaBaseURL     string  `yaml:"alpaca_base_url"`
	ETradeConsumerKey string  `yaml:"-"`
	ETradeSecret      string  `yaml:"-"`
	ETradeSandbox     bool    `yaml:"etrade_sandbox"`
	ETradeRatePerSec  float64 `yaml:"etrade_rate_per_sec"`
	SessionDir        string  `yaml:"session_dir"`
	SessionKey        string  `yaml:"-"`

	// Notifications and API
	TelegramBotToken string `yaml:"-"`
	TelegramChatID   string `yaml:"-"`
	HTTPAddr         string `yaml:"http_addr"`
}

// secretVars are masked when the configuration is printed.
var secretVars = map[string]bool{
	"APCA_API_KEY_ID":        true,
	"APCA_API_SECRET_KEY":    true,
	"ETRADE_CONSUMER_KEY":    true,
	"ETRADE_CONSUMER_SECRET": true,
	"GEMINI_API_KEY":         true,
	"OPENAI_API_KEY":         true,
	"DEEPSEEK_API_KEY":       true,
	"TELEGRAM_BOT_TOKEN":     true,
	"SESSION_ENCRYPTION_KEY": true,
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		LogLevel:      "INFO",
		LogFile:       "assistant.log",
		MaxLogSizeMB:  10,
		MaxLogBackups: 5,
		MaxLogAgeDays: 30,

		ConfidenceThreshold: 0.7,
		MaxTradeAmount:      1000,
		AutoTradingEnabled:  true,
		RiskTolerance:       "MODERATE",
		Watchlist:           []string{"AAPL", "MSFT", "GOOGL", "TSLA"},
		TradeQuantity:       1,
		ExecutionBatchSize:  5,

		LearningWindowDays: 30,
		RetentionDays:      30,
		BackupRetention:    5,
		BackupDir:          "backups",
		DatabasePath:       "data/assistant.db",

		PollIntervalMins: 60,

		ReasoningBackend:  "gemini",
		GeminiModel:       "gemini-2.5-flash",
		OpenAIModel:       "gpt-4o-mini",
		DeepSeekModel:     "deepseek-chat",
		BackendTimeout:    30 * time.Second,
		BackendWorkers:    4,
		BackendMaxRetries: 1,

		MarketData:       "alpaca",
		Broker:           "alpaca",
		AlpacaBaseURL:    "https://paper-api.alpaca.markets",
		ETradeSandbox:    true,
		ETradeRatePerSec: 2,
		SessionDir:       "data/session",
	}
}

// Load initializes the configuration.
// It reads a .env file if present, overlays the optional YAML file and lets the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.MaxLogSizeMB = getEnvAsInt("MAX_LOG_SIZE_MB", c.MaxLogSizeMB)
	c.MaxLogBackups = getEnvAsInt("MAX_LOG_BACKUPS", c.MaxLogBackups)

	c.ConfidenceThreshold = getEnvAsFloat64("AI_CONFIDENCE_THRESHOLD", c.ConfidenceThreshold)
	c.MaxTradeAmount = getEnvAsFloat64("MAX_TRADE_AMOUNT", c.MaxTradeAmount)
	c.AutoTradingEnabled = getEnvAsBool("AUTO_TRADING_ENABLED", c.AutoTradingEnabled)
	c.RiskTolerance = strings.ToUpper(getEnv("RISK_TOLERANCE", c.RiskTolerance))
	c.Watchlist = getEnvAsList("WATCHLIST", c.Watchlist)

	c.LearningWindowDays = getEnvAsInt("LEARNING_WINDOW_DAYS", c.LearningWindowDays)
	c.RetentionDays = getEnvAsInt("DATA_RETENTION_DAYS", c.RetentionDays)
	c.BackupRetention = getEnvAsInt("BACKUP_RETENTION", c.BackupRetention)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.PollIntervalMins = getEnvAsInt("POLL_INTERVAL_MINS", c.PollIntervalMins)

	c.ReasoningBackend = strings.ToLower(getEnv("REASONING_BACKEND", c.ReasoningBackend))
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.DeepSeekAPIKey = getEnv("DEEPSEEK_API_KEY", c.DeepSeekAPIKey)
	c.DeepSeekModel = getEnv("DEEPSEEK_MODEL", c.DeepSeekModel)
	c.BackendTimeout = getEnvAsDuration("BACKEND_TIMEOUT", c.BackendTimeout)
	c.BackendWorkers = getEnvAsInt("BACKEND_WORKERS", c.BackendWorkers)
	c.BackendMaxRetries = getEnvAsInt("BACKEND_MAX_RETRIES", c.BackendMaxRetries)

	c.MarketData = strings.ToLower(getEnv("MARKET_DATA", c.MarketData))
	c.Broker = strings.ToLower(getEnv("BROKER", c.Broker))
	c.AlpacaKeyID = getEnv("APCA_API_KEY_ID", c.AlpacaKeyID)
	c.AlpacaSecret = getEnv("APCA_API_SECRET_KEY", c.AlpacaSecret)
	c.AlpacaBaseURL = getEnv("APCA_API_BASE_URL", c.AlpacaBaseURL)
	c.ETradeConsumerKey = getEnv("ETRADE_CONSUMER_KEY", c.ETradeConsumerKey)
	c.ETradeSecret = getEnv("ETRADE_CONSUMER_SECRET", c.ETradeSecret)
	c.ETradeSandbox = getEnvAsBool("ETRADE_SANDBOX", c.ETradeSandbox)
	c.ETradeRatePerSec = getEnvAsFloat64("ETRADE_RATE_PER_SEC", c.ETradeRatePerSec)
	c.SessionDir = getEnv("SESSION_DIR", c.SessionDir)
	c.SessionKey = getEnv("SESSION_ENCRYPTION_KEY", c.SessionKey)

	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
}

// Validate checks that the credentials required by the selected providers are present.
func (c *Config) Validate() error {
	var missing []string
	need := func(key, val string) {
		if val == "" {
			missing = append(missing, key)
		}
	}

	if c.Broker == "alpaca" || c.MarketData == "alpaca" {
		need("APCA_API_KEY_ID", c.AlpacaKeyID)
		need("APCA_API_SECRET_KEY", c.AlpacaSecret)
	}
	switch c.Broker {
	case "alpaca":
	case "etrade":
		need("ETRADE_CONSUMER_KEY", c.ETradeConsumerKey)
		need("ETRADE_CONSUMER_SECRET", c.ETradeSecret)
	default:
		return fmt.Errorf("%w: unknown broker %q", ErrConfiguration, c.Broker)
	}
	switch c.MarketData {
	case "alpaca", "yahoo":
	default:
		return fmt.Errorf("%w: unknown market data provider %q", ErrConfiguration, c.MarketData)
	}
	switch c.ReasoningBackend {
	case "gemini", "openai", "deepseek", "none":
	default:
		return fmt.Errorf("%w: unknown reasoning backend %q", ErrConfiguration, c.ReasoningBackend)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing required environment variables: %v", ErrConfiguration, missing)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold %.2f out of range", ErrConfiguration, c.ConfidenceThreshold)
	}
	return nil
}

// Masked returns the configuration as KEY=value lines with secrets reduced to their last 4 characters.
func (c *Config) Masked() []string {
	vals := map[string]string{
		"BROKER":                  c.Broker,
		"MARKET_DATA":             c.MarketData,
		"REASONING_BACKEND":       c.ReasoningBackend,
		"AI_CONFIDENCE_THRESHOLD": fmt.Sprintf("%.2f", c.ConfidenceThreshold),
		"MAX_TRADE_AMOUNT":        fmt.Sprintf("%.2f", c.MaxTradeAmount),
		"AUTO_TRADING_ENABLED":    fmt.Sprintf("%t", c.AutoTradingEnabled),
		"WATCHLIST":               strings.Join(c.Watchlist, ","),
		"DATABASE_PATH":           c.DatabasePath,
		"APCA_API_KEY_ID":         c.AlpacaKeyID,
		"APCA_API_SECRET_KEY":     c.AlpacaSecret,
		"ETRADE_CONSUMER_KEY":     c.ETradeConsumerKey,
		"ETRADE_CONSUMER_SECRET":  c.ETradeSecret,
		"GEMINI_API_KEY":          c.GeminiAPIKey,
		"OPENAI_API_KEY":          c.OpenAIAPIKey,
		"DEEPSEEK_API_KEY":        c.DeepSeekAPIKey,
		"TELEGRAM_BOT_TOKEN":      c.TelegramBotToken,
		"SESSION_ENCRYPTION_KEY":  c.SessionKey,
	}

	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		val := vals[key]
		if secretVars[key] && val != "" {
			masked := "***"
			if len(val) > 4 {
				masked = "***" + val[len(val)-4:]
			}
			val = masked
		}
		out = append(out, fmt.Sprintf("%s=%s", key, val))
	}
	return out
}
