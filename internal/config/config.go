// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Feed      FeedConfig      `yaml:"feed"`
	Alerts    AlertConfig     `yaml:"alerts"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Timing    TimingConfig    `yaml:"timing"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Exchange string `yaml:"exchange"` // "binance" or "mock"
	DryRun   bool   `yaml:"dry_run"`
}

// ExchangeConfig contains exchange credentials and limits
type ExchangeConfig struct {
	APIKey        string  `yaml:"api_key"`
	SecretKey     string  `yaml:"secret_key"`
	BaseURL       string  `yaml:"base_url"` // Optional override for API URL
	QuoteAsset    string  `yaml:"quote_asset"`
	MinOrderValue float64 `yaml:"min_order_value"`
}

// EntryTierConfig is one rung of the scale-in ladder
type EntryTierConfig struct {
	TriggerPct float64 `yaml:"trigger_pct"` // 0 for the initial tier, negative below
	Notional   float64 `yaml:"notional"`
}

// ExitTierConfig is one rung of the scale-out ladder
type ExitTierConfig struct {
	TriggerPct float64 `yaml:"trigger_pct"` // positive take-profit, negative stop-loss
	Fraction   float64 `yaml:"fraction"`    // share of current quantity, (0, 1]
}

// TradingConfig contains trading parameters
type TradingConfig struct {
	Symbols         []string           `yaml:"symbols"`
	Interval        string             `yaml:"interval"`
	RequiredCandles int                `yaml:"required_candles"`
	BufferSize      int                `yaml:"buffer_size"`
	Strategy        string             `yaml:"strategy"`
	StrategyParams  map[string]float64 `yaml:"strategy_params"`
	EntryLadder     []EntryTierConfig  `yaml:"entry_ladder"`
	ExitLadder      []ExitTierConfig   `yaml:"exit_ladder"`
}

// RiskConfig contains entry gating thresholds. A zero value disables the
// corresponding check.
type RiskConfig struct {
	MaxDailyLoss    float64 `yaml:"max_daily_loss"`
	MaxDailyTrades  int     `yaml:"max_daily_trades"`
	MinQuoteBalance float64 `yaml:"min_quote_balance"`
}

// FeedConfig contains market data delivery settings
type FeedConfig struct {
	Mode                 string `yaml:"mode"` // "websocket" or "poll"
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
	ReconnectMaxAttempts int    `yaml:"reconnect_max_attempts"`
}

// AlertConfig contains notification channel settings
type AlertConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	MetricsPort   int  `yaml:"metrics_port"`
}

// TimingConfig contains timing-related settings (seconds unless noted)
type TimingConfig struct {
	ReconcileInterval       int `yaml:"reconcile_interval"`
	OrderWaitTimeout        int `yaml:"order_wait_timeout"`
	OrderPollIntervalMillis int `yaml:"order_poll_interval_millis"`
	LaunchDelayMillis       int `yaml:"launch_delay_millis"`
	StatusPrintInterval     int `yaml:"status_print_interval"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.Interval == "" {
		c.Trading.Interval = "1m"
	}
	if c.Trading.RequiredCandles == 0 {
		c.Trading.RequiredCandles = 100
	}
	if c.Trading.BufferSize == 0 {
		c.Trading.BufferSize = 500
	}
	if c.Trading.Strategy == "" {
		c.Trading.Strategy = "rsi"
	}
	if c.Exchange.QuoteAsset == "" {
		c.Exchange.QuoteAsset = "USDT"
	}
	if c.Exchange.MinOrderValue == 0 {
		c.Exchange.MinOrderValue = 10.0
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = "websocket"
	}
	if c.Feed.PollIntervalSeconds == 0 {
		c.Feed.PollIntervalSeconds = 5
	}
	if c.Feed.ReconnectMaxAttempts == 0 {
		c.Feed.ReconnectMaxAttempts = 10
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Timing.ReconcileInterval == 0 {
		c.Timing.ReconcileInterval = 60
	}
	if c.Timing.OrderWaitTimeout == 0 {
		c.Timing.OrderWaitTimeout = 30
	}
	if c.Timing.OrderPollIntervalMillis == 0 {
		c.Timing.OrderPollIntervalMillis = 500
	}
	if c.Timing.LaunchDelayMillis == 0 {
		c.Timing.LaunchDelayMillis = 1000
	}
	if c.Timing.StatusPrintInterval == 0 {
		c.Timing.StatusPrintInterval = 60
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateTradingConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateLadders(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateFeedConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validExchanges := []string{"binance", "mock"}
	if !contains(validExchanges, c.App.Exchange) {
		return ValidationError{
			Field:   "app.exchange",
			Value:   c.App.Exchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}
	}

	// Live binance trading needs credentials; mock and dry runs do not
	if c.App.Exchange == "binance" && !c.App.DryRun {
		if c.Exchange.APIKey == "" {
			return ValidationError{
				Field:   "exchange.api_key",
				Message: "API key is required for live trading",
			}
		}
		if c.Exchange.SecretKey == "" {
			return ValidationError{
				Field:   "exchange.secret_key",
				Message: "secret key is required for live trading",
			}
		}
	}

	return nil
}

func (c *Config) validateTradingConfig() error {
	if len(c.Trading.Symbols) == 0 {
		return ValidationError{
			Field:   "trading.symbols",
			Message: "at least one symbol is required",
		}
	}

	seen := make(map[string]bool)
	for _, s := range c.Trading.Symbols {
		if s == "" {
			return ValidationError{
				Field:   "trading.symbols",
				Message: "symbol must not be empty",
			}
		}
		if seen[s] {
			return ValidationError{
				Field:   "trading.symbols",
				Value:   s,
				Message: "duplicate symbol",
			}
		}
		seen[s] = true
	}

	if c.Trading.RequiredCandles > c.Trading.BufferSize {
		return ValidationError{
			Field:   "trading.required_candles",
			Value:   c.Trading.RequiredCandles,
			Message: "must not exceed buffer_size",
		}
	}

	return nil
}

func (c *Config) validateLadders() error {
	if len(c.Trading.EntryLadder) == 0 {
		return ValidationError{
			Field:   "trading.entry_ladder",
			Message: "at least one entry tier is required",
		}
	}

	if c.Trading.EntryLadder[0].TriggerPct != 0 {
		return ValidationError{
			Field:   "trading.entry_ladder",
			Value:   c.Trading.EntryLadder[0].TriggerPct,
			Message: "first entry tier must trigger at 0 (initial entry)",
		}
	}

	prev := 0.0
	for i, tier := range c.Trading.EntryLadder {
		if tier.Notional <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("trading.entry_ladder[%d].notional", i),
				Value:   tier.Notional,
				Message: "must be positive",
			}
		}
		if i > 0 && tier.TriggerPct >= prev {
			return ValidationError{
				Field:   fmt.Sprintf("trading.entry_ladder[%d].trigger_pct", i),
				Value:   tier.TriggerPct,
				Message: "entry triggers must be strictly decreasing",
			}
		}
		prev = tier.TriggerPct
	}

	for i, tier := range c.Trading.ExitLadder {
		if tier.TriggerPct == 0 {
			return ValidationError{
				Field:   fmt.Sprintf("trading.exit_ladder[%d].trigger_pct", i),
				Value:   tier.TriggerPct,
				Message: "must be non-zero (positive take-profit or negative stop-loss)",
			}
		}
		if tier.Fraction <= 0 || tier.Fraction > 1 {
			return ValidationError{
				Field:   fmt.Sprintf("trading.exit_ladder[%d].fraction", i),
				Value:   tier.Fraction,
				Message: "must be in (0, 1]",
			}
		}
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateFeedConfig() error {
	validModes := []string{"websocket", "poll"}
	if !contains(validModes, c.Feed.Mode) {
		return ValidationError{
			Field:   "feed.mode",
			Value:   c.Feed.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = maskString(configCopy.Exchange.APIKey)
	configCopy.Exchange.SecretKey = maskString(configCopy.Exchange.SecretKey)
	configCopy.Alerts.TelegramBotToken = maskString(configCopy.Alerts.TelegramBotToken)
	configCopy.Alerts.SlackWebhookURL = maskString(configCopy.Alerts.SlackWebhookURL)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{
			Exchange: "mock",
			DryRun:   true,
		},
		Exchange: ExchangeConfig{
			QuoteAsset:    "USDT",
			MinOrderValue: 10.0,
		},
		Trading: TradingConfig{
			Symbols:         []string{"BTCUSDT"},
			Interval:        "1m",
			RequiredCandles: 100,
			BufferSize:      500,
			Strategy:        "rsi",
			StrategyParams:  map[string]float64{"period": 14, "oversold": 30},
			EntryLadder: []EntryTierConfig{
				{TriggerPct: 0, Notional: 100},
				{TriggerPct: -3, Notional: 100},
				{TriggerPct: -6, Notional: 200},
			},
			ExitLadder: []ExitTierConfig{
				{TriggerPct: 3, Fraction: 0.5},
				{TriggerPct: 6, Fraction: 1.0},
				{TriggerPct: -8, Fraction: 1.0},
			},
		},
		Risk: RiskConfig{
			MaxDailyLoss:    500,
			MaxDailyTrades:  0,
			MinQuoteBalance: 0,
		},
		Feed: FeedConfig{
			Mode:                 "websocket",
			PollIntervalSeconds:  5,
			ReconnectMaxAttempts: 10,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
	cfg.applyDefaults()
	return cfg
}
