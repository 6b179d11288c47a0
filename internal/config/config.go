// Package config exposes strongly typed application configuration structs loaded from YAML,
// with secrets and operational overrides taken from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when SWEEPBOT_CONFIG is not set.
const DefaultPath = "internal/config/config.yaml"

// App captures process-wide runtime settings such as name, environment, metrics, and logging.
type App struct {
	Name              string `yaml:"name"`
	Env               string `yaml:"env"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	MetricsAddr       string `yaml:"metrics_addr"`
	CycleIntervalSecs int    `yaml:"cycle_interval_secs"`
	RetryDelaySecs    int    `yaml:"retry_delay_secs"`
}

// Exchange describes where quotes come from and which symbols are tracked.
type Exchange struct {
	Provider     string   `yaml:"provider"`
	BaseURL      string   `yaml:"base_url"`
	WSURL        string   `yaml:"ws_url"`
	Symbols      []string `yaml:"symbols"`
	TimeoutMs    int      `yaml:"timeout_ms"`
	StaleAfterMs int      `yaml:"stale_after_ms"`
}

// Flow configures the order-flow sweep provider.
type Flow struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Paper captures paper-trading account settings: starting cash, sizing caps, exits and file locations.
type Paper struct {
	InitialBalanceUSD float64 `yaml:"initial_balance_usd"`
	MaxPositionUSD    float64 `yaml:"max_position_usd"`
	TPPct             float64 `yaml:"tp_pct"`
	SLPct             float64 `yaml:"sl_pct"`
	MinConfidencePct  float64 `yaml:"min_confidence_pct"`
	MinPositionUSD    float64 `yaml:"min_position_usd"`
	StatePath         string  `yaml:"state_path"`
	TradesPath        string  `yaml:"trades_path"`
}

// Strategy selects the active sweep rules and their thresholds.
type Strategy struct {
	Mode                    string  `yaml:"mode"`
	LiquidationThresholdUSD float64 `yaml:"liquidation_threshold_usd"`
	WhaleThresholdUSD       float64 `yaml:"whale_threshold_usd"`
	SizeFloor               float64 `yaml:"size_floor"`
}

// Telegram holds Bot API credentials.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

// Discord holds the channel webhook.
type Discord struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Notify configures lifecycle notifications.
type Notify struct {
	Telegram  Telegram `yaml:"telegram"`
	Discord   Discord  `yaml:"discord"`
	QueueSize int      `yaml:"queue_size"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Flow     Flow     `yaml:"flow"`
	Paper    Paper    `yaml:"paper"`
	Strategy Strategy `yaml:"strategy"`
	Notify   Notify   `yaml:"notify"`
}

// env lists the variables read with the SWEEPBOT_ prefix (SWEEPBOT_LOG_LEVEL, SWEEPBOT_SYMBOLS, ...).
// Tagged credential fields also fall back to their bare names such as TELEGRAM_BOT_TOKEN.
type env struct {
	LogLevel          string   `split_words:"true"`
	MetricsAddr       string   `split_words:"true"`
	ExchangeProvider  string   `split_words:"true"`
	Symbols           []string `split_words:"true"`
	InitialBalanceUSD float64  `split_words:"true"`
	StatePath         string   `split_words:"true"`
	TelegramBotToken  string   `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    string   `envconfig:"TELEGRAM_CHAT_ID"`
	DiscordWebhookURL string   `envconfig:"DISCORD_WEBHOOK_URL"`
}

// Path resolves the config file location from SWEEPBOT_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("SWEEPBOT_CONFIG")); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads a YAML file from disk, applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Read decodes the YAML file as written, without environment overrides or defaults.
func Read(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("SWEEPBOT", &e); err != nil {
		return fmt.Errorf("process env: %w", err)
	}
	if e.LogLevel != "" {
		c.App.LogLevel = e.LogLevel
	}
	if e.MetricsAddr != "" {
		c.App.MetricsAddr = e.MetricsAddr
	}
	if e.ExchangeProvider != "" {
		c.Exchange.Provider = e.ExchangeProvider
	}
	if len(e.Symbols) > 0 {
		c.Exchange.Symbols = e.Symbols
	}
	if e.InitialBalanceUSD > 0 {
		c.Paper.InitialBalanceUSD = e.InitialBalanceUSD
	}
	if e.StatePath != "" {
		c.Paper.StatePath = e.StatePath
	}
	if e.TelegramBotToken != "" {
		c.Notify.Telegram.BotToken = e.TelegramBotToken
	}
	if e.TelegramChatID != "" {
		c.Notify.Telegram.ChatID = e.TelegramChatID
	}
	if e.DiscordWebhookURL != "" {
		c.Notify.Discord.WebhookURL = e.DiscordWebhookURL
	}
	return nil
}

// ApplyDefaults fills every optional field left empty.
func (c *Config) ApplyDefaults() {
	setString(&c.App.Name, "sweepbot")
	setString(&c.App.Env, "dev")
	setString(&c.App.LogLevel, "info")
	setString(&c.App.LogFormat, "json")
	setString(&c.App.MetricsAddr, ":9102")
	setInt(&c.App.CycleIntervalSecs, 30)
	setInt(&c.App.RetryDelaySecs, 10)

	setString(&c.Exchange.Provider, "hyperliquid")
	setString(&c.Exchange.BaseURL, "https://api.hyperliquid.xyz")
	setString(&c.Exchange.WSURL, "wss://api.hyperliquid.xyz/ws")
	setInt(&c.Exchange.TimeoutMs, 10000)
	setInt(&c.Exchange.StaleAfterMs, 30000)
	c.Exchange.Provider = strings.ToLower(c.Exchange.Provider)
	for i, sym := range c.Exchange.Symbols {
		c.Exchange.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	setString(&c.Flow.URL, "https://moondev.com/api/polymarket/sweeps")
	setInt(&c.Flow.TimeoutMs, 10000)

	setFloat(&c.Paper.MaxPositionUSD, 150)
	setFloat(&c.Paper.TPPct, 0.6)
	setFloat(&c.Paper.SLPct, 3.0)
	setFloat(&c.Paper.MinConfidencePct, 60)
	setFloat(&c.Paper.MinPositionUSD, 10)
	setString(&c.Paper.StatePath, filepath.Join("data", "state.json"))

	setString(&c.Strategy.Mode, "all")
	setFloat(&c.Strategy.LiquidationThresholdUSD, 50000)
	setFloat(&c.Strategy.WhaleThresholdUSD, 10000)
	setFloat(&c.Strategy.SizeFloor, 1000)

	setInt(&c.Notify.QueueSize, 64)
	setInt(&c.Notify.TimeoutMs, 10000)
}

// Validate reports the first missing or out-of-range setting.
func (c *Config) Validate() error {
	if len(c.Exchange.Symbols) == 0 {
		return errors.New("exchange.symbols must list at least one symbol")
	}
	for _, sym := range c.Exchange.Symbols {
		if sym == "" {
			return errors.New("exchange.symbols contains an empty symbol")
		}
	}
	switch c.Exchange.Provider {
	case "hyperliquid", "hyperliquid_ws", "stub":
	default:
		return fmt.Errorf("unknown exchange.provider %q", c.Exchange.Provider)
	}
	if c.Paper.InitialBalanceUSD <= 0 {
		return errors.New("paper.initial_balance_usd must be positive")
	}
	if c.Paper.TPPct <= 0 || c.Paper.SLPct <= 0 {
		return errors.New("paper.tp_pct and paper.sl_pct must be positive")
	}
	if c.Paper.MinConfidencePct < 0 || c.Paper.MinConfidencePct > 100 {
		return fmt.Errorf("paper.min_confidence_pct %.2f outside [0,100]", c.Paper.MinConfidencePct)
	}
	if c.Paper.MaxPositionUSD < 0 || c.Paper.MinPositionUSD < 0 {
		return errors.New("paper position limits must not be negative")
	}
	switch strings.ToLower(c.Strategy.Mode) {
	case "all", "liquidation", "liquidations", "fade", "whale", "whales", "follow":
	default:
		return fmt.Errorf("unknown strategy.mode %q", c.Strategy.Mode)
	}
	switch c.App.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown app.log_format %q", c.App.LogFormat)
	}
	if c.App.CycleIntervalSecs <= 0 {
		return errors.New("app.cycle_interval_secs must be positive")
	}
	return nil
}

// CycleInterval is the pause between trading cycles.
func (a App) CycleInterval() time.Duration {
	return time.Duration(a.CycleIntervalSecs) * time.Second
}

// RetryDelay is the shorter pause after a cycle that got no quotes.
func (a App) RetryDelay() time.Duration {
	return time.Duration(a.RetryDelaySecs) * time.Second
}

// Timeout bounds each quote fetch.
func (e Exchange) Timeout() time.Duration { return millis(e.TimeoutMs) }

// StaleAfter is the maximum age of a streamed book.
func (e Exchange) StaleAfter() time.Duration { return millis(e.StaleAfterMs) }

// Timeout bounds each sweep batch fetch.
func (f Flow) Timeout() time.Duration { return millis(f.TimeoutMs) }

// Timeout bounds each notification send.
func (n Notify) Timeout() time.Duration { return millis(n.TimeoutMs) }

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func setFloat(dst *float64, def float64) {
	if *dst <= 0 {
		*dst = def
	}
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
