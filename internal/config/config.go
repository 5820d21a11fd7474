// Package config loads and validates the newstrader configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the newstrader pipeline.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Broker  BrokerConfig  `yaml:"broker"`
	Trading TradingConfig `yaml:"trading"`
	Notify  NotifyConfig  `yaml:"notify"`
	News    NewsConfig    `yaml:"news"`
	Logging Logging       `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	JournalDir string `yaml:"journal_dir"`
}

// Server holds the status server listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BrokerConfig selects and configures the broker adapter.
type BrokerConfig struct {
	// Name is "simulator" or "alpaca".
	Name       string `yaml:"name"`
	TimeoutSec int    `yaml:"timeout_sec"`
	Alpaca     Alpaca `yaml:"alpaca"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// TradingConfig defines risk and execution parameters for the pipeline.
type TradingConfig struct {
	MinMapConfidence      float64 `yaml:"min_map_confidence"`
	RiskPenaltyFactor     float64 `yaml:"risk_penalty_factor"`
	RiskPenaltyCap        float64 `yaml:"risk_penalty_cap"`
	MaxPositionsPerTicker int     `yaml:"max_positions_per_ticker"`
	DefaultQty            float64 `yaml:"default_qty"`
	KillSwitch            bool    `yaml:"kill_switch"`
	MaxAttemptsPerSignal  int     `yaml:"max_attempts_per_signal"`
	MinRetryIntervalSec   int     `yaml:"min_retry_interval_sec"`
	ExitCycleIntervalSec  int     `yaml:"exit_cycle_interval_sec"`
	MaxHoldMin            int     `yaml:"max_hold_min"`
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	TakeProfitPct         float64 `yaml:"take_profit_pct"`
	TrailingArmPct        float64 `yaml:"trailing_arm_pct"`
	TrailingGapPct        float64 `yaml:"trailing_gap_pct"`
	EnableDemoAutoClose   bool    `yaml:"enable_demo_auto_close"`
}

// NotifyConfig configures the fire-and-forget notification channel.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// NewsConfig controls the news ingestion source.
type NewsConfig struct {
	// Mode is "sample" or "rss".
	Mode   string `yaml:"mode"`
	RSSURL string `yaml:"rss_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MinRetryInterval returns the retry interval as a duration.
func (t TradingConfig) MinRetryInterval() time.Duration {
	return time.Duration(t.MinRetryIntervalSec) * time.Second
}

// ExitCycleInterval returns the exit cycle interval as a duration.
func (t TradingConfig) ExitCycleInterval() time.Duration {
	return time.Duration(t.ExitCycleIntervalSec) * time.Second
}

// MaxHold returns the maximum holding duration before a time exit.
func (t TradingConfig) MaxHold() time.Duration {
	return time.Duration(t.MaxHoldMin) * time.Minute
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("JOURNAL_DIR"); v != "" {
		cfg.Storage.JournalDir = v
	}
	if v := os.Getenv("BROKER"); v != "" {
		cfg.Broker.Name = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Broker.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Broker.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("KILL_SWITCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.KillSwitch = b
		}
	}

	// Standard Alpaca env vars (highest priority; canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with sane defaults. The trading
// defaults mirror the operating values the pipeline was tuned with.
func applyDefaults(cfg *Config) {
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "newstrader.db"
	}
	if cfg.Storage.JournalDir == "" {
		cfg.Storage.JournalDir = "journal"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Broker.Name == "" {
		cfg.Broker.Name = "simulator"
	}
	if cfg.Broker.TimeoutSec <= 0 {
		cfg.Broker.TimeoutSec = 10
	}
	if cfg.Trading.MinMapConfidence == 0 {
		cfg.Trading.MinMapConfidence = 0.92
	}
	if cfg.Trading.RiskPenaltyFactor == 0 {
		cfg.Trading.RiskPenaltyFactor = 0.1
	}
	if cfg.Trading.MaxPositionsPerTicker <= 0 {
		cfg.Trading.MaxPositionsPerTicker = 1
	}
	if cfg.Trading.DefaultQty == 0 {
		cfg.Trading.DefaultQty = 1
	}
	if cfg.Trading.MaxAttemptsPerSignal <= 0 {
		cfg.Trading.MaxAttemptsPerSignal = 2
	}
	if cfg.Trading.MinRetryIntervalSec <= 0 {
		cfg.Trading.MinRetryIntervalSec = 30
	}
	if cfg.Trading.ExitCycleIntervalSec <= 0 {
		cfg.Trading.ExitCycleIntervalSec = 60
	}
	if cfg.Trading.MaxHoldMin <= 0 {
		cfg.Trading.MaxHoldMin = 15
	}
	if cfg.Trading.StopLossPct == 0 {
		cfg.Trading.StopLossPct = 0.02
	}
	if cfg.Trading.TakeProfitPct == 0 {
		cfg.Trading.TakeProfitPct = 0.04
	}
	if cfg.Trading.TrailingArmPct == 0 {
		cfg.Trading.TrailingArmPct = 0.005
	}
	if cfg.Trading.TrailingGapPct == 0 {
		cfg.Trading.TrailingGapPct = 0.003
	}
	if cfg.Notify.TimeoutSec <= 0 {
		cfg.Notify.TimeoutSec = 5
	}
	if cfg.News.Mode == "" {
		cfg.News.Mode = "sample"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// validate rejects configurations the pipeline cannot run with.
func validate(cfg *Config) error {
	switch cfg.Broker.Name {
	case "simulator", "alpaca":
	default:
		return fmt.Errorf("broker.name must be \"simulator\" or \"alpaca\", got %q", cfg.Broker.Name)
	}
	if cfg.Trading.MinMapConfidence < 0 || cfg.Trading.MinMapConfidence > 1 {
		return fmt.Errorf("trading.min_map_confidence must be in [0,1], got %v", cfg.Trading.MinMapConfidence)
	}
	if cfg.Trading.RiskPenaltyFactor < 0 || cfg.Trading.RiskPenaltyFactor >= 1 {
		return fmt.Errorf("trading.risk_penalty_factor must be in [0,1), got %v", cfg.Trading.RiskPenaltyFactor)
	}
	if cfg.Trading.RiskPenaltyCap < 0 {
		return fmt.Errorf("trading.risk_penalty_cap must be >= 0, got %v", cfg.Trading.RiskPenaltyCap)
	}
	if cfg.Trading.DefaultQty <= 0 {
		return fmt.Errorf("trading.default_qty must be > 0, got %v", cfg.Trading.DefaultQty)
	}
	if cfg.News.Mode != "sample" && cfg.News.Mode != "rss" {
		return fmt.Errorf("news.mode must be \"sample\" or \"rss\", got %q", cfg.News.Mode)
	}
	if cfg.News.Mode == "rss" && cfg.News.RSSURL == "" {
		return fmt.Errorf("news.rss_url is required when news.mode is \"rss\"")
	}
	return nil
}
