package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Profiles mirror the two bot flavours the engine grew out of.
const (
	ProfilePaper = "paper"
	ProfileUltra = "ultra"
)

// Config is the full runtime configuration. Every key can be overridden by an
// environment variable named after its path, e.g. session.pairs -> SESSION_PAIRS.
type Config struct {
	Profile string `mapstructure:"profile"`
	AppEnv  string `mapstructure:"app_env"`

	Log       LogConfig       `mapstructure:"log"`
	Session   SessionConfig   `mapstructure:"session"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Exit      ExitConfig      `mapstructure:"exit"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	TUI       TUIConfig       `mapstructure:"tui"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SessionConfig struct {
	Pairs            []string      `mapstructure:"pairs"`
	Interval         string        `mapstructure:"interval"`
	InitialCapital   float64       `mapstructure:"initial_capital"`
	HistorySize      int           `mapstructure:"history_size"`
	ForceCloseOnStop bool          `mapstructure:"force_close_on_stop"`
	ReportDir        string        `mapstructure:"report_dir"`
	StatusInterval   time.Duration `mapstructure:"status_interval"`
	QueueSize        int           `mapstructure:"queue_size"`
}

type TradingConfig struct {
	CommissionRate      float64 `mapstructure:"commission_rate"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	AdaptiveThreshold   bool    `mapstructure:"adaptive_threshold"`
	AdaptiveMinTrades   int     `mapstructure:"adaptive_min_trades"`
	MaxOpenPositions    int     `mapstructure:"max_open_positions"`
}

type SizingConfig struct {
	Policy              string  `mapstructure:"policy"`
	BaseFraction        float64 `mapstructure:"base_fraction"`
	MaxFractionPerTrade float64 `mapstructure:"max_fraction_per_trade"`
	MinTradeValue       float64 `mapstructure:"min_trade_value"`
	MaxKelly            float64 `mapstructure:"max_kelly"`
	KellyMinTrades      int     `mapstructure:"kelly_min_trades"`
}

// PartialLevel closes Fraction of the remaining quantity once the gain reaches Level percent.
type PartialLevel struct {
	Level    float64 `mapstructure:"level"`
	Fraction float64 `mapstructure:"fraction"`
}

type ExitConfig struct {
	Mode          string  `mapstructure:"mode"` // static | atr
	StopLossPct   float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`

	ATRStopMultiplier       float64 `mapstructure:"atr_stop_multiplier"`
	MinStopLossPct          float64 `mapstructure:"min_stop_loss_pct"`
	MaxStopLossPct          float64 `mapstructure:"max_stop_loss_pct"`
	ATRTakeProfitMultiplier float64 `mapstructure:"atr_take_profit_multiplier"`
	MinTakeProfitPct        float64 `mapstructure:"min_take_profit_pct"`
	MaxTakeProfitPct        float64 `mapstructure:"max_take_profit_pct"`

	TrailingEnabled       bool    `mapstructure:"trailing_enabled"`
	TrailingActivationPct float64 `mapstructure:"trailing_activation_pct"`
	TrailingGivebackPct   float64 `mapstructure:"trailing_giveback_pct"`

	PartialEnabled bool           `mapstructure:"partial_enabled"`
	PartialLevels  []PartialLevel `mapstructure:"partial_levels"`

	MaxHoldBars int `mapstructure:"max_hold_bars"`
}

type StrategyConfig struct {
	Name string `mapstructure:"name"`
	Seed int64  `mapstructure:"seed"`
}

type FeedConfig struct {
	Source         string        `mapstructure:"source"` // binance | random
	StreamURL      string        `mapstructure:"stream_url"`
	WarmupCandles  int           `mapstructure:"warmup_candles"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ClosedOnly     bool          `mapstructure:"closed_only"`

	RandomStartPrice float64       `mapstructure:"random_start_price"`
	RandomVolatility float64       `mapstructure:"random_volatility"`
	RandomStep       time.Duration `mapstructure:"random_step"`
	RandomCandles    int           `mapstructure:"random_candles"`
}

type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TUIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// Strict reports whether ledger invariant violations should abort the session.
func (c *Config) Strict() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// Load reads .env (if found next to go.mod or in the working directory), an optional
// YAML file named by CONFIG_FILE, then environment overrides.
func Load() (*Config, error) {
	_ = LoadEnvFile()
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom is Load without the .env lookup. An empty path skips the YAML file.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetDefault("profile", ProfilePaper)
	setDefaults(v, strings.ToLower(v.GetString("profile")))

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFile walks up from the working directory to the module root and loads .env there.
func LoadEnvFile() error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	rootDir := workDir
	for {
		if _, err := os.Stat(filepath.Join(rootDir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(rootDir)
		if parent == rootDir {
			rootDir = workDir
			break
		}
		rootDir = parent
	}
	envPath := filepath.Join(rootDir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	return godotenv.Load(envPath)
}

func setDefaults(v *viper.Viper, profile string) {
	v.SetDefault("app_env", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pretty")

	v.SetDefault("session.pairs", []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"})
	v.SetDefault("session.interval", "1m")
	v.SetDefault("session.initial_capital", 10000.0)
	v.SetDefault("session.history_size", 100)
	v.SetDefault("session.force_close_on_stop", true)
	v.SetDefault("session.report_dir", "reports")
	v.SetDefault("session.status_interval", 30*time.Second)
	v.SetDefault("session.queue_size", 64)

	v.SetDefault("trading.commission_rate", 0.001)
	v.SetDefault("trading.confidence_threshold", 0.70)
	v.SetDefault("trading.adaptive_threshold", false)
	v.SetDefault("trading.adaptive_min_trades", 10)
	v.SetDefault("trading.max_open_positions", 0)

	v.SetDefault("sizing.policy", "fixed")
	v.SetDefault("sizing.base_fraction", 0.02)
	v.SetDefault("sizing.max_fraction_per_trade", 0.30)
	v.SetDefault("sizing.min_trade_value", 50.0)
	v.SetDefault("sizing.max_kelly", 0.25)
	v.SetDefault("sizing.kelly_min_trades", 10)

	v.SetDefault("exit.mode", "static")
	v.SetDefault("exit.stop_loss_pct", 1.5)
	v.SetDefault("exit.take_profit_pct", 3.0)
	v.SetDefault("exit.atr_stop_multiplier", 2.0)
	v.SetDefault("exit.min_stop_loss_pct", 0.5)
	v.SetDefault("exit.max_stop_loss_pct", 3.0)
	v.SetDefault("exit.atr_take_profit_multiplier", 3.0)
	v.SetDefault("exit.min_take_profit_pct", 1.0)
	v.SetDefault("exit.max_take_profit_pct", 10.0)
	v.SetDefault("exit.trailing_enabled", false)
	v.SetDefault("exit.trailing_activation_pct", 1.0)
	v.SetDefault("exit.trailing_giveback_pct", 0.5)
	v.SetDefault("exit.partial_enabled", false)
	v.SetDefault("exit.partial_levels", []map[string]interface{}{
		{"level": 0.5, "fraction": 0.3},
		{"level": 1.0, "fraction": 0.3},
		{"level": 2.0, "fraction": 0.4},
	})
	v.SetDefault("exit.max_hold_bars", 0)

	v.SetDefault("strategy.name", "rsi")
	v.SetDefault("strategy.seed", 42)

	v.SetDefault("feed.source", "binance")
	v.SetDefault("feed.stream_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("feed.warmup_candles", 50)
	v.SetDefault("feed.reconnect_delay", 5*time.Second)
	v.SetDefault("feed.closed_only", false)
	v.SetDefault("feed.random_start_price", 100.0)
	v.SetDefault("feed.random_volatility", 0.004)
	v.SetDefault("feed.random_step", time.Second)
	v.SetDefault("feed.random_candles", 0)

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.addr", ":3000")
	v.SetDefault("tui.enabled", false)

	if profile == ProfileUltra {
		v.SetDefault("session.history_size", 300)
		v.SetDefault("trading.confidence_threshold", 0.75)
		v.SetDefault("trading.adaptive_threshold", true)
		v.SetDefault("trading.max_open_positions", 8)
		v.SetDefault("sizing.policy", "kelly")
		v.SetDefault("exit.mode", "atr")
		v.SetDefault("exit.trailing_enabled", true)
		v.SetDefault("exit.partial_enabled", true)
		v.SetDefault("strategy.name", "ensemble")
	}
}

func (c *Config) normalize() {
	c.Profile = strings.ToLower(strings.TrimSpace(c.Profile))
	pairs := make([]string, 0, len(c.Session.Pairs))
	seen := make(map[string]bool)
	for _, raw := range c.Session.Pairs {
		for _, p := range strings.Split(raw, ",") {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	c.Session.Pairs = pairs
	c.Sizing.Policy = strings.ToLower(c.Sizing.Policy)
	c.Exit.Mode = strings.ToLower(c.Exit.Mode)
	c.Feed.Source = strings.ToLower(c.Feed.Source)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case len(c.Session.Pairs) == 0:
		return fmt.Errorf("session.pairs: at least one pair required")
	case c.Session.InitialCapital <= 0:
		return fmt.Errorf("session.initial_capital must be positive, got %v", c.Session.InitialCapital)
	case c.Session.HistorySize < 100 || c.Session.HistorySize > 300:
		return fmt.Errorf("session.history_size must be within [100,300], got %d", c.Session.HistorySize)
	case c.Trading.CommissionRate < 0 || c.Trading.CommissionRate >= 1:
		return fmt.Errorf("trading.commission_rate out of range: %v", c.Trading.CommissionRate)
	case c.Trading.ConfidenceThreshold < 0 || c.Trading.ConfidenceThreshold > 1:
		return fmt.Errorf("trading.confidence_threshold out of range: %v", c.Trading.ConfidenceThreshold)
	}
	switch c.Sizing.Policy {
	case "fixed", "kelly":
	default:
		return fmt.Errorf("sizing.policy: unknown policy %q", c.Sizing.Policy)
	}
	switch c.Exit.Mode {
	case "static", "atr":
	default:
		return fmt.Errorf("exit.mode: unknown mode %q", c.Exit.Mode)
	}
	if c.Exit.StopLossPct <= 0 || c.Exit.TakeProfitPct <= 0 {
		return fmt.Errorf("exit: stop_loss_pct and take_profit_pct must be positive")
	}
	for i, lvl := range c.Exit.PartialLevels {
		if lvl.Level <= 0 || lvl.Fraction <= 0 || lvl.Fraction > 1 {
			return fmt.Errorf("exit.partial_levels[%d]: invalid level %+v", i, lvl)
		}
	}
	switch c.Feed.Source {
	case "binance", "random":
	default:
		return fmt.Errorf("feed.source: unknown source %q", c.Feed.Source)
	}
	return nil
}
