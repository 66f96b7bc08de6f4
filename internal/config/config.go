package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"fear-greed-watch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Sampler     SamplerConfig     `mapstructure:"sampler"`
	Baskets     BasketsConfig     `mapstructure:"baskets"`
	CoinGecko   CoinGeckoConfig   `mapstructure:"coingecko"`
	Server      ServerConfig      `mapstructure:"server"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Leaving the DSN empty
// disables snapshot persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SamplerConfig governs the sampling cadence and the rolling window.
type SamplerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Horizon      time.Duration `mapstructure:"horizon"`
	PersistCron  string        `mapstructure:"persist_cron"`
	AlignToStart bool          `mapstructure:"align_to_start"`
}

// BasketsConfig fixes the tracked asset ids per basket.
type BasketsConfig struct {
	Basket1 []string `mapstructure:"basket1"`
	Basket2 []string `mapstructure:"basket2"`
}

// CoinGeckoConfig covers upstream quote access.
type CoinGeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Currency       string        `mapstructure:"currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
}

// LeaderboardConfig bounds the exposed ranking.
type LeaderboardConfig struct {
	TopK int `mapstructure:"top_k"`
}

// AlertingConfig defines extreme-sentiment alert thresholds and routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	FearThreshold  int            `mapstructure:"fear_threshold"`
	GreedThreshold int            `mapstructure:"greed_threshold"`
	Cooldown       time.Duration  `mapstructure:"cooldown"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FGWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fgwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("sampler.interval", "30s")
	v.SetDefault("sampler.horizon", "10h")
	v.SetDefault("sampler.persist_cron", "0 0 * * * *")
	v.SetDefault("sampler.align_to_start", true)

	v.SetDefault("baskets.basket1", []string{"solana", "bittensor", "render-network"})
	v.SetDefault("baskets.basket2", []string{"bitcoin", "ethereum", "ripple", "binance-coin", "solana", "dogecoin"})

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.currency", "usd")
	v.SetDefault("coingecko.request_timeout", "10s")
	v.SetDefault("coingecko.user_agent", "fgwatcher/1.0")

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.static_dir", "public")

	v.SetDefault("leaderboard.top_k", 10)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.fear_threshold", 10)
	v.SetDefault("alerting.greed_threshold", 90)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler.interval must be greater than zero")
	}
	if c.Sampler.Horizon < c.Sampler.Interval {
		return fmt.Errorf("sampler.horizon must cover at least one interval")
	}
	if len(c.Baskets.Basket1) == 0 || len(c.Baskets.Basket2) == 0 {
		return fmt.Errorf("both baskets must track at least one asset")
	}
	if err := validateUnique("baskets.basket1", c.Baskets.Basket1); err != nil {
		return err
	}
	if err := validateUnique("baskets.basket2", c.Baskets.Basket2); err != nil {
		return err
	}
	if c.Leaderboard.TopK <= 0 {
		return fmt.Errorf("leaderboard.top_k must be greater than zero")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Alerting.FearThreshold >= c.Alerting.GreedThreshold {
		return fmt.Errorf("alerting.fear_threshold must be below alerting.greed_threshold")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

func validateUnique(key string, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%s contains duplicate asset %q", key, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// WindowPoints returns how many samples a full retention window holds.
func (c *Config) WindowPoints() int {
	return int(c.Sampler.Horizon / c.Sampler.Interval)
}

// BasketMap returns the configured baskets in their fixed order.
func (c *Config) BasketMap() map[string][]string {
	return map[string][]string{
		"basket1": c.Baskets.Basket1,
		"basket2": c.Baskets.Basket2,
	}
}

// BasketNames returns the basket names in their fixed order.
func (c *Config) BasketNames() []string {
	return []string{"basket1", "basket2"}
}
