// Package config loads and validates the pipeline's runtime configuration:
// which exchanges/symbols to ingest, and the sizing/threshold knobs for the
// cache, aggregator, risk engine and black-swan protector. Shaped after the
// teacher's config.Config/Default()/LoadFile()/ApplyEnv() pattern, grouped
// into one sub-struct per component instead of one flat struct.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marketpulse/pipeline/internal/account"
	"github.com/marketpulse/pipeline/internal/aggregator"
	"github.com/marketpulse/pipeline/internal/blackswan"
	"github.com/marketpulse/pipeline/internal/cache"
	"github.com/marketpulse/pipeline/internal/executor"
	"github.com/marketpulse/pipeline/internal/risk"
	"github.com/marketpulse/pipeline/internal/session"
)

// Config is the top-level pipeline configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Ingestion IngestionConfig `yaml:"ingestion"`
	Cache     cache.Config    `yaml:"cache"`
	Aggregator aggregator.Config `yaml:"aggregator"`
	Account   account.Config  `yaml:"account"`
	Risk      risk.Config     `yaml:"risk"`
	BlackSwan blackswan.Config `yaml:"blackswan"`
	Executor  executor.Config `yaml:"executor"`

	Telegram TelegramConfig `yaml:"telegram"`
	API      APIConfig      `yaml:"api"`
}

// IngestionConfig names which exchanges and symbols to subscribe to, and the
// per-exchange session tuning.
type IngestionConfig struct {
	Exchanges []string        `yaml:"exchanges"`
	Symbols   []string        `yaml:"symbols"` // "BASE/QUOTE" form, e.g. "BTC/USDT"
	Session   session.Config  `yaml:"session"`
}

// TelegramConfig controls alert delivery.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// APIConfig controls the health/readiness HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration every sub-package's own DefaultConfig
// would produce, plus ingestion defaults covering the four supported
// venues on their USDT spot book for BTC and ETH.
func Default() Config {
	return Config{
		LogLevel: "info",
		Ingestion: IngestionConfig{
			Exchanges: []string{"binance", "bybit", "okx", "deribit"},
			Symbols:   []string{"BTC/USDT", "ETH/USDT"},
			Session:   session.DefaultConfig(),
		},
		Cache:      cache.DefaultConfig(),
		Aggregator: aggregator.DefaultConfig(),
		Account:    account.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		BlackSwan:  blackswan.DefaultConfig(),
		Executor:   executor.DefaultConfig(),
		API:        APIConfig{Enabled: true, Addr: ":8080"},
	}
}

// LoadFile reads path as YAML over Default(), so any field the file omits
// keeps its default value.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides the Telegram bot token and chat ID, the log level and
// the API listen address from the environment, so the alert secrets never
// need to live in the YAML file on disk. It reads no exchange API
// credentials; Config has no field for them.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PIPELINE_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("PIPELINE_TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("PIPELINE_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("PIPELINE_API_ADDR")); v != "" {
		c.API.Addr = v
	}
}
