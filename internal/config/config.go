package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trade-adapter/internal/core"
)

type ExchangeName string

const (
	ExchangeBitstamp ExchangeName = "bitstamp"
	ExchangeKraken   ExchangeName = "kraken"
)

type Config struct {
	Exchange       ExchangeName         `yaml:"exchange"`
	InstanceID     string               `yaml:"instance_id"`
	CurrencyPair   core.CurrencyPair    `yaml:"currency_pair"`
	OrderRules     OrderRulesConfig     `yaml:"order_rules"`
	API            APIConfig            `yaml:"api"`
	Queue          QueueConfig          `yaml:"queue"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Feed           FeedConfig           `yaml:"feed"`
	State          StateConfig          `yaml:"state"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

type OrderRulesConfig struct {
	PriceTick  Decimal `yaml:"price_tick"`
	AmountStep Decimal `yaml:"amount_step"`
}

type APIConfig struct {
	Bitstamp          BitstampAPIConfig `yaml:"bitstamp"`
	Kraken            KrakenAPIConfig   `yaml:"kraken"`
	HTTPTimeoutSec    int64             `yaml:"http_timeout_sec"`
	MaxRequestsPerSec float64           `yaml:"max_requests_per_sec"`
}

type BitstampAPIConfig struct {
	APIKey      string `yaml:"api_key"`
	Secret      string `yaml:"secret"`
	ClientID    string `yaml:"client_id"`
	RestBaseURL string `yaml:"rest_base_url"`
}

type KrakenAPIConfig struct {
	APIKey      string `yaml:"api_key"`
	Secret      string `yaml:"secret"`
	RestBaseURL string `yaml:"rest_base_url"`
}

type QueueConfig struct {
	SpacingMs int64 `yaml:"spacing_ms"`
}

type RetryConfig struct {
	DelaySec    int64 `yaml:"delay_sec"`
	MaxAttempts int   `yaml:"max_attempts"`
}

type CircuitBreakerConfig struct {
	Enabled           bool  `yaml:"enabled"`
	MaxPlaceFailures  int   `yaml:"max_place_failures"`
	MaxCancelFailures int   `yaml:"max_cancel_failures"`
	CooldownSec       int64 `yaml:"cooldown_sec"`
}

// FeedConfig selects the public trade stream. Symbol is the stream's own
// name for the pair; Kraken's websocket uses "XBT/USD" where REST uses
// "XXBTZUSD".
type FeedConfig struct {
	WSURL  string `yaml:"ws_url"`
	Symbol string `yaml:"symbol"`
}

type StateConfig struct {
	Dir          string `yaml:"dir"`
	LockTakeover *bool  `yaml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec"`
}

type ObservabilityConfig struct {
	Log      LogConfig      `yaml:"log"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Debug      bool   `yaml:"debug"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

// envOverrides keeps credentials out of the YAML file. Non-empty values win.
type envOverrides struct {
	Exchange         string `env:"TRADE_ADAPTER_EXCHANGE"`
	BitstampAPIKey   string `env:"BITSTAMP_API_KEY"`
	BitstampSecret   string `env:"BITSTAMP_SECRET"`
	BitstampClientID string `env:"BITSTAMP_CLIENT_ID"`
	KrakenAPIKey     string `env:"KRAKEN_API_KEY"`
	KrakenSecret     string `env:"KRAKEN_SECRET"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.applyEnv(overrides)
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(o envOverrides) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	exchange := string(c.Exchange)
	set(&exchange, o.Exchange)
	c.Exchange = ExchangeName(exchange)
	set(&c.API.Bitstamp.APIKey, o.BitstampAPIKey)
	set(&c.API.Bitstamp.Secret, o.BitstampSecret)
	set(&c.API.Bitstamp.ClientID, o.BitstampClientID)
	set(&c.API.Kraken.APIKey, o.KrakenAPIKey)
	set(&c.API.Kraken.Secret, o.KrakenSecret)
	set(&c.Observability.Telegram.BotToken, o.TelegramBotToken)
	set(&c.Observability.Telegram.ChatID, o.TelegramChatID)
}

func (c *Config) normalize() {
	c.Exchange = ExchangeName(strings.ToLower(strings.TrimSpace(string(c.Exchange))))
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	c.CurrencyPair.Pair = strings.TrimSpace(c.CurrencyPair.Pair)
	c.CurrencyPair.Asset = strings.TrimSpace(c.CurrencyPair.Asset)
	c.CurrencyPair.Currency = strings.TrimSpace(c.CurrencyPair.Currency)
	c.API.Bitstamp.APIKey = strings.TrimSpace(c.API.Bitstamp.APIKey)
	c.API.Bitstamp.Secret = strings.TrimSpace(c.API.Bitstamp.Secret)
	c.API.Bitstamp.ClientID = strings.TrimSpace(c.API.Bitstamp.ClientID)
	c.API.Bitstamp.RestBaseURL = strings.TrimSpace(c.API.Bitstamp.RestBaseURL)
	c.API.Kraken.APIKey = strings.TrimSpace(c.API.Kraken.APIKey)
	c.API.Kraken.Secret = strings.TrimSpace(c.API.Kraken.Secret)
	c.API.Kraken.RestBaseURL = strings.TrimSpace(c.API.Kraken.RestBaseURL)
	c.Feed.WSURL = strings.TrimSpace(c.Feed.WSURL)
	c.Feed.Symbol = strings.TrimSpace(c.Feed.Symbol)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Observability.Log.File = strings.TrimSpace(c.Observability.Log.File)
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.API.Bitstamp.RestBaseURL == "" {
		c.API.Bitstamp.RestBaseURL = "https://www.bitstamp.net"
	}
	if c.API.Kraken.RestBaseURL == "" {
		c.API.Kraken.RestBaseURL = "https://api.kraken.com"
	}
	if c.API.HTTPTimeoutSec == 0 {
		c.API.HTTPTimeoutSec = 30
	}
	if c.Queue.SpacingMs == 0 {
		c.Queue.SpacingMs = 1000
	}
	if c.Retry.DelaySec == 0 {
		c.Retry.DelaySec = 15
	}
	if c.CircuitBreaker.MaxPlaceFailures == 0 {
		c.CircuitBreaker.MaxPlaceFailures = 5
	}
	if c.CircuitBreaker.MaxCancelFailures == 0 {
		c.CircuitBreaker.MaxCancelFailures = 5
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 60
	}
	if c.Feed.WSURL == "" {
		switch c.Exchange {
		case ExchangeBitstamp:
			c.Feed.WSURL = "wss://ws.bitstamp.net"
		case ExchangeKraken:
			c.Feed.WSURL = "wss://ws.kraken.com"
		}
	}
	if c.Feed.Symbol == "" {
		c.Feed.Symbol = c.CurrencyPair.Pair
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LockTakeover == nil {
		enabled := true
		c.State.LockTakeover = &enabled
	}
	if c.State.LockStaleSec == 0 {
		c.State.LockStaleSec = 600
	}
	if c.Observability.Log.MaxSizeMB == 0 {
		c.Observability.Log.MaxSizeMB = 50
	}
	if c.Observability.Log.MaxBackups == 0 {
		c.Observability.Log.MaxBackups = 5
	}
	if c.Observability.Log.MaxAgeDays == 0 {
		c.Observability.Log.MaxAgeDays = 14
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
}

// Validate rejects an unknown exchange with core.ErrUnknownExchange so the
// caller can tell a fatal selection error from other mistakes.
func (c Config) Validate() error {
	switch c.Exchange {
	case ExchangeBitstamp, ExchangeKraken:
	case "":
		return fmt.Errorf("%w: exchange is required", core.ErrUnknownExchange)
	default:
		return fmt.Errorf("%w: %q, must be bitstamp or kraken", core.ErrUnknownExchange, string(c.Exchange))
	}
	if c.CurrencyPair.Pair == "" {
		return fmt.Errorf("currency_pair.pair is required")
	}
	if c.CurrencyPair.Asset == "" || c.CurrencyPair.Currency == "" {
		return fmt.Errorf("currency_pair.asset/currency are required")
	}
	if !isValidInstanceID(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if c.OrderRules.PriceTick.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("order_rules.price_tick must be >= 0")
	}
	if c.OrderRules.AmountStep.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("order_rules.amount_step must be >= 0")
	}
	switch c.Exchange {
	case ExchangeBitstamp:
		if c.API.Bitstamp.APIKey == "" || c.API.Bitstamp.Secret == "" || c.API.Bitstamp.ClientID == "" {
			return fmt.Errorf("api.bitstamp api_key/secret/client_id are required")
		}
		if err := validateURL(c.API.Bitstamp.RestBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("api.bitstamp.rest_base_url %v", err)
		}
	case ExchangeKraken:
		if c.API.Kraken.APIKey == "" || c.API.Kraken.Secret == "" {
			return fmt.Errorf("api.kraken api_key/secret are required")
		}
		if err := validateURL(c.API.Kraken.RestBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("api.kraken.rest_base_url %v", err)
		}
	}
	if c.API.HTTPTimeoutSec < 1 || c.API.HTTPTimeoutSec > 120 {
		return fmt.Errorf("api.http_timeout_sec must be between 1 and 120")
	}
	if c.API.MaxRequestsPerSec < 0 {
		return fmt.Errorf("api.max_requests_per_sec must be >= 0")
	}
	if c.Queue.SpacingMs < 1 || c.Queue.SpacingMs > 60000 {
		return fmt.Errorf("queue.spacing_ms must be between 1 and 60000")
	}
	if c.Retry.DelaySec < 1 || c.Retry.DelaySec > 3600 {
		return fmt.Errorf("retry.delay_sec must be between 1 and 3600")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxPlaceFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_place_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxCancelFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_cancel_failures must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 3600 {
			return fmt.Errorf("circuit_breaker.cooldown_sec must be between 1 and 3600")
		}
	}
	if c.Feed.WSURL != "" {
		if err := validateURL(c.Feed.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("feed.ws_url %v", err)
		}
	}
	if c.State.LockStaleSec < 0 || c.State.LockStaleSec > 86400 {
		return fmt.Errorf("state.lock_stale_sec must be between 0 and 86400")
	}
	if c.Observability.Log.MaxSizeMB < 1 {
		return fmt.Errorf("observability.log.max_size_mb must be >= 1")
	}
	if c.Observability.Log.MaxBackups < 0 || c.Observability.Log.MaxAgeDays < 0 {
		return fmt.Errorf("observability.log.max_backups/max_age_days must be >= 0")
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" {
			return fmt.Errorf("observability.telegram.bot_token is required when telegram enabled")
		}
		if c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("observability.telegram.chat_id is required when telegram enabled")
		}
		if c.Observability.Telegram.TimeoutSec < 1 || c.Observability.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("observability.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("observability.telegram.api_base_url %v", err)
		}
	}
	return nil
}

// Rules converts order_rules into the rounding steps applied to orders.
func (c Config) Rules() core.OrderRules {
	return core.OrderRules{
		PriceTick:  c.OrderRules.PriceTick.Decimal,
		AmountStep: c.OrderRules.AmountStep.Decimal,
	}
}

func isValidInstanceID(v string) bool {
	if len(v) < 1 || len(v) > 24 {
		return false
	}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
