package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"trade-adapter/internal/core"
)

const krakenConfig = `
exchange: kraken
currency_pair:
  pair: XXBTZUSD
  asset: XXBT
  currency: ZUSD
api:
  kraken:
    api_key: k
    secret: c2VjcmV0
`

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeTempConfig(t, krakenConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange != ExchangeKraken {
		t.Fatalf("exchange = %q, want %q", cfg.Exchange, ExchangeKraken)
	}
	if cfg.Queue.SpacingMs != 1000 {
		t.Fatalf("queue.spacing_ms = %d, want 1000", cfg.Queue.SpacingMs)
	}
	if cfg.Retry.DelaySec != 15 || cfg.Retry.MaxAttempts != 0 {
		t.Fatalf("retry = %+v, want delay 15 and unlimited attempts", cfg.Retry)
	}
	if cfg.API.HTTPTimeoutSec != 30 {
		t.Fatalf("api.http_timeout_sec = %d, want 30", cfg.API.HTTPTimeoutSec)
	}
	if cfg.API.Kraken.RestBaseURL != "https://api.kraken.com" {
		t.Fatalf("api.kraken.rest_base_url = %q", cfg.API.Kraken.RestBaseURL)
	}
	if cfg.Feed.WSURL != "wss://ws.kraken.com" {
		t.Fatalf("feed.ws_url = %q, want kraken default", cfg.Feed.WSURL)
	}
	if cfg.Feed.Symbol != "XXBTZUSD" {
		t.Fatalf("feed.symbol = %q, want currency pair", cfg.Feed.Symbol)
	}
	if cfg.InstanceID != "default" {
		t.Fatalf("instance_id = %q, want default", cfg.InstanceID)
	}
	if cfg.State.LockTakeover == nil || !*cfg.State.LockTakeover {
		t.Fatalf("state.lock_takeover = %v, want true", cfg.State.LockTakeover)
	}
	if cfg.State.LockStaleSec != 600 {
		t.Fatalf("state.lock_stale_sec = %d, want 600", cfg.State.LockStaleSec)
	}
}

func TestLoadRejectsUnknownExchange(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, strings.Replace(krakenConfig, "exchange: kraken", "exchange: mtgox", 1))

	_, err := Load(path)
	if !errors.Is(err, core.ErrUnknownExchange) {
		t.Fatalf("Load() error = %v, want %v", err, core.ErrUnknownExchange)
	}
}

func TestLoadNormalizesExchangeName(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, strings.Replace(krakenConfig, "exchange: kraken", "exchange: \" Kraken \"", 1))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange != ExchangeKraken {
		t.Fatalf("exchange = %q, want %q", cfg.Exchange, ExchangeKraken)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+"strategy: grid\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "field strategy not found") {
		t.Fatalf("Load() error = %v, want unknown field error", err)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+"---\n{}\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("Load() error = %v, want single document error", err)
	}
}

func TestLoadRequiresBitstampClientID(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
exchange: bitstamp
currency_pair: {pair: btcusd, asset: btc, currency: usd}
api:
  bitstamp: {api_key: k, secret: s}
`)

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "client_id") {
		t.Fatalf("Load() error = %v, want client_id error", err)
	}
}

func TestLoadEnvOverridesCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRADE_ADAPTER_EXCHANGE", "bitstamp")
	t.Setenv("BITSTAMP_API_KEY", "env-key")
	t.Setenv("BITSTAMP_SECRET", "env-secret")
	t.Setenv("BITSTAMP_CLIENT_ID", "12345")
	path := writeTempConfig(t, `
exchange: kraken
currency_pair: {pair: btcusd, asset: btc, currency: usd}
api:
  bitstamp: {api_key: file-key}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange != ExchangeBitstamp {
		t.Fatalf("exchange = %q, want bitstamp from env", cfg.Exchange)
	}
	if cfg.API.Bitstamp.APIKey != "env-key" || cfg.API.Bitstamp.Secret != "env-secret" || cfg.API.Bitstamp.ClientID != "12345" {
		t.Fatalf("api.bitstamp = %+v, want env values", cfg.API.Bitstamp)
	}
	if cfg.Feed.WSURL != "wss://ws.bitstamp.net" {
		t.Fatalf("feed.ws_url = %q, want bitstamp default", cfg.Feed.WSURL)
	}
}

func TestLoadParsesOrderRules(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+`
order_rules:
  price_tick: "0.1"
  amount_step: "0.00000001"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rules := cfg.Rules()
	if !rules.PriceTick.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("price_tick = %s, want 0.1", rules.PriceTick)
	}
	if !rules.AmountStep.Equal(decimal.RequireFromString("0.00000001")) {
		t.Fatalf("amount_step = %s, want 0.00000001", rules.AmountStep)
	}
}

func TestLoadRejectsBadDecimal(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+"order_rules: {amount_step: \"1e-x\"}\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid decimal") {
		t.Fatalf("Load() error = %v, want invalid decimal", err)
	}

	path = writeTempConfig(t, krakenConfig+"order_rules: {amount_step: [1]}\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "must be a scalar") {
		t.Fatalf("Load() error = %v, want scalar error", err)
	}
}

func TestLoadRejectsNegativeOrderRules(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+"order_rules: {price_tick: \"-1\"}\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "price_tick") {
		t.Fatalf("Load() error = %v, want price_tick error", err)
	}
}

func TestLoadRejectsNegativeMaxAttempts(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+"retry: {max_attempts: -1}\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "max_attempts") {
		t.Fatalf("Load() error = %v, want max_attempts error", err)
	}
}

func TestLoadRejectsFeedURLScheme(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+"feed: {ws_url: \"https://ws.kraken.com\"}\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "feed.ws_url") {
		t.Fatalf("Load() error = %v, want feed.ws_url error", err)
	}
}

func TestLoadTelegramRequiresToken(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+`
observability:
  telegram:
    enabled: true
    chat_id: "42"
`)

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "bot_token") {
		t.Fatalf("Load() error = %v, want bot_token error", err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() with env token error = %v", err)
	}
	if cfg.Observability.Telegram.BotToken != "env-token" {
		t.Fatalf("bot_token = %q, want env-token", cfg.Observability.Telegram.BotToken)
	}
}

func TestLoadStateLockTakeoverCanDisableExplicitly(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, krakenConfig+"state: {lock_takeover: false}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.State.LockTakeover == nil || *cfg.State.LockTakeover {
		t.Fatalf("state.lock_takeover = %v, want false", cfg.State.LockTakeover)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TRADE_ADAPTER_EXCHANGE",
		"BITSTAMP_API_KEY",
		"BITSTAMP_SECRET",
		"BITSTAMP_CLIENT_ID",
		"KRAKEN_API_KEY",
		"KRAKEN_SECRET",
		"TELEGRAM_BOT_TOKEN",
		"TELEGRAM_CHAT_ID",
	} {
		t.Setenv(key, "")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write temp config failed: %v", err)
	}
	return path
}
