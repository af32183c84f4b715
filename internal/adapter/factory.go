package adapter

import (
	"fmt"
	"time"

	"trade-adapter/internal/alert"
	"trade-adapter/internal/config"
	"trade-adapter/internal/core"
	"trade-adapter/internal/exchange"
	"trade-adapter/internal/exchange/bitstamp"
	"trade-adapter/internal/exchange/kraken"
	"trade-adapter/internal/retry"
	"trade-adapter/internal/safety"
	"trade-adapter/internal/store"
)

// NewClient builds the exchange client named by cfg.Exchange. An unknown
// name returns core.ErrUnknownExchange. A nil nonce starts a fresh source.
func NewClient(cfg config.Config, nonce *exchange.NonceSource) (exchange.Client, error) {
	switch cfg.Exchange {
	case config.ExchangeBitstamp:
		c, err := bitstamp.NewClient(cfg, nonce)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ExchangeKraken:
		c, err := kraken.NewClient(cfg, nonce)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownExchange, string(cfg.Exchange))
}

// NewFromConfig wires the configured client, the optional circuit breaker and
// the queue and retry settings into an Adapter.
func NewFromConfig(cfg config.Config, alerter alert.Alerter, fatal func(error)) (*Adapter, error) {
	nonce, err := NonceSource(cfg)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(cfg, nonce)
	if err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.Enabled {
		breaker := safety.NewBreaker(true,
			cfg.CircuitBreaker.MaxPlaceFailures,
			cfg.CircuitBreaker.MaxCancelFailures,
			time.Duration(cfg.CircuitBreaker.CooldownSec)*time.Second,
		)
		breaker.SetAlerter(alerter)
		client = safety.NewGuardedClient(client, breaker)
	}
	return New(Options{
		Rules:   cfg.Rules(),
		Spacing: time.Duration(cfg.Queue.SpacingMs) * time.Millisecond,
		Retry: retry.Policy{
			Delay:       time.Duration(cfg.Retry.DelaySec) * time.Second,
			MaxAttempts: cfg.Retry.MaxAttempts,
		},
		Alerter: alerter,
		Fatal:   fatal,
		Debug:   cfg.Observability.Log.Debug,
	}, client)
}

// NonceSource restores the nonce floor kept under state.dir and keeps it
// updated. Without a state dir the source starts from the clock alone.
func NonceSource(cfg config.Config) (*exchange.NonceSource, error) {
	nonce := exchange.NewNonceSource(nil)
	if cfg.State.Dir == "" {
		return nonce, nil
	}
	st, err := store.New(cfg.State.Dir)
	if err != nil {
		return nil, err
	}
	name := store.InstanceName(string(cfg.Exchange), cfg.CurrencyPair.Pair, cfg.InstanceID)
	floor, ok, err := st.LoadNonce(name)
	if err != nil {
		return nil, fmt.Errorf("load nonce floor: %w", err)
	}
	if ok {
		nonce.Restore(floor)
	}
	nonce.Persist(func(floor uint64) error { return st.SaveNonce(name, floor) })
	return nonce, nil
}
