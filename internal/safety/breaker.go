package safety

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"trade-adapter/internal/alert"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const (
	actionPlace  = "place order"
	actionCancel = "cancel order"

	defaultCooldown = time.Minute
)

type circuit struct {
	name        string
	maxFailures int
	failures    int
	state       circuitState
	openedAt    time.Time
	openErr     error
}

// Breaker stops order placement or cancellation after a run of consecutive
// failures. After the cooldown one probe call is let through; its outcome
// closes or reopens the circuit.
type Breaker struct {
	enabled  bool
	cooldown time.Duration
	now      func() time.Time

	mu     sync.Mutex
	place  circuit
	cancel circuit

	alerter alert.Alerter
}

func NewBreaker(enabled bool, maxPlaceFailures, maxCancelFailures int, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		enabled:  enabled,
		cooldown: cooldown,
		now:      time.Now,
		place:    circuit{name: actionPlace, maxFailures: maxPlaceFailures, state: circuitClosed},
		cancel:   circuit{name: actionCancel, maxFailures: maxCancelFailures, state: circuitClosed},
	}
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

func (b *Breaker) AllowPlace() error {
	if b == nil {
		return nil
	}
	return b.allow(&b.place)
}

func (b *Breaker) AllowCancel() error {
	if b == nil {
		return nil
	}
	return b.allow(&b.cancel)
}

func (b *Breaker) RecordPlace(err error) error {
	if b == nil {
		return nil
	}
	return b.record(&b.place, err)
}

func (b *Breaker) RecordCancel(err error) error {
	if b == nil {
		return nil
	}
	return b.record(&b.cancel, err)
}

// CooldownRemaining reports how long the place circuit stays open.
func (b *Breaker) CooldownRemaining() time.Duration {
	if b == nil || !b.enabled {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.place.state != circuitOpen {
		return 0
	}
	elapsed := b.now().Sub(b.place.openedAt)
	if elapsed >= b.cooldown {
		return 0
	}
	return b.cooldown - elapsed
}

func (b *Breaker) allow(c *circuit) error {
	if !b.enabled {
		return nil
	}
	b.mu.Lock()
	if c.state != circuitOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(c.openedAt) < b.cooldown {
		err := c.openErr
		b.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: %s circuit is open", ErrCircuitOpen, c.name)
		}
		return err
	}
	c.state = circuitHalfOpen
	c.openErr = nil
	alerter := b.alerter
	name := c.name
	b.mu.Unlock()
	log.Printf("level=INFO event=circuit_breaker_half_open action=%q cooldown_sec=%d", name, int64(b.cooldown/time.Second))
	if alerter != nil {
		alerter.Important("circuit_breaker_half_open", map[string]string{
			"action":       name,
			"cooldown_sec": strconv.FormatInt(int64(b.cooldown/time.Second), 10),
		})
	}
	return nil
}

func (b *Breaker) record(c *circuit, err error) error {
	if !b.enabled {
		return nil
	}

	b.mu.Lock()
	if c.maxFailures < 1 {
		b.mu.Unlock()
		return nil
	}

	if err == nil {
		prevFailures := c.failures
		prevState := c.state
		recovered := false
		switch c.state {
		case circuitHalfOpen:
			recovered = true
			c.state = circuitClosed
			c.failures = 0
			c.openErr = nil
			c.openedAt = time.Time{}
		case circuitClosed:
			if c.failures > 0 {
				recovered = true
				c.failures = 0
			}
		}
		alerter := b.alerter
		b.mu.Unlock()
		if recovered {
			log.Printf(
				"level=INFO event=circuit_breaker_recovered action=%q previous_consecutive_failures=%d from_state=%q",
				c.name,
				prevFailures,
				string(prevState),
			)
			if alerter != nil && prevState == circuitHalfOpen {
				alerter.Important("circuit_breaker_recovered", map[string]string{
					"action":                        c.name,
					"previous_consecutive_failures": strconv.Itoa(prevFailures),
				})
			}
		}
		return nil
	}

	if c.state == circuitOpen {
		openErr := c.openErr
		b.mu.Unlock()
		return openErr
	}

	reason := "consecutive_failures"
	if c.state == circuitHalfOpen {
		reason = "half_open_probe_failed"
		c.failures = c.maxFailures
	} else {
		c.failures++
	}
	failures := c.failures
	limit := c.maxFailures
	alerter := b.alerter
	if failures < limit {
		b.mu.Unlock()
		if failures == limit-1 {
			log.Printf(
				"level=WARN event=circuit_breaker_near_trip action=%q consecutive_failures=%d threshold=%d last_error=%q",
				c.name,
				failures,
				limit,
				err.Error(),
			)
		}
		return nil
	}

	c.state = circuitOpen
	c.openedAt = b.now()
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, cooldown=%s, reason=%s, last error: %v", ErrCircuitOpen, c.name, failures, b.cooldown, reason, err)
	openErr := c.openErr
	b.mu.Unlock()
	log.Printf(
		"level=ERROR event=circuit_breaker_trip action=%q consecutive_failures=%d threshold=%d reason=%q last_error=%q",
		c.name,
		failures,
		limit,
		reason,
		err.Error(),
	)
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"action":               c.name,
			"consecutive_failures": strconv.Itoa(failures),
			"threshold":            strconv.Itoa(limit),
			"reason":               reason,
			"last_error":           err.Error(),
		})
	}
	return openErr
}
