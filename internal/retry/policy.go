package retry

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultDelay is the pause before a failed call is replayed.
const DefaultDelay = 15 * time.Second

// Policy describes how one logical call is replayed. MaxAttempts caps the
// number of replays; zero means replay until success or a fatal error.
type Policy struct {
	Delay       time.Duration
	MaxAttempts int
}

func (p Policy) withDefaults() Policy {
	if p.Delay <= 0 {
		p.Delay = DefaultDelay
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// NewState starts the replay bookkeeping for one logical call.
func (p Policy) NewState() *State {
	p = p.withDefaults()
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	return &State{backoff: b}
}

// State tracks the replays of one logical call. It travels with the call
// through every re-enqueue.
type State struct {
	mu           sync.Mutex
	backoff      backoff.BackOff
	attempts     int
	nextEligible time.Time
}

// Next reports the delay before the next replay, or false once the cap is hit.
func (s *State) Next(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.backoff.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	s.attempts++
	s.nextEligible = now.Add(d)
	return d, true
}

// Attempts is the number of replays scheduled so far.
func (s *State) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *State) NextEligible() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextEligible
}
