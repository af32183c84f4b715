package exchange

import (
	"log"
	"sync"
	"time"
)

// nonceReserve is how far ahead of the last issued nonce the persisted floor
// is written, so the file is touched about once a minute, not per request.
const nonceReserve = uint64(time.Minute / time.Microsecond)

// NonceSource hands out strictly increasing nonces seeded from the wall clock
// in microseconds, so a restarted process keeps moving forward.
type NonceSource struct {
	mu       sync.Mutex
	last     uint64
	reserved uint64
	now      func() time.Time
	persist  func(floor uint64) error
}

func NewNonceSource(now func() time.Time) *NonceSource {
	if now == nil {
		now = time.Now
	}
	return &NonceSource{now: now}
}

// Restore raises the floor to a value persisted by an earlier process. A
// wall clock that stepped backwards then cannot produce a reused nonce.
func (n *NonceSource) Restore(floor uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if floor > n.last {
		n.last = floor
	}
	if floor > n.reserved {
		n.reserved = floor
	}
}

// Persist registers a sink for the reserved floor. It is called from Next
// whenever the issued nonces catch up with the last reservation.
func (n *NonceSource) Persist(fn func(floor uint64) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.persist = fn
}

func (n *NonceSource) Next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := uint64(n.now().UnixMicro())
	if v <= n.last {
		v = n.last + 1
	}
	n.last = v
	if n.persist != nil && v >= n.reserved {
		floor := v + nonceReserve
		if err := n.persist(floor); err != nil {
			log.Printf("level=WARN event=nonce_persist_failed floor=%d err=%q", floor, err.Error())
		} else {
			n.reserved = floor
		}
	}
	return v
}
