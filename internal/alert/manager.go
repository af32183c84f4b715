// Package alert forwards important adapter events to an operator channel
// without blocking the caller.
package alert

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 20 * time.Second
)

type ManagerOptions struct {
	QueueSize   int
	SendTimeout time.Duration
	Now         func() time.Time
}

// Manager delivers events on its own goroutine. A full queue drops the event
// and counts it instead of blocking.
type Manager struct {
	exchange    string
	pair        string
	notifier    Notifier
	sendTimeout time.Duration
	now         func() time.Time

	events chan event
	stop   chan struct{}
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped uint64
}

type event struct {
	name   string
	fields map[string]string
}

func NewManager(exchange, pair string, notifier Notifier) *Manager {
	return NewManagerWithOptions(exchange, pair, notifier, ManagerOptions{})
}

// NewManagerWithOptions returns nil for a nil notifier; a nil Manager is a
// valid no-op Alerter.
func NewManagerWithOptions(exchange, pair string, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		exchange:    exchange,
		pair:        pair,
		notifier:    notifier,
		sendTimeout: timeout,
		now:         now,
		events:      make(chan event, size),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *Manager) Important(name string, fields map[string]string) {
	if m == nil {
		return
	}
	ev := event{name: name, fields: cloneFields(fields)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		total := atomic.AddUint64(&m.dropped, 1)
		log.Printf("level=WARN event=alert_dropped target_event=%q dropped_total=%d queue_cap=%d", name, total, cap(m.events))
	}
}

// Dropped reports events lost to a full queue.
func (m *Manager) Dropped() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.dropped)
}

// Close flushes queued events, waiting at most until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.events:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.events:
					m.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) send(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, m.buildMessage(ev)); err != nil {
		log.Printf("level=ERROR event=alert_notify_failed target_event=%q err=%q", ev.name, err.Error())
	}
}

func (m *Manager) buildMessage(ev event) string {
	lines := []string{
		"[trade-adapter] " + ev.name,
		"time: " + m.now().UTC().Format(time.RFC3339),
		"exchange: " + m.exchange,
		"pair: " + m.pair,
	}
	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+ev.fields[k])
	}
	return strings.Join(lines, "\n")
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
