package alert

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

type notifierSpy struct {
	block   <-chan struct{}
	entered chan struct{}
	once    sync.Once

	mu   sync.Mutex
	msgs []string
}

func (n *notifierSpy) Notify(ctx context.Context, msg string) error {
	if n.entered != nil {
		n.once.Do(func() {
			close(n.entered)
		})
	}
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	return nil
}

func (n *notifierSpy) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func closeManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestManagerCloseFlushesQueuedEvents(t *testing.T) {
	spy := &notifierSpy{}
	m := NewManagerWithOptions("kraken", "XXBTZUSD", spy, ManagerOptions{
		Now: func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})

	m.Important("fatal_exit", map[string]string{"reason": "unknown_asset_pair", "op": "getTrades"})
	m.Important("circuit_breaker_trip", nil)
	closeManager(t, m)

	msgs := spy.messages()
	if len(msgs) != 2 {
		t.Fatalf("notified count = %d, want 2", len(msgs))
	}
	want := strings.Join([]string{
		"[trade-adapter] fatal_exit",
		"time: 2024-01-02T03:04:05Z",
		"exchange: kraken",
		"pair: XXBTZUSD",
		"op: getTrades",
		"reason: unknown_asset_pair",
	}, "\n")
	if msgs[0] != want {
		t.Fatalf("message = %q, want %q", msgs[0], want)
	}
}

func TestManagerImportantNonBlockingWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	spy := &notifierSpy{block: block, entered: make(chan struct{})}
	m := NewManagerWithOptions("bitstamp", "btcusd", spy, ManagerOptions{QueueSize: 1})

	m.Important("seed", nil)
	select {
	case <-spy.entered:
	case <-time.After(time.Second):
		t.Fatalf("notifier did not enter blocked state")
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Important("spam", map[string]string{"i": "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Important() appears blocked when queue is full")
	}
	if got := m.Dropped(); got != 99 {
		t.Fatalf("Dropped() = %d, want 99", got)
	}

	close(block)
	closeManager(t, m)
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	m.Important("x", nil)
	if m.Dropped() != 0 {
		t.Fatalf("Dropped() on nil manager != 0")
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close() on nil manager error = %v", err)
	}
	if NewManager("kraken", "XXBTZUSD", nil) != nil {
		t.Fatalf("NewManager(nil notifier) should return nil")
	}
}

func TestTelegramNotifierPostsMessage(t *testing.T) {
	var got telegramSendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(true, "token", "42", srv.URL, time.Second)
	if err := n.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got.ChatID != "42" || got.Text != "hello" {
		t.Fatalf("request = %+v, want chat 42 text hello", got)
	}
}

func TestTelegramNotifierReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(true, "token", "42", srv.URL, time.Second)
	err := n.Notify(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("Notify() error = %v, want chat not found", err)
	}
	if err := NewTelegramNotifier(false, "", "", srv.URL, 0).Notify(context.Background(), "x"); err != nil {
		t.Fatalf("disabled Notify() error = %v", err)
	}
}
