package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"trade-adapter/internal/config"
	"trade-adapter/internal/core"
	"trade-adapter/internal/exchange/rest"
)

var (
	// ErrReconnectRequested is returned by a Source when the server asks the
	// client to move to a fresh connection.
	ErrReconnectRequested = errors.New("server requested reconnect")
	// ErrSubscriptionRejected ends Run: reconnecting would be rejected again.
	ErrSubscriptionRejected = errors.New("subscription rejected")
)

// Source speaks one exchange's public trade channel.
type Source interface {
	Name() string
	Subscribe(conn *websocket.Conn) error
	// Decode turns one frame into trades. Control frames yield no trades
	// and a nil error.
	Decode(msg []byte) ([]core.Trade, error)
}

type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	// ReadTimeout closes a connection that delivered nothing, pongs
	// included, for this long.
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxReconnects bounds consecutive failed sessions; zero is unlimited.
	MaxReconnects int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 90 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	return o
}

// Stream keeps one Source subscribed and pushes its trades to a channel,
// reconnecting with exponential backoff when the connection drops.
type Stream struct {
	src    Source
	opts   Options
	dialer *websocket.Dialer
}

func New(src Source, opts Options) *Stream {
	opts = opts.withDefaults()
	return &Stream{
		src:  src,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// Run blocks until ctx is done or the subscription is rejected. out is
// never closed by Run.
func (s *Stream) Run(ctx context.Context, out chan<- core.Trade) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	failures := 0
	for {
		delivered, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrSubscriptionRejected) {
			log.Printf("level=ERROR event=feed_rejected source=%s err=%q", s.src.Name(), rest.Truncate(err.Error(), 99))
			return err
		}
		if delivered {
			failures = 0
			b.Reset()
		}
		failures++
		if s.opts.MaxReconnects > 0 && failures > s.opts.MaxReconnects {
			return fmt.Errorf("%s feed: %d consecutive failed sessions: %w", s.src.Name(), failures, err)
		}
		delay := b.NextBackOff()
		log.Printf("level=WARN event=feed_reconnect source=%s attempt=%d delay=%s err=%q",
			s.src.Name(), failures, delay, errText(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session runs one connection. delivered reports whether any trade frame
// was decoded, which resets the backoff.
func (s *Stream) session(ctx context.Context, out chan<- core.Trade) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	defer conn.Close()

	if err := s.src.Subscribe(conn); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("level=INFO event=feed_connected source=%s url=%s", s.src.Name(), s.opts.URL)

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	delivered := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		trades, err := s.src.Decode(msg)
		if err != nil {
			if errors.Is(err, ErrReconnectRequested) || errors.Is(err, ErrSubscriptionRejected) {
				return delivered, err
			}
			log.Printf("level=WARN event=feed_decode_failed source=%s err=%q", s.src.Name(), rest.Truncate(err.Error(), 99))
			continue
		}
		if len(trades) > 0 {
			delivered = true
		}
		for _, tr := range trades {
			select {
			case out <- tr:
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return rest.Truncate(err.Error(), 99)
}

// NewFromConfig builds the stream for the configured exchange.
func NewFromConfig(cfg config.Config) (*Stream, error) {
	var src Source
	switch cfg.Exchange {
	case config.ExchangeBitstamp:
		src = NewBitstamp(cfg.Feed.Symbol)
	case config.ExchangeKraken:
		src = NewKraken(cfg.Feed.Symbol)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownExchange, cfg.Exchange)
	}
	return New(src, Options{URL: cfg.Feed.WSURL}), nil
}
