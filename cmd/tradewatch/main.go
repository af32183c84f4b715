package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"trade-adapter/internal/config"
	"trade-adapter/internal/core"
	"trade-adapter/internal/feed"
	"trade-adapter/internal/logging"
)

type tradeLine struct {
	Time      string `json:"time"`
	Timestamp int64  `json:"timestamp"`
	Exchange  string `json:"exchange"`
	Pair      string `json:"pair"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
}

func newTradeLine(exchange, pair string, tr core.Trade) tradeLine {
	return tradeLine{
		Time:      time.Unix(tr.Time, 0).UTC().Format(time.RFC3339),
		Timestamp: tr.Time,
		Exchange:  exchange,
		Pair:      pair,
		Price:     tr.Price.String(),
		Amount:    tr.Amount.String(),
	}
}

// dateWriter appends lines to <root>/<YYYY-MM-DD>.jsonl, switching files when
// the trade date changes.
type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	_, err := w.currentFile.Write(append(line, '\n'))
	return err
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	path := filepath.Join(w.root, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

func main() {
	var (
		configPath  string
		outDir      string
		durationSec int
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&outDir, "out-dir", "", "write daily jsonl files here instead of stdout")
	flag.IntVar(&durationSec, "duration-sec", 0, "stop after this many seconds (0 runs until interrupted)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logCloser, err := logging.Setup(cfg.Observability.Log)
	if err != nil {
		fatal(err.Error())
	}
	defer logCloser.Close()

	stream, err := feed.NewFromConfig(cfg)
	if err != nil {
		fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if durationSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(durationSec)*time.Second)
		defer cancel()
	}

	var sink func(date string, line []byte) error
	if outDir != "" {
		w, err := newDateWriter(outDir)
		if err != nil {
			fatal(err.Error())
		}
		defer func() {
			if err := w.close(); err != nil {
				fmt.Fprintf(os.Stderr, "close output failed: %v\n", err)
			}
		}()
		sink = w.write
	} else {
		sink = lineSink(os.Stdout)
	}

	trades := make(chan core.Trade, 256)
	runErr := make(chan error, 1)
	go func() { runErr <- stream.Run(ctx, trades) }()

	count, err := pump(ctx, trades, runErr, string(cfg.Exchange), cfg.Feed.Symbol, sink)
	log.Printf("level=INFO event=tradewatch_stopped exchange=%s symbol=%q trades=%d", cfg.Exchange, cfg.Feed.Symbol, count)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		fatal(err.Error())
	}
}

// pump writes trades until the stream ends and returns how many were written.
func pump(ctx context.Context, trades <-chan core.Trade, runErr <-chan error, exchange, pair string, sink func(string, []byte) error) (int, error) {
	count := 0
	for {
		select {
		case tr := <-trades:
			line := newTradeLine(exchange, pair, tr)
			data, err := json.Marshal(line)
			if err != nil {
				return count, err
			}
			if err := sink(line.Time[:10], data); err != nil {
				return count, err
			}
			count++
		case err := <-runErr:
			return count, err
		case <-ctx.Done():
			return count, ctx.Err()
		}
	}
}

func lineSink(w io.Writer) func(string, []byte) error {
	return func(_ string, line []byte) error {
		_, err := w.Write(append(line, '\n'))
		return err
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
