// cmd/pricewatch prints published quotes for a symbol: the latest value and
// recent history from Redis, live updates via pub/sub, or the SQLite journal.
//
// Usage:
//
//	go run ./cmd/pricewatch --symbol=BTC/USD --history=20
//	go run ./cmd/pricewatch --follow
//	go run ./cmd/pricewatch --journal --since=10m
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oracle-pricemodel/config"
	"oracle-pricemodel/internal/logger"
	"oracle-pricemodel/internal/model"
	redisstore "oracle-pricemodel/internal/store/redis"
	sqlitestore "oracle-pricemodel/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricewatch: %v\n", err)
		os.Exit(2)
	}

	flag.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "Symbol to watch")
	history := flag.Int64("history", 10, "Recent stream entries to print from Redis")
	follow := flag.Bool("follow", false, "Keep printing live quotes from pub/sub")
	journal := flag.Bool("journal", false, "Read the SQLite quote journal instead of Redis")
	since := flag.Duration("since", time.Hour, "With --journal, how far back to read")
	flag.Parse()

	logger.Init("pricewatch", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *journal {
		err = watchJournal(os.Stdout, cfg.SQLitePath, cfg.Symbol, time.Now().Add(-*since))
	} else {
		err = watchRedis(ctx, os.Stdout, cfg, *history, *follow)
	}
	if err != nil {
		slog.Error("watch failed", slog.String("symbol", cfg.Symbol), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func watchJournal(w io.Writer, path, symbol string, after time.Time) error {
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	quotes, err := r.ReadQuotes(symbol, after)
	if err != nil {
		return err
	}
	for _, q := range quotes {
		printQuote(w, q)
	}
	slog.Info("journal read", slog.String("symbol", symbol), slog.Int("quotes", len(quotes)))
	return nil
}

func watchRedis(ctx context.Context, w io.Writer, cfg *config.Config, history int64, follow bool) error {
	r, err := redisstore.NewReader(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return err
	}
	defer r.Close()

	if history > 0 {
		quotes, err := r.History(ctx, cfg.Symbol, history)
		if err != nil {
			return err
		}
		for _, q := range quotes {
			printQuote(w, q)
		}
	}

	latest, ok, err := r.Latest(ctx, cfg.Symbol)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprint(w, "latest: ")
		printQuote(w, latest)
	} else {
		fmt.Fprintf(w, "latest: no live quote for %s\n", cfg.Symbol)
	}

	if !follow {
		return nil
	}

	out := make(chan model.Quote, 256)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Subscribe(ctx, []string{cfg.Symbol}, out) }()
	for {
		select {
		case q := <-out:
			printQuote(w, q)
		case err := <-errCh:
			return err
		}
	}
}

func printQuote(w io.Writer, q model.Quote) {
	fmt.Fprintf(w, "%s  %-10s  %-8s  price=%d  conf=%.6g\n",
		q.TS.Format(time.RFC3339Nano), q.Symbol, q.Status, q.Price, q.Confidence)
}
