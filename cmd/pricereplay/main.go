// cmd/pricereplay replays a recorded or synthetic trade stream through the
// instrumented price model and publishes one quote per evaluation to Redis and
// the SQLite quote journal, exposing Prometheus metrics while it runs.
//
// Usage:
//
//	go run ./cmd/pricereplay --speed=10 --sqlite=data/pricemodel.db --dataset=seed-1
//	go run ./cmd/pricereplay --trades-csv=trades.csv --speed=0 --hold
//	go run ./cmd/pricereplay --seed=7 --trade-seconds=600
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"oracle-pricemodel/config"
	"oracle-pricemodel/internal/bus"
	"oracle-pricemodel/internal/harness"
	"oracle-pricemodel/internal/logger"
	"oracle-pricemodel/internal/metrics"
	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/notification"
	"oracle-pricemodel/internal/pricemodel"
	"oracle-pricemodel/internal/replay"
	redisstore "oracle-pricemodel/internal/store/redis"
	sqlitestore "oracle-pricemodel/internal/store/sqlite"
	"oracle-pricemodel/internal/timeutil"
	"oracle-pricemodel/internal/volatility"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricereplay: %v\n", err)
		os.Exit(2)
	}

	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	dbPath := flag.String("sqlite", "", "Load --dataset from this SQLite database")
	dataset := flag.String("dataset", "", "Dataset name inside --sqlite")
	tradesCSV := flag.String("trades-csv", "", "CSV of trades (timestamp,price)")
	evalsCSV := flag.String("evals-csv", "", "Optional CSV of eval times to use as the schedule")
	colDir := flag.String("dir", "", "Directory holding binary dataset columns")
	seed := flag.Int64("seed", 1, "Seed for a synthetic stream when no source is given")
	tradeSecs := flag.Int64("trade-seconds", 30*60, "Span of the synthetic stream in seconds")
	noRedis := flag.Bool("no-redis", false, "Do not publish quotes to Redis")
	noJournal := flag.Bool("no-journal", false, "Do not journal quotes to SQLITE_PATH")
	hold := flag.Bool("hold", false, "Keep serving metrics after the replay until interrupted")
	flag.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "Symbol quotes are published under")
	flag.StringVar(&cfg.AlertWebhook, "alert-webhook", cfg.AlertWebhook, "POST status alerts to this URL")
	cfg.RegisterModelFlags(flag.CommandLine)
	flag.Parse()

	logger.Init("pricereplay", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid model settings", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ds, name, err := loadSource(*dbPath, *dataset, *tradesCSV, *evalsCSV, *colDir, *seed, *tradeSecs)
	if err != nil {
		slog.Error("load source failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	schedule, err := replay.Schedule(ds, cfg.MinSlot)
	if err != nil {
		slog.Error("build schedule failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ---- Context with run id and signal handling ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithRunID(ctx, logger.GenerateRunID(name, time.Now()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received", logger.LogWithRun(ctx)...)
		cancel()
	}()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
		defer stop()
		metricsSrv.Stop(stopCtx)
	}()

	// ---- Fan-out to sinks ----
	quoteCh := make(chan model.Quote, 1000)
	fanout := bus.New[model.Quote](5000)
	fanout.OnDrop = func(sub string) {
		prom.FanoutDrops.WithLabelValues(sub).Inc()
	}

	var sinks sync.WaitGroup

	// Status alerts
	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.AlertWebhook != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.AlertWebhook))
	}
	alertCh := fanout.Subscribe("alerts")
	sinks.Add(1)
	go func() {
		defer sinks.Done()
		notification.NewStatusWatcher(notifier).Run(context.Background(), alertCh)
	}()

	// SQLite quote journal
	var journal *sqlitestore.Writer
	if !*noJournal {
		journal, err = openJournal(cfg.SQLitePath)
		if err != nil {
			slog.Warn("sqlite journal unavailable, continuing without it", slog.String("error", err.Error()))
		} else {
			defer journal.Close()
			health.EnableSQLite()
			journalCh := fanout.Subscribe("sqlite")
			sinks.Add(1)
			go func() {
				defer sinks.Done()
				journal.RunQuotes(context.Background(), journalCh)
			}()
		}
	}

	// Redis publisher
	var publisher *redisstore.Publisher
	if !*noRedis {
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			slog.Warn("redis unavailable, continuing without it", slog.String("error", err.Error()))
		} else {
			defer publisher.Close()
			health.EnableRedis()
			health.CheckRedis(ctx, publisher.Client())
			publisher.Breaker().OnStateChange = func(from, to redisstore.State) {
				prom.ObserveBreaker(int(to))
				slog.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
				if to == redisstore.StateOpen {
					go notifier.Send(context.Background(), notification.Alert{
						Level:   notification.AlertCritical,
						Symbol:  cfg.Symbol,
						Title:   "redis publisher tripped",
						Message: "quotes are buffered until redis recovers",
						TS:      time.Now().UTC(),
					})
				}
			}
			publisher.OnBuffer = func() { prom.BufferedQuotes.Inc() }
			publisher.OnFlush = func(n int) {
				slog.Info("flushed buffered quotes", slog.Int("count", n))
			}
			redisCh := fanout.Subscribe("redis")
			sinks.Add(1)
			go func() {
				defer sinks.Done()
				publish(publisher, prom, redisCh)
			}()
		}
	}

	var rdbClient *goredis.Client
	if publisher != nil {
		rdbClient = publisher.Client()
	}
	if journal != nil {
		health.StartLivenessChecker(ctx, rdbClient, journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, rdbClient, nil, 10*time.Second)
	}
	go reportSaturation(ctx, fanout, prom)
	go fanout.Run(context.Background(), quoteCh)

	// ---- Instrumented model ----
	vol := metrics.WrapVolatility(volatility.NewCandleModel(cfg.VolatilityOptions()...), prom)
	pm := metrics.WrapPrice(pricemodel.New(vol, cfg.PriceOptions()...), prom, health)

	r := replay.New(cfg.Symbol, *speed)
	r.OnLag = func(d time.Duration) { prom.ReplayLag.Set(d.Seconds()) }

	start := time.Now()
	emitted, err := r.Run(ctx, ds, schedule, pm, quoteCh)
	close(quoteCh)
	sinks.Wait()
	if err != nil && ctx.Err() == nil {
		slog.Error("replay failed", append(logger.LogWithRun(ctx), slog.String("error", err.Error()))...)
		os.Exit(1)
	}

	summary := append(logger.LogWithRun(ctx),
		slog.String("source", name),
		slog.String("symbol", cfg.Symbol),
		slog.Int("quotes", emitted),
		slog.Duration("elapsed", time.Since(start)),
	)
	if publisher != nil {
		summary = append(summary, slog.Int("pending_redis", publisher.PendingCount()))
	}
	slog.Info("replay summary", summary...)

	if *hold && ctx.Err() == nil {
		slog.Info("holding metrics server open until interrupted", slog.String("addr", cfg.MetricsAddr))
		<-ctx.Done()
	}
}

func loadSource(dbPath, dataset, tradesCSV, evalsCSV, colDir string, seed, tradeSecs int64) (*harness.Dataset, string, error) {
	switch {
	case dbPath != "":
		if dataset == "" {
			return nil, "", fmt.Errorf("--dataset is required with --sqlite")
		}
		r, err := sqlitestore.NewReader(dbPath)
		if err != nil {
			return nil, "", err
		}
		defer r.Close()
		ds, err := r.LoadDataset(dataset)
		return ds, dataset, err

	case tradesCSV != "":
		ds := &harness.Dataset{}
		if err := readCSV(tradesCSV, func(f *os.File) error { return harness.ReadTradesCSV(f, ds) }); err != nil {
			return nil, "", err
		}
		if evalsCSV != "" {
			if err := readCSV(evalsCSV, func(f *os.File) error { return harness.ReadEvalsCSV(f, ds) }); err != nil {
				return nil, "", err
			}
		}
		return ds, filepath.Base(tradesCSV), nil

	case colDir != "":
		ds, err := harness.LoadColumns(harness.ColumnPathsIn(colDir))
		return ds, filepath.Base(colDir), err
	}

	gen := harness.DefaultGenConfig()
	gen.Seed = seed
	gen.TradeSeconds = tradeSecs
	gen.StartTS = timeutil.FromTime(time.Now().Truncate(time.Second))
	trades, err := harness.SyntheticTrades(gen)
	if err != nil {
		return nil, "", err
	}
	ds := &harness.Dataset{}
	for _, t := range trades {
		ds.AddTrade(t)
	}
	return ds, fmt.Sprintf("synthetic-%d", seed), nil
}

func readCSV(path string, fn func(*os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func openJournal(path string) (*sqlitestore.Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
}

// publish drains quotes into Redis until the fan-out closes the channel.
func publish(p *redisstore.Publisher, prom *metrics.Metrics, quotes <-chan model.Quote) {
	ctx := context.Background()
	for q := range quotes {
		pending := p.PendingCount()
		if err := p.PublishQuote(ctx, q); err != nil {
			prom.PublishErrors.Inc()
			continue
		}
		if p.PendingCount() <= pending {
			prom.QuotesPublished.Inc()
		}
	}
}

func reportSaturation(ctx context.Context, f *bus.FanOut[model.Quote], prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range f.ChannelStats() {
				if s.Cap > 0 {
					prom.ChannelSaturation.WithLabelValues("fanout_" + s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
				}
			}
		}
	}
}
