// cmd/quotegateway subscribes to the quotes published by cmd/pricereplay and
// serves them to browsers over WebSocket, with REST endpoints for the latest
// quote, Redis stream history and sequence-gap backfill.
//
// Usage:
//
//	go run ./cmd/quotegateway --addr=:8080 --symbols=BTC/USD,ETH/USD
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"oracle-pricemodel/config"
	"oracle-pricemodel/internal/gateway"
	"oracle-pricemodel/internal/logger"
	"oracle-pricemodel/internal/metrics"
	"oracle-pricemodel/internal/model"
	redisstore "oracle-pricemodel/internal/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotegateway: %v\n", err)
		os.Exit(2)
	}

	addr := flag.String("addr", ":8080", "HTTP listen address for /ws and /api")
	symbols := flag.String("symbols", cfg.Symbol, "Comma-separated symbols to relay")
	metricsAddr := flag.String("metrics-addr", ":9091", "Listen address for /metrics and /healthz")
	replayCap := flag.Int("replay-cap", 500, "Envelopes kept per symbol for gap backfill")
	flag.Parse()

	logger.Init("quotegateway", logger.ParseLevel(cfg.LogLevel))

	var syms []string
	for _, s := range strings.Split(*symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			syms = append(syms, s)
		}
	}
	if len(syms) == 0 {
		slog.Error("no symbols to relay")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader, err := redisstore.NewReader(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		slog.Error("redis connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer reader.Close()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.EnableRedis()
	metricsSrv := metrics.NewServer(*metricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, stop := context.WithTimeout(ctx, 3*time.Second)
				start := time.Now()
				err := reader.Ping(pingCtx)
				stop()
				health.SetRedisStatus(err == nil, time.Since(start))
			}
		}
	}()

	// ---- Hub ----
	hub := gateway.NewHub(*replayCap)
	hub.OnBroadcast = func(_ string, delivered, dropped int) {
		prom.QuotesPublished.Add(float64(delivered))
		if dropped > 0 {
			prom.FanoutDrops.WithLabelValues("ws").Add(float64(dropped))
		}
	}

	quotes := make(chan model.Quote, 1024)
	go func() {
		if err := reader.Subscribe(ctx, syms, quotes); err != nil {
			slog.Error("redis subscribe failed", slog.String("error", err.Error()))
			cancel()
		}
	}()
	go hub.Run(ctx, quotes)

	// Seed the hub with whatever is already live
	for _, s := range syms {
		if q, ok, err := reader.Latest(ctx, s); err != nil {
			slog.Warn("latest quote unavailable", slog.String("symbol", s), slog.String("error", err.Error()))
		} else if ok {
			hub.Broadcast(q)
		}
	}

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, reader)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("quote gateway listening", slog.String("addr", *addr), slog.Any("symbols", syms))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down", slog.Int("clients", hub.ClientCount()))
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
}
