package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"oracle-pricemodel/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents replay health. Redis and SQLite only count
// against health when enabled.
type HealthStatus struct {
	mu sync.RWMutex

	LastTradeTime  time.Time    `json:"last_trade_time"`
	QuoteStatus    model.Status `json:"quote_status"`
	RedisEnabled   bool         `json:"redis_enabled"`
	RedisConnected bool         `json:"redis_connected"`
	SQLiteEnabled  bool         `json:"sqlite_enabled"`
	SQLiteOK       bool         `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		QuoteStatus: model.StatusUnknown,
		StartedAt:   time.Now(),
	}
}

func (h *HealthStatus) SetLastTradeTime(t time.Time) {
	h.mu.Lock()
	h.LastTradeTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetQuoteStatus(s model.Status) {
	h.mu.Lock()
	h.QuoteStatus = s
	h.mu.Unlock()
}

func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	h.SetRedisStatus(err == nil, time.Since(start))
}

// SetRedisStatus records a Redis probe made by the caller.
func (h *HealthStatus) SetRedisStatus(connected bool, latency time.Duration) {
	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = connected
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// overall returns the status string and HTTP code. Caller holds the read lock.
func (h *HealthStatus) overall() (string, int) {
	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK

	switch {
	case redisDown && sqliteDown:
		return "unhealthy", http.StatusServiceUnavailable
	case redisDown || sqliteDown:
		return "degraded", http.StatusServiceUnavailable
	default:
		return "healthy", http.StatusOK
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus, httpCode := h.overall()

	lastTrade := ""
	if !h.LastTradeTime.IsZero() {
		lastTrade = h.LastTradeTime.Format(time.RFC3339Nano)
	}

	status := struct {
		Status          string       `json:"status"`
		Uptime          string       `json:"uptime"`
		LastTradeTime   string       `json:"last_trade_time"`
		QuoteStatus     model.Status `json:"quote_status"`
		RedisEnabled    bool         `json:"redis_enabled"`
		RedisConnected  bool         `json:"redis_connected"`
		RedisLatencyMs  float64      `json:"redis_latency_ms"`
		SQLiteEnabled   bool         `json:"sqlite_enabled"`
		SQLiteOK        bool         `json:"sqlite_ok"`
		SQLiteLatencyMs float64      `json:"sqlite_latency_ms"`
		LastCheckAt     string       `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastTradeTime:   lastTrade,
		QuoteStatus:     h.QuoteStatus,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
