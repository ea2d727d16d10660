package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for estimator replay and publishing.
type Metrics struct {
	TradesTotal prometheus.Counter
	EvalsTotal  *prometheus.CounterVec // labels: result=ok|unavailable
	EvalDur     prometheus.Histogram
	Confidence  prometheus.Histogram

	// Volatility estimator
	Volatility      prometheus.Gauge
	VolatilityReady prometheus.Gauge // 0=warming up, 1=window full
	CandleEvictions prometheus.Counter

	// Quote publishing
	QuotesPublished prometheus.Counter
	PublishErrors   prometheus.Counter
	BufferedQuotes  prometheus.Counter

	// Circuit breaker
	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter

	// Replay pacing
	ReplayLag prometheus.Gauge

	// Quote fan-out
	FanoutDrops       *prometheus.CounterVec // labels: subscriber
	ChannelSaturation *prometheus.GaugeVec   // labels: channel
}

// Eval result label values.
const (
	ResultOK          = "ok"
	ResultUnavailable = "unavailable"
)

// NewMetrics creates the collectors and registers them on reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricemodel_trades_total",
			Help: "Trades fed to the price model",
		}),
		EvalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricemodel_evals_total",
			Help: "Price evaluations by result",
		}, []string{"result"}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricemodel_eval_duration_seconds",
			Help:    "Price model evaluation latency",
			Buckets: []float64{0.0000001, 0.0000005, 0.000001, 0.000005, 0.00001, 0.00005, 0.0001},
		}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricemodel_confidence",
			Help:    "Reported confidence interval half-width in price units",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		Volatility: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricemodel_volatility",
			Help: "Last annualized volatility from the candle estimator",
		}),
		VolatilityReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricemodel_volatility_ready",
			Help: "Whether the candle window is full (0=warming up, 1=ready)",
		}),
		CandleEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricemodel_candle_evictions_total",
			Help: "Candles overwritten in the lookback window",
		}),

		QuotesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricemodel_quotes_published_total",
			Help: "Quotes written to Redis",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricemodel_publish_errors_total",
			Help: "Quote publishes that failed against Redis",
		}),
		BufferedQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricemodel_buffered_quotes_total",
			Help: "Quotes buffered locally while the Redis circuit breaker was open",
		}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricemodel_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricemodel_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		ReplayLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricemodel_replay_lag_seconds",
			Help: "How far the replay loop runs behind its paced schedule",
		}),

		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricemodel_fanout_drops_total",
			Help: "Quotes dropped because a sink channel was full",
		}, []string{"subscriber"}),
		ChannelSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pricemodel_channel_saturation_pct",
			Help: "Fill level of sink channels in percent",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.TradesTotal,
		m.EvalsTotal,
		m.EvalDur,
		m.Confidence,
		m.Volatility,
		m.VolatilityReady,
		m.CandleEvictions,
		m.QuotesPublished,
		m.PublishErrors,
		m.BufferedQuotes,
		m.BreakerState,
		m.BreakerTrips,
		m.ReplayLag,
		m.FanoutDrops,
		m.ChannelSaturation,
	)

	// Pre-create both label values so dashboards see zeros
	m.EvalsTotal.WithLabelValues(ResultOK)
	m.EvalsTotal.WithLabelValues(ResultUnavailable)

	return m
}

// ObserveBreaker records a breaker transition. state uses the gauge encoding.
func (m *Metrics) ObserveBreaker(state int) {
	m.BreakerState.Set(float64(state))
	if state == 1 {
		m.BreakerTrips.Inc()
	}
}
