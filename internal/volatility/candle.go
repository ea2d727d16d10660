// Package volatility provides volatility estimators for the price model.
//
// CandleModel buckets trades into fixed-duration high/low candles and applies
// the Parkinson range estimator pairwise across a rolling window of candles,
// annualized over a 365-day year. Fixed is a constant-valued stand-in used to
// isolate the price model in tests.
package volatility

import (
	"math"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/ringbuf"
	"oracle-pricemodel/internal/timeutil"
	"oracle-pricemodel/internal/verify"
)

const (
	DefaultLookback       = 20
	DefaultCandleDuration = time.Minute
)

// 4·ln(2), the Parkinson normalization of a squared log range.
var parkinsonScale = 4.0 * math.Ln2

// CandleOption configures a CandleModel.
type CandleOption func(*candleConfig)

type candleConfig struct {
	lookback int
	duration time.Duration
}

// WithLookback sets how many candles behind the current one are kept.
func WithLookback(n int) CandleOption {
	return func(c *candleConfig) { c.lookback = n }
}

// WithCandleDuration sets the bucket width.
func WithCandleDuration(d time.Duration) CandleOption {
	return func(c *candleConfig) { c.duration = d }
}

// CandleModel is the production VolatilityModel.
// Not safe for concurrent use.
type CandleModel struct {
	duration time.Duration
	candles  *ringbuf.Ring[model.Candle]
}

var _ model.VolatilityModel = (*CandleModel)(nil)

// NewCandleModel creates a model holding lookback+1 candles.
// Panics with a contract violation unless capacity > 1 and the duration is positive.
func NewCandleModel(opts ...CandleOption) *CandleModel {
	cfg := candleConfig{lookback: DefaultLookback, duration: DefaultCandleDuration}
	for _, opt := range opts {
		opt(&cfg)
	}

	capacity := cfg.lookback + 1
	verify.GT(capacity, 1, "capacity > 1")
	verify.GT(cfg.duration, 0, "candle duration > 0")

	return &CandleModel{
		duration: cfg.duration,
		candles:  ringbuf.New[model.Candle](capacity),
	}
}

// AddTrade folds a trade into the current candle, opening a new one when the
// trade's bucket is past the front candle. Trades must arrive in time order.
func (m *CandleModel) AddTrade(trade model.Trade) {
	price := float64(trade.Price)
	start := timeutil.FloorTime(trade.Time, m.duration)

	front := m.candles.Front()
	if front == nil || start > front.Start {
		// New bucket; the ring drops the oldest candle once full
		m.candles.PushFront(model.Candle{Start: start, High: price, Low: price})
		front = m.candles.Front()
	}

	verify.EQ(start, front.Start, "trade bucket == front bucket")
	front.Widen(price)
}

// EvalAtTime ignores now: the estimate depends only on buffered candles.
func (m *CandleModel) EvalAtTime(_ timeutil.Timestamp) (float64, bool) {
	return m.EvalVolatility()
}

// EvalVolatility returns the annualized volatility, or false until the window
// has seen lookback+1 distinct buckets.
func (m *CandleModel) EvalVolatility() (float64, bool) {
	if !m.candles.Full() {
		return 0, false
	}

	var numer, denom float64
	for i := 0; i+1 < m.candles.Len(); i++ {
		cur := m.candles.At(i)
		prev := m.candles.At(i + 1)

		maxHigh := max(cur.High, prev.High)
		minLow := min(cur.Low, prev.Low)
		verify.GT(minLow, 0, "min_low > 0")
		verify.LE(minLow, maxHigh, "min_low <= max_high")
		logRatio := math.Log(maxHigh / minLow)
		numer += logRatio * logRatio

		curEnd := timeutil.AddTime(cur.Start, m.duration)
		verify.GT(curEnd, prev.Start, "cur_end > prev_start")
		denom += float64(timeutil.DiffTimes(curEnd, prev.Start))
	}

	denom *= parkinsonScale
	return math.Sqrt(numer / denom * float64(timeutil.Year)), true
}

// Len returns the number of candles currently held.
func (m *CandleModel) Len() int { return m.candles.Len() }

// Capacity returns lookback+1.
func (m *CandleModel) Capacity() int { return m.candles.Cap() }

// Evicted returns how many candles have been dropped off the back of the window.
func (m *CandleModel) Evicted() uint64 { return m.candles.Evicted() }

// Candles copies the window oldest-first.
func (m *CandleModel) Candles() []model.Candle { return m.candles.Snapshot() }
