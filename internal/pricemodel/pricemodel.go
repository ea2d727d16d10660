// Package pricemodel turns a trade stream into a price plus confidence
// interval. The interval is the last trade price scaled by the estimated
// annualized volatility and the square root of the time since that trade,
// floored at a minimum interval and, once per batch of trades, at half the
// range traded since the previous evaluation.
package pricemodel

import (
	"math"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
	"oracle-pricemodel/internal/verify"
	"oracle-pricemodel/internal/volatility"
)

const (
	DefaultMinConfidence  = 0.01
	DefaultTimeout        = 60 * time.Second
	DefaultMinSlot        = 500 * time.Millisecond
	DefaultInitVolatility = 1.0
)

// Option configures a Model.
type Option func(*Model)

// WithMinConfidence sets the floor on every reported interval.
func WithMinConfidence(c float64) Option {
	return func(m *Model) { m.minConfidence = c }
}

// WithTimeout sets how long after the last trade a price stays available.
func WithTimeout(d time.Duration) Option {
	return func(m *Model) { m.timeout = d }
}

// WithMinSlot sets the floor on elapsed time before annualizing.
func WithMinSlot(d time.Duration) Option {
	return func(m *Model) { m.minSlot = d }
}

// WithInitVolatility sets the volatility used while the estimator has none.
func WithInitVolatility(v float64) Option {
	return func(m *Model) { m.initVolatility = v }
}

// Model is the standard PriceModel.
// Not safe for concurrent use.
type Model struct {
	vol model.VolatilityModel

	minConfidence  float64
	initVolatility float64
	timeout        time.Duration
	minSlot        time.Duration

	lastTrade *model.Trade
	pending   *model.PriceRange // range since the last EvalAtTime, nil once consumed
}

var _ model.PriceModel = (*Model)(nil)

// New creates a Model on top of vol. A nil vol gets a default CandleModel.
// Panics with a contract violation on invalid options.
func New(vol model.VolatilityModel, opts ...Option) *Model {
	if vol == nil {
		vol = volatility.NewCandleModel()
	}
	m := &Model{
		vol:            vol,
		minConfidence:  DefaultMinConfidence,
		initVolatility: DefaultInitVolatility,
		timeout:        DefaultTimeout,
		minSlot:        DefaultMinSlot,
	}
	for _, opt := range opts {
		opt(m)
	}

	verify.NotNil(m.vol, "vol != nil")
	verify.GE(m.minConfidence, 0, "min_confidence >= 0")
	verify.GE(m.initVolatility, 0, "init_volatility >= 0")
	verify.GE(m.minSlot, 0, "min_slot >= 0")
	verify.LT(m.minSlot, m.timeout, "min_slot < timeout")
	return m
}

// AddTrade forwards the trade to the volatility model, widens the pending
// range and records the trade as the latest.
func (m *Model) AddTrade(trade model.Trade) {
	m.vol.AddTrade(trade)
	if m.pending == nil {
		m.pending = model.NewPriceRange(trade.Price)
	} else {
		m.pending.Add(trade.Price)
	}
	m.lastTrade = &trade
}

// EvalAtTime estimates the price at now and consumes the pending range, so the
// range floor applies to the first evaluation after a batch of trades only.
// Returns false before the first trade and once the last trade is older than
// the timeout.
func (m *Model) EvalAtTime(now timeutil.Timestamp) (model.PriceEstimate, bool) {
	est, ok := m.estimate(now)
	if ok {
		m.pending = nil
	}
	return est, ok
}

// Peek computes the same estimate as EvalAtTime without consuming the pending range.
func (m *Model) Peek(now timeutil.Timestamp) (model.PriceEstimate, bool) {
	return m.estimate(now)
}

func (m *Model) estimate(now timeutil.Timestamp) (model.PriceEstimate, bool) {
	if m.lastTrade == nil {
		return model.PriceEstimate{}, false
	}

	elapsed := timeutil.DiffTimes(now, m.lastTrade.Time)
	verify.GE(elapsed, 0, "now >= last_trade.time")
	if elapsed > m.timeout {
		return model.PriceEstimate{}, false
	}

	vol, ok := m.vol.EvalAtTime(now)
	if !ok {
		vol = m.initVolatility
	}

	years := float64(max(elapsed, m.minSlot)) / float64(timeutil.Year)
	conf := vol * math.Sqrt(years) * float64(m.lastTrade.Price)
	verify.That(!math.IsNaN(conf), "confidence is a number", vol, years)
	conf = max(conf, m.minConfidence)
	if m.pending != nil {
		conf = max(conf, m.pending.Interval())
	}

	return model.PriceEstimate{Price: m.lastTrade.Price, Confidence: conf}, true
}

// LastTrade returns the most recent trade, if any.
func (m *Model) LastTrade() (model.Trade, bool) {
	if m.lastTrade == nil {
		return model.Trade{}, false
	}
	return *m.lastTrade, true
}

// Status reports whether a price would be published at now.
func (m *Model) Status(now timeutil.Timestamp) model.Status {
	if m.lastTrade == nil || timeutil.DiffTimes(now, m.lastTrade.Time) > m.timeout {
		return model.StatusUnknown
	}
	return model.StatusTrading
}
