package metrics

import (
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
)

// evictionCounter is implemented by volatility models with a bounded window.
type evictionCounter interface {
	Evicted() uint64
}

// InstrumentedVolatility records the estimator output and window evictions.
type InstrumentedVolatility struct {
	inner       model.VolatilityModel
	m           *Metrics
	lastEvicted uint64
}

var _ model.VolatilityModel = (*InstrumentedVolatility)(nil)

// WrapVolatility decorates inner with metrics.
func WrapVolatility(inner model.VolatilityModel, m *Metrics) *InstrumentedVolatility {
	return &InstrumentedVolatility{inner: inner, m: m}
}

func (v *InstrumentedVolatility) AddTrade(trade model.Trade) {
	v.inner.AddTrade(trade)
	if ec, ok := v.inner.(evictionCounter); ok {
		n := ec.Evicted()
		if n > v.lastEvicted {
			v.m.CandleEvictions.Add(float64(n - v.lastEvicted))
			v.lastEvicted = n
		}
	}
}

func (v *InstrumentedVolatility) EvalAtTime(now timeutil.Timestamp) (float64, bool) {
	vol, ok := v.inner.EvalAtTime(now)
	if ok {
		v.m.Volatility.Set(vol)
		v.m.VolatilityReady.Set(1)
	} else {
		v.m.VolatilityReady.Set(0)
	}
	return vol, ok
}

// InstrumentedPrice records trades, evaluation results and latency, and
// keeps the health status current.
type InstrumentedPrice struct {
	inner  model.PriceModel
	m      *Metrics
	health *HealthStatus
}

var _ model.PriceModel = (*InstrumentedPrice)(nil)

// WrapPrice decorates inner with metrics. health may be nil.
func WrapPrice(inner model.PriceModel, m *Metrics, health *HealthStatus) *InstrumentedPrice {
	return &InstrumentedPrice{inner: inner, m: m, health: health}
}

func (p *InstrumentedPrice) AddTrade(trade model.Trade) {
	p.inner.AddTrade(trade)
	p.m.TradesTotal.Inc()
	if p.health != nil {
		p.health.SetLastTradeTime(trade.Time.Time())
	}
}

func (p *InstrumentedPrice) EvalAtTime(now timeutil.Timestamp) (model.PriceEstimate, bool) {
	start := time.Now()
	est, ok := p.inner.EvalAtTime(now)
	p.m.EvalDur.Observe(time.Since(start).Seconds())

	status := model.StatusUnknown
	if ok {
		p.m.EvalsTotal.WithLabelValues(ResultOK).Inc()
		p.m.Confidence.Observe(est.Confidence)
		status = model.StatusTrading
	} else {
		p.m.EvalsTotal.WithLabelValues(ResultUnavailable).Inc()
	}
	if p.health != nil {
		p.health.SetQuoteStatus(status)
	}
	return est, ok
}
