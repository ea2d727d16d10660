package volatility

import (
	"errors"
	"math"
	"testing"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
	"oracle-pricemodel/internal/verify"
)

func trade(sec int64, price int64) model.Trade {
	return model.Trade{Price: price, Time: timeutil.Seconds(sec)}
}

func relErr(got, want float64) float64 {
	return math.Abs(got-want) / math.Abs(want)
}

// threeBuckets is the lookback=2, 60s scenario: three full buckets
// [100,102], [101,103], [102,104].
func threeBuckets() []model.Trade {
	return []model.Trade{
		trade(0, 100), trade(59, 102),
		trade(60, 101), trade(119, 103),
		trade(120, 102), trade(179, 104),
	}
}

func TestCandleModel_Defaults(t *testing.T) {
	m := NewCandleModel()
	if m.Capacity() != DefaultLookback+1 {
		t.Errorf("expected capacity %d, got %d", DefaultLookback+1, m.Capacity())
	}
	if _, ok := m.EvalAtTime(0); ok {
		t.Error("expected no estimate from an empty model")
	}
}

func TestCandleModel_ThreeBucketScenario(t *testing.T) {
	m := NewCandleModel(WithLookback(2), WithCandleDuration(time.Minute))
	for _, tr := range threeBuckets() {
		m.AddTrade(tr)
	}

	candles := m.Candles()
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	wantHL := [][2]float64{{102, 100}, {103, 101}, {104, 102}}
	for i, c := range candles {
		if c.High != wantHL[i][0] || c.Low != wantHL[i][1] {
			t.Errorf("candle %d: expected high/low %v, got %f/%f", i, wantHL[i], c.High, c.Low)
		}
		if c.Start != timeutil.Seconds(int64(60*i)) {
			t.Errorf("candle %d: expected start %ds, got %d", i, 60*i, c.Start)
		}
	}

	vol, ok := m.EvalAtTime(timeutil.Seconds(180))
	if !ok {
		t.Fatal("expected an estimate once three buckets are filled")
	}

	// Pairs (newest, previous): (104/101 over 120s) and (103/100 over 120s)
	numer := math.Pow(math.Log(104.0/101.0), 2) + math.Pow(math.Log(103.0/100.0), 2)
	denom := float64(240*time.Second) * 4 * math.Ln2
	want := math.Sqrt(numer / denom * float64(timeutil.Year))

	if relErr(vol, want) > 1e-12 {
		t.Errorf("expected volatility %.15f, got %.15f", want, vol)
	}
	if math.Abs(vol-9.056033208125143) > 1e-9 {
		t.Errorf("expected volatility ~9.056033208, got %.12f", vol)
	}
}

func TestCandleModel_NoValueUntilFull(t *testing.T) {
	const lookback = 4
	m := NewCandleModel(WithLookback(lookback), WithCandleDuration(time.Second))

	for bucket := int64(0); bucket < 12; bucket++ {
		m.AddTrade(trade(bucket, 100+bucket%3))
		_, ok := m.EvalVolatility()
		filled := bucket + 1
		if filled < lookback+1 && ok {
			t.Fatalf("bucket %d: expected no estimate with %d candles", bucket, filled)
		}
		if filled >= lookback+1 && !ok {
			t.Fatalf("bucket %d: expected an estimate with a full window", bucket)
		}
		if m.Len() > lookback+1 {
			t.Fatalf("bucket %d: window holds %d candles, capacity %d", bucket, m.Len(), lookback+1)
		}
	}
}

func TestCandleModel_EvictsOldestFirst(t *testing.T) {
	m := NewCandleModel(WithLookback(2), WithCandleDuration(time.Minute))
	for i := int64(0); i < 5; i++ {
		m.AddTrade(trade(i*60, 100+i))
	}

	if m.Evicted() != 2 {
		t.Errorf("expected 2 evictions, got %d", m.Evicted())
	}
	candles := m.Candles()
	for i, c := range candles {
		wantStart := timeutil.Seconds(int64(i+2) * 60)
		if c.Start != wantStart {
			t.Errorf("candle %d: expected start %d, got %d", i, wantStart, c.Start)
		}
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Start <= candles[i-1].Start {
			t.Fatalf("candle starts not strictly increasing: %v", candles)
		}
	}
}

func TestCandleModel_ScaleInvariant(t *testing.T) {
	base := NewCandleModel(WithLookback(3), WithCandleDuration(10*time.Second))
	scaled := NewCandleModel(WithLookback(3), WithCandleDuration(10*time.Second))

	prices := []int64{100, 97, 104, 101, 99, 103, 106, 102, 98, 100}
	for i, p := range prices {
		base.AddTrade(trade(int64(i*5), p))
		scaled.AddTrade(trade(int64(i*5), p*1000))
	}

	v1, ok1 := base.EvalVolatility()
	v2, ok2 := scaled.EvalVolatility()
	if !ok1 || !ok2 {
		t.Fatal("expected both models to be ready")
	}
	if relErr(v2, v1) > 1e-12 {
		t.Errorf("expected scale-invariant volatility, got %.15f vs %.15f", v1, v2)
	}
}

func TestCandleModel_SkippedBucketsWidenDenominator(t *testing.T) {
	// Gapped buckets: the pair span is cur_end - prev_start, not one duration.
	m := NewCandleModel(WithLookback(1), WithCandleDuration(time.Minute))
	m.AddTrade(trade(0, 100))
	m.AddTrade(trade(300, 110))

	vol, ok := m.EvalVolatility()
	if !ok {
		t.Fatal("expected an estimate")
	}
	lr := math.Log(110.0 / 100.0)
	want := math.Sqrt(lr * lr / (float64(6*time.Minute) * 4 * math.Ln2) * float64(timeutil.Year))
	if relErr(vol, want) > 1e-12 {
		t.Errorf("expected %.15f, got %.15f", want, vol)
	}
}

func TestCandleModel_FlatPricesZeroVolatility(t *testing.T) {
	m := NewCandleModel(WithLookback(1), WithCandleDuration(time.Second))
	m.AddTrade(trade(0, 100))
	m.AddTrade(trade(1, 100))
	vol, ok := m.EvalVolatility()
	if !ok || vol != 0 {
		t.Errorf("expected ready zero volatility, got %f ok=%v", vol, ok)
	}
}

func TestCandleModel_ContractViolations(t *testing.T) {
	cases := []struct {
		name string
		fn   func()
		expr string
	}{
		{
			name: "zero lookback",
			fn:   func() { NewCandleModel(WithLookback(0)) },
			expr: "capacity > 1",
		},
		{
			name: "non-positive duration",
			fn:   func() { NewCandleModel(WithCandleDuration(0)) },
			expr: "candle duration > 0",
		},
		{
			name: "trade in an older bucket",
			fn: func() {
				m := NewCandleModel(WithLookback(2))
				m.AddTrade(trade(120, 100))
				m.AddTrade(trade(30, 100))
			},
			expr: "trade bucket == front bucket",
		},
		{
			name: "non-positive price",
			fn: func() {
				m := NewCandleModel(WithLookback(1), WithCandleDuration(time.Second))
				m.AddTrade(trade(0, 0))
				m.AddTrade(trade(1, 5))
				m.EvalVolatility()
			},
			expr: "min_low > 0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := func() (err error) {
				defer verify.Recover(&err)
				tc.fn()
				return nil
			}()
			var ae *verify.AssertionError
			if !errors.As(err, &ae) {
				t.Fatalf("expected assertion error, got %v", err)
			}
			if ae.Expr != tc.expr {
				t.Errorf("expected expr %q, got %q", tc.expr, ae.Expr)
			}
		})
	}
}

func TestCandleModel_SameBucketTradesAllowed(t *testing.T) {
	m := NewCandleModel(WithLookback(1))
	m.AddTrade(trade(10, 100))
	m.AddTrade(trade(10, 105))
	m.AddTrade(trade(20, 95))
	if m.Len() != 1 {
		t.Fatalf("expected one candle, got %d", m.Len())
	}
	c := m.Candles()[0]
	if c.High != 105 || c.Low != 95 {
		t.Errorf("expected [95, 105], got [%f, %f]", c.Low, c.High)
	}
}

func TestFixed(t *testing.T) {
	f := NewFixed(0.8)
	f.AddTrade(trade(0, 1))
	if v, ok := f.EvalAtTime(0); !ok || v != 0.8 {
		t.Errorf("expected 0.8, got %f ok=%v", v, ok)
	}
	if _, ok := (Fixed{}).EvalAtTime(0); ok {
		t.Error("expected zero Fixed to report no estimate")
	}
}
