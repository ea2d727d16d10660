package pricemodel

import (
	"errors"
	"math"
	"testing"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
	"oracle-pricemodel/internal/verify"
	"oracle-pricemodel/internal/volatility"
)

func at(d time.Duration) timeutil.Timestamp {
	return timeutil.AddTime(0, d)
}

func tr(d time.Duration, price int64) model.Trade {
	return model.Trade{Price: price, Time: at(d)}
}

// expectedConf is the volatility-scaled interval before any floor.
func expectedConf(vol float64, elapsed time.Duration, price int64) float64 {
	return vol * math.Sqrt(float64(elapsed)/float64(timeutil.Year)) * float64(price)
}

func TestModel_UnavailableBeforeFirstTrade(t *testing.T) {
	m := New(nil)
	if _, ok := m.EvalAtTime(at(time.Hour)); ok {
		t.Fatal("expected no estimate before any trade")
	}
	if m.Status(0) != model.StatusUnknown {
		t.Errorf("expected unknown status, got %s", m.Status(0))
	}
}

func TestModel_SingleTradeDefaults(t *testing.T) {
	m := New(nil)
	m.AddTrade(tr(0, 100))

	est, ok := m.EvalAtTime(0)
	if !ok {
		t.Fatal("expected an estimate at the trade time")
	}
	if est.Price != 100 {
		t.Errorf("expected price 100, got %d", est.Price)
	}

	want := math.Max(DefaultMinConfidence, expectedConf(DefaultInitVolatility, DefaultMinSlot, 100))
	if math.Abs(est.Confidence-want) > 1e-15 {
		t.Errorf("expected confidence %.18f, got %.18f", want, est.Confidence)
	}
	if math.Abs(est.Confidence-0.012591622608656237) > 1e-12 {
		t.Errorf("expected confidence ~0.0125916226, got %.15f", est.Confidence)
	}
}

func TestModel_StaleAfterTimeout(t *testing.T) {
	m := New(nil)
	m.AddTrade(tr(0, 100))

	if _, ok := m.EvalAtTime(at(70 * time.Second)); ok {
		t.Fatal("expected no estimate 70s after the last trade")
	}
	if m.Status(at(70*time.Second)) != model.StatusUnknown {
		t.Error("expected unknown status after timeout")
	}

	// Exactly at the timeout the price is still live
	m2 := New(nil)
	m2.AddTrade(tr(0, 100))
	if _, ok := m2.EvalAtTime(at(DefaultTimeout)); !ok {
		t.Error("expected an estimate exactly at the timeout")
	}
}

func TestModel_FreshTradeRevivesStalePrice(t *testing.T) {
	m := New(volatility.NewFixed(0.5))
	m.AddTrade(tr(0, 100))
	if _, ok := m.EvalAtTime(at(2 * time.Minute)); ok {
		t.Fatal("expected stale price")
	}
	m.AddTrade(tr(3*time.Minute, 120))
	est, ok := m.EvalAtTime(at(3*time.Minute + time.Second))
	if !ok || est.Price != 120 {
		t.Fatalf("expected live price 120, got %+v ok=%v", est, ok)
	}
}

func TestModel_ConfidenceGrowsWithElapsed(t *testing.T) {
	m := New(volatility.NewFixed(0.8), WithMinConfidence(0))
	m.AddTrade(tr(0, 10_000))

	prev := 0.0
	for _, s := range []time.Duration{time.Second, 4 * time.Second, 16 * time.Second, 59 * time.Second} {
		est, ok := m.EvalAtTime(at(s))
		if !ok {
			t.Fatalf("expected estimate at %v", s)
		}
		want := expectedConf(0.8, s, 10_000)
		if math.Abs(est.Confidence-want)/want > 1e-12 {
			t.Errorf("at %v: expected %.12f, got %.12f", s, want, est.Confidence)
		}
		if est.Confidence <= prev {
			t.Errorf("at %v: confidence %.6f did not grow past %.6f", s, est.Confidence, prev)
		}
		prev = est.Confidence
	}
}

func TestModel_MinSlotFloor(t *testing.T) {
	m := New(volatility.NewFixed(1.0), WithMinConfidence(0), WithMinSlot(2*time.Second))
	m.AddTrade(tr(10*time.Second, 5000))

	est, _ := m.EvalAtTime(at(10*time.Second + 100*time.Millisecond))
	want := expectedConf(1.0, 2*time.Second, 5000)
	if math.Abs(est.Confidence-want)/want > 1e-12 {
		t.Errorf("expected slot-floored %.12f, got %.12f", want, est.Confidence)
	}
}

func TestModel_NeverBelowMinConfidence(t *testing.T) {
	m := New(volatility.NewFixed(0), WithMinConfidence(0.25))
	for i := 0; i < 10; i++ {
		m.AddTrade(tr(time.Duration(i)*time.Second, 100))
		est, ok := m.EvalAtTime(at(time.Duration(i)*time.Second + 500*time.Millisecond))
		if !ok {
			t.Fatalf("step %d: expected estimate", i)
		}
		if est.Confidence < 0.25 {
			t.Fatalf("step %d: confidence %f below floor", i, est.Confidence)
		}
	}
}

func TestModel_RangeFloorConsumedOnce(t *testing.T) {
	m := New(volatility.NewFixed(0), WithMinConfidence(0.01))
	m.AddTrade(tr(0, 100))
	m.AddTrade(tr(100*time.Millisecond, 110))
	m.AddTrade(tr(200*time.Millisecond, 104))

	now := at(time.Second)
	first, ok := m.EvalAtTime(now)
	if !ok {
		t.Fatal("expected estimate")
	}
	if first.Confidence != 5.0 {
		t.Errorf("expected range floor 5.0 on first eval, got %f", first.Confidence)
	}
	if first.Price != 104 {
		t.Errorf("expected last trade price 104, got %d", first.Price)
	}

	second, ok := m.EvalAtTime(now)
	if !ok {
		t.Fatal("expected estimate")
	}
	if second.Confidence != 0.01 {
		t.Errorf("expected min confidence 0.01 once range consumed, got %f", second.Confidence)
	}

	// A new batch opens a fresh range at the next trade only
	m.AddTrade(tr(2*time.Second, 108))
	third, _ := m.EvalAtTime(at(2 * time.Second))
	if third.Confidence != 0.01 {
		t.Errorf("expected single-trade range to add nothing, got %f", third.Confidence)
	}
}

func TestModel_PeekDoesNotConsumeRange(t *testing.T) {
	m := New(volatility.NewFixed(0))
	m.AddTrade(tr(0, 90))
	m.AddTrade(tr(time.Millisecond, 100))

	for i := 0; i < 3; i++ {
		est, ok := m.Peek(at(time.Second))
		if !ok || est.Confidence != 5.0 {
			t.Fatalf("peek %d: expected range floor 5.0, got %f ok=%v", i, est.Confidence, ok)
		}
	}
	if est, _ := m.EvalAtTime(at(time.Second)); est.Confidence != 5.0 {
		t.Errorf("expected eval to still see the range, got %f", est.Confidence)
	}
	if est, _ := m.Peek(at(time.Second)); est.Confidence == 5.0 {
		t.Error("expected range consumed after eval")
	}
}

func TestModel_StaleEvalKeepsRange(t *testing.T) {
	m := New(volatility.NewFixed(0), WithTimeout(time.Second), WithMinSlot(100*time.Millisecond))
	m.AddTrade(tr(0, 90))
	m.AddTrade(tr(time.Millisecond, 100))

	if _, ok := m.EvalAtTime(at(5 * time.Second)); ok {
		t.Fatal("expected stale")
	}
	m.AddTrade(tr(6*time.Second, 100))
	est, ok := m.EvalAtTime(at(6 * time.Second))
	if !ok || est.Confidence != 5.0 {
		t.Errorf("expected unconsumed range floor 5.0, got %f ok=%v", est.Confidence, ok)
	}
}

func TestModel_UsesEstimatorOnceReady(t *testing.T) {
	vol := volatility.NewCandleModel(volatility.WithLookback(1), volatility.WithCandleDuration(time.Second))
	m := New(vol, WithMinConfidence(0), WithInitVolatility(3.0))

	m.AddTrade(tr(0, 100))
	est, _ := m.EvalAtTime(at(time.Second / 2))
	want := expectedConf(3.0, DefaultMinSlot, 100)
	if math.Abs(est.Confidence-want)/want > 1e-12 {
		t.Errorf("expected init volatility to drive %.12f, got %.12f", want, est.Confidence)
	}

	m.AddTrade(tr(time.Second, 100))
	m.AddTrade(tr(time.Second, 101))
	v, ok := vol.EvalVolatility()
	if !ok {
		t.Fatal("expected candle model to be ready")
	}
	m.EvalAtTime(at(time.Second)) // consume the range
	est, _ = m.EvalAtTime(at(2 * time.Second))
	want = expectedConf(v, time.Second, 101)
	if math.Abs(est.Confidence-want)/want > 1e-12 {
		t.Errorf("expected estimator volatility to drive %.12f, got %.12f", want, est.Confidence)
	}
}

func TestModel_LastTrade(t *testing.T) {
	m := New(nil)
	if _, ok := m.LastTrade(); ok {
		t.Fatal("expected no last trade")
	}
	m.AddTrade(tr(time.Second, 42))
	last, ok := m.LastTrade()
	if !ok || last.Price != 42 || last.Time != at(time.Second) {
		t.Errorf("unexpected last trade %+v", last)
	}
}

func TestModel_ContractViolations(t *testing.T) {
	cases := []struct {
		name string
		fn   func()
		expr string
	}{
		{"negative min confidence", func() { New(nil, WithMinConfidence(-1)) }, "min_confidence >= 0"},
		{"negative init volatility", func() { New(nil, WithInitVolatility(-0.1)) }, "init_volatility >= 0"},
		{"negative min slot", func() { New(nil, WithMinSlot(-time.Second)) }, "min_slot >= 0"},
		{"slot not below timeout", func() { New(nil, WithMinSlot(time.Minute), WithTimeout(time.Minute)) }, "min_slot < timeout"},
		{"eval before last trade", func() {
			m := New(nil)
			m.AddTrade(tr(10*time.Second, 100))
			m.EvalAtTime(at(9 * time.Second))
		}, "now >= last_trade.time"},
		{"nan volatility", func() {
			m := New(volatility.NewFixed(math.NaN()))
			m.AddTrade(tr(0, 100))
			m.EvalAtTime(at(time.Second))
		}, "confidence is a number"},
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
