package harness

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/pricemodel"
	"oracle-pricemodel/internal/timeutil"
	"oracle-pricemodel/internal/verify"
	"oracle-pricemodel/internal/volatility"
)

func defaultModel() model.PriceModel { return pricemodel.New(nil) }

func smallConfig() GenConfig {
	return GenConfig{
		Seed:          7,
		TradeSeconds:  120,
		TradesPerSec:  5,
		MidPrice:      1000,
		PriceInterval: 25,
		StartTS:       timeutil.Seconds(1_600_000_000),
	}
}

func generated(t *testing.T) *Dataset {
	t.Helper()
	ds, err := GenerateDataset(smallConfig(), pricemodel.DefaultMinSlot, defaultModel)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return ds
}

func TestRunner_GeneratedDatasetPasses(t *testing.T) {
	ds := generated(t)
	r := &Runner{NewModel: defaultModel}

	rep, err := r.Run(ds)
	if err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if rep.Trades != len(ds.TradeTimes) {
		t.Errorf("expected %d trades applied, got %d", len(ds.TradeTimes), rep.Trades)
	}
	if rep.Evals != len(ds.EvalTimes) {
		t.Errorf("expected %d evals checked, got %d", len(ds.EvalTimes), rep.Evals)
	}
	if rep.MaxRelErr != 0 {
		t.Errorf("expected exact replay, got max rel err %g", rep.MaxRelErr)
	}
}

func TestRunner_DetectsConfidenceMismatch(t *testing.T) {
	ds := generated(t)

	idx := -1
	for i, p := range ds.EvalPrices {
		if p != 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("expected at least one available eval")
	}
	ds.EvalConfs[idx] *= 1.01

	_, err := (&Runner{NewModel: defaultModel}).Run(ds)
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if mm.Index != idx || !mm.Available {
		t.Errorf("expected available mismatch at %d, got %+v", idx, mm)
	}
}

func TestRunner_ToleranceAbsorbsSmallError(t *testing.T) {
	ds := generated(t)
	for i := range ds.EvalConfs {
		ds.EvalConfs[i] *= 1 + 1e-7
	}
	rep, err := (&Runner{NewModel: defaultModel}).Run(ds)
	if err != nil {
		t.Fatalf("expected pass within tolerance, got %v", err)
	}
	if rep.MaxRelErr == 0 || rep.MaxRelErr > DefaultTolerance {
		t.Errorf("expected small nonzero max rel err, got %g", rep.MaxRelErr)
	}

	if _, err := (&Runner{NewModel: defaultModel, Tolerance: 1e-9}).Run(ds); err == nil {
		t.Error("expected failure with a tighter tolerance")
	}
}

func TestRunner_UnavailableMustBeZero(t *testing.T) {
	var ds Dataset
	ds.AddEval(timeutil.Seconds(1), 100, 0.5)
	ds.AddTrade(model.Trade{Price: 100, Time: timeutil.Seconds(2)})

	_, err := (&Runner{NewModel: defaultModel}).Run(&ds)
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if mm.Available {
		t.Error("expected an unavailable mismatch")
	}
}

func TestRunner_TradeAtEvalTimeAppliedAfter(t *testing.T) {
	var ds Dataset
	ds.AddTrade(model.Trade{Price: 100, Time: timeutil.Seconds(1)})
	ds.AddEval(timeutil.Seconds(1), 0, 0)
	conf := pricemodel.DefaultInitVolatility * math.Sqrt(float64(time.Second)/float64(timeutil.Year)) * 100
	ds.AddEval(timeutil.Seconds(2), 100, conf)

	rep, err := (&Runner{NewModel: defaultModel}).Run(&ds)
	if err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if rep.Unavailable != 1 {
		t.Errorf("expected 1 unavailable eval, got %d", rep.Unavailable)
	}
	if rep.Trades != 1 {
		t.Errorf("expected the trade applied after the last eval, got %d", rep.Trades)
	}
}

func TestRunner_ContractViolationReturned(t *testing.T) {
	newModel := func() model.PriceModel {
		vol := volatility.NewCandleModel(volatility.WithLookback(1), volatility.WithCandleDuration(time.Second))
		return pricemodel.New(vol)
	}
	var ds Dataset
	ds.AddTrade(model.Trade{Price: 0, Time: timeutil.Seconds(1)})
	ds.AddTrade(model.Trade{Price: 5, Time: timeutil.Seconds(2)})
	ds.AddEval(timeutil.Seconds(3), 5, 1)

	_, err := (&Runner{NewModel: newModel}).Run(&ds)
	var ae *verify.AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected assertion error, got %v", err)
	}
	if ae.Expr != "min_low > 0" {
		t.Errorf("expected min_low violation, got %q", ae.Expr)
	}
}

func TestRunner_RejectsBadInput(t *testing.T) {
	if _, err := (&Runner{}).Run(&Dataset{}); err == nil {
		t.Error("expected error without a model constructor")
	}
	if _, err := (&Runner{NewModel: defaultModel, Tolerance: -1}).Run(&Dataset{}); err == nil {
		t.Error("expected error on negative tolerance")
	}
}

func TestDataset_Validate(t *testing.T) {
	cases := []struct {
		name string
		ds   Dataset
	}{
		{"trade columns misaligned", Dataset{TradeTimes: []timeutil.Timestamp{1, 2}, TradePrices: []int64{1}}},
		{"eval columns misaligned", Dataset{EvalTimes: []timeutil.Timestamp{1}, EvalPrices: []int64{1}}},
		{"trades out of order", Dataset{TradeTimes: []timeutil.Timestamp{2, 1}, TradePrices: []int64{1, 1}}},
		{"evals out of order", Dataset{
			EvalTimes: []timeutil.Timestamp{5, 4}, EvalPrices: []int64{0, 0}, EvalConfs: []float64{0, 0},
		}},
		{"negative interval", Dataset{
			EvalTimes: []timeutil.Timestamp{5}, EvalPrices: []int64{1}, EvalConfs: []float64{-0.1},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.ds.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	ok := Dataset{TradeTimes: []timeutil.Timestamp{1, 1, 2}, TradePrices: []int64{1, 2, 3}}
	if err := ok.Validate(); err != nil {
		t.Errorf("expected equal trade times to be allowed, got %v", err)
	}
}

func TestColumns_SaveLoad(t *testing.T) {
	ds := generated(t)
	paths := ColumnPathsIn(t.TempDir())
	if err := SaveColumns(paths, ds); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadColumns(paths)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := (&Runner{NewModel: defaultModel}).Run(loaded); err != nil {
		t.Fatalf("expected loaded columns to pass, got %v", err)
	}

	info, err := os.Stat(paths.EvalConfs)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(8*len(ds.EvalConfs)) {
		t.Errorf("expected %d bytes, got %d", 8*len(ds.EvalConfs), info.Size())
	}
}

func TestReadColumn_LittleEndian(t *testing.T) {
	path := filepath.Join(t.TempDir(), "col.bin")
	raw := []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	vals, err := ReadColumn[uint64](path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 256 {
		t.Errorf("expected [1 256], got %v", vals)
	}
}

func TestReadColumn_BadSize(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.bin")
	ragged := filepath.Join(dir, "ragged.bin")
	os.WriteFile(empty, nil, 0o644)
	os.WriteFile(ragged, []byte{1, 2, 3}, 0o644)

	if _, err := ReadColumn[int64](empty); err == nil {
		t.Error("expected error on empty column")
	}
	if _, err := ReadColumn[int64](ragged); err == nil {
		t.Error("expected error on ragged column")
	}
	if _, err := ReadColumn[int64](filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("expected error on missing column")
	}
}

func TestCSV_Parse(t *testing.T) {
	var ds Dataset
	trades := "timestamp,price\n1000,100\n2000,101\n"
	evals := "timestamp,price,interval\n1500,100,0.0125\n2500,101,0.5\n"

	if err := ReadTradesCSV(strings.NewReader(trades), &ds); err != nil {
		t.Fatalf("trades: %v", err)
	}
	if err := ReadEvalsCSV(strings.NewReader(evals), &ds); err != nil {
		t.Fatalf("evals: %v", err)
	}
	if len(ds.TradeTimes) != 2 || ds.TradePrices[1] != 101 {
		t.Errorf("unexpected trades: %v %v", ds.TradeTimes, ds.TradePrices)
	}
	if len(ds.EvalConfs) != 2 || ds.EvalConfs[0] != 0.0125 {
		t.Errorf("unexpected evals: %v", ds.EvalConfs)
	}
}

func TestCSV_Errors(t *testing.T) {
	var ds Dataset
	if err := ReadTradesCSV(strings.NewReader("ts,price\n1,2\n"), &ds); err == nil {
		t.Error("expected header error")
	}
	if err := ReadTradesCSV(strings.NewReader("timestamp,price\n1,abc\n"), &ds); err == nil {
		t.Error("expected price parse error")
	}
	if err := ReadEvalsCSV(strings.NewReader("timestamp,price,interval\n1,2\n"), &ds); err == nil {
		t.Error("expected field count error")
	}
	if err := ReadEvalsCSV(strings.NewReader(""), &ds); err == nil {
		t.Error("expected missing header error")
	}
}

func TestCSV_SaveLoad(t *testing.T) {
	ds := generated(t)
	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "1.trades.csv")
	evalsPath := filepath.Join(dir, "1.evals.csv")

	if err := SaveCSV(tradesPath, evalsPath, ds); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadCSV(tradesPath, evalsPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rep, err := (&Runner{NewModel: defaultModel}).Run(loaded)
	if err != nil {
		t.Fatalf("expected csv dataset to pass, got %v", err)
	}
	if rep.MaxRelErr != 0 {
		t.Errorf("expected lossless intervals, got max rel err %g", rep.MaxRelErr)
	}
}

func TestSyntheticTrades(t *testing.T) {
	cfg := smallConfig()
	trades, err := SyntheticTrades(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(trades) != int(cfg.TradeSeconds*cfg.TradesPerSec) {
		t.Fatalf("expected %d trades, got %d", cfg.TradeSeconds*cfg.TradesPerSec, len(trades))
	}
	if trades[0].Time != cfg.StartTS {
		t.Errorf("expected first trade at %d, got %d", cfg.StartTS, trades[0].Time)
	}
	if want := timeutil.AddTime(cfg.StartTS, 120*time.Second); trades[len(trades)-1].Time != want {
		t.Errorf("expected last trade at %d, got %d", want, trades[len(trades)-1].Time)
	}
	for i, tr := range trades {
		if i > 0 && tr.Time <= trades[i-1].Time {
			t.Fatalf("trade %d time not strictly increasing", i)
		}
		if tr.Price < cfg.MidPrice-25 || tr.Price > cfg.MidPrice+25 {
			t.Fatalf("trade %d price %d outside range", i, tr.Price)
		}
	}

	again, _ := SyntheticTrades(cfg)
	for i := range trades {
		if trades[i] != again[i] {
			t.Fatalf("expected deterministic output for a seed, differs at %d", i)
		}
	}
}

func TestSyntheticTrades_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.PriceInterval = float64(cfg.MidPrice)
	if _, err := SyntheticTrades(cfg); err == nil {
		t.Error("expected error when prices could go non-positive")
	}
	cfg = smallConfig()
	cfg.TradesPerSec = 0
	if _, err := SyntheticTrades(cfg); err == nil {
		t.Error("expected error on zero rate")
	}
}

func TestGenerate_InvalidRange(t *testing.T) {
	pm := defaultModel()
	if _, err := Generate(nil, timeutil.Seconds(10), timeutil.Seconds(5), time.Second, pm); err == nil {
		t.Error("expected error when start >= end")
	}
	if _, err := Generate(nil, timeutil.Seconds(10), timeutil.Seconds(20), 0, pm); err == nil {
		t.Error("expected error on zero step")
	}
}

func TestGenerate_StepsAndUnavailable(t *testing.T) {
	trades := []model.Trade{{Price: 100, Time: timeutil.Seconds(5)}}
	ds, err := Generate(trades, timeutil.Seconds(4), timeutil.Seconds(6), 500*time.Millisecond, defaultModel())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(ds.EvalTimes) != 4 {
		t.Fatalf("expected 4 evals, got %d", len(ds.EvalTimes))
	}
	// 4s, 4.5s and 5s precede the trade being applied
	for i := 0; i < 3; i++ {
		if ds.EvalPrices[i] != 0 || ds.EvalConfs[i] != 0 {
			t.Errorf("eval %d: expected no estimate, got %d/%f", i, ds.EvalPrices[i], ds.EvalConfs[i])
		}
	}
	if ds.EvalPrices[3] != 100 {
		t.Errorf("expected price 100 at 5.5s, got %d", ds.EvalPrices[3])
	}
}
