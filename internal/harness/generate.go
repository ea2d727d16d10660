package harness

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
)

// Generate evaluates pm every step from start (inclusive) to end (exclusive),
// feeding trades with the same interleaving Runner uses. Unavailable results
// are recorded as price 0 and confidence 0.
func Generate(trades []model.Trade, start, end timeutil.Timestamp, step time.Duration, pm model.PriceModel) (*Dataset, error) {
	if step <= 0 || timeutil.Timestamp(step) >= start || start >= end {
		return nil, fmt.Errorf("invalid eval range: need 0 < step < start < end, got step=%v start=%d end=%d", step, start, end)
	}

	ds := &Dataset{}
	for _, tr := range trades {
		ds.AddTrade(tr)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	tradeIdx := 0
	for ts := start; ts < end; ts = timeutil.AddTime(ts, step) {
		for tradeIdx < len(trades) && ts > trades[tradeIdx].Time {
			pm.AddTrade(trades[tradeIdx])
			tradeIdx++
		}
		est, ok := pm.EvalAtTime(ts)
		if !ok {
			est = model.PriceEstimate{}
		}
		ds.AddEval(ts, est.Price, est.Confidence)
	}
	return ds, nil
}

// GenConfig drives SyntheticTrades.
type GenConfig struct {
	Seed          int64
	TradeSeconds  int64
	TradesPerSec  int64
	MidPrice      int64
	PriceInterval float64
	// StartTS offsets every trade time. Zero picks a random time in 2020-2022.
	StartTS timeutil.Timestamp
}

// DefaultGenConfig matches the fixture generator defaults: thirty minutes of
// trades at 100 per second around a mid price of 100.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:          1,
		TradeSeconds:  30 * 60,
		TradesPerSec:  100,
		MidPrice:      100,
		PriceInterval: 10,
	}
}

func (c GenConfig) validate() error {
	switch {
	case c.TradeSeconds <= 0:
		return fmt.Errorf("trade seconds must be positive, got %d", c.TradeSeconds)
	case c.TradesPerSec <= 0:
		return fmt.Errorf("trades per second must be positive, got %d", c.TradesPerSec)
	case c.PriceInterval <= 0:
		return fmt.Errorf("price interval must be positive, got %g", c.PriceInterval)
	case float64(c.MidPrice) <= c.PriceInterval:
		return fmt.Errorf("mid price %d must exceed price interval %g", c.MidPrice, c.PriceInterval)
	}
	return nil
}

// SyntheticTrades draws uniformly spread trades with strictly increasing
// times. The first trade lands at StartTS and the last at StartTS plus
// TradeSeconds. Prices are uniform in MidPrice±PriceInterval, truncated.
func SyntheticTrades(cfg GenConfig) ([]model.Trade, error) {
	return syntheticTrades(cfg, rand.New(rand.NewSource(cfg.Seed)))
}

func syntheticTrades(cfg GenConfig, rng *rand.Rand) ([]model.Trade, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	count := int(cfg.TradeSeconds * cfg.TradesPerSec)
	totalNS := uint64(cfg.TradeSeconds) * uint64(time.Second)
	if uint64(count) > totalNS+1 {
		return nil, fmt.Errorf("%d trades do not fit in %d ns", count, totalNS)
	}

	times := make([]uint64, count)
	for i := range times {
		times[i] = uint64(rng.Float64() * float64(totalNS))
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	times[0] = 0
	times[count-1] = totalNS
	for i := 1; i < count-1; i++ {
		if times[i] <= times[i-1] {
			times[i] = times[i-1] + 1
		}
	}
	// Spill any collisions pushed into the last slot back down
	for i := count - 2; i > 0 && times[i] >= times[i+1]; i-- {
		times[i] = times[i+1] - 1
	}

	start := cfg.StartTS
	if start == 0 {
		start = randomStart(rng)
	}

	trades := make([]model.Trade, count)
	for i := range trades {
		offset := (rng.Float64()*2 - 1) * cfg.PriceInterval
		trades[i] = model.Trade{
			Price: cfg.MidPrice + int64(offset),
			Time:  timeutil.AddTime(start, time.Duration(times[i])),
		}
	}
	return trades, nil
}

// GenerateDataset builds synthetic trades and evaluates newModel over them.
// The eval window starts and ends within a tenth of the trade span of the
// first and last trade, stepping by step.
func GenerateDataset(cfg GenConfig, step time.Duration, newModel func() model.PriceModel) (*Dataset, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	trades, err := syntheticTrades(cfg, rng)
	if err != nil {
		return nil, err
	}
	first, last := trades[0].Time, trades[len(trades)-1].Time
	jitter := int64(timeutil.DiffTimes(last, first) / 10)
	if jitter <= 0 {
		return nil, fmt.Errorf("trade span too short for an eval window")
	}
	shift := func(ts timeutil.Timestamp) timeutil.Timestamp {
		return timeutil.AddTime(ts, time.Duration(rng.Int63n(2*jitter+1)-jitter))
	}
	return Generate(trades, shift(first), shift(last), step, newModel())
}

// randomStart picks a whole-second time between 2020 and 2022.
func randomStart(rng *rand.Rand) timeutil.Timestamp {
	t := time.Date(
		2020+rng.Intn(3),
		time.Month(1+rng.Intn(12)),
		1+rng.Intn(27),
		rng.Intn(24), rng.Intn(60), rng.Intn(60), 0, time.UTC,
	)
	return timeutil.FromTime(t)
}
