// Package replay drives a price model over recorded trades at a configurable
// speed and emits one quote per evaluation time.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"oracle-pricemodel/internal/harness"
	"oracle-pricemodel/internal/logger"
	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
)

// maxGap caps a single paced sleep so sparse data does not stall a replay.
const maxGap = 5 * time.Second

// Replayer feeds trades into a model and evaluates it on a schedule.
type Replayer struct {
	Symbol string
	// Speed is the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
	Speed float64
	// OnLag receives how far behind the paced schedule each evaluation ran.
	OnLag func(time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer for symbol.
func New(symbol string, speed float64) *Replayer {
	return &Replayer{Symbol: symbol, Speed: speed, sleep: sleepCtx}
}

// Schedule returns the dataset's eval times, or, when it has none, every step
// from the first trade through the last.
func Schedule(ds *harness.Dataset, step time.Duration) ([]timeutil.Timestamp, error) {
	if len(ds.EvalTimes) > 0 {
		return ds.EvalTimes, nil
	}
	if len(ds.TradeTimes) == 0 {
		return nil, fmt.Errorf("dataset has neither trades nor eval times")
	}
	if step <= 0 {
		return nil, fmt.Errorf("schedule step must be positive, got %v", step)
	}
	first, last := ds.TradeTimes[0], ds.TradeTimes[len(ds.TradeTimes)-1]
	var out []timeutil.Timestamp
	for ts := first; ts <= last; ts = timeutil.AddTime(ts, step) {
		out = append(out, ts)
	}
	return out, nil
}

// Run replays ds through pm, evaluating at each time in schedule and sending
// the quote to out. Trades strictly before an evaluation time are applied
// first, matching the harness. Returns the number of quotes emitted.
func (r *Replayer) Run(ctx context.Context, ds *harness.Dataset, schedule []timeutil.Timestamp, pm model.PriceModel, out chan<- model.Quote) (int, error) {
	if err := ds.Validate(); err != nil {
		return 0, err
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	slog.Info("replay starting", append(logger.LogWithRun(ctx),
		slog.String("symbol", r.Symbol),
		slog.Int("trades", len(ds.TradeTimes)),
		slog.Int("evals", len(schedule)),
		slog.Float64("speed", r.Speed),
	)...)

	var (
		tradeIdx int
		emitted  int
		start    = time.Now()
	)
	for i, evalTime := range schedule {
		if i > 0 && evalTime < schedule[i-1] {
			return emitted, fmt.Errorf("schedule not sorted at %d", i)
		}
		if r.Speed > 0 && i > 0 {
			gap := time.Duration(float64(timeutil.DiffTimes(evalTime, schedule[i-1])) / r.Speed)
			if err := sleep(ctx, min(gap, maxGap)); err != nil {
				slog.Info("replay cancelled", append(logger.LogWithRun(ctx), slog.Int("emitted", emitted))...)
				return emitted, err
			}
			if r.OnLag != nil {
				due := time.Duration(float64(timeutil.DiffTimes(evalTime, schedule[0])) / r.Speed)
				r.OnLag(max(time.Since(start)-due, 0))
			}
		} else if err := ctx.Err(); err != nil {
			return emitted, err
		}

		for tradeIdx < len(ds.TradeTimes) && evalTime > ds.TradeTimes[tradeIdx] {
			pm.AddTrade(model.Trade{Price: ds.TradePrices[tradeIdx], Time: ds.TradeTimes[tradeIdx]})
			tradeIdx++
		}

		est, ok := pm.EvalAtTime(evalTime)
		select {
		case out <- model.NewQuote(r.Symbol, evalTime.Time(), est, ok):
			emitted++
		case <-ctx.Done():
			return emitted, ctx.Err()
		}
	}

	slog.Info("replay completed", append(logger.LogWithRun(ctx),
		slog.Int("emitted", emitted),
		slog.Int("trades_applied", tradeIdx),
	)...)
	return emitted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
