// Package harness replays recorded trades and evaluation times through a
// price model and checks each result against expected values.
//
// A Dataset is five aligned columns: trade times and prices, and evaluation
// times with the expected price and confidence at each. Columns can come from
// memory, raw little-endian binary files, CSV files or SQLite.
package harness

import (
	"fmt"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
)

// Dataset holds trade input and expected evaluation output.
// An expected price and confidence of zero means "no estimate".
type Dataset struct {
	TradeTimes  []timeutil.Timestamp
	TradePrices []int64
	EvalTimes   []timeutil.Timestamp
	EvalPrices  []int64
	EvalConfs   []float64
}

// AddTrade appends a trade row.
func (d *Dataset) AddTrade(t model.Trade) {
	d.TradeTimes = append(d.TradeTimes, t.Time)
	d.TradePrices = append(d.TradePrices, t.Price)
}

// AddEval appends an expected evaluation row.
func (d *Dataset) AddEval(ts timeutil.Timestamp, price int64, conf float64) {
	d.EvalTimes = append(d.EvalTimes, ts)
	d.EvalPrices = append(d.EvalPrices, price)
	d.EvalConfs = append(d.EvalConfs, conf)
}

// Trades zips the trade columns.
func (d *Dataset) Trades() []model.Trade {
	out := make([]model.Trade, len(d.TradeTimes))
	for i := range d.TradeTimes {
		out[i] = model.Trade{Price: d.TradePrices[i], Time: d.TradeTimes[i]}
	}
	return out
}

// Validate checks column alignment and ordering.
func (d *Dataset) Validate() error {
	if len(d.TradeTimes) != len(d.TradePrices) {
		return fmt.Errorf("trade columns misaligned: %d times, %d prices", len(d.TradeTimes), len(d.TradePrices))
	}
	if len(d.EvalTimes) != len(d.EvalPrices) || len(d.EvalTimes) != len(d.EvalConfs) {
		return fmt.Errorf("eval columns misaligned: %d times, %d prices, %d intervals",
			len(d.EvalTimes), len(d.EvalPrices), len(d.EvalConfs))
	}
	for i := 1; i < len(d.TradeTimes); i++ {
		if d.TradeTimes[i] < d.TradeTimes[i-1] {
			return fmt.Errorf("trade %d out of order: %d < %d", i, d.TradeTimes[i], d.TradeTimes[i-1])
		}
	}
	for i := range d.EvalTimes {
		if i > 0 && d.EvalTimes[i] < d.EvalTimes[i-1] {
			return fmt.Errorf("eval %d out of order: %d < %d", i, d.EvalTimes[i], d.EvalTimes[i-1])
		}
		if d.EvalConfs[i] < 0 {
			return fmt.Errorf("eval %d has negative interval %f", i, d.EvalConfs[i])
		}
	}
	return nil
}
