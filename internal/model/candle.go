package model

import "oracle-pricemodel/internal/timeutil"

// Candle is the high/low extreme of every trade whose time falls in
// [Start, Start+duration). Prices are widened to float64 once on entry so the
// volatility loop never converts.
type Candle struct {
	Start timeutil.Timestamp `json:"start"`
	High  float64            `json:"high"`
	Low   float64            `json:"low"`
}

// Widen extends the candle range to include price.
func (c *Candle) Widen(price float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
}
