package config

import (
	"flag"
	"fmt"
	"strconv"
	"time"
)

// RegisterModelFlags binds the estimator settings onto fs. Each flag defaults
// to the value already loaded into c, so flags override the environment.
func (c *Config) RegisterModelFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Lookback, "lookback", c.Lookback, "Candle pairs in the volatility window")
	fs.Func("candle-secs", fmt.Sprintf("Candle duration in seconds (default %d)", int64(c.CandleDuration/time.Second)),
		durationFlag(&c.CandleDuration, time.Second))
	fs.Float64Var(&c.MinConfidence, "min-interval", c.MinConfidence, "Confidence floor in price units")
	fs.Func("min-slot-ms", fmt.Sprintf("Minimum elapsed time and eval step in ms (default %d)", c.MinSlot.Milliseconds()),
		durationFlag(&c.MinSlot, time.Millisecond))
	fs.Func("timeout-ms", fmt.Sprintf("Staleness timeout in ms (default %d)", c.Timeout.Milliseconds()),
		durationFlag(&c.Timeout, time.Millisecond))
	fs.Float64Var(&c.InitVolatility, "init-volatility", c.InitVolatility, "Volatility used until the window is full")
}

func durationFlag(dst *time.Duration, unit time.Duration) func(string) error {
	return func(s string) error {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*dst = time.Duration(n) * unit
		return nil
	}
}
