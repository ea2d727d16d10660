package volatility

import (
	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
)

// Fixed always reports the same volatility and ignores trades.
// A zero Fixed reports no estimate.
type Fixed struct {
	Value float64
	Valid bool
}

var _ model.VolatilityModel = Fixed{}

// NewFixed returns a stub that always answers v.
func NewFixed(v float64) Fixed { return Fixed{Value: v, Valid: true} }

func (Fixed) AddTrade(model.Trade) {}

func (f Fixed) EvalAtTime(timeutil.Timestamp) (float64, bool) {
	return f.Value, f.Valid
}
