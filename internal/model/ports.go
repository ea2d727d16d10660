package model

import "oracle-pricemodel/internal/timeutil"

// ── Estimator Interfaces ──
// Both estimators share the same shape: trades flow in through AddTrade in
// nondecreasing time order, and EvalAtTime answers at a point in time.
// The bool result is false when no estimate is available yet; that is an
// expected state, not an error.

// VolatilityModel estimates annualized fractional volatility.
type VolatilityModel interface {
	AddTrade(trade Trade)
	EvalAtTime(now timeutil.Timestamp) (float64, bool)
}

// PriceModel estimates the current price and its confidence interval.
type PriceModel interface {
	AddTrade(trade Trade)
	EvalAtTime(now timeutil.Timestamp) (PriceEstimate, bool)
}
