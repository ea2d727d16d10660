package model

// PriceEstimate is the answer to "what is the price and how uncertain is it".
// Confidence is a non-negative half-width in price units.
type PriceEstimate struct {
	Price      int64   `json:"price"`
	Confidence float64 `json:"confidence"`
}

// PriceRange accumulates the raw trade prices seen since the last evaluation.
type PriceRange struct {
	High int64
	Low  int64
}

// NewPriceRange opens a range at a single price.
func NewPriceRange(open int64) *PriceRange {
	return &PriceRange{High: open, Low: open}
}

// Add widens the range with p.
func (r *PriceRange) Add(p int64) {
	r.High = max(r.High, p)
	r.Low = min(r.Low, p)
}

// Interval is half the traded spread.
func (r *PriceRange) Interval() float64 {
	return float64(r.High-r.Low) / 2.0
}
