package model

import (
	"encoding/json"
	"time"
)

// Status mirrors the publisher-facing state of a price.
type Status string

const (
	StatusTrading Status = "trading"
	StatusUnknown Status = "unknown"
)

// Quote is a published price estimate for one symbol at one evaluation time.
type Quote struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"`
	Price      int64     `json:"price"`
	Confidence float64   `json:"confidence"`
	Status     Status    `json:"status"`
}

// NewQuote builds a quote from an estimator result. An unavailable estimate
// becomes an unknown quote with zero price and confidence.
func NewQuote(symbol string, ts time.Time, est PriceEstimate, ok bool) Quote {
	q := Quote{Symbol: symbol, TS: ts, Status: StatusUnknown}
	if ok {
		q.Price = est.Price
		q.Confidence = est.Confidence
		q.Status = StatusTrading
	}
	return q
}

// JSON returns the JSON-encoded quote (ignoring errors for hot-path usage).
func (q *Quote) JSON() []byte {
	b, _ := json.Marshal(q)
	return b
}
