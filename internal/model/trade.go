package model

import "oracle-pricemodel/internal/timeutil"

// Trade is a single fill. Price is an integer in the feed's smallest price unit
// (the same convention as paise in market data) to avoid float drift.
type Trade struct {
	Price int64              `json:"price"`
	Time  timeutil.Timestamp `json:"time"`
}
