package models

import "time"

// OHLCV is one daily price bar. AdjClose is 0 when the provider omits it.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	AdjClose  float64   `json:"adj_close,omitempty"`
}

// Price returns the split and dividend adjusted close when known, else the
// close.
func (c OHLCV) Price() float64 {
	if c.AdjClose > 0 {
		return c.AdjClose
	}
	return c.Close
}
