package model

import "time"

// Bar represents a single closed candlestick. OpenTime is the left edge of the interval.
type Bar struct {
	OpenTime time.Time     `json:"open_time"`
	Interval time.Duration `json:"interval"`
	Open     float64       `json:"open"`
	High     float64       `json:"high"`
	Low      float64       `json:"low"`
	Close    float64       `json:"close"`
	Volume   float64       `json:"volume"`
}

// CloseTime is the right edge of the bar interval.
func (b Bar) CloseTime() time.Time {
	return b.OpenTime.Add(b.Interval)
}

// Quote is the top of book for one outcome token. Prices are probabilities in [0, 1].
type Quote struct {
	Bid     float64   `json:"bid"`
	Ask     float64   `json:"ask"`
	BidSize float64   `json:"bid_size"`
	AskSize float64   `json:"ask_size"`
	Time    time.Time `json:"time"`
}

// Spread returns ask minus bid.
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// Valid reports whether the quote is a usable two-sided binary book.
func (q Quote) Valid() bool {
	return q.Bid >= 0 && q.Ask > 0 && q.Ask <= 1 && q.Bid <= q.Ask
}
