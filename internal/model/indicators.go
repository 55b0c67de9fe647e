package model

import "time"

// Trend is the directional bias of price against the EMA.
type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
	TrendFlat Trend = "FLAT"
)

// TrendOf classifies a close against its EMA.
func TrendOf(close, ema float64) Trend {
	switch {
	case close < ema:
		return TrendDown
	case close > ema:
		return TrendUp
	default:
		return TrendFlat
	}
}

// VolRegime buckets the ATR ratio.
type VolRegime string

const (
	VolLow    VolRegime = "LOW"
	VolNormal VolRegime = "NORMAL"
	VolHigh   VolRegime = "HIGH"
)

// Snapshot holds the indicator values computed at the close of one bar.
// Snapshots produced during warm-up have Valid == false.
type Snapshot struct {
	Index     int       `json:"index"`
	BarTime   time.Time `json:"bar_time"`
	CloseTime time.Time `json:"close_time"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	RSI       float64   `json:"rsi"`
	EMA       float64   `json:"ema"`
	ATR       float64   `json:"atr"`
	ATRRatio  float64   `json:"atr_ratio"`
	Trend     Trend     `json:"trend"`
	Valid     bool      `json:"valid"`
}
