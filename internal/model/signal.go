package model

import "time"

// SignalType is the directional intent emitted for a bar.
type SignalType string

const (
	SignalYes  SignalType = "YES"
	SignalNo   SignalType = "NO"
	SignalNone SignalType = "NONE"
)

// ReasonCode explains why a signal was emitted or withheld.
type ReasonCode string

const (
	ReasonOversold    ReasonCode = "RSI_OVERSOLD"
	ReasonOverbought  ReasonCode = "RSI_OVERBOUGHT"
	ReasonNoThreshold ReasonCode = "NO_THRESHOLD"
	ReasonWarmup      ReasonCode = "WARMUP"
	ReasonVolatility  ReasonCode = "VOLATILITY"
	ReasonTimeOfDay   ReasonCode = "TIME_OF_DAY"
	ReasonTrendFlat   ReasonCode = "TREND_FLAT"
	ReasonMTF         ReasonCode = "MTF_DISAGREE"
	ReasonMLVeto      ReasonCode = "ML_VETO"
	ReasonLookahead   ReasonCode = "LOOKAHEAD"
	ReasonZoneHeld    ReasonCode = "ZONE_HELD"
)

// Signal is the output of the decision engine for one bar.
type Signal struct {
	DecisionTime time.Time    `json:"decision_time"`
	SnapshotTime time.Time    `json:"snapshot_time"`
	Type         SignalType   `json:"type"`
	Reason       ReasonCode   `json:"reason"`
	Blocks       []ReasonCode `json:"blocks,omitempty"`
	RSI          float64      `json:"rsi"`
	Trend        Trend        `json:"trend"`
	HTFTrend     Trend        `json:"htf_trend,omitempty"`
	ATRRatio     float64      `json:"atr_ratio"`
	VolRegime    VolRegime    `json:"vol_regime,omitempty"`
	Edge         float64      `json:"edge"`
	Strike       float64      `json:"strike"`
}

// Actionable reports whether the signal asks for a position.
func (s Signal) Actionable() bool {
	return s.Type == SignalYes || s.Type == SignalNo
}

// RegimeTags labels the signal for per-regime breakdowns.
func (s Signal) RegimeTags() []string {
	tags := []string{"trend=" + string(s.Trend)}
	if s.VolRegime != "" {
		tags = append(tags, "vol="+string(s.VolRegime))
	}
	return tags
}
