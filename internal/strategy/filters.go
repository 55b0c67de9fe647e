package strategy

import (
	"ReversionBot/internal/model"
)

// FilterResult is the outcome of the regime gates for one decision.
type FilterResult struct {
	Trend     model.Trend
	HTFTrend  model.Trend
	VolRegime model.VolRegime
	// Blocks lists every gate that vetoes both directions, in precedence order.
	Blocks   []model.ReasonCode
	BlockYes bool
	BlockNo  bool
}

// Blocked reports whether any gate vetoes both directions.
func (f FilterResult) Blocked() bool { return len(f.Blocks) > 0 }

// Allows reports whether a signal of type t may be emitted.
func (f FilterResult) Allows(t model.SignalType) bool {
	if f.Blocked() {
		return false
	}
	switch t {
	case model.SignalYes:
		return !f.BlockYes
	case model.SignalNo:
		return !f.BlockNo
	}
	return true
}

// EvaluateFilters runs every gate against the prior snapshot held by in.
// Gates are independent; all of them run so the full set of blockers is recorded.
func EvaluateFilters(in SignalInput, cfg Config) FilterResult {
	prior := in.Prior()
	res := FilterResult{
		Trend:     TrendGate(prior),
		VolRegime: ClassifyVolatility(prior.ATRRatio, cfg.LowVolFloor, cfg.VolCeiling),
	}

	if !VolatilityGate(prior, cfg.VolCeiling) {
		res.Blocks = append(res.Blocks, model.ReasonVolatility)
	}
	if !TimeOfDayGate(in.DecisionTime().UTC().Hour(), cfg.BlockedHours) {
		res.Blocks = append(res.Blocks, model.ReasonTimeOfDay)
	}
	if res.Trend == model.TrendFlat {
		res.Blocks = append(res.Blocks, model.ReasonTrendFlat)
	}
	if cfg.MTFConfirmation {
		htf, ok := in.Confirmation()
		if ok {
			res.HTFTrend = TrendGate(htf)
		}
		res.BlockYes, res.BlockNo = MTFGate(res.Trend, htf, ok)
	}
	return res
}

// TrendGate classifies the snapshot close against its EMA.
func TrendGate(s model.Snapshot) model.Trend {
	return model.TrendOf(s.Close, s.EMA)
}

// VolatilityGate passes when the ATR ratio is at or below the ceiling.
func VolatilityGate(s model.Snapshot, ceiling float64) bool {
	return s.ATRRatio <= ceiling
}

// TimeOfDayGate passes when hour is not in the blocked set.
func TimeOfDayGate(hour int, blocked []int) bool {
	for _, h := range blocked {
		if h == hour {
			return false
		}
	}
	return true
}

// MTFGate compares the decision trend with the confirmation trend.
// On disagreement only the direction that trades with the decision trend is
// blocked: NO under a DOWN trend, YES under an UP trend. A missing or
// warming-up confirmation snapshot blocks both directions.
func MTFGate(trend model.Trend, htf model.Snapshot, ok bool) (blockYes, blockNo bool) {
	if !ok || !htf.Valid {
		return true, true
	}
	htfTrend := TrendGate(htf)
	if htfTrend == trend {
		return false, false
	}
	switch trend {
	case model.TrendDown:
		return false, true
	case model.TrendUp:
		return true, false
	}
	return false, false
}

// ClassifyVolatility buckets an ATR ratio into LOW, NORMAL or HIGH.
func ClassifyVolatility(atrRatio, lowFloor, ceiling float64) model.VolRegime {
	switch {
	case atrRatio < lowFloor:
		return model.VolLow
	case atrRatio > ceiling:
		return model.VolHigh
	default:
		return model.VolNormal
	}
}
