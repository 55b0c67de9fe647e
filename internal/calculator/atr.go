package calculator

import (
	"errors"
	"math"

	"ReversionBot/internal/model"
)

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
// Without a previous close it is simply high-low.
func TrueRange(bar model.Bar, prevClose float64, hasPrev bool) float64 {
	tr := bar.High - bar.Low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

// ATR is a streaming average true range with Wilder smoothing.
type ATR struct {
	period    int
	count     int
	prevClose float64
	value     float64
}

// NewATR creates an ATR accumulator over the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Update feeds one bar and returns the current value and whether it is warmed up.
func (a *ATR) Update(bar model.Bar) (float64, bool) {
	tr := TrueRange(bar, a.prevClose, a.count > 0)
	a.prevClose = bar.Close
	a.count++
	n := float64(a.period)
	if a.count <= a.period {
		a.value += tr / n
	} else {
		a.value = (a.value*(n-1) + tr) / n
	}
	return a.Value(), a.Ready()
}

func (a *ATR) Ready() bool { return a.count >= a.period }

// Value returns the smoothed ATR, or the partial seed average before warm-up.
func (a *ATR) Value() float64 {
	if a.count == 0 {
		return 0
	}
	if a.count < a.period {
		return a.value * float64(a.period) / float64(a.count)
	}
	return a.value
}

// CalculateATR computes the Wilder ATR over the given period.
func CalculateATR(bars []model.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(bars) < period {
		return 0, errors.New("not enough data for ATR calculation")
	}
	a := NewATR(period)
	for _, b := range bars {
		a.Update(b)
	}
	return a.Value(), nil
}
