package calculator

import (
	"errors"

	"ReversionBot/internal/model"
)

// EMA is a streaming exponential moving average with k = 2/(period+1),
// seeded with the first close.
type EMA struct {
	period int
	k      float64
	count  int
	value  float64
}

// NewEMA creates an EMA accumulator over the given period.
func NewEMA(period int) *EMA {
	return &EMA{period: period, k: 2.0 / float64(period+1)}
}

// Update feeds one close and returns the current value and whether a full period has been seen.
func (e *EMA) Update(close float64) (float64, bool) {
	e.count++
	if e.count == 1 {
		e.value = close
	} else {
		e.value = close*e.k + e.value*(1-e.k)
	}
	return e.value, e.Ready()
}

func (e *EMA) Ready() bool { return e.count >= e.period }
func (e *EMA) Value() float64 { return e.value }

// CalculateEMA computes the EMA of the closes over the given period.
func CalculateEMA(bars []model.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(bars) < period {
		return 0, errors.New("not enough data for EMA calculation")
	}
	e := NewEMA(period)
	for _, c := range extractCloses(bars) {
		e.Update(c)
	}
	return e.Value(), nil
}
