package calculator

import (
	"errors"

	"ReversionBot/internal/model"
)

// RSI is a streaming Wilder-smoothed relative strength index.
// The first period changes seed the averages with their simple mean.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
}

// NewRSI creates an RSI accumulator over the given period.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Update feeds one close and returns the current value and whether it is warmed up.
func (r *RSI) Update(close float64) (float64, bool) {
	r.count++
	if r.count == 1 {
		r.prevClose = close
		return 50, false
	}
	change := close - r.prevClose
	r.prevClose = close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	n := float64(r.period)
	changes := r.count - 1
	if changes <= r.period {
		r.avgGain += gain / n
		r.avgLoss += loss / n
	} else {
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}
	return r.Value(), r.Ready()
}

// Ready reports whether a full period of changes has been seen.
func (r *RSI) Ready() bool {
	return r.count > r.period
}

// Value returns the RSI from the current averages, or 50 before warm-up.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 50
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// CalculateRSI computes the Wilder-smoothed RSI over the given period.
// Requires at least period+1 bars. Returns 50.0 if data is insufficient.
func CalculateRSI(bars []model.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(bars) < period+1 {
		return 50.0, nil
	}
	r := NewRSI(period)
	var v float64
	for _, b := range bars {
		v, _ = r.Update(b.Close)
	}
	return v, nil
}

func extractCloses(bars []model.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
