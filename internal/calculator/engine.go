package calculator

import (
	"errors"
	"fmt"

	"ReversionBot/internal/model"
)

// ErrNonMonotonic is returned when a bar does not strictly follow the previous one.
var ErrNonMonotonic = errors.New("bar time not strictly increasing")

// Params configures indicator periods.
type Params struct {
	RSIPeriod int
	EMAPeriod int
	ATRPeriod int
}

// DefaultParams returns RSI(14), EMA(50), ATR(14).
func DefaultParams() Params {
	return Params{RSIPeriod: 14, EMAPeriod: 50, ATRPeriod: 14}
}

// Warmup is the number of leading bars whose snapshots are invalid.
func (p Params) Warmup() int {
	return max(p.EMAPeriod, p.RSIPeriod+1, p.ATRPeriod)
}

// Engine turns an ordered bar sequence into one Snapshot per bar.
// Its only state is the rolling accumulators, so replaying the same history
// from a cold start reproduces every snapshot.
type Engine struct {
	params Params
	rsi    *RSI
	ema    *EMA
	atr    *ATR
	count  int
	last   model.Snapshot
}

// NewEngine creates an indicator engine.
func NewEngine(p Params) *Engine {
	return &Engine{
		params: p,
		rsi:    NewRSI(p.RSIPeriod),
		ema:    NewEMA(p.EMAPeriod),
		atr:    NewATR(p.ATRPeriod),
	}
}

// Update consumes one closed bar and returns its snapshot.
func (e *Engine) Update(bar model.Bar) (model.Snapshot, error) {
	if e.count > 0 && !bar.OpenTime.After(e.last.BarTime) {
		return model.Snapshot{}, fmt.Errorf("%w: %s after %s", ErrNonMonotonic,
			bar.OpenTime.UTC().Format("2006-01-02T15:04"), e.last.BarTime.UTC().Format("2006-01-02T15:04"))
	}

	rsi, _ := e.rsi.Update(bar.Close)
	ema, _ := e.ema.Update(bar.Close)
	atr, _ := e.atr.Update(bar)
	e.count++

	snap := model.Snapshot{
		Index:     e.count - 1,
		BarTime:   bar.OpenTime,
		CloseTime: bar.CloseTime(),
		Close:     bar.Close,
		Volume:    bar.Volume,
		RSI:       rsi,
		EMA:       ema,
		ATR:       atr,
		Trend:     model.TrendOf(bar.Close, ema),
		Valid:     e.count > e.params.Warmup(),
	}
	if bar.Close > 0 {
		snap.ATRRatio = atr / bar.Close
	}
	e.last = snap
	return snap, nil
}

// Last returns the most recent snapshot and whether any bar has been seen.
func (e *Engine) Last() (model.Snapshot, bool) {
	return e.last, e.count > 0
}

// Count is the number of bars consumed.
func (e *Engine) Count() int { return e.count }
