// Package engine runs the per-bar step shared by live trading and replay:
// settle the open position, update indicators, decide, size, route and record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ReversionBot/internal/calculator"
	"ReversionBot/internal/collector"
	"ReversionBot/internal/execution"
	"ReversionBot/internal/fund"
	"ReversionBot/internal/metrics"
	"ReversionBot/internal/model"
	"ReversionBot/internal/recorder"
	"ReversionBot/internal/strategy"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Skip keys counted alongside filter reason codes when an actionable signal does not trade.
const (
	SkipBreaker  = "BREAKER"
	SkipNoSize   = "NO_SIZE"
	SkipQuote    = "NO_QUOTE"
	SkipPosition = "POSITION_OPEN"
)

var tradeNamespace = uuid.MustParse("2b4c6d1e-7f30-4a8b-9c5d-e6f708192a3b")

// Hooks are optional callbacks for alerting. Any may be nil.
type Hooks struct {
	OnSignal  func(sig model.Signal)
	OnOrder   func(o model.Order)
	OnTrade   func(t model.Trade, state model.EquityState)
	OnBreaker func(state model.EquityState)
}

// Result describes what happened on one decision bar.
type Result struct {
	Signal model.Signal
	Order  *model.Order
	Trade  *model.Trade
}

// State is everything needed to continue a run after the last processed bar,
// apart from the indicator accumulators, which are rebuilt by warming.
type State struct {
	Bars     int               `json:"bars"`
	Equity   model.EquityState `json:"equity"`
	Open     *model.Position   `json:"open,omitempty"`
	OrderSeq int64             `json:"order_seq"`
	Held     model.SignalType  `json:"held,omitempty"`
	Trades   []model.Trade     `json:"trades"`
	Blocks   map[string]int    `json:"blocks"`
}

// Engine owns the decision path for one symbol. It is not safe for concurrent
// use; callers feed it one closed bar at a time.
type Engine struct {
	Machine  *strategy.Machine
	Fund     *fund.Manager
	Router   *execution.Router
	Quotes   execution.QuoteSource
	Client   execution.OrderClient // nil simulates fills
	Recorder recorder.Recorder
	Hooks    Hooks

	ind     *calculator.Engine
	htf     *calculator.Engine
	htfSnap *model.Snapshot
	prev    *model.Snapshot
	open    *model.Position
	bars    int
	trades  []model.Trade
	blocks  map[string]int
	log     zerolog.Logger
}

// New creates an engine. rec may be nil.
func New(params calculator.Params, m *strategy.Machine, fm *fund.Manager, r *execution.Router,
	quotes execution.QuoteSource, rec recorder.Recorder, log zerolog.Logger) *Engine {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Engine{
		Machine:  m,
		Fund:     fm,
		Router:   r,
		Quotes:   quotes,
		Recorder: rec,
		ind:      calculator.NewEngine(params),
		htf:      calculator.NewEngine(params),
		blocks:   make(map[string]int),
		log:      log,
	}
}

// Warm feeds a bar through the indicators and stores its snapshot as the
// decision prior, without deciding or trading. Used for live backfill and resume.
func (e *Engine) Warm(ev collector.Event) error {
	if err := e.contiguous(ev.Bar); err != nil {
		return err
	}
	snap, err := e.indicators(ev)
	if err != nil {
		return err
	}
	e.Machine.Observe(snap, e.htfSnap)
	e.bars++
	return nil
}

// OnBar processes one closed decision bar. The returned error is fatal for
// the run: bar ordering violations, gaps or context cancellation. Rejected
// orders, sizing refusals and recorder failures are logged and the run continues.
func (e *Engine) OnBar(ctx context.Context, ev collector.Event) (Result, error) {
	var res Result
	bar := ev.Bar
	if err := e.contiguous(bar); err != nil {
		return res, err
	}

	if e.open != nil && !bar.CloseTime().Before(e.open.ResolvesAt) {
		t := e.settle(bar)
		res.Trade = &t
	}

	prior := e.prev
	snap, err := e.indicators(ev)
	if err != nil {
		return res, err
	}
	e.bars++

	sig := e.Machine.Step(bar, snap, e.htfSnap)
	res.Signal = sig
	for _, b := range sig.Blocks {
		e.blocks[string(b)]++
	}
	metrics.DecisionsTotal.WithLabelValues(string(sig.Type), string(sig.Reason)).Inc()
	if err := e.Recorder.RecordDecision(&sig); err != nil {
		e.log.Warn().Err(err).Msg("record decision")
	}
	if !sig.Actionable() {
		return res, nil
	}
	if e.Hooks.OnSignal != nil {
		e.Hooks.OnSignal(sig)
	}

	if e.open != nil {
		e.skip(SkipPosition, sig, nil)
		return res, nil
	}
	quote, err := e.Quotes.Quote(ctx, sig.Type)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		e.skip(SkipQuote, sig, err)
		return res, nil
	}
	_, price := e.Router.Placement(quote)
	volume := 0.0
	if prior != nil {
		volume = prior.Volume
	}
	size, err := e.Fund.Size(sig, price, volume)
	if err != nil {
		key := SkipNoSize
		if errors.Is(err, fund.ErrBreakerTripped) {
			key = SkipBreaker
		}
		e.skip(key, sig, err)
		return res, nil
	}

	o := e.Router.Plan(sig, size, quote)
	if e.Client == nil {
		o = e.Router.Simulate(o, bar.Volume)
	} else {
		if err := e.Recorder.RecordOrder(&o); err != nil {
			e.log.Warn().Err(err).Msg("record order")
		}
		if o, err = e.Router.Execute(ctx, e.Client, o); err != nil {
			return res, fmt.Errorf("execute order %s: %w", o.ID, err)
		}
	}
	res.Order = &o
	if err := e.Recorder.RecordOrder(&o); err != nil {
		e.log.Warn().Err(err).Msg("record order")
	}
	if e.Hooks.OnOrder != nil {
		e.Hooks.OnOrder(o)
	}
	if o.Status == model.OrderFilled {
		e.open = &model.Position{
			Order:      o,
			Signal:     sig,
			EntryTime:  sig.DecisionTime,
			ResolvesAt: bar.CloseTime().Add(bar.Interval),
		}
	}
	return res, nil
}

// contiguous rejects a decision bar that does not open where the last one
// closed. Ordering violations are left to the indicator engine.
func (e *Engine) contiguous(bar model.Bar) error {
	if e.prev != nil && bar.OpenTime.After(e.prev.CloseTime) {
		return fmt.Errorf("decision series: %w: expected bar at %s, got %s", collector.ErrGap,
			e.prev.CloseTime.UTC().Format(time.RFC3339), bar.OpenTime.UTC().Format(time.RFC3339))
	}
	return nil
}

func (e *Engine) indicators(ev collector.Event) (model.Snapshot, error) {
	for _, cb := range ev.Confirm {
		hs, err := e.htf.Update(cb)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("confirmation series: %w", err)
		}
		e.htfSnap = &hs
	}
	snap, err := e.ind.Update(ev.Bar)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("decision series: %w", err)
	}
	e.prev = &snap
	return snap, nil
}

func (e *Engine) settle(bar model.Bar) model.Trade {
	pos := *e.open
	e.open = nil
	tripped := e.Fund.GetState().BreakerTripped
	id := uuid.NewSHA1(tradeNamespace, []byte(pos.Order.ID)).String()
	t := e.Fund.Settle(pos, bar.Close, bar.CloseTime(), id)
	e.trades = append(e.trades, t)
	state := e.Fund.GetState()

	result := "loss"
	if t.Won {
		result = "win"
	}
	metrics.TradesTotal.WithLabelValues(result).Inc()
	e.log.Info().Str("trade", t.ID).Str("side", string(t.SignalType)).Float64("strike", t.Strike).
		Float64("settle", t.SettlePrice).Float64("pnl", t.PnL).Float64("balance", t.BalanceAfter).
		Msg("position settled")
	if err := e.Recorder.RecordTrade(&t); err != nil {
		e.log.Warn().Err(err).Msg("record trade")
	}
	if e.Hooks.OnTrade != nil {
		e.Hooks.OnTrade(t, state)
	}
	if !tripped && state.BreakerTripped && e.Hooks.OnBreaker != nil {
		e.Hooks.OnBreaker(state)
	}
	return t
}

func (e *Engine) skip(key string, sig model.Signal, err error) {
	e.blocks[key]++
	ev := e.log.Info()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Time("decision_time", sig.DecisionTime).Str("signal", string(sig.Type)).Str("skip", key).
		Msg("signal not traded")
}

// Bars is the number of decision bars consumed, warmed or decided.
func (e *Engine) Bars() int { return e.bars }

// Trades returns the settled trades in order.
func (e *Engine) Trades() []model.Trade { return e.trades }

// Blocks returns counts per block reason and skip key.
func (e *Engine) Blocks() map[string]int { return e.blocks }

// OpenPosition returns the unresolved position, if any.
func (e *Engine) OpenPosition() *model.Position { return e.open }

// State captures the engine for a checkpoint.
func (e *Engine) State() State {
	st := State{
		Bars:     e.bars,
		Equity:   e.Fund.GetState(),
		OrderSeq: e.Router.Seq(),
		Held:     e.Machine.Held(),
		Trades:   append([]model.Trade(nil), e.trades...),
		Blocks:   make(map[string]int, len(e.blocks)),
	}
	if e.open != nil {
		p := *e.open
		st.Open = &p
	}
	for k, v := range e.blocks {
		st.Blocks[k] = v
	}
	return st
}

// Restore applies a checkpoint after the engine has been warmed over the
// same st.Bars bars it had processed when the checkpoint was taken.
func (e *Engine) Restore(st State) error {
	if e.bars != st.Bars {
		return fmt.Errorf("restore: engine warmed over %d bars, checkpoint has %d", e.bars, st.Bars)
	}
	e.Fund.Restore(st.Equity)
	e.Router.SetSeq(st.OrderSeq)
	if last, ok := e.ind.Last(); ok {
		e.Machine.Restore(last, e.htfSnap, st.Held)
	}
	e.open = st.Open
	e.trades = append([]model.Trade(nil), st.Trades...)
	e.blocks = make(map[string]int, len(st.Blocks))
	for k, v := range st.Blocks {
		e.blocks[k] = v
	}
	return nil
}
