package strategy

import (
	"errors"

	"ReversionBot/internal/model"

	"github.com/rs/zerolog"
)

// State is the decision state machine position.
type State string

const (
	StateIdle          State = "IDLE"
	StateEvaluating    State = "EVALUATING"
	StateSignalEmitted State = "SIGNAL_EMITTED"
	StateBlocked       State = "BLOCKED"
)

// Machine applies the one-bar lag: the snapshot of the bar that just closed is
// held back and only feeds the decision made when the following bar closes.
//
// A direction fires once per excursion into its RSI zone. After emitting YES,
// further YES signals are withheld (ZONE_HELD) until the prior RSI leaves the
// buy zone, and likewise for NO.
type Machine struct {
	cfg      Config
	confirm  Confirmer
	state    State
	held     model.SignalType
	prior    *model.Snapshot
	priorHTF *model.Snapshot
	log      zerolog.Logger
}

// NewMachine creates an idle machine. confirm may be nil.
func NewMachine(cfg Config, confirm Confirmer, log zerolog.Logger) *Machine {
	return &Machine{cfg: cfg, confirm: confirm, state: StateIdle, log: log}
}

// State returns where the last Step ended.
func (m *Machine) State() State { return m.state }

// Held returns the direction currently withheld until its zone is left.
func (m *Machine) Held() model.SignalType { return m.held }

// Step decides for the bar that just closed using the previous bar's snapshot,
// then stores snap (and the latest confirmation snapshot, if any) for the next bar.
func (m *Machine) Step(bar model.Bar, snap model.Snapshot, htf *model.Snapshot) model.Signal {
	m.state = StateEvaluating
	sig := m.evaluate(bar)
	sig.Strike = bar.Close

	switch {
	case sig.Actionable():
		m.state = StateSignalEmitted
	case len(sig.Blocks) > 0:
		m.state = StateBlocked
	default:
		m.state = StateIdle
	}

	m.Observe(snap, htf)

	m.log.Debug().Time("decision_time", sig.DecisionTime).Str("signal", string(sig.Type)).
		Str("reason", string(sig.Reason)).Float64("rsi", sig.RSI).Str("trend", string(sig.Trend)).
		Str("state", string(m.state)).Msg("decision")
	return sig
}

// Observe stores a snapshot as the prior for the next decision without deciding.
func (m *Machine) Observe(snap model.Snapshot, htf *model.Snapshot) {
	s := snap
	m.prior = &s
	if htf != nil {
		h := *htf
		m.priorHTF = &h
	}
}

func (m *Machine) evaluate(bar model.Bar) model.Signal {
	blocked := func(reason model.ReasonCode) model.Signal {
		return model.Signal{
			DecisionTime: bar.CloseTime(),
			Type:         model.SignalNone,
			Reason:       reason,
			Blocks:       []model.ReasonCode{reason},
		}
	}
	if m.prior == nil {
		return blocked(model.ReasonWarmup)
	}
	in, err := NewSignalInput(*m.prior, bar)
	if err != nil {
		reason := model.ReasonWarmup
		if !errors.Is(err, ErrWarmup) {
			m.log.Error().Err(err).Msg("rejected signal input")
			reason = model.ReasonLookahead
		}
		sig := blocked(reason)
		sig.SnapshotTime = m.prior.BarTime
		sig.RSI = m.prior.RSI
		return sig
	}
	if m.priorHTF != nil {
		if in, err = in.WithConfirmation(*m.priorHTF); err != nil {
			m.log.Error().Err(err).Msg("rejected confirmation snapshot")
		}
	}

	if m.held != "" && zoneOf(in.Prior(), m.cfg) != m.held {
		m.held = ""
	}
	sig := Decide(in, m.cfg, m.confirm)
	if sig.Actionable() {
		if sig.Type == m.held {
			sig.Type = model.SignalNone
			sig.Reason = model.ReasonZoneHeld
			sig.Blocks = []model.ReasonCode{model.ReasonZoneHeld}
			sig.Edge = 0
			return sig
		}
		m.held = sig.Type
	}
	return sig
}

// zoneOf reports which threshold zone the snapshot RSI sits in, ignoring filters.
func zoneOf(s model.Snapshot, cfg Config) model.SignalType {
	th, ok := cfg.For(TrendGate(s))
	switch {
	case !ok:
		return model.SignalNone
	case s.RSI < th.Buy:
		return model.SignalYes
	case s.RSI > th.Sell:
		return model.SignalNo
	}
	return model.SignalNone
}

// Restore seeds the machine with the state it held after a bar, for resume.
func (m *Machine) Restore(prior model.Snapshot, htf *model.Snapshot, held model.SignalType) {
	m.prior = nil
	m.priorHTF = nil
	m.Observe(prior, htf)
	m.held = held
	m.state = StateIdle
}
