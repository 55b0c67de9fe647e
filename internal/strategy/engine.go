package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ReversionBot/internal/model"
)

var (
	// ErrWarmup is returned when a snapshot is not yet valid.
	ErrWarmup = errors.New("snapshot still warming up")
	// ErrLookahead is returned when a snapshot is not strictly before the decision it would feed.
	ErrLookahead = errors.New("snapshot not closed before decision bar")
)

const (
	maxEdge     = 0.5
	lowVolBoost = 1.2
	mlBoost     = 1.15
)

// Thresholds are the RSI bounds for one trend: YES below Buy, NO above Sell.
type Thresholds struct {
	Buy  float64 `yaml:"buy"`
	Sell float64 `yaml:"sell"`
}

// Config holds the decision parameters.
type Config struct {
	Down            Thresholds
	Up              Thresholds
	VolCeiling      float64
	LowVolFloor     float64
	BlockedHours    []int
	MTFConfirmation bool
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Down:            Thresholds{Buy: 38, Sell: 58},
		Up:              Thresholds{Buy: 43, Sell: 62},
		VolCeiling:      0.008,
		LowVolFloor:     0.003,
		MTFConfirmation: true,
	}
}

// For returns the thresholds for a trend. FLAT has none.
func (c Config) For(trend model.Trend) (Thresholds, bool) {
	switch trend {
	case model.TrendDown:
		return c.Down, true
	case model.TrendUp:
		return c.Up, true
	}
	return Thresholds{}, false
}

// SignalInput is the only thing Decide reads. It can only be built from a
// valid snapshot that closed no later than the decision bar opened.
type SignalInput struct {
	prior  model.Snapshot
	htf    model.Snapshot
	hasHTF bool
	at     time.Time
}

// NewSignalInput wraps the prior bar's snapshot for a decision on decisionBar.
func NewSignalInput(prior model.Snapshot, decisionBar model.Bar) (SignalInput, error) {
	if !prior.Valid {
		return SignalInput{}, ErrWarmup
	}
	if prior.CloseTime.After(decisionBar.OpenTime) {
		return SignalInput{}, fmt.Errorf("%w: snapshot closes %s, bar opens %s",
			ErrLookahead, prior.CloseTime.UTC().Format(time.RFC3339), decisionBar.OpenTime.UTC().Format(time.RFC3339))
	}
	return SignalInput{prior: prior, at: decisionBar.CloseTime()}, nil
}

// WithConfirmation attaches the higher-timeframe snapshot known at the prior close.
func (in SignalInput) WithConfirmation(htf model.Snapshot) (SignalInput, error) {
	if htf.CloseTime.After(in.prior.CloseTime) {
		return in, fmt.Errorf("%w: confirmation closes %s after prior %s",
			ErrLookahead, htf.CloseTime.UTC().Format(time.RFC3339), in.prior.CloseTime.UTC().Format(time.RFC3339))
	}
	in.htf = htf
	in.hasHTF = true
	return in, nil
}

func (in SignalInput) Prior() model.Snapshot { return in.prior }
func (in SignalInput) Confirmation() (model.Snapshot, bool) { return in.htf, in.hasHTF }
func (in SignalInput) DecisionTime() time.Time { return in.at }

// Decide is the pure decision function shared by the live loop and the replay harness.
func Decide(in SignalInput, cfg Config, confirm Confirmer) model.Signal {
	prior := in.Prior()
	f := EvaluateFilters(in, cfg)
	sig := model.Signal{
		DecisionTime: in.DecisionTime(),
		SnapshotTime: prior.BarTime,
		Type:         model.SignalNone,
		RSI:          prior.RSI,
		Trend:        f.Trend,
		HTFTrend:     f.HTFTrend,
		ATRRatio:     prior.ATRRatio,
		VolRegime:    f.VolRegime,
	}
	if f.Blocked() {
		sig.Reason = f.Blocks[0]
		sig.Blocks = f.Blocks
		return sig
	}

	th, ok := cfg.For(f.Trend)
	if !ok {
		sig.Reason = model.ReasonTrendFlat
		return sig
	}
	switch {
	case prior.RSI < th.Buy:
		sig.Type = model.SignalYes
		sig.Reason = model.ReasonOversold
		sig.Edge = (th.Buy - prior.RSI) / th.Buy
	case prior.RSI > th.Sell:
		sig.Type = model.SignalNo
		sig.Reason = model.ReasonOverbought
		sig.Edge = (prior.RSI - th.Sell) / (100 - th.Sell)
	default:
		sig.Reason = model.ReasonNoThreshold
		return sig
	}

	if !f.Allows(sig.Type) {
		sig.Type = model.SignalNone
		sig.Reason = model.ReasonMTF
		sig.Blocks = []model.ReasonCode{model.ReasonMTF}
		sig.Edge = 0
		return sig
	}

	sig.Edge = math.Min(sig.Edge, maxEdge)
	if sig.VolRegime == model.VolLow {
		sig.Edge = math.Min(sig.Edge*lowVolBoost, maxEdge)
	}
	if confirm != nil {
		ok, boost := confirm.Confirm(sig)
		if !ok {
			sig.Type = model.SignalNone
			sig.Reason = model.ReasonMLVeto
			sig.Blocks = []model.ReasonCode{model.ReasonMLVeto}
			sig.Edge = 0
			return sig
		}
		if boost {
			sig.Edge = math.Min(sig.Edge*mlBoost, maxEdge)
		}
	}
	return sig
}
