package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"ReversionBot/internal/model"

	"github.com/rs/zerolog"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

const bar15 = 15 * time.Minute

func snapAt(i int, rsi float64, trend model.Trend) model.Snapshot {
	open := t0.Add(time.Duration(i) * bar15)
	s := model.Snapshot{
		Index:     i,
		BarTime:   open,
		CloseTime: open.Add(bar15),
		Close:     100,
		RSI:       rsi,
		ATRRatio:  0.004,
		Valid:     true,
	}
	switch trend {
	case model.TrendDown:
		s.EMA = 101
	case model.TrendUp:
		s.EMA = 99
	default:
		s.EMA = 100
	}
	s.Trend = model.TrendOf(s.Close, s.EMA)
	return s
}

func barAt(i int) model.Bar {
	return model.Bar{OpenTime: t0.Add(time.Duration(i) * bar15), Interval: bar15, Open: 100, High: 101, Low: 99, Close: 100, Volume: 5}
}

func noMTF() Config {
	cfg := DefaultConfig()
	cfg.MTFConfirmation = false
	return cfg
}

func decideFor(t *testing.T, prior model.Snapshot, cfg Config) model.Signal {
	t.Helper()
	in, err := NewSignalInput(prior, barAt(prior.Index+1))
	if err != nil {
		t.Fatalf("NewSignalInput: %v", err)
	}
	return Decide(in, cfg, nil)
}

func TestDecide_ThresholdTable(t *testing.T) {
	tests := []struct {
		trend model.Trend
		rsi   float64
		want  model.SignalType
	}{
		{model.TrendDown, 37.9, model.SignalYes},
		{model.TrendDown, 38.0, model.SignalNone},
		{model.TrendDown, 58.0, model.SignalNone},
		{model.TrendDown, 58.1, model.SignalNo},
		{model.TrendUp, 42.9, model.SignalYes},
		{model.TrendUp, 43.0, model.SignalNone},
		{model.TrendUp, 62.0, model.SignalNone},
		{model.TrendUp, 62.1, model.SignalNo},
		{model.TrendFlat, 10, model.SignalNone},
		{model.TrendFlat, 90, model.SignalNone},
	}
	for _, tt := range tests {
		sig := decideFor(t, snapAt(0, tt.rsi, tt.trend), noMTF())
		if sig.Type != tt.want {
			t.Errorf("trend=%s rsi=%.1f: got %s (%s), want %s", tt.trend, tt.rsi, sig.Type, sig.Reason, tt.want)
		}
	}
}

func TestDecide_VolatilityVetoPrecedence(t *testing.T) {
	prior := snapAt(0, 20, model.TrendDown)
	prior.ATRRatio = 0.0081
	sig := decideFor(t, prior, noMTF())
	if sig.Type != model.SignalNone {
		t.Fatalf("volatility gate must veto, got %s", sig.Type)
	}
	if sig.Reason != model.ReasonVolatility {
		t.Errorf("reason = %s, want %s", sig.Reason, model.ReasonVolatility)
	}
	if len(sig.Blocks) != 1 {
		t.Errorf("expected a single blocker, got %v", sig.Blocks)
	}
	if sig.VolRegime != model.VolHigh {
		t.Errorf("vol regime = %s", sig.VolRegime)
	}
}

func TestDecide_MultipleBlockersRecorded(t *testing.T) {
	cfg := noMTF()
	prior := snapAt(0, 20, model.TrendFlat)
	prior.ATRRatio = 0.02
	cfg.BlockedHours = []int{barAt(1).CloseTime().Hour()}
	sig := decideFor(t, prior, cfg)
	want := []model.ReasonCode{model.ReasonVolatility, model.ReasonTimeOfDay, model.ReasonTrendFlat}
	if len(sig.Blocks) != len(want) {
		t.Fatalf("blocks = %v, want %v", sig.Blocks, want)
	}
	for i := range want {
		if sig.Blocks[i] != want[i] {
			t.Errorf("block %d = %s, want %s", i, sig.Blocks[i], want[i])
		}
	}
}

func TestDecide_TimeOfDay(t *testing.T) {
	cfg := noMTF()
	prior := snapAt(0, 30, model.TrendDown)
	decisionHour := barAt(1).CloseTime().UTC().Hour()
	cfg.BlockedHours = []int{decisionHour}
	if sig := decideFor(t, prior, cfg); sig.Reason != model.ReasonTimeOfDay {
		t.Errorf("expected time-of-day block, got %s", sig.Reason)
	}
	cfg.BlockedHours = []int{(decisionHour + 1) % 24}
	if sig := decideFor(t, prior, cfg); sig.Type != model.SignalYes {
		t.Errorf("expected YES outside blocked hours, got %s", sig.Type)
	}
}

func TestDecide_MTF(t *testing.T) {
	cfg := DefaultConfig()
	htfUp := snapAt(-4, 50, model.TrendUp)

	tests := []struct {
		name string
		rsi  float64
		htf  *model.Snapshot
		want model.SignalType
		why  model.ReasonCode
	}{
		{"agree YES", 30, ptr(snapAt(-4, 50, model.TrendDown)), model.SignalYes, model.ReasonOversold},
		{"agree NO", 70, ptr(snapAt(-4, 50, model.TrendDown)), model.SignalNo, model.ReasonOverbought},
		{"disagree keeps YES", 30, ptr(htfUp), model.SignalYes, model.ReasonOversold},
		{"disagree blocks NO", 70, ptr(htfUp), model.SignalNone, model.ReasonMTF},
		{"missing confirmation", 30, nil, model.SignalNone, model.ReasonMTF},
	}
	for _, tt := range tests {
		in, err := NewSignalInput(snapAt(0, tt.rsi, model.TrendDown), barAt(1))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if tt.htf != nil {
			if in, err = in.WithConfirmation(*tt.htf); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
		}
		sig := Decide(in, cfg, nil)
		if sig.Type != tt.want || sig.Reason != tt.why {
			t.Errorf("%s: got %s/%s, want %s/%s", tt.name, sig.Type, sig.Reason, tt.want, tt.why)
		}
	}
}

func ptr(s model.Snapshot) *model.Snapshot { return &s }

func TestSignalInput_Causality(t *testing.T) {
	prior := snapAt(5, 30, model.TrendDown)
	if _, err := NewSignalInput(prior, barAt(5)); !errors.Is(err, ErrLookahead) {
		t.Errorf("snapshot of the decision bar itself must be rejected, got %v", err)
	}
	if _, err := NewSignalInput(prior, barAt(6)); err != nil {
		t.Errorf("prior bar snapshot should be accepted: %v", err)
	}
	prior.Valid = false
	if _, err := NewSignalInput(prior, barAt(6)); !errors.Is(err, ErrWarmup) {
		t.Errorf("expected ErrWarmup, got %v", err)
	}

	in, _ := NewSignalInput(snapAt(5, 30, model.TrendDown), barAt(6))
	if _, err := in.WithConfirmation(snapAt(6, 50, model.TrendDown)); !errors.Is(err, ErrLookahead) {
		t.Errorf("future confirmation must be rejected, got %v", err)
	}
}

func TestDecide_Edge(t *testing.T) {
	sig := decideFor(t, snapAt(0, 19, model.TrendDown), noMTF())
	if sig.Edge != 0.5 {
		t.Errorf("edge = %v, want 0.5 (capped)", sig.Edge)
	}
	sig = decideFor(t, snapAt(0, 68.5, model.TrendUp), noMTF())
	if diff := sig.Edge - 6.5/38; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("edge = %v, want %v", sig.Edge, 6.5/38)
	}
	low := snapAt(0, 34.2, model.TrendDown)
	low.ATRRatio = 0.001
	sig = decideFor(t, low, noMTF())
	if sig.VolRegime != model.VolLow {
		t.Fatalf("vol regime = %s", sig.VolRegime)
	}
	if diff := sig.Edge - 0.1*1.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("low-vol edge = %v, want %v", sig.Edge, 0.12)
	}
}

type fixedPredictor struct {
	p   float64
	err error
}

func (f fixedPredictor) PredictUp(model.Signal) (float64, error) { return f.p, f.err }

func TestDecide_Confirmer(t *testing.T) {
	prior := snapAt(0, 30, model.TrendDown)
	in, _ := NewSignalInput(prior, barAt(1))

	veto := ConfirmFunc(func(model.Signal) (bool, bool) { return false, false })
	if sig := Decide(in, noMTF(), veto); sig.Type != model.SignalNone || sig.Reason != model.ReasonMLVeto {
		t.Errorf("expected ML veto, got %s/%s", sig.Type, sig.Reason)
	}
	base := Decide(in, noMTF(), nil)

	tests := []struct {
		p     float64
		err   error
		want  model.SignalType
		boost bool
	}{
		{0.39, nil, model.SignalNone, false},
		{0.40, nil, model.SignalYes, false},
		{0.55, nil, model.SignalYes, false},
		{0.60, nil, model.SignalYes, false},
		{0.61, nil, model.SignalYes, true},
		{0.10, errors.New("model down"), model.SignalYes, false},
	}
	for _, tt := range tests {
		c := NewProbabilityConfirmer(fixedPredictor{tt.p, tt.err}, zerolog.Nop())
		sig := Decide(in, noMTF(), c)
		if sig.Type != tt.want {
			t.Errorf("p=%.2f err=%v: got %s, want %s", tt.p, tt.err, sig.Type, tt.want)
			continue
		}
		if sig.Type == model.SignalNone {
			continue
		}
		wantEdge := base.Edge
		if tt.boost {
			wantEdge = math.Min(base.Edge*mlBoost, maxEdge)
		}
		if math.Abs(sig.Edge-wantEdge) > 1e-9 {
			t.Errorf("p=%.2f err=%v: edge = %v, want %v", tt.p, tt.err, sig.Edge, wantEdge)
		}
	}

	inNoBase, _ := NewSignalInput(snapAt(0, 70, model.TrendDown), barAt(1))
	noBase := Decide(inNoBase, noMTF(), nil)
	for _, p := range []float64{0.5, 0.39} {
		sig := Decide(inNoBase, noMTF(), NewProbabilityConfirmer(fixedPredictor{p: p}, zerolog.Nop()))
		boosted := sig.Edge > noBase.Edge+1e-9
		if sig.Type != model.SignalNo || boosted != (p < 0.4) {
			t.Errorf("NO with p=%.2f: type %s, edge %v (unconfirmed %v)", p, sig.Type, sig.Edge, noBase.Edge)
		}
	}

	if sig := Decide(inNoBase, noMTF(), NewProbabilityConfirmer(fixedPredictor{p: 0.61}, zerolog.Nop())); sig.Type != model.SignalNone {
		t.Errorf("bullish model should veto NO, got %s", sig.Type)
	}
}

func TestMachine_Scenario(t *testing.T) {
	rsis := []float64{45, 40, 37, 36, 39, 44, 60, 63, 59, 50}
	m := NewMachine(noMTF(), nil, zerolog.Nop())

	var yes, no []int
	for i, rsi := range rsis {
		sig := m.Step(barAt(i), snapAt(i, rsi, model.TrendDown), nil)
		switch sig.Type {
		case model.SignalYes:
			yes = append(yes, i)
		case model.SignalNo:
			no = append(no, i)
		}
	}
	if len(yes) != 1 || yes[0] != 3 {
		t.Errorf("YES emitted at %v, want [3]", yes)
	}
	if len(no) != 1 || no[0] != 7 {
		t.Errorf("NO emitted at %v, want [7]", no)
	}
}

func TestMachine_States(t *testing.T) {
	m := NewMachine(noMTF(), nil, zerolog.Nop())
	if m.State() != StateIdle {
		t.Fatalf("initial state = %s", m.State())
	}
	sig := m.Step(barAt(0), snapAt(0, 30, model.TrendDown), nil)
	if sig.Reason != model.ReasonWarmup || m.State() != StateBlocked {
		t.Errorf("first bar: %s/%s", sig.Reason, m.State())
	}
	sig = m.Step(barAt(1), snapAt(1, 50, model.TrendDown), nil)
	if sig.Type != model.SignalYes || m.State() != StateSignalEmitted {
		t.Errorf("second bar: %s/%s", sig.Type, m.State())
	}
	if !sig.DecisionTime.Equal(barAt(1).CloseTime()) || !sig.SnapshotTime.Equal(barAt(0).OpenTime) {
		t.Errorf("decision stamped %v from snapshot %v", sig.DecisionTime, sig.SnapshotTime)
	}
	if sig.Strike != barAt(1).Close {
		t.Errorf("strike = %v", sig.Strike)
	}
	m.Step(barAt(2), snapAt(2, 50, model.TrendDown), nil)
	if m.State() != StateIdle {
		t.Errorf("no-threshold bar should end idle, got %s", m.State())
	}
}

func TestMachine_WarmupSnapshot(t *testing.T) {
	m := NewMachine(noMTF(), nil, zerolog.Nop())
	s := snapAt(0, 10, model.TrendDown)
	s.Valid = false
	m.Step(barAt(0), s, nil)
	sig := m.Step(barAt(1), snapAt(1, 10, model.TrendDown), nil)
	if sig.Type != model.SignalNone || sig.Reason != model.ReasonWarmup {
		t.Errorf("invalid prior must not emit, got %s/%s", sig.Type, sig.Reason)
	}
}

func TestMachine_TruncationDoesNotChangePast(t *testing.T) {
	rsis := []float64{50, 30, 31, 55, 70, 72, 50, 20, 45, 65}
	run := func(n int) []model.Signal {
		m := NewMachine(noMTF(), nil, zerolog.Nop())
		var out []model.Signal
		for i := 0; i < n; i++ {
			out = append(out, m.Step(barAt(i), snapAt(i, rsis[i], model.TrendDown), nil))
		}
		return out
	}
	full := run(len(rsis))
	for n := 1; n < len(rsis); n++ {
		part := run(n)
		for i := range part {
			if part[i].Type != full[i].Type || part[i].Reason != full[i].Reason {
				t.Fatalf("truncated at %d: bar %d changed %s -> %s", n, i, full[i].Type, part[i].Type)
			}
		}
	}
}

func TestMachine_Restore(t *testing.T) {
	m := NewMachine(noMTF(), nil, zerolog.Nop())
	m.Restore(snapAt(4, 30, model.TrendDown), nil, model.SignalYes)
	sig := m.Step(barAt(5), snapAt(5, 30, model.TrendDown), nil)
	if sig.Reason != model.ReasonZoneHeld {
		t.Errorf("restored hold should suppress repeat YES, got %s", sig.Reason)
	}
}
