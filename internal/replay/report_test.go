package replay

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ReversionBot/internal/model"
)

func ledger(pnls ...float64) []model.Trade {
	trades := make([]model.Trade, len(pnls))
	for i, p := range pnls {
		side := model.SignalYes
		if i%2 == 1 {
			side = model.SignalNo
		}
		trades[i] = model.Trade{
			ID:         string(rune('a' + i)),
			SignalType: side,
			EntryTime:  t0.Add(time.Duration(i) * time.Hour),
			ExitTime:   t0.Add(time.Duration(i)*time.Hour + 15*time.Minute),
			PnL:        p,
			Won:        p > 0,
			RegimeTags: []string{"trend=DOWN", "vol=NORMAL"},
		}
	}
	return trades
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewReport(t *testing.T) {
	r := NewReport(ledger(1, -0.5, -0.5, 2), 10, map[string]int{"VOLATILITY": 3})
	if r.Trades != 4 || r.Wins != 2 || r.Losses != 2 || !near(r.WinRate, 0.5) {
		t.Errorf("counts = %+v", r)
	}
	if !near(r.TotalPnL, 2) || !near(r.AvgPnL, 0.5) || !near(r.EndBalance, 12) {
		t.Errorf("pnl total=%v avg=%v end=%v", r.TotalPnL, r.AvgPnL, r.EndBalance)
	}
	if !near(r.MaxDrawdown, 1) || !near(r.MaxDrawdownPct, 100.0/11) {
		t.Errorf("drawdown = %v (%v%%)", r.MaxDrawdown, r.MaxDrawdownPct)
	}
	if r.MaxConsecutiveLosses != 2 {
		t.Errorf("max consecutive losses = %d", r.MaxConsecutiveLosses)
	}
	if !near(r.Sharpe, 0.5/math.Sqrt(1.5)) {
		t.Errorf("sharpe = %v", r.Sharpe)
	}
	if y := r.BySignal["YES"]; y.Trades != 2 || y.Wins != 1 || !near(y.PnL, 0.5) {
		t.Errorf("YES breakdown = %+v", y)
	}
	if d := r.ByRegime["trend=DOWN"]; d.Trades != 4 {
		t.Errorf("regime breakdown = %+v", d)
	}
	if r.Blocks["VOLATILITY"] != 3 {
		t.Errorf("blocks = %v", r.Blocks)
	}
	if s := r.String(); !strings.Contains(s, "VOLATILITY") || !strings.Contains(s, "trend=DOWN") {
		t.Errorf("text report missing sections:\n%s", s)
	}
}

func TestNewReport_Empty(t *testing.T) {
	r := NewReport(nil, 100, nil)
	if r.Trades != 0 || r.Sharpe != 0 || r.EndBalance != 100 {
		t.Errorf("empty report = %+v", r)
	}
}

func TestWalkForward_ByCount(t *testing.T) {
	trades := ledger(1, 1, 1, 1, 1, 1, -1, 3)
	rep, err := WalkForward(context.Background(), trades, 100, WalkOptions{Windows: 4})
	if err != nil {
		t.Fatalf("walk forward: %v", err)
	}
	if len(rep.Windows) != 4 {
		t.Fatalf("windows = %d", len(rep.Windows))
	}
	for i, w := range rep.Windows {
		if w.Trades != 2 || w.Index != i {
			t.Errorf("window %d = %+v", i, w)
		}
		if !near(w.Return, 0.02) {
			t.Errorf("window %d return = %v, want 0.02", i, w.Return)
		}
	}
	if !near(rep.Stability, 0) || rep.Verdict != "STABLE" {
		t.Errorf("equal windows should have zero CV, got %v %s", rep.Stability, rep.Verdict)
	}
}

func TestWalkForward_Stability(t *testing.T) {
	// window returns 0.01, 0.03: mean 0.02, sample std sqrt(0.0002)
	rep, err := WalkForward(context.Background(), ledger(1, 3), 100, WalkOptions{Windows: 2})
	if err != nil {
		t.Fatalf("walk forward: %v", err)
	}
	if want := math.Sqrt(0.0002) / 0.02; !near(rep.Stability, want) {
		t.Errorf("stability = %v, want %v", rep.Stability, want)
	}

	rep, err = WalkForward(context.Background(), ledger(1, -1), 100, WalkOptions{Windows: 2})
	if err != nil {
		t.Fatalf("walk forward: %v", err)
	}
	if !math.IsInf(rep.Stability, 1) || rep.Verdict != "POOR" {
		t.Errorf("zero mean should give +Inf, got %v %s", rep.Stability, rep.Verdict)
	}
	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"stability":"Inf"`) {
		t.Errorf("json = %s", data)
	}
}

func TestWalkForward_ByMonth(t *testing.T) {
	trades := ledger(1, 2, 3)
	trades[0].ExitTime = time.Date(2024, 1, 31, 23, 45, 0, 0, time.UTC)
	trades[1].ExitTime = time.Date(2024, 2, 1, 0, 15, 0, 0, time.UTC)
	trades[2].ExitTime = time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	rep, err := WalkForward(context.Background(), trades, 100, WalkOptions{ByMonth: true})
	if err != nil {
		t.Fatalf("walk forward: %v", err)
	}
	if len(rep.Windows) != 2 || rep.Windows[0].Label != "2024-01" || rep.Windows[1].Trades != 2 {
		t.Errorf("windows = %+v", rep.Windows)
	}
}

func TestWalkForward_Errors(t *testing.T) {
	if _, err := WalkForward(context.Background(), nil, 100, WalkOptions{}); !errors.Is(err, ErrNoTrades) {
		t.Errorf("empty ledger: %v", err)
	}
	if _, err := WalkForward(context.Background(), ledger(1), 100, WalkOptions{Windows: 6}); !errors.Is(err, ErrTooFewWindows) {
		t.Errorf("single trade: %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteJSON(path, NewReport(ledger(1, -1), 10, nil)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil || r.Trades != 2 {
		t.Errorf("round trip: %v %+v", err, r)
	}
}
