package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"ReversionBot/internal/model"

	"golang.org/x/sync/errgroup"
)

// ErrTooFewWindows is returned when the ledger cannot be split into two or more windows.
var ErrTooFewWindows = errors.New("walk-forward needs at least two windows")

// WalkOptions selects how the ledger is partitioned.
type WalkOptions struct {
	Windows int  // equal trade-count windows
	ByMonth bool // one window per calendar month of exit time, overrides Windows
	Workers int
}

// Window is one sequential out-of-sample slice of the ledger.
type Window struct {
	Index   int       `json:"index"`
	Label   string    `json:"label"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Trades  int       `json:"trades"`
	Wins    int       `json:"wins"`
	WinRate float64   `json:"win_rate"`
	PnL     float64   `json:"pnl"`
	Return  float64   `json:"return"`
}

// WalkForwardReport holds per-window results and the stability score, the
// coefficient of variation of window returns (sample stddev over |mean|).
// Stability is +Inf when the mean return is zero.
type WalkForwardReport struct {
	Windows    []Window `json:"windows"`
	MeanReturn float64  `json:"mean_return"`
	StdReturn  float64  `json:"std_return"`
	Stability  float64  `json:"stability"`
	Verdict    string   `json:"verdict"`
}

// MarshalJSON writes an infinite stability score as the string "Inf".
func (w WalkForwardReport) MarshalJSON() ([]byte, error) {
	type plain WalkForwardReport
	if !math.IsInf(w.Stability, 0) && !math.IsNaN(w.Stability) {
		return json.Marshal(plain(w))
	}
	return json.Marshal(struct {
		plain
		Stability string `json:"stability"`
	}{plain(w), "Inf"})
}

// WalkForward partitions the ledger into sequential non-overlapping windows
// and scores their consistency. Returns are PnL over the start balance.
func WalkForward(ctx context.Context, trades []model.Trade, start float64, opts WalkOptions) (WalkForwardReport, error) {
	if len(trades) == 0 {
		return WalkForwardReport{}, ErrNoTrades
	}
	if start <= 0 {
		return WalkForwardReport{}, fmt.Errorf("start balance %.4f must be positive", start)
	}
	var parts [][]model.Trade
	var labels []string
	if opts.ByMonth {
		parts, labels = splitByMonth(trades)
	} else {
		parts, labels = splitByCount(trades, opts.Windows)
	}
	if len(parts) < 2 {
		return WalkForwardReport{}, ErrTooFewWindows
	}

	windows := make([]Window, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.Workers))
	for i := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			windows[i] = scoreWindow(i, labels[i], parts[i], start)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WalkForwardReport{}, err
	}

	returns := make([]float64, len(windows))
	for i, w := range windows {
		returns[i] = w.Return
	}
	rep := WalkForwardReport{Windows: windows}
	rep.MeanReturn, rep.StdReturn = meanStd(returns)
	if rep.MeanReturn == 0 {
		rep.Stability = math.Inf(1)
	} else {
		rep.Stability = rep.StdReturn / math.Abs(rep.MeanReturn)
	}
	switch {
	case rep.Stability > 2:
		rep.Verdict = "POOR"
	case rep.Stability > 1:
		rep.Verdict = "MODERATE"
	default:
		rep.Verdict = "STABLE"
	}
	return rep, nil
}

func splitByCount(trades []model.Trade, n int) ([][]model.Trade, []string) {
	if n <= 0 {
		n = 6
	}
	n = min(n, len(trades))
	parts := make([][]model.Trade, n)
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = trades[i*len(trades)/n : (i+1)*len(trades)/n]
		labels[i] = fmt.Sprintf("W%d", i+1)
	}
	return parts, labels
}

func splitByMonth(trades []model.Trade) ([][]model.Trade, []string) {
	var parts [][]model.Trade
	var labels []string
	from := 0
	for i := 1; i <= len(trades); i++ {
		if i < len(trades) && sameMonth(trades[i].ExitTime, trades[from].ExitTime) {
			continue
		}
		parts = append(parts, trades[from:i])
		labels = append(labels, trades[from].ExitTime.UTC().Format("2006-01"))
		from = i
	}
	return parts, labels
}

func sameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func scoreWindow(i int, label string, trades []model.Trade, start float64) Window {
	w := Window{
		Index:  i,
		Label:  label,
		Start:  trades[0].EntryTime,
		End:    trades[len(trades)-1].ExitTime,
		Trades: len(trades),
	}
	for _, t := range trades {
		w.PnL += t.PnL
		if t.Won {
			w.Wins++
		}
	}
	w.WinRate = float64(w.Wins) / float64(w.Trades)
	w.Return = w.PnL / start
	return w
}

func workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

func (w WalkForwardReport) String() string {
	s := fmt.Sprintf("%-8s %-17s %-17s %7s %8s %10s %9s\n", "window", "start", "end", "trades", "win%", "pnl", "return%")
	for _, win := range w.Windows {
		s += fmt.Sprintf("%-8s %-17s %-17s %7d %8.2f %10.4f %9.2f\n", win.Label,
			win.Start.UTC().Format("2006-01-02 15:04"), win.End.UTC().Format("2006-01-02 15:04"),
			win.Trades, win.WinRate*100, win.PnL, win.Return*100)
	}
	s += fmt.Sprintf("Mean return: %.4f%%  Std: %.4f%%\n", w.MeanReturn*100, w.StdReturn*100)
	s += fmt.Sprintf("Stability (CV): %.4f  %s\n", w.Stability, w.Verdict)
	return s
}
