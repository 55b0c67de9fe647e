package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"ReversionBot/internal/fund"
	"ReversionBot/internal/model"
)

// ErrNoTrades is returned by the validation harnesses for an empty ledger.
var ErrNoTrades = errors.New("no trades in ledger")

// Breakdown is the performance of a subset of trades.
type Breakdown struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	PnL     float64 `json:"pnl"`
}

func (b *Breakdown) add(t model.Trade) {
	b.Trades++
	if t.Won {
		b.Wins++
	}
	b.PnL += t.PnL
	b.WinRate = float64(b.Wins) / float64(b.Trades)
}

// Report summarises a trade ledger.
type Report struct {
	Bars                 int                  `json:"bars"`
	Trades               int                  `json:"trades"`
	Wins                 int                  `json:"wins"`
	Losses               int                  `json:"losses"`
	WinRate              float64              `json:"win_rate"`
	TotalPnL             float64              `json:"total_pnl"`
	AvgPnL               float64              `json:"avg_pnl"`
	Sharpe               float64              `json:"sharpe"`
	MaxDrawdown          float64              `json:"max_drawdown"`
	MaxDrawdownPct       float64              `json:"max_drawdown_pct"`
	MaxConsecutiveLosses int                  `json:"max_consecutive_losses"`
	StartBalance         float64              `json:"start_balance"`
	EndBalance           float64              `json:"end_balance"`
	BreakerTripped       bool                 `json:"breaker_tripped"`
	Stopped              bool                 `json:"stopped,omitempty"`
	BySignal             map[string]Breakdown `json:"by_signal"`
	ByRegime             map[string]Breakdown `json:"by_regime"`
	Blocks               map[string]int       `json:"blocks"`
}

// NewReport computes ledger statistics. Sharpe is per trade: mean PnL over
// the sample standard deviation of PnL, zero with fewer than two trades or no
// dispersion. Drawdown is measured on the equity curve starting at start;
// the percentage is relative to the running peak.
func NewReport(trades []model.Trade, start float64, blocks map[string]int) Report {
	r := Report{
		Trades:       len(trades),
		StartBalance: start,
		EndBalance:   start,
		BySignal:     make(map[string]Breakdown),
		ByRegime:     make(map[string]Breakdown),
		Blocks:       make(map[string]int, len(blocks)),
	}
	for k, v := range blocks {
		r.Blocks[k] = v
	}

	balance, peak := start, start
	streak := 0
	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
		r.TotalPnL += t.PnL
		if t.Won {
			r.Wins++
			streak = 0
		} else {
			r.Losses++
			streak++
			r.MaxConsecutiveLosses = max(r.MaxConsecutiveLosses, streak)
		}

		balance += t.PnL
		peak = math.Max(peak, balance)
		if dd := peak - balance; dd > r.MaxDrawdown {
			r.MaxDrawdown = dd
			if peak > 0 {
				r.MaxDrawdownPct = dd / peak * 100
			}
		}

		b := r.BySignal[string(t.SignalType)]
		b.add(t)
		r.BySignal[string(t.SignalType)] = b
		for _, tag := range t.RegimeTags {
			b := r.ByRegime[tag]
			b.add(t)
			r.ByRegime[tag] = b
		}
	}
	r.EndBalance = balance
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
		r.AvgPnL = r.TotalPnL / float64(r.Trades)
	}
	if mean, sd := meanStd(pnls); sd > 0 {
		r.Sharpe = mean / sd
	}
	return r
}

// meanStd returns the mean and sample standard deviation.
func meanStd(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bars processed:        %d\n", r.Bars)
	fmt.Fprintf(&b, "Trades:                %d (%d won, %d lost)\n", r.Trades, r.Wins, r.Losses)
	fmt.Fprintf(&b, "Win rate:              %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "Total PnL:             %.4f\n", r.TotalPnL)
	fmt.Fprintf(&b, "Average PnL:           %.4f\n", r.AvgPnL)
	fmt.Fprintf(&b, "Sharpe (per trade):    %.4f\n", r.Sharpe)
	fmt.Fprintf(&b, "Max drawdown:          %.4f (%.2f%%)\n", r.MaxDrawdown, r.MaxDrawdownPct)
	fmt.Fprintf(&b, "Max consecutive loss:  %d\n", r.MaxConsecutiveLosses)
	fmt.Fprintf(&b, "Balance:               %.4f -> %.4f\n", r.StartBalance, r.EndBalance)
	if r.BreakerTripped {
		b.WriteString("Circuit breaker:       TRIPPED\n")
	}
	writeBreakdowns(&b, "By signal", r.BySignal)
	writeBreakdowns(&b, "By regime", r.ByRegime)
	if len(r.Blocks) > 0 {
		b.WriteString("Blocked / skipped:\n")
		for _, k := range sortedKeys(r.Blocks) {
			fmt.Fprintf(&b, "  %-16s %d\n", k, r.Blocks[k])
		}
	}
	return b.String()
}

func writeBreakdowns(b *strings.Builder, title string, m map[string]Breakdown) {
	if len(m) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for _, k := range sortedKeys(m) {
		v := m[k]
		fmt.Fprintf(b, "  %-16s trades=%-5d win=%.2f%% pnl=%.4f\n", k, v.Trades, v.WinRate*100, v.PnL)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteJSON writes any report as indented JSON, atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return fund.WriteFileAtomic(path, data)
}
