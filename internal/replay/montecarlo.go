package replay

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"ReversionBot/internal/model"

	"golang.org/x/sync/errgroup"
)

// MCOptions configures the bootstrap.
type MCOptions struct {
	Runs      int     // default 10000
	Trades    int     // trades per run; 0 uses the ledger length
	Seed      uint64  // run i draws from PCG(Seed, i), so results do not depend on Workers
	Workers   int     // 0 uses GOMAXPROCS
	Literal   bool    // replay the historical sequence unchanged in every run
	RuinFloor float64 // a path is ruined once balance <= RuinFloor
}

// Percentiles of terminal balance.
type Percentiles struct {
	P5  float64 `json:"p5"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P95 float64 `json:"p95"`
}

// MCReport is the distribution of outcomes over resampled ledgers.
type MCReport struct {
	Runs             int         `json:"runs"`
	TradesPerRun     int         `json:"trades_per_run"`
	Literal          bool        `json:"literal"`
	StartBalance     float64     `json:"start_balance"`
	ProbRuin         float64     `json:"prob_ruin"`
	ProbProfit       float64     `json:"prob_profit"`
	ProbDouble       float64     `json:"prob_double"`
	MeanFinal        float64     `json:"mean_final"`
	Final            Percentiles `json:"final"`
	MeanMaxDrawdown  float64     `json:"mean_max_drawdown"`
	WorstMaxDrawdown float64     `json:"worst_max_drawdown"`
}

type path struct {
	final  float64
	maxDD  float64
	ruined bool
}

// MonteCarlo resamples trade PnL with replacement and simulates equity paths
// from start. Runs are independent and spread across workers.
func MonteCarlo(ctx context.Context, trades []model.Trade, start float64, opts MCOptions) (MCReport, error) {
	if len(trades) == 0 {
		return MCReport{}, ErrNoTrades
	}
	if opts.Runs <= 0 {
		opts.Runs = 10000
	}
	n := opts.Trades
	if n <= 0 || opts.Literal {
		n = len(trades)
	}
	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}

	paths := make([]path, opts.Runs)
	w := min(workers(opts.Workers), opts.Runs)
	g, gctx := errgroup.WithContext(ctx)
	for k := 0; k < w; k++ {
		lo, hi := k*opts.Runs/w, (k+1)*opts.Runs/w
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				paths[i] = simulate(pnls, n, start, opts, uint64(i))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MCReport{}, fmt.Errorf("monte carlo: %w", err)
	}

	rep := MCReport{Runs: opts.Runs, TradesPerRun: n, Literal: opts.Literal, StartBalance: start}
	finals := make([]float64, len(paths))
	var ruined, profit, double int
	for i, p := range paths {
		finals[i] = p.final
		rep.MeanFinal += p.final
		rep.MeanMaxDrawdown += p.maxDD
		rep.WorstMaxDrawdown = math.Max(rep.WorstMaxDrawdown, p.maxDD)
		if p.ruined {
			ruined++
		}
		if p.final > start {
			profit++
		}
		if p.final > 2*start {
			double++
		}
	}
	runs := float64(opts.Runs)
	rep.MeanFinal /= runs
	rep.MeanMaxDrawdown /= runs
	rep.ProbRuin = float64(ruined) / runs
	rep.ProbProfit = float64(profit) / runs
	rep.ProbDouble = float64(double) / runs

	sort.Float64s(finals)
	rep.Final = Percentiles{
		P5:  percentile(finals, 5),
		P25: percentile(finals, 25),
		P50: percentile(finals, 50),
		P75: percentile(finals, 75),
		P95: percentile(finals, 95),
	}
	return rep, nil
}

func simulate(pnls []float64, n int, start float64, opts MCOptions, run uint64) path {
	rng := rand.New(rand.NewPCG(opts.Seed, run))
	p := path{final: start}
	peak := start
	for j := 0; j < n; j++ {
		pnl := pnls[j%len(pnls)]
		if !opts.Literal {
			pnl = pnls[rng.IntN(len(pnls))]
		}
		p.final += pnl
		peak = math.Max(peak, p.final)
		p.maxDD = math.Max(p.maxDD, peak-p.final)
		if p.final <= opts.RuinFloor {
			p.ruined = true
		}
	}
	return p
}

// percentile interpolates linearly between closest ranks of sorted xs.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func (r MCReport) String() string {
	var b strings.Builder
	mode := "bootstrap"
	if r.Literal {
		mode = "literal"
	}
	fmt.Fprintf(&b, "Monte Carlo (%s): %d runs x %d trades from %.2f\n", mode, r.Runs, r.TradesPerRun, r.StartBalance)
	fmt.Fprintf(&b, "Prob. of ruin:      %.2f%%\n", r.ProbRuin*100)
	fmt.Fprintf(&b, "Prob. of profit:    %.2f%%\n", r.ProbProfit*100)
	fmt.Fprintf(&b, "Prob. of doubling:  %.2f%%\n", r.ProbDouble*100)
	fmt.Fprintf(&b, "Mean final balance: %.4f\n", r.MeanFinal)
	fmt.Fprintf(&b, "Final p5/p25/p50/p75/p95: %.2f / %.2f / %.2f / %.2f / %.2f\n",
		r.Final.P5, r.Final.P25, r.Final.P50, r.Final.P75, r.Final.P95)
	fmt.Fprintf(&b, "Max drawdown mean/worst: %.4f / %.4f\n", r.MeanMaxDrawdown, r.WorstMaxDrawdown)
	return b.String()
}
