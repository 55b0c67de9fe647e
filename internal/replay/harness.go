// Package replay drives the per-bar engine over historical bars and computes
// performance, walk-forward and Monte Carlo reports from the resulting ledger.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"ReversionBot/internal/collector"
	"ReversionBot/internal/engine"

	"github.com/rs/zerolog"
)

// Options controls checkpointing and early stop.
type Options struct {
	CheckpointPath  string
	CheckpointEvery int // decision bars; 0 saves only at the end
	Resume          bool
	MaxBars         int // stop after this many decision bars; 0 runs to the end of data
	Seed            uint64
}

// Harness runs one replay. The loop is strictly sequential: each bar is
// fully processed before the next one is read.
type Harness struct {
	Collector *collector.Collector
	Engine    *engine.Engine
	Opts      Options
	log       zerolog.Logger
}

func NewHarness(col *collector.Collector, eng *engine.Engine, opts Options, log zerolog.Logger) *Harness {
	return &Harness{Collector: col, Engine: eng, Opts: opts, log: log}
}

// Run replays until the data ends, MaxBars is reached or ctx is cancelled.
// Cancellation is honoured between bars and leaves a checkpoint behind.
func (h *Harness) Run(ctx context.Context) (Report, error) {
	var resume *Checkpoint
	if h.Opts.Resume && h.Opts.CheckpointPath != "" {
		cp, ok, err := LoadCheckpoint(h.Opts.CheckpointPath)
		if err != nil {
			return Report{}, err
		}
		if ok {
			if cp.Source != h.Collector.Feed.Name() || cp.Seed != h.Opts.Seed {
				return Report{}, fmt.Errorf("checkpoint was taken on %s seed %d, not %s seed %d",
					cp.Source, cp.Seed, h.Collector.Feed.Name(), h.Opts.Seed)
			}
			resume = &cp
			h.log.Info().Int("bar", cp.State.Bars).Int("trades", len(cp.State.Trades)).Msg("resuming from checkpoint")
		}
	}
	restored := resume == nil
	if resume != nil && resume.State.Bars == 0 {
		if err := h.Engine.Restore(resume.State); err != nil {
			return Report{}, err
		}
		restored = true
	}

	stopped := false
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			if restored {
				h.checkpoint()
			}
			return h.report(true), err
		}
		ev, err := h.Collector.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return h.report(false), fmt.Errorf("replay bar %d: %w", h.Engine.Bars(), err)
		}

		if !restored {
			if err := h.Engine.Warm(ev); err != nil {
				return Report{}, fmt.Errorf("rebuild to checkpoint: %w", err)
			}
			if h.Engine.Bars() == resume.State.Bars {
				if err := h.Engine.Restore(resume.State); err != nil {
					return Report{}, err
				}
				restored = true
			}
			continue
		}

		if _, err := h.Engine.OnBar(ctx, ev); err != nil {
			return h.report(false), fmt.Errorf("replay bar %d: %w", h.Engine.Bars(), err)
		}
		bars := h.Engine.Bars()
		if h.Opts.CheckpointEvery > 0 && bars%h.Opts.CheckpointEvery == 0 {
			h.checkpoint()
		}
		if h.Opts.MaxBars > 0 && bars >= h.Opts.MaxBars {
			stopped = true
			break
		}
	}
	if !restored {
		return Report{}, fmt.Errorf("data ended after %d bars, before checkpoint bar %d", h.Engine.Bars(), resume.State.Bars)
	}
	h.checkpoint()

	r := h.report(stopped)
	h.log.Info().Int("bars", r.Bars).Int("trades", r.Trades).Float64("pnl", r.TotalPnL).
		Dur("elapsed", time.Since(start)).Msg("replay finished")
	return r, nil
}

func (h *Harness) checkpoint() {
	if h.Opts.CheckpointPath == "" {
		return
	}
	cp := Checkpoint{
		Source:  h.Collector.Feed.Name(),
		Seed:    h.Opts.Seed,
		State:   h.Engine.State(),
		SavedAt: time.Now().UTC(),
	}
	if err := SaveCheckpoint(h.Opts.CheckpointPath, cp); err != nil {
		h.log.Error().Err(err).Msg("checkpoint")
		return
	}
	h.log.Debug().Int("bar", cp.State.Bars).Msg("checkpoint saved")
}

func (h *Harness) report(stopped bool) Report {
	state := h.Engine.Fund.GetState()
	r := NewReport(h.Engine.Trades(), h.Engine.Fund.Rules().ReferenceBalance, h.Engine.Blocks())
	r.Bars = h.Engine.Bars()
	r.BreakerTripped = state.BreakerTripped
	r.Stopped = stopped
	return r
}
