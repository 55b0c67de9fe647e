// Package scheduler runs the live bot: the bar loop that drives the engine,
// cron jobs for equity snapshots and the daily summary, and Telegram commands.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ReversionBot/internal/collector"
	"ReversionBot/internal/engine"
	"ReversionBot/internal/fund"
	"ReversionBot/internal/model"
	"ReversionBot/internal/notifier"
	"ReversionBot/internal/recorder"
	"ReversionBot/internal/replay"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler manages the live loop and all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Collector *collector.Collector
	Engine    *engine.Engine
	Notifier  *notifier.TelegramNotifier // nil disables alerts
	Recorder  recorder.Recorder
	StateFile string
	Ctx       context.Context

	// mu serialises the bar loop against cron jobs and commands.
	mu  sync.Mutex
	now func() time.Time
	log zerolog.Logger
}

// NewScheduler creates a new Scheduler and installs alert hooks on the engine.
func NewScheduler(ctx context.Context, col *collector.Collector, eng *engine.Engine, tn *notifier.TelegramNotifier,
	rec recorder.Recorder, stateFile string, log zerolog.Logger) *Scheduler {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	s := &Scheduler{
		Cron:      cron.New(cron.WithSeconds()),
		Collector: col,
		Engine:    eng,
		Notifier:  tn,
		Recorder:  rec,
		StateFile: stateFile,
		Ctx:       ctx,
		now:       time.Now,
		log:       log,
	}
	eng.Hooks = engine.Hooks{
		OnSignal: func(sig model.Signal) { s.alert(notifier.FormatSignal(sig)) },
		OnOrder: func(o model.Order) {
			if o.Status != model.OrderFilled {
				s.alert(notifier.FormatOrder(o))
			}
		},
		OnTrade: func(t model.Trade, state model.EquityState) {
			s.saveState(state)
			s.alert(notifier.FormatTrade(t, state))
		},
		OnBreaker: func(state model.EquityState) { s.alert(notifier.FormatBreaker(state)) },
	}
	return s
}

// RegisterAll registers the equity snapshot and daily summary tasks. An
// empty spec leaves that task disabled.
func (s *Scheduler) RegisterAll(equityCron, dailyCron string) error {
	for _, task := range []struct {
		name, spec string
		fn         func()
	}{
		{"equity", equityCron, s.equityTask},
		{"daily", dailyCron, s.dailyTask},
	} {
		if task.spec == "" {
			continue
		}
		if _, err := s.Cron.AddFunc(task.spec, task.fn); err != nil {
			return fmt.Errorf("register %s task: %w", task.name, err)
		}
		s.log.Info().Str("task", task.name).Str("spec", task.spec).Msg("cron task registered")
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// Run consumes closed bars until ctx is cancelled or the feed fails. Bars
// closing before liveFrom only warm the indicators; later bars are traded.
// A bar that has started processing always completes, so cancellation takes
// effect between bars.
func (s *Scheduler) Run(ctx context.Context, liveFrom time.Time) error {
	live := false
	for {
		ev, err := s.Collector.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info().Int("bars", s.Engine.Bars()).Msg("live loop stopped")
				return nil
			}
			return fmt.Errorf("live feed: %w", err)
		}

		s.mu.Lock()
		if ev.Bar.CloseTime().Before(liveFrom) {
			err = s.Engine.Warm(ev)
		} else {
			if !live {
				live = true
				s.log.Info().Int("warmed", s.Engine.Bars()).Time("bar", ev.Bar.OpenTime).Msg("trading live")
			}
			_, err = s.Engine.OnBar(context.WithoutCancel(ctx), ev)
		}
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("live bar %s: %w", ev.Bar.OpenTime.UTC().Format(time.RFC3339), err)
		}
	}
}

func (s *Scheduler) equityTask() {
	s.mu.Lock()
	state := s.Engine.Fund.GetState()
	s.mu.Unlock()
	state.UpdatedAt = s.now()
	if err := s.Recorder.RecordEquity(&state); err != nil {
		s.log.Error().Err(err).Msg("record equity")
	}
	s.saveState(state)
	s.log.Debug().Float64("balance", state.Balance).Msg("equity snapshot")
}

func (s *Scheduler) dailyTask() {
	now := s.now()
	s.mu.Lock()
	var recent []model.Trade
	for _, t := range s.Engine.Trades() {
		if t.ExitTime.After(now.Add(-24 * time.Hour)) {
			recent = append(recent, t)
		}
	}
	state := s.Engine.Fund.GetState()
	status := notifier.FormatStatus(state, s.Engine.OpenPosition(), string(s.Engine.Machine.State()), s.Engine.Bars())
	s.mu.Unlock()

	r := replay.NewReport(recent, state.Balance-sumPnL(recent), nil)
	s.log.Info().Int("trades", r.Trades).Float64("pnl", r.TotalPnL).Msg("daily summary")
	s.trySend(notifier.FormatSummary("Daily summary", r, now) + "\n" + status)
}

func sumPnL(trades []model.Trade) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.PnL
	}
	return sum
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch command {
	case "/status":
		return notifier.FormatStatus(s.Engine.Fund.GetState(), s.Engine.OpenPosition(),
			string(s.Engine.Machine.State()), s.Engine.Bars())
	case "/stats":
		r := replay.NewReport(s.Engine.Trades(), s.Engine.Fund.Rules().ReferenceBalance, s.Engine.Blocks())
		return notifier.FormatSummary("Stats since start", r, s.now())
	case "/reset":
		if !s.Engine.Fund.ResetBreaker() {
			return "Circuit breaker is not tripped."
		}
		s.saveState(s.Engine.Fund.GetState())
		return "✅ Circuit breaker reset. Trading resumes on the next signal."
	default:
		return "Commands:\n/status - account and engine state\n/stats - performance since start\n/reset - reset a tripped circuit breaker"
	}
}

func (s *Scheduler) saveState(state model.EquityState) {
	if s.StateFile == "" {
		return
	}
	if err := fund.SaveState(s.StateFile, state); err != nil {
		s.log.Error().Err(err).Msg("save equity state")
	}
}

// alert sends without blocking the bar loop.
func (s *Scheduler) alert(text string) {
	if s.Notifier == nil {
		return
	}
	go s.trySend(text)
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error().Err(err).Msg("send notification")
	}
}
