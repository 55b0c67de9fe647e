package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ReversionBot/internal/collector"
	"ReversionBot/internal/config"
	"ReversionBot/internal/engine"
	"ReversionBot/internal/execution"
	"ReversionBot/internal/fund"
	"ReversionBot/internal/logging"
	"ReversionBot/internal/metrics"
	"ReversionBot/internal/model"
	"ReversionBot/internal/notifier"
	"ReversionBot/internal/recorder"
	"ReversionBot/internal/replay"
	"ReversionBot/internal/scheduler"
	"ReversionBot/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type options struct {
	mode       string
	configPath string
	dataFile   string
	interval   time.Duration
	resume     bool
	maxBars    int
	walkBy     string
	literal    bool
	reportJSON string
}

func main() {
	var opts options
	flag.StringVar(&opts.mode, "mode", "replay", "live | replay | walk-forward | monte-carlo")
	flag.StringVar(&opts.configPath, "config", "configs/config.yaml", "config file (CONFIG_PATH overrides)")
	flag.StringVar(&opts.dataFile, "data", "", "historical CSV for replay modes (default replay.data_file)")
	flag.DurationVar(&opts.interval, "interval", 0, "bar period of the CSV rows (default the decision interval)")
	flag.BoolVar(&opts.resume, "resume", false, "resume a replay from its checkpoint")
	flag.IntVar(&opts.maxBars, "max-bars", 0, "stop the replay after this many decision bars")
	flag.StringVar(&opts.walkBy, "walk-by", "count", "walk-forward windows: count | month")
	flag.BoolVar(&opts.literal, "literal", false, "monte carlo replays the historical trade order")
	flag.StringVar(&opts.reportJSON, "report-json", "", "also write the report as JSON to this path")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		opts.configPath = v
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("config validation")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("mode", opts.mode).Str("config", opts.configPath).Msg("ReversionBot starting")
	switch opts.mode {
	case "live":
		err = runLive(ctx, cfg, log)
	case "replay", "walk-forward", "monte-carlo":
		err = runReplay(ctx, cfg, opts, log)
	default:
		err = fmt.Errorf("unknown mode %q", opts.mode)
	}
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("ReversionBot stopped")
}

func openRecorder(cfg *config.Config, log zerolog.Logger) recorder.Recorder {
	var recs recorder.Multi
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, skipping")
		} else {
			recs = append(recs, sr)
		}
	}
	if cfg.Database.JSONLPath != "" {
		jr, err := recorder.NewJSONLRecorder(cfg.Database.JSONLPath)
		if err != nil {
			log.Warn().Err(err).Msg("init jsonl recorder failed, skipping")
		} else {
			recs = append(recs, jr)
		}
	}
	if len(recs) == 0 {
		return recorder.NewNoopRecorder()
	}
	return recs
}

func newMachine(cfg *config.Config, log zerolog.Logger) *strategy.Machine {
	var confirm strategy.Confirmer
	if cfg.Strategy.MLEndpoint != "" {
		confirm = strategy.NewProbabilityConfirmer(strategy.NewHTTPPredictor(cfg.Strategy.MLEndpoint), log)
		log.Info().Str("endpoint", cfg.Strategy.MLEndpoint).Msg("ml confirmation enabled")
	}
	return strategy.NewMachine(cfg.StrategyConfig(), confirm, log)
}

func runReplay(ctx context.Context, cfg *config.Config, opts options, log zerolog.Logger) error {
	path := opts.dataFile
	if path == "" {
		path = cfg.Replay.DataFile
	}
	if path == "" {
		return errors.New("replay needs -data or replay.data_file")
	}
	interval := opts.interval
	if interval == 0 {
		interval = cfg.Strategy.DecisionInterval
	}
	feed, err := collector.OpenCSVFeed(path, interval)
	if err != nil {
		return err
	}
	defer feed.Close()

	rec := openRecorder(cfg, log)
	defer rec.Close()

	fm := fund.NewManager(cfg.RiskRules(), log)
	eng := engine.New(cfg.Params(), newMachine(cfg, log), fm,
		execution.NewRouter(cfg.ExecutionConfig(), false, log),
		execution.FixedQuotes{Mid: cfg.Replay.EntryPrice, Spread: cfg.Replay.Spread},
		rec, log)

	col := collector.NewCollector(feed, cfg.Strategy.DecisionInterval, confirmInterval(cfg), log)
	h := replay.NewHarness(col, eng, replay.Options{
		CheckpointPath:  cfg.Replay.CheckpointFile,
		CheckpointEvery: cfg.Replay.CheckpointEvery,
		Resume:          opts.resume,
		MaxBars:         opts.maxBars,
		Seed:            cfg.Execution.RandomSeed,
	}, log)

	report, err := h.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(report.String())

	var out any = report
	switch opts.mode {
	case "walk-forward":
		wf, err := replay.WalkForward(ctx, eng.Trades(), report.StartBalance, replay.WalkOptions{
			Windows: cfg.Validation.WalkForwardWindows,
			ByMonth: opts.walkBy == "month",
			Workers: cfg.Validation.Workers,
		})
		if err != nil {
			return fmt.Errorf("walk-forward: %w", err)
		}
		fmt.Println(wf.String())
		out = wf
	case "monte-carlo":
		mc, err := replay.MonteCarlo(ctx, eng.Trades(), report.StartBalance, replay.MCOptions{
			Runs:    cfg.Validation.MonteCarloRuns,
			Trades:  cfg.Validation.MonteCarloTrades,
			Seed:    cfg.Execution.RandomSeed,
			Workers: cfg.Validation.Workers,
			Literal: opts.literal,
		})
		if err != nil {
			return fmt.Errorf("monte carlo: %w", err)
		}
		fmt.Println(mc.String())
		out = mc
	}

	if opts.reportJSON != "" {
		if err := replay.WriteJSON(opts.reportJSON, out); err != nil {
			return err
		}
		log.Info().Str("path", opts.reportJSON).Msg("report written")
	}
	return nil
}

func confirmInterval(cfg *config.Config) time.Duration {
	if !cfg.Strategy.MTFConfirmation {
		return 0
	}
	return cfg.Strategy.ConfirmInterval
}

func runLive(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr)
		defer srv.Close()
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint started")
	}

	fm := fund.NewManager(cfg.RiskRules(), log)
	if state, ok, err := fund.LoadState(cfg.Risk.StateFile); err != nil {
		return fmt.Errorf("load equity state: %w", err)
	} else if ok {
		fm.Restore(state)
		log.Info().Float64("balance", state.Balance).Bool("breaker", state.BreakerTripped).Msg("equity state restored")
	}

	var (
		client execution.OrderClient
		quotes execution.QuoteSource
	)
	if cfg.Venue.BaseURL != "" {
		vc := execution.NewVenueClient(cfg.Venue.BaseURL, cfg.Venue.APIKey, cfg.Venue.YesToken, cfg.Venue.NoToken, cfg.Proxy)
		client, quotes = vc, vc
		log.Info().Str("venue", cfg.Venue.BaseURL).Msg("live venue")
	} else {
		client = execution.NewPaperClient(cfg.Execution.RandomSeed, cfg.Execution.MakerFillProbability)
		quotes = execution.NewPaperQuotes(cfg.Replay.EntryPrice, cfg.Replay.Spread)
		log.Info().Msg("no venue configured, paper trading")
	}

	rec := openRecorder(cfg, log)
	defer rec.Close()

	eng := engine.New(cfg.Params(), newMachine(cfg, log), fm,
		execution.NewRouter(cfg.ExecutionConfig(), true, log), quotes, rec, log)
	eng.Client = client

	interval := cfg.Strategy.DecisionInterval
	rest := collector.NewKlineFetcher(cfg.Feed.RESTURL, cfg.Proxy)
	backfill, err := rest.FetchKlines(ctx, cfg.Feed.Symbol, interval, cfg.Feed.BackfillBars)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	log.Info().Int("bars", len(backfill)).Str("symbol", cfg.Feed.Symbol).Msg("backfill loaded")

	stream, err := collector.NewStreamFeed(cfg.Feed.WSURL, cfg.Feed.Symbol, interval, log)
	if err != nil {
		return err
	}
	if n := len(backfill); n > 0 {
		stream.After = backfill[n-1].OpenTime
	}
	bars := make(chan model.Bar, 64)
	streamErr := make(chan error, 1)
	go func() { streamErr <- stream.Run(ctx, bars) }()

	feed := collector.NewMultiFeed(collector.NewSliceFeed(backfill), collector.NewChannelFeed("binance-ws", bars, streamErr))
	col := collector.NewCollector(feed, interval, confirmInterval(cfg), log)
	// klines missed across a stream reconnect are refetched; an unfillable gap ends the run
	col.Fill = rest.Filler(cfg.Feed.Symbol, interval)

	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
	}
	sched := scheduler.NewScheduler(ctx, col, eng, tn, rec, cfg.Risk.StateFile, log)
	if err := sched.RegisterAll(cfg.Schedule.EquityCron, cfg.Schedule.DailyCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	log.Info().Str("symbol", cfg.Feed.Symbol).Dur("interval", interval).Msg("ReversionBot is running, press Ctrl+C to stop")
	return sched.Run(ctx, time.Now())
}
