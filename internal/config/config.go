package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"ReversionBot/internal/calculator"
	"ReversionBot/internal/execution"
	"ReversionBot/internal/fund"
	"ReversionBot/internal/strategy"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Strategy struct {
		RSIPeriod  int `yaml:"rsi_period"`
		EMAPeriod  int `yaml:"ema_period"`
		ATRPeriod  int `yaml:"atr_period"`
		Thresholds struct {
			Down strategy.Thresholds `yaml:"down"`
			Up   strategy.Thresholds `yaml:"up"`
		} `yaml:"thresholds"`
		VolFilterCeiling float64       `yaml:"vol_filter_ceiling"`
		LowVolFloor      float64       `yaml:"low_vol_floor"`
		BlockedHours     []int         `yaml:"blocked_hours"`
		MTFConfirmation  bool          `yaml:"mtf_confirmation"`
		DecisionInterval time.Duration `yaml:"decision_interval"`
		ConfirmInterval  time.Duration `yaml:"confirm_interval"`
		MLEndpoint       string        `yaml:"ml_endpoint"`
	} `yaml:"strategy"`
	Risk struct {
		ReferenceBalance       float64 `yaml:"reference_balance"`
		RiskFraction           float64 `yaml:"risk_fraction"`
		Compounding            bool    `yaml:"compounding"`
		MinSize                float64 `yaml:"min_size"`
		MinRecentVolume        float64 `yaml:"min_recent_volume"`
		DrawdownCircuitBreaker float64 `yaml:"drawdown_circuit_breaker"`
		FeeRate                float64 `yaml:"fee_rate"`
		StateFile              string  `yaml:"state_file"`
	} `yaml:"risk"`
	Execution struct {
		TakerSpreadCeiling   float64       `yaml:"taker_spread_ceiling"`
		MakerImprovement     float64       `yaml:"maker_improvement"`
		MakerFillProbability float64       `yaml:"maker_fill_probability"`
		RandomSeed           uint64        `yaml:"random_seed"`
		OrderTimeout         time.Duration `yaml:"order_timeout"`
		PollInterval         time.Duration `yaml:"poll_interval"`
	} `yaml:"execution"`
	Replay struct {
		DataFile        string  `yaml:"data_file"`
		EntryPrice      float64 `yaml:"entry_price"`
		Spread          float64 `yaml:"spread"`
		CheckpointFile  string  `yaml:"checkpoint_file"`
		CheckpointEvery int     `yaml:"checkpoint_every"`
	} `yaml:"replay"`
	Validation struct {
		WalkForwardWindows int `yaml:"walk_forward_windows"`
		MonteCarloRuns     int `yaml:"monte_carlo_runs"`
		MonteCarloTrades   int `yaml:"monte_carlo_trades"`
		Workers            int `yaml:"workers"`
	} `yaml:"validation"`
	Feed struct {
		Symbol       string `yaml:"symbol"`
		WSURL        string `yaml:"ws_url"`
		RESTURL      string `yaml:"rest_url"`
		BackfillBars int    `yaml:"backfill_bars"`
	} `yaml:"feed"`
	Venue struct {
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		YesToken string `yaml:"yes_token"`
		NoToken  string `yaml:"no_token"`
	} `yaml:"venue"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
		JSONLPath  string `yaml:"jsonl_path"`
	} `yaml:"database"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Schedule struct {
		EquityCron string `yaml:"equity_cron"`
		DailyCron  string `yaml:"daily_cron"`
	} `yaml:"schedule"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	cfg := &Config{}

	cfg.Strategy.RSIPeriod = 14
	cfg.Strategy.EMAPeriod = 50
	cfg.Strategy.ATRPeriod = 14
	cfg.Strategy.Thresholds.Down = strategy.Thresholds{Buy: 38, Sell: 58}
	cfg.Strategy.Thresholds.Up = strategy.Thresholds{Buy: 43, Sell: 62}
	cfg.Strategy.VolFilterCeiling = 0.008
	cfg.Strategy.LowVolFloor = 0.003
	cfg.Strategy.MTFConfirmation = true
	cfg.Strategy.DecisionInterval = 15 * time.Minute
	cfg.Strategy.ConfirmInterval = time.Hour

	cfg.Risk.ReferenceBalance = 100
	cfg.Risk.RiskFraction = 0.01
	cfg.Risk.MinSize = 1
	cfg.Risk.DrawdownCircuitBreaker = 0.20
	cfg.Risk.FeeRate = 0.01
	cfg.Risk.StateFile = "data/equity_state.json"

	cfg.Execution.TakerSpreadCeiling = 0.02
	cfg.Execution.MakerImprovement = 0.01
	cfg.Execution.MakerFillProbability = 0.8
	cfg.Execution.RandomSeed = 42
	cfg.Execution.OrderTimeout = 60 * time.Second
	cfg.Execution.PollInterval = 2 * time.Second

	cfg.Replay.EntryPrice = 0.50
	cfg.Replay.Spread = 0.02
	cfg.Replay.CheckpointEvery = 500

	cfg.Validation.WalkForwardWindows = 6
	cfg.Validation.MonteCarloRuns = 10000

	cfg.Feed.Symbol = "BTCUSDT"
	cfg.Feed.WSURL = "wss://stream.binance.com:9443"
	cfg.Feed.RESTURL = "https://api.binance.com"
	cfg.Feed.BackfillBars = 1000

	cfg.Metrics.Addr = ":9108"
	cfg.Schedule.EquityCron = "0 */15 * * * *"
	cfg.Schedule.DailyCron = "0 0 0 * * *"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("VENUE_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RANDOM_SEED"); v != "" {
		var seed uint64
		if _, err := fmt.Sscanf(v, "%d", &seed); err != nil {
			return nil, fmt.Errorf("RANDOM_SEED %q: %w", v, err)
		}
		cfg.Execution.RandomSeed = seed
	}

	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return fund.WriteFileAtomic(path, data)
}

// Validate checks ranges and cross-field consistency. Every problem is
// reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	s := c.Strategy
	check(s.RSIPeriod > 0 && s.EMAPeriod > 0 && s.ATRPeriod > 0,
		"strategy periods must be positive (rsi=%d ema=%d atr=%d)", s.RSIPeriod, s.EMAPeriod, s.ATRPeriod)
	for name, th := range map[string]strategy.Thresholds{"down": s.Thresholds.Down, "up": s.Thresholds.Up} {
		check(th.Buy > 0 && th.Sell < 100, "strategy.thresholds.%s must lie in (0,100)", name)
		check(th.Buy < th.Sell, "strategy.thresholds.%s: buy %.2f must be below sell %.2f", name, th.Buy, th.Sell)
	}
	check(s.VolFilterCeiling > 0, "strategy.vol_filter_ceiling must be positive")
	check(s.LowVolFloor >= 0 && s.LowVolFloor < s.VolFilterCeiling,
		"strategy.low_vol_floor must be in [0, vol_filter_ceiling)")
	seen := make(map[int]bool)
	for _, h := range s.BlockedHours {
		check(h >= 0 && h <= 23, "strategy.blocked_hours: %d outside 0..23", h)
		check(!seen[h], "strategy.blocked_hours: %d listed twice", h)
		seen[h] = true
	}
	check(s.DecisionInterval > 0, "strategy.decision_interval must be positive")
	if s.DecisionInterval > 0 {
		check(s.ConfirmInterval >= 0 && s.ConfirmInterval%s.DecisionInterval == 0,
			"strategy.confirm_interval %s must be a multiple of decision_interval %s", s.ConfirmInterval, s.DecisionInterval)
	}
	check(!s.MTFConfirmation || s.ConfirmInterval > 0, "strategy.mtf_confirmation needs a confirm_interval")

	r := c.Risk
	check(r.ReferenceBalance > 0, "risk.reference_balance must be positive")
	check(r.RiskFraction > 0 && r.RiskFraction <= 1, "risk.risk_fraction must be in (0,1]")
	check(r.DrawdownCircuitBreaker > 0 && r.DrawdownCircuitBreaker <= 1, "risk.drawdown_circuit_breaker must be in (0,1]")
	check(r.MinSize >= 0 && r.MinRecentVolume >= 0, "risk.min_size and min_recent_volume must not be negative")
	check(r.FeeRate >= 0 && r.FeeRate < 1, "risk.fee_rate must be in [0,1)")

	e := c.Execution
	check(e.TakerSpreadCeiling >= 0 && e.MakerImprovement >= 0, "execution spreads must not be negative")
	check(e.MakerFillProbability >= 0 && e.MakerFillProbability <= 1, "execution.maker_fill_probability must be in [0,1]")
	check(e.OrderTimeout > 0 && e.PollInterval > 0, "execution.order_timeout and poll_interval must be positive")

	p := c.Replay
	check(p.EntryPrice > 0 && p.EntryPrice < 1, "replay.entry_price must be in (0,1)")
	check(p.Spread >= 0 && p.EntryPrice-p.Spread/2 >= 0 && p.EntryPrice+p.Spread/2 <= 1,
		"replay.spread must keep the quote inside [0,1]")
	check(p.CheckpointEvery >= 0, "replay.checkpoint_every must not be negative")

	v := c.Validation
	check(v.WalkForwardWindows >= 2, "validation.walk_forward_windows must be at least 2")
	check(v.MonteCarloRuns > 0 && v.MonteCarloTrades >= 0 && v.Workers >= 0,
		"validation.monte_carlo_runs must be positive, trades and workers not negative")

	for name, spec := range map[string]string{"equity_cron": c.Schedule.EquityCron, "daily_cron": c.Schedule.DailyCron} {
		if spec == "" {
			continue
		}
		_, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(spec)
		check(err == nil, "schedule.%s %q: %v", name, spec, err)
	}
	check((c.Telegram.BotToken == "") == (c.Telegram.ChatID == ""),
		"telegram.bot_token and telegram.chat_id must be set together")

	return errors.Join(errs...)
}

// Params returns the indicator periods.
func (c *Config) Params() calculator.Params {
	return calculator.Params{RSIPeriod: c.Strategy.RSIPeriod, EMAPeriod: c.Strategy.EMAPeriod, ATRPeriod: c.Strategy.ATRPeriod}
}

// StrategyConfig returns the decision thresholds and filter settings.
func (c *Config) StrategyConfig() strategy.Config {
	s := c.Strategy
	return strategy.Config{
		Down:            s.Thresholds.Down,
		Up:              s.Thresholds.Up,
		VolCeiling:      s.VolFilterCeiling,
		LowVolFloor:     s.LowVolFloor,
		BlockedHours:    s.BlockedHours,
		MTFConfirmation: s.MTFConfirmation,
	}
}

// RiskRules returns the sizing and breaker rules.
func (c *Config) RiskRules() fund.Rules {
	r := c.Risk
	return fund.Rules{
		ReferenceBalance: r.ReferenceBalance,
		RiskFraction:     r.RiskFraction,
		Compounding:      r.Compounding,
		MinSize:          r.MinSize,
		MinRecentVolume:  r.MinRecentVolume,
		BreakerCeiling:   r.DrawdownCircuitBreaker,
		FeeRate:          r.FeeRate,
	}
}

// ExecutionConfig returns the router settings.
func (c *Config) ExecutionConfig() execution.Config {
	e := c.Execution
	return execution.Config{
		TakerSpreadCeiling:   e.TakerSpreadCeiling,
		MakerImprovement:     e.MakerImprovement,
		MakerFillProbability: e.MakerFillProbability,
		Seed:                 e.RandomSeed,
		OrderTimeout:         e.OrderTimeout,
		PollInterval:         e.PollInterval,
	}
}
