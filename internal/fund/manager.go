package fund

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"ReversionBot/internal/metrics"
	"ReversionBot/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrBreakerTripped is returned by Size while the drawdown breaker is latched.
	ErrBreakerTripped = errors.New("drawdown circuit breaker tripped")
	// ErrNoSize is returned when a signal cannot be sized into a tradable order.
	ErrNoSize = errors.New("NO_SIZE")
)

const settleScale = 6

// Rules configures sizing, fees and the breaker.
type Rules struct {
	ReferenceBalance float64
	RiskFraction     float64
	Compounding      bool
	MinSize          float64
	MinRecentVolume  float64
	BreakerCeiling   float64
	FeeRate          float64
}

// DefaultRules returns 1% fixed-fractional risk on a 100 reference balance with a 20% breaker.
func DefaultRules() Rules {
	return Rules{
		ReferenceBalance: 100,
		RiskFraction:     0.01,
		MinSize:          1,
		BreakerCeiling:   0.20,
		FeeRate:          0.01,
	}
}

// Manager owns the EquityState. Settlement is its only writer.
type Manager struct {
	mu    sync.Mutex
	rules Rules
	state model.EquityState
	log   zerolog.Logger
}

// NewManager starts a fresh account at the reference balance.
func NewManager(rules Rules, log zerolog.Logger) *Manager {
	m := &Manager{
		rules: rules,
		state: model.EquityState{
			Balance:          rules.ReferenceBalance,
			PeakBalance:      rules.ReferenceBalance,
			RiskFraction:     rules.RiskFraction,
			ReferenceBalance: rules.ReferenceBalance,
		},
		log: log,
	}
	m.publish()
	return m
}

// Restore replaces the equity state, for resuming from a checkpoint.
func (m *Manager) Restore(state model.EquityState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.publish()
}

// GetState returns a copy of the current equity state.
func (m *Manager) GetState() model.EquityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Rules returns the configured rules.
func (m *Manager) Rules() Rules { return m.rules }

// Size converts an actionable signal into a contract count at entryPrice.
// size = floor(balance * risk_fraction / entry_price), where balance is the
// reference balance unless compounding is enabled. recentVolume is the
// underlying volume of the snapshot bar, checked against MinRecentVolume.
func (m *Manager) Size(sig model.Signal, entryPrice, recentVolume float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.BreakerTripped {
		return 0, ErrBreakerTripped
	}
	if !sig.Actionable() {
		return 0, fmt.Errorf("%w: signal %s", ErrNoSize, sig.Type)
	}
	if entryPrice <= 0 || entryPrice >= 1 {
		return 0, fmt.Errorf("%w: entry price %.4f outside (0,1)", ErrNoSize, entryPrice)
	}
	if recentVolume < m.rules.MinRecentVolume {
		return 0, fmt.Errorf("%w: recent volume %.4f below %.4f", ErrNoSize, recentVolume, m.rules.MinRecentVolume)
	}

	balance := m.rules.ReferenceBalance
	if m.rules.Compounding {
		balance = m.state.Balance
	}
	budget := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(m.rules.RiskFraction))
	size := budget.Div(decimal.NewFromFloat(entryPrice)).Floor().InexactFloat64()
	if size < m.rules.MinSize || size <= 0 {
		return 0, fmt.Errorf("%w: size %.0f below minimum %.0f", ErrNoSize, size, m.rules.MinSize)
	}
	return size, nil
}

// Settle resolves a filled position against the underlying close at expiry
// and applies the PnL. YES wins when settle > strike, NO when settle < strike.
func (m *Manager) Settle(pos model.Position, settlePrice float64, at time.Time, tradeID string) model.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig := pos.Signal
	won := (sig.Type == model.SignalYes && settlePrice > sig.Strike) ||
		(sig.Type == model.SignalNo && settlePrice < sig.Strike)

	size := decimal.NewFromFloat(pos.Order.Size)
	price := decimal.NewFromFloat(pos.Order.FillPrice)
	cost := size.Mul(price)
	fees := cost.Mul(decimal.NewFromFloat(m.rules.FeeRate)).Round(settleScale)
	var pnl decimal.Decimal
	exit := 0.0
	if won {
		pnl = size.Sub(cost).Sub(fees)
		exit = 1
	} else {
		pnl = cost.Neg().Sub(fees)
	}
	pnl = pnl.Round(settleScale)

	balance := decimal.NewFromFloat(m.state.Balance).Add(pnl).Round(settleScale)
	m.state.Balance = balance.InexactFloat64()
	m.state.PeakBalance = math.Max(m.state.PeakBalance, m.state.Balance)
	m.state.CurrentDrawdown = decimal.NewFromFloat(m.state.PeakBalance).Sub(balance).Round(settleScale).InexactFloat64()
	m.state.TradeCount++
	m.state.UpdatedAt = at

	if !m.state.BreakerTripped && m.state.CurrentDrawdown > m.rules.BreakerCeiling*m.rules.ReferenceBalance {
		m.state.BreakerTripped = true
		m.log.Warn().Float64("drawdown", m.state.CurrentDrawdown).Float64("balance", m.state.Balance).
			Msg("drawdown circuit breaker tripped, sizing halted until manual reset")
	}
	m.publish()

	return model.Trade{
		ID:           tradeID,
		OrderID:      pos.Order.ID,
		SignalType:   sig.Type,
		Mode:         pos.Order.Mode,
		EntryTime:    pos.EntryTime,
		EntryPrice:   pos.Order.FillPrice,
		ExitTime:     at,
		ExitPrice:    exit,
		Strike:       sig.Strike,
		SettlePrice:  settlePrice,
		Size:         pos.Order.Size,
		Fees:         fees.InexactFloat64(),
		PnL:          pnl.InexactFloat64(),
		Won:          won,
		RegimeTags:   sig.RegimeTags(),
		BalanceAfter: m.state.Balance,
	}
}

// ResetBreaker clears a latched breaker and restarts drawdown tracking from the current balance.
func (m *Manager) ResetBreaker() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.BreakerTripped {
		return false
	}
	m.state.BreakerTripped = false
	m.state.PeakBalance = m.state.Balance
	m.state.CurrentDrawdown = 0
	m.log.Info().Float64("balance", m.state.Balance).Msg("drawdown circuit breaker reset")
	m.publish()
	return true
}

func (m *Manager) publish() {
	metrics.EquityBalance.Set(m.state.Balance)
	metrics.DrawdownFraction.Set(m.state.DrawdownFraction())
	if m.state.BreakerTripped {
		metrics.BreakerTripped.Set(1)
	} else {
		metrics.BreakerTripped.Set(0)
	}
}
