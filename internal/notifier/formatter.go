package notifier

import (
	"fmt"
	"strings"
	"time"

	"ReversionBot/internal/model"
	"ReversionBot/internal/replay"
)

// FormatSignal formats an emitted signal.
func FormatSignal(sig model.Signal) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🎯 <b>Signal %s</b> | %s\n\n", sig.Type, sig.DecisionTime.UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Reason: %s\n", sig.Reason))
	b.WriteString(fmt.Sprintf("RSI: %.1f | Trend: %s", sig.RSI, sig.Trend))
	if sig.HTFTrend != "" {
		b.WriteString(fmt.Sprintf(" | 1h: %s", sig.HTFTrend))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Vol: %s (ATR %.3f%%)\n", sig.VolRegime, sig.ATRRatio*100))
	b.WriteString(fmt.Sprintf("Strike: %.2f | Edge: %.2f\n", sig.Strike, sig.Edge))
	return b.String()
}

// FormatOrder formats an order that did not fill.
func FormatOrder(o model.Order) string {
	return fmt.Sprintf("⚠️ <b>Order %s</b> %s %s %.0f @ %.2f\n%s", o.Status, o.Side, o.Mode, o.Size, o.LimitPrice, o.Reason)
}

// FormatTrade formats a settled trade with the resulting balance.
func FormatTrade(t model.Trade, state model.EquityState) string {
	var b strings.Builder
	icon, result := "✅", "WON"
	if !t.Won {
		icon, result = "❌", "LOST"
	}
	b.WriteString(fmt.Sprintf("%s <b>%s %s</b> | %s\n\n", icon, t.SignalType, result, t.ExitTime.UTC().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Strike %.2f → settle %.2f\n", t.Strike, t.SettlePrice))
	b.WriteString(fmt.Sprintf("%.0f @ %.2f (%s), fees %.4f\n", t.Size, t.EntryPrice, t.Mode, t.Fees))
	b.WriteString(fmt.Sprintf("PnL: %+.4f\n", t.PnL))
	b.WriteString(fmt.Sprintf("Balance: %.4f (drawdown %.2f%%)\n", state.Balance, state.DrawdownFraction()*100))
	return b.String()
}

// FormatBreaker formats a circuit breaker trip.
func FormatBreaker(state model.EquityState) string {
	return fmt.Sprintf("🛑 <b>Circuit breaker tripped</b>\n\nBalance: %.4f (peak %.4f)\nDrawdown: %.4f (%.2f%%)\n"+
		"New orders are halted. Send /reset to resume.",
		state.Balance, state.PeakBalance, state.CurrentDrawdown, state.DrawdownFraction()*100)
}

// FormatStatus formats the account and engine state for display.
func FormatStatus(state model.EquityState, open *model.Position, machine string, bars int) string {
	var b strings.Builder
	b.WriteString("📦 <b>Status</b>\n\n")
	b.WriteString(fmt.Sprintf("Balance: %.4f\n", state.Balance))
	b.WriteString(fmt.Sprintf("Peak: %.4f | Drawdown: %.4f (%.2f%%)\n", state.PeakBalance, state.CurrentDrawdown, state.DrawdownFraction()*100))
	b.WriteString(fmt.Sprintf("Breaker: %s\n", onOff(state.BreakerTripped)))
	b.WriteString(fmt.Sprintf("Trades: %d\n", state.TradeCount))
	b.WriteString(fmt.Sprintf("Machine: %s after %d bars\n", machine, bars))
	if open != nil {
		b.WriteString(fmt.Sprintf("Open: %s %.0f @ %.2f, strike %.2f, resolves %s\n", open.Signal.Type, open.Order.Size,
			open.Order.FillPrice, open.Signal.Strike, open.ResolvesAt.UTC().Format("15:04")))
	}
	if !state.UpdatedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Updated: %s\n", state.UpdatedAt.UTC().Format("2006-01-02 15:04")))
	}
	return b.String()
}

// FormatSummary formats a performance report over a period.
func FormatSummary(title string, r replay.Report, at time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📅 <b>%s</b> | %s\n\n", title, at.UTC().Format("2006-01-02")))
	if r.Trades == 0 {
		b.WriteString("No trades.\n")
	} else {
		b.WriteString(fmt.Sprintf("Trades: %d (win rate %.1f%%)\n", r.Trades, r.WinRate*100))
		b.WriteString(fmt.Sprintf("PnL: %+.4f (avg %+.4f)\n", r.TotalPnL, r.AvgPnL))
		b.WriteString(fmt.Sprintf("Max drawdown: %.4f (%.2f%%)\n", r.MaxDrawdown, r.MaxDrawdownPct))
		b.WriteString(fmt.Sprintf("Max losing streak: %d\n", r.MaxConsecutiveLosses))
		for _, side := range []string{"YES", "NO"} {
			if s, ok := r.BySignal[side]; ok {
				b.WriteString(fmt.Sprintf("  %s: %d trades, %.1f%%, %+.4f\n", side, s.Trades, s.WinRate*100, s.PnL))
			}
		}
	}
	if n := len(r.Blocks); n > 0 {
		total := 0
		for _, v := range r.Blocks {
			total += v
		}
		b.WriteString(fmt.Sprintf("Blocked decisions: %d\n", total))
	}
	return b.String()
}

func onOff(tripped bool) string {
	if tripped {
		return "TRIPPED"
	}
	return "ok"
}
