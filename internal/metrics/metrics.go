package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_bars_total", Help: "Closed bars ingested"},
		[]string{"interval"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_decisions_total", Help: "Decisions by signal and reason"},
		[]string{"signal", "reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_orders_total", Help: "Orders routed by mode and final status"},
		[]string{"mode", "status"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_trades_total", Help: "Settled trades by result"},
		[]string{"result"},
	)
	EquityBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_equity_balance", Help: "Current account balance"},
	)
	DrawdownFraction = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_drawdown_fraction", Help: "Drawdown from peak as a fraction of the reference balance"},
	)
	BreakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bot_breaker_tripped", Help: "1 while the drawdown circuit breaker is latched"},
	)
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bot_feed_reconnects_total", Help: "Market data feed reconnect attempts"},
	)
	GapBarsFilled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bot_gap_bars_filled_total", Help: "Missing feed bars recovered over REST"},
	)
)

func init() {
	prometheus.MustRegister(BarsTotal, DecisionsTotal, OrdersTotal, TradesTotal,
		EquityBalance, DrawdownFraction, BreakerTripped, FeedReconnects, GapBarsFilled)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
