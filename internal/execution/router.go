// Package execution picks maker or taker placement and fills orders, either
// by simulation in replay or through a venue client in live mode.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"ReversionBot/internal/metrics"
	"ReversionBot/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrStaleQuote marks a taker order that could not fill because the book was stale.
var ErrStaleQuote = errors.New("stale quote")

// replayNamespace derives deterministic order IDs in replay.
var replayNamespace = uuid.MustParse("8f0e7c52-3d7a-4b7e-9a55-2f4b1c0d6e11")

// Config holds routing parameters.
type Config struct {
	TakerSpreadCeiling   float64
	MakerImprovement     float64
	MakerFillProbability float64
	Seed                 uint64
	OrderTimeout         time.Duration
	PollInterval         time.Duration
}

// DefaultConfig returns a 2 cent taker ceiling, 1 cent maker improvement and 0.8 maker fill probability.
func DefaultConfig() Config {
	return Config{
		TakerSpreadCeiling:   0.02,
		MakerImprovement:     0.01,
		MakerFillProbability: 0.8,
		Seed:                 42,
		OrderTimeout:         60 * time.Second,
		PollInterval:         2 * time.Second,
	}
}

// Router builds orders from sized signals and resolves their fills.
type Router struct {
	cfg   Config
	seq   int64
	live  bool
	sleep func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

// NewRouter creates a router. Live routers mint random order IDs; replay routers derive them from the seed.
func NewRouter(cfg Config, live bool, log zerolog.Logger) *Router {
	return &Router{cfg: cfg, live: live, sleep: sleepCtx, log: log}
}

// Seq returns the number of orders planned so far.
func (r *Router) Seq() int64 { return r.seq }

// SetSeq restores the order counter on resume.
func (r *Router) SetSeq(seq int64) { r.seq = seq }

// Placement chooses how to meet the book for a quote. Spread at or under the
// ceiling crosses at the ask (TAKER); otherwise the order rests one improvement
// above the bid (MAKER), never above the ask.
func (r *Router) Placement(quote model.Quote) (model.OrderMode, float64) {
	bid := decimal.NewFromFloat(quote.Bid)
	ask := decimal.NewFromFloat(quote.Ask)
	if ask.Sub(bid).LessThanOrEqual(decimal.NewFromFloat(r.cfg.TakerSpreadCeiling)) {
		return model.ModeTaker, quote.Ask
	}
	price := bid.Add(decimal.NewFromFloat(r.cfg.MakerImprovement))
	if price.GreaterThan(ask) {
		price = ask
	}
	return model.ModeMaker, price.InexactFloat64()
}

// Plan builds the next order for a sized signal against the outcome token's quote.
func (r *Router) Plan(sig model.Signal, size float64, quote model.Quote) model.Order {
	r.seq++
	mode, price := r.Placement(quote)
	return model.Order{
		ID:           r.orderID(),
		Seq:          r.seq,
		Side:         sig.Type,
		Mode:         mode,
		LimitPrice:   price,
		Size:         size,
		Status:       model.OrderPending,
		SnapshotTime: sig.SnapshotTime,
		CreatedAt:    sig.DecisionTime,
	}
}

// Simulate resolves a planned order in replay. Taker orders fill unless the
// execution bar traded no volume. Maker orders fill with the configured
// probability, drawn once from a generator keyed by seed and order sequence.
func (r *Router) Simulate(o model.Order, barVolume float64) model.Order {
	switch o.Mode {
	case model.ModeTaker:
		if barVolume <= 0 {
			o.Status = model.OrderExpired
			o.Reason = ErrStaleQuote.Error()
		} else {
			o.Status = model.OrderFilled
			o.FillPrice = o.LimitPrice
		}
	case model.ModeMaker:
		if r.draw(o.Seq) < r.cfg.MakerFillProbability {
			o.Status = model.OrderFilled
			o.FillPrice = o.LimitPrice
		} else {
			o.Status = model.OrderExpired
			o.Reason = "maker order not filled"
		}
	default:
		o.Status = model.OrderRejected
		o.Reason = fmt.Sprintf("unknown mode %q", o.Mode)
	}
	r.count(o)
	return o
}

// Execute submits an order through a venue client and follows it to a final
// status. The client's answer is authoritative. PENDING orders are polled until
// they resolve or OrderTimeout passes, after which they are cancelled and marked EXPIRED.
// Submission errors become REJECTED orders rather than errors; only context
// cancellation is returned.
func (r *Router) Execute(ctx context.Context, client OrderClient, o model.Order) (model.Order, error) {
	res, err := client.Submit(ctx, o)
	if err != nil {
		if ctx.Err() != nil {
			return o, ctx.Err()
		}
		o.Status = model.OrderRejected
		o.Reason = err.Error()
		r.count(o)
		return o, nil
	}
	deadline := time.Now().Add(r.cfg.OrderTimeout)
	for res.Status == model.OrderPending {
		if !time.Now().Before(deadline) {
			if cerr := client.Cancel(ctx, o.ID); cerr != nil {
				r.log.Warn().Err(cerr).Str("order", o.ID).Msg("cancel after timeout failed")
			}
			res = Result{Status: model.OrderExpired, Reason: "order timeout"}
			break
		}
		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			return o, err
		}
		next, err := client.Poll(ctx, o.ID)
		if err != nil {
			if ctx.Err() != nil {
				return o, ctx.Err()
			}
			r.log.Warn().Err(err).Str("order", o.ID).Msg("poll failed")
			continue
		}
		res = next
	}
	o.Status = res.Status
	o.FillPrice = res.FillPrice
	o.Reason = res.Reason
	if o.Status == model.OrderFilled && o.FillPrice == 0 {
		o.FillPrice = o.LimitPrice
	}
	r.count(o)
	return o, nil
}

func (r *Router) draw(seq int64) float64 {
	rng := rand.New(rand.NewPCG(r.cfg.Seed, uint64(seq)))
	return rng.Float64()
}

func (r *Router) orderID() string {
	if r.live {
		return uuid.NewString()
	}
	return uuid.NewSHA1(replayNamespace, []byte(fmt.Sprintf("%d/%d", r.cfg.Seed, r.seq))).String()
}

func (r *Router) count(o model.Order) {
	metrics.OrdersTotal.WithLabelValues(string(o.Mode), string(o.Status)).Inc()
	ev := r.log.Info()
	if o.Status != model.OrderFilled {
		ev = r.log.Warn()
	}
	ev.Str("order", o.ID).Str("side", string(o.Side)).Str("mode", string(o.Mode)).
		Float64("price", o.LimitPrice).Float64("size", o.Size).Str("status", string(o.Status)).
		Str("reason", o.Reason).Msg("order resolved")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
