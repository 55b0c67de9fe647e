package execution

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"ReversionBot/internal/model"
)

// Result is a venue's answer about an order.
type Result struct {
	Status    model.OrderStatus `json:"status"`
	FillPrice float64           `json:"fill_price,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// OrderClient places orders on a venue. Only used in live mode.
type OrderClient interface {
	Submit(ctx context.Context, o model.Order) (Result, error)
	Poll(ctx context.Context, id string) (Result, error)
	Cancel(ctx context.Context, id string) error
}

// QuoteSource returns the current top of book for an outcome token.
type QuoteSource interface {
	Quote(ctx context.Context, side model.SignalType) (model.Quote, error)
}

// FixedQuotes quotes both tokens symmetrically around a mid price. Used in replay,
// where no historical binary book exists.
type FixedQuotes struct {
	Mid    float64
	Spread float64
}

func (f FixedQuotes) Quote(_ context.Context, _ model.SignalType) (model.Quote, error) {
	half := f.Spread / 2
	q := model.Quote{Bid: round4(f.Mid - half), Ask: round4(f.Mid + half)}
	if !q.Valid() {
		return model.Quote{}, fmt.Errorf("invalid fixed quote mid=%.4f spread=%.4f", f.Mid, f.Spread)
	}
	return q, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// PaperClient is an in-process venue for live dry runs. Taker orders fill
// immediately; maker orders stay PENDING and fill on a later poll with the
// given probability per poll.
type PaperClient struct {
	mu        sync.Mutex
	rng       *rand.Rand
	fillProb  float64
	orders    map[string]model.Order
	filled    map[string]bool
	cancelled map[string]bool
}

// NewPaperClient creates a paper venue seeded for reproducibility.
func NewPaperClient(seed uint64, fillProb float64) *PaperClient {
	return &PaperClient{
		rng:       rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15)),
		fillProb:  fillProb,
		orders:    make(map[string]model.Order),
		filled:    make(map[string]bool),
		cancelled: make(map[string]bool),
	}
}

func (p *PaperClient) Submit(_ context.Context, o model.Order) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.Size <= 0 || o.LimitPrice <= 0 || o.LimitPrice >= 1 {
		return Result{Status: model.OrderRejected, Reason: "invalid order"}, nil
	}
	p.orders[o.ID] = o
	if o.Mode == model.ModeTaker {
		p.filled[o.ID] = true
		return Result{Status: model.OrderFilled, FillPrice: o.LimitPrice}, nil
	}
	return Result{Status: model.OrderPending}, nil
}

func (p *PaperClient) Poll(_ context.Context, id string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return Result{}, fmt.Errorf("unknown order %s", id)
	}
	switch {
	case p.cancelled[id]:
		return Result{Status: model.OrderExpired, Reason: "cancelled"}, nil
	case p.filled[id]:
		return Result{Status: model.OrderFilled, FillPrice: o.LimitPrice}, nil
	case p.rng.Float64() < p.fillProb:
		p.filled[id] = true
		return Result{Status: model.OrderFilled, FillPrice: o.LimitPrice}, nil
	}
	return Result{Status: model.OrderPending}, nil
}

func (p *PaperClient) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[id]; !ok {
		return fmt.Errorf("unknown order %s", id)
	}
	if !p.filled[id] {
		p.cancelled[id] = true
	}
	return nil
}

// PaperQuotes serves a fixed book to the paper venue, stamped with the current time.
type PaperQuotes struct {
	FixedQuotes
	now func() time.Time
}

func NewPaperQuotes(mid, spread float64) *PaperQuotes {
	return &PaperQuotes{FixedQuotes: FixedQuotes{Mid: mid, Spread: spread}, now: time.Now}
}

func (p *PaperQuotes) Quote(ctx context.Context, side model.SignalType) (model.Quote, error) {
	q, err := p.FixedQuotes.Quote(ctx, side)
	q.Time = p.now()
	return q, err
}
