package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ReversionBot/internal/metrics"
	"ReversionBot/internal/model"

	"github.com/rs/zerolog"
)

var (
	// ErrOutOfOrder is returned when a bar opens before the previous one closed.
	ErrOutOfOrder = errors.New("out-of-order bar")
	// ErrInvalidBar is returned for bars with impossible prices.
	ErrInvalidBar = errors.New("invalid bar")
	// ErrGap is returned when a bar does not open where the previous one closed
	// and the missing bars could not be filled.
	ErrGap = errors.New("gap in bars")
)

// GapFiller fetches the closed bars opening in [from, to).
type GapFiller func(ctx context.Context, from, to time.Time) ([]model.Bar, error)

// Event is one closed decision bar, plus any confirmation bars that closed
// at or before its close time.
type Event struct {
	Bar     model.Bar
	Confirm []model.Bar
}

// Collector validates a base feed and aggregates it into decision and confirmation bars.
type Collector struct {
	Feed Feed
	// Fill repairs gaps in the feed. With no filler every gap is fatal.
	Fill     GapFiller
	decision *Aggregator
	confirm  *Aggregator
	next     time.Time
	seen     bool
	queue    []Event
	log      zerolog.Logger
}

// NewCollector creates a Collector emitting decision bars of the given interval.
// A zero confirm interval disables the confirmation series.
func NewCollector(feed Feed, decision, confirm time.Duration, log zerolog.Logger) *Collector {
	c := &Collector{
		Feed:     feed,
		decision: NewAggregator(decision),
		log:      log,
	}
	if confirm > 0 {
		c.confirm = NewAggregator(confirm)
	}
	return c
}

// Next blocks until the next decision bar closes. Errors from the feed,
// including io.EOF, are returned unchanged; integrity errors are fatal for the run.
func (c *Collector) Next(ctx context.Context) (Event, error) {
	for len(c.queue) == 0 {
		bar, err := c.Feed.Next(ctx)
		if err != nil {
			return Event{}, err
		}
		bars, err := c.accept(ctx, bar)
		if err != nil {
			return Event{}, err
		}
		for _, b := range bars {
			c.aggregate(b)
		}
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]
	c.log.Debug().Time("open", ev.Bar.OpenTime).Float64("close", ev.Bar.Close).
		Int("confirm", len(ev.Confirm)).Msg("decision bar closed")
	return ev, nil
}

func (c *Collector) aggregate(bar model.Bar) {
	metrics.BarsTotal.WithLabelValues(bar.Interval.String()).Inc()
	for _, db := range c.decision.Add(bar) {
		ev := Event{Bar: db}
		if c.confirm != nil {
			ev.Confirm = c.confirm.Add(db)
		}
		c.queue = append(c.queue, ev)
	}
}

// accept validates bar and returns it preceded by any bars filled in before it.
func (c *Collector) accept(ctx context.Context, bar model.Bar) ([]model.Bar, error) {
	if err := c.check(bar); err != nil {
		return nil, err
	}
	if !c.seen || bar.OpenTime.Equal(c.next) {
		c.advance(bar)
		return []model.Bar{bar}, nil
	}
	if c.Fill == nil {
		return nil, gapError(c.next, bar.OpenTime)
	}

	from := c.next
	missing, err := c.Fill(ctx, from, bar.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("%w: fill %s to %s: %w", ErrGap, stamp(from), stamp(bar.OpenTime), err)
	}
	out := make([]model.Bar, 0, len(missing)+1)
	for _, m := range missing {
		if m.OpenTime.Before(c.next) {
			continue
		}
		if !m.OpenTime.Before(bar.OpenTime) {
			break
		}
		if err := c.check(m); err != nil {
			return nil, err
		}
		if !m.OpenTime.Equal(c.next) {
			return nil, gapError(c.next, m.OpenTime)
		}
		c.advance(m)
		out = append(out, m)
	}
	if !bar.OpenTime.Equal(c.next) {
		return nil, gapError(c.next, bar.OpenTime)
	}
	c.advance(bar)
	metrics.GapBarsFilled.Add(float64(len(out)))
	c.log.Warn().Time("from", from).Time("to", bar.OpenTime).Int("bars", len(out)).Msg("filled gap in feed")
	return append(out, bar), nil
}

func (c *Collector) check(bar model.Bar) error {
	if bar.Interval <= 0 {
		return fmt.Errorf("%w: missing interval at %s", ErrInvalidBar, bar.OpenTime)
	}
	for _, v := range []float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at %s", ErrInvalidBar, bar.OpenTime)
		}
	}
	if bar.High < bar.Low || bar.Close <= 0 || bar.Volume < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidBar, bar)
	}
	if c.seen && bar.OpenTime.Before(c.next) {
		return fmt.Errorf("%w: %s opens before the previous bar closed at %s", ErrOutOfOrder, stamp(bar.OpenTime), stamp(c.next))
	}
	return nil
}

func (c *Collector) advance(bar model.Bar) {
	c.next = bar.CloseTime()
	c.seen = true
}

func gapError(want, got time.Time) error {
	return fmt.Errorf("%w: expected bar at %s, got %s", ErrGap, stamp(want), stamp(got))
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }
