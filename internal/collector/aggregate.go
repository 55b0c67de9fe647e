package collector

import (
	"time"

	"ReversionBot/internal/model"
)

// Aggregator folds finer closed bars into right-edge aligned bars of a fixed interval.
// A bucket is emitted when its last sub-bar arrives, or when a bar from a later
// bucket shows the interval has elapsed. In the second case the bucket holds
// only the sub-bars that arrived; Collector rejects or fills gaps before bars
// get here, so it never sees a short bucket.
type Aggregator struct {
	Interval time.Duration
	cur      model.Bar
	open     bool
}

// NewAggregator creates an aggregator for the given interval.
func NewAggregator(interval time.Duration) *Aggregator {
	return &Aggregator{Interval: interval}
}

// Add folds one bar in and returns any buckets that closed as a result.
func (a *Aggregator) Add(b model.Bar) []model.Bar {
	var closed []model.Bar
	bucket := b.OpenTime.Truncate(a.Interval)

	if a.open && !bucket.Equal(a.cur.OpenTime) {
		closed = append(closed, a.cur)
		a.open = false
	}

	if !a.open {
		a.cur = model.Bar{
			OpenTime: bucket,
			Interval: a.Interval,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		}
		a.open = true
	} else {
		if b.High > a.cur.High {
			a.cur.High = b.High
		}
		if b.Low < a.cur.Low {
			a.cur.Low = b.Low
		}
		a.cur.Close = b.Close
		a.cur.Volume += b.Volume
	}

	if !b.CloseTime().Before(a.cur.CloseTime()) {
		closed = append(closed, a.cur)
		a.open = false
	}
	return closed
}

// Pending reports whether a partially filled bucket is held.
func (a *Aggregator) Pending() bool { return a.open }

// AggregateBars is the batch form of Aggregator. A trailing partial bucket is dropped.
func AggregateBars(bars []model.Bar, interval time.Duration) []model.Bar {
	if len(bars) == 0 {
		return nil
	}
	agg := NewAggregator(interval)
	var out []model.Bar
	for _, b := range bars {
		out = append(out, agg.Add(b)...)
	}
	return out
}
