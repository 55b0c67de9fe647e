package collector

import (
	"context"
	"io"

	"ReversionBot/internal/model"
)

// Feed delivers closed bars in non-decreasing time order. Next blocks until a
// bar is available and returns io.EOF when a finite source is exhausted.
type Feed interface {
	Next(ctx context.Context) (model.Bar, error)
	Name() string
}

// SliceFeed replays bars held in memory.
type SliceFeed struct {
	Bars []model.Bar
	pos  int
}

// NewSliceFeed wraps bars as a finite feed.
func NewSliceFeed(bars []model.Bar) *SliceFeed {
	return &SliceFeed{Bars: bars}
}

func (f *SliceFeed) Name() string { return "memory" }

func (f *SliceFeed) Next(ctx context.Context) (model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return model.Bar{}, err
	}
	if f.pos >= len(f.Bars) {
		return model.Bar{}, io.EOF
	}
	b := f.Bars[f.pos]
	f.pos++
	return b, nil
}

// ChannelFeed adapts a channel of closed bars, as produced by streaming sources.
type ChannelFeed struct {
	name string
	ch   <-chan model.Bar
	errs <-chan error
}

// NewChannelFeed reads bars from ch; a value on errs ends the feed with that error.
func NewChannelFeed(name string, ch <-chan model.Bar, errs <-chan error) *ChannelFeed {
	return &ChannelFeed{name: name, ch: ch, errs: errs}
}

func (f *ChannelFeed) Name() string { return f.name }

func (f *ChannelFeed) Next(ctx context.Context) (model.Bar, error) {
	select {
	case <-ctx.Done():
		return model.Bar{}, ctx.Err()
	case err := <-f.errs:
		if err == nil {
			err = io.EOF
		}
		return model.Bar{}, err
	case b, ok := <-f.ch:
		if !ok {
			return model.Bar{}, io.EOF
		}
		return b, nil
	}
}

// MultiFeed drains each feed in turn. Used to put a REST backfill in front of a live stream.
type MultiFeed struct {
	feeds []Feed
	pos   int
}

func NewMultiFeed(feeds ...Feed) *MultiFeed {
	return &MultiFeed{feeds: feeds}
}

func (m *MultiFeed) Name() string {
	name := ""
	for i, f := range m.feeds {
		if i > 0 {
			name += "+"
		}
		name += f.Name()
	}
	return name
}

func (m *MultiFeed) Next(ctx context.Context) (model.Bar, error) {
	for m.pos < len(m.feeds) {
		b, err := m.feeds[m.pos].Next(ctx)
		if err == io.EOF {
			m.pos++
			continue
		}
		return b, err
	}
	return model.Bar{}, io.EOF
}
