package recorder

import (
	"errors"

	"ReversionBot/internal/model"
)

// Recorder persists the decision and trade history for analysis.
// Implementations must be safe for use by one writer plus cron jobs.
type Recorder interface {
	RecordDecision(sig *model.Signal) error
	RecordOrder(o *model.Order) error
	RecordTrade(t *model.Trade) error
	RecordEquity(state *model.EquityState) error
	Close() error
}

// Multi fans every record out to several recorders. All are attempted; errors are joined.
type Multi []Recorder

func (m Multi) RecordDecision(sig *model.Signal) error {
	return m.each(func(r Recorder) error { return r.RecordDecision(sig) })
}

func (m Multi) RecordOrder(o *model.Order) error {
	return m.each(func(r Recorder) error { return r.RecordOrder(o) })
}

func (m Multi) RecordTrade(t *model.Trade) error {
	return m.each(func(r Recorder) error { return r.RecordTrade(t) })
}

func (m Multi) RecordEquity(state *model.EquityState) error {
	return m.each(func(r Recorder) error { return r.RecordEquity(state) })
}

func (m Multi) Close() error {
	return m.each(func(r Recorder) error { return r.Close() })
}

func (m Multi) each(fn func(Recorder) error) error {
	var errs []error
	for _, r := range m {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
