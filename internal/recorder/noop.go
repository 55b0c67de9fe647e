package recorder

import "ReversionBot/internal/model"

// NoopRecorder is used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordDecision(_ *model.Signal) error { return nil }
func (n *NoopRecorder) RecordOrder(_ *model.Order) error { return nil }
func (n *NoopRecorder) RecordTrade(_ *model.Trade) error { return nil }
func (n *NoopRecorder) RecordEquity(_ *model.EquityState) error { return nil }
func (n *NoopRecorder) Close() error { return nil }
