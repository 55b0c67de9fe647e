package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"ReversionBot/internal/model"
)

// JSONLRecorder appends one JSON object per line, tagged with its kind.
type JSONLRecorder struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

type jsonlLine struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// NewJSONLRecorder opens path for appending, creating it if needed.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}
	return &JSONLRecorder{f: f, enc: json.NewEncoder(f)}, nil
}

func (j *JSONLRecorder) RecordDecision(sig *model.Signal) error { return j.write("decision", sig) }
func (j *JSONLRecorder) RecordOrder(o *model.Order) error { return j.write("order", o) }
func (j *JSONLRecorder) RecordTrade(t *model.Trade) error { return j.write("trade", t) }

func (j *JSONLRecorder) RecordEquity(state *model.EquityState) error {
	return j.write("equity", state)
}

func (j *JSONLRecorder) write(kind string, v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(jsonlLine{Kind: kind, Data: v}); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

func (j *JSONLRecorder) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
