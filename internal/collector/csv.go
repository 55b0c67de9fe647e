package collector

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"ReversionBot/internal/model"
)

// CSVFeed streams bars from a CSV file with a header row containing
// timestamp/time/open_time, open, high, low, close and volume columns.
// Rows are delivered exactly as stored; ordering is checked downstream.
type CSVFeed struct {
	path     string
	interval time.Duration
	file     io.Closer
	reader   *csv.Reader
	cols     map[string]int
	line     int
}

// OpenCSVFeed opens path and reads its header. interval is the bar period of each row.
func OpenCSVFeed(path string, interval time.Duration) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	feed, err := NewCSVFeed(f, interval)
	if err != nil {
		f.Close()
		return nil, err
	}
	feed.path = path
	feed.file = f
	return feed, nil
}

// NewCSVFeed reads CSV rows from r.
func NewCSVFeed(r io.Reader, interval time.Duration) (*CSVFeed, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"open", "high", "low", "close"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("csv header missing %q column", need)
		}
	}
	if firstCol(cols, "timestamp", "time", "open_time") < 0 {
		return nil, fmt.Errorf("csv header missing timestamp column")
	}
	return &CSVFeed{interval: interval, reader: cr, cols: cols, line: 1}, nil
}

func (f *CSVFeed) Name() string {
	if f.path != "" {
		return "csv:" + f.path
	}
	return "csv"
}

// Next returns the next row as a bar, or io.EOF at the end of the file.
func (f *CSVFeed) Next(ctx context.Context) (model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return model.Bar{}, err
	}
	for {
		rec, err := f.reader.Read()
		if err != nil {
			return model.Bar{}, err
		}
		f.line++
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		bar, err := f.parse(rec)
		if err != nil {
			return model.Bar{}, fmt.Errorf("csv line %d: %w", f.line, err)
		}
		return bar, nil
	}
}

// Close releases the underlying file, if any.
func (f *CSVFeed) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

func (f *CSVFeed) parse(rec []string) (model.Bar, error) {
	field := func(names ...string) string {
		i := firstCol(f.cols, names...)
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	ts, err := ParseTimeFlexible(field("timestamp", "time", "open_time"))
	if err != nil {
		return model.Bar{}, err
	}
	bar := model.Bar{OpenTime: ts, Interval: f.interval}
	for _, p := range []struct {
		name string
		dst  *float64
		opt  bool
	}{
		{"open", &bar.Open, false},
		{"high", &bar.High, false},
		{"low", &bar.Low, false},
		{"close", &bar.Close, false},
		{"volume", &bar.Volume, true},
	} {
		s := field(p.name)
		if s == "" && p.opt {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("parse %s: %w", p.name, err)
		}
		*p.dst = v
	}
	return bar, nil
}

// ParseTimeFlexible accepts RFC3339, "2006-01-02 15:04:05", unix seconds or unix milliseconds. Results are UTC.
func ParseTimeFlexible(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04:05-07:00", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

func firstCol(cols map[string]int, names ...string) int {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i
		}
	}
	return -1
}
