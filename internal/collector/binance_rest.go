package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ReversionBot/internal/model"
)

// maxKlines is the most klines Binance returns per request.
const maxKlines = 1000

// KlineFetcher loads closed klines over the Binance REST API.
type KlineFetcher struct {
	BaseURL string
	Client  *http.Client
	now     func() time.Time
}

// NewKlineFetcher creates a fetcher with optional proxy support.
func NewKlineFetcher(baseURL, proxyURL string) *KlineFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &KlineFetcher{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		now: time.Now,
	}
}

func (f *KlineFetcher) Name() string { return "binance-rest" }

// FetchKlines returns up to limit closed bars, oldest first. A still-open last kline is dropped.
func (f *KlineFetcher) FetchKlines(ctx context.Context, symbol string, interval time.Duration, limit int) ([]model.Bar, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	return f.fetch(ctx, symbol, interval, q)
}

// FetchRange returns the closed bars opening in [from, to), oldest first.
func (f *KlineFetcher) FetchRange(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]model.Bar, error) {
	var out []model.Bar
	for from.Before(to) {
		q := url.Values{
			"startTime": {strconv.FormatInt(from.UnixMilli(), 10)},
			"endTime":   {strconv.FormatInt(to.UnixMilli()-1, 10)},
			"limit":     {strconv.Itoa(maxKlines)},
		}
		bars, err := f.fetch(ctx, symbol, interval, q)
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			if !b.OpenTime.Before(from) && b.OpenTime.Before(to) {
				out = append(out, b)
			}
		}
		if len(bars) < maxKlines {
			break
		}
		from = bars[len(bars)-1].CloseTime()
	}
	return out, nil
}

// Filler binds FetchRange to one symbol and interval for a Collector.
func (f *KlineFetcher) Filler(symbol string, interval time.Duration) GapFiller {
	return func(ctx context.Context, from, to time.Time) ([]model.Bar, error) {
		return f.FetchRange(ctx, symbol, interval, from, to)
	}
}

func (f *KlineFetcher) fetch(ctx context.Context, symbol string, interval time.Duration, q url.Values) ([]model.Bar, error) {
	code, err := intervalCode(interval)
	if err != nil {
		return nil, err
	}
	q.Set("symbol", symbol)
	q.Set("interval", code)
	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", f.BaseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch klines: status %d, body: %s", resp.StatusCode, string(body))
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	now := f.now()
	bars := make([]model.Bar, 0, len(rows))
	for i, row := range rows {
		bar, closeMs, err := decodeKlineRow(row, interval)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		if time.UnixMilli(closeMs).After(now) {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func decodeKlineRow(row []json.RawMessage, interval time.Duration) (model.Bar, int64, error) {
	if len(row) < 7 {
		return model.Bar{}, 0, fmt.Errorf("short row (%d fields)", len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Bar{}, 0, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return model.Bar{}, 0, fmt.Errorf("close time: %w", err)
	}
	var vals [5]float64
	for j := 0; j < 5; j++ {
		var s string
		if err := json.Unmarshal(row[j+1], &s); err != nil {
			return model.Bar{}, 0, fmt.Errorf("field %d: %w", j+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, 0, fmt.Errorf("field %d: %w", j+1, err)
		}
		vals[j] = v
	}
	return model.Bar{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Interval: interval,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, closeMs, nil
}

func intervalCode(d time.Duration) (string, error) {
	switch d {
	case time.Minute:
		return "1m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case time.Hour:
		return "1h", nil
	}
	return "", fmt.Errorf("unsupported kline interval %s", d)
}
