package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ReversionBot/internal/metrics"
	"ReversionBot/internal/model"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type klineEnvelope struct {
	Event  string    `json:"e"`
	Symbol string    `json:"s"`
	Kline  wireKline `json:"k"`
}

type wireKline struct {
	Start  int64  `json:"t"`
	End    int64  `json:"T"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Close  string `json:"c"`
	Volume string `json:"v"`
	Closed bool   `json:"x"`
}

// StreamFeed subscribes to the Binance kline stream and forwards closed bars only.
type StreamFeed struct {
	URL      string
	Symbol   string
	Interval time.Duration
	// After drops bars at or before this open time, so a REST backfill can precede the stream.
	After time.Time
	log   zerolog.Logger
}

// NewStreamFeed creates a kline stream feed. baseURL is e.g. wss://stream.binance.com:9443.
func NewStreamFeed(baseURL, symbol string, interval time.Duration, log zerolog.Logger) (*StreamFeed, error) {
	code, err := intervalCode(interval)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/ws/%s@kline_%s", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol), code)
	return &StreamFeed{URL: url, Symbol: symbol, Interval: interval, log: log}, nil
}

// Run streams until ctx is cancelled, reconnecting with backoff.
func (f *StreamFeed) Run(ctx context.Context, out chan<- model.Bar) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consume(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.FeedReconnects.Inc()
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("kline stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *StreamFeed) consume(ctx context.Context, out chan<- model.Bar) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("url", f.URL).Msg("connected kline stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(2 * f.Interval))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(2 * f.Interval))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(2 * f.Interval))

		bar, closed, err := decodeKlineMessage(message, f.Interval)
		if err != nil {
			f.log.Warn().Err(err).Msg("failed to decode kline message")
			continue
		}
		if !closed || !bar.OpenTime.After(f.After) {
			continue
		}
		f.After = bar.OpenTime

		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeKlineMessage(message []byte, interval time.Duration) (model.Bar, bool, error) {
	var env klineEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return model.Bar{}, false, err
	}
	if env.Event != "kline" {
		return model.Bar{}, false, fmt.Errorf("unexpected event %q", env.Event)
	}
	k := env.Kline
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, false, fmt.Errorf("parse kline field %d: %w", i, err)
		}
		vals[i] = v
	}
	return model.Bar{
		OpenTime: time.UnixMilli(k.Start).UTC(),
		Interval: interval,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, k.Closed, nil
}
