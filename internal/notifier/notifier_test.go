package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"ReversionBot/internal/model"
	"ReversionBot/internal/replay"

	"github.com/rs/zerolog"
)

type fakeTelegram struct {
	mu      sync.Mutex
	sent    []string
	fail    int
	updates string
}

func (f *fakeTelegram) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if f.fail > 0 {
				f.fail--
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":1}}`))
				return
			}
			var payload map[string]string
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("bad payload: %v", err)
			}
			if payload["chat_id"] != "42" || payload["parse_mode"] != "HTML" {
				t.Errorf("payload = %v", payload)
			}
			f.sent = append(f.sent, payload["text"])
			w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			body := f.updates
			f.updates = `{"ok":true,"result":[]}`
			w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeTelegram) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newNotifier(url string) *TelegramNotifier {
	n := NewTelegramNotifier("token", "42", "", zerolog.Nop())
	n.APIBase = url
	return n
}

func TestSend(t *testing.T) {
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	n := newNotifier(srv.URL)
	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	fake.mu.Lock()
	fake.fail = 1
	fake.mu.Unlock()
	err := n.Send(context.Background(), "dropped")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.RetryAfter != time.Second || apiErr.Description != "Too Many Requests" {
		t.Errorf("api error = %+v", apiErr)
	}
	if got := fake.messages(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("sent = %v", got)
	}
}

func TestSendWithRetry(t *testing.T) {
	fake := &fakeTelegram{fail: 1}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	if err := newNotifier(srv.URL).SendWithRetry(context.Background(), "retried", 1); err != nil {
		t.Fatalf("send with retry: %v", err)
	}
	if got := fake.messages(); len(got) != 1 {
		t.Errorf("sent = %v", got)
	}

	fake.mu.Lock()
	fake.fail = 5
	fake.mu.Unlock()
	if err := newNotifier(srv.URL).SendWithRetry(context.Background(), "lost", 0); err == nil {
		t.Error("expected exhausted retries")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	long := strings.Repeat("é", 5000)
	got := truncate(long, maxMessageLen)
	if n := utf8.RuneCountInString(got); n != maxMessageLen || !strings.HasSuffix(got, "…") {
		t.Errorf("truncated to %d runes", n)
	}
}

func TestStartPolling(t *testing.T) {
	fake := &fakeTelegram{updates: `{"ok":true,"result":[
		{"update_id":1,"message":{"text":" /status ","chat":{"id":42}}},
		{"update_id":2,"message":{"text":"/reset","chat":{"id":7}}},
		{"update_id":3,"message":{"text":"hello","chat":{"id":42}}},
		{"update_id":4,"message":{"text":"/stats@ReversionBot now","chat":{"id":42}}}]}`}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var got []string
	go newNotifier(srv.URL).StartPolling(ctx, func(cmd string) string {
		mu.Lock()
		got = append(got, cmd)
		mu.Unlock()
		return "reply to " + cmd
	})

	deadline := time.Now().Add(5 * time.Second)
	for len(fake.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "/status" || got[1] != "/stats" {
		t.Errorf("commands = %v, want /status and /stats from the configured chat", got)
	}
	if msgs := fake.messages(); len(msgs) != 2 || msgs[0] != "reply to /status" {
		t.Errorf("replies = %v", msgs)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text, want string
		ok         bool
	}{
		{"/status", "/status", true},
		{"  /reset  ", "/reset", true},
		{"/stats@ReversionBot today", "/stats", true},
		{"status", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormatters(t *testing.T) {
	at := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
	sig := model.Signal{DecisionTime: at, Type: model.SignalYes, Reason: model.ReasonOversold, RSI: 31.5,
		Trend: model.TrendDown, HTFTrend: model.TrendDown, VolRegime: model.VolNormal, Strike: 64000}
	if s := FormatSignal(sig); !strings.Contains(s, "Signal YES") || !strings.Contains(s, "RSI_OVERSOLD") {
		t.Errorf("signal message = %q", s)
	}

	state := model.EquityState{Balance: 79, PeakBalance: 100, CurrentDrawdown: 21, ReferenceBalance: 100, BreakerTripped: true}
	if s := FormatBreaker(state); !strings.Contains(s, "21.00%") || !strings.Contains(s, "/reset") {
		t.Errorf("breaker message = %q", s)
	}
	tr := model.Trade{SignalType: model.SignalNo, ExitTime: at, Strike: 64000, SettlePrice: 64100, Size: 2, EntryPrice: 0.51, PnL: -1.0302}
	if s := FormatTrade(tr, state); !strings.Contains(s, "NO LOST") || !strings.Contains(s, "-1.0302") {
		t.Errorf("trade message = %q", s)
	}
	open := &model.Position{Signal: sig, Order: model.Order{Size: 1, FillPrice: 0.51}, ResolvesAt: at.Add(15 * time.Minute)}
	if s := FormatStatus(state, open, "IDLE", 120); !strings.Contains(s, "TRIPPED") || !strings.Contains(s, "resolves 09:45") {
		t.Errorf("status message = %q", s)
	}

	r := replay.NewReport([]model.Trade{{SignalType: model.SignalYes, PnL: 0.49, Won: true}}, 100, map[string]int{"VOLATILITY": 2})
	if s := FormatSummary("Daily summary", r, at); !strings.Contains(s, "Trades: 1") || !strings.Contains(s, "Blocked decisions: 2") {
		t.Errorf("summary = %q", s)
	}
	if s := FormatSummary("Daily summary", replay.NewReport(nil, 100, nil), at); !strings.Contains(s, "No trades") {
		t.Errorf("empty summary = %q", s)
	}
}
