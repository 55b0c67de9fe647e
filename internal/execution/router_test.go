package execution

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

	"ReversionBot/internal/model"

	"github.com/rs/zerolog"
)

var decisionTime = time.Date(2024, 7, 1, 9, 15, 0, 0, time.UTC)

func yes() model.Signal {
	return model.Signal{Type: model.SignalYes, DecisionTime: decisionTime, SnapshotTime: decisionTime.Add(-30 * time.Minute)}
}

func TestPlan_ModeSelection(t *testing.T) {
	tests := []struct {
		name  string
		quote model.Quote
		mode  model.OrderMode
		price float64
	}{
		{"tight spread", model.Quote{Bid: 0.49, Ask: 0.50}, model.ModeTaker, 0.50},
		{"spread at ceiling", model.Quote{Bid: 0.50, Ask: 0.52}, model.ModeTaker, 0.52},
		{"wide spread", model.Quote{Bid: 0.45, Ask: 0.50}, model.ModeMaker, 0.46},
		{"just over ceiling", model.Quote{Bid: 0.47, Ask: 0.50}, model.ModeMaker, 0.48},
	}
	for _, tt := range tests {
		r := NewRouter(DefaultConfig(), false, zerolog.Nop())
		o := r.Plan(yes(), 2, tt.quote)
		if o.Mode != tt.mode || o.LimitPrice != tt.price {
			t.Errorf("%s: got %s@%.2f, want %s@%.2f", tt.name, o.Mode, o.LimitPrice, tt.mode, tt.price)
		}
		if o.Status != model.OrderPending || o.Size != 2 || o.Side != model.SignalYes {
			t.Errorf("%s: unexpected order %+v", tt.name, o)
		}
	}
}

func TestPlan_DeterministicIDs(t *testing.T) {
	a := NewRouter(DefaultConfig(), false, zerolog.Nop())
	b := NewRouter(DefaultConfig(), false, zerolog.Nop())
	q := model.Quote{Bid: 0.49, Ask: 0.51}
	for i := 0; i < 3; i++ {
		oa, ob := a.Plan(yes(), 1, q), b.Plan(yes(), 1, q)
		if oa.ID != ob.ID || oa.Seq != int64(i+1) {
			t.Fatalf("order %d: ids %s/%s seq %d", i, oa.ID, ob.ID, oa.Seq)
		}
	}
	live := NewRouter(DefaultConfig(), true, zerolog.Nop())
	if live.Plan(yes(), 1, q).ID == live.Plan(yes(), 1, q).ID {
		t.Error("live ids should be unique")
	}
}

func TestSimulate_Taker(t *testing.T) {
	r := NewRouter(DefaultConfig(), false, zerolog.Nop())
	o := r.Plan(yes(), 2, model.Quote{Bid: 0.49, Ask: 0.51})
	if got := r.Simulate(o, 12); got.Status != model.OrderFilled || got.FillPrice != 0.51 {
		t.Errorf("taker should fill at the ask, got %+v", got)
	}
	got := r.Simulate(o, 0)
	if got.Status != model.OrderExpired || got.Reason != ErrStaleQuote.Error() {
		t.Errorf("taker on a stale bar should expire, got %+v", got)
	}
}

func TestSimulate_MakerProbability(t *testing.T) {
	cfg := DefaultConfig()
	r := NewRouter(cfg, false, zerolog.Nop())
	const n = 5000
	filled := 0
	for i := 0; i < n; i++ {
		o := r.Plan(yes(), 1, model.Quote{Bid: 0.40, Ask: 0.50})
		if r.Simulate(o, 1).Status == model.OrderFilled {
			filled++
		}
	}
	rate := float64(filled) / n
	if rate < 0.77 || rate > 0.83 {
		t.Errorf("maker fill rate %.3f far from 0.8", rate)
	}

	cfg.MakerFillProbability = 0
	never := NewRouter(cfg, false, zerolog.Nop())
	if never.Simulate(never.Plan(yes(), 1, model.Quote{Bid: 0.40, Ask: 0.50}), 1).Status != model.OrderExpired {
		t.Error("zero probability must never fill")
	}
}

func TestSimulate_Reproducible(t *testing.T) {
	run := func() []model.OrderStatus {
		r := NewRouter(DefaultConfig(), false, zerolog.Nop())
		var out []model.OrderStatus
		for i := 0; i < 50; i++ {
			out = append(out, r.Simulate(r.Plan(yes(), 1, model.Quote{Bid: 0.40, Ask: 0.50}), 1).Status)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order %d: %s vs %s", i, a[i], b[i])
		}
	}

	// resuming from a sequence number reproduces the same draws
	r := NewRouter(DefaultConfig(), false, zerolog.Nop())
	r.SetSeq(25)
	for i := 25; i < 50; i++ {
		if got := r.Simulate(r.Plan(yes(), 1, model.Quote{Bid: 0.40, Ask: 0.50}), 1).Status; got != a[i] {
			t.Fatalf("resumed order %d: %s vs %s", i, got, a[i])
		}
	}
}

type scriptedClient struct {
	mu        sync.Mutex
	submit    Result
	submitErr error
	polls     []Result
	cancelled bool
}

func (s *scriptedClient) Submit(context.Context, model.Order) (Result, error) {
	return s.submit, s.submitErr
}

func (s *scriptedClient) Poll(context.Context, string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.polls) == 0 {
		return Result{Status: model.OrderPending}, nil
	}
	r := s.polls[0]
	s.polls = s.polls[1:]
	return r, nil
}

func (s *scriptedClient) Cancel(context.Context, string) error {
	s.cancelled = true
	return nil
}

func fastRouter(timeout time.Duration) *Router {
	cfg := DefaultConfig()
	cfg.OrderTimeout = timeout
	cfg.PollInterval = time.Millisecond
	return NewRouter(cfg, true, zerolog.Nop())
}

func TestExecute(t *testing.T) {
	order := model.Order{ID: "x", Side: model.SignalYes, Mode: model.ModeMaker, LimitPrice: 0.46, Size: 2, Status: model.OrderPending}
	tests := []struct {
		name      string
		client    *scriptedClient
		want      model.OrderStatus
		fill      float64
		cancelled bool
	}{
		{"filled immediately", &scriptedClient{submit: Result{Status: model.OrderFilled, FillPrice: 0.45}}, model.OrderFilled, 0.45, false},
		{"rejected", &scriptedClient{submit: Result{Status: model.OrderRejected, Reason: "post only"}}, model.OrderRejected, 0, false},
		{"pending then filled", &scriptedClient{submit: Result{Status: model.OrderPending},
			polls: []Result{{Status: model.OrderPending}, {Status: model.OrderFilled}}}, model.OrderFilled, 0.46, false},
		{"pending timeout", &scriptedClient{submit: Result{Status: model.OrderPending}}, model.OrderExpired, 0, true},
		{"submit error", &scriptedClient{submitErr: errors.New("connection reset")}, model.OrderRejected, 0, false},
	}
	for _, tt := range tests {
		got, err := fastRouter(20*time.Millisecond).Execute(context.Background(), tt.client, order)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got.Status != tt.want || got.FillPrice != tt.fill {
			t.Errorf("%s: got %s@%v, want %s@%v", tt.name, got.Status, got.FillPrice, tt.want, tt.fill)
		}
		if tt.client.cancelled != tt.cancelled {
			t.Errorf("%s: cancelled = %v", tt.name, tt.client.cancelled)
		}
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{submit: Result{Status: model.OrderPending}}
	if _, err := fastRouter(time.Minute).Execute(ctx, client, model.Order{ID: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPaperClient(t *testing.T) {
	p := NewPaperClient(1, 1)
	ctx := context.Background()
	res, _ := p.Submit(ctx, model.Order{ID: "t", Mode: model.ModeTaker, LimitPrice: 0.5, Size: 1})
	if res.Status != model.OrderFilled {
		t.Errorf("paper taker should fill, got %s", res.Status)
	}
	res, _ = p.Submit(ctx, model.Order{ID: "m", Mode: model.ModeMaker, LimitPrice: 0.4, Size: 1})
	if res.Status != model.OrderPending {
		t.Errorf("paper maker should rest, got %s", res.Status)
	}
	if res, _ = p.Poll(ctx, "m"); res.Status != model.OrderFilled || res.FillPrice != 0.4 {
		t.Errorf("maker poll with p=1 should fill, got %+v", res)
	}
	if res, _ = p.Submit(ctx, model.Order{ID: "bad", Mode: model.ModeTaker, LimitPrice: 1.2, Size: 1}); res.Status != model.OrderRejected {
		t.Errorf("invalid price should be rejected, got %s", res.Status)
	}

	never := NewPaperClient(1, 0)
	never.Submit(ctx, model.Order{ID: "m", Mode: model.ModeMaker, LimitPrice: 0.4, Size: 1})
	never.Cancel(ctx, "m")
	if res, _ = never.Poll(ctx, "m"); res.Status != model.OrderExpired {
		t.Errorf("cancelled order should expire, got %s", res.Status)
	}
}

func TestFixedQuotes(t *testing.T) {
	q, err := FixedQuotes{Mid: 0.5, Spread: 0.02}.Quote(context.Background(), model.SignalNo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Bid != 0.49 || q.Ask != 0.51 {
		t.Errorf("quote = %+v", q)
	}
	if _, err := (FixedQuotes{Mid: 0.995, Spread: 0.02}).Quote(context.Background(), model.SignalYes); err == nil {
		t.Error("expected error for ask above 1")
	}
}

func TestVenueClient(t *testing.T) {
	var submitted venueOrder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/book":
			if r.URL.Query().Get("token_id") != "no-token" {
				http.Error(w, "unknown token", http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"bid":0.41,"ask":0.44,"bid_size":100,"ask_size":80}`))
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			json.NewDecoder(r.Body).Decode(&submitted)
			w.Write([]byte(`{"status":"PENDING"}`))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/orders/"):
			w.Write([]byte(`{"status":"FILLED","fill_price":0.42}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	v := NewVenueClient(srv.URL, "k", "yes-token", "no-token", "")
	ctx := context.Background()
	q, err := v.Quote(ctx, model.SignalNo)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Bid != 0.41 || q.Ask != 0.44 || q.AskSize != 80 {
		t.Errorf("quote = %+v", q)
	}

	r := fastRouter(time.Second)
	o := r.Plan(model.Signal{Type: model.SignalNo}, 3, q)
	got, err := r.Execute(ctx, v, o)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.Status != model.OrderFilled || got.FillPrice != 0.42 {
		t.Errorf("order = %+v", got)
	}
	if submitted.TokenID != "no-token" || submitted.Type != "GTC" || submitted.Size != 3 {
		t.Errorf("submitted = %+v", submitted)
	}
	if err := v.Cancel(ctx, o.ID); err != nil {
		t.Errorf("cancel: %v", err)
	}

	bad := NewVenueClient(srv.URL, "wrong", "y", "n", "")
	if _, err := bad.Quote(ctx, model.SignalYes); err == nil {
		t.Error("expected auth error")
	}
}
