package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ReversionBot/internal/model"

	"github.com/rs/zerolog"
)

// Confirmer is an optional check applied after the thresholds fire. ok false
// vetoes the signal; boost reports a prediction that strongly agrees with it.
type Confirmer interface {
	Confirm(sig model.Signal) (ok, boost bool)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(sig model.Signal) (ok, boost bool)

func (f ConfirmFunc) Confirm(sig model.Signal) (ok, boost bool) { return f(sig) }

// Predictor estimates the probability that the underlying closes up over the holding bar.
type Predictor interface {
	PredictUp(sig model.Signal) (float64, error)
}

// ProbabilityConfirmer vetoes YES when the model is bearish and NO when it is
// bullish, and boosts only predictions beyond the opposite bound. A failing
// model neither vetoes nor boosts.
type ProbabilityConfirmer struct {
	Model  Predictor
	MinYes float64 // YES vetoed below
	MaxNo  float64 // NO vetoed above
	log    zerolog.Logger
}

// NewProbabilityConfirmer uses 0.4/0.6 bounds.
func NewProbabilityConfirmer(p Predictor, log zerolog.Logger) *ProbabilityConfirmer {
	return &ProbabilityConfirmer{Model: p, MinYes: 0.4, MaxNo: 0.6, log: log}
}

func (c *ProbabilityConfirmer) Confirm(sig model.Signal) (ok, boost bool) {
	p, err := c.Model.PredictUp(sig)
	if err != nil {
		c.log.Warn().Err(err).Msg("prediction failed, skipping confirmation")
		return true, false
	}
	switch sig.Type {
	case model.SignalYes:
		return p >= c.MinYes, p > c.MaxNo
	case model.SignalNo:
		return p <= c.MaxNo, p < c.MinYes
	}
	return true, false
}

// HTTPPredictor posts the signal to a model server and reads {"prob_up": p}.
type HTTPPredictor struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPPredictor(url string) *HTTPPredictor {
	return &HTTPPredictor{URL: url, Client: &http.Client{}, Timeout: 5 * time.Second}
}

func (p *HTTPPredictor) PredictUp(sig model.Signal) (float64, error) {
	body, err := json.Marshal(sig)
	if err != nil {
		return 0, fmt.Errorf("marshal signal: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("predict: status %d", resp.StatusCode)
	}
	var out struct {
		ProbUp float64 `json:"prob_up"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode prediction: %w", err)
	}
	if out.ProbUp < 0 || out.ProbUp > 1 {
		return 0, fmt.Errorf("prediction %v outside [0,1]", out.ProbUp)
	}
	return out.ProbUp, nil
}
