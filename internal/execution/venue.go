package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ReversionBot/internal/model"
)

// VenueClient talks to a REST order book venue. It implements OrderClient and QuoteSource.
type VenueClient struct {
	BaseURL  string
	APIKey   string
	YesToken string
	NoToken  string
	Client   *http.Client
}

// NewVenueClient creates a client with optional proxy support.
func NewVenueClient(baseURL, apiKey, yesToken, noToken, proxyURL string) *VenueClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &VenueClient{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		YesToken: yesToken,
		NoToken:  noToken,
		Client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
	}
}

type venueOrder struct {
	ID      string  `json:"id"`
	TokenID string  `json:"token_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Type    string  `json:"type"`
}

func (v *VenueClient) token(side model.SignalType) (string, error) {
	switch side {
	case model.SignalYes:
		return v.YesToken, nil
	case model.SignalNo:
		return v.NoToken, nil
	}
	return "", fmt.Errorf("no token for side %q", side)
}

func (v *VenueClient) Quote(ctx context.Context, side model.SignalType) (model.Quote, error) {
	tok, err := v.token(side)
	if err != nil {
		return model.Quote{}, err
	}
	var q model.Quote
	if err := v.do(ctx, http.MethodGet, "/book?token_id="+url.QueryEscape(tok), nil, &q); err != nil {
		return model.Quote{}, fmt.Errorf("fetch quote: %w", err)
	}
	if !q.Valid() {
		return model.Quote{}, fmt.Errorf("fetch quote: invalid book %+v", q)
	}
	if q.Time.IsZero() {
		q.Time = time.Now()
	}
	return q, nil
}

func (v *VenueClient) Submit(ctx context.Context, o model.Order) (Result, error) {
	tok, err := v.token(o.Side)
	if err != nil {
		return Result{}, err
	}
	typ := "GTC"
	if o.Mode == model.ModeTaker {
		typ = "FOK"
	}
	var res Result
	err = v.do(ctx, http.MethodPost, "/orders", venueOrder{
		ID: o.ID, TokenID: tok, Side: "BUY", Price: o.LimitPrice, Size: o.Size, Type: typ,
	}, &res)
	if err != nil {
		return Result{}, fmt.Errorf("submit order: %w", err)
	}
	return res, nil
}

func (v *VenueClient) Poll(ctx context.Context, id string) (Result, error) {
	var res Result
	if err := v.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &res); err != nil {
		return Result{}, fmt.Errorf("poll order: %w", err)
	}
	return res, nil
}

func (v *VenueClient) Cancel(ctx context.Context, id string) error {
	if err := v.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

func (v *VenueClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, v.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if v.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.APIKey)
	}
	resp, err := v.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
