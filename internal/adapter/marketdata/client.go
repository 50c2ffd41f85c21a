package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// Client fetches quotes from the market data provider over HTTP. Each call
// carries its own timeout; 5xx and 429 responses retry with exponential
// backoff inside the per-call budget.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

// NewClient constructs a provider client with a traced transport.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
	}
}

type quoteWire struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	TS     int64   `json:"ts"`
}

// Quotes returns the latest quote per symbol. Missing symbols are absent
// from the map, which the gate scores as FAIL_NO_QUOTE.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/quotes?symbols=%s", c.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	var wire []quoteWire
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("quotes: %w", domain.ErrRateLimited)
		case resp.StatusCode >= 500:
			return fmt.Errorf("quotes: provider %d: %w", resp.StatusCode, domain.ErrProviderDown)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("quotes: provider %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("op=marketdata.quotes: %w", domain.ErrProviderDown)
		}
		return nil, fmt.Errorf("op=marketdata.quotes: %w", err)
	}

	out := make(map[string]domain.Quote, len(wire))
	for _, q := range wire {
		out[q.Symbol] = domain.Quote{Symbol: q.Symbol, Bid: q.Bid, Ask: q.Ask, Last: q.Last, AsOfMilli: q.TS}
	}
	return out, nil
}
