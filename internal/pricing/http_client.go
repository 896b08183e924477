package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tax-harvest-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 250 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPOracle implements Oracle against a JSON price API.
type HTTPOracle struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// Option configures HTTPOracle.
type Option func(*HTTPOracle)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *HTTPOracle) {
		o.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *HTTPOracle) {
		o.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(o *HTTPOracle) {
		o.retryDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *HTTPOracle) {
		o.client = client
	}
}

// NewHTTPOracle creates a price oracle client for baseURL.
func NewHTTPOracle(baseURL string, opts ...Option) *HTTPOracle {
	o := &HTTPOracle{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// priceEntry is one row of the price API response.
type priceEntry struct {
	Chain    string  `json:"chain"`
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	PriceUSD float64 `json:"price_usd"`
	AsOfMs   int64   `json:"as_of_ms"`
}

type pricesResponse struct {
	Prices []priceEntry `json:"prices"`
}

// GetPrice fetches a single token price.
func (o *HTTPOracle) GetPrice(ctx context.Context, token domain.Token) (Quote, error) {
	quotes, err := o.GetPrices(ctx, []domain.Token{token})
	if err != nil {
		return Quote{}, err
	}
	q, ok := quotes[token.Key()]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoPrice, token.Key())
	}
	return q, nil
}

// GetPrices fetches prices for all tokens in one request, with retries
// and exponential backoff on transport or server errors.
func (o *HTTPOracle) GetPrices(ctx context.Context, tokens []domain.Token) (map[string]Quote, error) {
	if len(tokens) == 0 {
		return map[string]Quote{}, nil
	}

	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = t.Key()
	}
	endpoint := fmt.Sprintf("%s/v1/prices?tokens=%s", o.baseURL, url.QueryEscape(strings.Join(keys, ",")))

	byKey := make(map[string]domain.Token, len(tokens))
	for _, t := range tokens {
		byKey[t.Key()] = t
	}

	delay := o.retryDelay
	var lastErr error

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * o.backoffMult)
			if delay > o.maxDelay {
				delay = o.maxDelay
			}
		}

		quotes, err := o.fetch(ctx, endpoint, byKey)
		if err != nil {
			lastErr = err
			continue
		}
		return quotes, nil
	}
	return nil, fmt.Errorf("%w: price oracle: %v", domain.ErrExternalService, lastErr)
}

func (o *HTTPOracle) fetch(ctx context.Context, endpoint string, byKey map[string]domain.Token) (map[string]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	var parsed pricesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	quotes := make(map[string]Quote, len(parsed.Prices))
	for _, entry := range parsed.Prices {
		key := entry.Chain + ":" + entry.Address
		token, ok := byKey[key]
		if !ok {
			continue // unrequested token in response
		}
		quotes[key] = Quote{
			Token:        token,
			UnitPriceUSD: entry.PriceUSD,
			AsOf:         time.UnixMilli(entry.AsOfMs).UTC(),
		}
	}
	return quotes, nil
}

var _ Oracle = (*HTTPOracle)(nil)
