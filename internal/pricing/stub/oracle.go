// Package stub provides a deterministic price oracle for tests and the
// fixture CLI.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/pricing"
)

// Oracle returns fixed prices per token key.
type Oracle struct {
	mu     sync.Mutex
	prices map[string]float64
	asOf   time.Time
	err    error
}

// NewOracle creates a stub oracle with the given per-token-key prices.
func NewOracle(prices map[string]float64, asOf time.Time) *Oracle {
	if prices == nil {
		prices = make(map[string]float64)
	}
	return &Oracle{prices: prices, asOf: asOf}
}

// SetPrice updates one token's price.
func (o *Oracle) SetPrice(token domain.Token, priceUSD float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[token.Key()] = priceUSD
}

// FailWith makes every subsequent call return err.
func (o *Oracle) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *Oracle) GetPrice(_ context.Context, token domain.Token) (pricing.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return pricing.Quote{}, o.err
	}
	price, ok := o.prices[token.Key()]
	if !ok {
		return pricing.Quote{}, fmt.Errorf("%w: %s", pricing.ErrNoPrice, token.Key())
	}
	return pricing.Quote{Token: token, UnitPriceUSD: price, AsOf: o.asOf}, nil
}

func (o *Oracle) GetPrices(ctx context.Context, tokens []domain.Token) (map[string]pricing.Quote, error) {
	o.mu.Lock()
	err := o.err
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	quotes := make(map[string]pricing.Quote, len(tokens))
	for _, t := range tokens {
		if q, qerr := o.GetPrice(ctx, t); qerr == nil {
			quotes[t.Key()] = q
		}
	}
	return quotes, nil
}

var _ pricing.Oracle = (*Oracle)(nil)
