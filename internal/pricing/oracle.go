// Package pricing provides the price oracle consumed by the harvest
// engine: an HTTP client with retry, a streaming WebSocket feed, and a
// stub for tests. The engine treats the oracle as one synchronous call
// with a timeout; fallback chains live behind the interface.
package pricing

import (
	"context"
	"errors"
	"time"

	"tax-harvest-lab/internal/domain"
)

// ErrNoPrice is returned when the oracle has no quote for a token.
var ErrNoPrice = errors.New("no price available")

// Quote is one token price observation.
type Quote struct {
	Token        domain.Token
	UnitPriceUSD float64
	AsOf         time.Time
}

// Oracle answers price lookups. GetPrices results are keyed by
// Token.Key(); tokens without a quote are absent from the map, not an
// error, so one unknown token cannot fail a batch.
type Oracle interface {
	GetPrice(ctx context.Context, token domain.Token) (Quote, error)
	GetPrices(ctx context.Context, tokens []domain.Token) (map[string]Quote, error)
}
