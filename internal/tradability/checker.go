// Package tradability answers whether a token can actually be sold on a
// supported venue. Venue answers are cached; an unavailable venue is
// treated as not tradable for the current run rather than an error.
package tradability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tax-harvest-lab/internal/cache"
	"tax-harvest-lab/internal/domain"
)

// defaultTTL is how long a venue answer is trusted.
const defaultTTL = 10 * time.Minute

// Venue reports whether a token is currently tradable.
type Venue interface {
	IsTradable(ctx context.Context, token domain.Token) (bool, error)
}

// Checker caches venue answers per token.
type Checker struct {
	venue Venue
	cache *cache.TTL[string, bool]
	log   zerolog.Logger
}

// NewChecker creates a checker over the given venue. A zero ttl uses
// the default.
func NewChecker(venue Venue, ttl time.Duration, log zerolog.Logger) *Checker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Checker{
		venue: venue,
		cache: cache.NewTTL[string, bool](ttl),
		log:   log,
	}
}

// IsTradable answers from cache when possible. A venue failure is
// logged and reported as not tradable; the failure answer is cached
// briefly so a flapping venue is not hammered.
func (c *Checker) IsTradable(ctx context.Context, token domain.Token) bool {
	key := token.Key()
	if tradable, ok := c.cache.Get(key); ok {
		return tradable
	}

	tradable, err := c.venue.IsTradable(ctx, token)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("token", key).
			Msg("tradability lookup failed, treating as not tradable")
		c.cache.SetTTL(key, false, time.Minute)
		return false
	}

	c.cache.Set(key, tradable)
	return tradable
}
