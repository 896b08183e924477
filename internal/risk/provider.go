package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tax-harvest-lab/internal/cache"
	"tax-harvest-lab/internal/domain"
)

// DefaultCacheTTL bounds how long an assessment is reused per token.
const DefaultCacheTTL = time.Hour

// Score is the raw answer from an external risk/liquidity service.
type Score struct {
	RiskScore      float64 // 0-10
	LiquidityScore float64 // 0-100
}

// Provider fetches raw scores for a token. Implementations select real
// or stub behavior at construction time.
type Provider interface {
	GetRiskScore(ctx context.Context, token domain.Token) (Score, error)
}

// Assessor wraps a Provider with per-token caching and a conservative
// fallback when the provider fails.
type Assessor struct {
	provider Provider
	cache    *cache.TTL[string, domain.RiskAssessment]
	log      zerolog.Logger
}

// NewAssessor creates an Assessor with the given cache TTL.
func NewAssessor(provider Provider, ttl time.Duration, log zerolog.Logger) *Assessor {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Assessor{
		provider: provider,
		cache:    cache.NewTTL[string, domain.RiskAssessment](ttl),
		log:      log.With().Str("component", "risk").Logger(),
	}
}

// Assess returns the token's risk assessment, from cache when fresh.
// Provider failure degrades to the mid-range default score with the
// assessment flagged low-confidence; it never fails the caller.
func (a *Assessor) Assess(ctx context.Context, token domain.Token) domain.RiskAssessment {
	key := token.Key()
	if cached, ok := a.cache.Get(key); ok {
		return cached
	}

	score, err := a.provider.GetRiskScore(ctx, token)
	if err != nil {
		a.log.Warn().Err(err).Str("token", key).Msg("risk provider failed, using conservative default")
		fallback := Assess(fallbackRiskScore, liquidityOverrideBelow)
		fallback.LowConfidence = true
		// Shorter trust window for fallback assessments.
		a.cache.SetTTL(key, fallback, DefaultCacheTTL/6)
		return fallback
	}

	assessment := Assess(score.RiskScore, score.LiquidityScore)
	a.cache.Set(key, assessment)
	return assessment
}
