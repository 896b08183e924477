// Package risk maps external trust and liquidity scores to a coarse
// risk level and wraps the external risk provider with caching and a
// conservative fallback.
package risk

import "tax-harvest-lab/internal/domain"

// Score boundaries for the classification rule table.
const (
	liquidityOverrideBelow = 50.0 // liquidity below this is always HIGH
	highScoreCeiling       = 3.0  // risk_score <= 3 → HIGH
	mediumScoreCeiling     = 6.0  // 4..6 → MEDIUM, >= 7 → LOW

	// fallbackRiskScore is the conservative mid-range default used when
	// the provider is unavailable.
	fallbackRiskScore = 5.0
)

// Classify applies the rule table, in order:
// liquidity override first, then score bands. Total over valid inputs.
func Classify(riskScore, liquidityScore float64) domain.RiskLevel {
	if liquidityScore < liquidityOverrideBelow {
		return domain.RiskHigh
	}
	switch {
	case riskScore <= highScoreCeiling:
		return domain.RiskHigh
	case riskScore <= mediumScoreCeiling:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Assess builds a full RiskAssessment from raw scores.
func Assess(riskScore, liquidityScore float64) domain.RiskAssessment {
	return domain.RiskAssessment{
		RiskScore:      riskScore,
		LiquidityScore: liquidityScore,
		Level:          Classify(riskScore, liquidityScore),
	}
}
