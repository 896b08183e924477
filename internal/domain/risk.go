package domain

// RiskLevel is the coarse classification of a token's risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// riskSeverity orders levels for MaxRiskLevel comparisons.
func riskSeverity(l RiskLevel) int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// Exceeds reports whether l is riskier than max.
func (l RiskLevel) Exceeds(max RiskLevel) bool {
	return riskSeverity(l) > riskSeverity(max)
}

// RiskAssessment combines an external trust score with a liquidity score.
// Recomputed per evaluation, cacheable by token identity with its own TTL
// independent of price and cost caches.
type RiskAssessment struct {
	RiskScore      float64 // 0-10, higher is safer
	LiquidityScore float64 // 0-100
	Level          RiskLevel

	// LowConfidence is set when the risk provider was unavailable and a
	// conservative default score was substituted.
	LowConfidence bool
}
