package domain

import "time"

// OpportunityCandidate is a loss-making position paired with its risk
// assessment. Produced only for snapshots with UnrealizedPnLUSD < 0.
type OpportunityCandidate struct {
	Snapshot PositionSnapshot
	Risk     RiskAssessment
}

// EligibilityResult reports which checks a candidate failed, if any.
// Pure function of a candidate and a cost estimate; never persisted.
type EligibilityResult struct {
	Passed       bool
	FailedChecks []string
}

// NetBenefitResult is the financial outcome of realizing one loss.
type NetBenefitResult struct {
	TaxSavingsUSD float64
	TotalCostUSD  float64
	NetBenefitUSD float64
	Recommended   bool // NetBenefitUSD > 0
	EfficiencyPct float64
}

// Opportunity is the final output unit: a qualified candidate with its
// cost estimate and benefit calculation. Lists are ordered by
// NetBenefitUSD descending, token key ascending on ties.
type Opportunity struct {
	Candidate   OpportunityCandidate
	Cost        CostEstimate
	Benefit     NetBenefitResult
	Eligibility EligibilityResult
}

// Token returns the token this opportunity acts on.
func (o *Opportunity) Token() Token {
	return o.Candidate.Snapshot.Lot.Token
}

// ExcludedLot records a lot-level input-data failure: the lot was left out
// of the run with a reason code instead of silently dropping data.
type ExcludedLot struct {
	Token  Token
	Reason string
}

// HarvestReport is the result of one full computation run.
type HarvestReport struct {
	RunID         string
	UserID        string
	ParameterHash string
	Opportunities []Opportunity
	Excluded      []ExcludedLot
	ComputedAt    time.Time
	Partial       bool // run deadline hit; some candidates missing
	FromCache     bool
	Duration      time.Duration
}
