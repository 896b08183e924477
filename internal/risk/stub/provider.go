// Package stub provides a deterministic risk provider for tests and the
// fixture CLI.
package stub

import (
	"context"
	"sync"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/risk"
)

// Provider returns preconfigured scores per token key.
type Provider struct {
	mu     sync.Mutex
	scores map[string]risk.Score
	err    error
	calls  int
}

// NewProvider creates a stub with the given per-token scores.
func NewProvider(scores map[string]risk.Score) *Provider {
	if scores == nil {
		scores = make(map[string]risk.Score)
	}
	return &Provider{scores: scores}
}

// FailWith makes every subsequent call return err.
func (p *Provider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns how many lookups were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// GetRiskScore returns the configured score for the token, or a neutral
// safe default when the token is unknown.
func (p *Provider) GetRiskScore(_ context.Context, token domain.Token) (risk.Score, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return risk.Score{}, p.err
	}
	if s, ok := p.scores[token.Key()]; ok {
		return s, nil
	}
	return risk.Score{RiskScore: 8, LiquidityScore: 90}, nil
}

var _ risk.Provider = (*Provider)(nil)
