// Package stub provides deterministic fee and quote sources for tests
// and the fixture CLI.
package stub

import (
	"context"
	"sync"

	"tax-harvest-lab/internal/costs"
	"tax-harvest-lab/internal/domain"
)

// FeeSource returns fixed gas costs per chain.
type FeeSource struct {
	mu       sync.Mutex
	gasUSD   map[domain.Chain]float64
	feeRate  map[domain.Chain]float64
	err      error
	rateErr  error
	calls    int
}

// NewFeeSource creates a stub fee source. Unknown chains cost $5.
func NewFeeSource(gasUSD map[domain.Chain]float64) *FeeSource {
	if gasUSD == nil {
		gasUSD = make(map[domain.Chain]float64)
	}
	return &FeeSource{gasUSD: gasUSD, feeRate: make(map[domain.Chain]float64)}
}

// FailWith makes GasCostUSD return err; FeeRateUSDPerGas keeps working
// unless FailRateWith is also set.
func (s *FeeSource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FailRateWith makes FeeRateUSDPerGas return err.
func (s *FeeSource) FailRateWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateErr = err
}

// SetFeeRate configures the heuristic fee rate for chain.
func (s *FeeSource) SetFeeRate(chain domain.Chain, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeRate[chain] = rate
}

// Calls returns how many GasCostUSD lookups were made.
func (s *FeeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *FeeSource) GasCostUSD(_ context.Context, chain domain.Chain) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if v, ok := s.gasUSD[chain]; ok {
		return v, nil
	}
	return 5, nil
}

func (s *FeeSource) FeeRateUSDPerGas(_ context.Context, chain domain.Chain) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rateErr != nil {
		return 0, s.rateErr
	}
	if v, ok := s.feeRate[chain]; ok {
		return v, nil
	}
	return 0.00002, nil
}

var _ costs.NetworkFeeSource = (*FeeSource)(nil)

// QuoteSource returns a fixed slippage percentage.
type QuoteSource struct {
	mu    sync.Mutex
	pct   float64
	err   error
	calls int
}

// NewQuoteSource creates a stub quote source returning pct slippage.
func NewQuoteSource(pct float64) *QuoteSource {
	return &QuoteSource{pct: pct}
}

// FailWith makes every subsequent call return err.
func (s *QuoteSource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many lookups were made.
func (s *QuoteSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *QuoteSource) SlippagePct(_ context.Context, _ domain.Token, _ float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.pct, nil
}

var _ costs.TradeQuoteSource = (*QuoteSource)(nil)
