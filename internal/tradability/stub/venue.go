// Package stub provides a deterministic venue for tests and the fixture
// CLI.
package stub

import (
	"context"
	"sync"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/tradability"
)

// Venue answers tradability from a fixed set of untradable tokens.
type Venue struct {
	mu         sync.Mutex
	untradable map[string]bool
	err        error
	calls      int
}

// NewVenue creates a stub venue where every token is tradable.
func NewVenue() *Venue {
	return &Venue{untradable: make(map[string]bool)}
}

// SetUntradable marks a token as not tradable.
func (v *Venue) SetUntradable(token domain.Token) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.untradable[token.Key()] = true
}

// FailWith makes every subsequent call return err.
func (v *Venue) FailWith(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

// Calls returns how many lookups were made.
func (v *Venue) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// IsTradable reports whether the token was not marked untradable.
func (v *Venue) IsTradable(_ context.Context, token domain.Token) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return false, v.err
	}
	return !v.untradable[token.Key()], nil
}

var _ tradability.Venue = (*Venue)(nil)
