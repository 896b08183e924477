package txsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tax-harvest-lab/internal/domain"
	"tax-harvest-lab/internal/observability"
)

const (
	// defaultFailureThreshold is the number of consecutive primary
	// failures before the primary is benched.
	defaultFailureThreshold = 3

	// defaultCooldown is how long a benched primary stays out of
	// rotation before it is retried.
	defaultCooldown = 2 * time.Minute
)

// FailoverSource fetches from a primary source and falls back to a
// secondary when the primary fails. After failureThreshold consecutive
// primary failures the primary is benched for a cooldown and requests
// go straight to the fallback.
type FailoverSource struct {
	primary  TransactionSource
	fallback TransactionSource
	limiter  *rate.Limiter
	log      zerolog.Logger

	failureThreshold int
	cooldown         time.Duration

	mu           sync.Mutex
	failures     int
	benchedUntil time.Time

	now func() time.Time
}

// FailoverOptions contains configuration for creating a FailoverSource.
type FailoverOptions struct {
	Primary  TransactionSource
	Fallback TransactionSource

	// Limiter throttles outbound fetches across both sources. Nil
	// means unlimited.
	Limiter *rate.Limiter

	// FailureThreshold and Cooldown default to 3 and 2m when zero.
	FailureThreshold int
	Cooldown         time.Duration

	Log zerolog.Logger
}

// NewFailoverSource creates a new FailoverSource.
func NewFailoverSource(opts FailoverOptions) *FailoverSource {
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &FailoverSource{
		primary:          opts.Primary,
		fallback:         opts.Fallback,
		limiter:          opts.Limiter,
		log:              opts.Log,
		failureThreshold: threshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Compile-time interface check.
var _ TransactionSource = (*FailoverSource)(nil)

// Fetch returns the user's transactions from the first source that
// answers.
func (s *FailoverSource) Fetch(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	if !s.primaryBenched() {
		txs, err := s.primary.Fetch(ctx, userID)
		if err == nil {
			s.recordSuccess()
			return txs, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		s.recordFailure(err)
		if s.fallback == nil {
			return nil, fmt.Errorf("primary source: %w", err)
		}
	} else if s.fallback == nil {
		return nil, fmt.Errorf("primary source benched: %w", domain.ErrExternalService)
	}

	txs, err := s.fallback.Fetch(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fallback source: %w", err)
	}
	return txs, nil
}

// primaryBenched reports whether the primary is in cooldown.
func (s *FailoverSource) primaryBenched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.benchedUntil)
}

func (s *FailoverSource) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

func (s *FailoverSource) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if s.failures >= s.failureThreshold {
		s.benchedUntil = s.now().Add(s.cooldown)
		s.failures = 0
		observability.RecordSourceFailover()
		s.log.Warn().
			Err(err).
			Dur("cooldown", s.cooldown).
			Msg("primary transaction source benched after repeated failures")
	}
}
