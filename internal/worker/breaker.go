package worker

import (
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState int

// Breaker states
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Default circuit breaker settings
const (
	DefaultFailureThreshold = 5
	DefaultBreakerCooldown  = 60 * time.Second
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the breaker
	Cooldown         time.Duration // how long the breaker stays open before a trial
	OnStateChange    func(from, to BreakerState)
}

// CircuitBreaker gates processing after repeated failures. It is process
// local; all methods are safe for concurrent use.
//
// Closed: failures are counted, a success resets the count, reaching the
// threshold opens the breaker. Open: unavailable until the cooldown elapses.
// HalfOpen: IsAvailable returns true once per cooldown window; the next
// RecordSuccess closes the breaker and the next RecordFailure re-opens it.
type CircuitBreaker struct {
	mu            sync.Mutex
	threshold     int
	cooldown      time.Duration
	onStateChange func(from, to BreakerState)
	now           func() time.Time

	state         BreakerState
	failures      int
	openedAt      time.Time
	probeIssuedAt time.Time
	probeIssued   bool
}

// NewCircuitBreaker creates a closed CircuitBreaker
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}

	return &CircuitBreaker{
		threshold:     threshold,
		cooldown:      cooldown,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
		state:         BreakerClosed,
	}
}

// IsAvailable reports whether a processing attempt may be made. It never blocks.
func (b *CircuitBreaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(BreakerHalfOpen)
		b.probeIssued = true
		b.probeIssuedAt = now
		return true

	case BreakerHalfOpen:
		// A trial handed out but never reported (e.g. the queue was empty)
		// is re-issued after another cooldown.
		if b.probeIssued && now.Sub(b.probeIssuedAt) < b.cooldown {
			return false
		}
		b.probeIssued = true
		b.probeIssuedAt = now
		return true
	}

	return false
}

// RecordSuccess closes the breaker and resets the failure count
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeIssued = false
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// re-opening it when the half-open trial failed
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.open()
		}
	case BreakerHalfOpen:
		b.open()
	case BreakerOpen:
		// late report from an attempt started before the breaker opened
	}
}

// State returns the current state without side effects
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) open() {
	b.openedAt = b.now()
	b.probeIssued = false
	b.transition(BreakerOpen)
}

func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed || to == BreakerOpen {
		b.failures = 0
	}
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}
