package risk

import (
	"sync"
	"time"

	"github.com/ashfall-systems/perpcore/internal/clock"
	"github.com/ashfall-systems/perpcore/internal/config"
)

// CircuitBreaker trips after a configured number of consecutive losses and
// blocks new entries until a cooldown window elapses, then auto-resets.
type CircuitBreaker struct {
	clock        clock.Clock
	maxConsecutive int
	cooldown       time.Duration

	mu                sync.Mutex
	consecutiveLosses int
	tripped           bool
	trippedAtMs       int64
	totalTrips        int
}

// NewCircuitBreaker builds a CircuitBreaker over settings, using c for time
// so tests can advance the cooldown deterministically.
func NewCircuitBreaker(settings config.RiskSettings, c clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{
		clock: c, maxConsecutive: settings.CircuitBreakerConsecutiveLosses,
		cooldown: time.Duration(settings.CircuitBreakerCooldownHours) * time.Hour,
	}
}

// IsTripped reports whether the breaker currently blocks trading. If the
// cooldown has elapsed it auto-resets and returns false.
func (c *CircuitBreaker) IsTripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tripped {
		return false
	}
	elapsed := c.clock.NowMs() - c.trippedAtMs
	if elapsed >= c.cooldown.Milliseconds() {
		c.resetLocked()
		return false
	}
	return true
}

// ConsecutiveLosses returns the current consecutive-loss count.
func (c *CircuitBreaker) ConsecutiveLosses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveLosses
}

// TotalTrips returns the lifetime trip count.
func (c *CircuitBreaker) TotalTrips() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalTrips
}

// CooldownRemaining returns how much of the trip's cooldown remains.
func (c *CircuitBreaker) CooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tripped {
		return 0
	}
	elapsed := time.Duration(c.clock.NowMs()-c.trippedAtMs) * time.Millisecond
	remaining := c.cooldown - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordWin clears the consecutive-loss counter.
func (c *CircuitBreaker) RecordWin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLosses = 0
}

// RecordLoss increments the consecutive-loss counter, tripping the breaker
// once it reaches the configured threshold.
func (c *CircuitBreaker) RecordLoss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLosses++
	if c.consecutiveLosses >= c.maxConsecutive {
		c.tripLocked()
	}
}

func (c *CircuitBreaker) tripLocked() {
	c.tripped = true
	c.trippedAtMs = c.clock.NowMs()
	c.totalTrips++
}

func (c *CircuitBreaker) resetLocked() {
	c.tripped = false
	c.trippedAtMs = 0
	c.consecutiveLosses = 0
}

// ForceTrip manually trips the breaker, e.g. via the admin API.
func (c *CircuitBreaker) ForceTrip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tripLocked()
}

// IsTradingAllowed is the inverse of IsTripped.
func (c *CircuitBreaker) IsTradingAllowed() bool { return !c.IsTripped() }
