// Package backoff implements the exponential-backoff retry policy spec'd
// for transport retries: base delay, factor 2, capped at max delay.
package backoff

import "time"

// Policy is an exponential backoff schedule with a hard cap.
type Policy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Default mirrors the source's REST adapter retry policy.
func Default() Policy {
	return Policy{Base: 250 * time.Millisecond, Factor: 2, Max: 10 * time.Second}
}

// Delay returns the delay before the attempt'th retry (attempt is 0-indexed:
// attempt 0 is the delay before the first retry after the initial failure).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if time.Duration(d) >= p.Max {
			return p.Max
		}
	}
	capped := time.Duration(d)
	if capped > p.Max {
		return p.Max
	}
	return capped
}
