package risk

import (
	"testing"
	"time"

	"github.com/ashfall-systems/perpcore/internal/clock"
)

func TestCircuitBreaker_DoesNotTripBelowThreshold(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	settings := testRiskSettings() // ConsecutiveLosses = 3
	cb := NewCircuitBreaker(settings, c)

	cb.RecordLoss()
	cb.RecordLoss()
	if cb.IsTripped() {
		t.Fatal("expected breaker not tripped at 2 consecutive losses (threshold 3)")
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	settings := testRiskSettings()
	cb := NewCircuitBreaker(settings, c)

	cb.RecordLoss()
	cb.RecordLoss()
	cb.RecordLoss()
	if !cb.IsTripped() {
		t.Fatal("expected breaker tripped at 3 consecutive losses")
	}
	if cb.IsTradingAllowed() {
		t.Fatal("expected trading blocked while tripped")
	}
}

func TestCircuitBreaker_WinResetsConsecutiveCount(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	settings := testRiskSettings()
	cb := NewCircuitBreaker(settings, c)

	cb.RecordLoss()
	cb.RecordLoss()
	cb.RecordWin()
	cb.RecordLoss()
	cb.RecordLoss()
	if cb.IsTripped() {
		t.Fatal("expected win to reset streak, avoiding a trip at 2+2 losses")
	}
}

func TestCircuitBreaker_AutoResetsAfterCooldown(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	settings := testRiskSettings() // CooldownHours = 4
	cb := NewCircuitBreaker(settings, c)

	cb.RecordLoss()
	cb.RecordLoss()
	cb.RecordLoss()
	if !cb.IsTripped() {
		t.Fatal("expected tripped immediately after threshold losses")
	}

	c.Advance(3*time.Hour + 59*time.Minute)
	if !cb.IsTripped() {
		t.Fatal("expected still tripped just under the 4h cooldown")
	}

	c.Advance(2 * time.Minute)
	if cb.IsTripped() {
		t.Fatal("expected auto-reset once the 4h cooldown has elapsed")
	}
	if cb.ConsecutiveLosses() != 0 {
		t.Fatal("expected consecutive-loss count cleared on auto-reset")
	}
}

func TestCircuitBreaker_ForceTrip(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	settings := testRiskSettings()
	cb := NewCircuitBreaker(settings, c)

	cb.ForceTrip()
	if !cb.IsTripped() {
		t.Fatal("expected ForceTrip to trip the breaker")
	}
	if cb.TotalTrips() != 1 {
		t.Fatalf("expected 1 total trip, got %d", cb.TotalTrips())
	}
}
