package stream

import (
	"testing"
	"time"
)

func testBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, cooldown)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != BreakerClosed {
			t.Fatalf("state = %v after %d failures, want closed", b.State(), i+1)
		}
		if !b.Allow() {
			t.Fatalf("Allow() = false while closed")
		}
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v after threshold failures, want open", b.State())
	}
	if b.Allow() {
		t.Fatalf("Allow() = true while open inside cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, non-consecutive failures must not open", b.State())
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, now := testBreaker(1, time.Minute)

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	*now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatalf("Allow() = false after cooldown, want single probe admitted")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if b.Allow() {
		t.Fatalf("Allow() = true for second caller during probe")
	}
}

func TestBreakerProbeOutcomes(t *testing.T) {
	t.Run("probe success closes", func(t *testing.T) {
		b, now := testBreaker(1, time.Minute)
		b.RecordFailure()
		*now = now.Add(time.Minute)
		if !b.Allow() {
			t.Fatalf("probe not admitted")
		}
		b.RecordSuccess()
		if b.State() != BreakerClosed {
			t.Fatalf("state = %v after probe success, want closed", b.State())
		}
		if !b.Allow() {
			t.Fatalf("Allow() = false after close")
		}
	})

	t.Run("probe failure reopens", func(t *testing.T) {
		b, now := testBreaker(1, time.Minute)
		b.RecordFailure()
		*now = now.Add(time.Minute)
		if !b.Allow() {
			t.Fatalf("probe not admitted")
		}
		b.RecordFailure()
		if b.State() != BreakerOpen {
			t.Fatalf("state = %v after probe failure, want open", b.State())
		}
		if b.Allow() {
			t.Fatalf("Allow() = true right after reopening")
		}
	})
}

func TestBreakerReleaseProbeFreesSlot(t *testing.T) {
	b, now := testBreaker(1, time.Minute)

	b.RecordFailure()
	*now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatalf("probe not admitted after cooldown")
	}
	if b.Allow() {
		t.Fatalf("second probe admitted while first is outstanding")
	}

	// The probe holder found nothing to store.
	b.ReleaseProbe()
	if !b.Allow() {
		t.Fatalf("Allow() = false after probe release, slot leaked")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want still half-open", b.State())
	}
}

func TestBreakerReleaseProbeOnlyActsWhileHalfOpen(t *testing.T) {
	b, _ := testBreaker(2, time.Minute)

	b.ReleaseProbe()
	if b.State() != BreakerClosed || !b.Allow() {
		t.Fatalf("release while closed changed behavior")
	}

	b.RecordFailure()
	b.RecordFailure()
	b.ReleaseProbe()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, release must not reopen the gate", b.State())
	}
	if b.Allow() {
		t.Fatalf("Allow() = true inside cooldown after release")
	}
}

func TestBreakerRemainingCooldown(t *testing.T) {
	b, now := testBreaker(1, time.Minute)

	if got := b.RemainingCooldown(); got != 0 {
		t.Fatalf("RemainingCooldown() = %v while closed, want 0", got)
	}

	b.RecordFailure()
	*now = now.Add(15 * time.Second)
	if got := b.RemainingCooldown(); got != 45*time.Second {
		t.Fatalf("RemainingCooldown() = %v, want 45s", got)
	}

	*now = now.Add(2 * time.Minute)
	if got := b.RemainingCooldown(); got != 0 {
		t.Fatalf("RemainingCooldown() = %v past cooldown, want 0", got)
	}
}
