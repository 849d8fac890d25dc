package stream

import (
	"sync"
	"time"

	"fraudgate/internal/metrics"
)

// BreakerState follows the usual closed / half-open / open progression.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker halts store-directed work after repeated transient failures and
// resumes it only after a cool-down and one successful probe. Shared by all
// partition workers of a consumer: a failing store affects every partition,
// so the blast radius is the whole consumer.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	state       BreakerState
	consecutive int
	openedAt    time.Time
	probing     bool

	now func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a store attempt may proceed. While open it admits
// nothing until the cool-down elapses, then half-opens and admits a single
// probe at reduced concurrency.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.probing = false
	b.setState(BreakerClosed)
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == BreakerHalfOpen {
		// Failed probe: straight back to open.
		b.openedAt = b.now()
		b.setState(BreakerOpen)
		return
	}

	b.consecutive++
	if b.consecutive >= b.threshold {
		b.openedAt = b.now()
		b.setState(BreakerOpen)
	}
}

// ReleaseProbe hands back an admitted probe slot that never reached the
// store, such as an empty poll. Without this the half-open state would wait
// forever for an outcome that is never recorded.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RemainingCooldown tells a paused worker how long to wait before probing.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return 0
	}
	remaining := b.cooldown - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	metrics.BreakerState.Set(float64(s))
}
