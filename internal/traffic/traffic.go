package traffic

import (
	"sync"
	"time"
)

// retention bounds how far back any window may look.
const retention = 5 * time.Minute

var defaultTracker = NewTracker(time.Now)

// RecordFetch records one upstream fetch. degraded is true when at least one source
// fell back to its empty result.
func RecordFetch(degraded bool) {
	defaultTracker.RecordFetch(degraded)
}

// RecordAccepted records a request admitted by the rate limiter.
func RecordAccepted() {
	defaultTracker.RecordAccepted()
}

// RecordDenied records a rate-limit denial (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// RequestCount returns the number of requests (accepted + denied) on the rate-limited path within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// DegradedRate returns (degradedCount, fetchCount) within the window. Denials are excluded.
func DegradedRate(window time.Duration) (degraded, total int) {
	return defaultTracker.DegradedRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
// Single source of truth for the overloaded and degraded health states.
type Tracker struct {
	mu            sync.Mutex
	now           func() time.Time
	cleanTimes    []time.Time
	degradedTimes []time.Time
	acceptedTimes []time.Time
	deniedTimes   []time.Time
}

// NewTracker returns a Tracker reading time from now.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// RecordFetch records one upstream fetch outcome.
func (t *Tracker) RecordFetch(degraded bool) {
	if degraded {
		t.recordOutcome(&t.degradedTimes)
		return
	}
	t.recordOutcome(&t.cleanTimes)
}

// RecordAccepted records an admitted request in the tracker.
func (t *Tracker) RecordAccepted() {
	t.recordOutcome(&t.acceptedTimes)
}

// RecordDenied records a rate-limit denial (429) in the tracker.
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns accepted plus denied requests within the window.
// Upstream fetches are not requests: cache hits never reach them.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countSince(t.acceptedTimes, cutoff) + countSince(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.now().Add(-window))
}

// DegradedRate returns (degradedCount, fetchCount) within the window.
func (t *Tracker) DegradedRate(window time.Duration) (degraded, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	d := countSince(t.degradedTimes, cutoff)
	return d, d + countSince(t.cleanTimes, cutoff)
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanTimes = nil
	t.degradedTimes = nil
	t.acceptedTimes = nil
	t.deniedTimes = nil
}

// countSince counts timestamps that are not before the cutoff time.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.cleanTimes)
	prune(&t.degradedTimes)
	prune(&t.acceptedTimes)
	prune(&t.deniedTimes)
}
