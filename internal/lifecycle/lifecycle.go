// Package lifecycle holds the process phase shared by main and the health route.
package lifecycle

import (
	"sync"
	"time"
)

// Phase is where the process is in its start/serve/drain cycle.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseServing
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "draining"
	default:
		return "unknown"
	}
}

var (
	mu         sync.RWMutex
	phase      = PhaseStarting
	drainStart time.Time
)

// SetPhase moves the process to p. Entering PhaseDraining stamps the drain start once.
func SetPhase(p Phase) {
	mu.Lock()
	defer mu.Unlock()
	if p == PhaseDraining && phase != PhaseDraining {
		drainStart = time.Now()
	}
	if p != PhaseDraining {
		drainStart = time.Time{}
	}
	phase = p
}

// Current returns the current phase.
func Current() Phase {
	mu.RLock()
	defer mu.RUnlock()
	return phase
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == PhaseDraining
}

// DrainingFor returns how long the process has been draining, or zero.
func DrainingFor() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if drainStart.IsZero() {
		return 0
	}
	return time.Since(drainStart)
}
