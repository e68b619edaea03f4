package service

import "sync"

// stampedeTracker counts in-progress cache misses per key. More than one means concurrent
// requests missed the same key and, without coalescing, each would reach the upstreams.
type stampedeTracker struct {
	mu     sync.Mutex
	misses map[string]int
	peak   int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{misses: make(map[string]int)}
}

// begin registers a miss on key and returns the concurrent miss count including this one.
// done must be called exactly once when the miss is resolved.
func (st *stampedeTracker) begin(key string) (n int, done func()) {
	st.mu.Lock()
	st.misses[key]++
	n = st.misses[key]
	if n > st.peak {
		st.peak = n
	}
	st.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			if st.misses[key] <= 1 {
				delete(st.misses, key)
				return
			}
			st.misses[key]--
		})
	}
}

// active returns the number of keys with a miss in progress.
func (st *stampedeTracker) active() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.misses)
}

// peakConcurrency returns the highest per-key miss count seen.
func (st *stampedeTracker) peakConcurrency() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.peak
}
