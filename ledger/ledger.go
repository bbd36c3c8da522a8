// Package ledger keeps a logical account of bytes charged against a memory
// budget.
//
// The ledger does not measure real memory. Callers charge it with declared
// sizes (the encoded length of source text, console output and results), which
// keeps every budget check reproducible regardless of the evaluator's actual
// allocation behavior.
package ledger

import "sync"

// Usage is a snapshot of the ledger.
type Usage struct {
	Current int64 `json:"current"`
	Peak    int64 `json:"peak"`
	Limit   int64 `json:"limit"`
}

// Ledger tracks current and peak charged bytes. 0 <= current <= limit and
// peak >= current hold after every operation.
type Ledger struct {
	mu      sync.Mutex
	current int64
	peak    int64
	limit   int64
}

// New returns an empty ledger with the given limit.
func New(limit int64) *Ledger {
	if limit < 0 {
		limit = 0
	}
	return &Ledger{limit: limit}
}

// Allocate charges bytes. It returns false and leaves the ledger untouched if
// the charge would exceed the limit.
func (l *Ledger) Allocate(bytes int64) bool {
	if bytes < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if bytes > l.limit-l.current {
		return false
	}
	l.current += bytes
	if l.current > l.peak {
		l.peak = l.current
	}
	return true
}

// Deallocate releases bytes, flooring current at zero.
func (l *Ledger) Deallocate(bytes int64) {
	if bytes <= 0 {
		return
	}
	l.mu.Lock()
	l.current -= bytes
	if l.current < 0 {
		l.current = 0
	}
	l.mu.Unlock()
}

// Available returns the bytes that can still be charged.
func (l *Ledger) Available() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - l.current
}

// Usage returns current, peak and limit.
func (l *Ledger) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Usage{Current: l.current, Peak: l.peak, Limit: l.limit}
}

// Reset zeroes current and peak.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.current = 0
	l.peak = 0
	l.mu.Unlock()
}
