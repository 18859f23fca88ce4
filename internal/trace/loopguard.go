// File: internal/trace/loopguard.go
package trace

import (
	"sync"
)

// Signature fingerprints one observed page state. The URL pins the location,
// the structural digest pins the screen layout; row data and timestamps do
// not participate, so revisiting the same stuck screen repeats the signature.
func Signature(url, structuralDigest string) string {
	return url + "#" + structuralDigest
}

// LoopGuard detects a run revisiting the same page state. When any signature
// recurs threshold times the run must halt rather than burn attempts cycling.
type LoopGuard struct {
	mu        sync.Mutex
	threshold int
	seen      map[string]int
}

// NewLoopGuard creates a guard with the given recurrence threshold.
func NewLoopGuard(threshold int) *LoopGuard {
	return &LoopGuard{
		threshold: threshold,
		seen:      make(map[string]int),
	}
}

// Observe records one occurrence of a state signature and reports whether
// the threshold has been reached.
func (g *LoopGuard) Observe(sig string) (count int, tripped bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[sig]++
	n := g.seen[sig]
	return n, n >= g.threshold
}

// Reset clears the recurrence history. Called when a run makes real progress
// past a milestone.
func (g *LoopGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[string]int)
}
