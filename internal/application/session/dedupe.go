package session

import (
	"context"
	"sync"
)

// DefaultDedupeMaxEntries bounds the in-memory dedupe set.
const DefaultDedupeMaxEntries = 5000

// Guard decides whether an inbound message id is seen for the first time.
type Guard interface {
	// ShouldProcess records id and reports whether it was new.
	// An empty id is always processed.
	ShouldProcess(ctx context.Context, id string) bool
}

// MemoryGuard is a process-local Guard. When the set grows past its ceiling
// it is cleared wholesale; duplicates arrive seconds apart, so losing old ids is fine.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
	max  int
}

// NewMemoryGuard creates a MemoryGuard holding at most maxEntries ids.
func NewMemoryGuard(maxEntries int) *MemoryGuard {
	if maxEntries <= 0 {
		maxEntries = DefaultDedupeMaxEntries
	}
	return &MemoryGuard{seen: make(map[string]struct{}), max: maxEntries}
}

// ShouldProcess implements Guard.
func (g *MemoryGuard) ShouldProcess(_ context.Context, id string) bool {
	if id == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.seen[id]; dup {
		return false
	}
	g.seen[id] = struct{}{}
	if len(g.seen) > g.max {
		g.seen = make(map[string]struct{})
	}
	return true
}

// Len returns the number of remembered ids.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
