package mcp

import (
	"sync"
	"time"
)

const (
	replayPruneAt = 4096
	replayMax     = 65536
)

// replayGuard remembers accepted signatures per agent until they expire, so a
// captured request cannot be sent again inside the signature window.
type replayGuard struct {
	ttl time.Duration

	mu        sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &replayGuard{ttl: ttl, seen: map[string]time.Time{}}
}

// allow records the signature and reports whether it was fresh. A nil guard
// or an empty signature always passes.
func (g *replayGuard) allow(agentID, signature string, now time.Time) bool {
	if g == nil || signature == "" {
		return true
	}
	key := agentID + "|" + signature

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seen) > replayPruneAt || now.Sub(g.lastPrune) > g.ttl/2 {
		for k, exp := range g.seen {
			if !exp.After(now) {
				delete(g.seen, k)
			}
		}
		g.lastPrune = now
	}
	if exp, ok := g.seen[key]; ok && exp.After(now) {
		return false
	}
	if len(g.seen) >= replayMax {
		// Still full of live entries after pruning; start over.
		g.seen = map[string]time.Time{}
	}
	g.seen[key] = now.Add(g.ttl)
	return true
}
