package bridge

import (
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Registry holds the entities around one session. Entities outside the
// tracking radius of the session's own position are never kept.
type Registry struct {
	radius float64

	mu       sync.RWMutex
	self     mgl64.Vec3
	entities []EntityInfo // ascending id
}

// NewRegistry returns a registry; radius <= 0 disables the radius filter.
func NewRegistry(radius float64) *Registry {
	return &Registry{radius: radius}
}

// Replace swaps in a new entity set seen from self.
func (r *Registry) Replace(self mgl64.Vec3, ents []EntityInfo) {
	kept := make([]EntityInfo, 0, len(ents))
	for _, e := range ents {
		if r.radius > 0 && e.Position.Sub(self).Len() > r.radius {
			continue
		}
		kept = append(kept, e.clone())
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })

	r.mu.Lock()
	r.self = self
	r.entities = kept
	r.mu.Unlock()
}

// Entities returns a copy sorted by ascending id.
func (r *Registry) Entities() []EntityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntityInfo, len(r.entities))
	for i, e := range r.entities {
		out[i] = e.clone()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

func (r *Registry) NearestEntity(entityType string, maxDistance float64) (EntityInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return nearestEntity(r.self, r.entities, entityType, maxDistance)
}

func (r *Registry) NearbyPlayers(maxDistance float64) []EntityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return nearbyPlayers(r.self, r.entities, maxDistance)
}

// NearestEntity finds the closest entity, optionally of one type. An empty
// entityType matches any type and maxDistance <= 0 means unbounded.
func (g GameState) NearestEntity(entityType string, maxDistance float64) (EntityInfo, bool) {
	return nearestEntity(g.Position, g.entities, entityType, maxDistance)
}

// NearbyPlayers returns players by ascending distance, ties by id.
func (g GameState) NearbyPlayers(maxDistance float64) []EntityInfo {
	return nearbyPlayers(g.Position, g.entities, maxDistance)
}

// ents must be sorted by id; the strict comparison keeps the lowest id on ties.
func nearestEntity(self mgl64.Vec3, ents []EntityInfo, entityType string, maxDistance float64) (EntityInfo, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, e := range ents {
		if entityType != "" && e.EntityType != entityType {
			continue
		}
		d := e.Position.Sub(self).Len()
		if maxDistance > 0 && d > maxDistance {
			continue
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return EntityInfo{}, false
	}
	return ents[best].clone(), true
}

func nearbyPlayers(self mgl64.Vec3, ents []EntityInfo, maxDistance float64) []EntityInfo {
	type cand struct {
		e EntityInfo
		d float64
	}
	var cs []cand
	for _, e := range ents {
		if e.EntityType != EntityPlayer {
			continue
		}
		d := e.Position.Sub(self).Len()
		if maxDistance > 0 && d > maxDistance {
			continue
		}
		cs = append(cs, cand{e: e.clone(), d: d})
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].d != cs[j].d {
			return cs[i].d < cs[j].d
		}
		return cs[i].e.ID < cs[j].e.ID
	})
	out := make([]EntityInfo, len(cs))
	for i, c := range cs {
		out[i] = c.e
	}
	return out
}
