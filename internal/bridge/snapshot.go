package bridge

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"tickbridge.ai/internal/protocol"
)

const (
	maxHealth = 20.0
	maxFood   = 20.0
)

// validateObs rejects frames the bridge cannot turn into a consistent snapshot.
func validateObs(o protocol.ObsMsg) error {
	s := o.Self
	for _, v := range []float64{s.Yaw, s.Pitch, s.Health, s.Food, s.Saturation, s.AttackCooldown} {
		if !finite(v) {
			return fmt.Errorf("self: non-finite value")
		}
	}
	if !finiteVec(s.Pos) || !finiteVec(s.Vel) {
		return fmt.Errorf("self: non-finite position or velocity")
	}
	seen := make(map[int64]struct{}, len(o.Entities))
	for _, e := range o.Entities {
		if e.ID < 0 {
			return fmt.Errorf("entity %d: negative id", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("entity %d: duplicate id", e.ID)
		}
		seen[e.ID] = struct{}{}
		if !finiteVec(e.Pos) || !finiteVec(e.Vel) || !finite(e.Yaw) || !finite(e.Pitch) {
			return fmt.Errorf("entity %d: non-finite value", e.ID)
		}
		if e.Health != nil && !finite(*e.Health) {
			return fmt.Errorf("entity %d: non-finite health", e.ID)
		}
	}
	return nil
}

func entitiesFromObs(o protocol.ObsMsg) []EntityInfo {
	out := make([]EntityInfo, 0, len(o.Entities))
	for _, e := range o.Entities {
		info := EntityInfo{
			ID:         e.ID,
			EntityType: e.Type,
			Position:   mgl64.Vec3(e.Pos),
			Velocity:   mgl64.Vec3(e.Vel),
			Yaw:        wrapYaw(e.Yaw),
			Pitch:      mgl64.Clamp(e.Pitch, -90, 90),
			OnGround:   e.OnGround,
		}
		if e.Type == EntityPlayer {
			info.Name = e.Name
		}
		if e.Health != nil {
			h := *e.Health
			info.Health = &h
		}
		out = append(out, info)
	}
	return out
}

// buildState materializes a snapshot. ents must already be filtered and sorted
// (Registry.Entities does both); the slice is owned by the returned state.
func buildState(o protocol.ObsMsg, tick uint64, ents []EntityInfo) GameState {
	s := o.Self
	return GameState{
		Position:       mgl64.Vec3(s.Pos),
		Velocity:       mgl64.Vec3(s.Vel),
		Yaw:            wrapYaw(s.Yaw),
		Pitch:          mgl64.Clamp(s.Pitch, -90, 90),
		Health:         mgl64.Clamp(s.Health, 0, maxHealth),
		Food:           mgl64.Clamp(s.Food, 0, maxFood),
		Saturation:     math.Max(0, s.Saturation),
		OnGround:       s.OnGround,
		Sprinting:      s.Sprinting,
		Sneaking:       s.Sneaking,
		AttackCooldown: mgl64.Clamp(s.AttackCooldown, 0, 1),
		Tick:           tick,
		ServerTick:     o.Tick,
		entities:       ents,
	}
}

// wrapYaw maps degrees into [-180,180).
func wrapYaw(deg float64) float64 {
	y := math.Mod(deg+180, 360)
	if y < 0 {
		y += 360
	}
	return y - 180
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func finiteVec(v [3]float64) bool { return finite(v[0]) && finite(v[1]) && finite(v[2]) }
