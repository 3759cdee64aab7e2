package bridge

import "fmt"

// VectorVersion identifies the ToVector layout. Any change to field order or
// meaning must bump it.
const VectorVersion = 1

var scalarFields = []string{
	"x", "y", "z",
	"yaw", "pitch",
	"vx", "vy", "vz",
	"health", "food",
	"on_ground", "sprinting", "sneaking",
	"attack_cooldown",
}

var playerSlotFields = []string{
	"x", "y", "z",
	"yaw", "pitch",
	"vx", "vy", "vz",
	"health",
	"dx", "dy", "dz",
}

// VectorLayout selects optional parts of the observation vector.
type VectorLayout struct {
	// PadPlayers appends this many nearest-player slots, zero-filled when fewer
	// players are tracked.
	PadPlayers int
}

func (l VectorLayout) Len() int {
	return len(scalarFields) + l.pad()*len(playerSlotFields)
}

func (l VectorLayout) pad() int {
	if l.PadPlayers < 0 {
		return 0
	}
	return l.PadPlayers
}

// VectorFields names each ToVector position for the given layout.
func VectorFields(l VectorLayout) []string {
	out := make([]string, 0, l.Len())
	out = append(out, scalarFields...)
	for i := 0; i < l.pad(); i++ {
		for _, f := range playerSlotFields {
			out = append(out, fmt.Sprintf("players[%d].%s", i, f))
		}
	}
	return out
}

// ToVector flattens the snapshot. Booleans are 0 or 1.
func (g GameState) ToVector(l VectorLayout) []float64 {
	out := make([]float64, 0, l.Len())
	out = append(out,
		g.Position.X(), g.Position.Y(), g.Position.Z(),
		g.Yaw, g.Pitch,
		g.Velocity.X(), g.Velocity.Y(), g.Velocity.Z(),
		g.Health, g.Food,
		b2f(g.OnGround), b2f(g.Sprinting), b2f(g.Sneaking),
		g.AttackCooldown,
	)
	n := l.pad()
	if n == 0 {
		return out
	}
	players := nearbyPlayers(g.Position, g.entities, 0)
	for i := 0; i < n; i++ {
		if i >= len(players) {
			out = append(out, make([]float64, len(playerSlotFields))...)
			continue
		}
		p := players[i]
		h := 0.0
		if p.Health != nil {
			h = *p.Health
		}
		d := p.Position.Sub(g.Position)
		out = append(out,
			p.Position.X(), p.Position.Y(), p.Position.Z(),
			p.Yaw, p.Pitch,
			p.Velocity.X(), p.Velocity.Y(), p.Velocity.Z(),
			h,
			d.X(), d.Y(), d.Z(),
		)
	}
	return out
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
