package bridge

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// State is a session's lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoiningWorld
	StateInGame
	StateDisconnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoiningWorld:
		return "joining_world"
	case StateInGame:
		return "in_game"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateDisconnected || s == StateErrored }

const (
	EntityPlayer = "player"
	EntityZombie = "zombie"
	EntityItem   = "item"
)

// EntityInfo is one tracked entity as of a snapshot.
type EntityInfo struct {
	ID         int64
	EntityType string
	Name       string // players only
	Position   mgl64.Vec3
	Velocity   mgl64.Vec3
	Yaw        float64
	Pitch      float64
	Health     *float64
	OnGround   bool
}

func (e EntityInfo) DistanceTo(other EntityInfo) float64 {
	return e.Position.Sub(other.Position).Len()
}

func (e EntityInfo) HorizontalDistanceTo(other EntityInfo) float64 {
	return horizontal(e.Position, other.Position)
}

func (e EntityInfo) clone() EntityInfo {
	if e.Health != nil {
		h := *e.Health
		e.Health = &h
	}
	return e
}

// GameState is an immutable snapshot. Accessors return copies so a caller
// cannot reach back into session state.
type GameState struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
	Yaw      float64
	Pitch    float64

	Health     float64
	Food       float64
	Saturation float64

	OnGround  bool
	Sprinting bool
	Sneaking  bool

	AttackCooldown float64

	Tick       uint64
	ServerTick uint64

	entities []EntityInfo
}

func (g GameState) X() float64  { return g.Position.X() }
func (g GameState) Y() float64  { return g.Position.Y() }
func (g GameState) Z() float64  { return g.Position.Z() }
func (g GameState) VX() float64 { return g.Velocity.X() }
func (g GameState) VY() float64 { return g.Velocity.Y() }
func (g GameState) VZ() float64 { return g.Velocity.Z() }

// Entities returns the tracked entities sorted by ascending id.
func (g GameState) Entities() []EntityInfo {
	out := make([]EntityInfo, len(g.entities))
	for i, e := range g.entities {
		out[i] = e.clone()
	}
	return out
}

func (g GameState) DistanceTo(p mgl64.Vec3) float64 { return g.Position.Sub(p).Len() }

func (g GameState) HorizontalDistanceTo(p mgl64.Vec3) float64 { return horizontal(g.Position, p) }

func horizontal(a, b mgl64.Vec3) float64 {
	return math.Hypot(a.X()-b.X(), a.Z()-b.Z())
}
