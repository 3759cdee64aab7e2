package arena

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"tickbridge.ai/internal/protocol"
)

// WrapYaw maps any angle in degrees into [-180,180).
func WrapYaw(deg float64) float64 {
	y := math.Mod(deg+180, 360)
	if y < 0 {
		y += 360
	}
	return y - 180
}

// YawTowards is the yaw (degrees) that faces from one point to another.
// Yaw 0 faces +Z; positive yaw turns towards -X.
func YawTowards(from, to mgl64.Vec3) float64 {
	dx := to.X() - from.X()
	dz := to.Z() - from.Z()
	return WrapYaw(mgl64.RadToDeg(math.Atan2(-dx, dz)))
}

// facing is the horizontal unit vector for a yaw.
func facing(yaw float64) (x, z float64) {
	r := mgl64.DegToRad(yaw)
	return -math.Sin(r), math.Cos(r)
}

func (a *Arena) movePlayer(p *Player) {
	ph := a.t.Physics

	fx, fz := facing(p.Yaw)
	// Left of facing.
	lx, lz := fz, -fx
	mx := fx*p.Forward + lx*p.Strafe
	mz := fz*p.Forward + lz*p.Strafe
	if l := math.Hypot(mx, mz); l > 1 {
		mx /= l
		mz /= l
	}

	p.Sprinting = p.SprintWanted && p.Forward > 0 && !p.Sneaking && p.Food > a.t.Food.SprintMinFood
	speed := ph.WalkSpeed
	if p.Sprinting {
		speed = ph.SprintSpeed
	}
	if p.Sneaking {
		speed *= ph.SneakFactor
	}
	if !p.Eating {
		p.Vel[0] += mx * speed
		p.Vel[2] += mz * speed
	}

	if p.wantJump && p.OnGround && !p.Eating && p.JumpCD == 0 {
		p.Vel[1] = ph.JumpVelocity
		p.OnGround = false
		p.JumpCD = ph.JumpCooldown
	}

	a.integrate(&p.Body)
}

func (a *Arena) integrate(b *Body) {
	ph := a.t.Physics
	bounds := a.t.Arena

	if !b.OnGround {
		b.Vel[1] -= ph.Gravity
	}
	b.Vel[0] *= ph.Drag
	b.Vel[2] *= ph.Drag

	b.Pos = b.Pos.Add(b.Vel)

	if b.Pos.Y() <= bounds.FloorY {
		b.Pos[1] = bounds.FloorY
		b.Vel[1] = 0
		b.OnGround = true
	}
	if x := mgl64.Clamp(b.Pos.X(), bounds.MinX, bounds.MaxX); x != b.Pos.X() {
		b.Pos[0] = x
		b.Vel[0] = 0
	}
	if z := mgl64.Clamp(b.Pos.Z(), bounds.MinZ, bounds.MaxZ); z != b.Pos.Z() {
		b.Pos[2] = z
		b.Vel[2] = 0
	}
}

func (a *Arena) processEating(p *Player) {
	f := a.t.Food
	if p.wantEat && !p.Eating && p.Steaks > 0 && p.Food < MaxFood {
		p.Eating = true
		p.EatTicks = f.EatTicks
	}
	if p.Eating {
		p.EatTicks--
		if p.EatTicks <= 0 {
			p.Eating = false
			p.EatTicks = 0
			p.Steaks--
			p.Food = math.Min(MaxFood, p.Food+f.FoodPerSteak)
			p.Saturation = math.Min(p.Food, p.Saturation+f.FoodPerSteak*1.6)
			a.emit(p.ID, protocol.Event{"type": "ATE", "entity": p.ID})
		}
	}

	if p.Food >= f.RegenThreshold && p.Health < MaxHealth {
		p.Health = math.Min(MaxHealth, p.Health+f.RegenPerTick)
		if p.Saturation > 0 {
			p.Saturation = math.Max(0, p.Saturation-f.RegenFoodCost)
		} else {
			p.Food = math.Max(0, p.Food-f.RegenFoodCost)
		}
	}
}
