package arena

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"tickbridge.ai/internal/protocol"
)

// CooldownProgress is the attack charge in [0,1]; 1 means fully ready.
func (a *Arena) CooldownProgress(p *Player) float64 {
	if p.AttackCD <= 0 {
		return 1
	}
	return mgl64.Clamp(1-float64(p.AttackCD)/float64(a.t.Combat.AttackCooldownTicks), 0, 1)
}

type hitTarget struct {
	id     int64
	body   *Body
	health *float64
	player *Player
}

// swing always consumes the attack charge, hit or miss.
func (a *Arena) swing(p *Player, explicit *int64) {
	if p.Eating {
		return
	}
	c := a.t.Combat
	charge := a.CooldownProgress(p)
	p.AttackCD = c.AttackCooldownTicks

	tgt, ok := a.pickTarget(p, explicit)
	if !ok {
		a.emit(p.ID, protocol.Event{"type": "MISS", "entity": p.ID})
		return
	}

	// Vanilla-style charge scaling.
	dmg := c.BaseDamage * (0.2 + 0.8*charge*charge)
	if p.Sprinting && !p.OnGround {
		dmg *= c.SprintCritMult
	}
	if tgt.player != nil {
		dmg *= 1 - c.ArmorReduction
	}
	*tgt.health -= dmg

	fx, fz := facing(p.Yaw)
	tgt.body.Vel[0] += fx * a.t.Physics.KnockbackH
	tgt.body.Vel[2] += fz * a.t.Physics.KnockbackH
	tgt.body.Vel[1] += a.t.Physics.KnockbackV
	tgt.body.OnGround = false

	if tgt.player != nil {
		tgt.player.Eating = false
		tgt.player.EatTicks = 0
		a.emit(tgt.id, protocol.Event{"type": "HURT", "entity": tgt.id, "by": p.ID, "damage": dmg})
	}
	p.Sprinting = false
	p.SprintWanted = false
	a.emit(p.ID, protocol.Event{"type": "HIT", "entity": p.ID, "target": tgt.id, "damage": dmg})
}

func (a *Arena) pickTarget(p *Player, explicit *int64) (hitTarget, bool) {
	c := a.t.Combat
	inReach := func(b *Body) bool {
		return b.Pos.Sub(p.Pos).Len() <= c.AttackRange
	}
	inView := func(b *Body) bool {
		diff := math.Abs(WrapYaw(p.Yaw - YawTowards(p.Pos, b.Pos)))
		return diff <= c.ViewConeDeg
	}

	if explicit != nil {
		id := *explicit
		if q, ok := a.players[id]; ok && id != p.ID && !q.Dead && inReach(&q.Body) {
			return hitTarget{id: id, body: &q.Body, health: &q.Health, player: q}, true
		}
		if z, ok := a.zombies[id]; ok && !z.Dead && inReach(&z.Body) {
			return hitTarget{id: id, body: &z.Body, health: &z.Health}, true
		}
		return hitTarget{}, false
	}

	var best hitTarget
	bestDist := math.Inf(1)
	consider := func(id int64, b *Body, h *float64, q *Player) {
		if !inReach(b) || !inView(b) {
			return
		}
		d := b.Pos.Sub(p.Pos).Len()
		if d < bestDist || (d == bestDist && id < best.id) {
			best = hitTarget{id: id, body: b, health: h, player: q}
			bestDist = d
		}
	}
	for _, id := range a.playerIDs() {
		q := a.players[id]
		if id == p.ID || q.Dead {
			continue
		}
		consider(id, &q.Body, &q.Health, q)
	}
	for _, id := range a.zombieIDs() {
		z := a.zombies[id]
		if z.Dead {
			continue
		}
		consider(id, &z.Body, &z.Health, nil)
	}
	return best, best.body != nil
}

func (a *Arena) stepZombies() {
	zc := a.t.Zombies
	for _, zid := range a.zombieIDs() {
		z := a.zombies[zid]
		if z.Dead {
			continue
		}
		var prey *Player
		bestDist := math.Inf(1)
		for _, pid := range a.playerIDs() {
			p := a.players[pid]
			if p.Dead {
				continue
			}
			d := p.Pos.Sub(z.Pos).Len()
			if d <= zc.AggroRadius && d < bestDist {
				prey = p
				bestDist = d
			}
		}
		if prey == nil {
			continue
		}

		z.Yaw = YawTowards(z.Pos, prey.Pos)
		if bestDist > zc.Reach {
			fx, fz := facing(z.Yaw)
			z.Vel[0] += fx * zc.Speed
			z.Vel[2] += fz * zc.Speed
			continue
		}
		if z.AttackCD > 0 {
			continue
		}
		z.AttackCD = zc.CooldownTicks
		dmg := zc.Damage * (1 - a.t.Combat.ArmorReduction)
		prey.Health -= dmg
		prey.Eating = false
		prey.EatTicks = 0
		fx, fz := facing(z.Yaw)
		prey.Vel[0] += fx * a.t.Physics.KnockbackH
		prey.Vel[2] += fz * a.t.Physics.KnockbackH
		prey.Vel[1] += a.t.Physics.KnockbackV
		prey.OnGround = false
		a.emit(prey.ID, protocol.Event{"type": "HURT", "entity": prey.ID, "by": z.ID, "damage": dmg})
	}
}
