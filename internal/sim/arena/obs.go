package arena

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"tickbridge.ai/internal/protocol"
)

// ObsFor builds the observation for one player. Only entities within the tracking
// radius are included, in ascending id order.
func (a *Arena) ObsFor(id int64, ackSeq uint64) (protocol.ObsMsg, bool) {
	p, ok := a.players[id]
	if !ok {
		return protocol.ObsMsg{}, false
	}
	o := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            a.tick,
		AgentID:         agentID(id),
		AckSeq:          ackSeq,
		Self: protocol.SelfObs{
			EntityID:       p.ID,
			Pos:            p.Pos,
			Vel:            p.Vel,
			Yaw:            p.Yaw,
			Pitch:          p.Pitch,
			Health:         mgl64.Clamp(p.Health, 0, MaxHealth),
			Food:           mgl64.Clamp(p.Food, 0, MaxFood),
			Saturation:     p.Saturation,
			OnGround:       p.OnGround,
			Sprinting:      p.Sprinting,
			Sneaking:       p.Sneaking,
			Dead:           p.Dead,
			AttackCooldown: a.CooldownProgress(p),
			Eating:         p.Eating,
			Steaks:         p.Steaks,
		},
		Entities: []protocol.EntityObs{},
		Events:   append([]protocol.Event(nil), a.events[id]...),
	}

	r := a.t.TrackingRadius
	for _, oid := range a.entityIDs() {
		if oid == id {
			continue
		}
		if q, ok := a.players[oid]; ok {
			if q.Dead || q.Pos.Sub(p.Pos).Len() > r {
				continue
			}
			h := mgl64.Clamp(q.Health, 0, MaxHealth)
			o.Entities = append(o.Entities, protocol.EntityObs{
				ID: q.ID, Type: KindPlayer, Name: q.Name,
				Pos: q.Pos, Vel: q.Vel, Yaw: q.Yaw, Pitch: q.Pitch,
				Health: &h, OnGround: q.OnGround,
			})
			continue
		}
		z := a.zombies[oid]
		if z.Dead || z.Pos.Sub(p.Pos).Len() > r {
			continue
		}
		h := math.Max(0, z.Health)
		o.Entities = append(o.Entities, protocol.EntityObs{
			ID: z.ID, Type: KindZombie,
			Pos: z.Pos, Vel: z.Vel, Yaw: z.Yaw, Pitch: z.Pitch,
			Health: &h, OnGround: z.OnGround,
		})
	}
	return o, true
}

func agentID(id int64) string { return fmt.Sprintf("P%d", id) }

// AgentID is the protocol agent id for an entity id.
func AgentID(id int64) string { return agentID(id) }

func (a *Arena) entityIDs() []int64 {
	ids := a.playerIDs()
	ids = append(ids, a.zombieIDs()...)
	sortInt64s(ids)
	return ids
}

// Digest hashes the full simulation state in canonical order.
func (a *Arena) Digest() string {
	h := sha256.New()
	var buf [8]byte
	u := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	f := func(v float64) { u(math.Float64bits(v)) }
	b := func(v bool) {
		if v {
			u(1)
		} else {
			u(0)
		}
	}
	body := func(bd Body) {
		for i := 0; i < 3; i++ {
			f(bd.Pos[i])
			f(bd.Vel[i])
		}
		f(bd.Yaw)
		f(bd.Pitch)
		b(bd.OnGround)
	}

	u(a.tick)
	u(uint64(a.nextID))
	for _, id := range a.playerIDs() {
		p := a.players[id]
		u(uint64(p.ID))
		_, _ = h.Write([]byte(p.Name))
		body(p.Body)
		f(p.Health)
		f(p.Food)
		f(p.Saturation)
		f(p.Forward)
		f(p.Strafe)
		b(p.SprintWanted)
		b(p.Sprinting)
		b(p.Sneaking)
		u(uint64(p.AttackCD))
		u(uint64(p.JumpCD))
		b(p.Eating)
		u(uint64(p.EatTicks))
		u(uint64(p.Steaks))
		b(p.Dead)
		u(uint64(p.RespawnIn))
	}
	for _, id := range a.zombieIDs() {
		z := a.zombies[id]
		u(uint64(z.ID))
		body(z.Body)
		f(z.Health)
		u(uint64(z.AttackCD))
		b(z.Dead)
		u(uint64(z.RespawnIn))
	}
	return hex.EncodeToString(h.Sum(nil))
}
