package arena

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"unicode/utf8"

	"github.com/go-gl/mathgl/mgl64"

	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sim/tuning"
)

const (
	KindPlayer = "player"
	KindZombie = "zombie"

	MaxHealth = 20.0
	MaxFood   = 20.0
)

type Body struct {
	Pos      mgl64.Vec3
	Vel      mgl64.Vec3
	Yaw      float64
	Pitch    float64
	OnGround bool
}

type Player struct {
	ID   int64
	Name string
	Body

	Health     float64
	Food       float64
	Saturation float64

	// Persistent movement input, each in [-1,1].
	Forward float64
	Strafe  float64

	SprintWanted bool
	Sprinting    bool
	Sneaking     bool

	AttackCD int
	JumpCD   int

	Eating   bool
	EatTicks int
	Steaks   int

	Dead      bool
	RespawnIn int

	wantJump bool
	wantEat  bool
}

type Zombie struct {
	ID int64
	Body

	Health   float64
	AttackCD int

	Dead      bool
	RespawnIn int
}

// Input is one client's intents for the next step, in arrival order.
type Input struct {
	PlayerID int64
	Intents  []protocol.Intent
}

// Arena is a deterministic headless combat world.
// It is not safe for concurrent use; the hub loop owns it.
type Arena struct {
	t   tuning.Tuning
	rng *rand.Rand

	tick   uint64
	nextID int64

	players map[int64]*Player
	zombies map[int64]*Zombie

	events map[int64][]protocol.Event
}

func New(t tuning.Tuning) (*Arena, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}
	a := &Arena{
		t:       t,
		rng:     rand.New(rand.NewSource(t.Seed)),
		players: map[int64]*Player{},
		zombies: map[int64]*Zombie{},
		events:  map[int64][]protocol.Event{},
	}
	for i := 0; i < t.Zombies.Count; i++ {
		a.nextID++
		z := &Zombie{ID: a.nextID}
		a.spawnZombie(z)
		a.zombies[z.ID] = z
	}
	return a, nil
}

func (a *Arena) Tuning() tuning.Tuning { return a.t }

func (a *Arena) Tick() uint64 { return a.tick }

func (a *Arena) NumPlayers() int { return len(a.players) }

// Join adds a player and returns its entity id. Ids are assigned in join order,
// so replaying the same joins yields the same ids.
func (a *Arena) Join(name string) int64 {
	a.nextID++
	p := &Player{ID: a.nextID, Name: name}
	a.spawnPlayer(p)
	a.players[p.ID] = p
	return p.ID
}

func (a *Arena) Leave(id int64) {
	delete(a.players, id)
	delete(a.events, id)
}

func (a *Arena) Player(id int64) (*Player, bool) {
	p, ok := a.players[id]
	return p, ok
}

func (a *Arena) HasName(name string) bool {
	for _, p := range a.players {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Step advances the world by one tick.
func (a *Arena) Step(inputs []Input) uint64 {
	for id := range a.events {
		delete(a.events, id)
	}

	for _, id := range a.playerIDs() {
		p := a.players[id]
		p.wantJump = false
		p.wantEat = false
		if p.AttackCD > 0 {
			p.AttackCD--
		}
		if p.JumpCD > 0 && p.OnGround {
			p.JumpCD--
		}
	}
	for _, id := range a.zombieIDs() {
		if z := a.zombies[id]; z.AttackCD > 0 {
			z.AttackCD--
		}
	}

	for _, in := range inputs {
		p, ok := a.players[in.PlayerID]
		if !ok || p.Dead {
			continue
		}
		for _, it := range in.Intents {
			a.applyIntent(p, it)
		}
	}

	a.stepZombies()

	for _, id := range a.playerIDs() {
		p := a.players[id]
		if p.Dead {
			continue
		}
		a.movePlayer(p)
		a.processEating(p)
	}
	for _, id := range a.zombieIDs() {
		z := a.zombies[id]
		if z.Dead {
			continue
		}
		a.integrate(&z.Body)
	}

	a.resolveDeaths()

	a.tick++
	return a.tick
}

func (a *Arena) applyIntent(p *Player, it protocol.Intent) {
	switch it.Type {
	case protocol.IntentMove:
		p.Forward = mgl64.Clamp(finiteOr(it.Forward, 0), -1, 1)
		p.Strafe = mgl64.Clamp(finiteOr(it.Strafe, 0), -1, 1)
	case protocol.IntentLook:
		p.Yaw = WrapYaw(finiteOr(it.Yaw, p.Yaw))
		p.Pitch = mgl64.Clamp(finiteOr(it.Pitch, p.Pitch), -90, 90)
	case protocol.IntentAttack:
		a.swing(p, it.Target)
	case protocol.IntentJump:
		p.wantJump = true
	case protocol.IntentSprint:
		p.SprintWanted = it.On
	case protocol.IntentSneak:
		p.Sneaking = it.On
	case protocol.IntentEat:
		p.wantEat = true
	case protocol.IntentChat:
		a.chat(p, it.Text)
	}
}

func (a *Arena) chat(p *Player, text string) {
	if text == "" {
		return
	}
	text = truncateUTF8(text, maxChatBytes)
	ev := protocol.Event{"type": "CHAT", "from": p.ID, "name": p.Name, "text": text}
	for _, id := range a.playerIDs() {
		q := a.players[id]
		if q.Pos.Sub(p.Pos).Len() <= a.t.TrackingRadius {
			a.emit(id, ev)
		}
	}
}

const maxChatBytes = 256

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (a *Arena) resolveDeaths() {
	for _, id := range a.playerIDs() {
		p := a.players[id]
		if p.Dead {
			p.RespawnIn--
			if p.RespawnIn <= 0 {
				a.spawnPlayer(p)
				a.emit(p.ID, protocol.Event{"type": "RESPAWN", "entity": p.ID})
			}
			continue
		}
		if p.Health <= 0 {
			p.Health = 0
			p.Dead = true
			p.Eating = false
			p.EatTicks = 0
			p.RespawnIn = a.t.RespawnTicks
			a.emit(p.ID, protocol.Event{"type": "DEATH", "entity": p.ID})
		}
	}
	for _, id := range a.zombieIDs() {
		z := a.zombies[id]
		if z.Dead {
			z.RespawnIn--
			if z.RespawnIn <= 0 {
				a.spawnZombie(z)
			}
			continue
		}
		if z.Health <= 0 {
			z.Health = 0
			z.Dead = true
			z.RespawnIn = a.t.RespawnTicks
		}
	}
}

func (a *Arena) spawnPlayer(p *Player) {
	// Golden-angle ring around the origin keeps spawns spread out and deterministic.
	ang := float64(p.ID) * 2.399963229728653
	r := 8.0
	cx := (a.t.Arena.MinX + a.t.Arena.MaxX) / 2
	cz := (a.t.Arena.MinZ + a.t.Arena.MaxZ) / 2
	p.Body = Body{
		Pos: mgl64.Vec3{
			mgl64.Clamp(cx+r*math.Cos(ang), a.t.Arena.MinX, a.t.Arena.MaxX),
			a.t.Arena.FloorY,
			mgl64.Clamp(cz+r*math.Sin(ang), a.t.Arena.MinZ, a.t.Arena.MaxZ),
		},
		OnGround: true,
	}
	p.Health = MaxHealth
	p.Food = MaxFood
	p.Saturation = a.t.Food.StartSaturation
	p.Forward, p.Strafe = 0, 0
	p.SprintWanted, p.Sprinting, p.Sneaking = false, false, false
	p.AttackCD, p.JumpCD = 0, 0
	p.Eating, p.EatTicks = false, 0
	p.Steaks = a.t.Food.StartSteaks
	p.Dead, p.RespawnIn = false, 0
}

func (a *Arena) spawnZombie(z *Zombie) {
	b := a.t.Arena
	z.Body = Body{
		Pos: mgl64.Vec3{
			b.MinX + a.rng.Float64()*(b.MaxX-b.MinX),
			b.FloorY,
			b.MinZ + a.rng.Float64()*(b.MaxZ-b.MinZ),
		},
		Yaw:      WrapYaw(a.rng.Float64()*360 - 180),
		OnGround: true,
	}
	z.Health = a.t.Zombies.Health
	z.AttackCD = 0
	z.Dead, z.RespawnIn = false, 0
}

func (a *Arena) emit(id int64, ev protocol.Event) {
	a.events[id] = append(a.events[id], ev)
}

func (a *Arena) playerIDs() []int64 {
	ids := make([]int64, 0, len(a.players))
	for id := range a.players {
		ids = append(ids, id)
	}
	sortInt64s(ids)
	return ids
}

func (a *Arena) zombieIDs() []int64 {
	ids := make([]int64, 0, len(a.zombies))
	for id := range a.zombies {
		ids = append(ids, id)
	}
	sortInt64s(ids)
	return ids
}

func sortInt64s(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func finiteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
