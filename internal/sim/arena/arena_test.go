package arena

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-gl/mathgl/mgl64"

	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sim/tuning"
)

func newTestArena(t *testing.T, zombies int) *Arena {
	t.Helper()
	tu := tuning.Defaults()
	tu.Zombies.Count = zombies
	a, err := New(tu)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestAttackResetsCooldownAndRecovers(t *testing.T) {
	a := newTestArena(t, 0)
	id := a.Join("A")

	a.Step([]Input{{PlayerID: id, Intents: []protocol.Intent{{Type: protocol.IntentAttack}}}})
	o, _ := a.ObsFor(id, 1)
	if o.Self.AttackCooldown != 0 {
		t.Fatalf("cooldown after swing = %v, want 0", o.Self.AttackCooldown)
	}

	prev := o.Self.AttackCooldown
	for i := 0; i < 20; i++ {
		a.Step(nil)
		o, _ = a.ObsFor(id, 1)
		cd := o.Self.AttackCooldown
		if cd < prev || cd > 1 {
			t.Fatalf("step %d: cooldown %v not monotonic from %v", i, cd, prev)
		}
		prev = cd
	}
	if prev != 1 {
		t.Fatalf("cooldown did not recover: %v", prev)
	}
}

func TestLookSetsOrientation(t *testing.T) {
	a := newTestArena(t, 0)
	id := a.Join("A")
	a.Step([]Input{{PlayerID: id, Intents: []protocol.Intent{{Type: protocol.IntentLook, Yaw: 270, Pitch: 120}}}})
	p, _ := a.Player(id)
	if p.Yaw != -90 {
		t.Fatalf("yaw=%v want -90", p.Yaw)
	}
	if p.Pitch != 90 {
		t.Fatalf("pitch=%v want clamped 90", p.Pitch)
	}
}

func TestYawTowards(t *testing.T) {
	origin := mgl64.Vec3{0, 0, 0}
	cases := []struct {
		to   mgl64.Vec3
		want float64
	}{
		{mgl64.Vec3{0, 0, 5}, 0},
		{mgl64.Vec3{-5, 0, 0}, 90},
		{mgl64.Vec3{5, 0, 0}, -90},
		{mgl64.Vec3{0, 0, -5}, -180},
	}
	for _, c := range cases {
		if got := YawTowards(origin, c.to); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("YawTowards(%v)=%v want %v", c.to, got, c.want)
		}
	}
}

func TestSwingHitsPlayerInFront(t *testing.T) {
	a := newTestArena(t, 0)
	att := a.Join("A")
	def := a.Join("B")
	pa, _ := a.Player(att)
	pb, _ := a.Player(def)
	pa.Pos = mgl64.Vec3{0, 64, 0}
	pb.Pos = mgl64.Vec3{0, 64, 2}
	pa.Yaw = 0

	a.Step([]Input{{PlayerID: att, Intents: []protocol.Intent{{Type: protocol.IntentAttack}}}})
	if pb.Health >= MaxHealth {
		t.Fatalf("defender not damaged: %v", pb.Health)
	}
	if pb.Vel.Z() <= 0 && pb.Pos.Z() <= 2 {
		t.Fatalf("expected knockback along +Z, vel=%v pos=%v", pb.Vel, pb.Pos)
	}
}

func TestSwingMissesBehind(t *testing.T) {
	a := newTestArena(t, 0)
	att := a.Join("A")
	def := a.Join("B")
	pa, _ := a.Player(att)
	pb, _ := a.Player(def)
	pa.Pos = mgl64.Vec3{0, 64, 0}
	pb.Pos = mgl64.Vec3{0, 64, -2}
	pa.Yaw = 0

	a.Step([]Input{{PlayerID: att, Intents: []protocol.Intent{{Type: protocol.IntentAttack}}}})
	if pb.Health != MaxHealth {
		t.Fatalf("defender behind attacker should not be hit: %v", pb.Health)
	}
}

func TestObsRespectsTrackingRadius(t *testing.T) {
	a := newTestArena(t, 0)
	near := a.Join("near")
	far := a.Join("far")
	me := a.Join("me")
	pm, _ := a.Player(me)
	pn, _ := a.Player(near)
	pf, _ := a.Player(far)
	pm.Pos = mgl64.Vec3{0, 64, 0}
	pn.Pos = mgl64.Vec3{3, 64, 0}
	pf.Pos = mgl64.Vec3{30, 64, 30}
	a.t.TrackingRadius = 10

	o, ok := a.ObsFor(me, 0)
	if !ok {
		t.Fatalf("ObsFor missing player")
	}
	if len(o.Entities) != 1 || o.Entities[0].ID != near {
		t.Fatalf("entities=%+v want only %d", o.Entities, near)
	}
	if o.Entities[0].Health == nil || *o.Entities[0].Health != MaxHealth {
		t.Fatalf("player entity should expose health")
	}
}

func TestEatingRestoresFood(t *testing.T) {
	a := newTestArena(t, 0)
	id := a.Join("A")
	p, _ := a.Player(id)
	p.Food = 4
	steaks := p.Steaks

	a.Step([]Input{{PlayerID: id, Intents: []protocol.Intent{{Type: protocol.IntentEat}}}})
	if !p.Eating {
		t.Fatalf("expected eating to start")
	}
	for i := 0; i < a.t.Food.EatTicks; i++ {
		a.Step(nil)
	}
	if p.Eating || p.Steaks != steaks-1 || p.Food != 12 {
		t.Fatalf("eating=%v steaks=%d food=%v", p.Eating, p.Steaks, p.Food)
	}
}

func TestDeterministicDigest(t *testing.T) {
	run := func() string {
		a := newTestArena(t, 3)
		x := a.Join("A")
		y := a.Join("B")
		for i := 0; i < 60; i++ {
			a.Step([]Input{
				{PlayerID: x, Intents: []protocol.Intent{{Type: protocol.IntentMove, Forward: 1}, {Type: protocol.IntentAttack}}},
				{PlayerID: y, Intents: []protocol.Intent{{Type: protocol.IntentLook, Yaw: float64(i * 7)}, {Type: protocol.IntentJump}}},
			})
		}
		return a.Digest()
	}
	d1, d2 := run(), run()
	if d1 != d2 {
		t.Fatalf("digest mismatch: %s vs %s", d1, d2)
	}
}

func TestDeathAndRespawn(t *testing.T) {
	tu := tuning.Defaults()
	tu.Zombies.Count = 0
	tu.RespawnTicks = 2
	a, err := New(tu)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := a.Join("A")
	p, _ := a.Player(id)
	p.Health = -3

	a.Step(nil)
	o, _ := a.ObsFor(id, 0)
	if !o.Self.Dead || o.Self.Health != 0 {
		t.Fatalf("expected dead with clamped health, got dead=%v health=%v", o.Self.Dead, o.Self.Health)
	}
	a.Step(nil)
	a.Step(nil)
	o, _ = a.ObsFor(id, 0)
	if o.Self.Dead || o.Self.Health != MaxHealth {
		t.Fatalf("expected respawn, got dead=%v health=%v", o.Self.Dead, o.Self.Health)
	}
}

func TestChatTruncatesOnRuneBoundary(t *testing.T) {
	a := newTestArena(t, 0)
	id := a.Join("A")

	// The two-byte rune straddles the byte limit.
	text := strings.Repeat("a", maxChatBytes-1) + "é" + "tail"
	a.Step([]Input{{PlayerID: id, Intents: []protocol.Intent{{Type: protocol.IntentChat, Text: text}}}})
	o, _ := a.ObsFor(id, 1)

	var got string
	for _, ev := range o.Events {
		if ev["type"] == "CHAT" {
			got, _ = ev["text"].(string)
		}
	}
	if got != strings.Repeat("a", maxChatBytes-1) {
		t.Fatalf("chat text = %q (%d bytes)", got, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("chat text is not valid UTF-8")
	}

	for _, tc := range []struct {
		in   string
		n    int
		want string
	}{
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"short", 10, "short"},
		{"日本", 4, "日"},
	} {
		if got := truncateUTF8(tc.in, tc.n); got != tc.want {
			t.Fatalf("truncateUTF8(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
