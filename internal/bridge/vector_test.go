package bridge

import (
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func sampleState() GameState {
	h := 14.0
	return GameState{
		Position:       mgl64.Vec3{1, 64, 2},
		Velocity:       mgl64.Vec3{0.1, 0, -0.1},
		Yaw:            45,
		Pitch:          -10,
		Health:         18,
		Food:           17,
		OnGround:       true,
		Sneaking:       true,
		AttackCooldown: 0.5,
		Tick:           9,
		entities: []EntityInfo{
			{ID: 2, EntityType: EntityZombie, Position: mgl64.Vec3{2, 64, 2}},
			{ID: 3, EntityType: EntityPlayer, Position: mgl64.Vec3{4, 64, 6}, Yaw: 90, Health: &h},
		},
	}
}

func TestToVectorScalarLayout(t *testing.T) {
	if VectorVersion != 1 {
		t.Fatalf("VectorVersion changed; update consumers and this test together")
	}
	g := sampleState()
	v := g.ToVector(VectorLayout{})
	want := []float64{1, 64, 2, 45, -10, 0.1, 0, -0.1, 18, 17, 1, 0, 1, 0.5}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("vector=%v\nwant  %v", v, want)
	}
	fields := VectorFields(VectorLayout{})
	if len(fields) != len(v) || fields[0] != "x" || fields[13] != "attack_cooldown" {
		t.Fatalf("fields=%v", fields)
	}
}

func TestToVectorIsDeterministic(t *testing.T) {
	g := sampleState()
	l := VectorLayout{PadPlayers: 2}
	a := g.ToVector(l)
	b := g.ToVector(l)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("ToVector not idempotent")
	}
	a[0] = 999
	if g.ToVector(l)[0] == 999 {
		t.Fatalf("ToVector shares its backing array")
	}
}

func TestToVectorPadsPlayers(t *testing.T) {
	g := sampleState()
	l := VectorLayout{PadPlayers: 2}
	v := g.ToVector(l)
	if len(v) != 14+2*12 || len(VectorFields(l)) != len(v) {
		t.Fatalf("len=%d fields=%d", len(v), len(VectorFields(l)))
	}
	slot := v[14:26]
	want := []float64{4, 64, 6, 90, 0, 0, 0, 0, 14, 3, 0, 4}
	if !reflect.DeepEqual(slot, want) {
		t.Fatalf("slot0=%v want %v", slot, want)
	}
	for i, x := range v[26:] {
		if x != 0 {
			t.Fatalf("missing player slot not zero at %d: %v", i, x)
		}
	}
	if f := VectorFields(l)[14]; f != "players[0].x" {
		t.Fatalf("field 14=%q", f)
	}
}
