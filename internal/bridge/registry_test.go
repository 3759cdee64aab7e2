package bridge

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func ent(id int64, typ string, x, z float64) EntityInfo {
	return EntityInfo{ID: id, EntityType: typ, Position: mgl64.Vec3{x, 64, z}}
}

func TestNearestEntityFiltersAndBreaksTies(t *testing.T) {
	r := NewRegistry(0)
	r.Replace(mgl64.Vec3{0, 64, 0}, []EntityInfo{
		ent(9, EntityZombie, 3, 0),
		ent(4, EntityZombie, 0, 3), // same distance as 9, lower id
		ent(2, EntityPlayer, 1, 0),
		ent(7, EntityItem, 10, 0),
	})

	e, ok := r.NearestEntity(EntityZombie, 0)
	if !ok || e.ID != 4 {
		t.Fatalf("nearest zombie = %+v, want id 4", e)
	}
	e, ok = r.NearestEntity("", 0)
	if !ok || e.ID != 2 {
		t.Fatalf("nearest any = %+v, want id 2", e)
	}
	if _, ok := r.NearestEntity(EntityItem, 5); ok {
		t.Fatalf("item at 10 should be beyond max distance 5")
	}
	if _, ok := r.NearestEntity("horse", 0); ok {
		t.Fatalf("no horses tracked")
	}
}

func TestRegistryDropsOutsideTrackingRadius(t *testing.T) {
	r := NewRegistry(16)
	r.Replace(mgl64.Vec3{0, 64, 0}, []EntityInfo{
		ent(1, EntityPlayer, 5, 5),
		ent(2, EntityPlayer, 40, 0),
	})
	got := r.Entities()
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("entities=%+v, want only id 1", got)
	}
}

func TestNearbyPlayersOrdering(t *testing.T) {
	r := NewRegistry(0)
	r.Replace(mgl64.Vec3{0, 64, 0}, []EntityInfo{
		ent(8, EntityPlayer, 2, 0),
		ent(3, EntityPlayer, 0, 2),
		ent(5, EntityPlayer, 1, 0),
		ent(6, EntityZombie, 0.5, 0),
		ent(1, EntityPlayer, 30, 0),
	})
	got := r.NearbyPlayers(10)
	want := []int64{5, 3, 8}
	if len(got) != len(want) {
		t.Fatalf("got %d players want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("players[%d]=%d want %d", i, got[i].ID, id)
		}
	}
}

func TestRegistryEntitiesAreCopies(t *testing.T) {
	h := 12.0
	r := NewRegistry(0)
	r.Replace(mgl64.Vec3{}, []EntityInfo{{ID: 1, EntityType: EntityZombie, Health: &h}})
	h = 1

	got := r.Entities()
	if *got[0].Health != 12 {
		t.Fatalf("registry shares health pointer with input")
	}
	*got[0].Health = 3
	if *r.Entities()[0].Health != 12 {
		t.Fatalf("registry shares health pointer with caller")
	}
}

func TestEntityDistances(t *testing.T) {
	a := EntityInfo{Position: mgl64.Vec3{0, 0, 0}}
	b := EntityInfo{Position: mgl64.Vec3{3, 12, 4}}
	if d := a.DistanceTo(b); d != 13 {
		t.Fatalf("DistanceTo=%v want 13", d)
	}
	if d := a.HorizontalDistanceTo(b); d != 5 {
		t.Fatalf("HorizontalDistanceTo=%v want 5", d)
	}
	b.Position = mgl64.Vec3{0, 0, 1}
	if d := a.DistanceTo(b); d != 1 {
		t.Fatalf("distance not recomputed from position: %v", d)
	}
}
