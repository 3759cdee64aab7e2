package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_OverridesOnTopOfDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := []byte("tick_rate_hz: 10\ncombat:\n  attack_cooldown_ticks: 12\nzombies:\n  count: 0\n")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 10 || tu.Combat.AttackCooldownTicks != 12 || tu.Zombies.Count != 0 {
		t.Fatalf("overrides not applied: %+v", tu)
	}
	if tu.Physics.Gravity != 0.08 || tu.Combat.AttackRange != 3.0 {
		t.Fatalf("defaults lost: gravity=%v range=%v", tu.Physics.Gravity, tu.Combat.AttackRange)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("physics:\n  drag: 1.5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected validation error for drag > 1")
	}
}
