package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz     int     `yaml:"tick_rate_hz"`
	TrackingRadius float64 `yaml:"tracking_radius"`
	Seed           int64   `yaml:"seed"`
	MaxPlayers     int     `yaml:"max_players"`

	Arena   Bounds  `yaml:"arena"`
	Physics Physics `yaml:"physics"`
	Combat  Combat  `yaml:"combat"`
	Food    Food    `yaml:"food"`
	Zombies Zombies `yaml:"zombies"`

	RespawnTicks int `yaml:"respawn_ticks"`
}

type Bounds struct {
	MinX   float64 `yaml:"min_x"`
	MaxX   float64 `yaml:"max_x"`
	MinZ   float64 `yaml:"min_z"`
	MaxZ   float64 `yaml:"max_z"`
	FloorY float64 `yaml:"floor_y"`
}

type Physics struct {
	WalkSpeed    float64 `yaml:"walk_speed"`
	SprintSpeed  float64 `yaml:"sprint_speed"`
	SneakFactor  float64 `yaml:"sneak_factor"`
	JumpVelocity float64 `yaml:"jump_velocity"`
	JumpCooldown int     `yaml:"jump_cooldown_ticks"`
	Gravity      float64 `yaml:"gravity"`
	Drag         float64 `yaml:"drag"`
	KnockbackH   float64 `yaml:"knockback_horizontal"`
	KnockbackV   float64 `yaml:"knockback_vertical"`
}

type Combat struct {
	AttackRange         float64 `yaml:"attack_range"`
	AttackCooldownTicks int     `yaml:"attack_cooldown_ticks"`
	BaseDamage          float64 `yaml:"base_damage"`
	SprintCritMult      float64 `yaml:"sprint_crit_multiplier"`
	ArmorReduction      float64 `yaml:"armor_reduction"`
	ViewConeDeg         float64 `yaml:"view_cone_deg"`
}

type Food struct {
	EatTicks        int     `yaml:"eat_ticks"`
	FoodPerSteak    float64 `yaml:"food_per_steak"`
	StartSteaks     int     `yaml:"start_steaks"`
	RegenThreshold  float64 `yaml:"regen_threshold"`
	RegenPerTick    float64 `yaml:"regen_per_tick"`
	RegenFoodCost   float64 `yaml:"regen_food_cost"`
	SprintMinFood   float64 `yaml:"sprint_min_food"`
	StartSaturation float64 `yaml:"start_saturation"`
}

type Zombies struct {
	Count         int     `yaml:"count"`
	Speed         float64 `yaml:"speed"`
	Health        float64 `yaml:"health"`
	Damage        float64 `yaml:"damage"`
	Reach         float64 `yaml:"reach"`
	CooldownTicks int     `yaml:"cooldown_ticks"`
	AggroRadius   float64 `yaml:"aggro_radius"`
}

// Defaults mirrors the vanilla 1.21 combat and movement numbers at 20 TPS.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		TrackingRadius:  48,
		Seed:            1337,
		MaxPlayers:      64,
		Arena:           Bounds{MinX: -32, MaxX: 32, MinZ: -32, MaxZ: 32, FloorY: 64},
		Physics: Physics{
			WalkSpeed:    0.1,
			SprintSpeed:  0.13,
			SneakFactor:  0.3,
			JumpVelocity: 0.42,
			JumpCooldown: 10,
			Gravity:      0.08,
			Drag:         0.98,
			KnockbackH:   0.4,
			KnockbackV:   0.36,
		},
		Combat: Combat{
			AttackRange:         3.0,
			AttackCooldownTicks: 10,
			BaseDamage:          6.0,
			SprintCritMult:      1.5,
			ArmorReduction:      0.8,
			ViewConeDeg:         60,
		},
		Food: Food{
			EatTicks:        32,
			FoodPerSteak:    8,
			StartSteaks:     8,
			RegenThreshold:  18,
			RegenPerTick:    0.05,
			RegenFoodCost:   0.1,
			SprintMinFood:   6,
			StartSaturation: 5,
		},
		Zombies: Zombies{
			Count:         4,
			Speed:         0.05,
			Health:        20,
			Damage:        2,
			Reach:         1.5,
			CooldownTicks: 20,
			AggroRadius:   16,
		},
		RespawnTicks: 40,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.TrackingRadius <= 0 {
		return fmt.Errorf("tracking_radius must be > 0")
	}
	if t.Arena.MinX >= t.Arena.MaxX || t.Arena.MinZ >= t.Arena.MaxZ {
		return fmt.Errorf("arena bounds are empty")
	}
	if t.Physics.Drag <= 0 || t.Physics.Drag > 1 {
		return fmt.Errorf("physics.drag must be in (0,1]")
	}
	if t.Combat.AttackCooldownTicks <= 0 {
		return fmt.Errorf("combat.attack_cooldown_ticks must be > 0")
	}
	if t.Combat.ArmorReduction < 0 || t.Combat.ArmorReduction >= 1 {
		return fmt.Errorf("combat.armor_reduction must be in [0,1)")
	}
	if t.Food.EatTicks <= 0 {
		return fmt.Errorf("food.eat_ticks must be > 0")
	}
	if t.Zombies.Count < 0 {
		return fmt.Errorf("zombies.count must be >= 0")
	}
	if t.MaxPlayers <= 0 {
		return fmt.Errorf("max_players must be > 0")
	}
	if t.RespawnTicks < 0 {
		return fmt.Errorf("respawn_ticks must be >= 0")
	}
	return nil
}
