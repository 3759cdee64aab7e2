package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	sjson "github.com/santhosh-tekuri/jsonschema/v5"

	"tickbridge.ai/internal/bridge"
)

const toolPrefix = "tickbridge."

type ConnectArgs struct {
	Host string `json:"host" jsonschema:"required,minLength=1"`
	Port int    `json:"port" jsonschema:"required,minimum=1,maximum=65535"`
	Name string `json:"name" jsonschema:"required,minLength=1,maxLength=64"`
}

type ConnectSwarmArgs struct {
	Host  string   `json:"host" jsonschema:"required,minLength=1"`
	Port  int      `json:"port" jsonschema:"required,minimum=1,maximum=65535"`
	Names []string `json:"names" jsonschema:"required,minItems=1,maxItems=256"`
}

type HandleArgs struct {
	Handle string `json:"handle" jsonschema:"required,minLength=1"`
}

// ActionArg is the wire form of one queued action.
type ActionArg struct {
	Kind     string   `json:"kind" jsonschema:"required,enum=move_forward,enum=move_backward,enum=strafe_left,enum=strafe_right,enum=stop,enum=look_at,enum=set_look,enum=attack,enum=jump,enum=sprint,enum=sneak,enum=eat,enum=chat"`
	X        *float64 `json:"x,omitempty" jsonschema:"description=look_at target"`
	Y        *float64 `json:"y,omitempty"`
	Z        *float64 `json:"z,omitempty"`
	Yaw      *float64 `json:"yaw,omitempty" jsonschema:"description=set_look yaw in degrees"`
	Pitch    *float64 `json:"pitch,omitempty" jsonschema:"minimum=-90,maximum=90"`
	On       *bool    `json:"on,omitempty" jsonschema:"description=sprint/sneak toggle"`
	Text     string   `json:"text,omitempty" jsonschema:"maxLength=256"`
	EntityID *int64   `json:"entity_id,omitempty" jsonschema:"minimum=0"`
}

type ActArgs struct {
	Handle  string      `json:"handle" jsonschema:"required,minLength=1"`
	Actions []ActionArg `json:"actions" jsonschema:"required"`
}

type TickArgs struct {
	Handle    string      `json:"handle" jsonschema:"required,minLength=1"`
	Actions   []ActionArg `json:"actions,omitempty"`
	TimeoutMS int         `json:"timeout_ms,omitempty" jsonschema:"minimum=1,maximum=60000"`
}

type NearestEntityArgs struct {
	Handle      string  `json:"handle" jsonschema:"required,minLength=1"`
	Type        string  `json:"type,omitempty" jsonschema:"description=entity type; empty matches any"`
	MaxDistance float64 `json:"max_distance" jsonschema:"required,minimum=0"`
}

type NearbyPlayersArgs struct {
	Handle      string  `json:"handle" jsonschema:"required,minLength=1"`
	MaxDistance float64 `json:"max_distance" jsonschema:"required,minimum=0"`
}

type ToVectorArgs struct {
	Handle     string `json:"handle" jsonschema:"required,minLength=1"`
	PadPlayers int    `json:"pad_players,omitempty" jsonschema:"minimum=0,maximum=64"`
}

type ListSessionsArgs struct{}

type toolDef struct {
	Name        string
	Description string
	args        any

	schema    json.RawMessage
	validator *sjson.Schema
}

func toolDefs() []*toolDef {
	return []*toolDef{
		{Name: "connect", Description: "Connect one named session and return its handle and first snapshot.", args: ConnectArgs{}},
		{Name: "connect_swarm", Description: "Connect several named sessions in parallel; results are per name.", args: ConnectSwarmArgs{}},
		{Name: "get_state", Description: "Return the snapshot from the last tick without advancing.", args: HandleArgs{}},
		{Name: "act", Description: "Queue actions for the next tick.", args: ActArgs{}},
		{Name: "tick", Description: "Queue optional actions, then advance exactly one tick and return the new snapshot.", args: TickArgs{}},
		{Name: "nearest_entity", Description: "Closest tracked entity, optionally of one type.", args: NearestEntityArgs{}},
		{Name: "nearby_players", Description: "Players within max_distance by ascending distance.", args: NearbyPlayersArgs{}},
		{Name: "to_vector", Description: "Flat numeric observation vector with its field names.", args: ToVectorArgs{}},
		{Name: "disconnect", Description: "Disconnect a session. Idempotent.", args: HandleArgs{}},
		{Name: "list_sessions", Description: "Summaries of all known sessions.", args: ListSessionsArgs{}},
	}
}

// compileTools reflects every argument struct into a JSON schema and compiles
// it for validation.
func compileTools() (map[string]*toolDef, []*toolDef, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	defs := toolDefs()
	byName := make(map[string]*toolDef, len(defs))
	for _, d := range defs {
		d.Name = toolPrefix + d.Name
		sch := reflector.ReflectFromType(reflect.TypeOf(d.args))
		if sch == nil {
			return nil, nil, fmt.Errorf("%s: failed to reflect schema", d.Name)
		}
		sch.Version = ""
		sch.Title = d.Name
		b, err := json.Marshal(sch)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: marshal schema: %w", d.Name, err)
		}
		d.schema = b

		url := "mem://tools/" + d.Name + ".json"
		c := sjson.NewCompiler()
		c.Draft = sjson.Draft2020
		if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
			return nil, nil, fmt.Errorf("%s: add schema: %w", d.Name, err)
		}
		v, err := c.Compile(url)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: compile schema: %w", d.Name, err)
		}
		d.validator = v
		byName[d.Name] = d
	}
	return byName, defs, nil
}

// decode validates raw arguments against the tool schema, then unmarshals.
func (d *toolDef) decode(raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("bad arguments: %w", err)
	}
	if err := d.validator.Validate(doc); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bad arguments: %w", err)
	}
	return nil
}

func (a ActionArg) toAction() (bridge.Action, error) {
	kind := bridge.ActionKind(a.Kind)
	switch kind {
	case bridge.ActionLookAt:
		if a.X == nil || a.Y == nil || a.Z == nil {
			return bridge.Action{}, fmt.Errorf("look_at needs x, y and z")
		}
		return bridge.LookAt(*a.X, *a.Y, *a.Z), nil
	case bridge.ActionSetLook:
		if a.Yaw == nil || a.Pitch == nil {
			return bridge.Action{}, fmt.Errorf("set_look needs yaw and pitch")
		}
		return bridge.SetLook(*a.Yaw, *a.Pitch), nil
	case bridge.ActionAttack:
		if a.EntityID != nil {
			return bridge.AttackEntity(*a.EntityID), nil
		}
		return bridge.Attack(), nil
	case bridge.ActionSprint, bridge.ActionSneak:
		on := true
		if a.On != nil {
			on = *a.On
		}
		return bridge.Action{Kind: kind, On: on}, nil
	case bridge.ActionChat:
		if a.Text == "" {
			return bridge.Action{}, fmt.Errorf("chat needs text")
		}
		return bridge.Chat(a.Text), nil
	}
	for _, k := range bridge.ActionKinds {
		if k == kind {
			return bridge.Action{Kind: kind}, nil
		}
	}
	return bridge.Action{}, fmt.Errorf("unknown action kind %q", a.Kind)
}

func toActions(args []ActionArg) ([]bridge.Action, error) {
	out := make([]bridge.Action, 0, len(args))
	for i, a := range args {
		act, err := a.toAction()
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		out = append(out, act)
	}
	return out, nil
}

// StateView is the JSON form of a GameState.
type StateView struct {
	Tick           uint64       `json:"tick"`
	ServerTick     uint64       `json:"server_tick"`
	X              float64      `json:"x"`
	Y              float64      `json:"y"`
	Z              float64      `json:"z"`
	VX             float64      `json:"vx"`
	VY             float64      `json:"vy"`
	VZ             float64      `json:"vz"`
	Yaw            float64      `json:"yaw"`
	Pitch          float64      `json:"pitch"`
	Health         float64      `json:"health"`
	Food           float64      `json:"food"`
	Saturation     float64      `json:"saturation"`
	OnGround       bool         `json:"on_ground"`
	Sprinting      bool         `json:"sprinting"`
	Sneaking       bool         `json:"sneaking"`
	AttackCooldown float64      `json:"attack_cooldown"`
	Entities       []EntityView `json:"entities"`
}

type EntityView struct {
	ID         int64    `json:"id"`
	EntityType string   `json:"entity_type"`
	Name       string   `json:"name,omitempty"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z"`
	VX         float64  `json:"vx"`
	VY         float64  `json:"vy"`
	VZ         float64  `json:"vz"`
	Yaw        float64  `json:"yaw"`
	Pitch      float64  `json:"pitch"`
	Health     *float64 `json:"health,omitempty"`
	OnGround   bool     `json:"on_ground"`
}

func stateView(g bridge.GameState) StateView {
	ents := g.Entities()
	views := make([]EntityView, 0, len(ents))
	for _, e := range ents {
		views = append(views, entityView(e))
	}
	return StateView{
		Tick: g.Tick, ServerTick: g.ServerTick,
		X: g.X(), Y: g.Y(), Z: g.Z(),
		VX: g.VX(), VY: g.VY(), VZ: g.VZ(),
		Yaw: g.Yaw, Pitch: g.Pitch,
		Health: g.Health, Food: g.Food, Saturation: g.Saturation,
		OnGround: g.OnGround, Sprinting: g.Sprinting, Sneaking: g.Sneaking,
		AttackCooldown: g.AttackCooldown,
		Entities:       views,
	}
}

func entityView(e bridge.EntityInfo) EntityView {
	return EntityView{
		ID: e.ID, EntityType: e.EntityType, Name: e.Name,
		X: e.Position.X(), Y: e.Position.Y(), Z: e.Position.Z(),
		VX: e.Velocity.X(), VY: e.Velocity.Y(), VZ: e.Velocity.Z(),
		Yaw: e.Yaw, Pitch: e.Pitch, Health: e.Health, OnGround: e.OnGround,
	}
}
