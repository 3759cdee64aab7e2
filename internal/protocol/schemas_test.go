package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tickbridge.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, raw string) {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal sample: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(compile("hello.schema.json"), `{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "agent_name":"bot1",
	  "capabilities":{"max_queue":8},
	  "auth":{"token":"t"}
	}`)

	validate(compile("welcome.schema.json"), `{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "session_id":"7f1c",
	  "agent_id":"P1",
	  "entity_id":1,
	  "world_params":{"tick_rate_hz":20,"tracking_radius":48,"lockstep":true,"seed":1337}
	}`)

	validate(compile("error.schema.json"), `{
	  "type":"ERROR",
	  "protocol_version":"1.0",
	  "code":"E_AUTH",
	  "message":"bad token"
	}`)

	validate(compile("obs.schema.json"), `{
	  "type":"OBS",
	  "protocol_version":"1.0",
	  "tick":12,
	  "agent_id":"P1",
	  "ack_seq":3,
	  "self":{"entity_id":1,"pos":[0,64,0],"vel":[0,0,0],"yaw":0,"pitch":0,"health":20,"food":20,
	          "saturation":5,"on_ground":true,"sprinting":false,"sneaking":false,"attack_cooldown":1,"steaks":4},
	  "entities":[{"id":7,"type":"zombie","pos":[3,64,1],"vel":[0,0,0],"yaw":90,"pitch":0,"health":20,"on_ground":true}],
	  "events":[{"type":"HIT","attacker":1,"target":7}]
	}`)

	validate(compile("act.schema.json"), `{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "seq":4,
	  "advance":true,
	  "intents":[{"type":"LOOK","yaw":-45,"pitch":10},{"type":"ATTACK"},{"type":"MOVE","forward":1}]
	}`)
}

func TestSchemas_AcceptGoEncodings(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}
	roundTrip := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	hp := 12.5
	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            9,
		AgentID:         "P2",
		AckSeq:          1,
		Self:            protocol.SelfObs{EntityID: 2, Pos: [3]float64{1, 64, 1}, Health: 20, Food: 20, AttackCooldown: 1},
		Entities:        []protocol.EntityObs{{ID: 3, Type: "player", Name: "B", Health: &hp}},
	}
	if err := compile("obs.schema.json").Validate(roundTrip(obs)); err != nil {
		t.Fatalf("obs: %v", err)
	}

	target := int64(3)
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Seq:             2,
		Advance:         true,
		Intents:         []protocol.Intent{{Type: protocol.IntentAttack, Target: &target}},
	}
	if err := compile("act.schema.json").Validate(roundTrip(act)); err != nil {
		t.Fatalf("act: %v", err)
	}

	if err := compile("error.schema.json").Validate(roundTrip(protocol.NewError(protocol.ErrNameTaken, "dup"))); err != nil {
		t.Fatalf("error: %v", err)
	}
}
