package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	// AckSeq is the highest ACT seq whose intents were applied before this observation.
	AckSeq uint64 `json:"ack_seq"`

	Self     SelfObs     `json:"self"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
}

type SelfObs struct {
	EntityID       int64      `json:"entity_id"`
	Pos            [3]float64 `json:"pos"`
	Vel            [3]float64 `json:"vel"`
	Yaw            float64    `json:"yaw"`
	Pitch          float64    `json:"pitch"`
	Health         float64    `json:"health"`
	Food           float64    `json:"food"`
	Saturation     float64    `json:"saturation"`
	OnGround       bool       `json:"on_ground"`
	Sprinting      bool       `json:"sprinting"`
	Sneaking       bool       `json:"sneaking"`
	Dead           bool       `json:"dead,omitempty"`
	AttackCooldown float64    `json:"attack_cooldown"` // 0..1, 1 = ready
	Eating         bool       `json:"eating,omitempty"`
	Steaks         int        `json:"steaks"`
}

type EntityObs struct {
	ID       int64      `json:"id"`
	Type     string     `json:"type"` // "player", "zombie", "item"
	Name     string     `json:"name,omitempty"`
	Pos      [3]float64 `json:"pos"`
	Vel      [3]float64 `json:"vel"`
	Yaw      float64    `json:"yaw"`
	Pitch    float64    `json:"pitch"`
	Health   *float64   `json:"health,omitempty"`
	OnGround bool       `json:"on_ground"`
}

type Event map[string]interface{}

// ACT (client -> server)
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	// Advance asks a lockstep server to run one step after applying the intents.
	Advance bool     `json:"advance,omitempty"`
	Intents []Intent `json:"intents"`
}

// Intent types.
const (
	IntentMove   = "MOVE"
	IntentLook   = "LOOK"
	IntentAttack = "ATTACK"
	IntentJump   = "JUMP"
	IntentSprint = "SPRINT"
	IntentSneak  = "SNEAK"
	IntentEat    = "EAT"
	IntentChat   = "CHAT"
)

type Intent struct {
	Type string `json:"type"`

	// MOVE: persistent movement input in [-1,1]; forward>0 walks forward, strafe>0 walks left.
	Forward float64 `json:"forward,omitempty"`
	Strafe  float64 `json:"strafe,omitempty"`

	// LOOK
	Yaw   float64 `json:"yaw,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`

	// SPRINT / SNEAK
	On bool `json:"on,omitempty"`

	// CHAT
	Text string `json:"text,omitempty"`

	// ATTACK: optional explicit target entity id.
	Target *int64 `json:"target,omitempty"`
}
