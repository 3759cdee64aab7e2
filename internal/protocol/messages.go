package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	// MaxQueue bounds the server's per-client outbound queue.
	MaxQueue int `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	AgentID         string      `json:"agent_id"`
	EntityID        int64       `json:"entity_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz     int     `json:"tick_rate_hz"`
	TrackingRadius float64 `json:"tracking_radius"`
	Lockstep       bool    `json:"lockstep"`
	Seed           int64   `json:"seed"`
}

// ERROR (server -> client). Sent instead of WELCOME when the handshake is refused.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
