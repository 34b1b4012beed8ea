package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Name            string            `json:"name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	// MaxOutstanding caps in-flight requests on this connection (server clamps it).
	MaxOutstanding int `json:"max_outstanding,omitempty"`
	// ServerKeys asks the server to assign correlation keys for requests with key=0.
	ServerKeys bool `json:"server_keys,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Name            string `json:"name"`
	TickRateHz      int    `json:"tick_rate_hz"`
	MaxOutstanding  int    `json:"max_outstanding"`
}

// REQUEST (client -> server): one robot action tagged with a correlation key.
type RequestMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Name            string        `json:"name"`
	Key             uint64        `json:"key"`
	Action          ActionRequest `json:"action"`
}

// ActionRequest carries exactly one action. Empty fields are unset.
type ActionRequest struct {
	MoveDirection  Direction `json:"move_direction,omitempty"`
	TurnDirection  Direction `json:"turn_direction,omitempty"`
	MineDirection  Direction `json:"mine_direction,omitempty"`
	PlaceDirection Direction `json:"place_direction,omitempty"`
	PlaceMaterial  Material  `json:"place_material,omitempty"`
}

// ACCEPTED (server -> client): sent only for requests with key=0 on a connection
// that asked for server keys. It always precedes the matching RESULT.
type AcceptedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             uint64 `json:"key"`
}

// RESULT (server -> client). Results may arrive in any order.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             uint64 `json:"key"`
	Success         bool   `json:"success"`
}

// ERROR (server -> client): a request was refused before reaching the world.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             uint64 `json:"key,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewResult(key uint64, success bool) ResultMsg {
	return ResultMsg{Type: TypeResult, ProtocolVersion: Version, Key: key, Success: success}
}

func NewAccepted(key uint64) AcceptedMsg {
	return AcceptedMsg{Type: TypeAccepted, ProtocolVersion: Version, Key: key}
}

func NewError(key uint64, code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Key: key, Code: code, Message: msg}
}
