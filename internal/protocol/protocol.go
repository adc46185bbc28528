package protocol

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeButton streams a raw button transition to connected clients.
	// The configuration tool uses these to ask "which button did you press?".
	TypeButton MessageType = "button"

	// TypeChord streams a normalized chord event
	TypeChord MessageType = "chord"

	// TypeReload notifies clients that the mapping table was replaced
	TypeReload MessageType = "reload"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ButtonPayload is the payload for TypeButton
type ButtonPayload struct {
	Device    string `json:"device"`
	Button    string `json:"button"` // symbolic name, e.g. "BTN_SIDE"
	Code      uint16 `json:"code"`
	Pressed   bool   `json:"pressed"`
	Timestamp int64  `json:"ts"` // Unix microseconds
}

// ChordPayload is the payload for TypeChord
type ChordPayload struct {
	Device    string   `json:"device"`
	Buttons   []string `json:"buttons"`
	Codes     []uint16 `json:"codes"`
	Repeat    bool     `json:"repeat,omitempty"`
	Mapped    bool     `json:"mapped"`
	Timestamp int64    `json:"ts"`
}

// ReloadPayload is the payload for TypeReload
type ReloadPayload struct {
	Mappings int `json:"mappings"`
}
