package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// MaxQueue bounds the server's outbound buffer for this session.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	WorldID         string   `json:"world_id"`
	Tick            uint64   `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	BlockPalette    []string `json:"block_palette"`
	PaletteDigest   string   `json:"palette_digest"`
}

// EDIT (client -> server). Op is PLACE, BREAK or SET_ACTIVE.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	Op              string `json:"op"`
	Pos             [3]int `json:"pos"`
	Block           string `json:"block,omitempty"`
	Active          bool   `json:"active,omitempty"`
}

// REGION (client -> server) loads or unloads an inclusive chunk range.
type RegionMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	Load            bool   `json:"load"`
	Min             [3]int `json:"min"`
	Max             [3]int `json:"max"`
}

// ACK (server -> client). Queued edits are applied on the next tick; their
// outcome is reported on the observer stream.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref,omitempty"`
	Queued          bool   `json:"queued"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}
