package observerproto

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeBootstrap        = "BOOTSTRAP"
	TypeStructureUpdate  = "STRUCTURE_UPDATE"
	TypeStructureRemoved = "STRUCTURE_REMOVED"
	TypeTick             = "TICK"
)

// StructureState is the observer view of one controller. Sync carries the
// binary sync message (base64 in JSON) that peers apply with ApplyMessage.
type StructureState struct {
	ID             uint64 `json:"id"`
	Kind           string `json:"kind"`
	State          string `json:"state"`
	Active         bool   `json:"active"`
	Parts          int    `json:"parts"`
	SubControllers int    `json:"sub_controllers"`
	Min            [3]int `json:"min"`
	Max            [3]int `json:"max"`
	Reference      [3]int `json:"reference"`
	Reason         string `json:"reason,omitempty"`
	Validations    int    `json:"validations"`
	Description    string `json:"description"`
	Sync           []byte `json:"sync"`
}

// Server -> Client. First message on the observer WS connection, and the
// body of GET /v1/structures.
type BootstrapMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	SessionID       string           `json:"session_id,omitempty"`
	WorldID         string           `json:"world_id"`
	Tick            uint64           `json:"tick"`
	TickRateHz      int              `json:"tick_rate_hz"`
	BlockPalette    []string         `json:"block_palette"`
	Structures      []StructureState `json:"structures"`
}

// Server -> Client. Sent for every controller whose state changed in a tick.
type StructureUpdateMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Tick            uint64         `json:"tick"`
	Structure       StructureState `json:"structure"`
}

// Server -> Client. Sent when a controller is deregistered or assimilated.
type StructureRemovedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ID              uint64 `json:"id"`
	// MergedInto is the surviving controller for an assimilation.
	MergedInto uint64 `json:"merged_into,omitempty"`
}

// Server -> Client. Sent every tick with the cells whose rendering changed.
type TickMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	Changed         [][3]int `json:"changed,omitempty"`
	Rejected        int      `json:"rejected,omitempty"`
}
