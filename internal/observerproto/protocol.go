package observerproto

import "voxelstream.ai/internal/events"

// Version is the observer protocol version.
const Version = "0.2"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeEvent     = "EVENT"
	TypeRelevance = "RELEVANCE"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Kinds limits the stream to these event kinds. Empty means all.
	Kinds []string `json:"kinds,omitempty"`

	// Center and ChunkRadius limit chunk events to a box of chunks. A nil
	// Center disables the spatial filter.
	Center      *[3]int `json:"center,omitempty"`
	ChunkRadius int     `json:"chunk_radius,omitempty"`

	// Relevance asks for per-viewer relevance changes as well.
	Relevance bool `json:"relevance,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
}

type WorldParams struct {
	TickRateHz int    `json:"tick_rate_hz"`
	ChunkSize  [3]int `json:"chunk_size"`
	Seed       int64  `json:"seed"`
	Resident   int    `json:"resident"`
	Viewers    int    `json:"viewers"`
}

// Server -> Client. One per lifecycle event.
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Event           events.Event `json:"event"`
}

// Server -> Client. Sent when a chunk enters or leaves a viewer's relevant set.
type RelevanceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Viewer          string `json:"viewer"`
	Pos             [3]int `json:"pos"`
	Relevant        bool   `json:"relevant"`
}
