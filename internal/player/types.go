package player

import "time"

type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateBuffering
	StateBufferReady
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateBufferReady:
		return "buffer_ready"
	default:
		return "idle"
	}
}

// Player is the logical record for one audio endpoint. A player is a group
// master when GroupChilds is non-empty (and then includes its own id), a
// group child when SyncedTo is set, and standalone otherwise. It is never
// both at once.
type Player struct {
	ID             string
	Name           string
	Available      bool
	Powered        bool
	State          State
	ElapsedMS      int64
	ElapsedUpdated time.Time
	Volume         int
	Muted          bool
	CurrentItemID  string

	SyncedTo     string
	GroupChilds  map[string]struct{}
	SyncAdjustMS int64
}

// Snapshot is an immutable copy of a player record, safe to hand to
// observers outside the engine.
type Snapshot struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Available     bool     `json:"available"`
	Powered       bool     `json:"powered"`
	State         string   `json:"state"`
	ElapsedMS     int64    `json:"elapsed_ms"`
	Volume        int      `json:"volume"`
	Muted         bool     `json:"muted"`
	CurrentItemID string   `json:"current_item_id,omitempty"`
	SyncedTo      string   `json:"synced_to,omitempty"`
	GroupChilds   []string `json:"group_childs,omitempty"`
}
