package transport

import (
	"log/slog"
	"sync"
)

const eventBufferSize = 256

// Hub is the registry of connected device handles and the fan-in point
// for their events. Protocol adapters call Add/Remove when devices come
// and go and Publish for everything in between; the sync engine consumes
// the single Events channel.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	handles map[string]Handle

	events chan Event
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		handles: make(map[string]Handle),
		events:  make(chan Event, eventBufferSize),
	}
}

func (h *Hub) Events() <-chan Event { return h.events }

// Add registers a handle and emits a connected event. Re-adding an id
// replaces the previous handle (a device that reconnected).
func (h *Hub) Add(handle Handle) {
	h.mu.Lock()
	h.handles[handle.ID()] = handle
	h.mu.Unlock()
	h.events <- Event{Type: EventConnected, PlayerID: handle.ID()}
}

func (h *Hub) Remove(playerID string) {
	h.mu.Lock()
	delete(h.handles, playerID)
	h.mu.Unlock()
	h.events <- Event{Type: EventDisconnected, PlayerID: playerID}
}

// Publish delivers a device event. Heartbeats are lossy: when the engine
// is behind, dropping one is harmless since the next arrives within a
// second anyway.
func (h *Hub) Publish(ev Event) {
	if ev.Type == EventHeartbeat {
		select {
		case h.events <- ev:
		default:
			h.log.Debug("dropping heartbeat, event buffer full", "playerID", ev.PlayerID)
		}
		return
	}
	h.events <- ev
}

// Get returns the live handle for a player, or nil when it is not
// (or no longer) connected.
func (h *Hub) Get(playerID string) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handles[playerID]
}

func (h *Hub) Handles() []Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Handle, 0, len(h.handles))
	for _, handle := range h.handles {
		out = append(out, handle)
	}
	return out
}
