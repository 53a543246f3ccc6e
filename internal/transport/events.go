package transport

type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventBufferReady
	EventHeartbeat
	EventUpdated
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventBufferReady:
		return "buffer_ready"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return "updated"
	}
}

// Event is one inbound notification from a protocol adapter.
type Event struct {
	Type     EventType
	PlayerID string
}
