// Package queue models the active play queues the engine coordinates
// playback for. The real queue logic (track ordering, repeat modes) is a
// separate controller concern; the engine only needs the active queue per
// player, its play state and a way to resume it.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/ensemble-audio/ensemble/internal/player"
)

type Item struct {
	ID          string
	QueueID     string
	Name        string
	URI         string
	DurationSec int
}

type Queue struct {
	ID      string
	State   player.State
	Current *Item
}

type Controller interface {
	// ActiveQueue returns the queue currently driving the given player.
	// For a group child this is the master's queue.
	ActiveQueue(playerID string) (Queue, bool)
	Resume(ctx context.Context, queueID string, fadeIn bool) error
}

// Manager is a minimal in-memory Controller. Resume is delegated to a
// callback so the playback path stays with the engine.
type Manager struct {
	mu       sync.Mutex
	queues   map[string]Queue
	assigned map[string]string // player id -> queue id

	OnResume func(ctx context.Context, queueID string, fadeIn bool) error
}

func NewManager() *Manager {
	return &Manager{
		queues:   make(map[string]Queue),
		assigned: make(map[string]string),
	}
}

func (m *Manager) SetQueue(q Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[q.ID] = q
}

func (m *Manager) Assign(playerID, queueID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[playerID] = queueID
}

func (m *Manager) SetState(queueID string, state player.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueID]
	if !ok {
		return
	}
	q.State = state
	m.queues[queueID] = q
}

// ActiveQueueByID looks a queue up directly by its id.
func (m *Manager) ActiveQueueByID(queueID string) (Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueID]
	return q, ok
}

// AssignedPlayers returns the ids of players currently driven by the
// given queue.
func (m *Manager) AssignedPlayers(queueID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for playerID, qid := range m.assigned {
		if qid == queueID {
			out = append(out, playerID)
		}
	}
	return out
}

func (m *Manager) ActiveQueue(playerID string) (Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queueID, ok := m.assigned[playerID]
	if !ok {
		return Queue{}, false
	}
	q, ok := m.queues[queueID]
	return q, ok
}

func (m *Manager) Resume(ctx context.Context, queueID string, fadeIn bool) error {
	m.mu.Lock()
	resume := m.OnResume
	m.mu.Unlock()
	if resume == nil {
		return errors.New("no resume handler configured")
	}
	return resume(ctx, queueID, fadeIn)
}
