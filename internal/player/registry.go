package player

import (
	"sort"
	"sync"
)

// Observer is notified with a snapshot whenever a player record changes.
type Observer func(Snapshot)

// Registry holds the logical player records. Records are stored by value;
// Get hands out a deep copy and Set writes one back, so readers on other
// goroutines never observe a half-applied mutation.
type Registry struct {
	mu        sync.Mutex
	players   map[string]Player
	observers []Observer
}

func NewRegistry() *Registry {
	return &Registry{players: make(map[string]Player)}
}

func (r *Registry) Get(playerID string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	if !ok {
		return Player{}, false
	}
	return copyPlayer(p), true
}

// Set stores the record and notifies observers of the change.
func (r *Registry) Set(p Player) {
	r.mu.Lock()
	stored := copyPlayer(p)
	r.players[p.ID] = stored
	snap := snapshot(stored)
	obs := make([]Observer, len(r.observers))
	copy(obs, r.observers)
	r.mu.Unlock()

	for _, o := range obs {
		o(snap)
	}
}

func (r *Registry) Remove(playerID string) {
	r.mu.Lock()
	delete(r.players, playerID)
	r.mu.Unlock()
}

func (r *Registry) Players() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, snapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func copyPlayer(p Player) Player {
	childs := make(map[string]struct{}, len(p.GroupChilds))
	for id := range p.GroupChilds {
		childs[id] = struct{}{}
	}
	p.GroupChilds = childs
	return p
}

func snapshot(p Player) Snapshot {
	snap := Snapshot{
		ID:            p.ID,
		Name:          p.Name,
		Available:     p.Available,
		Powered:       p.Powered,
		State:         p.State.String(),
		ElapsedMS:     p.ElapsedMS,
		Volume:        p.Volume,
		Muted:         p.Muted,
		CurrentItemID: p.CurrentItemID,
		SyncedTo:      p.SyncedTo,
	}
	if len(p.GroupChilds) > 0 {
		snap.GroupChilds = make([]string, 0, len(p.GroupChilds))
		for id := range p.GroupChilds {
			snap.GroupChilds = append(snap.GroupChilds, id)
		}
		sort.Strings(snap.GroupChilds)
	}
	return snap
}
