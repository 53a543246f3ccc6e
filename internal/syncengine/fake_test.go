package syncengine

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ensemble-audio/ensemble/internal/cache"
	"github.com/ensemble-audio/ensemble/internal/player"
	"github.com/ensemble-audio/ensemble/internal/queue"
	"github.com/ensemble-audio/ensemble/internal/repository"
	"github.com/ensemble-audio/ensemble/internal/stream"
	"github.com/ensemble-audio/ensemble/internal/transport"
)

type playURLCall struct {
	url       string
	autostart bool
}

// fakeHandle is a scriptable in-memory device.
type fakeHandle struct {
	mu      sync.Mutex
	id      string
	name    string
	state   transport.State
	elapsed int64
	jiffies int64
	powered bool
	volume  int
	muted   bool
	codecs  []string

	err error // returned by every command when set

	plays     int
	pauses    int
	stops     int
	unpauses  []int64
	skips     []int64
	pausesFor []int64
	playURLs  []playURLCall
	volumes   []int
	powers    []bool
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, name: id, codecs: []string{"flac", "pcm"}}
}

func (f *fakeHandle) ID() string   { return f.id }
func (f *fakeHandle) Name() string { return f.name }

func (f *fakeHandle) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeHandle) setState(s transport.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeHandle) ElapsedMilliseconds() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}

func (f *fakeHandle) setElapsed(ms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elapsed = ms
}

func (f *fakeHandle) Jiffies() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jiffies
}

func (f *fakeHandle) Powered() bool            { f.mu.Lock(); defer f.mu.Unlock(); return f.powered }
func (f *fakeHandle) VolumeLevel() int         { f.mu.Lock(); defer f.mu.Unlock(); return f.volume }
func (f *fakeHandle) Muted() bool              { f.mu.Lock(); defer f.mu.Unlock(); return f.muted }
func (f *fakeHandle) SupportedCodecs() []string { return f.codecs }

func (f *fakeHandle) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return f.err
}

func (f *fakeHandle) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return f.err
}

func (f *fakeHandle) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.err
}

func (f *fakeHandle) Unpause(_ context.Context, atJiffies int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpauses = append(f.unpauses, atJiffies)
	return f.err
}

func (f *fakeHandle) SkipAhead(_ context.Context, ms int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips = append(f.skips, ms)
	return f.err
}

func (f *fakeHandle) PauseFor(_ context.Context, ms int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pausesFor = append(f.pausesFor, ms)
	return f.err
}

func (f *fakeHandle) VolumeSet(_ context.Context, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, level)
	f.volume = level
	return f.err
}

func (f *fakeHandle) Mute(_ context.Context, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = muted
	return f.err
}

func (f *fakeHandle) Power(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.powers = append(f.powers, on)
	f.powered = on
	return f.err
}

func (f *fakeHandle) PlayURL(_ context.Context, url string, autostart bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playURLs = append(f.playURLs, playURLCall{url: url, autostart: autostart})
	return f.err
}

func (f *fakeHandle) skipCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.skips))
	copy(out, f.skips)
	return out
}

func (f *fakeHandle) pauseForCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.pausesFor))
	copy(out, f.pausesFor)
	return out
}

func (f *fakeHandle) unpauseCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.unpauses))
	copy(out, f.unpauses)
	return out
}

func (f *fakeHandle) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

func (f *fakeHandle) pauseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

func (f *fakeHandle) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeHandle) playURLCalls() []playURLCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]playURLCall, len(f.playURLs))
	copy(out, f.playURLs)
	return out
}

type testRig struct {
	engine  *Engine
	clk     *clock.Mock
	hub     *transport.Hub
	players *player.Registry
	queues  *queue.Manager
	streams *stream.Service
	store   *cache.Store
	repo    *repository.Repo
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.NewRepo(db)
	store := cache.NewStore(repo)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock()
	hub := transport.NewHub(logger)
	players := player.NewRegistry()
	queues := queue.NewManager()
	streams := stream.NewService("http://stream.local")

	return &testRig{
		engine:  New(logger, clk, hub, players, queues, streams, store, repo),
		clk:     clk,
		hub:     hub,
		players: players,
		queues:  queues,
		streams: streams,
		store:   store,
		repo:    repo,
	}
}

// addPlayer registers a fake device and its logical record.
func (r *testRig) addPlayer(id string, state transport.State) *fakeHandle {
	h := newFakeHandle(id)
	h.setState(state)
	r.hub.Add(h)
	r.players.Set(player.Player{
		ID:          id,
		Name:        id,
		Available:   true,
		State:       stateMap[state],
		GroupChilds: make(map[string]struct{}),
	})
	return h
}

// group wires master+childs membership directly into the registry.
func (r *testRig) group(masterID string, childIDs ...string) {
	master, _ := r.players.Get(masterID)
	master.GroupChilds[masterID] = struct{}{}
	for _, childID := range childIDs {
		master.GroupChilds[childID] = struct{}{}
		child, _ := r.players.Get(childID)
		child.SyncedTo = masterID
		r.players.Set(child)
	}
	r.players.Set(master)
}

// playingQueue sets up a playing queue with a current item, assigned to
// the given players, and returns its id.
func (r *testRig) playingQueue(queueID string, playerIDs ...string) {
	r.queues.SetQueue(queue.Queue{
		ID:    queueID,
		State: player.StatePlaying,
		Current: &queue.Item{
			ID:      "item-1",
			QueueID: queueID,
			Name:    "Test Track",
		},
	})
	for _, id := range playerIDs {
		r.queues.Assign(id, queueID)
	}
}

// waitFor polls cond with a real-time deadline; used where the engine
// dispatches corrective commands on their own goroutines.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}
