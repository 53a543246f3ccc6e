// Package syncengine keeps groups of acoustically independent players in
// tight time alignment. Heartbeats from the devices feed per-player drift
// windows; once a window fills up the engine issues a single corrective
// skip-ahead or pause, coordinated with group membership changes and with
// a buffer-ready barrier for synchronized track starts.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ensemble-audio/ensemble/internal/cache"
	"github.com/ensemble-audio/ensemble/internal/player"
	"github.com/ensemble-audio/ensemble/internal/queue"
	"github.com/ensemble-audio/ensemble/internal/repository"
	"github.com/ensemble-audio/ensemble/internal/stream"
	"github.com/ensemble-audio/ensemble/internal/transport"
)

const (
	// drift correction
	minDeviationAdjustMS = 6    // corrections below this are inaudible
	minReqPlaypoints     = 8    // samples needed before a decision
	maxSkipAheadMS       = 1500 // beyond this the master is corrected instead
	playpointMaxAge      = 10 * time.Second

	// start barrier
	barrierPollInterval = 100 * time.Millisecond
	barrierMaxPolls     = 40
	startLeadMS         = 20
	postStartNoResync   = time.Second

	postCorrectionNoResync = 2 * time.Second
	resyncDebounce         = 500 * time.Millisecond

	defaultVolume     = 20
	cacheKeyPrevState = "player_prev_state"
)

var stateMap = map[transport.State]player.State{
	transport.StateStopped:     player.StateIdle,
	transport.StatePlaying:     player.StatePlaying,
	transport.StatePaused:      player.StatePaused,
	transport.StateBuffering:   player.StateBuffering,
	transport.StateBufferReady: player.StateBufferReady,
}

// prevState is what we remember about a player across reconnects.
type prevState struct {
	Powered bool `json:"powered"`
	Volume  int  `json:"volume"`
}

type Engine struct {
	log     *slog.Logger
	clock   clock.Clock
	hub     *transport.Hub
	players *player.Registry
	queues  queue.Controller
	streams stream.Provider
	store   *cache.Store
	repo    *repository.Repo

	// baseCtx bounds fire-and-forget transport work spawned from event
	// handlers; it is the ctx passed to Run.
	baseCtx context.Context

	mu             sync.Mutex
	playpoints     *playpointTracker
	noResyncBefore map[string]time.Time
	resyncTimers   map[string]*clock.Timer // master id -> pending debounced restart

	barrierInterval time.Duration
	barrierPolls    int
}

func New(
	log *slog.Logger,
	clk clock.Clock,
	hub *transport.Hub,
	players *player.Registry,
	queues queue.Controller,
	streams stream.Provider,
	store *cache.Store,
	repo *repository.Repo,
) *Engine {
	return &Engine{
		log:             log,
		clock:           clk,
		hub:             hub,
		players:         players,
		queues:          queues,
		streams:         streams,
		store:           store,
		repo:            repo,
		baseCtx:         context.Background(),
		playpoints:      newPlaypointTracker(),
		noResyncBefore:  make(map[string]time.Time),
		resyncTimers:    make(map[string]*clock.Timer),
		barrierInterval: barrierPollInterval,
		barrierPolls:    barrierMaxPolls,
	}
}

// Run consumes the transport event stream until ctx is cancelled.
// Heartbeats are handled inline so a heartbeat's drift decision is atomic
// with respect to other heartbeats; the slow handlers (connect restore,
// start barrier) run on their own goroutines.
func (e *Engine) Run(ctx context.Context) error {
	e.baseCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.hub.Events():
			switch ev.Type {
			case transport.EventConnected:
				go e.handleConnected(ctx, ev.PlayerID)
			case transport.EventDisconnected:
				e.handleDisconnected(ev.PlayerID)
			case transport.EventBufferReady:
				go e.handleBufferReady(ctx, ev.PlayerID)
			case transport.EventHeartbeat:
				e.handleHeartbeat(ev.PlayerID)
			case transport.EventUpdated:
				e.handlePlayerUpdate(ev.PlayerID)
			}
		}
	}
}

func (e *Engine) handleConnected(ctx context.Context, playerID string) {
	h := e.hub.Get(playerID)
	if h == nil {
		return
	}
	e.log.Info("player connected", "playerID", playerID, "name", h.Name())

	settings, err := e.repo.UpsertPlayerSettings(ctx, playerID)
	if err != nil {
		e.log.Warn("loading player settings failed", "playerID", playerID, "err", err)
		settings = &repository.PlayerSettings{PlayerID: playerID}
	}
	e.registerOrUpdate(h, settings.SyncAdjustMS)

	// restore last known power and volume
	prev := prevState{Powered: false, Volume: defaultVolume}
	if _, err := e.store.Get(ctx, prevStateKey(playerID), &prev); err != nil {
		e.log.Warn("reading cached player state failed", "playerID", playerID, "err", err)
	}
	if err := h.Power(ctx, prev.Powered); err != nil {
		e.log.Warn("restoring power state failed", "playerID", playerID, "err", err)
	}
	if err := h.VolumeSet(ctx, prev.Volume); err != nil {
		e.log.Warn("restoring volume failed", "playerID", playerID, "err", err)
	}
}

func (e *Engine) handleDisconnected(playerID string) {
	e.log.Info("player disconnected", "playerID", playerID)
	e.mu.Lock()
	e.playpoints.clear(playerID)
	delete(e.noResyncBefore, playerID)
	e.mu.Unlock()
	e.players.Remove(playerID)
}

// handlePlayerUpdate mirrors the transport-level state of a device onto
// its logical record.
func (e *Engine) handlePlayerUpdate(playerID string) {
	h := e.hub.Get(playerID)
	if h == nil {
		return
	}
	e.mu.Lock()
	p, ok := e.players.Get(playerID)
	if !ok {
		e.mu.Unlock()
		return
	}
	p.Available = true
	p.Name = h.Name()
	p.State = stateMap[h.State()]
	p.Powered = h.Powered()
	p.Volume = h.VolumeLevel()
	p.Muted = h.Muted()
	e.players.Set(p)
	e.mu.Unlock()
}

func (e *Engine) registerOrUpdate(h transport.Handle, syncAdjustMS int64) {
	e.mu.Lock()
	p, ok := e.players.Get(h.ID())
	if !ok {
		p = player.Player{
			ID:          h.ID(),
			GroupChilds: make(map[string]struct{}),
		}
	}
	p.Name = h.Name()
	p.Available = true
	p.State = stateMap[h.State()]
	p.Powered = h.Powered()
	p.Volume = h.VolumeLevel()
	p.Muted = h.Muted()
	p.SyncAdjustMS = syncAdjustMS
	e.players.Set(p)
	e.mu.Unlock()
}

// groupHandles returns the live handles of the whole group the player
// belongs to as master, the player itself included. Members without a
// live handle are skipped.
func (e *Engine) groupHandles(playerID string) []transport.Handle {
	memberIDs := map[string]struct{}{playerID: {}}
	if p, ok := e.players.Get(playerID); ok {
		for id := range p.GroupChilds {
			memberIDs[id] = struct{}{}
		}
	}
	handles := make([]transport.Handle, 0, len(memberIDs))
	for id := range memberIDs {
		if h := e.hub.Get(id); h != nil {
			handles = append(handles, h)
		}
	}
	return handles
}

// correctedElapsed is the device's elapsed position shifted by its
// configured static sync adjustment.
func (e *Engine) correctedElapsed(h transport.Handle) int64 {
	adjust := int64(0)
	if p, ok := e.players.Get(h.ID()); ok {
		adjust = p.SyncAdjustMS
	}
	return h.ElapsedMilliseconds() - adjust
}

func prevStateKey(playerID string) string {
	return fmt.Sprintf("%s.%s", cacheKeyPrevState, playerID)
}
