package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/ensemble-audio/ensemble/internal/player"
	"github.com/ensemble-audio/ensemble/internal/queue"
	"github.com/ensemble-audio/ensemble/internal/stream"
	"github.com/ensemble-audio/ensemble/internal/transport"
)

// Precondition violations are surfaced to the command issuer; they mean
// the caller asked for an impossible membership change.
var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrAlreadySynced  = errors.New("player is already synced")
	ErrSyncedToOther  = errors.New("player is already synced to another player")
	ErrNotSynced      = errors.New("player is not synced")
	ErrSyncedChild    = errors.New("a synced player cannot receive play commands directly")
)

// fanOut runs fn against every handle concurrently. One member failing
// never aborts the others; all failures come back aggregated.
func fanOut(handles []transport.Handle, fn func(transport.Handle) error) error {
	var g errgroup.Group
	var mu sync.Mutex
	var errs *multierror.Error
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := fn(h); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", h.ID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

// CmdStop stops the whole sync group the player belongs to as master.
// Members already stopped are skipped.
func (e *Engine) CmdStop(ctx context.Context, playerID string) error {
	members := e.groupHandles(playerID)
	return fanOut(members, func(h transport.Handle) error {
		if h.State() == transport.StateStopped {
			return nil
		}
		return h.Stop(ctx)
	})
}

// CmdPlay starts every group member that is holding a buffered or paused
// stream. Members in any other state are skipped, not errored.
func (e *Engine) CmdPlay(ctx context.Context, playerID string) error {
	members := e.groupHandles(playerID)
	return fanOut(members, func(h transport.Handle) error {
		switch h.State() {
		case transport.StatePaused, transport.StateBuffering, transport.StateBufferReady:
			return h.Play(ctx)
		default:
			return nil
		}
	})
}

// CmdPause pauses every group member that is currently producing or
// filling audio.
func (e *Engine) CmdPause(ctx context.Context, playerID string) error {
	members := e.groupHandles(playerID)
	return fanOut(members, func(h transport.Handle) error {
		switch h.State() {
		case transport.StatePlaying, transport.StateBuffering, transport.StateBufferReady:
			return h.Pause(ctx)
		default:
			return nil
		}
	})
}

func (e *Engine) CmdPower(ctx context.Context, playerID string, on bool) error {
	h := e.hub.Get(playerID)
	if h == nil {
		return nil
	}
	if err := h.Power(ctx, on); err != nil {
		return err
	}
	if err := e.store.Set(ctx, prevStateKey(playerID), prevState{Powered: on, Volume: h.VolumeLevel()}); err != nil {
		e.log.Warn("caching player state failed", "playerID", playerID, "err", err)
	}
	return nil
}

func (e *Engine) CmdVolumeSet(ctx context.Context, playerID string, level int) error {
	h := e.hub.Get(playerID)
	if h == nil {
		return nil
	}
	if err := h.VolumeSet(ctx, level); err != nil {
		return err
	}
	if err := e.store.Set(ctx, prevStateKey(playerID), prevState{Powered: h.Powered(), Volume: level}); err != nil {
		e.log.Warn("caching player state failed", "playerID", playerID, "err", err)
	}
	return nil
}

func (e *Engine) CmdVolumeMute(ctx context.Context, playerID string, muted bool) error {
	h := e.hub.Get(playerID)
	if h == nil {
		return nil
	}
	return h.Mute(ctx, muted)
}

// Sync makes childID a member of masterID's group. Syncing to a player
// that is itself a child, or re-syncing a child of a different master,
// is a caller error. If the master's queue is playing, playback is
// restarted (debounced) so a fresh shared stream session covers the new
// member.
func (e *Engine) Sync(ctx context.Context, childID, masterID string) error {
	e.mu.Lock()
	child, ok := e.players.Get(childID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, childID)
	}
	master, ok := e.players.Get(masterID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, masterID)
	}
	if master.SyncedTo != "" {
		e.mu.Unlock()
		return ErrAlreadySynced
	}
	if child.SyncedTo == masterID {
		e.mu.Unlock()
		return nil
	}
	if child.SyncedTo != "" {
		e.mu.Unlock()
		return ErrSyncedToOther
	}

	// mastership is self-inclusive
	if master.GroupChilds == nil {
		master.GroupChilds = make(map[string]struct{})
	}
	master.GroupChilds[masterID] = struct{}{}
	master.GroupChilds[childID] = struct{}{}
	child.SyncedTo = masterID
	e.players.Set(child)
	e.players.Set(master)

	if q, ok := e.queues.ActiveQueue(masterID); ok && q.State == player.StatePlaying {
		e.scheduleResyncLocked(masterID, q.ID)
	}
	e.mu.Unlock()
	return nil
}

// scheduleResyncLocked coalesces group restarts: several syncs into the
// same group within the debounce window produce one restart. Caller
// holds e.mu.
func (e *Engine) scheduleResyncLocked(masterID, queueID string) {
	if t := e.resyncTimers[masterID]; t != nil {
		t.Stop()
	}
	e.resyncTimers[masterID] = e.clock.AfterFunc(resyncDebounce, func() {
		e.mu.Lock()
		delete(e.resyncTimers, masterID)
		e.mu.Unlock()
		if err := e.queues.Resume(e.baseCtx, queueID, false); err != nil {
			e.log.Warn("group restart failed", "playerID", masterID, "queueID", queueID, "err", err)
		}
	})
}

// cancelPendingResync drops a not-yet-fired debounced restart for the
// given master, for callers about to start playback themselves.
func (e *Engine) cancelPendingResync(masterID string) {
	e.mu.Lock()
	if t := e.resyncTimers[masterID]; t != nil {
		t.Stop()
		delete(e.resyncTimers, masterID)
	}
	e.mu.Unlock()
}

// Unsync detaches a child from its group. The child is stopped first;
// when the master is left alone afterwards the group dissolves.
func (e *Engine) Unsync(ctx context.Context, playerID string) error {
	e.mu.Lock()
	child, ok := e.players.Get(playerID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	masterID := child.SyncedTo
	if masterID == "" {
		e.mu.Unlock()
		return ErrNotSynced
	}
	e.mu.Unlock()

	if err := e.CmdStop(ctx, playerID); err != nil {
		e.log.Warn("stopping unsynced player failed", "playerID", playerID, "err", err)
	}

	e.mu.Lock()
	child, ok = e.players.Get(playerID)
	if ok {
		child.SyncedTo = ""
		e.players.Set(child)
	}
	if master, ok := e.players.Get(masterID); ok {
		delete(master.GroupChilds, playerID)
		if len(master.GroupChilds) == 1 {
			if _, self := master.GroupChilds[masterID]; self {
				// last child vanished; the sync group is dissolved
				delete(master.GroupChilds, masterID)
			}
		}
		e.players.Set(master)
	}
	e.mu.Unlock()
	return nil
}

// PlayMedia starts a queue item on the player. A group master gets a
// fresh multi-client stream session fanned out to every member with
// autostart off, so the buffer-ready barrier coordinates the actual
// start; a standalone player streams and starts directly.
func (e *Engine) PlayMedia(ctx context.Context, playerID string, item queue.Item, seekSec int, fadeIn bool) error {
	// a restart scheduled by a recent sync would race the new session
	e.cancelPendingResync(playerID)

	e.mu.Lock()
	p, ok := e.players.Get(playerID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	if p.SyncedTo != "" {
		e.mu.Unlock()
		return ErrSyncedChild
	}
	isGroup := len(p.GroupChilds) > 0
	e.mu.Unlock()

	if !isGroup {
		h := e.hub.Get(playerID)
		if h == nil {
			return nil
		}
		url := e.streams.ResolveItemURL(item, codecFor(h), seekSec, fadeIn)
		return h.PlayURL(ctx, url, true)
	}

	job, err := e.streams.CreateMultiClientJob(ctx, item.QueueID, item, seekSec, fadeIn)
	if err != nil {
		return err
	}
	return fanOut(e.groupHandles(playerID), func(h transport.Handle) error {
		return h.PlayURL(ctx, e.streams.ResolveURL(job, h.ID(), codecFor(h)), false)
	})
}

// PlayStream joins the player (and its group) to an existing shared
// stream session.
func (e *Engine) PlayStream(ctx context.Context, playerID string, job *stream.Job) error {
	e.cancelPendingResync(playerID)
	return fanOut(e.groupHandles(playerID), func(h transport.Handle) error {
		return h.PlayURL(ctx, e.streams.ResolveURL(job, h.ID(), codecFor(h)), false)
	})
}

func codecFor(h transport.Handle) stream.Codec {
	for _, c := range h.SupportedCodecs() {
		if c == "flac" {
			return stream.CodecFLAC
		}
	}
	return stream.CodecPCM
}
