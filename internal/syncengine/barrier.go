package syncengine

import (
	"context"

	"github.com/ensemble-audio/ensemble/internal/transport"
)

// handleBufferReady coordinates the start of a freshly buffered track.
// A standalone player simply starts; a group master waits (bounded) for
// every member to report a full buffer, then tells all members to begin
// at matching points in their own clock domains. On timeout the start
// goes ahead anyway: a lagging member joins late and the drift corrector
// pulls it in once it plays.
func (e *Engine) handleBufferReady(ctx context.Context, playerID string) {
	p, ok := e.players.Get(playerID)
	if !ok {
		return
	}
	if p.SyncedTo != "" {
		// a child's start is coordinated by its master
		return
	}
	h := e.hub.Get(playerID)
	if h == nil {
		return
	}
	if len(p.GroupChilds) == 0 {
		if err := h.Play(ctx); err != nil {
			e.log.Warn("play command failed", "playerID", playerID, "err", err)
		}
		return
	}

	for poll := 0; poll < e.barrierPolls; poll++ {
		total, ready := 0, 0
		for _, member := range e.groupHandles(playerID) {
			total++
			if member.State() == transport.StateBufferReady {
				ready++
			}
		}
		if total == ready {
			break
		}
		t := e.clock.Timer(e.barrierInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	// all members ready (or timeout): coordinated start
	members := e.groupHandles(playerID)
	e.mu.Lock()
	deadline := e.clock.Now().Add(postStartNoResync)
	for _, member := range members {
		e.noResyncBefore[member.ID()] = deadline
	}
	e.mu.Unlock()

	err := fanOut(members, func(member transport.Handle) error {
		at := member.Jiffies() + startLeadMS
		if mp, ok := e.players.Get(member.ID()); ok {
			at -= mp.SyncAdjustMS
		}
		return member.Unpause(ctx, at)
	})
	if err != nil {
		e.log.Warn("synchronized start failed for group member(s)", "playerID", playerID, "err", err)
	}
}
