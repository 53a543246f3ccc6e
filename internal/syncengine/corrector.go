package syncengine

import (
	"math"
	"time"

	"github.com/ensemble-audio/ensemble/internal/transport"
)

// pauseForBackoff is how long to leave a player alone after a pause-for
// correction: the pause duration itself plus the regular settle time.
func pauseForBackoff(ms int64) time.Duration {
	return time.Duration(ms)*time.Millisecond + postCorrectionNoResync
}

// handleHeartbeat processes one elapsed-time report from a device. Every
// heartbeat refreshes the logical record; for a group child it also feeds
// the drift corrector.
func (e *Engine) handleHeartbeat(playerID string) {
	h := e.hub.Get(playerID)
	if h == nil {
		return
	}
	if h.State() == transport.StateStopped {
		// ignore heartbeats while stopped
		return
	}

	e.mu.Lock()
	p, ok := e.players.Get(playerID)
	if !ok {
		e.mu.Unlock()
		return
	}
	p.ElapsedMS = h.ElapsedMilliseconds()
	p.ElapsedUpdated = e.clock.Now()
	e.players.Set(p)
	e.mu.Unlock()

	if p.SyncedTo != "" {
		e.correctDrift(playerID, p.SyncedTo)
	}
}

// correctDrift measures how far a group child runs from its master and,
// once enough compatible measurements accumulated, issues exactly one
// corrective command. Only children are corrected; a child lagging too
// far behind to skip is instead compensated by pausing the master.
func (e *Engine) correctDrift(childID, masterID string) {
	childHandle := e.hub.Get(childID)
	masterHandle := e.hub.Get(masterID)
	if childHandle == nil || masterHandle == nil {
		return
	}
	// corrections only make sense while both sides actually play
	if masterHandle.State() != transport.StatePlaying {
		return
	}
	if childHandle.State() != transport.StatePlaying {
		return
	}

	q, ok := e.queues.ActiveQueue(childID)
	if !ok {
		return
	}
	job := e.streams.JobFor(q.ID)
	if job == nil {
		// no shared stream session; nothing to measure against
		return
	}

	diff := e.correctedElapsed(masterHandle) - e.correctedElapsed(childHandle)

	e.mu.Lock()
	now := e.clock.Now()
	if deadline, ok := e.noResyncBefore[childID]; ok && now.Before(deadline) {
		// a prior correction is still propagating
		e.mu.Unlock()
		return
	}

	e.playpoints.record(childID, now, job.ID, diff)
	if !e.playpoints.ready(childID) {
		e.mu.Unlock()
		return
	}

	avg := e.playpoints.averageDrift(childID)
	// every decision consumes the sampling window
	e.playpoints.clear(childID)

	// tolerance is checked on the unrounded average; rounding happens
	// only for the command argument
	if math.Abs(avg) < minDeviationAdjustMS {
		e.mu.Unlock()
		return
	}
	delta := int64(math.Round(math.Abs(avg)))

	switch {
	case avg > maxSkipAheadMS:
		// too far behind to skip the child there; slow the master down
		e.noResyncBefore[childID] = now.Add(postCorrectionNoResync)
		e.mu.Unlock()
		e.log.Warn("player is lagging behind more than the skip-ahead limit",
			"playerID", childID, "limitMS", maxSkipAheadMS, "avgDriftMS", delta)
		go e.pauseFor(masterID, delta)
	case avg > 0:
		e.noResyncBefore[childID] = now.Add(postCorrectionNoResync)
		e.mu.Unlock()
		e.log.Debug("resync: skip ahead", "playerID", childID, "ms", delta)
		go e.skipAhead(childID, delta)
	default:
		// the pause makes the player unavailable for exactly that long
		e.noResyncBefore[childID] = now.Add(pauseForBackoff(delta))
		e.mu.Unlock()
		e.log.Debug("resync: pause for", "playerID", childID, "ms", delta)
		go e.pauseFor(childID, delta)
	}
}

func (e *Engine) skipAhead(playerID string, ms int64) {
	h := e.hub.Get(playerID)
	if h == nil {
		return
	}
	if err := h.SkipAhead(e.baseCtx, ms); err != nil {
		e.log.Warn("skip-ahead command failed", "playerID", playerID, "ms", ms, "err", err)
	}
}

func (e *Engine) pauseFor(playerID string, ms int64) {
	h := e.hub.Get(playerID)
	if h == nil {
		return
	}
	if err := h.PauseFor(e.baseCtx, ms); err != nil {
		e.log.Warn("pause-for command failed", "playerID", playerID, "ms", ms, "err", err)
	}
}
