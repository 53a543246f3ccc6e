package syncengine

import (
	"time"

	"github.com/montanaflynn/stats"
)

// playpoint is one drift observation for a group child: how far (in ms)
// the child was behind its master at ts, while both streamed job jobID.
type playpoint struct {
	ts     time.Time
	jobID  string
	diffMS int64
}

// playpointTracker keeps a bounded window of recent drift observations
// per player. A decision is only made on a full window of compatible
// samples; stale samples or a stream-job change discard the window.
type playpointTracker struct {
	windows map[string][]playpoint
}

func newPlaypointTracker() *playpointTracker {
	return &playpointTracker{windows: make(map[string][]playpoint)}
}

func (t *playpointTracker) record(playerID string, ts time.Time, jobID string, diffMS int64) {
	w := t.windows[playerID]
	if len(w) > 0 {
		last := w[len(w)-1]
		if ts.Sub(last.ts) > playpointMaxAge {
			w = w[:0]
		} else if last.jobID != jobID {
			w = w[:0]
		}
	}
	w = append(w, playpoint{ts: ts, jobID: jobID, diffMS: diffMS})
	if len(w) > minReqPlaypoints {
		w = w[len(w)-minReqPlaypoints:]
	}
	t.windows[playerID] = w
}

func (t *playpointTracker) ready(playerID string) bool {
	return len(t.windows[playerID]) >= minReqPlaypoints
}

// averageDrift returns the mean drift across the window. Callers must
// check ready first.
func (t *playpointTracker) averageDrift(playerID string) float64 {
	w := t.windows[playerID]
	diffs := make([]float64, len(w))
	for i, pp := range w {
		diffs[i] = float64(pp.diffMS)
	}
	avg, _ := stats.Mean(diffs)
	return avg
}

func (t *playpointTracker) clear(playerID string) {
	delete(t.windows, playerID)
}
