package syncengine

import (
	"context"
	"testing"

	"github.com/ensemble-audio/ensemble/internal/transport"
)

func TestConnectRestoresCachedState(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	if err := r.store.Set(ctx, prevStateKey("dev"), prevState{Powered: true, Volume: 55}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	h := newFakeHandle("dev")
	r.hub.Add(h)

	r.engine.handleConnected(ctx, "dev")

	if got := h.powers; len(got) != 1 || !got[0] {
		t.Fatalf("power calls = %v, want [true]", got)
	}
	if got := h.volumes; len(got) != 1 || got[0] != 55 {
		t.Fatalf("volume calls = %v, want [55]", got)
	}
	p, ok := r.players.Get("dev")
	if !ok {
		t.Fatal("player not registered")
	}
	if !p.Available {
		t.Fatal("player not marked available")
	}
}

func TestConnectDefaultsWithoutCachedState(t *testing.T) {
	r := newTestRig(t)
	h := newFakeHandle("dev")
	r.hub.Add(h)

	r.engine.handleConnected(context.Background(), "dev")

	if got := h.powers; len(got) != 1 || got[0] {
		t.Fatalf("power calls = %v, want [false]", got)
	}
	if got := h.volumes; len(got) != 1 || got[0] != defaultVolume {
		t.Fatalf("volume calls = %v, want [%d]", got, defaultVolume)
	}
}

func TestConnectLoadsSyncAdjustment(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	if err := r.repo.SetSyncAdjust(ctx, "dev", 25); err != nil {
		t.Fatalf("set sync adjust: %v", err)
	}
	h := newFakeHandle("dev")
	r.hub.Add(h)

	r.engine.handleConnected(ctx, "dev")

	p, ok := r.players.Get("dev")
	if !ok {
		t.Fatal("player not registered")
	}
	if p.SyncAdjustMS != 25 {
		t.Fatalf("SyncAdjustMS = %d, want 25", p.SyncAdjustMS)
	}
}

func TestReconnectKeepsExistingMembership(t *testing.T) {
	r := newTestRig(t)
	r.addPlayer("master", transport.StatePlaying)
	r.addPlayer("child", transport.StatePlaying)
	r.group("master", "child")

	r.engine.handleConnected(context.Background(), "master")

	p, _ := r.players.Get("master")
	if _, ok := p.GroupChilds["child"]; !ok {
		t.Fatal("group membership lost on reconnect")
	}
	c, _ := r.players.Get("child")
	if c.SyncedTo != "master" {
		t.Fatalf("child SyncedTo = %q, want master", c.SyncedTo)
	}
}

func TestDisconnectEvictsPlayer(t *testing.T) {
	r := newTestRig(t)
	r.addPlayer("dev", transport.StatePlaying)
	r.engine.mu.Lock()
	r.engine.playpoints.record("dev", r.clk.Now(), "job-1", 50)
	r.engine.noResyncBefore["dev"] = r.clk.Now()
	r.engine.mu.Unlock()

	r.engine.handleDisconnected("dev")

	if _, ok := r.players.Get("dev"); ok {
		t.Fatal("player still registered after disconnect")
	}
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	if len(r.engine.playpoints.windows["dev"]) != 0 {
		t.Fatal("playpoint window survived disconnect")
	}
	if _, ok := r.engine.noResyncBefore["dev"]; ok {
		t.Fatal("no-resync deadline survived disconnect")
	}
}

func TestPlayerUpdateMirrorsDeviceState(t *testing.T) {
	r := newTestRig(t)
	h := r.addPlayer("dev", transport.StateStopped)

	h.setState(transport.StatePaused)
	h.mu.Lock()
	h.powered = true
	h.volume = 70
	h.muted = true
	h.mu.Unlock()

	r.engine.handlePlayerUpdate("dev")

	p, _ := r.players.Get("dev")
	if p.State != stateMap[transport.StatePaused] {
		t.Fatalf("State = %v, want paused", p.State)
	}
	if !p.Powered || p.Volume != 70 || !p.Muted {
		t.Fatalf("mirror incomplete: powered=%v volume=%d muted=%v", p.Powered, p.Volume, p.Muted)
	}
}

func TestPlayerUpdateForUnknownPlayerIsIgnored(t *testing.T) {
	r := newTestRig(t)
	h := newFakeHandle("ghost")
	r.hub.Add(h)

	r.engine.handlePlayerUpdate("ghost")

	if _, ok := r.players.Get("ghost"); ok {
		t.Fatal("update created a record for an unregistered player")
	}
}

func TestRunProcessesConnectEvents(t *testing.T) {
	r := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = r.engine.Run(ctx)
		close(done)
	}()

	h := newFakeHandle("dev")
	r.hub.Add(h)

	waitFor(t, func() bool {
		_, ok := r.players.Get("dev")
		return ok
	}, "player registered via event loop")

	cancel()
	<-done
}
