// Package api exposes the engine over http: a player listing, the
// transport/sync commands, and a websocket pushing player updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ensemble-audio/ensemble/internal/player"
	"github.com/ensemble-audio/ensemble/internal/syncengine"
)

const clientBufferSize = 32

type Server struct {
	log      *slog.Logger
	registry *player.Registry
	engine   *syncengine.Engine
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan player.Snapshot]struct{}
}

func NewServer(log *slog.Logger, registry *player.Registry, engine *syncengine.Engine) *Server {
	s := &Server{
		log:      log,
		registry: registry,
		engine:   engine,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[chan player.Snapshot]struct{}),
	}
	registry.Subscribe(s.broadcast)
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/players", s.handlePlayers)
	mux.HandleFunc("POST /api/players/{id}/play", s.command(s.engine.CmdPlay))
	mux.HandleFunc("POST /api/players/{id}/pause", s.command(s.engine.CmdPause))
	mux.HandleFunc("POST /api/players/{id}/stop", s.command(s.engine.CmdStop))
	mux.HandleFunc("POST /api/players/{id}/unsync", s.command(s.engine.Unsync))
	mux.HandleFunc("POST /api/players/{id}/sync", s.handleSync)
	mux.HandleFunc("POST /api/players/{id}/volume", s.handleVolume)
	mux.HandleFunc("POST /api/players/{id}/power", s.handlePower)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return mux
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Players())
}

// command adapts a player-addressed engine call to a route handler.
func (s *Server) command(fn func(ctx context.Context, playerID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.finish(w, fn(r.Context(), r.PathValue("id")))
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Target == "" {
		http.Error(w, "target required", http.StatusBadRequest)
		return
	}
	s.finish(w, s.engine.Sync(r.Context(), r.PathValue("id"), body.Target))
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level int `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "level required", http.StatusBadRequest)
		return
	}
	s.finish(w, s.engine.CmdVolumeSet(r.Context(), r.PathValue("id"), body.Level))
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "on required", http.StatusBadRequest)
		return
	}
	s.finish(w, s.engine.CmdPower(r.Context(), r.PathValue("id"), body.On))
}

func (s *Server) finish(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, syncengine.ErrPlayerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, syncengine.ErrAlreadySynced),
		errors.Is(err, syncengine.ErrSyncedToOther),
		errors.Is(err, syncengine.ErrNotSynced),
		errors.Is(err, syncengine.ErrSyncedChild):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	ch := make(chan player.Snapshot, clientBufferSize)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, ch)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// current state first so clients don't start from nothing
	for _, snap := range s.registry.Players() {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-ch:
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}

// broadcast fans a player update out to connected websocket clients.
// Slow clients lose updates rather than stalling the registry.
func (s *Server) broadcast(snap player.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- snap:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
