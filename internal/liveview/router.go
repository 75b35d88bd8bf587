package liveview

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dmxd/internal/engine"
	"dmxd/internal/link"
	"dmxd/internal/liveness"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LinkState reports the device link state.
type LinkState interface {
	State() link.State
}

// Server holds what the HTTP surface reads.
type Server struct {
	Engine  *engine.Engine
	Hub     *Hub
	Monitor *liveness.Monitor
	Link    LinkState
	MaxAge  time.Duration
}

// Health is the /healthz body.
type Health struct {
	Status string   `json:"status"`
	Link   string   `json:"link"`
	Stale  []string `json:"stale,omitempty"`
}

// UniverseView is the /api/universe body.
type UniverseView struct {
	Input  []int `json:"input"`
	Output []int `json:"output"`
	Dirty  bool  `json:"dirty"`
}

// HandlerView describes one bound fader.
type HandlerView struct {
	Channel int    `json:"channel"`
	Type    string `json:"type"`
	Output  *int   `json:"output,omitempty"`
	Base    *int   `json:"base,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Offset  *int   `json:"offset,omitempty"`
	Paired  *int   `json:"paired,omitempty"`
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.Hub.ServeWS)
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/universe", s.handleUniverse)
		r.Get("/handlers", s.handleHandlers)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "ok"}
	if s.Link != nil {
		h.Link = s.Link.State().String()
	}
	if s.Monitor != nil {
		h.Stale = s.Monitor.Stale(s.MaxAge)
	}

	status := http.StatusOK
	if len(h.Stale) > 0 || h.Link == link.Failed.String() {
		h.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleUniverse(w http.ResponseWriter, _ *http.Request) {
	in, out := s.Engine.Input(), s.Engine.Output()
	writeJSON(w, http.StatusOK, UniverseView{
		Input:  ints(in[:]),
		Output: ints(out[:]),
		Dirty:  s.Engine.Dirty(),
	})
}

func (s *Server) handleHandlers(w http.ResponseWriter, _ *http.Request) {
	views := []HandlerView{}
	for ch, h := range s.Engine.Handlers() {
		if v, ok := describe(ch, h); ok {
			views = append(views, v)
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func describe(ch int, h engine.Handler) (HandlerView, bool) {
	v := HandlerView{Channel: ch}
	switch h := h.(type) {
	case engine.None:
		return v, false
	case engine.SingleChannel:
		v.Type, v.Output = "single", &h.Output
	case engine.LedStatic:
		v.Type, v.Base, v.Count, v.Offset = "led-static", &h.Base, &h.Count, &h.Offset
	case engine.Led2ChIntensity:
		v.Type, v.Paired, v.Base = "led-2ch-intensity", &h.Paired, &h.Base
	case engine.Led2ChColor:
		v.Type, v.Paired, v.Base = "led-2ch-color", &h.Paired, &h.Base
	case engine.Master:
		v.Type = "master"
	case engine.Bpm:
		v.Type = "bpm"
	default:
		v.Type = fmt.Sprintf("%T", h)
	}
	return v, true
}

func ints(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // best-effort write; the client may be gone
	json.NewEncoder(w).Encode(v)
}
