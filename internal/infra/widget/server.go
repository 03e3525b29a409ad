package widget

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed player.html
var playerPage []byte

// Server exposes the widget bridge and the observer hub over HTTP.
type Server struct {
	bridge *Bridge
	hub    *Hub
}

// NewServer creates a Server. bridge is nil when the widget is disabled;
// hub may be nil when observers are disabled.
func NewServer(bridge *Bridge, hub *Hub) *Server {
	return &Server{bridge: bridge, hub: hub}
}

// Router creates the chi.Router with the widget routes.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	if s.bridge != nil {
		r.Get("/player", s.handlePlayer)
		r.Method(http.MethodGet, "/widget/ws", s.bridge)
	}
	if s.hub != nil {
		r.Method(http.MethodGet, "/events/ws", s.hub)
	}
	return r
}

func (s *Server) handlePlayer(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(playerPage)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":          "ok",
		"widgetConnected": s.bridge != nil && s.bridge.Connected(),
	}
	if s.hub != nil {
		body["observers"] = s.hub.Clients()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
