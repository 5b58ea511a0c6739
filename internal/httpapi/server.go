// Package httpapi serves the replica sync protocol over HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/metrics"
	"github.com/wovenlog/weave/internal/store"
	"github.com/wovenlog/weave/internal/sync"
)

// Server exposes one replica to its peers.
type Server struct {
	store  *store.GraphStore
	coord  *sync.Coordinator
	logger *slog.Logger
}

func NewServer(s *store.GraphStore, coord *sync.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, coord: coord, logger: logger}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	metrics.Register()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/api/sync", s.handleSync)
	r.Get("/api/events", s.handleEvents)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"events": s.store.Len(),
	})
}

// handleSync is the push half of an exchange: merge the caller's batch,
// answer with our clock and the events they have not seen. The answer is
// computed against the pre-merge log so the caller's own batch is not
// echoed straight back.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req sync.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed sync request: "+err.Error())
		return
	}

	newEvents := s.eventsSince(req.LastSync)

	report, err := s.coord.Merge(r.Context(), req.Events, req.VectorClock)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "merge failed: "+err.Error())
		return
	}
	s.logger.Debug("sync request served",
		"peer_events", len(req.Events),
		"returned", len(newEvents),
		"applied", report.Applied,
		"queued", report.Queued,
	)

	writeJSON(w, http.StatusOK, sync.SyncResponse{
		VectorClock: s.coord.VectorSnapshot(),
		NewEvents:   newEvents,
	})
}

// handleEvents is the read-only pull: events newer than since. A clock
// in the query merges into ours, keeping one-way listeners causally
// visible.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed since timestamp: "+err.Error())
			return
		}
		since = parsed
	}

	if clock := r.URL.Query().Get("vectorClock"); clock != "" {
		if _, err := s.coord.Merge(r.Context(), nil, clock); err != nil {
			writeError(w, http.StatusInternalServerError, "clock merge failed: "+err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, sync.EventsResponse{
		Events:      s.eventsSince(since),
		VectorClock: s.coord.VectorSnapshot(),
	})
}

func (s *Server) eventsSince(since time.Time) []event.Event {
	out := make([]event.Event, 0)
	for _, e := range s.store.All() {
		if since.IsZero() || e.Date.After(since) {
			out = append(out, *e)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
