package runtime

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/eventflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
)

// healthCheckTimeout bounds the store ping behind /healthz.
const healthCheckTimeout = 2 * time.Second

// Health is the /healthz payload.
type Health struct {
	Status      string        `json:"status"`
	Transport   string        `json:"transport"`
	Store       string        `json:"store"`
	StoreError  string        `json:"store_error,omitempty"`
	UptimeSecs  int64         `json:"uptime_seconds"`
	Resource    ResourceUsage `json:"resource"`
	DeadLetters string        `json:"dead_letter_channel"`
}

// AdminHandler returns the admin router: Prometheus metrics, health, breaker
// states and per-channel counters.
func (s *Service) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.handleHealth)
	r.Get("/breakers", s.handleBreakers)
	r.Get("/stats", s.handleStats)
	return r
}

func (s *Service) health(ctx context.Context) Health {
	h := Health{
		Status:      "ok",
		Transport:   s.transport.Capabilities.Name,
		Store:       "memory",
		UptimeSecs:  int64(time.Since(s.startedAt).Seconds()),
		Resource:    s.resourceTracker.Snapshot(),
		DeadLetters: s.publisher.deadLetter.Channel(),
	}
	if s.shared {
		h.Store = "shared"
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		// Deduplication and limits fail open, so publishing continues.
		h.Status = "degraded"
		h.StoreError = err.Error()
	}
	return h
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.health(r.Context()))
}

func (s *Service) handleBreakers(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string)
	for _, ch := range s.naming.All() {
		if ch == s.publisher.deadLetter.Channel() {
			continue
		}
		states[ch] = s.publisher.BreakerState(r.Context(), ch).String()
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.prometheus == nil {
		http.Error(w, "channel statistics need the built-in metrics sink", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, s.prometheus.Snapshot())
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode admin response", err, loggingpkg.LogFields{"status": status})
	}
}
