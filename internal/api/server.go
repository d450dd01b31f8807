// Package api exposes the runtime's HTTP surface: health, Prometheus
// metrics, and read-only views of the entity snapshot and running apps.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"homeapps/internal/bus"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves the runtime's HTTP endpoints.
type Server struct {
	snapshot *store.Store
	eventBus *bus.Bus
	jobs     *scheduler.Scheduler
	appNames func() []string
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates the API server. appNames reports the running app
// instances for the status endpoint.
func NewServer(snapshot *store.Store, eventBus *bus.Bus, jobs *scheduler.Scheduler, appNames func() []string, logger *zap.Logger, port int) *Server {
	s := &Server{
		snapshot: snapshot,
		eventBus: eventBus,
		jobs:     jobs,
		appNames: appNames,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/entities", s.handleEntities)
	r.Get("/api/apps", s.handleApps)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if err := s.server.Close(); err != nil {
		s.logger.Warn("Error closing API server", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// EntityView is the JSON shape for one entity in the snapshot.
type EntityView struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	LastChanged time.Time              `json:"last_changed"`
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	states := s.snapshot.All()
	views := make([]EntityView, 0, len(states))
	for _, state := range states {
		views = append(views, EntityView{
			EntityID:    state.EntityID,
			State:       state.State,
			Attributes:  state.Attributes,
			LastChanged: state.LastChanged,
		})
	}
	s.writeJSON(w, views)
}

// AppsResponse summarizes the running apps and their registrations.
type AppsResponse struct {
	Apps          []string `json:"apps"`
	Subscriptions int      `json:"subscriptions"`
	Jobs          []string `json:"jobs"`
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, AppsResponse{
		Apps:          s.appNames(),
		Subscriptions: s.eventBus.SubscriptionCount(),
		Jobs:          s.jobs.Jobs(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
