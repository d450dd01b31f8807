package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"homeapps/internal/bus"
	"homeapps/internal/ha"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *ha.MockClient, *scheduler.Scheduler) {
	t.Helper()

	mockHA := ha.NewMockClient()
	mockHA.SeedState("light.kitchen", "on", map[string]interface{}{"friendly_name": "Kitchen"})
	mockHA.SeedState("cover.bedroom", "open", nil)
	mockHA.Connect()

	logger := zap.NewNop()
	clock := clockwork.NewFakeClock()

	snapshot := store.NewStore(mockHA, logger)
	if err := snapshot.Sync(); err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}

	eventBus := bus.NewBus(mockHA, clock, logger)
	eventBus.Subscribe("light.*", func(change bus.StateChange) {})

	jobs := scheduler.NewScheduler(clock, time.UTC, logger)
	jobs.RunEvery("climate_summary", 5*time.Minute, func() {})
	t.Cleanup(jobs.Stop)

	appNames := func() []string {
		return []string{"presence/alice", "climate"}
	}

	return NewServer(snapshot, eventBus, jobs, appNames, logger, 0), mockHA, jobs
}

// TestServer_Health tests the health endpoint
func TestServer_Health(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %s", body["status"])
	}
}

// TestServer_Entities tests the entity snapshot endpoint
func TestServer_Entities(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var entities []EntityView
	if err := json.Unmarshal(rec.Body.Bytes(), &entities); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(entities))
	}

	found := false
	for _, e := range entities {
		if e.EntityID == "light.kitchen" && e.State == "on" {
			found = true
		}
	}
	if !found {
		t.Error("Expected light.kitchen in entity listing")
	}
}

// TestServer_Apps tests the app status endpoint
func TestServer_Apps(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/apps", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body AppsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Apps) != 2 {
		t.Errorf("Expected 2 apps, got %v", body.Apps)
	}
	if body.Subscriptions != 1 {
		t.Errorf("Expected 1 subscription, got %d", body.Subscriptions)
	}
	if len(body.Jobs) != 1 || body.Jobs[0] != "climate_summary" {
		t.Errorf("Expected climate_summary job, got %v", body.Jobs)
	}
}

// TestServer_Metrics tests that the Prometheus endpoint is wired
func TestServer_Metrics(t *testing.T) {
	s, mockHA, _ := newTestServer(t)

	// Produce some traffic so counters exist.
	mockHA.SetEntityState("light.kitchen", "off", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("Expected metrics output, got empty body")
	}
}
