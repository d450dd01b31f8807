package presence

import (
	"testing"
	"time"

	"homeapps/internal/bus"
	"homeapps/internal/config"
	"homeapps/internal/ha"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

func testConfig() InstanceConfig {
	return InstanceConfig{
		TrackerEntity:  "device_tracker.demo_paulus",
		PersonName:     "Alice Smith",
		StatusInterval: config.Duration(2 * time.Minute),
	}
}

func newTestManager(t *testing.T, trackerState string, readOnly bool) (*Manager, *ha.MockClient, *bus.Bus) {
	t.Helper()

	mockHA := ha.NewMockClient()
	if trackerState != "" {
		mockHA.SeedState("device_tracker.demo_paulus", trackerState, map[string]interface{}{
			"latitude":  52.37,
			"longitude": 4.89,
		})
	}
	mockHA.Connect()

	logger := zap.NewNop()
	clock := clockwork.NewFakeClock()

	snapshot := store.NewStore(mockHA, logger)
	if err := snapshot.Sync(); err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}

	eventBus := bus.NewBus(mockHA, clock, logger)
	jobs := scheduler.NewScheduler(clock, time.UTC, logger)
	t.Cleanup(jobs.Stop)

	manager := NewManager(mockHA, eventBus, jobs, snapshot, testConfig(), logger, readOnly)
	if err := manager.Start(); err != nil {
		t.Fatalf("Failed to start presence tracker: %v", err)
	}
	t.Cleanup(manager.Stop)

	return manager, mockHA, eventBus
}

func lastSetState(calls []ha.SetStateCall, entityID string) *ha.SetStateCall {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].EntityID == entityID {
			return &calls[i]
		}
	}
	return nil
}

// TestPresence_PublishesSensorOnStart tests the initial sensor write
func TestPresence_PublishesSensorOnStart(t *testing.T) {
	_, mockHA, _ := newTestManager(t, "home", false)

	call := lastSetState(mockHA.GetSetStateCalls(), "sensor.alice_smith_presence")
	if call == nil {
		t.Fatal("Expected presence sensor to be created")
	}
	if call.State != "home" {
		t.Errorf("Expected home, got %s", call.State)
	}
	if call.Attributes["friendly_name"] != "Alice Smith Presence" {
		t.Errorf("Unexpected friendly_name: %v", call.Attributes["friendly_name"])
	}
	if call.Attributes["source"] != "device_tracker.demo_paulus" {
		t.Errorf("Unexpected source: %v", call.Attributes["source"])
	}
}

// TestPresence_UnknownTrackerIsAway tests the away default when the tracker
// is missing at startup
func TestPresence_UnknownTrackerIsAway(t *testing.T) {
	_, mockHA, _ := newTestManager(t, "", false)

	call := lastSetState(mockHA.GetSetStateCalls(), "sensor.alice_smith_presence")
	if call == nil {
		t.Fatal("Expected presence sensor to be created")
	}
	if call.State != "away" {
		t.Errorf("Expected away for unknown tracker, got %s", call.State)
	}
}

// TestPresence_MirrorsTrackerChanges tests sensor updates on tracker
// transitions
func TestPresence_MirrorsTrackerChanges(t *testing.T) {
	_, mockHA, _ := newTestManager(t, "home", false)

	mockHA.SetEntityState("device_tracker.demo_paulus", "not_home", nil)
	call := lastSetState(mockHA.GetSetStateCalls(), "sensor.alice_smith_presence")
	if call.State != "away" {
		t.Errorf("Expected away after leaving, got %s", call.State)
	}

	mockHA.SetEntityState("device_tracker.demo_paulus", "home", nil)
	call = lastSetState(mockHA.GetSetStateCalls(), "sensor.alice_smith_presence")
	if call.State != "home" {
		t.Errorf("Expected home after returning, got %s", call.State)
	}
}

// TestPresence_ZoneSubscriptionWhileAway tests the dynamic zone.home
// subscription lifecycle
func TestPresence_ZoneSubscriptionWhileAway(t *testing.T) {
	_, mockHA, eventBus := newTestManager(t, "home", false)

	// Home: only the tracker subscription.
	if count := eventBus.SubscriptionCount(); count != 1 {
		t.Fatalf("Expected 1 subscription while home, got %d", count)
	}

	mockHA.SetEntityState("device_tracker.demo_paulus", "not_home", nil)
	if count := eventBus.SubscriptionCount(); count != 2 {
		t.Errorf("Expected zone subscription while away, got %d subscriptions", count)
	}

	mockHA.SetEntityState("device_tracker.demo_paulus", "home", nil)
	if count := eventBus.SubscriptionCount(); count != 1 {
		t.Errorf("Expected zone subscription cancelled at home, got %d subscriptions", count)
	}
}

// TestPresence_StartsAwayWithZoneSubscription tests that starting away
// registers the zone watch immediately
func TestPresence_StartsAwayWithZoneSubscription(t *testing.T) {
	_, _, eventBus := newTestManager(t, "not_home", false)

	if count := eventBus.SubscriptionCount(); count != 2 {
		t.Errorf("Expected tracker and zone subscriptions, got %d", count)
	}
}

// TestPresence_ReadOnlyMode tests that no sensor writes happen in read-only
// mode
func TestPresence_ReadOnlyMode(t *testing.T) {
	_, mockHA, _ := newTestManager(t, "home", true)

	mockHA.SetEntityState("device_tracker.demo_paulus", "not_home", nil)

	if calls := mockHA.GetSetStateCalls(); len(calls) != 0 {
		t.Errorf("Expected no sensor writes in read-only mode, got %d", len(calls))
	}
}

// TestPresence_StopCancelsEverything tests teardown including the zone
// subscription
func TestPresence_StopCancelsEverything(t *testing.T) {
	manager, mockHA, eventBus := newTestManager(t, "not_home", false)

	manager.Stop()

	if count := eventBus.SubscriptionCount(); count != 0 {
		t.Errorf("Expected 0 subscriptions after stop, got %d", count)
	}

	mockHA.ClearServiceCalls()
	mockHA.SetEntityState("device_tracker.demo_paulus", "home", nil)
	if calls := mockHA.GetSetStateCalls(); len(calls) != 0 {
		t.Error("Expected no reaction after stop")
	}
}

func TestInstanceConfig_Normalize(t *testing.T) {
	cfg := InstanceConfig{}
	if err := cfg.normalize(2); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.TrackerEntity != "device_tracker.demo_paulus" {
		t.Errorf("Expected tracker default, got %s", cfg.TrackerEntity)
	}
	if cfg.PersonName != "person2" {
		t.Errorf("Expected generated person name, got %s", cfg.PersonName)
	}
	if cfg.StatusInterval.Std() != 2*time.Minute {
		t.Errorf("Expected 2m status interval default, got %v", cfg.StatusInterval.Std())
	}
}
