// Package store keeps an in-memory snapshot of every entity the host knows
// about. It is synced in full at startup and kept current from the
// state_changed event stream, so apps can read entity state without a
// round trip to the host.
package store

import (
	"sort"
	"strings"
	"sync"

	"homeapps/internal/ha"

	"go.uber.org/zap"
)

// Store holds the entity snapshot.
type Store struct {
	client ha.HAClient
	logger *zap.Logger

	entities map[string]*ha.State
	mu       sync.RWMutex
}

// NewStore creates a store and registers it on the client's event stream.
func NewStore(client ha.HAClient, logger *zap.Logger) *Store {
	s := &Store{
		client:   client,
		logger:   logger.Named("store"),
		entities: make(map[string]*ha.State),
	}

	client.OnStateChanged(s.onStateChanged)
	return s
}

// Sync replaces the snapshot with the host's full entity list.
func (s *Store) Sync() error {
	states, err := s.client.GetAllStates()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make(map[string]*ha.State, len(states))
	for _, state := range states {
		s.entities[state.EntityID] = state
	}

	s.logger.Info("Synced entity snapshot", zap.Int("entities", len(states)))
	return nil
}

func (s *Store) onStateChanged(event ha.StateChangedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.NewState == nil {
		delete(s.entities, event.EntityID)
		return
	}
	s.entities[event.EntityID] = event.NewState
}

// Get returns the current state of an entity, or false if unknown.
func (s *Store) Get(entityID string) (*ha.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.entities[entityID]
	return state, ok
}

// Domain returns all entities in a domain (e.g. "cover", "lock"), sorted
// by entity id.
func (s *Store) Domain(domain string) []*ha.State {
	prefix := domain + "."

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ha.State, 0)
	for entityID, state := range s.entities {
		if strings.HasPrefix(entityID, prefix) {
			result = append(result, state)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityID < result[j].EntityID
	})
	return result
}

// All returns every entity in the snapshot, sorted by entity id.
func (s *Store) All() []*ha.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ha.State, 0, len(s.entities))
	for _, state := range s.entities {
		result = append(result, state)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityID < result[j].EntityID
	})
	return result
}

// Len returns the number of entities in the snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
