package bus

import (
	"strconv"
	"strings"
	"time"

	"homeapps/internal/ha"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// StateChange is delivered to state subscription handlers.
type StateChange struct {
	EntityID string
	Old      *ha.State
	New      *ha.State
}

// StateHandler handles a state change that passed the subscription's filters.
type StateHandler func(change StateChange)

// AttributeHandler handles a change of a single attribute's value.
type AttributeHandler func(entityID string, oldValue, newValue interface{})

// ServiceCallHandler handles an intercepted service call.
type ServiceCallHandler func(event ha.CallServiceEvent)

// Option configures a subscription.
type Option func(*subscription)

// ChangedTo only delivers events where the state changed to the given value.
func ChangedTo(value string) Option {
	return func(s *subscription) { s.changedTo = &value }
}

// ChangedFrom only delivers events where the previous state was the given value.
func ChangedFrom(value string) Option {
	return func(s *subscription) { s.changedFrom = &value }
}

// Increased only delivers events where both states parse as numbers and the
// value went up. Unparsable values suppress delivery.
func Increased() Option {
	return func(s *subscription) { s.direction = directionUp }
}

// Decreased only delivers events where both states parse as numbers and the
// value went down.
func Decreased() Option {
	return func(s *subscription) { s.direction = directionDown }
}

// FromPresent only delivers events where a meaningful previous state exists,
// filtering out an entity's first appearance and unavailable/unknown gaps.
func FromPresent() Option {
	return func(s *subscription) { s.fromPresent = true }
}

// Debounce delays delivery until the entity has been quiet for d; only the
// latest event in a burst is delivered.
func Debounce(d time.Duration) Option {
	return func(s *subscription) { s.debounce = d }
}

// Throttle delivers at most one event per d; extra events are dropped.
func Throttle(d time.Duration) Option {
	return func(s *subscription) { s.throttle = d }
}

// Once cancels the subscription after its first delivery.
func Once() Option {
	return func(s *subscription) { s.once = true }
}

// Owner labels the subscription with the owning app for metrics and logs.
func Owner(app string) Option {
	return func(s *subscription) { s.owner = app }
}

type direction int

const (
	directionAny direction = iota
	directionUp
	directionDown
)

// subscription is the internal record for one registered listener.
type subscription struct {
	id      uuid.UUID
	owner   string
	pattern string

	// nil matcher means exact match on pattern
	matcher glob.Glob

	changedTo   *string
	changedFrom *string
	direction   direction
	fromPresent bool

	debounce time.Duration
	throttle time.Duration
	once     bool

	handler        StateHandler
	serviceDomain  string
	serviceHandler ServiceCallHandler

	// rate limiting state, guarded by the bus mutex
	lastFired    time.Time
	pendingTimer clockwork.Timer
	pendingEvent *StateChange
	cancelled    bool
}

// matches reports whether the subscription's pattern covers entityID.
func (s *subscription) matches(entityID string) bool {
	if s.matcher != nil {
		return s.matcher.Match(entityID)
	}
	return s.pattern == entityID
}

// passesFilters evaluates the change predicates against an event.
// The returned reason names the failed predicate for metrics.
func (s *subscription) passesFilters(change StateChange) (bool, string) {
	if change.New == nil {
		return false, "removed"
	}

	if s.fromPresent && !statePresent(change.Old) {
		return false, "no_previous_state"
	}

	if s.changedTo != nil {
		if change.New.State != *s.changedTo {
			return false, "changed_to"
		}
		if change.Old != nil && change.Old.State == *s.changedTo {
			return false, "changed_to"
		}
	}

	if s.changedFrom != nil {
		if change.Old == nil || change.Old.State != *s.changedFrom {
			return false, "changed_from"
		}
	}

	if s.direction != directionAny {
		oldVal, oldOK := parseNumericState(change.Old)
		newVal, newOK := parseNumericState(change.New)
		if !oldOK || !newOK {
			return false, "not_numeric"
		}
		if s.direction == directionUp && newVal <= oldVal {
			return false, "not_increased"
		}
		if s.direction == directionDown && newVal >= oldVal {
			return false, "not_decreased"
		}
	}

	return true, ""
}

// statePresent reports whether a previous state carries a usable value.
func statePresent(state *ha.State) bool {
	if state == nil {
		return false
	}
	switch state.State {
	case "", "unknown", "unavailable":
		return false
	}
	return true
}

// parseNumericState coerces a state value to a float. Unparsable values are
// treated as absent.
func parseNumericState(state *ha.State) (float64, bool) {
	if state == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(state.State), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// hasGlobMeta reports whether a pattern needs glob compilation.
func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// Subscription is the cancellable handle returned to subscribers.
type Subscription struct {
	id  uuid.UUID
	bus *Bus
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Cancel removes the subscription and stops any pending debounce timer.
func (s *Subscription) Cancel() {
	s.bus.cancel(s.id)
}
