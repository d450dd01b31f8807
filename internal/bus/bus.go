// Package bus routes the host's event stream to app subscriptions. It is a
// client-side fanout over the single state_changed/call_service firehose the
// connection delivers: glob patterns select entities, change predicates
// filter transitions, and debounce/throttle gate handler invocation.
package bus

import (
	"fmt"
	"reflect"
	"sync"

	"homeapps/internal/ha"
	"homeapps/internal/metrics"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Bus fans out host events to registered subscriptions.
type Bus struct {
	logger *zap.Logger
	clock  clockwork.Clock

	mu          sync.Mutex
	stateSubs   map[uuid.UUID]*subscription
	serviceSubs map[uuid.UUID]*subscription
}

// NewBus creates a bus and registers it on the client's event stream.
func NewBus(client ha.HAClient, clock clockwork.Clock, logger *zap.Logger) *Bus {
	b := &Bus{
		logger:      logger.Named("bus"),
		clock:       clock,
		stateSubs:   make(map[uuid.UUID]*subscription),
		serviceSubs: make(map[uuid.UUID]*subscription),
	}

	client.OnStateChanged(b.dispatchStateChanged)
	client.OnCallService(b.dispatchCallService)
	return b
}

// Subscribe registers a handler for state changes on entities matching
// pattern. Pattern may be an exact entity id or a glob such as
// "sensor.*temperature*".
func (b *Bus) Subscribe(pattern string, handler StateHandler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	sub := &subscription{
		id:      uuid.New(),
		pattern: pattern,
		handler: handler,
	}
	for _, opt := range opts {
		opt(sub)
	}

	if hasGlobMeta(pattern) {
		matcher, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid entity pattern %q: %w", pattern, err)
		}
		sub.matcher = matcher
	}

	b.mu.Lock()
	b.stateSubs[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("State subscription registered",
		zap.String("pattern", pattern),
		zap.String("app", sub.owner))

	return &Subscription{id: sub.id, bus: b}, nil
}

// SubscribeAttribute registers a handler invoked when one attribute of one
// entity changes value.
func (b *Bus) SubscribeAttribute(entityID, attribute string, handler AttributeHandler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	wrapped := func(change StateChange) {
		oldValue := change.Old.Attr(attribute)
		newValue := change.New.Attr(attribute)
		if reflect.DeepEqual(oldValue, newValue) {
			return
		}
		handler(change.EntityID, oldValue, newValue)
	}

	return b.Subscribe(entityID, wrapped, opts...)
}

// SubscribeServiceCalls registers a handler for every service call in a
// domain, regardless of which client issued it.
func (b *Bus) SubscribeServiceCalls(domain string, handler ServiceCallHandler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	sub := &subscription{
		id:             uuid.New(),
		pattern:        domain,
		serviceDomain:  domain,
		serviceHandler: handler,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.serviceSubs[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("Service call subscription registered",
		zap.String("domain", domain),
		zap.String("app", sub.owner))

	return &Subscription{id: sub.id, bus: b}, nil
}

// dispatchStateChanged routes one state_changed event to every matching
// subscription.
func (b *Bus) dispatchStateChanged(event ha.StateChangedEvent) {
	metrics.EventsReceived.WithLabelValues("state_changed").Inc()

	change := StateChange{
		EntityID: event.EntityID,
		Old:      event.OldState,
		New:      event.NewState,
	}

	b.mu.Lock()
	candidates := make([]*subscription, 0, 4)
	for _, sub := range b.stateSubs {
		if sub.matches(event.EntityID) {
			candidates = append(candidates, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range candidates {
		b.deliver(sub, change)
	}
}

// deliver applies a subscription's filters and rate limits, then invokes
// the handler.
func (b *Bus) deliver(sub *subscription, change StateChange) {
	ok, reason := sub.passesFilters(change)
	if !ok {
		if reason != "removed" {
			metrics.HandlerSuppressed.WithLabelValues(sub.owner, reason).Inc()
		}
		return
	}

	b.mu.Lock()
	if sub.cancelled {
		b.mu.Unlock()
		return
	}

	if sub.throttle > 0 {
		if !sub.lastFired.IsZero() && b.clock.Since(sub.lastFired) < sub.throttle {
			b.mu.Unlock()
			metrics.HandlerSuppressed.WithLabelValues(sub.owner, "throttled").Inc()
			return
		}
		sub.lastFired = b.clock.Now()
		b.mu.Unlock()
		b.fire(sub, change)
		return
	}

	if sub.debounce > 0 {
		// Only the newest event in a burst survives.
		sub.pendingEvent = &change
		if sub.pendingTimer != nil {
			sub.pendingTimer.Stop()
			metrics.HandlerSuppressed.WithLabelValues(sub.owner, "debounced").Inc()
		}
		sub.pendingTimer = b.clock.AfterFunc(sub.debounce, func() {
			b.mu.Lock()
			pending := sub.pendingEvent
			sub.pendingEvent = nil
			sub.pendingTimer = nil
			cancelled := sub.cancelled
			b.mu.Unlock()

			if cancelled || pending == nil {
				return
			}
			b.fire(sub, *pending)
		})
		b.mu.Unlock()
		return
	}

	b.mu.Unlock()
	b.fire(sub, change)
}

// fire invokes the handler and handles one-shot teardown.
func (b *Bus) fire(sub *subscription, change StateChange) {
	metrics.HandlerInvocations.WithLabelValues(sub.owner).Inc()
	sub.handler(change)

	if sub.once {
		b.cancel(sub.id)
	}
}

// dispatchCallService routes one call_service event to matching domain
// subscriptions.
func (b *Bus) dispatchCallService(event ha.CallServiceEvent) {
	metrics.EventsReceived.WithLabelValues("call_service").Inc()
	metrics.ServiceCalls.WithLabelValues(event.Domain, event.Service).Inc()

	b.mu.Lock()
	candidates := make([]*subscription, 0, 2)
	for _, sub := range b.serviceSubs {
		if sub.serviceDomain == "" || sub.serviceDomain == event.Domain {
			candidates = append(candidates, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range candidates {
		metrics.HandlerInvocations.WithLabelValues(sub.owner).Inc()
		sub.serviceHandler(event)
		if sub.once {
			b.cancel(sub.id)
		}
	}
}

// cancel removes a subscription by id.
func (b *Bus) cancel(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.stateSubs[id]; ok {
		sub.cancelled = true
		if sub.pendingTimer != nil {
			sub.pendingTimer.Stop()
			sub.pendingTimer = nil
		}
		delete(b.stateSubs, id)
		return
	}

	if sub, ok := b.serviceSubs[id]; ok {
		sub.cancelled = true
		delete(b.serviceSubs, id)
	}
}

// SubscriptionCount returns the number of live subscriptions, for the
// status API.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stateSubs) + len(b.serviceSubs)
}
