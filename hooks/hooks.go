package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/lender/core"
)

// EventType defines the type of a hook event.
type EventType string

// --- Event Type Constants ---
const (
	// Materialization Events
	EventPreMaterialize           EventType = "PreMaterialize"
	EventPostMaterialize          EventType = "PostMaterialize"
	EventMaterializeAttemptFailed EventType = "MaterializeAttemptFailed"

	// Partition Cache Events
	EventPartitionReused    EventType = "PartitionReused"
	EventPartitionCreated   EventType = "PartitionCreated"
	EventPartitionRecreated EventType = "PartitionRecreated"
	EventPartitionFailed    EventType = "PartitionFailed"
)

// PartitionEventType maps a provenance to the event fired for it.
func PartitionEventType(source core.Provenance) EventType {
	switch source {
	case core.ProvenanceReuse:
		return EventPartitionReused
	case core.ProvenanceCreate:
		return EventPartitionCreated
	case core.ProvenanceRecreate:
		return EventPartitionRecreated
	default:
		return EventPartitionFailed
	}
}

// --- HookManager Interface and Implementation ---

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete. Useful for graceful shutdown.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	// Type returns the type of the event.
	Type() EventType
	// Payload returns the data associated with the event.
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreMaterializePayload is passed before a materialization run starts.
// Returning an error from a listener cancels the run.
type PreMaterializePayload struct {
	Path string
}

// NewPreMaterializeEvent creates an event for before the main dataset is rebuilt.
func NewPreMaterializeEvent(payload PreMaterializePayload) HookEvent {
	return &BaseEvent{eventType: EventPreMaterialize, payload: payload}
}

// PostMaterializePayload describes a finished materialization run.
type PostMaterializePayload struct {
	Path     string
	Rows     int
	Attempts int
	Duration time.Duration
	Error    error
}

// NewPostMaterializeEvent creates an event for after a materialization run.
func NewPostMaterializeEvent(payload PostMaterializePayload) HookEvent {
	return &BaseEvent{eventType: EventPostMaterialize, payload: payload}
}

// MaterializeAttemptPayload describes one failed attempt that will be retried.
type MaterializeAttemptPayload struct {
	Attempt int
	Error   error
	Wait    time.Duration
}

// NewMaterializeAttemptFailedEvent creates an event for a failed attempt.
func NewMaterializeAttemptFailedEvent(payload MaterializeAttemptPayload) HookEvent {
	return &BaseEvent{eventType: EventMaterializeAttemptFailed, payload: payload}
}

// PartitionPayload describes one answered partition request.
type PartitionPayload struct {
	Key      int64
	Path     string
	Source   core.Provenance
	Average  int64
	Rows     int
	Duration time.Duration
	// Cause is the read failure that forced a recreate, if any.
	Cause error
	// Error is set for EventPartitionFailed.
	Error error
}

// NewPartitionEvent creates the event matching payload.Source.
func NewPartitionEvent(payload PartitionPayload) HookEvent {
	return &BaseEvent{eventType: PartitionEventType(payload.Source), payload: payload}
}

// HookListener is the interface for any component that wants to listen to hook events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook (e.g., PreMaterialize) cancels the operation.
	// Errors from other hooks are logged without affecting the main operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for Post-events.
	IsAsync() bool
}

// listenerWithPriority wraps a listener with its priority for heap management.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		// Default to a discard logger to prevent nil panics if no logger is provided.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]

	// sort.Search finds the first index i where l[i].priority >= item.priority.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})

	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				// The request context may be cancelled before the listener runs.
				if err := currentItem.listener.OnEvent(context.WithoutCancel(ctx), event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
