package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventJobRegistered EventType = "job_registered" // New row appended to the table
	EventStatus        EventType = "status"         // Watcher update applied to a row
	EventSubmitted     EventType = "submitted"      // Job handed to the queue
	EventKilled        EventType = "killed"         // Cancellation issued for a job
	EventFollow        EventType = "follow"         // Run follower started, advanced or stopped
	EventError         EventType = "error"          // Operator-visible failure
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// JobRegisteredEvent is published once per identity when its row is created.
type JobRegisteredEvent struct {
	BaseEvent
	JobID models.JobID
	Row   int
}

// StatusEvent carries the latest record applied to a row.
type StatusEvent struct {
	BaseEvent
	JobID  models.JobID
	Row    int
	Record models.StatusRecord
}

// SubmittedEvent is published after the queue accepted a job.
type SubmittedEvent struct {
	BaseEvent
	JobID      models.JobID
	QueueJobID string
	Occupancy  int  // -1 when submitted without an occupancy check
	Forced     bool // submitted past the occupancy cap
	AutoSubmit bool
}

// KilledEvent is published after a cancellation was issued.
type KilledEvent struct {
	BaseEvent
	JobID      models.JobID
	QueueJobID string
}

// FollowEvent reports the run follower's cursor.
type FollowEvent struct {
	BaseEvent
	Following bool
	Cursor    int
}

// ErrorEvent represents error conditions
type ErrorEvent struct {
	BaseEvent
	JobID models.JobID
	Stage string
	Error error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Subscribers
// that fall behind lose events; the drop is counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// PublishRegistered is a convenience method for publishing registration events
func (eb *EventBus) PublishRegistered(id models.JobID, row int) {
	eb.Publish(&JobRegisteredEvent{BaseEvent: base(EventJobRegistered), JobID: id, Row: row})
}

// PublishStatus is a convenience method for publishing status events
func (eb *EventBus) PublishStatus(id models.JobID, row int, rec models.StatusRecord) {
	eb.Publish(&StatusEvent{BaseEvent: base(EventStatus), JobID: id, Row: row, Record: rec})
}

// PublishSubmitted is a convenience method for publishing submission events
func (eb *EventBus) PublishSubmitted(id models.JobID, queueJobID string, occupancy int, forced, auto bool) {
	eb.Publish(&SubmittedEvent{
		BaseEvent:  base(EventSubmitted),
		JobID:      id,
		QueueJobID: queueJobID,
		Occupancy:  occupancy,
		Forced:     forced,
		AutoSubmit: auto,
	})
}

// PublishKilled is a convenience method for publishing kill events
func (eb *EventBus) PublishKilled(id models.JobID, queueJobID string) {
	eb.Publish(&KilledEvent{BaseEvent: base(EventKilled), JobID: id, QueueJobID: queueJobID})
}

// PublishFollow is a convenience method for publishing follower events
func (eb *EventBus) PublishFollow(following bool, cursor int) {
	eb.Publish(&FollowEvent{BaseEvent: base(EventFollow), Following: following, Cursor: cursor})
}

// PublishError is a convenience method for publishing error events
func (eb *EventBus) PublishError(id models.JobID, stage string, err error) {
	eb.Publish(&ErrorEvent{BaseEvent: base(EventError), JobID: id, Stage: stage, Error: err})
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
