package mission

import (
	"sync"
	"time"

	"github.com/outland-robotics/missiond/internal/types"
)

// EventType identifies the type of mission lifecycle event.
type EventType string

const (
	// EventLoaded indicates a mission was compiled and installed.
	EventLoaded EventType = "mission.loaded"

	// EventStarted indicates a mission began ticking.
	EventStarted EventType = "mission.started"

	// EventPaused indicates ticking was suspended.
	EventPaused EventType = "mission.paused"

	// EventResumed indicates ticking resumed after a pause.
	EventResumed EventType = "mission.resumed"

	// EventStopped indicates the mission was explicitly stopped.
	EventStopped EventType = "mission.stopped"

	// EventRestarted indicates execution state was reset for a fresh
	// run.
	EventRestarted EventType = "mission.restarted"

	// EventCompleted indicates the root reached SUCCESS.
	EventCompleted EventType = "mission.completed"

	// EventFailed indicates the root reached FAILURE.
	EventFailed EventType = "mission.failed"

	// EventErrored indicates the root reached ERROR or the interpreter
	// itself faulted.
	EventErrored EventType = "mission.errored"

	// EventQuestionAsked indicates a Prompt node raised a question.
	EventQuestionAsked EventType = "mission.question_asked"

	// EventQuestionAnswered indicates an operator answered a question.
	EventQuestionAnswered EventType = "mission.question_answered"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is one mission lifecycle event, emitted for real-time
// monitoring.
type Event struct {
	Type      EventType `json:"type"`
	MissionID types.ID  `json:"mission_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventBus fans mission events out to subscribers. Publishing never
// blocks: a subscriber that falls behind misses events rather than
// stalling the tick loop.
type EventBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a buffered channel that will receive subsequent
// events. The returned cancel func removes the subscription and closes
// the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}
