package events

import (
	"context"
	"sync"
	"time"
)

// RecordEvent is the fan-out payload for an accepted attendance record
// (insert or status-changing update).
type RecordEvent struct {
	RecordID   string    `json:"record_id"`
	SessionID  string    `json:"session_id"`
	CourseID   string    `json:"course_id"`
	StudentID  string    `json:"student_id"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`
	Flagged    bool      `json:"flagged,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TopicAll carries every accepted record; the stats worker consumes it.
const TopicAll = "records"

// SessionTopic is the live-monitor stream for one session.
func SessionTopic(sessionID string) string { return "session:" + sessionID }

// StudentTopic is the personal stream for one student.
func StudentTopic(studentID string) string { return "student:" + studentID }

// Topics lists every topic the event is delivered to.
func (e RecordEvent) Topics() []string {
	return []string{TopicAll, SessionTopic(e.SessionID), StudentTopic(e.StudentID)}
}

// Broker is the abstraction over fan-out backends. Delivery is at-least-once
// and holds no authoritative state; subscribers reconcile against the store
// after a reconnect.
type Broker interface {
	Publish(ctx context.Context, evt RecordEvent) error
	// Subscribe returns a stream for the topic and a release function.
	Subscribe(ctx context.Context, topic string) (<-chan RecordEvent, func(), error)
}

// InMemory is a channel-backed broker for dev and tests.
type InMemory struct {
	mu   sync.Mutex
	subs map[string]map[int]chan RecordEvent
	next int
}

// NewInMemory creates an in-memory broker.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string]map[int]chan RecordEvent)}
}

// Publish delivers the event to every subscriber of its topics. A slow
// subscriber's full buffer drops the event for that subscriber only; the
// durable record is unaffected.
func (b *InMemory) Publish(ctx context.Context, evt RecordEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range evt.Topics() {
		for _, ch := range b.subs[topic] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a buffered stream for the topic.
func (b *InMemory) Subscribe(ctx context.Context, topic string) (<-chan RecordEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan RecordEvent)
	}
	id := b.next
	b.next++
	ch := make(chan RecordEvent, 16)
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[topic][id]; ok {
			delete(b.subs[topic], id)
			close(sub)
		}
	}
	return ch, cancel, nil
}
