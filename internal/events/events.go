package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	TypeStreamStarted   = "stream.started"
	TypeStreamDelta     = "stream.delta"
	TypeOptionsUpdated  = "options.updated"
	TypeStreamCompleted = "stream.completed"
	TypeStreamFailed    = "stream.failed"
	TypeStageChanged    = "stage.changed"
	TypeSessionReset    = "session.reset"
)

type SessionEvent struct {
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Ts        string         `json:"ts"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Broker fans session events out to live subscribers. Delivery is best
// effort: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan SessionEvent]struct{}
	seq         map[string]int64
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan SessionEvent]struct{}{},
		seq:         map[string]int64{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan SessionEvent {
	ch := make(chan SessionEvent, 64)

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = map[chan SessionEvent]struct{}{}
	}
	b.subscribers[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[sessionID] != nil {
			delete(b.subscribers[sessionID], ch)
			if len(b.subscribers[sessionID]) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish stamps the event with the next per-session sequence number and a
// timestamp when missing, then delivers it without blocking.
func (b *Broker) Publish(event SessionEvent) SessionEvent {
	event.Type = NormalizeType(event.Type)
	if event.Ts == "" {
		event.Ts = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	b.seq[event.SessionID]++
	event.Seq = b.seq[event.SessionID]
	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.Unlock()
	return event
}

// Forget drops the sequence counter of a session that no longer exists.
func (b *Broker) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.seq, sessionID)
	b.mu.Unlock()
}
