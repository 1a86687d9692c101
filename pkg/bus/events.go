package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	// EventStatusUpdate carries a new local status replica value.
	EventStatusUpdate EventType = "status_update"
	// EventAuthChanged fires after a session is created or invalidated.
	EventAuthChanged EventType = "auth_changed"
	// EventCommandFailed carries a user-visible error from a start/stop command.
	EventCommandFailed EventType = "command_failed"
)

// Source identifies which reconciliation path produced an event.
type Source string

const (
	SourceChannel Source = "channel"
	SourcePoller  Source = "poller"
	SourceCommand Source = "command"
	SourceAuth    Source = "auth"
	SourceAgent   Source = "agent"
)

type Event struct {
	Type   EventType `json:"type"`
	At     time.Time `json:"at"`
	Source Source    `json:"source,omitempty"`
	Status Status    `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Publish delivers event to every subscriber without blocking.
//
// A subscriber whose buffer is full loses its oldest pending event, so the
// most recent status always lands.
func (b *Bus) Publish(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		for {
			select {
			case ch <- event:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}

	return true
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextSubscriberID
	b.nextSubscriberID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if eventCh, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(eventCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
