package events

import (
	"encoding/json"
	"sync"
)

// DefaultBuffer is the channel capacity handed to subscribers.
const DefaultBuffer = 16

// EventHub fans events out to subscribers. Publishing never blocks the
// session loop: a subscriber whose buffer is full misses the event.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

func NewEventHub() *EventHub { return NewEventHubWithBuffer(DefaultBuffer) }

func NewEventHubWithBuffer(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &EventHub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Close unsubscribes everyone, closing their channels.
func (h *EventHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish is safe on a nil hub.
func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := Event{Name: name, Data: b}
	h.mu.RLock()
	for ch := range h.subs {
		// Non-blocking send; drop if subscriber is slow
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}
