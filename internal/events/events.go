// Package events fans engine state changes out to independent subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	ProfileRunningChanged Kind = "profile_running_changed"
	EntryHandleChanged    Kind = "entry_handle_changed"
	LaunchWarning         Kind = "launch_warning"
)

// Event is one state change. Entry fields are zero for profile-level kinds.
type Event struct {
	Kind    Kind      `json:"kind"`
	Profile string    `json:"profile"`
	Entry   string    `json:"entry,omitempty"`
	Index   int       `json:"index"`
	PID     int       `json:"pid,omitempty"`
	Running bool      `json:"running"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

const DefaultBuffer = 64

// Bus delivers every published event to every subscriber without blocking
// the publisher. A subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	closed  bool
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber. cancel is idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Publish stamps ev if needed and hands it to every subscriber.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
