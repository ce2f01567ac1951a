package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventOutput carries raw output bytes for a tab.
	EventOutput EventType = "output"
	// EventTab carries tab lifecycle updates.
	EventTab EventType = "tab"
)

// Event represents a display-facing event emitted by the core service.
type Event struct {
	Type   EventType
	Output schema.OutputEvent
	Tab    schema.TabEvent
}

// Bus fans out events to per-tab subscribers.
//
// Output is never dropped: a publish waits for each subscriber until it
// receives the event or unsubscribes, so a slow display slows its own tab.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.TabID]map[*subscriber]struct{}
	log   pslog.Logger
	depth int
}

type subscriber struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.TabID]map[*subscriber]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the tab and returns a channel + cancel.
// The channel is closed by cancel.
func (b *Bus) Subscribe(tabID schema.TabID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &subscriber{
		ch:   make(chan Event, b.depth),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	tabSubs := b.subs[tabID]
	if tabSubs == nil {
		tabSubs = make(map[*subscriber]struct{})
		b.subs[tabID] = tabSubs
	}
	tabSubs[sub] = struct{}{}
	count := len(tabSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("tab", tabID).Debug("eventbus subscribe", "subs", count)
	}
	return sub.ch, func() {
		b.mu.Lock()
		if subs := b.subs[tabID]; subs != nil {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.subs, tabID)
			}
		}
		b.mu.Unlock()
		sub.close()
		if b.log != nil {
			b.log.With("tab", tabID).Debug("eventbus unsubscribe")
		}
	}
}

// Subscribers reports the number of subscribers for a tab.
func (b *Bus) Subscribers(tabID schema.TabID) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[tabID])
}

// OnData publishes an output event.
func (b *Bus) OnData(event schema.OutputEvent) {
	b.publish(event.TabID, Event{Type: EventOutput, Output: event})
}

// OnTabEvent publishes a tab event.
func (b *Bus) OnTabEvent(event schema.TabEvent) {
	b.publish(event.Tab.ID, Event{Type: EventTab, Tab: event})
}

func (b *Bus) publish(tabID schema.TabID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	tabSubs := b.subs[tabID]
	subs := make([]*subscriber, 0, len(tabSubs))
	for sub := range tabSubs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		if b.log != nil {
			b.log.With("tab", tabID).Trace("eventbus no subscribers", "type", event.Type)
		}
		return
	}
	for _, sub := range subs {
		sub.send(event)
	}
}

func (s *subscriber) send(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	case <-s.done:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
