package core

import (
	"fmt"
	"sync"

	"pkt.systems/tabterm/schema"
)

// registry owns the TabID -> session mapping.
type registry struct {
	mu    sync.Mutex
	tabs  map[schema.TabID]*session
	order []schema.TabID
}

func newRegistry() *registry {
	return &registry{tabs: make(map[schema.TabID]*session)}
}

func (r *registry) create(s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tabs[s.id]; ok {
		return fmt.Errorf("%w: %s", schema.ErrDuplicateTab, s.id)
	}
	r.tabs[s.id] = s
	r.order = append(r.order, s.id)
	return nil
}

func (r *registry) get(id schema.TabID) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrTabNotFound, id)
	}
	return s, nil
}

// remove deletes the entry and shuts the session down: its handle is detached
// before it is closed. Absent ids are a no-op.
func (r *registry) remove(id schema.TabID) bool {
	r.mu.Lock()
	s, ok := r.tabs[id]
	if ok {
		delete(r.tabs, id)
		r.order = removeTabID(r.order, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.shutdown()
	return true
}

// forEach visits sessions in creation order without holding the registry lock.
func (r *registry) forEach(fn func(*session)) {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.order))
	for _, id := range r.order {
		sessions = append(sessions, r.tabs[id])
	}
	r.mu.Unlock()
	for _, s := range sessions {
		fn(s)
	}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

func removeTabID(order []schema.TabID, id schema.TabID) []schema.TabID {
	for i, existing := range order {
		if existing == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
