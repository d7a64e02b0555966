// Package monitor implements the debug broadcast feature: observer
// clients receive one synthesized frame per executed command
// (spec.md §4.5).
package monitor

import "sync"

// Observer is a client that can receive monitor frames and report
// whether its socket is still usable.
type Observer interface {
	ID() int64
	Closed() bool
	DeliverMonitor(frame string) bool
}

// Registry holds the current set of monitor observers.
type Registry struct {
	mu        sync.RWMutex
	observers map[int64]Observer
}

func New() *Registry {
	return &Registry{observers: make(map[int64]Observer)}
}

// Add registers client as a monitor observer.
func (r *Registry) Add(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[o.ID()] = o
}

// Remove unregisters client, e.g. on QUIT or detected disconnect.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
}

// IsActive reports whether any observers remain, pruning any whose
// socket has since closed.
func (r *Registry) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.observers {
		if o.Closed() {
			delete(r.observers, id)
		}
	}
	return len(r.observers) > 0
}

// Broadcast fans frame out to every current observer, pruning any whose
// delivery fails (socket observed closed).
func (r *Registry) Broadcast(frame string) {
	r.mu.RLock()
	observers := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		observers = append(observers, o)
	}
	r.mu.RUnlock()

	var dead []int64
	for _, o := range observers {
		if !o.DeliverMonitor(frame) {
			dead = append(dead, o.ID())
		}
	}
	if len(dead) == 0 {
		return
	}
	r.mu.Lock()
	for _, id := range dead {
		delete(r.observers, id)
	}
	r.mu.Unlock()
}
