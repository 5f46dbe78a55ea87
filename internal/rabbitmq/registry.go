package rabbitmq

import "sync"

// Registry maps queue names to listeners. Each consumer bundle owns one, so
// a delivery only reaches the listeners registered on the bundle that
// received it.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string][]Listener)}
}

// Add registers l for queue. Every call adds an entry, so a listener added
// twice to the same registry runs twice per delivery.
func (r *Registry) Add(queue string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[queue] = append(r.listeners[queue], l)
}

// Listeners returns a snapshot of the listeners for queue.
func (r *Registry) Listeners(queue string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ls := r.listeners[queue]
	out := make([]Listener, len(ls))
	copy(out, ls)
	return out
}
