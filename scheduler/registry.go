package scheduler

import (
	"context"
	"sort"
	"sync"
)

// TaskFunc is a dispatchable unit of work. The scheduler never inspects task
// internals; it only records success or failure.
type TaskFunc func(ctx context.Context) error

// Registry maps stable task identifiers to callables. It is populated once
// at startup and read by the loop and the manual-run surface.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]TaskFunc)}
}

// Register binds a task identifier to a callable, replacing any previous
// binding for the same name.
func (r *Registry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = fn
}

// Resolve looks up a task by identifier.
func (r *Registry) Resolve(name string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	return fn, ok
}

// Names returns the registered task identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
