package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HandlerFunc is a type-erased job handler that accepts raw JSON payload.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Binding describes one registered (queue, name) pair.
type Binding struct {
	Queue       string
	Name        string
	Concurrency int
	MaxAttempts int
	Timeout     time.Duration
}

type entry struct {
	binding  Binding
	handler  HandlerFunc
	validate func(payload []byte) error
}

// Registry maps (queue, name) pairs to type-erased handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

func key(queue, name string) string { return queue + "/" + name }

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler. Registering the same (queue, name) twice
// replaces the earlier handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	decode := func(payload []byte) (T, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return t, fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		return t, nil
	}

	e := &entry{
		binding: Binding{
			Queue:       def.Opts.Queue,
			Name:        def.Name,
			Concurrency: def.Opts.Concurrency,
			MaxAttempts: def.Opts.MaxAttempts,
			Timeout:     def.Opts.Timeout,
		},
		handler: func(ctx context.Context, payload []byte) error {
			t, err := decode(payload)
			if err != nil {
				// A payload that cannot be decoded will never decode.
				return Terminal(err)
			}
			return def.Handler(ctx, t)
		},
		validate: func(payload []byte) error {
			t, err := decode(payload)
			if err != nil {
				return err
			}
			return ValidatePayload(t)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(def.Opts.Queue, def.Name)] = e
}

// Get returns the handler for the given queue and job name.
// Returns false if no handler is registered.
func (r *Registry) Get(queue, name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(queue, name)]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Binding returns the registration for the given queue and job name.
func (r *Registry) Binding(queue, name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(queue, name)]
	if !ok {
		return Binding{}, false
	}
	return e.binding, true
}

// Validate decodes payload into the registered definition's type and
// validates it. It returns false when nothing is registered.
func (r *Registry) Validate(queue, name string, payload []byte) (bool, error) {
	r.mu.RLock()
	e, ok := r.entries[key(queue, name)]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, e.validate(payload)
}

// Bindings returns every registration sorted by queue then name.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.binding)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Queue != out[j].Queue {
			return out[i].Queue < out[j].Queue
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Queues returns the distinct queue names that have at least one handler.
func (r *Registry) Queues() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range r.Bindings() {
		if _, ok := seen[b.Queue]; ok {
			continue
		}
		seen[b.Queue] = struct{}{}
		out = append(out, b.Queue)
	}
	return out
}

// Names returns all registered job names on the given queue.
func (r *Registry) Names(queue string) []string {
	var names []string
	for _, b := range r.Bindings() {
		if b.Queue == queue {
			names = append(names, b.Name)
		}
	}
	return names
}
