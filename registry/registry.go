// Package registry is a keyed store of ordered callback lists. The bridge
// uses it to fan one remote notification out to every local callback that
// shares a subscription key.
//
//	reg := registry.New[contract.Event]()
//	off := reg.Add("window-global-added", onAdded)
//	defer off()
//	reg.Execute("window-global-added", ev)
//
// A failing callback never blocks its siblings: errors and panics are
// reported through the ErrorPolicy and dispatch continues.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
)

// Callback receives one value. Returning an error reports a failure without
// stopping the remaining callbacks.
type Callback[T any] func(T) error

// ErrorPolicy is told about every callback failure.
type ErrorPolicy func(key string, err error)

// ErrCallbackPanic wraps a value recovered from a panicking callback.
type ErrCallbackPanic struct {
	Key   string
	Value any
}

func (e *ErrCallbackPanic) Error() string {
	return fmt.Sprintf("registry: callback for %q panicked: %v", e.Key, e.Value)
}

type entry[T any] struct {
	id uint64
	cb Callback[T]
}

// Registry is safe for concurrent use. Execute runs callbacks outside the
// lock, so a callback may Add or unsubscribe on the same registry.
type Registry[T any] struct {
	mu        sync.Mutex
	callbacks map[string][]entry[T]
	nextID    uint64
	policy    ErrorPolicy
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	policy ErrorPolicy
}

// WithErrorPolicy replaces the default log-and-continue policy.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger keeps the default policy but logs through l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.policy = LogPolicy(l) }
}

// LogPolicy logs callback failures as warnings.
func LogPolicy(l *slog.Logger) ErrorPolicy {
	return func(key string, err error) {
		l.Warn("registry: callback failed", "key", key, "error", err)
	}
}

// New creates an empty registry.
func New[T any](opts ...Option) *Registry[T] {
	o := options{policy: LogPolicy(slog.Default())}
	for _, fn := range opts {
		fn(&o)
	}
	return &Registry[T]{
		callbacks: make(map[string][]entry[T]),
		policy:    o.policy,
	}
}

// Add appends cb to key's list and returns a function removing exactly this
// registration. Calling the returned function more than once is a no-op.
func (r *Registry[T]) Add(key string, cb Callback[T]) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.callbacks[key] = append(r.callbacks[key], entry[T]{id: id, cb: cb})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, id) })
	}
}

func (r *Registry[T]) remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.callbacks[key]
	for i, e := range list {
		if e.id != id {
			continue
		}
		next := make([]entry[T], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.callbacks, key)
		} else {
			r.callbacks[key] = next
		}
		return
	}
}

// Execute invokes every callback registered under key, in registration
// order, with v. The returned slice has one slot per callback invoked; a nil
// slot means the callback succeeded.
func (r *Registry[T]) Execute(key string, v T) []error {
	r.mu.Lock()
	list := r.callbacks[key]
	r.mu.Unlock()

	results := make([]error, len(list))
	for i, e := range list {
		if err := r.call(key, e.cb, v); err != nil {
			results[i] = err
			r.policy(key, err)
		}
	}
	return results
}

func (r *Registry[T]) call(key string, cb Callback[T], v T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ErrCallbackPanic{Key: key, Value: p}
		}
	}()
	return cb(v)
}

// Clear drops every callback registered under key.
func (r *Registry[T]) Clear(key string) {
	r.mu.Lock()
	delete(r.callbacks, key)
	r.mu.Unlock()
}

// ClearAll drops every callback.
func (r *Registry[T]) ClearAll() {
	r.mu.Lock()
	r.callbacks = make(map[string][]entry[T])
	r.mu.Unlock()
}

// Len returns the number of callbacks registered under key.
func (r *Registry[T]) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks[key])
}
