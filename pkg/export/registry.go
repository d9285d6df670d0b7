package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Factory returns a fresh exporter instance, normally a pointer so the queued
// payload can be decoded into it.
type Factory func() Exporter

// Registry maps exporter keys to factories. Workers use it to rebuild the
// exporter of a queued job from its key and JSON payload.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under key. Registering a key twice is an error.
func (r *Registry) Register(key string, f Factory) error {
	if key == "" {
		return fmt.Errorf("exporter key is required")
	}
	if f == nil {
		return fmt.Errorf("exporter %q: factory is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("exporter %q already registered", key)
	}
	r.factories[key] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(key string, f Factory) {
	if err := r.Register(key, f); err != nil {
		panic(err)
	}
}

// RegisterFor registers a factory of *T under the key derived by KeyFor and
// returns that key.
//
//	key, err := export.RegisterFor[UsersExport](reg)
func RegisterFor[T any, PT interface {
	*T
	Exporter
}](r *Registry) (string, error) {
	probe := PT(new(T))
	key := KeyFor(probe)
	return key, r.Register(key, func() Exporter { return PT(new(T)) })
}

// Lookup returns the factory registered under key.
func (r *Registry) Lookup(key string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[key]
	return f, ok
}

// Keys returns all registered keys sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyFor returns the registry key of e: the declared ExporterKey, else the
// import path and name of its type.
func KeyFor(e Exporter) string {
	if k, ok := e.(WithExporterKey); ok {
		return k.ExporterKey()
	}
	t := reflect.TypeOf(e)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// Describe returns the key and JSON payload that let a worker rebuild e.
// It fails with *UnregisteredExporterError when the key has no factory.
func (r *Registry) Describe(e Exporter) (string, json.RawMessage, error) {
	key := KeyFor(e)
	if _, ok := r.Lookup(key); !ok {
		return "", nil, &UnregisteredExporterError{Key: key}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("failed to serialise exporter %q: %w", key, err)
	}
	return key, payload, nil
}

// Materialize builds a fresh exporter for key and decodes payload into it.
func (r *Registry) Materialize(key string, payload json.RawMessage) (Exporter, error) {
	f, ok := r.Lookup(key)
	if !ok {
		return nil, &UnregisteredExporterError{Key: key}
	}

	e := f()
	if e == nil {
		return nil, fmt.Errorf("exporter %q: factory returned nil", key)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return e, nil
	}
	if reflect.TypeOf(e).Kind() != reflect.Pointer {
		return nil, fmt.Errorf("exporter %q: factory must return a pointer to decode its payload", key)
	}
	if err := json.Unmarshal(trimmed, e); err != nil {
		return nil, fmt.Errorf("failed to decode exporter %q: %w", key, err)
	}
	return e, nil
}
