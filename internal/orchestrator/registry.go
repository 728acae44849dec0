package orchestrator

import (
	"fmt"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Registration binds a Strategy to one (apiVersion, kind) pair.
type Registration struct {
	Strategy Strategy
	// AllowExisting accepts AlreadyExists as a non-fatal outcome. When
	// false, an existing object aborts the batch with ErrResourceConflict.
	AllowExisting bool
}

// RegisterOption adjusts a Registration.
type RegisterOption func(*Registration)

// AllowExisting makes AlreadyExists a non-fatal outcome for the kind.
func AllowExisting() RegisterOption {
	return func(r *Registration) {
		r.AllowExisting = true
	}
}

// Registry maps (apiVersion, kind) to creation strategies. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[schema.GroupVersionKind]Registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[schema.GroupVersionKind]Registration)}
}

// DefaultRegistry returns a Registry with the built-in strategies:
// apps/v1 Deployment and v1 Service.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	mustRegister(Register[appsv1.Deployment](r, "apps/v1", "Deployment", createDeployment))
	mustRegister(Register[corev1.Service](r, "v1", "Service", createService))
	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(fmt.Sprintf("labrunner: %v", err))
	}
}

// Register adds a typed strategy for apiVersion and kind to r.
func Register[T any](r *Registry, apiVersion, kind string, create CreateFunc[T], opts ...RegisterOption) error {
	if create == nil {
		return fmt.Errorf("register %s %s: create func is nil", apiVersion, kind)
	}
	return r.Add(apiVersion, kind, Typed(create), opts...)
}

// Add registers s for apiVersion and kind. Registering a pair twice returns
// ErrDuplicateStrategy.
func (r *Registry) Add(apiVersion, kind string, s Strategy, opts ...RegisterOption) error {
	return r.put(apiVersion, kind, s, false, opts)
}

// Set registers s for apiVersion and kind, replacing any existing
// registration, including a built-in one.
func (r *Registry) Set(apiVersion, kind string, s Strategy, opts ...RegisterOption) error {
	return r.put(apiVersion, kind, s, true, opts)
}

func (r *Registry) put(apiVersion, kind string, s Strategy, replace bool, opts []RegisterOption) error {
	if apiVersion == "" || kind == "" {
		return fmt.Errorf("register strategy: apiVersion and kind must not be empty, got %q %q", apiVersion, kind)
	}
	if s == nil {
		return fmt.Errorf("register %s %s: strategy is nil", apiVersion, kind)
	}

	reg := Registration{Strategy: s}
	for _, opt := range opts {
		opt(&reg)
	}

	gvk := schema.FromAPIVersionAndKind(apiVersion, kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[gvk]; exists && !replace {
		return fmt.Errorf("%w: %s %s", ErrDuplicateStrategy, apiVersion, kind)
	}
	r.entries[gvk] = reg
	return nil
}

// Lookup returns the registration for apiVersion and kind.
func (r *Registry) Lookup(apiVersion, kind string) (Registration, bool) {
	gvk := schema.FromAPIVersionAndKind(apiVersion, kind)
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[gvk]
	return reg, ok
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
