package secret

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ProviderFactory builds a Provider from the options of a config entry.
type ProviderFactory func(opts map[string]string) (Provider, error)

// Registry maps the provider names used in configuration to factories.
// Names are case-insensitive.
type Registry struct {
	mu        sync.Mutex
	factories map[string]ProviderFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]ProviderFactory{}}
}

// DefaultSecretsDir is where the file provider reads when no "dir" option
// is given.
const DefaultSecretsDir = "/run/secrets"

// NewBuiltinRegistry returns a Registry holding "env" (no options) and
// "file" (option "dir", default DefaultSecretsDir).
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.factories["env"] = func(opts map[string]string) (Provider, error) {
		if err := onlyOptions(opts); err != nil {
			return nil, err
		}
		return NewEnvProvider(), nil
	}
	r.factories["file"] = func(opts map[string]string) (Provider, error) {
		if err := onlyOptions(opts, "dir"); err != nil {
			return nil, err
		}
		return NewFileProvider(cmp.Or(opts["dir"], DefaultSecretsDir)), nil
	}
	return r
}

// Register adds factory under name. Names must be non-blank and unique.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return ErrInvalidProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[key] != nil {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, key)
	}
	r.factories[key] = factory
	return nil
}

// Create builds the provider registered under name.
func (r *Registry) Create(name string, opts map[string]string) (Provider, error) {
	key := normalizeName(name)
	r.mu.Lock()
	factory := r.factories[key]
	r.mu.Unlock()

	if factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, key)
	}
	p, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("secret: provider %q: %w", key, err)
	}
	return p, nil
}

// List returns the registered names in order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.factories))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// onlyOptions rejects option keys outside allowed.
func onlyOptions(opts map[string]string, allowed ...string) error {
	var unknown []string
	for k := range opts {
		if !slices.Contains(allowed, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return fmt.Errorf("%w: unknown options %s", ErrInvalidProvider, strings.Join(unknown, ", "))
	}
	return nil
}
