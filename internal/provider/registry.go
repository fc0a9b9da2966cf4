package provider

import (
	"fmt"
	"sort"

	"github.com/fathomhq/fathom/internal/core"
)

// Registry holds the configured adapters. Providers without
// credentials in the config never get registered, so resolving them
// fails the same way as an unknown key.
type Registry struct {
	adapters map[core.ProviderKey]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[core.ProviderKey]Adapter),
	}
}

// Register adds an adapter. Registering the same key twice panics;
// that is a wiring bug, not a runtime condition.
func (r *Registry) Register(a Adapter) {
	if _, ok := r.adapters[a.Key()]; ok {
		panic(fmt.Sprintf("provider %s registered twice", a.Key()))
	}
	r.adapters[a.Key()] = a
}

// Resolve returns the adapter for a key.
func (r *Registry) Resolve(key core.ProviderKey) (Adapter, error) {
	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedProvider, key)
	}
	return a, nil
}

// ResolveSyncer returns the sync capability for a key, failing for
// providers that cannot sync.
func (r *Registry) ResolveSyncer(key core.ProviderKey) (Syncer, error) {
	a, err := r.Resolve(key)
	if err != nil {
		return nil, err
	}
	s, ok := a.(Syncer)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not support sync", core.ErrUnsupportedProvider, key)
	}
	return s, nil
}

// ResolveRefresher returns the refresh capability for a key, or nil
// when the provider's tokens never expire.
func (r *Registry) ResolveRefresher(key core.ProviderKey) (TokenRefresher, error) {
	a, err := r.Resolve(key)
	if err != nil {
		return nil, err
	}
	refresher, _ := a.(TokenRefresher)
	return refresher, nil
}

// Keys returns the registered provider keys, sorted.
func (r *Registry) Keys() []core.ProviderKey {
	keys := make([]core.ProviderKey, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
