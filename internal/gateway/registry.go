package gateway

import "strings"

type Registry struct {
	factories map[string]Factory
}

func NewRegistry(factories ...Factory) *Registry {
	registry := &Registry{factories: map[string]Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string, creds Credentials) (Adapter, error) {
	if r == nil {
		return nil, ErrProviderNotFound
	}
	key := normalize(provider)
	factory, ok := r.factories[key]
	if !ok {
		return nil, ErrProviderNotFound
	}
	adapter, err := factory.NewAdapter(creds)
	if err != nil {
		return nil, err
	}
	if adapter.Provider() != key {
		adapter = namedAdapter{Adapter: adapter, provider: key}
	}
	return adapter, nil
}

// namedAdapter reports the registry key as the provider so log fields and
// metric labels match the configured name.
type namedAdapter struct {
	Adapter
	provider string
}

func (a namedAdapter) Provider() string { return a.provider }

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
