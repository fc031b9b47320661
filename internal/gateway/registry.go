package gateway

import (
	"sort"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
)

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Provider()] = a
}

func (r *Registry) Has(provider string) bool {
	_, ok := r.adapters[provider]
	return ok
}

func (r *Registry) Get(provider string) (Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, apperr.Validation("invalid_provider", "unsupported payment provider %q", provider)
	}
	return a, nil
}

func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether a provider accepts the currency.
func Supports(a Adapter, currency string) bool {
	c := money.Normalize(currency)
	for _, s := range a.Currencies() {
		if s == c {
			return true
		}
	}
	return false
}
