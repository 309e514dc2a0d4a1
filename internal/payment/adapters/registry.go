package adapters

import (
	"strings"

	"github.com/smallbiznis/reserva/internal/payment/domain"
)

// Registry holds the configured adapter per provider name.
type Registry struct {
	adapters map[string]domain.Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]domain.Adapter{}}
}

func (r *Registry) Register(provider string, adapter domain.Adapter) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || adapter == nil {
		return
	}
	r.adapters[provider] = adapter
}

func (r *Registry) Get(provider string) (domain.Adapter, bool) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	return adapter, ok
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.Get(provider)
	return ok
}
