// Package gateway wires payment processor clients.
package gateway

import (
	"strings"

	"github.com/smallbiznis/tenantbill/internal/gateway/domain"
)

// Registry resolves processor clients by provider name.
type Registry struct {
	clients  map[string]domain.Client
	fallback string
}

// NewRegistry registers clients; the first one becomes the default.
func NewRegistry(clients ...domain.Client) *Registry {
	registry := &Registry{clients: map[string]domain.Client{}}
	for _, client := range clients {
		if client == nil {
			continue
		}
		provider := normalize(client.Provider())
		if provider == "" {
			continue
		}
		if registry.fallback == "" {
			registry.fallback = provider
		}
		registry.clients[provider] = client
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.clients[normalize(provider)]
	return ok
}

func (r *Registry) Get(provider string) (domain.Client, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	client, ok := r.clients[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return client, nil
}

// Default returns the client used for user-initiated remote calls.
func (r *Registry) Default() (domain.Client, bool) {
	if r == nil || r.fallback == "" {
		return nil, false
	}
	client, ok := r.clients[r.fallback]
	return client, ok
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
