package gateway

import (
	"errors"
	"testing"

	"github.com/smallbiznis/tenantbill/internal/gateway/domain"
)

type namedClient struct {
	domain.Client
	name string
}

func (c namedClient) Provider() string { return c.name }

func TestRegistryResolvesCaseInsensitive(t *testing.T) {
	registry := NewRegistry(namedClient{name: "Stripe"}, nil, namedClient{name: "adyen"})

	client, err := registry.Get(" STRIPE ")
	if err != nil || client.Provider() != "Stripe" {
		t.Fatalf("expected stripe client, got %v %v", client, err)
	}
	if !registry.ProviderExists("adyen") {
		t.Fatalf("expected adyen to be registered")
	}
	if _, err := registry.Get("paypal"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}

	def, ok := registry.Default()
	if !ok || def.Provider() != "Stripe" {
		t.Fatalf("expected first registered client as default")
	}
}

func TestEmptyRegistryHasNoDefault(t *testing.T) {
	if _, ok := NewRegistry().Default(); ok {
		t.Fatalf("expected no default client")
	}
	var nilRegistry *Registry
	if _, err := nilRegistry.Get("stripe"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found on nil registry")
	}
}
