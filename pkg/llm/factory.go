package llm

import (
	"fmt"
)

// ProviderBinding supplies the provider-specific construction inputs the
// factory needs. Secrets and host resolution live with the caller so this
// package stays free of config imports.
type ProviderBinding struct {
	// Provider is one of the config.Provider* identifiers.
	Provider string
	// APIKey is required for hosted providers, ignored for local ones.
	APIKey string
	// Host is the server URL for local providers (Ollama).
	Host string
}

// Constructor builds a Client for one provider.
type Constructor func(binding ProviderBinding, model string) (Client, error)

// Factory creates clients for validated models. Constructors are registered
// per provider, normally once at startup by cmd wiring.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register binds a constructor to a provider name, replacing any existing
// binding.
func (f *Factory) Register(provider string, ctor Constructor) {
	f.constructors[provider] = ctor
}

// NewClient builds a client for the model using the registered constructor
// for the given binding's provider.
func (f *Factory) NewClient(binding ProviderBinding, model string) (Client, error) {
	ctor, ok := f.constructors[binding.Provider]
	if !ok {
		return nil, fmt.Errorf("no client constructor registered for provider %q", binding.Provider)
	}
	client, err := ctor(binding, model)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s client for model %s: %w", binding.Provider, model, err)
	}
	return client, nil
}
