package cbc

import (
	"fmt"
	"time"

	"cbdispatch/internal/config"
	"cbdispatch/internal/types"
)

// LinkTestInterval is how often each provider link should be probed when no
// real traffic is flowing. The sequenced family is probed less often so the
// probes burn fewer sequence values.
func LinkTestInterval(p types.Provider) time.Duration {
	if Sequenced(p) {
		return 30 * time.Minute
	}
	return 15 * time.Minute
}

// Registry holds one client per supported provider.
type Registry struct {
	clients map[types.Provider]ProviderClient
}

// NewRegistry wires a client for every supported provider from the endpoint
// configuration. The sequence source is shared across sequenced providers.
func NewRegistry(
	cfg config.CBCConfig,
	invoker Invoker,
	sequence SequenceSource,
	clock types.Clock,
	logger types.Logger,
) *Registry {
	clients := make(map[types.Provider]ProviderClient, len(types.AllProviders))
	for _, provider := range types.AllProviders {
		primary, failover := cfg.Endpoints(string(provider))
		seq := sequence
		if !Sequenced(provider) {
			seq = nil
		}
		clients[provider] = NewClient(provider, invoker, primary, failover, seq, clock, logger)
	}
	return &Registry{clients: clients}
}

// Get returns the client for a provider. An unknown provider means a task
// was enqueued for an operator this deployment does not serve; that is a
// fatal error, never retried.
func (r *Registry) Get(provider types.Provider) (ProviderClient, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeProviderUnknown,
			fmt.Sprintf("no client registered for provider %q", provider), nil)
	}
	return client, nil
}

// Providers lists the providers the registry serves, in stable order.
func (r *Registry) Providers() []types.Provider {
	return types.AllProviders
}
