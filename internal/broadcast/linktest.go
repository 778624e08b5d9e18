package broadcast

import (
	"context"

	"cbdispatch/internal/cbc"
	"cbdispatch/internal/types"
)

// ClientSource lists providers and resolves their clients. Satisfied by
// *cbc.Registry.
type ClientSource interface {
	Get(provider types.Provider) (cbc.ProviderClient, error)
	Providers() []types.Provider
}

// LinkTestRunner probes provider connectivity. Link tests are diagnostic:
// a failed probe is logged and never retried or escalated.
type LinkTestRunner struct {
	clients ClientSource
	logger  types.Logger
}

// NewLinkTestRunner creates a LinkTestRunner.
func NewLinkTestRunner(clients ClientSource, logger types.Logger) *LinkTestRunner {
	return &LinkTestRunner{clients: clients, logger: logger}
}

// Run probes one provider.
func (r *LinkTestRunner) Run(ctx context.Context, provider types.Provider) {
	client, err := r.clients.Get(provider)
	if err != nil {
		r.logger.Error("link test could not resolve provider client",
			"provider", string(provider), "error", err)
		return
	}
	if err := client.SendLinkTest(ctx); err != nil {
		r.logger.Warn("link test failed",
			"provider", string(provider), "error", err)
		return
	}
	r.logger.Info("link test succeeded", "provider", string(provider))
}

// RunAll probes every registered provider.
func (r *LinkTestRunner) RunAll(ctx context.Context) {
	for _, provider := range r.clients.Providers() {
		r.Run(ctx, provider)
	}
}
