package adapter

import (
	"fmt"

	"github.com/avco-ledger/internal/config"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/retry"
	"github.com/avco-ledger/internal/types"
)

// NewRegistryFromConfig registers an EVM adapter for every enabled network
// that has RPC endpoints. Networks without endpoints, or without an adapter
// implementation, stay unregistered and are treated as unsupported. budget
// may be nil.
func NewRegistryFromConfig(networks config.NetworksConfig, rpc config.RPCConfig, budget Budget) (*Registry, error) {
	log := logging.WithComponent("adapter")
	registry := NewRegistry()

	policy := &retry.Policy{
		BaseDelay:   rpc.RetryBaseDelay,
		MaxDelay:    rpc.RetryMaxDelay,
		Jitter:      rpc.RetryJitter,
		MaxAttempts: rpc.RetryMaxAttempts,
	}

	for _, name := range networks.Enabled {
		network, ok := types.ParseNetwork(name)
		if !ok {
			return nil, fmt.Errorf("unknown network %q in ENABLED_NETWORKS", name)
		}
		nc := networks.Networks[name]
		if len(nc.RPCURLs) == 0 {
			log.WithField("network", name).Warn("Skipping network: no RPC endpoint configured")
			continue
		}
		if !network.IsEVM() {
			log.WithField("network", name).Warn("Skipping network: no adapter available")
			continue
		}

		rotator, err := NewEndpointRotator(RotatorConfig{
			Endpoints:         nc.RPCURLs,
			Cooldown:          rpc.EndpointCooldown,
			RequestsPerSecond: nc.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		caller := NewRPCCaller(network, rotator, policy)
		if budget != nil {
			caller.SetBudget(budget)
		}
		evm, err := NewEVMAdapter(EVMAdapterConfig{
			Network:   network,
			Caller:    caller,
			BatchSize: nc.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		registry.Register(evm)

		log.WithFields(map[string]interface{}{
			"network":   name,
			"endpoints": len(nc.RPCURLs),
		}).Info("Network adapter initialized")
	}

	return registry, nil
}
