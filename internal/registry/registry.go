// Package registry loads and caches pool handles at startup. It follows a
// per-service boot sequence of resolving configured resources up front and
// failing loudly per-resource without aborting the whole boot.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
)

// Factory constructs a sdk.Pool handle bound to the given address, applying
// a multicall override when multicall != zero.
type Factory func(ctx context.Context, poolAddress common.Address, multicall common.Address) (sdk.Pool, error)

// Entry pairs a resolved pool handle with the policy configuration it was
// loaded from.
type Entry struct {
	Config config.PoolConfig
	Pool   sdk.Pool
}

// Registry is the set of successfully-loaded pools, keyed by configured name.
type Registry struct {
	entries map[string]Entry
}

// Load resolves every pool named in cfg.Pools via factory. A pool that fails
// to resolve is logged and excluded; it does not stop the others from
// loading, so one unresolvable pool never blocks boot for the rest.
func Load(ctx context.Context, logger *slog.Logger, cfg *config.Config, factory Factory) (*Registry, error) {
	reg := &Registry{entries: make(map[string]Entry, len(cfg.Pools))}

	var multicall common.Address
	if cfg.MulticallAddress != "" {
		multicall = common.HexToAddress(cfg.MulticallAddress)
	}

	for _, poolCfg := range cfg.Pools {
		addr := common.HexToAddress(poolCfg.Address)
		pool, err := factory(ctx, addr, multicall)
		if err != nil {
			logger.Error("failed to load pool", "pool", poolCfg.Name, "pool_address", poolCfg.Address, "error", err)
			continue
		}
		reg.entries[poolCfg.Name] = Entry{Config: poolCfg, Pool: pool}
	}

	if len(reg.entries) == 0 {
		return nil, fmt.Errorf("registry: no pools loaded successfully out of %d configured", len(cfg.Pools))
	}
	return reg, nil
}

// Get returns the entry for name, or false if it failed to load or was
// never configured.
func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// All returns every successfully-loaded entry.
func (r *Registry) All() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Names returns the configured names of successfully-loaded pools.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Len reports how many pools loaded successfully.
func (r *Registry) Len() int {
	return len(r.entries)
}
