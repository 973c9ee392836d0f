package registry

import (
	"fmt"
	"sort"

	"sentinel/internal/config"

	"github.com/ethereum/go-ethereum/common"
)

// Capability is one supported remediation operation on a contract.
// Params: pause/withdraw/transfer_ownership constants.
// Returns: static descriptor entry checked before every action attempt.
type Capability string

const (
	// CapPause marks contracts exposing pause().
	CapPause Capability = config.CapabilityPause
	// CapWithdraw marks contracts exposing emergencyWithdraw(address).
	CapWithdraw Capability = config.CapabilityWithdraw
	// CapTransferOwnership marks contracts exposing transferOwnership(address).
	CapTransferOwnership Capability = config.CapabilityTransferOwnership
)

// Target is one registered contract with its static capability descriptor.
// Params: logical name, address, capability set, and classification flags.
// Returns: immutable registration computed once at startup.
type Target struct {
	Name           string
	Address        common.Address
	Capabilities   map[Capability]struct{}
	Critical       bool
	PriceDependent bool
	Governance     bool
}

// Has reports whether the target supports one operation.
// Params: capability to check.
// Returns: true when the capability was declared at registration.
func (t Target) Has(capability Capability) bool {
	_, ok := t.Capabilities[capability]
	return ok
}

// Registry maps logical contract names to registered targets.
// Params: immutable target map and deterministic name order.
// Returns: lookup surface for monitor and incident manager.
type Registry struct {
	targets map[string]Target
	names   []string
}

// New builds the registry from validated contract configuration.
// Params: contract section keyed by logical name.
// Returns: immutable registry or address parse error.
func New(contracts map[string]config.ContractConfig) (*Registry, error) {
	targets := make(map[string]Target, len(contracts))
	names := make([]string, 0, len(contracts))
	for name, contract := range contracts {
		if !common.IsHexAddress(contract.Address) {
			return nil, fmt.Errorf("contract %q address %q is not a hex address", name, contract.Address)
		}
		capabilities := make(map[Capability]struct{}, len(contract.Capabilities))
		for _, capability := range contract.Capabilities {
			capabilities[Capability(capability)] = struct{}{}
		}
		targets[name] = Target{
			Name:           name,
			Address:        common.HexToAddress(contract.Address),
			Capabilities:   capabilities,
			Critical:       contract.Critical,
			PriceDependent: contract.PriceDependent,
			Governance:     contract.Governance,
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{targets: targets, names: names}, nil
}

// Lookup returns one target by logical name.
// Params: contract name.
// Returns: target and existence flag.
func (r *Registry) Lookup(name string) (Target, bool) {
	target, ok := r.targets[name]
	return target, ok
}

// Names returns registered contract names in deterministic order.
// Params: none.
// Returns: sorted name list.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Targets returns all registered targets in deterministic order.
// Params: none.
// Returns: targets sorted by name.
func (r *Registry) Targets() []Target {
	out := make([]Target, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.targets[name])
	}
	return out
}
