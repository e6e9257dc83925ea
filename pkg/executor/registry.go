package executor

import (
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Registry looks up the driver for a server's protocol.
type Registry struct {
	drivers map[models.Protocol]Driver
}

// NewRegistry builds a registry from the given drivers.
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[models.Protocol]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.Protocol()] = d
	}
	return r
}

// DefaultRegistry wires the three production drivers.
func DefaultRegistry() *Registry {
	return NewRegistry(NewSSHDriver(), NewWinRMDriver(), NewAPIDriver())
}

// Driver returns the driver for a protocol.
func (r *Registry) Driver(p models.Protocol) (Driver, error) {
	d, ok := r.drivers[p]
	if !ok {
		return nil, fmt.Errorf("no executor driver for protocol %q", p)
	}
	return d, nil
}
