package server

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/inference-sim/simbench/sim"
)

// Bench builds a fresh simulation from a CBOR-encoded configuration. The
// server calls it once per Init request.
type Bench func(cfg []byte) (*sim.Simulation, *sim.EndpointRegistry, error)

// NewBench adapts a typed bench factory. An empty or null configuration
// yields the zero value of C.
func NewBench[C any](factory func(cfg C) (*sim.Simulation, *sim.EndpointRegistry, error)) Bench {
	return func(cfg []byte) (*sim.Simulation, *sim.EndpointRegistry, error) {
		var c C
		if len(cfg) > 0 {
			if err := cbor.Unmarshal(cfg, &c); err != nil {
				return nil, nil, errorf(CodeInvalidConfig, "cannot decode bench configuration: %v", err)
			}
		}
		return factory(c)
	}
}
