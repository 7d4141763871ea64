// Package benches assembles the pre-wired simulation benches served by the
// launcher. Every factory builds fresh models, mailboxes and registry on each
// call, so factories may run concurrently for independent sessions.
package benches

import (
	"github.com/inference-sim/simbench/models/bench2"
	"github.com/inference-sim/simbench/models/coffee"
	"github.com/inference-sim/simbench/sim"
)

const (
	// PumpFlowRate is the nominal flow rate of the coffee pump in m³/s.
	PumpFlowRate = 4.5e-6
	// DefaultTankVolume is the initial tank volume in m³ when none is given.
	DefaultTankVolume = 1.5e-3
)

// CoffeeBench assembles the espresso machine bench. initTankVolume is the
// initial tank volume in m³; nil selects DefaultTankVolume.
func CoffeeBench(initTankVolume *float64) (*sim.Simulation, *sim.EndpointRegistry, error) {
	return coffeeBench(initTankVolume, nil)
}

// RTCoffeeBench is CoffeeBench paced by the system clock.
func RTCoffeeBench(initTankVolume *float64) (*sim.Simulation, *sim.EndpointRegistry, error) {
	return coffeeBench(initTankVolume, sim.NewAutoSystemClock())
}

func coffeeBench(initTankVolume *float64, clock sim.Clock) (*sim.Simulation, *sim.EndpointRegistry, error) {
	volume := DefaultTankVolume
	if initTankVolume != nil {
		volume = *initTankVolume
	}

	pump := coffee.NewPump(PumpFlowRate)
	controller := coffee.NewController()
	tank := coffee.NewTank(volume)

	// Mailboxes.
	pumpMbox := sim.NewMailbox[*coffee.Pump]()
	controllerMbox := sim.NewMailbox[*coffee.Controller]()
	tankMbox := sim.NewMailbox[*coffee.Tank]()

	// Connections.
	sim.Connect(&controller.PumpCmd, (*coffee.Pump).Command, pumpMbox)
	sim.Connect(&tank.WaterSense, (*coffee.Controller).WaterSense, controllerMbox)
	sim.Connect(&pump.FlowRate, (*coffee.Tank).SetFlowRate, tankMbox)

	// Endpoints.
	registry := sim.NewEndpointRegistry()

	flowRate := sim.NewEventSlot[float64]()
	pump.FlowRate.ConnectSink(flowRate)
	if err := registry.AddEventSink(flowRate, "flow_rate"); err != nil {
		return nil, nil, err
	}

	controllerAddr := controllerMbox.Address()
	tankAddr := tankMbox.Address()

	brewCmd := sim.NewEventSource[struct{}]()
	sim.ConnectSource(brewCmd, (*coffee.Controller).BrewCmd, controllerAddr)
	brewTime := sim.NewEventSource[sim.Duration]()
	sim.ConnectSource(brewTime, (*coffee.Controller).BrewTime, controllerAddr)
	tankFill := sim.NewEventSource[float64]()
	sim.ConnectSource(tankFill, (*coffee.Tank).Fill, tankAddr)
	if err := registry.AddEventSource(brewCmd, "brew_cmd"); err != nil {
		return nil, nil, err
	}
	if err := registry.AddEventSource(brewTime, "brew_time"); err != nil {
		return nil, nil, err
	}
	if err := registry.AddEventSource(tankFill, "tank_fill"); err != nil {
		return nil, nil, err
	}

	// Assembly and initialization.
	s, err := sim.NewSimInit().
		AddModel(controller, controllerMbox, "controller").
		AddModel(pump, pumpMbox, "pump").
		AddModel(tank, tankMbox, "tank").
		SetClock(clock).
		Init(sim.Epoch)
	if err != nil {
		return nil, nil, err
	}
	return s, registry, nil
}

// Bench2 assembles a single echo model. The load is accepted and discarded.
func Bench2(_ bench2.TestLoad) (*sim.Simulation, *sim.EndpointRegistry, error) {
	model := &bench2.MyModel{}

	// Mailboxes.
	modelMbox := sim.NewMailbox[*bench2.MyModel]()
	modelAddr := modelMbox.Address()

	// Endpoints.
	registry := sim.NewEndpointRegistry()

	output := sim.NewEventBuffer[bench2.TestLoad]()
	model.Output.ConnectSink(output)
	if err := registry.AddEventSink(output, "output"); err != nil {
		return nil, nil, err
	}

	input := sim.NewEventSource[bench2.TestLoad]()
	sim.ConnectSource(input, (*bench2.MyModel).MyInput, modelAddr)
	if err := registry.AddEventSource(input, "input"); err != nil {
		return nil, nil, err
	}

	// Assembly and initialization.
	s, err := sim.NewSimInit().
		AddModel(model, modelMbox, "model").
		Init(sim.Epoch)
	if err != nil {
		return nil, nil, err
	}
	return s, registry, nil
}
