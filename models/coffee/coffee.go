// Package coffee models an espresso machine: a pump fed by a water tank and
// switched by a brew controller.
package coffee

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simbench/sim"
)

// PumpCommand switches the pump.
type PumpCommand int

const (
	PumpOff PumpCommand = iota
	PumpOn
)

func (c PumpCommand) String() string {
	if c == PumpOn {
		return "On"
	}
	return "Off"
}

// WaterSenseState is reported by the tank water sensor.
type WaterSenseState int

const (
	Empty WaterSenseState = iota
	NotEmpty
)

func (s WaterSenseState) String() string {
	if s == NotEmpty {
		return "NotEmpty"
	}
	return "Empty"
}

// Pump delivers water at its nominal flow rate while on.
type Pump struct {
	// FlowRate publishes the current flow rate in m³/s on every command.
	FlowRate sim.Output[float64]

	nominalFlowRate float64
}

// NewPump creates a pump delivering nominalFlowRate m³/s when on.
func NewPump(nominalFlowRate float64) *Pump {
	return &Pump{nominalFlowRate: nominalFlowRate}
}

// Command switches the pump on or off.
func (p *Pump) Command(_ *sim.Context, cmd PumpCommand) {
	flowRate := 0.0
	if cmd == PumpOn {
		flowRate = p.nominalFlowRate
	}
	p.FlowRate.Send(flowRate)
}

// DefaultBrewTime is used until a brew time is set.
const DefaultBrewTime = 25 * time.Second

// Controller runs the pump for one brew time per brew command, and stops it
// early when the tank runs dry.
type Controller struct {
	PumpCmd sim.Output[PumpCommand]

	brewTime    time.Duration
	waterSense  WaterSenseState // overwritten by the tank at initialization
	stopBrewKey *sim.ActionKey  // non-nil while brewing
}

// NewController creates an idle controller with DefaultBrewTime. It assumes
// an empty tank until the tank reports otherwise.
func NewController() *Controller {
	return &Controller{brewTime: DefaultBrewTime, waterSense: Empty}
}

// BrewTime sets the duration of the following brews. Zero and durations
// beyond time.Duration are rejected.
func (c *Controller) BrewTime(ctx *sim.Context, d sim.Duration) {
	if d.IsZero() || !d.InRange() {
		logrus.Warnf("[%v] %s: ignoring brew time %ds+%dns", ctx.Time(), ctx.ModelName(), d.Secs, d.Nanos)
		return
	}
	c.brewTime = d.Std()
}

// WaterSense receives the tank sensor state.
func (c *Controller) WaterSense(_ *sim.Context, state WaterSenseState) {
	if state == Empty && c.stopBrewKey != nil {
		c.stopBrewKey.Cancel()
		c.stopBrewKey = nil
		c.PumpCmd.Send(PumpOff)
	}
	c.waterSense = state
}

// BrewCmd starts a brew, or stops the one in progress.
func (c *Controller) BrewCmd(ctx *sim.Context, _ struct{}) {
	if c.stopBrewKey != nil {
		c.stopBrewKey.Cancel()
		c.stopBrewKey = nil
		c.PumpCmd.Send(PumpOff)
		return
	}
	if c.waterSense == Empty {
		return
	}
	var key *sim.ActionKey
	key, err := ctx.ScheduleKeyedEvent(c.brewTime, func(*sim.Context) { c.stopBrew(key) })
	if err != nil {
		logrus.Errorf("[%v] %s: cannot schedule end of brew: %v", ctx.Time(), ctx.ModelName(), err)
		return
	}
	c.stopBrewKey = key
	c.PumpCmd.Send(PumpOn)
}

func (c *Controller) stopBrew(key *sim.ActionKey) {
	if c.stopBrewKey == nil || c.stopBrewKey != key {
		return
	}
	c.stopBrewKey = nil
	c.PumpCmd.Send(PumpOff)
}

// Tank holds water drawn by the pump and reports when it runs dry.
type Tank struct {
	WaterSense sim.Output[WaterSenseState]

	volume float64
	flow   *tankFlow // nil while no water is drawn
}

type tankFlow struct {
	since       sim.MonotonicTime
	rate        float64
	setEmptyKey *sim.ActionKey // nil when the tank cannot run dry in representable time
}

// NewTank returns a tank holding initVolume m³. Negative volumes are treated as empty.
func NewTank(initVolume float64) *Tank {
	return &Tank{volume: math.Max(initVolume, 0)}
}

// Volume returns the volume as of the last update.
func (t *Tank) Volume() float64 { return t.volume }

// Init publishes the initial sensor state.
func (t *Tank) Init(*sim.Context) {
	if t.volume == 0 {
		t.WaterSense.Send(Empty)
		return
	}
	t.WaterSense.Send(NotEmpty)
}

// Fill adds water to the tank. Negative volumes are ignored.
func (t *Tank) Fill(ctx *sim.Context, added float64) {
	if added < 0 {
		logrus.Warnf("[%v] %s: ignoring negative fill volume %g", ctx.Time(), ctx.ModelName(), added)
		return
	}
	rate := t.drain(ctx.Time())
	wasEmpty := t.volume == 0
	t.volume += added
	if wasEmpty && t.volume > 0 {
		t.WaterSense.Send(NotEmpty)
	}
	t.startFlow(ctx, rate)
}

// SetFlowRate updates the outflow drawn by the pump.
func (t *Tank) SetFlowRate(ctx *sim.Context, rate float64) {
	if rate < 0 {
		logrus.Warnf("[%v] %s: ignoring negative flow rate %g", ctx.Time(), ctx.ModelName(), rate)
		return
	}
	t.drain(ctx.Time())
	t.startFlow(ctx, rate)
}

// drain integrates the outflow since the last update, cancels the pending
// empty action and returns the flow rate that was in effect.
func (t *Tank) drain(now sim.MonotonicTime) float64 {
	f := t.flow
	if f == nil {
		return 0
	}
	if f.setEmptyKey != nil {
		f.setEmptyKey.Cancel()
	}
	t.flow = nil
	t.volume -= now.Sub(f.since).Seconds() * f.rate
	if t.volume <= 0 {
		t.volume = 0
		t.WaterSense.Send(Empty)
	}
	return f.rate
}

func (t *Tank) startFlow(ctx *sim.Context, rate float64) {
	if rate == 0 || t.volume == 0 {
		return
	}
	t.flow = &tankFlow{since: ctx.Time(), rate: rate}

	// Nanoseconds until empty, computed in float to survive huge volumes.
	untilEmpty := t.volume / rate * float64(time.Second)
	if untilEmpty >= math.MaxInt64 {
		logrus.Debugf("[%v] %s: tank never runs dry at flow rate %g", ctx.Time(), ctx.ModelName(), rate)
		return
	}
	if time.Duration(untilEmpty) <= 0 {
		t.flow = nil
		t.volume = 0
		t.WaterSense.Send(Empty)
		return
	}
	var key *sim.ActionKey
	key, err := ctx.ScheduleKeyedEvent(time.Duration(untilEmpty), func(*sim.Context) { t.setEmpty(key) })
	if err != nil {
		logrus.Debugf("[%v] %s: tank never runs dry: %v", ctx.Time(), ctx.ModelName(), err)
		return
	}
	t.flow.setEmptyKey = key
}

func (t *Tank) setEmpty(key *sim.ActionKey) {
	if t.flow == nil || t.flow.setEmptyKey != key {
		return
	}
	t.flow = nil
	t.volume = 0
	t.WaterSense.Send(Empty)
}
