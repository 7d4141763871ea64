package coffee_test

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simbench/internal/testutil"
	"github.com/inference-sim/simbench/models/coffee"
	"github.com/inference-sim/simbench/sim"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.ErrorLevel)
	}
	os.Exit(m.Run())
}

const flowRate = 4.5e-6

type machine struct {
	sim      *sim.Simulation
	brewCmd  *sim.EventSource[struct{}]
	brewTime *sim.EventSource[sim.Duration]
	tankFill *sim.EventSource[float64]
	flow     *sim.EventBuffer[float64]
	tank     *coffee.Tank
}

func newMachine(t *testing.T, volume float64) *machine {
	t.Helper()
	pump := coffee.NewPump(flowRate)
	controller := coffee.NewController()
	tank := coffee.NewTank(volume)

	pumpMbox := sim.NewMailbox[*coffee.Pump]()
	controllerMbox := sim.NewMailbox[*coffee.Controller]()
	tankMbox := sim.NewMailbox[*coffee.Tank]()
	sim.Connect(&controller.PumpCmd, (*coffee.Pump).Command, pumpMbox)
	sim.Connect(&tank.WaterSense, (*coffee.Controller).WaterSense, controllerMbox)
	sim.Connect(&pump.FlowRate, (*coffee.Tank).SetFlowRate, tankMbox)

	m := &machine{
		brewCmd:  sim.NewEventSource[struct{}](),
		brewTime: sim.NewEventSource[sim.Duration](),
		tankFill: sim.NewEventSource[float64](),
		flow:     sim.NewEventBuffer[float64](),
		tank:     tank,
	}
	pump.FlowRate.ConnectSink(m.flow)
	sim.ConnectSource(m.brewCmd, (*coffee.Controller).BrewCmd, controllerMbox.Address())
	sim.ConnectSource(m.brewTime, (*coffee.Controller).BrewTime, controllerMbox.Address())
	sim.ConnectSource(m.tankFill, (*coffee.Tank).Fill, tankMbox.Address())

	s, err := sim.NewSimInit().
		AddModel(controller, controllerMbox, "controller").
		AddModel(pump, pumpMbox, "pump").
		AddModel(tank, tankMbox, "tank").
		Init(sim.Epoch)
	require.NoError(t, err)
	m.sim = s
	return m
}

func (m *machine) brew(t *testing.T) {
	t.Helper()
	require.NoError(t, sim.Process(m.sim, m.brewCmd, struct{}{}))
}

func TestController_BrewStopsAfterBrewTime(t *testing.T) {
	// GIVEN a full tank
	m := newMachine(t, 1.5e-3)

	// WHEN a brew is started
	m.brew(t)

	// THEN the pump starts immediately
	assert.Equal(t, []float64{flowRate}, m.flow.Drain())

	// AND stops after the default brew time
	require.NoError(t, m.sim.StepUnbounded())
	assert.Equal(t, sim.Epoch.Add(coffee.DefaultBrewTime), m.sim.Time())
	assert.Equal(t, []float64{0}, m.flow.Drain())
	testutil.AssertFloat64Equal(t, "volume", 1.5e-3-25*flowRate, m.tank.Volume(), 1e-9)
}

func TestController_BrewTimeIsConfigurable(t *testing.T) {
	m := newMachine(t, 1.5e-3)
	require.NoError(t, sim.Process(m.sim, m.brewTime, sim.DurationOf(10*time.Second)))

	// Zero brew times are ignored
	require.NoError(t, sim.Process(m.sim, m.brewTime, sim.Duration{}))

	m.brew(t)
	require.NoError(t, m.sim.StepUnbounded())
	assert.Equal(t, sim.Epoch.Add(10*time.Second), m.sim.Time())
	assert.Equal(t, []float64{flowRate, 0}, m.flow.Drain())
}

func TestController_SecondBrewCmdStopsBrew(t *testing.T) {
	// GIVEN a brew in progress for 5s
	m := newMachine(t, 1.5e-3)
	m.brew(t)
	require.NoError(t, m.sim.StepUntil(sim.Epoch.Add(5*time.Second)))

	// WHEN the brew command is sent again
	m.brew(t)

	// THEN the pump stops and no end-of-brew action remains
	assert.Equal(t, []float64{flowRate, 0}, m.flow.Drain())
	require.NoError(t, m.sim.StepUnbounded())
	assert.Equal(t, sim.Epoch.Add(5*time.Second), m.sim.Time())
	testutil.AssertFloat64Equal(t, "volume", 1.5e-3-5*flowRate, m.tank.Volume(), 1e-9)
}

func TestTank_RunsDryDuringBrew(t *testing.T) {
	// GIVEN a tank holding ten seconds of flow
	m := newMachine(t, 10*flowRate)

	// WHEN a brew is started
	m.brew(t)
	require.NoError(t, m.sim.StepUnbounded())

	// THEN the pump stops when the tank runs dry, before the brew time elapses
	assert.InDelta(t, float64(10*time.Second), float64(m.sim.Time()), float64(time.Microsecond))
	assert.Equal(t, []float64{flowRate, 0}, m.flow.Drain())
	assert.Zero(t, m.tank.Volume())
}

func TestController_IgnoresBrewWhenTankEmpty(t *testing.T) {
	// GIVEN an empty tank
	m := newMachine(t, 0)

	// WHEN a brew is requested
	m.brew(t)

	// THEN the pump stays off
	assert.Zero(t, m.flow.Len())

	// WHEN the tank is filled and a brew is requested again
	require.NoError(t, sim.Process(m.sim, m.tankFill, 1e-4))
	m.brew(t)

	// THEN the brew starts
	assert.Equal(t, []float64{flowRate}, m.flow.Drain())
}

func TestTank_FillDuringFlowKeepsVolume(t *testing.T) {
	m := newMachine(t, 1e-4)
	m.brew(t)
	require.NoError(t, m.sim.StepUntil(sim.Epoch.Add(4*time.Second)))

	require.NoError(t, sim.Process(m.sim, m.tankFill, 1e-4))
	testutil.AssertFloat64Equal(t, "volume", 2e-4-4*flowRate, m.tank.Volume(), 1e-9)

	// Negative fills are ignored
	require.NoError(t, sim.Process(m.sim, m.tankFill, -1.0))
	testutil.AssertFloat64Equal(t, "volume", 2e-4-4*flowRate, m.tank.Volume(), 1e-9)
}

func TestTank_LargeVolumeNeverRunsDry(t *testing.T) {
	// GIVEN a tank that would take longer than representable time to empty
	m := newMachine(t, 1e5)

	// WHEN a brew is started
	m.brew(t)

	// THEN the pump starts and the brew runs its full course
	assert.Equal(t, []float64{flowRate}, m.flow.Drain())
	require.NoError(t, m.sim.StepUnbounded())
	assert.Equal(t, sim.Epoch.Add(coffee.DefaultBrewTime), m.sim.Time())
	assert.Equal(t, []float64{0}, m.flow.Drain())
	testutil.AssertFloat64Equal(t, "volume", 1e5-25*flowRate, m.tank.Volume(), 1e-6)
}

func TestTank_LargeFillDuringBrewKeepsPumpRunning(t *testing.T) {
	// GIVEN a brew in progress on a small tank
	m := newMachine(t, 1e-4)
	m.brew(t)
	require.NoError(t, m.sim.StepUntil(sim.Epoch.Add(2*time.Second)))
	assert.Equal(t, []float64{flowRate}, m.flow.Drain())

	// WHEN a huge amount of water is added
	require.NoError(t, sim.Process(m.sim, m.tankFill, 1e5))

	// THEN the pump keeps running until the brew time elapses
	assert.Zero(t, m.flow.Len())
	require.NoError(t, m.sim.StepUnbounded())
	assert.Equal(t, sim.Epoch.Add(coffee.DefaultBrewTime), m.sim.Time())
	assert.Equal(t, []float64{0}, m.flow.Drain())
	assert.Greater(t, m.tank.Volume(), 0.0)
}

func TestController_IgnoresOutOfRangeBrewTime(t *testing.T) {
	m := newMachine(t, 1.5e-3)
	require.NoError(t, sim.Process(m.sim, m.brewTime, sim.Duration{Secs: math.MaxUint64}))

	m.brew(t)
	require.NoError(t, m.sim.StepUnbounded())
	assert.Equal(t, sim.Epoch.Add(coffee.DefaultBrewTime), m.sim.Time())
}

func TestNewTank_ClampsNegativeVolume(t *testing.T) {
	assert.Zero(t, coffee.NewTank(-1).Volume())
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "On", coffee.PumpOn.String())
	assert.Equal(t, "Off", coffee.PumpOff.String())
	assert.Equal(t, "Empty", coffee.Empty.String())
	assert.Equal(t, "NotEmpty", coffee.NotEmpty.String())
}
