// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package cycle

import (
	"autotpi/internal/bangcoast"
	"autotpi/internal/clock"
	"autotpi/internal/config"
	"autotpi/internal/events"
	"autotpi/internal/learning"
	"autotpi/internal/store"
	"autotpi/pkg/eventbus"
	"autotpi/pkg/logger"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)

type recordingSwitch struct {
	mu    sync.Mutex
	calls []bool
}

func (r *recordingSwitch) Set(_ context.Context, on bool) error {
	r.mu.Lock()
	r.calls = append(r.calls, on)
	r.mu.Unlock()
	return nil
}

func (r *recordingSwitch) Calls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

type harness struct {
	d     *Driver
	eng   *learning.Engine
	bus   *eventbus.Bus
	clk   *clock.Fake
	sw    *recordingSwitch
	store *store.Memory
	ctx   context.Context
}

func newHarness(t *testing.T, mut func(*config.ZoneConfig)) *harness {
	t.Helper()
	logger.SetOutput(io.Discard)
	cfg := config.DefaultZone("office")
	if mut != nil {
		mut(&cfg)
	}
	h := &harness{
		bus:   eventbus.New(),
		clk:   clock.NewFake(t0),
		sw:    &recordingSwitch{},
		store: store.NewMemory(),
		ctx:   context.Background(),
	}
	h.eng = learning.New(cfg, learning.Deps{Store: h.store, Clock: h.clk})
	// past bootstrap so the learned defaults drive the output
	require.NoError(t, h.eng.ApplyCalibratedCapacity(h.ctx, learning.ModeHeat, 2.0))
	h.d = New(cfg, Deps{
		Bus:     h.bus,
		Engine:  h.eng,
		Machine: bangcoast.New(cfg.Name, cfg.BangCoast, bangcoast.LearningData{}),
		Store:   h.store,
		Clock:   h.clk,
		Switch:  h.sw,
	})
	return h
}

// feed sets conditions giving a 17% duty with the default coefficients:
// 0.6*0.2 + 0.01*5
func (h *harness) feed() {
	h.d.HandleIndoor(events.TemperatureUpdate{Temperature: 19.8, Time: h.clk.Now()})
	h.d.HandleOutdoor(events.TemperatureUpdate{Temperature: 15})
	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 20, Mode: "heat"})
}

func (h *harness) advanceAndTick(d time.Duration) {
	h.clk.Advance(d)
	h.d.Tick(h.ctx, h.clk.Now())
}

func TestWaitsForSensors(t *testing.T) {
	h := newHarness(t, nil)
	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 20, Mode: "heat"})
	h.d.Tick(h.ctx, h.clk.Now())
	assert.Empty(t, h.sw.Calls())
	_, ok := h.bus.GetLast(events.TopicCycle("office"))
	assert.False(t, ok)
}

func TestCyclePulse(t *testing.T) {
	h := newHarness(t, nil)
	h.feed()
	h.d.Tick(h.ctx, h.clk.Now())

	assert.Equal(t, []bool{true}, h.sw.Calls())
	st := h.eng.State()
	assert.InDelta(t, 0.17, st.LastPower, 1e-9)
	assert.Equal(t, learning.ModeHeat, st.LastState)

	ev, ok := h.bus.GetLast(events.TopicCycle("office"))
	require.True(t, ok)
	u := ev.(events.CycleUpdate)
	assert.Equal(t, 102*time.Second, u.OnTime)
	assert.Equal(t, 498*time.Second, u.OffTime)
	assert.Equal(t, "maintain", u.Phase)
	assert.Equal(t, 2.0, u.Capacity)

	// end of the on pulse
	h.clk.Advance(102 * time.Second)
	assert.Equal(t, []bool{true, false}, h.sw.Calls())
	assert.Equal(t, t0.Add(102*time.Second), h.eng.State().LastHeaterStopTime)

	// mid-cycle ticks do nothing
	h.advanceAndTick(3 * time.Minute)
	assert.Equal(t, []bool{true, false}, h.sw.Calls())

	// the first cycle after idle is not learned from
	h.advanceAndTick(5*time.Minute + 18*time.Second)
	assert.Equal(t, learning.ReasonFirstCycle, h.eng.State().LastStatus)
	assert.Equal(t, []bool{true, false, true}, h.sw.Calls())
}

func TestCycleOverrunIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.feed()
	h.d.Tick(h.ctx, h.clk.Now())
	h.advanceAndTick(10 * time.Minute)
	require.Equal(t, learning.ReasonFirstCycle, h.eng.State().LastStatus)

	// host slept through a cycle
	h.advanceAndTick(15 * time.Minute)
	assert.Equal(t, StatusOverrun, h.eng.State().LastStatus)

	// a late tick within tolerance still counts
	h.advanceAndTick(10*time.Minute + 50*time.Second)
	assert.NotEqual(t, StatusOverrun, h.eng.State().LastStatus)
	assert.NotEqual(t, learning.ReasonFirstCycle, h.eng.State().LastStatus)
}

func TestThermostatChangeRestartsCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.feed()
	h.d.Tick(h.ctx, h.clk.Now())
	h.clk.Advance(4 * time.Minute)

	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 21, Mode: "heat"})
	assert.Equal(t, StatusRestarted, h.eng.State().LastStatus)
	assert.Equal(t, 21.0, h.eng.State().LastOrder)
}

func TestStopModeSwitchesOffAndResetsMachine(t *testing.T) {
	h := newHarness(t, func(z *config.ZoneConfig) { z.BangCoast.Enabled = true })
	h.d.HandleIndoor(events.TemperatureUpdate{Temperature: 17, Time: h.clk.Now()})
	h.d.HandleOutdoor(events.TemperatureUpdate{Temperature: 0})
	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 20, Mode: "heat"})
	h.d.Tick(h.ctx, h.clk.Now())
	require.Equal(t, bangcoast.PhaseBang, h.d.Machine.Phase())
	assert.Equal(t, []bool{true}, h.sw.Calls())
	// a full cycle on leaves nothing to time
	assert.Zero(t, h.clk.Pending())

	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 20, Mode: "off"})
	assert.Equal(t, bangcoast.PhaseMaintain, h.d.Machine.Phase())
	assert.Equal(t, []bool{true, false}, h.sw.Calls())
	assert.Equal(t, learning.ModeStop, h.eng.State().LastState)
}

func TestCoastTimeoutKeepsCycleRunning(t *testing.T) {
	h := newHarness(t, func(z *config.ZoneConfig) {
		z.CycleMinutes = 60
		z.BangCoast.Enabled = true
		z.BangCoast.CoastTimeoutSeconds = 600
	})
	// bang, then cut off just short of the target
	h.d.Machine.Update(t0, 17, 20, 0, 0.5)
	h.d.Machine.Update(t0, 19.9, 20, 1.0, 0.5)
	require.Equal(t, bangcoast.PhaseCoast, h.d.Machine.Phase())

	h.d.HandleIndoor(events.TemperatureUpdate{Temperature: 19.9, Time: h.clk.Now()})
	h.d.HandleOutdoor(events.TemperatureUpdate{Temperature: 0})
	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 20, Mode: "heat"})
	h.d.Tick(h.ctx, h.clk.Now())
	require.Equal(t, []bool{false}, h.sw.Calls())
	require.Equal(t, 1, h.clk.Pending())

	h.clk.Advance(601 * time.Second)
	assert.Equal(t, bangcoast.PhaseMaintain, h.d.Machine.Phase())
	// 0.6*0.1 + 0.01*20 over the 2999s left
	assert.Equal(t, []bool{false, true}, h.sw.Calls())
	ev, ok := h.bus.GetLast(events.TopicCycle("office"))
	require.True(t, ok)
	assert.Equal(t, 780*time.Second, ev.(events.CycleUpdate).OnTime)
	assert.NotEqual(t, StatusRestarted, h.eng.State().LastStatus)

	data, err := bangcoast.Load(h.ctx, h.store, "office")
	require.NoError(t, err)
	assert.Equal(t, 1, data.Cycles)

	// the cycle ends on its own boundary and reaches the learning gate
	h.advanceAndTick(2999 * time.Second)
	assert.Equal(t, learning.ReasonPowerRange, h.eng.State().LastStatus)
}

func TestCurtailmentInterruptsCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.feed()
	h.d.Tick(h.ctx, h.clk.Now())
	h.clk.Advance(10 * time.Minute)
	h.d.Tick(h.ctx, h.clk.Now())
	require.Equal(t, []bool{true, false, true}, h.sw.Calls())

	h.clk.Advance(time.Minute)
	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 20, Mode: "heat", Curtailed: true})
	assert.Equal(t, []bool{true, false, true, false}, h.sw.Calls())
	assert.Zero(t, h.clk.Pending())

	h.advanceAndTick(9 * time.Minute)
	assert.Equal(t, learning.ReasonInterrupted, h.eng.State().LastStatus)
	// still curtailed: the new cycle stays off
	assert.Equal(t, []bool{true, false, true, false}, h.sw.Calls())
	assert.Zero(t, h.eng.State().LastPower)
}

func TestStopCancelsTimers(t *testing.T) {
	h := newHarness(t, nil)
	h.feed()
	h.d.Tick(h.ctx, h.clk.Now())
	require.Equal(t, 1, h.clk.Pending())

	h.d.Stop(h.ctx)
	assert.Zero(t, h.clk.Pending())
	assert.Equal(t, []bool{true, false}, h.sw.Calls())

	h.clk.Advance(time.Hour)
	h.d.Tick(h.ctx, h.clk.Now())
	assert.Equal(t, []bool{true, false}, h.sw.Calls())
	assert.True(t, h.eng.State().LastHeaterStopTime.IsZero())
}

func TestCoolingMirrorsBangCoast(t *testing.T) {
	h := newHarness(t, func(z *config.ZoneConfig) { z.BangCoast.Enabled = true })
	h.d.HandleIndoor(events.TemperatureUpdate{Temperature: 27, Time: h.clk.Now()})
	h.d.HandleOutdoor(events.TemperatureUpdate{Temperature: 33})
	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 24, Mode: "cool"})
	h.d.Tick(h.ctx, h.clk.Now())
	assert.Equal(t, bangcoast.PhaseBang, h.d.Machine.Phase())
}

func TestFahrenheitZone(t *testing.T) {
	h := newHarness(t, func(z *config.ZoneConfig) { z.Unit = "F" })
	h.d.HandleIndoor(events.TemperatureUpdate{Temperature: 67.64, Time: h.clk.Now()})
	h.d.HandleOutdoor(events.TemperatureUpdate{Temperature: 59})
	h.d.HandleThermostat(h.ctx, events.ThermostatUpdate{Setpoint: 68, Mode: "heat"})
	h.d.Tick(h.ctx, h.clk.Now())

	st := h.eng.State()
	assert.InDelta(t, 0.17, st.LastPower, 0.002)
	assert.InDelta(t, 20, st.LastOrder, 1e-9)
	ev, _ := h.bus.GetLast(events.TopicCycle("office"))
	assert.InDelta(t, 3.6, ev.(events.CycleUpdate).Capacity, 1e-9)
}

func TestLearningCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.d.HandleLearning(h.ctx, events.LearningCommand{Action: events.LearningStop})
	assert.False(t, h.eng.State().AutolearnEnabled)
	h.d.HandleLearning(h.ctx, events.LearningCommand{Action: events.LearningStart})
	assert.True(t, h.eng.State().AutolearnEnabled)
	h.d.HandleLearning(h.ctx, events.LearningCommand{Action: events.LearningReset})
	assert.Zero(t, h.eng.State().MaxCapacityHeat)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop")
	}
	assert.Equal(t, []bool{false}, h.sw.Calls())
}

func TestPlan(t *testing.T) {
	period := 10 * time.Minute
	tests := []struct {
		name    string
		duty    float64
		minOn   time.Duration
		minOff  time.Duration
		on, off time.Duration
	}{
		{"off", 0, 0, 0, 0, period},
		{"full", 1, 0, 0, period, 0},
		{"clamped", 1.7, 0, 0, period, 0},
		{"negative", -0.2, 0, 0, 0, period},
		{"half", 0.5, 0, 0, 5 * time.Minute, 5 * time.Minute},
		{"short pulse skipped", 0.05, time.Minute, 0, 0, period},
		{"short rest filled", 0.95, 0, time.Minute, period, 0},
		{"within limits", 0.3, time.Minute, time.Minute, 3 * time.Minute, 7 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			on, off := plan(tt.duty, period, tt.minOn, tt.minOff)
			assert.Equal(t, tt.on, on)
			assert.Equal(t, tt.off, off)
		})
	}
}

func TestSlopeEstimator(t *testing.T) {
	s := NewSlopeEstimator(15 * time.Minute)
	_, ok := s.Slope(t0)
	assert.False(t, ok)

	for i := 0; i <= 10; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		s.Add(at, 20+float64(i)/60) // 1°/h
	}
	slope, ok := s.Slope(t0.Add(10 * time.Minute))
	require.True(t, ok)
	assert.InDelta(t, 1.0, slope, 1e-9)

	// readings older than the window are dropped
	s.Add(t0.Add(30*time.Minute), 19)
	assert.Equal(t, 1, s.Len())
	_, ok = s.Slope(t0.Add(30 * time.Minute))
	assert.False(t, ok)
}
