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

package learning

import (
	"autotpi/internal/clock"
	"autotpi/internal/config"
	"autotpi/internal/notify"
	"autotpi/internal/store"
	"autotpi/pkg/logger"
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

type fixture struct {
	e     *Engine
	store *store.Memory
	rec   *notify.Recorder
	ctx   context.Context
}

func newFixture(t *testing.T, mut func(*config.ZoneConfig)) *fixture {
	t.Helper()
	logger.SetOutput(io.Discard)
	cfg := config.DefaultZone("office")
	if mut != nil {
		mut(&cfg)
	}
	f := &fixture{store: store.NewMemory(), rec: &notify.Recorder{}, ctx: context.Background()}
	f.e = New(cfg, Deps{Store: f.store, Notifier: f.rec, Clock: clock.NewFake(t0)})
	return f
}

// learned moves the engine past bootstrap, as if it had been heating for a while.
func (f *fixture) learned() *fixture {
	f.e.state.MaxCapacityHeat = 2.0
	f.e.state.CapacityLearnCount = 5
	f.e.state.LastState = ModeHeat
	return f
}

func (f *fixture) cycle(snap CycleSnapshot, obs Observation) Outcome {
	if snap.Mode == "" {
		snap.Mode = ModeHeat
	}
	if obs.Target == 0 {
		obs.Target = snap.Target
	}
	if obs.TempOut == 0 {
		obs.TempOut = snap.TempOut
	}
	f.e.OnCycleStarted(f.ctx, snap)
	return f.e.OnCycleCompleted(f.ctx, obs)
}

func TestGate(t *testing.T) {
	base := func() CoefficientState {
		s := NewState(config.DefaultZone("x").Learning, true)
		s.LastPower = 0.5
		s.LastOrder = 20
		s.LastState = ModeHeat
		s.PreviousState = ModeHeat
		return s
	}
	tests := []struct {
		name        string
		mut         func(*CoefficientState)
		obs         Observation
		interrupted bool
		want        string
	}{
		{name: "accepted", obs: Observation{TempOut: 5}},
		{name: "disabled wins over power", mut: func(s *CoefficientState) { s.AutolearnEnabled = false; s.LastPower = 0 }, obs: Observation{TempOut: 5}, want: ReasonDisabled},
		{name: "zero power", mut: func(s *CoefficientState) { s.LastPower = 0 }, obs: Observation{TempOut: 5}, want: ReasonPowerRange},
		{name: "saturated power", mut: func(s *CoefficientState) { s.LastPower = 1.0 }, obs: Observation{TempOut: 5}, want: ReasonPowerRange},
		{name: "interrupted", obs: Observation{TempOut: 5}, interrupted: true, want: ReasonInterrupted},
		{name: "boiler off", obs: Observation{TempOut: 5, BoilerOff: true}, want: ReasonBoilerOff},
		{name: "failures", mut: func(s *CoefficientState) { s.ConsecutiveFailures = 3 }, obs: Observation{TempOut: 5}, want: ReasonTooManyFailure},
		{name: "after idle", mut: func(s *CoefficientState) { s.PreviousState = ModeStop }, obs: Observation{TempOut: 5}, want: ReasonFirstCycle},
		{name: "no target", mut: func(s *CoefficientState) { s.LastOrder = 0 }, obs: Observation{TempOut: 5}, want: ReasonNoTarget},
		{name: "mild weather", obs: Observation{TempOut: 19.5}, want: ReasonMildWeather},
		{name: "mild weather boundary", obs: Observation{TempOut: 19.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			if tt.mut != nil {
				tt.mut(&s)
			}
			ok, reason := shouldLearn(&s, tt.obs, tt.interrupted, 1.0)
			assert.Equal(t, tt.want == "", ok)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestBootstrapPowerIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	before, err := encodeState(f.e.state)
	require.NoError(t, err)

	p1 := f.e.CalculatePower(ModeHeat, 19.8, 18, 20)
	p2 := f.e.CalculatePower(ModeHeat, 19.8, 18, 20)
	assert.Equal(t, p1, p2)
	// aggressive pair: 1.0*0.2 + 0.1*2
	assert.InDelta(t, 0.4, p1, 1e-9)

	after, err := encodeState(f.e.state)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, f.e.ApplyCalibratedCapacity(f.ctx, ModeHeat, 1.5))
	// learned defaults: 0.6*0.2 + 0.01*2
	assert.InDelta(t, 0.14, f.e.CalculatePower(ModeHeat, 19.8, 18, 20), 1e-9)
}

func TestCalculatePowerAlwaysValid(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.e.state.KintHeat = math.NaN()
	assert.InDelta(t, 0.14, f.e.CalculatePower(ModeHeat, 19.8, 18, 20), 1e-9)

	assert.Zero(t, f.e.CalculatePower(ModeHeat, math.NaN(), 18, 20))
	assert.Zero(t, f.e.CalculatePower(ModeStop, 10, 0, 20))
	assert.Equal(t, 1.0, f.e.CalculatePower(ModeHeat, 5, -20, 22))
	assert.Zero(t, f.e.CalculatePower(ModeHeat, 25, 20, 20))

	p := f.e.CalculatePower(ModeCool, 26, 30, 24)
	assert.True(t, p > 0 && p <= 1)
}

func TestCapacityBootstrap(t *testing.T) {
	f := newFixture(t, nil)
	snap := CycleSnapshot{TempIn: 18, TempOut: 5, Target: 20, Power: 1.0}

	out := f.cycle(snap, Observation{TempIn: 18.3})
	assert.Equal(t, ReasonPowerRange, out.Status)
	// 0.3 in 10 min is 1.8 °/h, plus Kext 0.01 * 13° of loss
	assert.InDelta(t, 1.93, f.e.state.MaxCapacityHeat, 1e-9)
	assert.Equal(t, 1, f.e.state.CapacityLearnCount)

	f.cycle(snap, Observation{TempIn: 18.2})
	assert.InDelta(t, 1.69, f.e.state.MaxCapacityHeat, 1e-9)
	assert.Equal(t, 2, f.e.state.CapacityLearnCount)

	// 24 °/h is not a real heater
	f.cycle(snap, Observation{TempIn: 22})
	assert.InDelta(t, 1.69, f.e.state.MaxCapacityHeat, 1e-9)
	assert.Equal(t, 2, f.e.state.CapacityLearnCount)
}

func TestCapacityAfterBootstrapUsesSlowAlpha(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.cycle(CycleSnapshot{TempIn: 19.5, TempOut: 5, Target: 20, Power: 0.9}, Observation{TempIn: 19.7})
	// observed 1.2 + 0.145 loss, blended at 0.15 into 2.0
	assert.InDelta(t, 2.0+0.15*(1.345-2.0), f.e.state.MaxCapacityHeat, 1e-9)
	assert.Equal(t, 6, f.e.state.CapacityLearnCount)
}

func TestBootstrapEscape(t *testing.T) {
	f := newFixture(t, nil)
	snap := CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}
	for i := 0; i < 5; i++ {
		f.cycle(snap, Observation{TempIn: 19.1})
	}
	assert.Equal(t, 5, f.e.state.BootstrapFailureCount)
	assert.Zero(t, f.e.state.MaxCapacityHeat)

	f.cycle(snap, Observation{TempIn: 19.1})
	s := f.e.State()
	assert.Equal(t, 0.3, s.MaxCapacityHeat)
	assert.Equal(t, 3, s.CapacityLearnCount)
	assert.Zero(t, s.BootstrapFailureCount)
	assert.False(t, s.InBootstrap(ModeHeat))

	saved := newFixtureFromStore(t, f.store)
	assert.Equal(t, 0.3, saved.e.State().MaxCapacityHeat)
}

func newFixtureFromStore(t *testing.T, st *store.Memory) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	f.store = st
	f.e = New(config.DefaultZone("office"), Deps{Store: st, Notifier: f.rec, Clock: clock.NewFake(t0)})
	require.NoError(t, f.e.Load(f.ctx))
	return f
}

func TestCapacityNeedsAutolearn(t *testing.T) {
	f := newFixture(t, nil)
	f.e.StopLearning(f.ctx)
	f.cycle(CycleSnapshot{TempIn: 18, TempOut: 5, Target: 20, Power: 1.0}, Observation{TempIn: 18.3})
	assert.Zero(t, f.e.state.MaxCapacityHeat)
	assert.Zero(t, f.e.state.BootstrapFailureCount)
}

func TestIndoorLearning(t *testing.T) {
	f := newFixture(t, nil).learned()
	out := f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.1})

	// max rise 2.0*(1-0.15)/6 = 0.2833, sample 0.6*0.2833/0.1 = 1.7
	assert.True(t, out.Learned)
	assert.Contains(t, out.Status, "indoor")
	assert.InDelta(t, 0.765, f.e.state.KintHeat, 1e-9)
	assert.Equal(t, 1, f.e.state.IndoorLearnCountHeat)
	assert.InDelta(t, 0.28333333-0.1, out.Error, 1e-6)
	assert.Len(t, f.e.state.RecentErrors, 1)
	assert.Equal(t, 1, f.rec.Count(notify.KindCoefficientsLearned))
	assert.Equal(t, out.Status, f.e.state.LastStatus)
}

func TestIndoorLearningWeightedBlend(t *testing.T) {
	f := newFixture(t, func(z *config.ZoneConfig) { z.Learning.Blend = config.BlendWeighted }).learned()
	f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.1})
	// nothing learned yet, so the sample is taken as is
	assert.InDelta(t, 1.7, f.e.state.KintHeat, 1e-9)
}

func TestIndoorDeboost(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.e.state.KintHeat = 1.5
	f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.5})
	assert.InDelta(t, 1.4025*0.95, f.e.state.KintHeat, 1e-9)

	// never below the default
	g := newFixture(t, nil).learned()
	g.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.5})
	assert.InDelta(t, 0.561, g.e.state.KintHeat, 1e-9)
}

func TestIndoorLearningCool(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.e.state.MaxCapacityCool = 2.0
	f.e.state.LastState = ModeCool
	out := f.cycle(CycleSnapshot{Mode: ModeCool, TempIn: 26, TempOut: 40, Target: 25, Power: 0.5}, Observation{TempIn: 25.9})
	require.True(t, out.Learned, out.Status)
	assert.InDelta(t, 0.765, f.e.state.KintCool, 1e-9)
	assert.Equal(t, 0.6, f.e.state.KintHeat)
	assert.Equal(t, 1, f.e.state.IndoorLearnCountCool)
}

func TestOutdoorLearning(t *testing.T) {
	snap := CycleSnapshot{TempIn: 19.8, TempOut: 5, Target: 20, Power: 0.3}

	t.Run("undershoot", func(t *testing.T) {
		f := newFixture(t, nil).learned()
		out := f.cycle(snap, Observation{TempIn: 19.7})
		assert.True(t, out.Learned)
		assert.InDelta(t, 0.0118, f.e.state.KextHeat, 1e-9)
		assert.Equal(t, 1, f.e.state.OutdoorLearnCountHeat)
	})
	t.Run("recovering", func(t *testing.T) {
		f := newFixture(t, nil).learned()
		out := f.cycle(snap, Observation{TempIn: 19.84})
		assert.True(t, out.Learned)
		assert.Equal(t, 0.01, f.e.state.KextHeat)
		assert.Zero(t, f.e.state.OutdoorLearnCountHeat)
		assert.Zero(t, f.rec.Count(notify.KindCoefficientsLearned))
	})
	t.Run("far field", func(t *testing.T) {
		f := newFixture(t, nil).learned()
		out := f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.3}, Observation{TempIn: 18.9})
		assert.False(t, out.Learned)
		assert.Equal(t, 0.01, f.e.state.KextHeat)
	})
	t.Run("setpoint changed", func(t *testing.T) {
		f := newFixture(t, nil).learned()
		out := f.cycle(snap, Observation{TempIn: 19.7, Target: 21})
		assert.False(t, out.Learned)
		assert.Equal(t, 0.01, f.e.state.KextHeat)
	})
	t.Run("overshoot without power", func(t *testing.T) {
		f := newFixture(t, nil).learned()
		out := f.cycle(CycleSnapshot{TempIn: 20.2, TempOut: 5, Target: 20, Power: 0.005}, Observation{TempIn: 20.3})
		assert.False(t, out.Learned)
		assert.Equal(t, 0.01, f.e.state.KextHeat)
	})
	t.Run("overshoot with power", func(t *testing.T) {
		f := newFixture(t, nil).learned()
		out := f.cycle(CycleSnapshot{TempIn: 20.2, TempOut: 5, Target: 20, Power: 0.2}, Observation{TempIn: 20.3})
		assert.True(t, out.Learned)
		assert.InDelta(t, 0.0082, f.e.state.KextHeat, 1e-9)
	})
	t.Run("lower bound", func(t *testing.T) {
		f := newFixture(t, nil).learned()
		f.e.state.KintHeat = 3.0
		f.cycle(CycleSnapshot{TempIn: 20.4, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 20.5})
		assert.Equal(t, minKext, f.e.state.KextHeat)
	})
}

func TestOvershootCorrection(t *testing.T) {
	f := newFixture(t, func(z *config.ZoneConfig) { z.Learning.OvershootCorrection = true }).learned()
	out := f.cycle(CycleSnapshot{TempIn: 20.1, TempOut: 5, Target: 20, Power: 0.3}, Observation{TempIn: 20.4})
	assert.True(t, out.Learned)
	assert.Contains(t, out.Status, "overshoot correction")
	assert.InDelta(t, 0.0073, f.e.state.KextHeat, 1e-9)
	assert.Zero(t, f.e.state.OutdoorLearnCountHeat)

	// already falling back
	g := newFixture(t, func(z *config.ZoneConfig) { z.Learning.OvershootCorrection = true }).learned()
	g.cycle(CycleSnapshot{TempIn: 20.6, TempOut: 5, Target: 20, Power: 0.3}, Observation{TempIn: 20.4})
	assert.Equal(t, 0.01, g.e.state.KextHeat)
}

func TestInsufficientRiseBoostCap(t *testing.T) {
	f := newFixture(t, func(z *config.ZoneConfig) { z.Learning.InsufficientRiseCorrection = true }).learned()
	snap := CycleSnapshot{TempIn: 18, TempOut: 5, Target: 20, Power: 0.6}

	f.cycle(snap, Observation{TempIn: 18.01})
	assert.InDelta(t, 0.6288, f.e.state.KintHeat, 1e-9)
	assert.Equal(t, 1, f.e.state.ConsecutiveBoosts)

	for i := 0; i < 4; i++ {
		f.cycle(snap, Observation{TempIn: 18.01})
	}
	assert.Equal(t, 5, f.e.state.ConsecutiveBoosts)
	kint := f.e.state.KintHeat
	assert.Zero(t, f.rec.Count(notify.KindUndersizedHeating))

	f.cycle(snap, Observation{TempIn: 18.01})
	f.cycle(snap, Observation{TempIn: 18.01})
	assert.Equal(t, kint, f.e.state.KintHeat)
	assert.Equal(t, 1, f.rec.Count(notify.KindUndersizedHeating))

	// a standard update re-arms the boosts
	f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.1})
	assert.Zero(t, f.e.state.ConsecutiveBoosts)
	assert.False(t, f.e.state.UndersizedNotified)
}

func TestRegimeShift(t *testing.T) {
	flat := make([]float64, 10)
	for i := range flat {
		flat[i] = 0.5
	}
	shift, _ := regimeShift(flat)
	assert.False(t, shift, "zero spread is not evidence")

	var biased, centred []float64
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			biased = append(biased, 0.10)
			centred = append(centred, 0.1)
		} else {
			biased = append(biased, 0.12)
			centred = append(centred, -0.1)
		}
	}
	shift, tstat := regimeShift(biased)
	assert.True(t, shift)
	assert.Greater(t, tstat, 30.0)

	shift, _ = regimeShift(centred)
	assert.False(t, shift)

	shift, _ = regimeShift(biased[:9])
	assert.False(t, shift)
}

func TestRegimeChangeBoostsNextUpdate(t *testing.T) {
	f := newFixture(t, func(z *config.ZoneConfig) { z.Learning.ContinuousLearning = true }).learned()
	f.e.state.IndoorLearnCountHeat = 10
	f.e.state.RegimeChangeDetected = true
	f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.1})
	// 0.075 tripled and capped at 0.15
	assert.InDelta(t, 0.765, f.e.state.KintHeat, 1e-9)
	assert.False(t, f.e.state.RegimeChangeDetected)

	g := newFixture(t, nil).learned()
	g.e.state.IndoorLearnCountHeat = 10
	g.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.1})
	assert.InDelta(t, 0.6825, g.e.state.KintHeat, 1e-9)
}

func TestRegimeChangeDetectedOnlyWhenContinuous(t *testing.T) {
	run := func(continuous bool) *fixture {
		f := newFixture(t, func(z *config.ZoneConfig) { z.Learning.ContinuousLearning = continuous }).learned()
		for i := 0; i < 12; i++ {
			// errors alternate 0.1833 and 0.1633, always biased the same way
			rise := 0.1 + 0.02*float64(i%2)
			out := f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19 + rise})
			require.True(t, out.Learned, out.Status)
			if i < 9 {
				require.False(t, f.e.state.RegimeChangeDetected, "cycle %d", i)
			}
		}
		return f
	}

	on := run(true)
	assert.True(t, on.e.state.RegimeChangeDetected)
	assert.Len(t, on.e.state.RecentErrors, 12)

	off := run(false)
	assert.False(t, off.e.state.RegimeChangeDetected)
	assert.Len(t, off.e.state.RecentErrors, 12)
}

func TestLearningRateWithoutDecay(t *testing.T) {
	cfg := config.DefaultZone("x").Learning
	assert.Less(t, learningRate(cfg, 10), cfg.BaseAlpha)

	zero := 0.0
	cfg.AlphaDecay = &zero
	assert.Equal(t, cfg.BaseAlpha, learningRate(cfg, 10))
}

func TestRecentErrorsBounded(t *testing.T) {
	var s CoefficientState
	for i := 0; i < 30; i++ {
		s.pushError(float64(i))
	}
	require.Len(t, s.RecentErrors, 20)
	assert.Equal(t, 10.0, s.RecentErrors[0])
	assert.Equal(t, 29.0, s.RecentErrors[19])
}

func failingCycle(f *fixture) {
	f.cycle(CycleSnapshot{TempIn: 19, TempOut: -5, Target: 20.5, Power: 1.0}, Observation{TempIn: 18.9})
}

func TestFailureDetectorStopsLearning(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.e.state.IndoorLearnCountHeat = 25
	failingCycle(f)
	failingCycle(f)
	assert.Equal(t, 2, f.e.state.ConsecutiveFailures)
	assert.True(t, f.e.state.AutolearnEnabled)

	failingCycle(f)
	assert.False(t, f.e.state.AutolearnEnabled)
	assert.Equal(t, 1, f.rec.Count(notify.KindLearningStopped))

	failingCycle(f)
	assert.Equal(t, 1, f.rec.Count(notify.KindLearningStopped))
	assert.Equal(t, ReasonDisabled, f.e.state.LastStatus)

	f.e.StartLearning(f.ctx, false)
	assert.True(t, f.e.state.AutolearnEnabled)
	assert.Zero(t, f.e.state.ConsecutiveFailures)
}

func TestFailureDetectorContinuousMode(t *testing.T) {
	f := newFixture(t, func(z *config.ZoneConfig) { z.Learning.ContinuousLearning = true }).learned()
	f.e.state.IndoorLearnCountHeat = 25
	for i := 0; i < 3; i++ {
		failingCycle(f)
	}
	assert.True(t, f.e.state.AutolearnEnabled)
	assert.Zero(t, f.e.state.ConsecutiveFailures)
	assert.Zero(t, f.rec.Count(notify.KindLearningStopped))
}

func TestFailureDetectorNeedsHistoryAndResets(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.e.state.IndoorLearnCountHeat = 24
	failingCycle(f)
	assert.Zero(t, f.e.state.ConsecutiveFailures)

	f.e.state.IndoorLearnCountHeat = 25
	failingCycle(f)
	failingCycle(f)
	f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.1})
	assert.Zero(t, f.e.state.ConsecutiveFailures)
}

func TestInterruptedCycleDoesNotLearn(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.e.OnCycleStarted(f.ctx, CycleSnapshot{Mode: ModeHeat, TempIn: 19, TempOut: 5, Target: 20, Power: 1.0})
	f.e.MarkInterrupted()
	out := f.e.OnCycleCompleted(f.ctx, Observation{TempIn: 19.5, TempOut: 5, Target: 20})
	assert.False(t, out.Learned)
	assert.Equal(t, 2.0, f.e.state.MaxCapacityHeat)
	assert.Equal(t, 5, f.e.state.CapacityLearnCount)

	// the flag covers that cycle only
	out = f.cycle(CycleSnapshot{TempIn: 19, TempOut: 5, Target: 20, Power: 0.5}, Observation{TempIn: 19.1})
	assert.True(t, out.Learned)
}

func TestCompletedWithoutStart(t *testing.T) {
	f := newFixture(t, nil)
	out := f.e.OnCycleCompleted(f.ctx, Observation{TempIn: 20})
	assert.False(t, out.Learned)
	assert.Zero(t, f.store.Puts())
}

func TestCountersAreMonotonic(t *testing.T) {
	f := newFixture(t, func(z *config.ZoneConfig) {
		z.Learning.OvershootCorrection = true
		z.Learning.InsufficientRiseCorrection = true
		z.Learning.ContinuousLearning = true
	})
	counts := func(s CoefficientState) []int {
		return []int{s.IndoorLearnCountHeat, s.IndoorLearnCountCool, s.OutdoorLearnCountHeat, s.OutdoorLearnCountCool, s.CapacityLearnCount}
	}
	prev := counts(f.e.State())
	for i := 0; i < 200; i++ {
		x := float64(i)
		in := 17 + math.Mod(x*0.37, 5)
		snap := CycleSnapshot{
			TempIn:  in,
			TempOut: math.Mod(x*1.3, 15) - 5,
			Target:  20,
			Power:   math.Mod(x*0.13, 1.1),
		}
		if i%7 == 0 {
			snap.Mode = ModeCool
			snap.Target = 18
		}
		f.cycle(snap, Observation{TempIn: in + math.Sin(x)*0.6})

		s := f.e.State()
		cur := counts(s)
		for j := range cur {
			require.GreaterOrEqual(t, cur[j], prev[j], "counter %d at cycle %d", j, i)
		}
		prev = cur
		for _, m := range []Mode{ModeHeat, ModeCool} {
			require.True(t, finitePositive(s.Kint(m)))
			require.GreaterOrEqual(t, s.Kint(m), MinKint)
			require.LessOrEqual(t, s.Kint(m), 3.0)
			require.True(t, finitePositive(s.Kext(m)))
			require.LessOrEqual(t, s.Kext(m), MaxKext)
		}
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, nil).learned()
	f.e.state.KintHeat = 1.2
	f.e.state.IndoorLearnCountHeat = 40
	f.e.Reset(f.ctx)
	s := f.e.State()
	assert.Equal(t, 0.6, s.KintHeat)
	assert.Zero(t, s.IndoorLearnCountHeat)
	assert.Zero(t, s.MaxCapacityHeat)
	assert.True(t, s.AutolearnEnabled)
}

func TestApplyCalibratedCapacity(t *testing.T) {
	f := newFixture(t, nil)
	assert.Error(t, f.e.ApplyCalibratedCapacity(f.ctx, ModeStop, 1))
	assert.Error(t, f.e.ApplyCalibratedCapacity(f.ctx, ModeHeat, 0))
	assert.Error(t, f.e.ApplyCalibratedCapacity(f.ctx, ModeHeat, 25))
	assert.Error(t, f.e.ApplyCalibratedCapacity(f.ctx, ModeHeat, math.Inf(1)))

	require.NoError(t, f.e.ApplyCalibratedCapacity(f.ctx, ModeCool, 1.1))
	s := f.e.State()
	assert.Equal(t, 1.1, s.MaxCapacityCool)
	assert.Equal(t, 3, s.CapacityLearnCount)
	assert.False(t, s.InBootstrap(ModeCool))
	assert.True(t, s.InBootstrap(ModeHeat))
}
