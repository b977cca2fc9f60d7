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

// Package learning is the self-tuning core: it turns indoor, outdoor and
// target temperatures into a duty fraction and learns the zone's thermal
// coefficients and heating capacity from each completed cycle.
//
// All temperatures are °C. One Engine serves one zone and is driven by a
// single cycle loop.
package learning

import (
	"autotpi/internal/clock"
	"autotpi/internal/config"
	"autotpi/internal/notify"
	"autotpi/internal/store"
	"autotpi/pkg/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

type Deps struct {
	Store    store.Store
	Notifier notify.Sink
	Clock    clock.Clock
}

// Outcome reports what a completed cycle did to the model.
type Outcome struct {
	Learned  bool
	Status   string
	Error    float64
	Capacity string
}

type Engine struct {
	zone string
	cfg  config.ZoneConfig
	deps Deps
	log  *logger.Logger

	mu      sync.Mutex
	state   CoefficientState
	pending *CycleSnapshot

	saveMu sync.Mutex
}

func New(cfg config.ZoneConfig, deps Deps) *Engine {
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real
	}
	return &Engine{
		zone:  cfg.Name,
		cfg:   cfg,
		deps:  deps,
		log:   logger.New("Learning").With(cfg.Name),
		state: NewState(cfg.Learning, cfg.Autolearn()),
	}
}

// Load restores the persisted state. Missing or unreadable state leaves the
// engine on its defaults; only a store failure is returned.
func (e *Engine) Load(ctx context.Context) error {
	data, err := e.deps.Store.Get(ctx, StateKey(e.zone))
	e.mu.Lock()
	defer e.mu.Unlock()
	if errors.Is(err, store.ErrNotFound) {
		e.log.Info("no saved state, starting from defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state %s: %w", e.zone, err)
	}
	s, err := decodeState(data, e.cfg.Learning, e.cfg.Autolearn())
	if err != nil {
		e.log.Warn("discarding saved state: %v", err)
	}
	if !e.cfg.Autolearn() {
		s.AutolearnEnabled = false
	}
	e.state = s
	e.log.Info("loaded Kint=%.4f/%.4f Kext=%.4f/%.4f capacity=%.3f/%.3f (heat/cool)",
		s.KintHeat, s.KintCool, s.KextHeat, s.KextCool, s.MaxCapacityHeat, s.MaxCapacityCool)
	return nil
}

func (e *Engine) Zone() string { return e.zone }

// State returns a copy of the current state.
func (e *Engine) State() CoefficientState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// CalculatePower evaluates the TPI model. The result is always in [0,1],
// whatever the inputs or the stored coefficients.
func (e *Engine) CalculatePower(mode Mode, tempIn, tempOut, target float64) float64 {
	dir := mode.direction()
	if dir == 0 {
		return 0
	}
	for _, v := range []float64{tempIn, tempOut, target} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
	}

	e.mu.Lock()
	c := Coefficients(&e.state, mode, e.state.InBootstrap(mode))
	e.mu.Unlock()
	if !c.valid() {
		c = defaultCoeffs(e.cfg.Learning, mode)
	}

	p := c.Kint*dir*(target-tempIn) + c.Kext*dir*(target-tempOut)
	if math.IsNaN(p) {
		return 0
	}
	return clamp(p, 0, 1)
}

// OnCycleStarted records the baseline the next OnCycleCompleted learns against.
func (e *Engine) OnCycleStarted(ctx context.Context, snap CycleSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = &snap
	s := &e.state
	s.LastPower = snap.Power
	s.LastOrder = snap.Target
	s.LastTempIn = snap.TempIn
	s.LastTempOut = snap.TempOut
	s.PreviousState = s.LastState
	s.LastState = snap.Mode
	e.save(ctx)
}

// MarkInterrupted flags the cycle in progress as curtailed.
func (e *Engine) MarkInterrupted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.pending.Interrupted = true
	}
}

func (e *Engine) MarkHeaterStopped(ctx context.Context, t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LastHeaterStopTime = t.UTC()
	e.save(ctx)
}

// DiscardCycle drops the cycle in progress without learning from it.
func (e *Engine) DiscardCycle(ctx context.Context, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.state.LastStatus = reason
	e.save(ctx)
}

// OnCycleCompleted runs the learning pipeline for the cycle started by the
// last OnCycleStarted: capacity, failure detection, the gate, corrections,
// then the standard indoor/outdoor update.
func (e *Engine) OnCycleCompleted(ctx context.Context, obs Observation) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.pending
	e.pending = nil
	if snap == nil {
		return Outcome{Status: "no cycle in progress"}
	}
	s := &e.state
	lc := e.cfg.Learning
	if !snap.Mode.Active() {
		s.ConsecutiveFailures = 0
		return e.finish(ctx, Outcome{Status: "idle"})
	}

	d := newCycleDelta(*snap, obs, e.cfg.CycleMinutes/60)
	interrupted := snap.Interrupted || obs.Interrupted

	var out Outcome
	if s.AutolearnEnabled && !interrupted && !obs.BoilerOff {
		_, out.Capacity = learnCapacity(s, d, lc.Efficiency)
	}

	e.checkFailure(ctx, d)

	if ok, reason := shouldLearn(s, obs, interrupted, lc.SaturationThreshold); !ok {
		out.Status = reason
		return e.finish(ctx, out)
	}

	res := correctOvershoot(s, lc, d)
	if !res.applied {
		var undersized bool
		res, undersized = correctInsufficientRise(s, lc, d)
		if undersized {
			e.notify(ctx, notify.KindUndersizedHeating, d.mode, "Possible undersized heating",
				fmt.Sprintf("%s barely moves towards its target after %d boosted cycles; the heat source may be too small for this zone",
					e.zone, maxConsecutiveBoosts))
		}
	}
	if res.applied {
		out.Learned = true
		out.Status = res.status
		return e.finish(ctx, out)
	}

	res = learnIndoor(s, lc, d)
	if res.applied {
		out.Error = res.err
		s.pushError(res.err)
		if lc.ContinuousLearning {
			if shift, t := regimeShift(s.RecentErrors); shift {
				s.RegimeChangeDetected = true
				e.log.Info("regime change detected (t=%.2f), learning faster", t)
			}
		}
	} else {
		indoorStatus := res.status
		res = learnOutdoor(s, lc, d, obs.Target != snap.Target)
		res.status = indoorStatus + "; " + res.status
	}
	out.Learned = res.applied || res.handled
	out.Status = res.status
	if res.applied {
		s.ConsecutiveBoosts = 0
		s.UndersizedNotified = false
		e.notify(ctx, notify.KindCoefficientsLearned, d.mode, "Coefficients learned",
			fmt.Sprintf("%s %s: Kint=%.4f Kext=%.4f", e.zone, d.mode, s.Kint(d.mode), s.Kext(d.mode)))
	}
	return e.finish(ctx, out)
}

func (e *Engine) finish(ctx context.Context, out Outcome) Outcome {
	e.state.LastStatus = out.Status
	e.log.Debug("cycle done: %s %s", out.Status, out.Capacity)
	e.save(ctx)
	return out
}

func (e *Engine) checkFailure(ctx context.Context, d cycleDelta) {
	s := &e.state
	if !s.AutolearnEnabled {
		return
	}
	if !physicalFailure(s, d, e.cfg.Learning.SaturationThreshold) {
		s.ConsecutiveFailures = 0
		return
	}
	s.ConsecutiveFailures++
	e.log.Warn("full power but temperature moved the wrong way (%d/%d)", s.ConsecutiveFailures, maxConsecutiveFailures)
	if s.ConsecutiveFailures < maxConsecutiveFailures {
		return
	}
	if e.cfg.Learning.ContinuousLearning {
		s.ConsecutiveFailures = 0
		return
	}
	s.AutolearnEnabled = false
	e.log.Error("learning stopped after %d failed cycles", maxConsecutiveFailures)
	e.notify(ctx, notify.KindLearningStopped, d.mode, "Learning stopped",
		fmt.Sprintf("%s: %d consecutive cycles at full power lost more than %.1f° against the target; check the heat source",
			e.zone, maxConsecutiveFailures, failureMinGap))
}

// Reset returns to the configured defaults and clears every counter.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
	e.save(ctx)
}

func (e *Engine) reset() {
	e.state = NewState(e.cfg.Learning, e.cfg.Autolearn())
	e.pending = nil
	e.log.Info("learning state reset")
}

func (e *Engine) StartLearning(ctx context.Context, reset bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reset {
		e.reset()
	}
	e.state.AutolearnEnabled = true
	e.state.ConsecutiveFailures = 0
	e.save(ctx)
}

func (e *Engine) StopLearning(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.AutolearnEnabled = false
	e.save(ctx)
}

// ApplyCalibratedCapacity installs a capacity (°C/h) computed offline and
// ends bootstrap for the mode.
func (e *Engine) ApplyCalibratedCapacity(ctx context.Context, mode Mode, capacity float64) error {
	if !mode.Active() {
		return fmt.Errorf("capacity needs heat or cool mode, got %q", mode)
	}
	if !finitePositive(capacity) || capacity > maxAdiabaticCapacity {
		return fmt.Errorf("capacity %.3f out of range (0, %.0f]", capacity, maxAdiabaticCapacity)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	*e.state.capacity(mode) = capacity
	e.state.CapacityLearnCount = max(e.state.CapacityLearnCount, bootstrapCycles)
	e.state.BootstrapFailureCount = 0
	e.save(ctx)
	return nil
}

func (e *Engine) notify(ctx context.Context, kind notify.Kind, m Mode, title, msg string) {
	if e.deps.Notifier == nil {
		return
	}
	n := notify.Notification{
		ID:      notify.StableID(e.zone, kind),
		Zone:    e.zone,
		Kind:    kind,
		Title:   title,
		Message: msg,
		Kint:    e.state.Kint(m),
		Kext:    e.state.Kext(m),
		Time:    e.deps.Clock.Now(),
	}
	if err := e.deps.Notifier.Notify(ctx, n); err != nil {
		e.log.Warn("notification %s: %v", n.ID, err)
	}
}

// save writes the state; a failure is logged and the next mutation retries.
// Callers hold e.mu.
func (e *Engine) save(ctx context.Context) {
	data, err := encodeState(e.state)
	if err != nil {
		e.log.Error("encode state: %v", err)
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if err := e.deps.Store.Put(ctx, StateKey(e.zone), data); err != nil {
		e.log.Error("save state: %v", err)
	}
}
