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

// Package cycle drives one zone: it gathers sensor and thermostat events,
// runs the learning engine and the bang-coast machine at every cycle
// boundary and pulses the switch accordingly.
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
	"sync"
	"time"
)

const (
	StatusOverrun   = "cycle overrun"
	StatusRestarted = "cycle restarted"
)

type Deps struct {
	Bus     *eventbus.Bus
	Engine  *learning.Engine
	Machine *bangcoast.Machine
	Store   store.Store
	Clock   clock.Clock
	Switch  Switch
}

type Driver struct {
	cfg config.ZoneConfig
	Deps
	log *logger.Logger

	mu      sync.Mutex
	stopped bool

	// inputs, in the zone's unit
	indoor     float64
	outdoor    float64
	hasIndoor  bool
	hasOutdoor bool
	setpoint   float64
	mode       learning.Mode
	curtailed  bool
	boilerOff  bool
	slope      *SlopeEstimator

	running     bool
	cycleStart  time.Time
	switchOn    bool
	switchKnown bool
	pulseTimer  clock.Timer
	coastTimer  clock.Timer
}

func New(cfg config.ZoneConfig, deps Deps) *Driver {
	if deps.Clock == nil {
		deps.Clock = clock.Real
	}
	if deps.Switch == nil {
		deps.Switch = NewSwitch(cfg.Name, cfg.Actuator)
	}
	return &Driver{
		cfg:      cfg,
		Deps:     deps,
		log:      logger.New("Cycle").With(cfg.Name),
		setpoint: cfg.InitialSetpoint,
		mode:     learning.ModeStop,
		slope:    NewSlopeEstimator(time.Duration(cfg.SlopeWindowMinutes * float64(time.Minute))),
	}
}

func (d *Driver) Run(ctx context.Context) {
	d.log.Info("Running...")
	defer d.log.Info("Stopped")

	indoorEvents, _ := d.Bus.Subscribe(ctx, events.TopicIndoor(d.cfg.Name), true)
	outdoorEvents, _ := d.Bus.Subscribe(ctx, events.TopicOutdoor(d.cfg.Name), true)
	thermostatEvents, _ := d.Bus.Subscribe(ctx, events.TopicThermostat(d.cfg.Name), true)
	// commands are not replayed
	learningEvents, _ := d.Bus.Subscribe(ctx, events.TopicLearning(d.cfg.Name), false)

	ticker := time.NewTicker(time.Duration(d.cfg.TickSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-indoorEvents:
			if !ok {
				d.shutdown()
				return
			}
			d.HandleIndoor(ev.(events.TemperatureUpdate))

		case ev, ok := <-outdoorEvents:
			if !ok {
				d.shutdown()
				return
			}
			d.HandleOutdoor(ev.(events.TemperatureUpdate))

		case ev, ok := <-thermostatEvents:
			if !ok {
				d.shutdown()
				return
			}
			d.HandleThermostat(ctx, ev.(events.ThermostatUpdate))

		case ev, ok := <-learningEvents:
			if !ok {
				d.shutdown()
				return
			}
			d.HandleLearning(ctx, ev.(events.LearningCommand))

		case <-ticker.C:
			d.Tick(ctx, d.Clock.Now())

		case <-ctx.Done():
			d.shutdown()
			return
		}
	}
}

// shutdown switches the output off with a fresh context, the run context is
// already gone.
func (d *Driver) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Stop(ctx)
}

// Stop cancels pending timers and switches the output off. Nothing runs
// after Stop returns.
func (d *Driver) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.running = false
	d.cancelTimers()
	d.setSwitch(ctx, false)
}

func (d *Driver) HandleIndoor(ev events.TemperatureUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := ev.Time
	if at.IsZero() {
		at = d.Clock.Now()
	}
	d.indoor = ev.Temperature
	d.hasIndoor = true
	d.slope.Add(at, ev.Temperature)
}

func (d *Driver) HandleOutdoor(ev events.TemperatureUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outdoor = ev.Temperature
	d.hasOutdoor = true
}

// HandleThermostat applies a new setpoint or mode. A change restarts the
// cycle right away instead of waiting for the boundary.
func (d *Driver) HandleThermostat(ctx context.Context, ev events.ThermostatUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	mode := learning.ParseMode(ev.Mode)
	changed := mode != d.mode || ev.Setpoint != d.setpoint

	if ev.Curtailed && !d.curtailed && d.running {
		d.log.Info("curtailed, switching off until the next cycle")
		d.Engine.MarkInterrupted()
		d.stopPulse(ctx)
	}
	d.curtailed = ev.Curtailed
	d.boilerOff = ev.BoilerOff
	d.mode = mode
	d.setpoint = ev.Setpoint

	if changed && d.running {
		d.log.Info("thermostat changed: mode=%s setpoint=%.1f", mode, ev.Setpoint)
		d.restart(ctx, d.Clock.Now())
	}
}

func (d *Driver) HandleLearning(ctx context.Context, cmd events.LearningCommand) {
	d.log.Info("learning command: %s", cmd.Action)
	switch cmd.Action {
	case events.LearningStart:
		d.Engine.StartLearning(ctx, false)
	case events.LearningStartReset:
		d.Engine.StartLearning(ctx, true)
	case events.LearningStop:
		d.Engine.StopLearning(ctx)
	case events.LearningReset:
		d.Engine.Reset(ctx)
	default:
		d.log.Warn("unknown learning command %q", cmd.Action)
	}
}

// Tick closes the running cycle once its period has elapsed and starts
// the next one. Called every few seconds, so a cycle ends at most one
// tick late.
func (d *Driver) Tick(ctx context.Context, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.running {
		if now.Sub(d.cycleStart) < d.period() {
			return
		}
		d.complete(ctx, now)
	}
	d.start(ctx, now)
}

func (d *Driver) period() time.Duration {
	return d.cfg.CycleDuration()
}

// tolerance is how far a cycle may stray from its period and still count.
func (d *Driver) tolerance() time.Duration {
	return max(d.period()/10, time.Minute)
}

func (d *Driver) restart(ctx context.Context, now time.Time) {
	if d.running {
		d.complete(ctx, now)
	}
	d.start(ctx, now)
}

// complete ends the running cycle and hands it to the engine when it
// lasted as long as configured.
func (d *Driver) complete(ctx context.Context, now time.Time) {
	d.running = false
	d.cancelTimers()

	drift := now.Sub(d.cycleStart) - d.period()
	if drift > d.tolerance() {
		d.log.Warn("cycle took %s too long, not learning from it", drift.Round(time.Second))
		d.Engine.DiscardCycle(ctx, StatusOverrun)
		return
	}
	if drift < -d.tolerance() {
		d.Engine.DiscardCycle(ctx, StatusRestarted)
		return
	}

	out := d.Engine.OnCycleCompleted(ctx, learning.Observation{
		TempIn:      d.cfg.ToCelsius(d.indoor),
		TempOut:     d.cfg.ToCelsius(d.outdoor),
		Target:      d.cfg.ToCelsius(d.setpoint),
		Time:        now,
		Interrupted: d.curtailed,
		BoilerOff:   d.boilerOff,
	})
	d.log.Debug("cycle completed: learned=%v %s", out.Learned, out.Status)
}

func (d *Driver) start(ctx context.Context, now time.Time) {
	if !d.hasIndoor || !d.hasOutdoor {
		d.log.Info("waiting for sensors: indoor=%v outdoor=%v", d.hasIndoor, d.hasOutdoor)
		return
	}
	dec := d.decide(ctx, now)
	period := d.period()
	onTime, offTime := plan(dec.duty, period,
		time.Duration(d.cfg.Actuator.MinOnSeconds)*time.Second,
		time.Duration(d.cfg.Actuator.MinOffSeconds)*time.Second)
	applied := float64(onTime) / float64(period)

	d.Engine.OnCycleStarted(ctx, learning.CycleSnapshot{
		Mode:        d.mode,
		TempIn:      dec.in,
		TempOut:     dec.out,
		Target:      dec.target,
		Power:       applied,
		Started:     now,
		Interrupted: d.curtailed,
	})
	d.running = true
	d.cycleStart = now

	d.setSwitch(ctx, onTime > 0)
	if onTime > 0 && offTime > 0 {
		d.pulseTimer = d.Clock.AfterFunc(onTime, func() { d.endPulse(ctx) })
	}
	d.armCoastTimer(ctx, now, period)

	d.log.Info("cycle: mode=%s in=%.2f out=%.2f set=%.2f slope=%.2f/h base=%.0f%% duty=%.0f%% phase=%s",
		d.mode, d.indoor, d.outdoor, d.setpoint, dec.slope, 100*dec.base, 100*applied, dec.phase)
	d.publish(now, dec.slope, dec.base, applied, dec.phase, onTime, offTime)
}

type decision struct {
	in, out, target float64 // °C
	slope           float64 // zone unit per hour
	base, duty      float64
	phase           bangcoast.Phase
}

// decide runs the engine and the bang-coast machine on the latest readings.
func (d *Driver) decide(ctx context.Context, now time.Time) decision {
	dec := decision{
		in:     d.cfg.ToCelsius(d.indoor),
		out:    d.cfg.ToCelsius(d.outdoor),
		target: d.cfg.ToCelsius(d.setpoint),
		phase:  bangcoast.PhaseMaintain,
	}
	dec.slope, _ = d.slope.Slope(now)
	slopeC := d.cfg.DeltaToCelsius(dec.slope)

	dec.base = d.Engine.CalculatePower(d.mode, dec.in, dec.out, dec.target)
	dec.duty = dec.base
	if d.mode.Active() && !d.curtailed {
		dir := 1.0
		if d.mode == learning.ModeCool {
			dir = -1
		}
		o := d.Machine.Update(now, dir*dec.in, dir*dec.target, dir*slopeC, dec.base)
		dec.duty, dec.phase = o.Duty, o.Phase
		if o.Learned {
			if err := bangcoast.Save(ctx, d.Store, d.cfg.Name, d.Machine.Data()); err != nil {
				d.log.Error("%v", err)
			}
		}
	} else {
		d.Machine.ResetToMaintain()
	}
	if d.curtailed {
		dec.duty = 0
	}
	return dec
}

// armCoastTimer wakes the driver when a coast would time out before the
// window closes.
func (d *Driver) armCoastTimer(ctx context.Context, now time.Time, window time.Duration) {
	deadline, ok := d.Machine.CoastDeadline()
	if !ok {
		return
	}
	if wait := deadline.Sub(now); wait >= 0 && wait < window {
		d.coastTimer = d.Clock.AfterFunc(wait+time.Second, func() { d.coastTimeout(ctx) })
	}
}

func (d *Driver) endPulse(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || !d.running {
		return
	}
	d.pulseTimer = nil
	d.setSwitch(ctx, false)
	d.Engine.MarkHeaterStopped(ctx, d.Clock.Now())
}

// coastTimeout re-evaluates the machine for the rest of the running cycle.
// The cycle itself carries on, so the engine still learns from it at the
// boundary.
func (d *Driver) coastTimeout(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || !d.running {
		return
	}
	d.coastTimer = nil
	now := d.Clock.Now()
	remaining := d.period() - now.Sub(d.cycleStart)
	if remaining <= 0 {
		return
	}
	d.log.Info("coast timed out, re-evaluating for the remaining %s", remaining.Round(time.Second))

	dec := d.decide(ctx, now)
	onTime, offTime := plan(dec.duty, remaining,
		time.Duration(d.cfg.Actuator.MinOnSeconds)*time.Second,
		time.Duration(d.cfg.Actuator.MinOffSeconds)*time.Second)
	if d.pulseTimer != nil {
		d.pulseTimer.Stop()
		d.pulseTimer = nil
	}
	if d.switchOn && onTime == 0 {
		d.Engine.MarkHeaterStopped(ctx, now)
	}
	d.setSwitch(ctx, onTime > 0)
	if onTime > 0 && offTime > 0 {
		d.pulseTimer = d.Clock.AfterFunc(onTime, func() { d.endPulse(ctx) })
	}
	d.armCoastTimer(ctx, now, remaining)
	d.publish(now, dec.slope, dec.base, float64(onTime)/float64(d.period()), dec.phase, onTime, offTime)
}

func (d *Driver) stopPulse(ctx context.Context) {
	if d.pulseTimer != nil {
		d.pulseTimer.Stop()
		d.pulseTimer = nil
	}
	if d.switchOn {
		d.setSwitch(ctx, false)
		d.Engine.MarkHeaterStopped(ctx, d.Clock.Now())
	}
}

func (d *Driver) cancelTimers() {
	for _, t := range []*clock.Timer{&d.pulseTimer, &d.coastTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (d *Driver) setSwitch(ctx context.Context, on bool) {
	if d.switchKnown && d.switchOn == on {
		return
	}
	d.switchOn = on
	d.switchKnown = true
	if err := d.Switch.Set(ctx, on); err != nil {
		d.log.Error("switch error: %v", err)
	}
}

func (d *Driver) publish(now time.Time, slope, base, duty float64, phase bangcoast.Phase, onTime, offTime time.Duration) {
	m := d.mode
	if !m.Active() {
		m = learning.ModeHeat
	}
	st := d.Engine.State()
	d.Bus.Publish(events.TopicCycle(d.cfg.Name), events.CycleUpdate{
		Zone:       d.cfg.Name,
		Time:       now,
		Mode:       string(d.mode),
		Indoor:     d.indoor,
		Outdoor:    d.outdoor,
		Setpoint:   d.setpoint,
		Slope:      slope,
		BaseDuty:   base,
		Duty:       duty,
		Phase:      string(phase),
		OnTime:     onTime,
		OffTime:    offTime,
		Kint:       st.Kint(m),
		Kext:       st.Kext(m),
		Capacity:   d.cfg.DeltaFromCelsius(st.Capacity(m)),
		Bootstrap:  st.InBootstrap(m),
		Autolearn:  st.AutolearnEnabled,
		LastStatus: st.LastStatus,
		Inertia:    d.Machine.Data().LearnedInertiaCoeff,
	})
}
