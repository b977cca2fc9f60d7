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

// Package bangcoast anticipates thermal inertia: far from target it runs the
// heater flat out (BANG), cuts it early once the predicted coast reaches the
// target (COAST), then hands back to the proportional output (MAINTAIN)
// while learning how far the zone keeps rising after a cut.
//
// The machine thinks in heating terms. Callers in cooling mode negate
// temperatures and slope.
package bangcoast

import (
	"autotpi/internal/config"
	"autotpi/pkg/logger"
	"math"
	"time"
)

type Phase string

const (
	PhaseMaintain Phase = "maintain"
	PhaseBang     Phase = "bang"
	PhaseCoast    Phase = "coast"
)

const (
	minInertia = 0.01
	maxInertia = 2.0
)

// LearningData is persisted per zone.
type LearningData struct {
	// hours of slope the zone keeps gaining after the heater stops
	LearnedInertiaCoeff float64 `json:"learned_inertia_coeff"`
	Cycles              int     `json:"cycles"`
	AvgCoastRise        float64 `json:"avg_coast_rise"`
	// seconds
	AvgBangDuration float64 `json:"avg_bang_duration"`
}

type Output struct {
	Duty  float64
	Phase Phase
	// a coast finished and LearningData changed
	Learned bool
}

type Machine struct {
	cfg  config.BangCoastConfig
	log  *logger.Logger
	data LearningData

	phase          Phase
	bangStart      time.Time
	coastStart     time.Time
	coastStartTemp float64
	peakTemp       float64
	slopeAtCutoff  float64
}

func New(zone string, cfg config.BangCoastConfig, data LearningData) *Machine {
	if !(data.LearnedInertiaCoeff >= minInertia && data.LearnedInertiaCoeff <= maxInertia) {
		data.LearnedInertiaCoeff = clamp(cfg.InitialInertiaHours, minInertia, maxInertia)
	}
	return &Machine{
		cfg:   cfg,
		log:   logger.New("BangCoast").With(zone),
		data:  data,
		phase: PhaseMaintain,
	}
}

func (m *Machine) Phase() Phase       { return m.phase }
func (m *Machine) Data() LearningData { return m.data }

// CoastDeadline is when the running coast times out.
func (m *Machine) CoastDeadline() (time.Time, bool) {
	if m.phase != PhaseCoast {
		return time.Time{}, false
	}
	return m.coastStart.Add(m.timeout()), true
}

func (m *Machine) timeout() time.Duration {
	return time.Duration(m.cfg.CoastTimeoutSeconds) * time.Second
}

// ResetToMaintain forgets the running phase. Call it whenever the actuator
// is switched fully off.
func (m *Machine) ResetToMaintain() {
	m.phase = PhaseMaintain
	m.bangStart = time.Time{}
	m.coastStart = time.Time{}
	m.coastStartTemp = 0
	m.peakTemp = 0
	m.slopeAtCutoff = 0
}

// Update advances the machine by at most one transition and returns the duty
// to apply. slope is in °/h, baseDuty is the TPI output.
func (m *Machine) Update(now time.Time, current, target, slope, baseDuty float64) Output {
	baseDuty = clamp(baseDuty, 0, 1)
	if !m.cfg.Enabled {
		return Output{Duty: baseDuty, Phase: PhaseMaintain}
	}
	gap := target - current
	learned := false

	switch m.phase {
	case PhaseMaintain:
		if gap > m.cfg.ActivationThreshold {
			m.enterBang(now)
		}
	case PhaseBang:
		if slope > 0 && current+m.data.LearnedInertiaCoeff*slope >= target {
			m.phase = PhaseCoast
			m.coastStart = now
			m.coastStartTemp = current
			m.peakTemp = current
			m.slopeAtCutoff = slope
			m.log.Debug("coast at %.2f, slope %.2f °/h", current, slope)
		}
	case PhaseCoast:
		m.peakTemp = math.Max(m.peakTemp, current)
		switch {
		case gap > m.cfg.ActivationThreshold:
			m.log.Info("fell %.2f° below target while coasting, back to bang", gap)
			m.enterBang(now)
		case slope < 0 || now.Sub(m.coastStart) > m.timeout():
			m.learn()
			learned = true
			m.phase = PhaseMaintain
		}
	}

	out := Output{Phase: m.phase, Learned: learned}
	switch m.phase {
	case PhaseBang:
		out.Duty = 1
	case PhaseCoast:
		out.Duty = 0
	default:
		out.Duty = baseDuty
		if slope > 0 {
			out.Duty = clamp(baseDuty-m.cfg.DerivativeGain*slope, 0, 1)
		}
	}
	return out
}

func (m *Machine) enterBang(now time.Time) {
	m.phase = PhaseBang
	m.bangStart = now
}

func (m *Machine) learn() {
	rise := m.peakTemp - m.coastStartTemp
	if m.slopeAtCutoff >= m.cfg.MinSlope {
		observed := rise / m.slopeAtCutoff
		if !math.IsNaN(observed) && !math.IsInf(observed, 0) {
			prev := m.data.LearnedInertiaCoeff
			next := prev + m.cfg.Alpha*(observed-prev)
			m.data.LearnedInertiaCoeff = clamp(next, minInertia, maxInertia)
			m.log.Info("inertia %.3fh -> %.3fh (coast rise %.2f°)", prev, m.data.LearnedInertiaCoeff, rise)
		}
	}

	m.data.Cycles++
	n := float64(m.data.Cycles)
	m.data.AvgCoastRise += (rise - m.data.AvgCoastRise) / n
	bang := m.coastStart.Sub(m.bangStart).Seconds()
	if m.bangStart.IsZero() {
		bang = 0
	}
	m.data.AvgBangDuration += (bang - m.data.AvgBangDuration) / n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
