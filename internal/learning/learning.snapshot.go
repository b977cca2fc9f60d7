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
	"math"
	"time"
)

// CycleSnapshot is captured when a cycle starts. Temperatures are °C.
type CycleSnapshot struct {
	Mode    Mode
	TempIn  float64
	TempOut float64
	Target  float64
	Power   float64
	Started time.Time

	// the actuator was curtailed by an external admission-control system
	Interrupted bool
}

// Observation is what is measured when the cycle ends.
type Observation struct {
	TempIn  float64
	TempOut float64
	Target  float64
	Time    time.Time

	Interrupted bool
	BoilerOff   bool
}

// cycleDelta holds one cycle's quantities oriented along the mode:
// positive means "towards more heating" in heat mode and "towards more
// cooling" in cool mode, so every rule below is written once.
type cycleDelta struct {
	mode  Mode
	power float64
	hours float64

	realRise   float64 // progress made during the cycle
	targetDiff float64 // gap to target when the cycle started
	gapIn      float64 // gap to target when the cycle ended, negative on overshoot
	gapOut     float64 // target vs outdoor, the TPI outdoor term
	lossDelta  float64 // indoor vs outdoor at cycle start, never negative
}

func newCycleDelta(snap CycleSnapshot, obs Observation, hours float64) cycleDelta {
	dir := snap.Mode.direction()
	return cycleDelta{
		mode:       snap.Mode,
		power:      snap.Power,
		hours:      hours,
		realRise:   dir * (obs.TempIn - snap.TempIn),
		targetDiff: dir * (snap.Target - snap.TempIn),
		gapIn:      dir * (snap.Target - obs.TempIn),
		gapOut:     dir * (snap.Target - obs.TempOut),
		lossDelta:  math.Max(0, dir*(snap.TempIn-obs.TempOut)),
	}
}
