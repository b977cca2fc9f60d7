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
	"autotpi/internal/config"
	"fmt"
	"math"
)

const (
	aggressiveKint = 1.0
	aggressiveKext = 0.1

	capacityMinPower     = 0.80
	capacityMinRise      = 0.05
	bootstrapMinGap      = 1.0
	learnedMinGap        = 0.3
	maxBootstrapFailures = 5
	fallbackCapacity     = 0.3
	maxAdiabaticCapacity = 20.0
	bootstrapAlpha       = 0.4
	capacityAlpha        = 0.15
)

type Coeffs struct {
	Kint float64
	Kext float64
}

func (c Coeffs) valid() bool {
	return finitePositive(c.Kint) && finitePositive(c.Kext)
}

// Coefficients returns the pair CalculatePower evaluates with. During
// bootstrap a fixed aggressive pair is used so capacity gets measured at
// high duty; the learned values are never touched.
func Coefficients(s *CoefficientState, m Mode, bootstrap bool) Coeffs {
	if bootstrap {
		return Coeffs{Kint: aggressiveKint, Kext: aggressiveKext}
	}
	return Coeffs{Kint: s.Kint(m), Kext: s.Kext(m)}
}

func defaultCoeffs(cfg config.LearningConfig, m Mode) Coeffs {
	if m == ModeCool {
		return Coeffs{Kint: cfg.DefaultKintCool, Kext: cfg.DefaultKextCool}
	}
	return Coeffs{Kint: cfg.DefaultKintHeat, Kext: cfg.DefaultKextHeat}
}

// learnCapacity measures the heater's full-power rise rate. It does not look
// at the gate: a saturated cycle is exactly what it wants.
// Returns whether the state changed and a status.
func learnCapacity(s *CoefficientState, d cycleDelta, efficiency float64) (bool, string) {
	bootstrap := s.InBootstrap(d.mode)
	minGap := learnedMinGap
	if bootstrap {
		minGap = bootstrapMinGap
	}

	eligible := d.power >= capacityMinPower && d.realRise >= capacityMinRise && d.targetDiff >= minGap
	if !eligible {
		if !bootstrap {
			return false, "capacity: not eligible"
		}
		s.BootstrapFailureCount++
		if s.BootstrapFailureCount > maxBootstrapFailures {
			*s.capacity(d.mode) = fallbackCapacity
			s.CapacityLearnCount = max(s.CapacityLearnCount, bootstrapCycles)
			s.BootstrapFailureCount = 0
			return true, "capacity: bootstrap abandoned, using fallback"
		}
		return true, fmt.Sprintf("capacity: not eligible (%d/%d)", s.BootstrapFailureCount, maxBootstrapFailures)
	}

	observed := d.realRise / (d.hours * efficiency)
	adiabatic := observed + s.Kext(d.mode)*d.lossDelta
	if math.IsNaN(adiabatic) || math.IsInf(adiabatic, 0) || adiabatic <= 0 || adiabatic > maxAdiabaticCapacity {
		return false, fmt.Sprintf("capacity: rejected %.3f", adiabatic)
	}

	c := s.capacity(d.mode)
	switch {
	case *c == 0:
		*c = adiabatic
	case s.CapacityLearnCount < bootstrapCycles:
		*c += bootstrapAlpha * (adiabatic - *c)
	default:
		*c += capacityAlpha * (adiabatic - *c)
	}
	s.CapacityLearnCount++
	s.BootstrapFailureCount = 0
	return true, fmt.Sprintf("capacity: %.3f °/h", *c)
}
