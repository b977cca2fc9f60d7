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

import "math"

// Gate rejection reasons, in evaluation order.
const (
	ReasonDisabled       = "learning disabled"
	ReasonPowerRange     = "power out of range"
	ReasonInterrupted    = "cycle interrupted"
	ReasonBoilerOff      = "central boiler off"
	ReasonTooManyFailure = "too many failures"
	ReasonFirstCycle     = "first cycle after idle"
	ReasonNoTarget       = "no target"
	ReasonMildWeather    = "mild weather"
)

const (
	maxConsecutiveFailures = 3
	// °C between target and outdoor below which the outdoor term is too small to learn from
	mildWeatherDelta = 1.0
)

// shouldLearn decides whether the cycle that just ended may update coefficients.
// The baseline comes from the state, which OnCycleStarted filled in.
func shouldLearn(s *CoefficientState, obs Observation, interrupted bool, saturation float64) (bool, string) {
	switch {
	case !s.AutolearnEnabled:
		return false, ReasonDisabled
	case !(s.LastPower > 0 && s.LastPower < saturation):
		return false, ReasonPowerRange
	case interrupted:
		return false, ReasonInterrupted
	case obs.BoilerOff:
		return false, ReasonBoilerOff
	case s.ConsecutiveFailures >= maxConsecutiveFailures:
		return false, ReasonTooManyFailure
	case s.PreviousState == ModeStop:
		return false, ReasonFirstCycle
	case s.LastOrder == 0:
		return false, ReasonNoTarget
	case math.Abs(s.LastOrder-obs.TempOut) < mildWeatherDelta:
		return false, ReasonMildWeather
	}
	return true, ""
}
