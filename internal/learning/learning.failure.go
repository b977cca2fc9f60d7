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

const (
	failureMinGap      = 1.0
	failureMinLearning = 25
)

// physicalFailure is a cycle at full power that still lost ground: the
// heater (or cooler) cannot be doing what the model believes it does.
func physicalFailure(s *CoefficientState, d cycleDelta, saturation float64) bool {
	return d.power >= saturation &&
		d.realRise < 0 &&
		d.gapIn >= failureMinGap &&
		*s.indoorCount(d.mode) >= failureMinLearning
}
