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

	"gonum.org/v1/gonum/stat"
)

const (
	regimeWindow    = 10
	regimeThreshold = 2.0 // two-sided ~95% for the window size
)

// regimeShift runs a one-sample t-test on the newest errors. A consistent
// bias means the zone changed (season, insulation, new radiator) and the
// estimates should move faster for a while.
func regimeShift(errs []float64) (bool, float64) {
	if len(errs) < regimeWindow {
		return false, 0
	}
	mean, std := stat.PopMeanStdDev(errs[len(errs)-regimeWindow:], nil)
	if std < 1e-12 {
		return false, 0
	}
	t := math.Abs(mean) / (std / math.Sqrt(regimeWindow))
	return t > regimeThreshold, t
}
