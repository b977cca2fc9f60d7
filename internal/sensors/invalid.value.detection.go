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

package sensors

import (
	"autotpi/pkg/modbus"
	"fmt"
	"time"
)

// readings further apart than this are not compared for jumps
const maxStepInterval = 8 * time.Minute

type reading struct {
	value float64
	time  time.Time
}

// checkValue rejects readings a working probe cannot produce.
func checkValue(def modbus.RegisterDef, v float64, prev *reading, now time.Time) error {
	if def.Max > def.Min {
		if v < def.Min {
			return fmt.Errorf("%.1f below %.1f", v, def.Min)
		}
		if v > def.Max {
			return fmt.Errorf("%.1f above %.1f", v, def.Max)
		}
	}
	if def.MaxStep > 0 && prev != nil {
		dt := now.Sub(prev.time)
		delta := v - prev.value
		if delta < 0 {
			delta = -delta
		}
		if dt < maxStepInterval && delta > def.MaxStep {
			return fmt.Errorf("changed too fast: Δ%.1f in %v", delta, dt.Truncate(time.Second))
		}
	}
	return nil
}

func registerToCelsius(def modbus.RegisterDef, v float64) float64 {
	if def.Unit == "F" {
		return (v - 32) * 5 / 9
	}
	return v
}
