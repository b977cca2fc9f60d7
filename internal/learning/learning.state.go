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
	"math"
	"strings"
	"time"
)

type Mode string

const (
	ModeStop Mode = "stop"
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
)

func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "heat", "heating":
		return ModeHeat
	case "cool", "cooling":
		return ModeCool
	default:
		return ModeStop
	}
}

func (m Mode) Active() bool {
	return m == ModeHeat || m == ModeCool
}

// direction maps the mode onto the sign of a useful temperature change.
func (m Mode) direction() float64 {
	switch m {
	case ModeHeat:
		return 1
	case ModeCool:
		return -1
	default:
		return 0
	}
}

const (
	MinKint = 0.05
	MaxKext = 1.2
	minKext = 0.001

	effectiveCountCap = 50
	recentErrorsSize  = 20
	bootstrapCycles   = 3
)

// CoefficientState is everything the engine learns and persists for one zone.
type CoefficientState struct {
	KintHeat float64 `json:"coeff_indoor_heat"`
	KintCool float64 `json:"coeff_indoor_cool"`
	KextHeat float64 `json:"coeff_outdoor_heat"`
	KextCool float64 `json:"coeff_outdoor_cool"`

	IndoorLearnCountHeat  int `json:"indoor_learn_count_heat"`
	IndoorLearnCountCool  int `json:"indoor_learn_count_cool"`
	OutdoorLearnCountHeat int `json:"outdoor_learn_count_heat"`
	OutdoorLearnCountCool int `json:"outdoor_learn_count_cool"`

	// °C per hour at full power
	MaxCapacityHeat    float64 `json:"max_capacity_heat"`
	MaxCapacityCool    float64 `json:"max_capacity_cool"`
	CapacityLearnCount int     `json:"capacity_learn_count"`

	// snapshot of the cycle in progress, the learning baseline
	LastPower          float64   `json:"last_power"`
	LastOrder          float64   `json:"last_order"`
	LastTempIn         float64   `json:"last_temp_in"`
	LastTempOut        float64   `json:"last_temp_out"`
	LastState          Mode      `json:"last_state"`
	PreviousState      Mode      `json:"previous_state"`
	LastHeaterStopTime time.Time `json:"last_heater_stop_time"`

	ConsecutiveFailures   int       `json:"consecutive_failures"`
	AutolearnEnabled      bool      `json:"autolearn_enabled"`
	ConsecutiveBoosts     int       `json:"consecutive_boosts"`
	BootstrapFailureCount int       `json:"bootstrap_failure_count"`
	RecentErrors          []float64 `json:"recent_errors"`
	RegimeChangeDetected  bool      `json:"regime_change_detected"`
	UndersizedNotified    bool      `json:"undersized_notified"`
	LastStatus            string    `json:"last_learning_status"`
}

// NewState returns the state of a zone that has learned nothing yet.
func NewState(cfg config.LearningConfig, autolearn bool) CoefficientState {
	return CoefficientState{
		KintHeat:         cfg.DefaultKintHeat,
		KintCool:         cfg.DefaultKintCool,
		KextHeat:         cfg.DefaultKextHeat,
		KextCool:         cfg.DefaultKextCool,
		LastState:        ModeStop,
		PreviousState:    ModeStop,
		AutolearnEnabled: autolearn,
	}
}

func (s CoefficientState) Clone() CoefficientState {
	c := s
	if s.RecentErrors != nil {
		c.RecentErrors = append([]float64(nil), s.RecentErrors...)
	}
	return c
}

func (s *CoefficientState) kint(m Mode) *float64 {
	if m == ModeCool {
		return &s.KintCool
	}
	return &s.KintHeat
}

func (s *CoefficientState) kext(m Mode) *float64 {
	if m == ModeCool {
		return &s.KextCool
	}
	return &s.KextHeat
}

func (s *CoefficientState) indoorCount(m Mode) *int {
	if m == ModeCool {
		return &s.IndoorLearnCountCool
	}
	return &s.IndoorLearnCountHeat
}

func (s *CoefficientState) outdoorCount(m Mode) *int {
	if m == ModeCool {
		return &s.OutdoorLearnCountCool
	}
	return &s.OutdoorLearnCountHeat
}

func (s *CoefficientState) capacity(m Mode) *float64 {
	if m == ModeCool {
		return &s.MaxCapacityCool
	}
	return &s.MaxCapacityHeat
}

func (s *CoefficientState) Kint(m Mode) float64     { return *s.kint(m) }
func (s *CoefficientState) Kext(m Mode) float64     { return *s.kext(m) }
func (s *CoefficientState) Capacity(m Mode) float64 { return *s.capacity(m) }

// InBootstrap reports whether capacity is still unknown for the mode.
func (s *CoefficientState) InBootstrap(m Mode) bool {
	return s.Capacity(m) == 0 || s.CapacityLearnCount < bootstrapCycles
}

// pushError records a signed learning error, keeping the newest 20.
func (s *CoefficientState) pushError(e float64) {
	s.RecentErrors = append(s.RecentErrors, e)
	if n := len(s.RecentErrors); n > recentErrorsSize {
		s.RecentErrors = append([]float64(nil), s.RecentErrors[n-recentErrorsSize:]...)
	}
}

// effectiveCount bounds a learn counter so the learning rate never decays to nothing.
func effectiveCount(n int) int {
	return min(n, effectiveCountCap)
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
