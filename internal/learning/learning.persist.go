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
	"encoding/json"
	"fmt"
	"math"
)

// stateVersion is bumped whenever the meaning of a persisted field changes.
// 3: capacity_learn_count drives bootstrap.
const stateVersion = 3

type envelope struct {
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

func StateKey(zone string) string {
	return "learning/" + zone
}

func encodeState(s CoefficientState) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: stateVersion, State: raw})
}

// decodeState restores a persisted state on top of the configured defaults,
// so fields missing from older files keep their default value. States
// written by an older version keep their coefficients and capacity but
// restart every counter.
func decodeState(data []byte, cfg config.LearningConfig, autolearn bool) (CoefficientState, error) {
	s := NewState(cfg, autolearn)
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return s, fmt.Errorf("decode state envelope: %w", err)
	}
	if env.Version < 1 || env.Version > stateVersion {
		return s, fmt.Errorf("unsupported state version %d", env.Version)
	}
	if len(env.State) == 0 || string(env.State) == "null" {
		return s, fmt.Errorf("state missing")
	}
	if err := json.Unmarshal(env.State, &s); err != nil {
		return NewState(cfg, autolearn), fmt.Errorf("decode state: %w", err)
	}

	if env.Version < stateVersion {
		fresh := NewState(cfg, s.AutolearnEnabled)
		fresh.KintHeat, fresh.KintCool = s.KintHeat, s.KintCool
		fresh.KextHeat, fresh.KextCool = s.KextHeat, s.KextCool
		fresh.MaxCapacityHeat, fresh.MaxCapacityCool = s.MaxCapacityHeat, s.MaxCapacityCool
		s = fresh
	}
	sanitize(&s, cfg)
	migrateCapacity(&s)
	return s, nil
}

// migrateCapacity treats a capacity learned before the counter existed as
// already bootstrapped.
func migrateCapacity(s *CoefficientState) {
	if (s.MaxCapacityHeat > 0 || s.MaxCapacityCool > 0) && s.CapacityLearnCount == 0 {
		s.CapacityLearnCount = bootstrapCycles
	}
}

// sanitize replaces anything out of range with a usable value. A valid
// state passes through unchanged.
func sanitize(s *CoefficientState, cfg config.LearningConfig) {
	for _, m := range []Mode{ModeHeat, ModeCool} {
		def := defaultCoeffs(cfg, m)
		if k := s.kint(m); !finitePositive(*k) {
			*k = def.Kint
		} else {
			*k = clamp(*k, MinKint, cfg.MaxKint)
		}
		if k := s.kext(m); !finitePositive(*k) {
			*k = def.Kext
		} else {
			*k = math.Min(*k, MaxKext)
		}
		if c := s.capacity(m); math.IsNaN(*c) || math.IsInf(*c, 0) || *c < 0 {
			*c = 0
		}
	}
	for _, n := range []*int{
		&s.IndoorLearnCountHeat, &s.IndoorLearnCountCool,
		&s.OutdoorLearnCountHeat, &s.OutdoorLearnCountCool,
		&s.CapacityLearnCount, &s.ConsecutiveFailures,
		&s.ConsecutiveBoosts, &s.BootstrapFailureCount,
	} {
		*n = max(*n, 0)
	}
	if n := len(s.RecentErrors); n > recentErrorsSize {
		s.RecentErrors = append([]float64(nil), s.RecentErrors[n-recentErrorsSize:]...)
	}
	switch s.LastState {
	case ModeHeat, ModeCool, ModeStop:
	default:
		s.LastState = ModeStop
	}
	switch s.PreviousState {
	case ModeHeat, ModeCool, ModeStop:
	default:
		s.PreviousState = ModeStop
	}
}
