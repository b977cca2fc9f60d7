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
	overshootMin         = 0.2
	overshootMinPower    = 0.05
	boostedAlphaCap      = 0.3
	insufficientMinGap   = 0.5
	insufficientMaxRise  = 0.02
	boostStep            = 0.08
	maxBoostGapRatio     = 2.0
	maxConsecutiveBoosts = 5
)

func boostedRate(cfg config.LearningConfig, count int) float64 {
	return math.Min(2*learningRate(cfg, count), boostedAlphaCap)
}

// correctOvershoot lowers Kext after the zone overshot while still being
// driven. At target the TPI output is Kext*gapOut, so the power that caused
// the excess is removed from that term.
func correctOvershoot(s *CoefficientState, cfg config.LearningConfig, d cycleDelta) updateResult {
	if !cfg.OvershootCorrection {
		return updateResult{}
	}
	over := -d.gapIn
	if over <= overshootMin || d.power <= overshootMinPower || d.realRise < 0 || d.gapOut <= 0 {
		return updateResult{}
	}
	kext := s.kext(d.mode)
	target := math.Max(minKext, *kext-s.Kint(d.mode)*over/d.gapOut)
	next := *kext + boostedRate(cfg, *s.outdoorCount(d.mode))*(target-*kext)
	if math.IsNaN(next) || next >= *kext {
		return updateResult{}
	}
	*kext = clamp(next, minKext, MaxKext)
	return updateResult{applied: true, status: fmt.Sprintf("overshoot correction: Kext %.4f", *kext)}
}

// correctInsufficientRise raises Kint when a cycle far from target barely
// moved. undersized is set once the boost cap has been hit.
func correctInsufficientRise(s *CoefficientState, cfg config.LearningConfig, d cycleDelta) (res updateResult, undersized bool) {
	if !cfg.InsufficientRiseCorrection {
		return updateResult{}, false
	}
	if d.targetDiff <= insufficientMinGap || d.realRise >= insufficientMaxRise || d.power >= saturatedPower {
		return updateResult{}, false
	}
	if s.ConsecutiveBoosts >= maxConsecutiveBoosts {
		first := !s.UndersizedNotified
		s.UndersizedNotified = true
		return updateResult{status: "insufficient rise: boost limit reached"}, first
	}
	kint := s.kint(d.mode)
	factor := 1 + boostStep*math.Min(d.targetDiff/insufficientMinGap, maxBoostGapRatio)
	target := *kint * factor
	next := *kint + boostedRate(cfg, *s.indoorCount(d.mode))*(target-*kint)
	if !finitePositive(next) {
		return updateResult{}, false
	}
	*kint = clamp(next, MinKint, cfg.MaxKint)
	s.ConsecutiveBoosts++
	return updateResult{
		applied: true,
		status:  fmt.Sprintf("insufficient rise: Kint %.4f (boost %d)", *kint, s.ConsecutiveBoosts),
	}, false
}
