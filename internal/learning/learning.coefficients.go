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
	saturatedPower   = 0.99
	minProgress      = 0.05
	minTargetGap     = 0.01
	maxLossFraction  = 0.95
	deboostRatio     = 1.2
	deboostFactor    = 0.95
	kextMinGap       = 0.05
	kextMaxGap       = 0.5 // beyond this the gap belongs to Kint/capacity
	anomalyMaxPower  = 0.01
	regimeAlphaCap   = 0.15
	regimeAlphaBoost = 3.0
)

type updateResult struct {
	applied bool
	// the cycle was consumed even though no coefficient moved
	handled bool
	err     float64
	status  string
}

// learningRate picks the blend weight of a new sample for a coefficient
// learned count times. The count is bounded so the rate never decays to zero.
func learningRate(cfg config.LearningConfig, count int) float64 {
	n := float64(effectiveCount(count))
	if cfg.Blend == config.BlendWeighted {
		// running weighted average, the history weighs n samples
		return 1 / (n + 1)
	}
	return cfg.BaseAlpha / (1 + cfg.Decay()*n)
}

func regimeBoosted(alpha float64) float64 {
	return math.Max(alpha, math.Min(alpha*regimeAlphaBoost, regimeAlphaCap))
}

func referenceCapacity(s *CoefficientState, cfg config.LearningConfig, m Mode) float64 {
	if c := s.Capacity(m); c > 0 {
		return c
	}
	if m == ModeCool {
		return cfg.ReferenceCapacityCool
	}
	return cfg.ReferenceCapacityHeat
}

// learnIndoor compares the rise the model asked for with the rise obtained
// and moves Kint by the ratio.
func learnIndoor(s *CoefficientState, cfg config.LearningConfig, d cycleDelta) updateResult {
	if !(d.power > 0 && d.power < saturatedPower) {
		return updateResult{status: "indoor: power saturated"}
	}
	if d.realRise <= minProgress || d.targetDiff <= minTargetGap {
		return updateResult{status: "indoor: not enough progress"}
	}

	kext := s.Kext(d.mode)
	effective := referenceCapacity(s, cfg, d.mode) * (1 - math.Min(kext*math.Max(0, d.gapOut), maxLossFraction))
	maxRise := effective * d.hours * cfg.Efficiency
	adjusted := math.Min(d.targetDiff, maxRise)
	if adjusted <= 0 {
		return updateResult{status: "indoor: target unreachable"}
	}

	kint := s.kint(d.mode)
	sample := *kint * (adjusted / d.realRise)
	if !finitePositive(sample) {
		return updateResult{status: "indoor: rejected sample"}
	}
	sample = math.Min(sample, cfg.MaxKint)

	alpha := learningRate(cfg, *s.indoorCount(d.mode))
	if s.RegimeChangeDetected {
		alpha = regimeBoosted(alpha)
	}
	next := *kint + alpha*(sample-*kint)
	next = math.Max(next, MinKint)

	def := defaultCoeffs(cfg, d.mode).Kint
	if d.realRise > adjusted*deboostRatio && next > def {
		next = math.Max(next*deboostFactor, def)
	}
	next = math.Min(next, cfg.MaxKint)
	if !finitePositive(next) {
		return updateResult{status: "indoor: rejected update"}
	}

	*kint = next
	*s.indoorCount(d.mode)++
	s.RegimeChangeDetected = false
	return updateResult{
		applied: true,
		err:     adjusted - d.realRise,
		status:  fmt.Sprintf("indoor: Kint %.4f", next),
	}
}

// learnOutdoor corrects Kext from the residual gap once the zone sits near
// its target. setpointChanged is true when the target moved during the cycle.
func learnOutdoor(s *CoefficientState, cfg config.LearningConfig, d cycleDelta, setpointChanged bool) updateResult {
	if d.gapOut <= 0 {
		return updateResult{status: "outdoor: outdoor temperature does not oppose the mode"}
	}
	gap := math.Abs(d.gapIn)
	if gap <= kextMinGap || gap > kextMaxGap {
		return updateResult{status: "outdoor: gap outside near field"}
	}
	if setpointChanged {
		return updateResult{status: "outdoor: setpoint changed"}
	}
	overshoot := d.gapIn < 0
	if overshoot && d.power < anomalyMaxPower {
		return updateResult{status: "outdoor: overshoot without power"}
	}
	if (d.gapIn > 0 && d.realRise > 0) || (overshoot && d.realRise < 0) {
		return updateResult{handled: true, status: "outdoor: recovering towards target"}
	}

	kext := s.kext(d.mode)
	target := *kext + s.Kint(d.mode)*(d.gapIn/d.gapOut)
	alpha := learningRate(cfg, *s.outdoorCount(d.mode))
	next := *kext + alpha*(target-*kext)
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return updateResult{status: "outdoor: rejected update"}
	}
	*kext = clamp(next, minKext, MaxKext)
	*s.outdoorCount(d.mode)++
	return updateResult{applied: true, status: fmt.Sprintf("outdoor: Kext %.4f", *kext)}
}
