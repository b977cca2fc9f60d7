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

// Package calibration estimates a zone's heating capacity offline from
// recorded history: the temperature slope observed while the heater ran at
// (nearly) full power.
package calibration

import (
	"autotpi/internal/learning"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// a power reading older than this says nothing about a slope sample
	maxAlignGap       = 5 * time.Minute
	minOutlierSamples = 4
	iqrFactor         = 1.5
	fullSamples       = 20
	MaxMargin         = 0.3
)

var ErrNoSamples = errors.New("no usable samples")

type Sample struct {
	Time  time.Time
	Value float64
}

type Request struct {
	Slopes []Sample // °/h
	Powers []Sample // percent
	Mode   learning.Mode
	// percent, samples below are ignored
	PowerThreshold float64
	Kext           float64
	DeltaT         float64
}

type Result struct {
	Capacity        float64 `json:"capacity"`
	Reliability     float64 `json:"reliability"`
	SamplesUsed     int     `json:"samples_used"`
	OutliersRemoved int     `json:"outliers_removed"`
}

// Calibrate returns the 75th percentile of the full-power slopes, outliers
// removed, plus the conductive loss Kext*DeltaT.
func Calibrate(req Request) (Result, error) {
	dir := 1.0
	if req.Mode == learning.ModeCool {
		dir = -1
	}
	values := alignedSlopes(req.Slopes, req.Powers, req.PowerThreshold, dir)
	if len(values) == 0 {
		return Result{}, ErrNoSamples
	}
	sort.Float64s(values)

	kept := values
	if len(values) >= minOutlierSamples {
		q1 := percentile(values, 25)
		q3 := percentile(values, 75)
		lo, hi := q1-iqrFactor*(q3-q1), q3+iqrFactor*(q3-q1)
		kept = make([]float64, 0, len(values))
		for _, v := range values {
			if v >= lo && v <= hi {
				kept = append(kept, v)
			}
		}
	}

	res := Result{
		Capacity:        percentile(kept, 75) + req.Kext*math.Max(0, req.DeltaT),
		Reliability:     reliability(kept),
		SamplesUsed:     len(kept),
		OutliersRemoved: len(values) - len(kept),
	}
	return res, nil
}

// alignedSlopes pairs every slope with the newest power reading at or before
// it and keeps the full-power ones going the right way, oriented positive.
func alignedSlopes(slopes, powers []Sample, threshold, dir float64) []float64 {
	powers = sortedCopy(powers)
	var out []float64
	for _, s := range sortedCopy(slopes) {
		i := sort.Search(len(powers), func(i int) bool { return powers[i].Time.After(s.Time) }) - 1
		if i < 0 || s.Time.Sub(powers[i].Time) > maxAlignGap {
			continue
		}
		v := dir * s.Value
		if powers[i].Value >= threshold && v > 0 && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func sortedCopy(in []Sample) []Sample {
	out := make([]Sample, 0, len(in))
	for _, s := range in {
		if !math.IsNaN(s.Value) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// percentile reads p (0-100) off the empirical distribution of sorted values,
// interpolating linearly between samples.
func percentile(sorted []float64, p float64) float64 {
	return stat.Quantile(p/100, stat.LinInterp, sorted, nil)
}

// reliability scores 0-100: half for having enough samples, half for
// their consistency (coefficient of variation).
func reliability(values []float64) float64 {
	n := float64(len(values))
	mean, std := stat.PopMeanStdDev(values, nil)
	cv := 1.0
	if mean > 0 {
		cv = std / mean
	}
	return 50*math.Min(n/fullSamples, 1) + 50*math.Max(0, 1-cv)
}

// ApplyMargin lowers a capacity by a safety margin between 0 and 30%.
func ApplyMargin(capacity, margin float64) (float64, error) {
	if margin < 0 || margin > MaxMargin {
		return 0, fmt.Errorf("margin %.2f outside [0, %.1f]", margin, MaxMargin)
	}
	return capacity * (1 - margin), nil
}
