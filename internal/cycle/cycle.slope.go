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

package cycle

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

type slopeSample struct {
	t time.Time
	v float64
}

// SlopeEstimator fits a least-squares line through the readings of a
// sliding window and reports its slope per hour.
type SlopeEstimator struct {
	window  time.Duration
	samples []slopeSample
}

func NewSlopeEstimator(window time.Duration) *SlopeEstimator {
	return &SlopeEstimator{window: window}
}

func (s *SlopeEstimator) Add(t time.Time, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if n := len(s.samples); n > 0 && !t.After(s.samples[n-1].t) {
		// same instant or out of order: keep the newest value only
		if t.Equal(s.samples[n-1].t) {
			s.samples[n-1].v = v
		}
		return
	}
	s.samples = append(s.samples, slopeSample{t: t, v: v})
	s.prune(t)
}

func (s *SlopeEstimator) prune(now time.Time) {
	cut := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].t.Before(cut) {
		i++
	}
	if i > 0 {
		s.samples = append(s.samples[:0], s.samples[i:]...)
	}
}

// Slope returns the trend of the window ending at now. It needs two readings.
func (s *SlopeEstimator) Slope(now time.Time) (float64, bool) {
	s.prune(now)
	if len(s.samples) < 2 {
		return 0, false
	}
	t0 := s.samples[0].t
	xs := make([]float64, len(s.samples))
	ys := make([]float64, len(s.samples))
	for i, p := range s.samples {
		xs[i] = p.t.Sub(t0).Hours()
		ys[i] = p.v
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0, false
	}
	return beta, true
}

func (s *SlopeEstimator) Len() int { return len(s.samples) }
