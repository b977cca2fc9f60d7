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

package calibration

import (
	"autotpi/internal/config"
	"autotpi/internal/learning"
	"autotpi/pkg/logger"
	"context"
	"fmt"
	"regexp"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// HistorySource returns one entity's recorded values over a range.
type HistorySource interface {
	Series(ctx context.Context, entity string, start, end time.Time) ([]Sample, error)
}

// entity names end up inside a Flux string literal
var validEntity = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// InfluxSource reads Home Assistant style history: one point per change,
// tagged entity_id, field "value".
type InfluxSource struct {
	client influxdb2.Client
	query  api.QueryAPI
	bucket string
}

func NewInfluxSource(cfg config.InfluxConfig) *InfluxSource {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSource{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}
}

func (s *InfluxSource) Series(ctx context.Context, entity string, start, end time.Time) ([]Sample, error) {
	if !validEntity.MatchString(entity) {
		return nil, fmt.Errorf("invalid entity name %q", entity)
	}
	flux := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r.entity_id == "%s" and r._field == "value")
		  |> keep(columns: ["_time", "_value"])
		  |> sort(columns: ["_time"], desc: false)
	`, s.bucket, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), entity)

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer result.Close()

	var out []Sample
	for result.Next() {
		rec := result.Record()
		if v, ok := toFloat(rec.Value()); ok {
			out = append(out, Sample{Time: rec.Time(), Value: v})
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return out, nil
}

func (s *InfluxSource) Close() {
	s.client.Close()
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}

type Job struct {
	Zone   config.ZoneConfig
	Mode   learning.Mode
	Start  time.Time
	End    time.Time
	Kext   float64
	DeltaT float64 // °C
}

// Service fetches a zone's history and calibrates it.
type Service struct {
	src HistorySource
	cfg config.CalibrationConfig
	log *logger.Logger
}

func NewService(src HistorySource, cfg config.CalibrationConfig) *Service {
	return &Service{src: src, cfg: cfg, log: logger.New("Calibration")}
}

// Run returns the capacity in °C/h.
func (s *Service) Run(ctx context.Context, job Job) (Result, error) {
	if !job.End.After(job.Start) {
		return Result{}, fmt.Errorf("empty range %s - %s", job.Start, job.End)
	}
	slopeEntity := fmt.Sprintf(s.cfg.SlopeEntity, job.Zone.Name)
	powerEntity := fmt.Sprintf(s.cfg.PowerEntity, job.Zone.Name)

	slopes, err := s.src.Series(ctx, slopeEntity, job.Start, job.End)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", slopeEntity, err)
	}
	powers, err := s.src.Series(ctx, powerEntity, job.Start, job.End)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", powerEntity, err)
	}
	s.log.Info("%s: %d slope and %d power samples", job.Zone.Name, len(slopes), len(powers))

	for i := range slopes {
		slopes[i].Value = job.Zone.DeltaToCelsius(slopes[i].Value)
	}
	res, err := Calibrate(Request{
		Slopes:         slopes,
		Powers:         powers,
		Mode:           job.Mode,
		PowerThreshold: s.cfg.PowerThreshold,
		Kext:           job.Kext,
		DeltaT:         job.DeltaT,
	})
	if err != nil {
		return Result{}, fmt.Errorf("calibrate %s: %w", job.Zone.Name, err)
	}
	s.log.Info("%s: capacity %.3f °C/h, reliability %.0f%%, %d samples, %d outliers",
		job.Zone.Name, res.Capacity, res.Reliability, res.SamplesUsed, res.OutliersRemoved)
	return res, nil
}
