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

package main

import (
	"autotpi/internal/calibration"
	"autotpi/internal/clock"
	"autotpi/internal/config"
	"autotpi/internal/learning"
	"autotpi/internal/notify"
	"autotpi/internal/store"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var (
	calZone   string
	calMode   string
	calFrom   string
	calTo     string
	calDays   int
	calMargin float64
	calDeltaT float64
	calKext   float64
	calApply  bool

	calibrateCmd = &cobra.Command{
		Use:   "calibrate",
		Short: "Estimate a zone's capacity from recorded full-power history",
		Long: `calibrate reads the zone's temperature slope and power history from InfluxDB,
keeps the full-power samples and reports the 75th percentile slope as the
capacity. With --apply the capacity, less the safety margin, replaces the
learned one. Stop the controller first when the store is badger.`,
		RunE: runCalibrate,
	}
)

func init() {
	f := calibrateCmd.Flags()
	f.StringVar(&calZone, "zone", "", "zone name")
	f.StringVar(&calMode, "mode", "heat", "heat or cool")
	f.StringVar(&calFrom, "from", "", "start of the history, RFC3339 (default --days before --to)")
	f.StringVar(&calTo, "to", "", "end of the history, RFC3339 (default now)")
	f.IntVar(&calDays, "days", 7, "history length when --from is not set")
	f.Float64Var(&calMargin, "margin", -1, "safety margin 0-0.3 (default from config)")
	f.Float64Var(&calDeltaT, "delta-t", 0, "typical indoor-outdoor difference during the samples, zone unit")
	f.Float64Var(&calKext, "kext", -1, "Kext for the conductive loss term (default the learned one)")
	f.BoolVar(&calApply, "apply", false, "store the calibrated capacity")
	calibrateCmd.MarkFlagRequired("zone")
}

type calibrateOptions struct {
	Mode   learning.Mode
	Start  time.Time
	End    time.Time
	Margin float64
	DeltaT float64 // zone unit
	Kext   float64 // <0 uses the learned one
	Apply  bool
}

type calibrateReport struct {
	Zone     string             `json:"zone"`
	Mode     string             `json:"mode"`
	Result   calibration.Result `json:"result"`
	Margin   float64            `json:"margin"`
	Capacity float64            `json:"capacity"` // °C/h after the margin
	Applied  bool               `json:"applied"`
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	z, err := findZone(conf, calZone)
	if err != nil {
		return err
	}
	opts := calibrateOptions{
		Mode:   learning.ParseMode(calMode),
		Margin: conf.Calibration.SafetyMargin,
		DeltaT: calDeltaT,
		Kext:   calKext,
		Apply:  calApply,
		End:    time.Now(),
	}
	if calMargin >= 0 {
		opts.Margin = calMargin
	}
	if calTo != "" {
		if opts.End, err = time.Parse(time.RFC3339, calTo); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}
	opts.Start = opts.End.AddDate(0, 0, -calDays)
	if calFrom != "" {
		if opts.Start, err = time.Parse(time.RFC3339, calFrom); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}

	st, err := store.Open(conf.Store.Backend, conf.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	src := calibration.NewInfluxSource(conf.Influx)
	defer src.Close()

	return calibrate(cmd.Context(), cmd.OutOrStdout(), src, st, conf.Calibration, z, opts)
}

func calibrate(ctx context.Context, w io.Writer, src calibration.HistorySource, st store.Store,
	cfg config.CalibrationConfig, z config.ZoneConfig, opts calibrateOptions) error {
	if !opts.Mode.Active() {
		return fmt.Errorf("mode must be heat or cool")
	}
	engine := learning.New(z, learning.Deps{Store: st, Notifier: &notify.Recorder{}, Clock: clock.Real})
	if err := engine.Load(ctx); err != nil {
		return err
	}
	kext := opts.Kext
	if kext < 0 {
		learned := engine.State()
		kext = learned.Kext(opts.Mode)
	}

	res, err := calibration.NewService(src, cfg).Run(ctx, calibration.Job{
		Zone:   z,
		Mode:   opts.Mode,
		Start:  opts.Start,
		End:    opts.End,
		Kext:   kext,
		DeltaT: z.DeltaToCelsius(opts.DeltaT),
	})
	if err != nil {
		return err
	}
	capacity, err := calibration.ApplyMargin(res.Capacity, opts.Margin)
	if err != nil {
		return err
	}

	report := calibrateReport{
		Zone:     z.Name,
		Mode:     string(opts.Mode),
		Result:   res,
		Margin:   opts.Margin,
		Capacity: capacity,
	}
	if opts.Apply {
		if err := engine.ApplyCalibratedCapacity(ctx, opts.Mode, capacity); err != nil {
			return err
		}
		report.Applied = true
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
