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
	"autotpi/internal/bangcoast"
	"autotpi/internal/clock"
	"autotpi/internal/config"
	"autotpi/internal/learning"
	"autotpi/internal/notify"
	"autotpi/internal/store"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	stateZone      string
	resetBangCoast bool

	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset a zone's learned state",
	}
	stateShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the learned coefficients, capacities and inertia as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withZoneStore(func(z config.ZoneConfig, st store.Store) error {
				return showState(cmd.Context(), cmd.OutOrStdout(), st, z)
			})
		},
	}
	stateResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Forget everything learned for a zone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withZoneStore(func(z config.ZoneConfig, st store.Store) error {
				if err := resetState(cmd.Context(), st, z, resetBangCoast); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "zone %s reset\n", z.Name)
				return nil
			})
		},
	}
)

func init() {
	stateCmd.PersistentFlags().StringVar(&stateZone, "zone", "", "zone name")
	stateCmd.MarkPersistentFlagRequired("zone")
	stateResetCmd.Flags().BoolVar(&resetBangCoast, "bang-coast", false, "also forget the learned inertia")
}

func withZoneStore(fn func(config.ZoneConfig, store.Store) error) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	z, err := findZone(conf, stateZone)
	if err != nil {
		return err
	}
	st, err := store.Open(conf.Store.Backend, conf.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(z, st)
}

func newEngine(ctx context.Context, st store.Store, z config.ZoneConfig) (*learning.Engine, error) {
	engine := learning.New(z, learning.Deps{Store: st, Notifier: &notify.Recorder{}, Clock: clock.Real})
	return engine, engine.Load(ctx)
}

type stateReport struct {
	Zone      string                    `json:"zone"`
	Unit      string                    `json:"unit"`
	Learning  learning.CoefficientState `json:"learning"`
	BangCoast bangcoast.LearningData    `json:"bang_coast"`
}

func showState(ctx context.Context, w io.Writer, st store.Store, z config.ZoneConfig) error {
	engine, err := newEngine(ctx, st, z)
	if err != nil {
		return err
	}
	data, err := bangcoast.Load(ctx, st, z.Name)
	if err != nil {
		return err
	}
	// New fills in the initial inertia when nothing has been learned
	data = bangcoast.New(z.Name, z.BangCoast, data).Data()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stateReport{
		Zone:      z.Name,
		Unit:      z.Unit,
		Learning:  engine.State(),
		BangCoast: data,
	})
}

func resetState(ctx context.Context, st store.Store, z config.ZoneConfig, bangCoast bool) error {
	engine, err := newEngine(ctx, st, z)
	if err != nil {
		return err
	}
	engine.Reset(ctx)
	if bangCoast {
		return bangcoast.Save(ctx, st, z.Name, bangcoast.LearningData{})
	}
	return nil
}
