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
	"autotpi/internal/config"
	"autotpi/pkg/logger"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	rootDir    string
	configPath string

	rootCmd = &cobra.Command{
		Use:   "autotpi",
		Short: "Self-tuning duty-cycle controller for on/off heating and cooling",
		Long: `autotpi drives on/off heaters and coolers with a TPI duty cycle whose
coefficients and capacity it learns online, one zone at a time.`,
		SilenceUsage: true,
	}
)

func init() {
	def := os.Getenv("PROJECT_ROOT")
	if def == "" {
		def = "."
	}
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", def, "project root holding var/ (env PROJECT_ROOT)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <root>/var/config/autotpi.json)")

	rootCmd.AddCommand(runCmd, calibrateCmd, stateCmd)
	stateCmd.AddCommand(stateShowCmd, stateResetCmd)
}

// loadConfig reads the config and fills in the runtime paths.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(rootDir, "var/config/autotpi.json")
	}
	conf, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	conf.RootDir = rootDir
	conf.DataDir = filepath.Join(rootDir, "var/cache")
	if conf.Store.Path == "" {
		conf.Store.Path = conf.DataDir
	}
	return conf, nil
}

func findZone(conf *config.Config, name string) (config.ZoneConfig, error) {
	for _, z := range conf.Zones {
		if z.Name == name {
			return z, nil
		}
	}
	return config.ZoneConfig{}, fmt.Errorf("no zone %q in config", name)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}
