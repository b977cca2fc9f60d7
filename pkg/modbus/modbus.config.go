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

package modbus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Modbus     ConnConfig             `yaml:"modbus"`
	PollGroups map[string]int         `yaml:"poll_groups"` // group -> seconds
	Registers  map[string]RegisterDef `yaml:"registers"`
}

type ConnConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	SlaveID byte   `yaml:"slave_id"`
	Timeout int    `yaml:"timeout"` // seconds
}

// RegisterDef describes one temperature probe. Holding registers only.
type RegisterDef struct {
	Address     uint16  `yaml:"address"`
	DataType    string  `yaml:"data_type"` // "uint16", "int16", "float32"
	Scale       float64 `yaml:"scale"`     // raw*scale+offset when set
	Offset      float64 `yaml:"offset"`
	Unit        string  `yaml:"unit"` // "C" or "F" as reported by the device
	Description string  `yaml:"description"`
	Group       string  `yaml:"group,omitempty"`

	// plausibility limits in the register's unit, zero means unchecked
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	MaxStep float64 `yaml:"max_step"` // largest believable change between two polls
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read modbus config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse modbus config: %w", err)
	}
	if config.Modbus.Timeout == 0 {
		config.Modbus.Timeout = 5
	}
	if config.Modbus.Port == 0 {
		config.Modbus.Port = 502
	}
	for name, def := range config.Registers {
		if _, err := RegisterCount(def.DataType); err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		if def.Unit == "" {
			def.Unit = "C"
		}
		if def.Unit != "C" && def.Unit != "F" {
			return nil, fmt.Errorf("register %q: unit must be C or F", name)
		}
		config.Registers[name] = def
	}
	return &config, nil
}

// Interval returns the poll interval of a register's group.
func (c *Config) Interval(group string, fallback int) int {
	if group == "" {
		group = "default"
	}
	if s, ok := c.PollGroups[group]; ok && s > 0 {
		return s
	}
	if s, ok := c.PollGroups["default"]; ok && s > 0 {
		return s
	}
	return fallback
}
