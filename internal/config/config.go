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

package config

import (
	"autotpi/pkg/eventbus"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Blend selects how a new coefficient sample is merged with its history.
const (
	BlendWeighted = "weighted"
	BlendEMA      = "ema"
)

type LearningConfig struct {
	// default coefficients, also the floor for Kint deboosting
	DefaultKintHeat float64 `json:"default_kint_heat" validate:"gt=0,ltefield=MaxKint"`
	DefaultKextHeat float64 `json:"default_kext_heat" validate:"gt=0,lte=1.2"`
	DefaultKintCool float64 `json:"default_kint_cool" validate:"gt=0,ltefield=MaxKint"`
	DefaultKextCool float64 `json:"default_kext_cool" validate:"gt=0,lte=1.2"`

	// at least the Kint floor of 0.05
	MaxKint float64 `json:"max_kint" validate:"gte=0.05"`

	// heater efficiency applied to capacity, (0,1]
	Efficiency float64 `json:"efficiency" validate:"gt=0,lte=1"`

	// fallback capacity (°/h) used before one has been learned
	ReferenceCapacityHeat float64 `json:"reference_capacity_heat" validate:"gte=0"`
	ReferenceCapacityCool float64 `json:"reference_capacity_cool" validate:"gte=0"`

	SaturationThreshold float64 `json:"saturation_threshold" validate:"gt=0,lte=1"`

	Blend     string  `json:"blend" validate:"oneof=weighted ema"`
	BaseAlpha float64 `json:"base_alpha" validate:"gt=0,lte=1"`

	// pointer so an explicit 0 (constant rate) is kept
	AlphaDecay *float64 `json:"alpha_decay,omitempty" validate:"omitempty,gte=0"`

	ContinuousLearning         bool `json:"continuous_learning"`
	OvershootCorrection        bool `json:"overshoot_correction"`
	InsufficientRiseCorrection bool `json:"insufficient_rise_correction"`

	// pointer so an explicit false in the file is kept
	AutolearnEnabled *bool `json:"autolearn_enabled,omitempty"`
}

type BangCoastConfig struct {
	Enabled             bool    `json:"enabled"`
	ActivationThreshold float64 `json:"activation_threshold" validate:"gt=0"`
	DerivativeGain      float64 `json:"derivative_gain" validate:"gte=0"`
	Alpha               float64 `json:"alpha" validate:"gt=0,lte=1"`
	MinSlope            float64 `json:"min_slope" validate:"gt=0"`
	CoastTimeoutSeconds int     `json:"coast_timeout_seconds" validate:"gt=0"`
	InitialInertiaHours float64 `json:"initial_inertia_hours" validate:"gte=0.01,lte=2"`
}

type ActuatorConfig struct {
	// HTTP endpoint taking {"name","target_state"} posts; empty logs only
	URL           string `json:"url"`
	Name          string `json:"name"`
	MinOnSeconds  int    `json:"min_on_seconds" validate:"gte=0"`
	MinOffSeconds int    `json:"min_off_seconds" validate:"gte=0"`
}

type ZoneConfig struct {
	Name string `json:"name" validate:"required"`

	// "C" or "F"; learning always runs on °C internally
	Unit string `json:"unit" validate:"oneof=C F"`

	CycleMinutes       float64 `json:"cycle_minutes" validate:"gt=0"`
	SlopeWindowMinutes float64 `json:"slope_window_minutes" validate:"gt=0"`
	TickSeconds        int     `json:"tick_seconds" validate:"gt=0"`
	MaxSetpoint        float64 `json:"max_setpoint"`
	MinSetpoint        float64 `json:"min_setpoint"`
	InitialSetpoint    float64 `json:"initial_setpoint"`

	// sensor register names from the modbus map
	IndoorSensor  string `json:"indoor_sensor"`
	OutdoorSensor string `json:"outdoor_sensor"`

	Learning  LearningConfig  `json:"learning"`
	BangCoast BangCoastConfig `json:"bang_coast"`
	Actuator  ActuatorConfig  `json:"actuator"`
}

type StoreConfig struct {
	// "badger", "file" or "memory"
	Backend string `json:"backend" validate:"oneof=badger file memory"`
	Path    string `json:"path"`
}

type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

type MQTTConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

type CalibrationConfig struct {
	PowerThreshold float64 `json:"power_threshold" validate:"gt=0,lte=100"`
	SafetyMargin   float64 `json:"safety_margin" validate:"gte=0,lte=0.3"`
	// entity names in the history source, %s is the zone name
	SlopeEntity string `json:"slope_entity"`
	PowerEntity string `json:"power_entity"`
}

type Config struct {
	HTTPAddr    string            `json:"http_addr"`
	Zones       []ZoneConfig      `json:"zones" validate:"required,min=1,dive"`
	Store       StoreConfig       `json:"store"`
	Influx      InfluxConfig      `json:"influx"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Calibration CalibrationConfig `json:"calibration"`

	// poll interval of the modbus sensor groups without an explicit interval
	SensorPollSeconds int `json:"sensor_poll_seconds" validate:"gt=0"`

	// not loaded from file, but added here to
	// pass to all services alongside config
	EventBus *eventbus.Bus `json:"-"`
	DataDir  string        `json:"-"`
	RootDir  string        `json:"-"`
}

var validate = validator.New()

func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	var c Config
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the struct tags and the cross-field rules tags can't express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := map[string]bool{}
	for _, z := range c.Zones {
		if seen[z.Name] {
			return fmt.Errorf("invalid config: duplicate zone %q", z.Name)
		}
		seen[z.Name] = true
		if z.MaxSetpoint <= z.MinSetpoint {
			return fmt.Errorf("invalid config: zone %q max_setpoint must exceed min_setpoint", z.Name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "badger"
	}
	if c.SensorPollSeconds == 0 {
		c.SensorPollSeconds = 30
	}
	if c.Calibration.PowerThreshold == 0 {
		c.Calibration.PowerThreshold = 95
	}
	if c.Calibration.SlopeEntity == "" {
		c.Calibration.SlopeEntity = "%s_temperature_slope"
	}
	if c.Calibration.PowerEntity == "" {
		c.Calibration.PowerEntity = "%s_power_percent"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "autotpi"
	}
	for i := range c.Zones {
		c.Zones[i].ApplyDefaults()
	}
}

// ApplyDefaults fills every zero option with its default.
func (z *ZoneConfig) ApplyDefaults() {
	if z.Unit == "" {
		z.Unit = "C"
	}
	if z.CycleMinutes == 0 {
		z.CycleMinutes = 10
	}
	if z.SlopeWindowMinutes == 0 {
		z.SlopeWindowMinutes = 15
	}
	if z.TickSeconds == 0 {
		z.TickSeconds = 30
	}
	if z.MaxSetpoint == 0 {
		z.MaxSetpoint = z.FromCelsius(30)
	}
	if z.MinSetpoint == 0 {
		z.MinSetpoint = z.FromCelsius(7)
	}
	if z.InitialSetpoint == 0 {
		z.InitialSetpoint = z.FromCelsius(20)
	}
	z.Learning.ApplyDefaults()
	z.BangCoast.ApplyDefaults()
	if z.Actuator.Name == "" {
		z.Actuator.Name = z.Name
	}
}

func (l *LearningConfig) ApplyDefaults() {
	if l.DefaultKintHeat == 0 {
		l.DefaultKintHeat = 0.6
	}
	if l.DefaultKextHeat == 0 {
		l.DefaultKextHeat = 0.01
	}
	if l.DefaultKintCool == 0 {
		l.DefaultKintCool = 0.6
	}
	if l.DefaultKextCool == 0 {
		l.DefaultKextCool = 0.01
	}
	if l.MaxKint == 0 {
		l.MaxKint = 3.0
	}
	if l.Efficiency == 0 {
		l.Efficiency = 1.0
	}
	if l.ReferenceCapacityHeat == 0 {
		l.ReferenceCapacityHeat = 1.0
	}
	if l.ReferenceCapacityCool == 0 {
		l.ReferenceCapacityCool = 1.0
	}
	if l.SaturationThreshold == 0 {
		l.SaturationThreshold = 1.0
	}
	if l.Blend == "" {
		l.Blend = BlendEMA
	}
	if l.BaseAlpha == 0 {
		l.BaseAlpha = 0.15
	}
	if l.AlphaDecay == nil {
		decay := 0.1
		l.AlphaDecay = &decay
	}
	if l.AutolearnEnabled == nil {
		on := true
		l.AutolearnEnabled = &on
	}
}

func (b *BangCoastConfig) ApplyDefaults() {
	if b.ActivationThreshold == 0 {
		b.ActivationThreshold = 1.0
	}
	if b.DerivativeGain == 0 {
		b.DerivativeGain = 0.5
	}
	if b.Alpha == 0 {
		b.Alpha = 0.3
	}
	if b.MinSlope == 0 {
		b.MinSlope = 0.1
	}
	if b.CoastTimeoutSeconds == 0 {
		b.CoastTimeoutSeconds = 1800
	}
	if b.InitialInertiaHours == 0 {
		b.InitialInertiaHours = 0.25
	}
}

// DefaultZone returns a zone with every default applied, handy for tests and the CLI.
func DefaultZone(name string) ZoneConfig {
	z := ZoneConfig{Name: name}
	z.ApplyDefaults()
	return z
}

func (z ZoneConfig) CycleDuration() time.Duration {
	return time.Duration(z.CycleMinutes * float64(time.Minute))
}

// Decay is the EMA rate decay per learned sample.
func (l LearningConfig) Decay() float64 {
	if l.AlphaDecay == nil {
		return 0.1
	}
	return *l.AlphaDecay
}

func (z ZoneConfig) Autolearn() bool {
	return z.Learning.AutolearnEnabled == nil || *z.Learning.AutolearnEnabled
}

// Learning runs in °C. These convert at the zone boundary; a difference or
// a rate (°/h) only scales.

func (z ZoneConfig) ToCelsius(v float64) float64 {
	if z.Unit == "F" {
		return (v - 32) * 5 / 9
	}
	return v
}

func (z ZoneConfig) FromCelsius(v float64) float64 {
	if z.Unit == "F" {
		return v*9/5 + 32
	}
	return v
}

func (z ZoneConfig) DeltaToCelsius(v float64) float64 {
	if z.Unit == "F" {
		return v * 5 / 9
	}
	return v
}

func (z ZoneConfig) DeltaFromCelsius(v float64) float64 {
	if z.Unit == "F" {
		return v * 9 / 5
	}
	return v
}
