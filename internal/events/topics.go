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

package events

import (
	"autotpi/pkg/eventbus"
	"time"
)

var TopicNotification eventbus.Topic = "notification"

// TopicIndoor is per zone: every zone has its own indoor sensor.
func TopicIndoor(zone string) eventbus.Topic {
	return eventbus.Topic("indoor/" + zone)
}

// TopicOutdoor is per zone too, so each zone receives it in its own unit.
func TopicOutdoor(zone string) eventbus.Topic {
	return eventbus.Topic("outdoor/" + zone)
}

// TopicThermostat carries the setpoint and mode chosen on the dashboard.
func TopicThermostat(zone string) eventbus.Topic {
	return eventbus.Topic("thermostat/" + zone)
}

// TopicCycle carries the driver's decision at every cycle start.
func TopicCycle(zone string) eventbus.Topic {
	return eventbus.Topic("cycle/" + zone)
}

// TopicLearning carries learning commands for a zone's engine.
func TopicLearning(zone string) eventbus.Topic {
	return eventbus.Topic("learning/" + zone)
}

// temperatures on the bus are in the zone's display unit

type TemperatureUpdate struct {
	Temperature float64
	Time        time.Time
}

type ThermostatUpdate struct {
	Setpoint float64
	Mode     string // "heat", "cool" or "stop"
	// set by an external admission-control system that curtails the actuator
	Curtailed bool
	// central boiler reported off
	BoilerOff bool
}

type CycleUpdate struct {
	Zone       string
	Time       time.Time
	Mode       string
	Indoor     float64
	Outdoor    float64
	Setpoint   float64
	Slope      float64 // display unit per hour
	BaseDuty   float64
	Duty       float64
	Phase      string
	OnTime     time.Duration
	OffTime    time.Duration
	Kint       float64
	Kext       float64
	Capacity   float64 // display unit per hour
	Bootstrap  bool
	Autolearn  bool
	LastStatus string
	Inertia    float64 // hours
}

// Learning command actions
const (
	LearningStart      = "start"
	LearningStartReset = "start-reset"
	LearningStop       = "stop"
	LearningReset      = "reset"
)

type LearningCommand struct {
	Action string
}
