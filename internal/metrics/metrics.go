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

// Package metrics exports each zone's controller state to Prometheus.
// Everything is fed from the event bus; nothing here touches an engine.
package metrics

import (
	"autotpi/internal/events"
	"autotpi/internal/notify"
	"autotpi/pkg/eventbus"
	"autotpi/pkg/logger"
	"autotpi/pkg/sysmon"
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autotpi"

var phases = []string{"maintain", "bang", "coast"}

type Metrics struct {
	reg   *prometheus.Registry
	bus   *eventbus.Bus
	zones []string
	log   *logger.Logger

	duty          *prometheus.GaugeVec
	baseDuty      *prometheus.GaugeVec
	temperature   *prometheus.GaugeVec // zone, sensor
	setpoint      *prometheus.GaugeVec
	slope         *prometheus.GaugeVec
	coefficient   *prometheus.GaugeVec // zone, name
	capacity      *prometheus.GaugeVec
	inertia       *prometheus.GaugeVec
	bootstrap     *prometheus.GaugeVec
	autolearn     *prometheus.GaugeVec
	phase         *prometheus.GaugeVec // zone, phase
	cycles        *prometheus.CounterVec
	notifications *prometheus.CounterVec // zone, kind
}

func zoneGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "zone",
		Name:      name,
		Help:      help,
	}, append([]string{"zone"}, labels...))
}

// New registers the zone metrics plus bus and host gauges on a private
// registry. sys may be nil.
func New(bus *eventbus.Bus, zones []string, sys *sysmon.Service) *Metrics {
	m := &Metrics{
		reg:   prometheus.NewRegistry(),
		bus:   bus,
		zones: zones,
		log:   logger.New("Metrics"),

		duty:        zoneGauge("duty_ratio", "Applied duty fraction of the current cycle."),
		baseDuty:    zoneGauge("base_duty_ratio", "Duty fraction from the learned coefficients, before anticipation."),
		temperature: zoneGauge("temperature", "Last temperature reading in the zone unit.", "sensor"),
		setpoint:    zoneGauge("setpoint", "Target temperature in the zone unit."),
		slope:       zoneGauge("slope_per_hour", "Indoor temperature slope, zone unit per hour."),
		coefficient: zoneGauge("coefficient", "Learned coefficient for the active mode.", "name"),
		capacity:    zoneGauge("capacity_per_hour", "Learned capacity, zone unit per hour."),
		inertia:     zoneGauge("inertia_hours", "Learned anticipation inertia in hours."),
		bootstrap:   zoneGauge("bootstrap", "1 while capacity is still being bootstrapped."),
		autolearn:   zoneGauge("autolearn", "1 while automatic learning is enabled."),
		phase:       zoneGauge("phase", "1 for the active anticipation phase.", "phase"),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "zone",
			Name:      "cycles_total",
			Help:      "Cycles started.",
		}, []string{"zone"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications raised, by kind.",
		}, []string{"zone", "kind"}),
	}

	m.reg.MustRegister(
		m.duty, m.baseDuty, m.temperature, m.setpoint, m.slope, m.coefficient,
		m.capacity, m.inertia, m.bootstrap, m.autolearn, m.phase, m.cycles, m.notifications,
		collectors.NewGoCollector(),
	)
	m.registerBus()
	if sys != nil {
		m.registerHost(sys)
	}
	return m
}

func (m *Metrics) registerBus() {
	stat := func(name, help string, get func(eventbus.Stats) int64) {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(m.bus.Stats())) }))
	}
	stat("published_total", "Events published.", func(s eventbus.Stats) int64 { return s.Published })
	stat("delivered_total", "Events handed to subscribers.", func(s eventbus.Stats) int64 { return s.Delivered })
	stat("replaced_total", "Unread events overwritten by a newer one.", func(s eventbus.Stats) int64 { return s.Replaced })
}

func (m *Metrics) registerHost(sys *sysmon.Service) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "process_rss_bytes",
		Help:      "Resident memory of this process.",
	}, func() float64 { return float64(sys.Snapshot().ProcessRSS) }))
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "state_disk_free_bytes",
		Help:      "Free space on the disk holding the learned state.",
	}, func() float64 {
		snap := sys.Snapshot()
		if len(snap.Disks) == 0 {
			return 0
		}
		return float64(snap.Disks[0].Free)
	}))
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ObserveCycle records the state a driver published at cycle start.
func (m *Metrics) ObserveCycle(ev events.CycleUpdate) {
	z := ev.Zone
	m.cycles.WithLabelValues(z).Inc()
	m.duty.WithLabelValues(z).Set(ev.Duty)
	m.baseDuty.WithLabelValues(z).Set(ev.BaseDuty)
	m.temperature.WithLabelValues(z, "indoor").Set(ev.Indoor)
	m.temperature.WithLabelValues(z, "outdoor").Set(ev.Outdoor)
	m.setpoint.WithLabelValues(z).Set(ev.Setpoint)
	m.slope.WithLabelValues(z).Set(ev.Slope)
	m.coefficient.WithLabelValues(z, "kint").Set(ev.Kint)
	m.coefficient.WithLabelValues(z, "kext").Set(ev.Kext)
	m.capacity.WithLabelValues(z).Set(ev.Capacity)
	m.inertia.WithLabelValues(z).Set(ev.Inertia)
	m.bootstrap.WithLabelValues(z).Set(b2f(ev.Bootstrap))
	m.autolearn.WithLabelValues(z).Set(b2f(ev.Autolearn))
	for _, p := range phases {
		m.phase.WithLabelValues(z, p).Set(b2f(p == ev.Phase))
	}
}

func (m *Metrics) ObserveNotification(n notify.Notification) {
	m.notifications.WithLabelValues(n.Zone, string(n.Kind)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run feeds the collectors from the bus until ctx ends.
func (m *Metrics) Run(ctx context.Context) {
	m.log.Info("Running...")

	var wg sync.WaitGroup
	for _, z := range m.zones {
		cycles, _ := m.bus.Subscribe(ctx, events.TopicCycle(z), true)
		wg.Go(func() {
			for ev := range cycles {
				if u, ok := ev.(events.CycleUpdate); ok {
					m.ObserveCycle(u)
				}
			}
		})
	}
	notes, _ := m.bus.Subscribe(ctx, events.TopicNotification, false)
	for ev := range notes {
		if n, ok := ev.(notify.Notification); ok {
			m.ObserveNotification(n)
		}
	}
	wg.Wait()
	m.log.Info("Stopped")
}
