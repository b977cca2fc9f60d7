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

// Package sensors polls the Modbus temperature probes and publishes
// indoor and outdoor readings for every zone that uses them.
package sensors

import (
	"autotpi/internal/config"
	"autotpi/internal/events"
	"autotpi/pkg/eventbus"
	"autotpi/pkg/logger"
	"autotpi/pkg/modbus"
	"context"
	"sort"
	"sync"
	"time"
)

// Reader returns a register's scaled value. *modbus.Client is one.
type Reader interface {
	ReadFloat(ctx context.Context, name string) (float64, error)
}

type route struct {
	topic eventbus.Topic
	zone  config.ZoneConfig
}

type Poller struct {
	reader   Reader
	modbus   *modbus.Config
	bus      *eventbus.Bus
	routes   map[string][]route
	fallback int
	log      *logger.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]reading
}

func New(reader Reader, mcfg *modbus.Config, appConfig *config.Config) *Poller {
	p := &Poller{
		reader:   reader,
		modbus:   mcfg,
		bus:      appConfig.EventBus,
		routes:   make(map[string][]route),
		fallback: appConfig.SensorPollSeconds,
		log:      logger.New("Sensors"),
		now:      time.Now,
		last:     make(map[string]reading),
	}
	for _, z := range appConfig.Zones {
		if z.IndoorSensor != "" {
			p.routes[z.IndoorSensor] = append(p.routes[z.IndoorSensor], route{events.TopicIndoor(z.Name), z})
		}
		if z.OutdoorSensor != "" {
			p.routes[z.OutdoorSensor] = append(p.routes[z.OutdoorSensor], route{events.TopicOutdoor(z.Name), z})
		}
	}
	for name := range p.routes {
		if _, ok := mcfg.Registers[name]; !ok {
			p.log.Warn("sensor %q is used by a zone but missing from the register map", name)
		}
	}
	return p
}

func (p *Poller) Run(ctx context.Context) {
	p.log.Info("Running...")

	// only poll registers some zone listens to
	grouped := make(map[string][]string)
	for name := range p.routes {
		def, ok := p.modbus.Registers[name]
		if !ok {
			continue
		}
		group := def.Group
		if group == "" {
			group = "default"
		}
		grouped[group] = append(grouped[group], name)
	}

	var wg sync.WaitGroup
	for group, names := range grouped {
		sort.Strings(names)
		interval := time.Duration(p.modbus.Interval(group, p.fallback)) * time.Second
		wg.Go(func() {
			p.runGroupPoller(ctx, group, names, interval)
		})
	}
	wg.Wait()
	p.log.Info("Stopped")
}

func (p *Poller) runGroupPoller(ctx context.Context, group string, names []string, interval time.Duration) {
	p.log.Info("Starting group %q poller (every %v)", group, interval)
	p.Poll(ctx, names)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			p.Poll(ctx, names)
			p.log.Debug("group %q: polled %d registers in %v", group, len(names), time.Since(start))
		}
	}
}

// Poll reads each register once and publishes the valid readings.
// A rejected reading publishes nothing; zones keep their last value.
func (p *Poller) Poll(ctx context.Context, names []string) {
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		def, ok := p.modbus.Registers[name]
		if !ok {
			continue
		}
		v, err := p.reader.ReadFloat(ctx, name)
		if err != nil {
			p.log.Error("read %s: %v", name, err)
			continue
		}
		now := p.now()

		p.mu.Lock()
		var prev *reading
		if r, ok := p.last[name]; ok {
			prev = &r
		}
		err = checkValue(def, v, prev, now)
		if err == nil {
			p.last[name] = reading{value: v, time: now}
		}
		p.mu.Unlock()

		if err != nil {
			p.log.Error("Invalid value detected: %s (%.2f): %v", name, v, err)
			continue
		}

		celsius := registerToCelsius(def, v)
		for _, r := range p.routes[name] {
			p.bus.Publish(r.topic, events.TemperatureUpdate{
				Temperature: r.zone.FromCelsius(celsius),
				Time:        now,
			})
		}
	}
}
