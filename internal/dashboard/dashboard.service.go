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

// Package dashboard is the virtual thermostat: it owns each zone's
// setpoint and mode, relays learning commands, and streams the drivers'
// cycle state to browsers over a websocket.
package dashboard

import (
	"autotpi/internal/config"
	"autotpi/internal/events"
	"autotpi/internal/learning"
	"autotpi/internal/notify"
	"autotpi/internal/store"
	"autotpi/pkg/eventbus"
	"autotpi/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Request is a browser command.
type Request struct {
	Command string  `json:"command"` // broadcast, change_setpoint, set_mode, learning, curtail, boiler
	Zone    string  `json:"zone,omitempty"`
	Delta   float64 `json:"delta,omitempty"`
	Mode    string  `json:"mode,omitempty"`
	Action  string  `json:"action,omitempty"`
	On      bool    `json:"on,omitempty"`
}

// thermostat is what a zone's driver is told to do. It is persisted so a
// restart resumes with the same setpoint and mode.
type thermostat struct {
	Setpoint  float64 `json:"setpoint"`
	Mode      string  `json:"mode"`
	Curtailed bool    `json:"curtailed"`
	BoilerOff bool    `json:"boiler_off"`
}

type ZoneView struct {
	Name       string  `json:"name"`
	Unit       string  `json:"unit"`
	Setpoint   float64 `json:"setpoint"`
	Mode       string  `json:"mode"`
	Curtailed  bool    `json:"curtailed"`
	BoilerOff  bool    `json:"boiler_off"`
	Indoor     float64 `json:"indoor"`
	Outdoor    float64 `json:"outdoor"`
	Duty       float64 `json:"duty"`
	Phase      string  `json:"phase"`
	OnSeconds  float64 `json:"on_seconds"`
	Kint       float64 `json:"kint"`
	Kext       float64 `json:"kext"`
	Capacity   float64 `json:"capacity"`
	Bootstrap  bool    `json:"bootstrap"`
	Autolearn  bool    `json:"autolearn"`
	LastStatus string  `json:"last_status"`
	Updated    string  `json:"updated,omitempty"`
}

type State struct {
	Zones         []ZoneView            `json:"zones"`
	Notifications []notify.Notification `json:"notifications"`
}

func thermostatKey(zone string) string {
	return "thermostat/" + zone
}

type Dashboard struct {
	zones       map[string]config.ZoneConfig
	order       []string
	bus         *eventbus.Bus
	store       store.Store
	clientQueue chan Request
	cycles      chan events.CycleUpdate
	notes       chan notify.Notification
	clients     *clientSet
	log         *logger.Logger

	mu       sync.RWMutex
	thermo   map[string]thermostat
	last     map[string]events.CycleUpdate
	messages map[string]notify.Notification

	httpHandler http.Handler
}

func New(conf *config.Config, st store.Store) *Dashboard {
	d := &Dashboard{
		zones:       make(map[string]config.ZoneConfig),
		bus:         conf.EventBus,
		store:       st,
		clientQueue: make(chan Request, 8),
		cycles:      make(chan events.CycleUpdate, 8),
		notes:       make(chan notify.Notification, 8),
		clients:     newClientSet(),
		log:         logger.New("Dashboard"),
		thermo:      make(map[string]thermostat),
		last:        make(map[string]events.CycleUpdate),
		messages:    make(map[string]notify.Notification),
	}
	for _, z := range conf.Zones {
		d.zones[z.Name] = z
		d.order = append(d.order, z.Name)
	}
	d.httpHandler = d.buildHTTPHandler()
	return d
}

// Load restores every zone's thermostat, falling back to the configured
// initial setpoint with the zone stopped.
func (d *Dashboard) Load(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range d.order {
		z := d.zones[name]
		t := thermostat{Setpoint: z.InitialSetpoint, Mode: string(learning.ModeStop)}
		data, err := d.store.Get(ctx, thermostatKey(name))
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			d.log.Error("%s: load thermostat: %v", name, err)
		default:
			var saved thermostat
			if err := json.Unmarshal(data, &saved); err != nil {
				d.log.Error("%s: decode thermostat: %v", name, err)
			} else if _, err := parseMode(saved.Mode); err == nil {
				t = saved
				t.Setpoint = clampSetpoint(z, t.Setpoint)
			}
		}
		d.thermo[name] = t
	}
}

func (d *Dashboard) Run(ctx context.Context) {
	d.log.Info("Running...")
	defer d.clients.closeAll()

	var wg sync.WaitGroup
	defer wg.Wait()
	for _, name := range d.order {
		ch, _ := d.bus.Subscribe(ctx, events.TopicCycle(name), true)
		wg.Go(func() {
			for ev := range ch {
				if u, ok := ev.(events.CycleUpdate); ok {
					select {
					case d.cycles <- u:
					case <-ctx.Done():
						return
					}
				}
			}
		})
	}
	notes, _ := d.bus.Subscribe(ctx, events.TopicNotification, true)

	d.mu.RLock()
	for _, name := range d.order {
		d.publishThermostat(name, d.thermo[name])
	}
	d.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Stopped")
			return

		case u := <-d.cycles:
			d.mu.Lock()
			d.last[u.Zone] = u
			d.mu.Unlock()

		case ev, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			if n, ok := ev.(notify.Notification); ok {
				d.mu.Lock()
				d.messages[n.ID] = n
				d.mu.Unlock()
			}

		case req := <-d.clientQueue:
			d.log.Debug("msg from client: %+v", req)
			if err := d.apply(ctx, req); err != nil {
				d.log.Error("command %q: %v", req.Command, err)
				continue
			}
		}

		d.broadcast(d.State())
	}
}

// apply handles one command on the Run goroutine.
func (d *Dashboard) apply(ctx context.Context, req Request) error {
	if req.Command == "broadcast" {
		return nil
	}
	z, ok := d.zones[req.Zone]
	if !ok {
		return fmt.Errorf("unknown zone %q", req.Zone)
	}

	if req.Command == "learning" {
		switch req.Action {
		case events.LearningStart, events.LearningStartReset, events.LearningStop, events.LearningReset:
		default:
			return fmt.Errorf("unknown learning action %q", req.Action)
		}
		d.bus.Publish(events.TopicLearning(z.Name), events.LearningCommand{Action: req.Action})
		return nil
	}

	d.mu.Lock()
	t := d.thermo[z.Name]
	switch req.Command {
	case "change_setpoint":
		t.Setpoint = clampSetpoint(z, t.Setpoint+req.Delta)
	case "set_mode":
		m, err := parseMode(req.Mode)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		t.Mode = string(m)
	case "curtail":
		t.Curtailed = req.On
	case "boiler":
		t.BoilerOff = req.On
	default:
		d.mu.Unlock()
		return fmt.Errorf("unknown command")
	}
	d.thermo[z.Name] = t
	d.mu.Unlock()

	d.publishThermostat(z.Name, t)
	d.save(ctx, z.Name, t)
	return nil
}

func (d *Dashboard) publishThermostat(zone string, t thermostat) {
	d.bus.Publish(events.TopicThermostat(zone), events.ThermostatUpdate{
		Setpoint:  t.Setpoint,
		Mode:      t.Mode,
		Curtailed: t.Curtailed,
		BoilerOff: t.BoilerOff,
	})
}

func (d *Dashboard) save(ctx context.Context, zone string, t thermostat) {
	data, err := json.Marshal(t)
	if err == nil {
		err = d.store.Put(ctx, thermostatKey(zone), data)
	}
	if err != nil {
		d.log.Error("%s: save thermostat: %v", zone, err)
	}
}

// parseMode is stricter than learning.ParseMode: a typo must not stop a zone.
func parseMode(s string) (learning.Mode, error) {
	m := learning.ParseMode(s)
	if m.Active() || strings.EqualFold(s, "stop") || strings.EqualFold(s, "off") {
		return m, nil
	}
	return m, fmt.Errorf("unknown mode %q", s)
}

func clampSetpoint(z config.ZoneConfig, v float64) float64 {
	// half degree steps on the display
	v = math.Round(v*2) / 2
	return math.Max(z.MinSetpoint, math.Min(z.MaxSetpoint, v))
}

// State is the snapshot sent to browsers.
func (d *Dashboard) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := State{Zones: make([]ZoneView, 0, len(d.order))}
	for _, name := range d.order {
		t := d.thermo[name]
		v := ZoneView{
			Name:      name,
			Unit:      d.zones[name].Unit,
			Setpoint:  t.Setpoint,
			Mode:      t.Mode,
			Curtailed: t.Curtailed,
			BoilerOff: t.BoilerOff,
		}
		if u, ok := d.last[name]; ok {
			v.Indoor = u.Indoor
			v.Outdoor = u.Outdoor
			v.Duty = u.Duty
			v.Phase = u.Phase
			v.OnSeconds = u.OnTime.Seconds()
			v.Kint = u.Kint
			v.Kext = u.Kext
			v.Capacity = u.Capacity
			v.Bootstrap = u.Bootstrap
			v.Autolearn = u.Autolearn
			v.LastStatus = u.LastStatus
			v.Updated = u.Time.Format("15:04:05")
		}
		st.Zones = append(st.Zones, v)
	}
	for _, n := range d.messages {
		st.Notifications = append(st.Notifications, n)
	}
	sort.Slice(st.Notifications, func(i, j int) bool {
		return st.Notifications[i].Time.After(st.Notifications[j].Time)
	})
	return st
}

func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.httpHandler.ServeHTTP(w, r)
}
