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
	"autotpi/internal/cycle"
	"autotpi/internal/dashboard"
	"autotpi/internal/learning"
	"autotpi/internal/metrics"
	"autotpi/internal/notify"
	"autotpi/internal/sensors"
	"autotpi/internal/store"
	"autotpi/pkg/appctx"
	"autotpi/pkg/eventbus"
	"autotpi/pkg/logger"
	"autotpi/pkg/modbus"
	"autotpi/pkg/rootserv"
	"autotpi/pkg/service"
	"autotpi/pkg/sysmon"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller, sensors and dashboard until interrupted",
	RunE:  runController,
}

func runController(cmd *cobra.Command, _ []string) error {
	if err := logger.Init(filepath.Join(rootDir, "var/logs/autotpi.log")); err != nil {
		return fmt.Errorf("init log: %w", err)
	}
	log := logger.New("Main")

	conf, err := loadConfig()
	if err != nil {
		return err
	}
	conf.EventBus = eventbus.New()

	st, err := store.Open(conf.Store.Backend, conf.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, ctxCancel := appctx.New()
	defer ctxCancel()

	notifier, closeNotifier := buildNotifier(conf, log)
	defer closeNotifier()

	server := rootserv.New(conf.HTTPAddr)
	sysMonitor := sysmon.New(conf.Store.Path)
	board := dashboard.New(conf, st)
	board.Load(ctx)

	zoneNames := make([]string, 0, len(conf.Zones))
	services := []service.Runnable{service.Named("dashboard", board)}
	for _, z := range conf.Zones {
		driver, err := buildZone(ctx, z, conf.EventBus, st, notifier)
		if err != nil {
			return err
		}
		zoneNames = append(zoneNames, z.Name)
		services = append(services, service.Named("cycle:"+z.Name, driver))
	}

	promMetrics := metrics.New(conf.EventBus, zoneNames, sysMonitor)
	services = append(services, service.Named("metrics", promMetrics))

	sensorMap := filepath.Join(rootDir, "var/config/sensors.modbus.yml")
	if mcfg, err := modbus.LoadConfig(sensorMap); err == nil {
		client := modbus.NewClient(mcfg)
		defer client.Close()
		services = append(services, service.Named("sensors", sensors.New(client, mcfg, conf)))
	} else if errors.Is(err, os.ErrNotExist) {
		log.Warn("no %s, expecting temperatures from elsewhere on the bus", sensorMap)
	} else {
		return err
	}

	server.Attach("/", "Dashboard", board)
	server.Attach("/logger", "Logger", logger.WebService())
	server.Attach("/monitor", "System Monitor", sysMonitor)
	server.Handle("/metrics", "Prometheus metrics", promMetrics.Handler())
	services = append(services, service.Named("http", server))

	log.Info("starting %d zones", len(conf.Zones))
	code := <-service.Start(ctx, ctxCancel, services...)
	conf.EventBus.Close()
	if code != 0 {
		return fmt.Errorf("exited with code %d", code)
	}
	return nil
}

func buildNotifier(conf *config.Config, log *logger.Logger) (notify.Sink, func()) {
	sinks := notify.Multi{
		notify.LogSink{Log: logger.New("Notify")},
		notify.BusSink{Bus: conf.EventBus},
	}
	closeFn := func() {}
	if conf.MQTT.Broker != "" {
		mq, err := notify.DialMQTT(conf.MQTT.Broker, conf.MQTT.ClientID, conf.MQTT.TopicPrefix)
		if err != nil {
			// notifications still reach the log and dashboard
			log.Error("%v", err)
		} else {
			sinks = append(sinks, mq)
			closeFn = mq.Close
		}
	}
	return notify.NewDedup(sinks), closeFn
}

func buildZone(ctx context.Context, z config.ZoneConfig, bus *eventbus.Bus, st store.Store, n notify.Sink) (*cycle.Driver, error) {
	engine := learning.New(z, learning.Deps{Store: st, Notifier: n, Clock: clock.Real})
	if err := engine.Load(ctx); err != nil {
		return nil, err
	}
	data, err := bangcoast.Load(ctx, st, z.Name)
	if err != nil {
		return nil, err
	}
	return cycle.New(z, cycle.Deps{
		Bus:     bus,
		Engine:  engine,
		Machine: bangcoast.New(z.Name, z.BangCoast, data),
		Store:   st,
		Clock:   clock.Real,
	}), nil
}
