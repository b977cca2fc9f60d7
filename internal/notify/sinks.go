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

package notify

import (
	"autotpi/internal/events"
	"autotpi/pkg/eventbus"
	"autotpi/pkg/logger"
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BusSink publishes notifications on the event bus for the dashboard.
type BusSink struct {
	Bus *eventbus.Bus
}

func (s BusSink) Notify(_ context.Context, n Notification) error {
	if s.Bus == nil {
		return nil
	}
	s.Bus.Publish(events.TopicNotification, n)
	return nil
}

// LogSink writes notifications to the log.
type LogSink struct {
	Log *logger.Logger
}

func (s LogSink) Notify(_ context.Context, n Notification) error {
	s.Log.Warn("%s: %s (Kint=%.3f Kext=%.3f)", n.Title, n.Message, n.Kint, n.Kext)
	return nil
}

// MQTTSink publishes notifications as retained JSON messages on
// <prefix>/notification/<id>, so a home automation hub shows the latest one per id.
type MQTTSink struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

// DialMQTT connects to broker and returns a sink using it.
func DialMQTT(broker, clientID, prefix string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return NewMQTTSink(c, prefix), nil
}

func NewMQTTSink(client mqtt.Client, prefix string) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, timeout: 5 * time.Second}
}

func (s *MQTTSink) Topic(n Notification) string {
	return fmt.Sprintf("%s/notification/%s", s.prefix, n.ID)
}

func (s *MQTTSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	token := s.client.Publish(s.Topic(n), 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return fmt.Errorf("mqtt publish %s: timeout", n.ID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", n.ID, err)
	}
	return nil
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
