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

package cycle

import (
	"autotpi/internal/config"
	"autotpi/pkg/logger"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Switch turns the heating (or cooling) output on or off.
type Switch interface {
	Set(ctx context.Context, on bool) error
}

type switchRequest struct {
	Name        string `json:"name"`
	TargetState bool   `json:"target_state"`
}

// HTTPSwitch posts {"name","target_state"} to a relay server.
type HTTPSwitch struct {
	URL    string
	Name   string
	Client *http.Client
}

func (s HTTPSwitch) Set(ctx context.Context, on bool) error {
	return postJSON(ctx, s.Client, s.URL, switchRequest{Name: s.Name, TargetState: on})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP POST failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// LogSwitch only logs, for zones without a relay yet.
type LogSwitch struct {
	log *logger.Logger
}

func (s LogSwitch) Set(_ context.Context, on bool) error {
	s.log.Info("switch on=%v", on)
	return nil
}

func NewSwitch(zone string, cfg config.ActuatorConfig) Switch {
	if cfg.URL == "" {
		return LogSwitch{log: logger.New("Switch").With(zone)}
	}
	return HTTPSwitch{URL: cfg.URL, Name: cfg.Name}
}

// plan splits one cycle into on and off time. Pulses shorter than the
// actuator's minimum run time are skipped and rests shorter than its minimum
// off time are filled, so the relay never chatters.
func plan(duty float64, period, minOn, minOff time.Duration) (on, off time.Duration) {
	duty = math.Max(0, math.Min(1, duty))
	on = time.Duration(duty * float64(period)).Round(time.Second)
	if on > period {
		on = period
	}
	if on > 0 && on < minOn {
		on = 0
	}
	off = period - on
	if off > 0 && off < minOff && on > 0 {
		on, off = period, 0
	}
	return on, off
}
