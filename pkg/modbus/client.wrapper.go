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
	"autotpi/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	wrapper "github.com/grid-x/modbus"
)

const maxBackoff = 30 * time.Second

// Client is a Modbus TCP connection that reconnects on link errors.
// It connects lazily on the first read.
type Client struct {
	mu      sync.Mutex
	handler *wrapper.TCPClientHandler
	client  wrapper.Client
	config  *Config
	log     *logger.Logger
	backoff time.Duration
	retryAt time.Time
}

func NewClient(config *Config) *Client {
	return &Client{
		config: config,
		log:    logger.New("ModbusConn"),
	}
}

// connect (re)opens the link. Failed attempts back off exponentially
// up to 30s so a dead device does not stall every poll. Callers hold mu.
func (c *Client) connect(ctx context.Context) error {
	if time.Now().Before(c.retryAt) {
		return fmt.Errorf("modbus reconnect backing off until %s", c.retryAt.Format(time.TimeOnly))
	}
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
	}

	url := fmt.Sprintf("%s:%d", c.config.Modbus.Host, c.config.Modbus.Port)
	handler := wrapper.NewTCPClientHandler(url)
	handler.SlaveID = c.config.Modbus.SlaveID
	handler.Timeout = time.Second * time.Duration(c.config.Modbus.Timeout)
	handler.ProtocolRecoveryTimeout = 250 * time.Millisecond
	handler.LinkRecoveryTimeout = 5 * time.Second

	c.log.Info("Connecting to %s...", url)
	if err := handler.Connect(ctx); err != nil {
		if c.backoff == 0 {
			c.backoff = time.Second
		} else {
			c.backoff = min(2*c.backoff, maxBackoff)
		}
		c.retryAt = time.Now().Add(c.backoff)
		return fmt.Errorf("modbus connect failed: %w", err)
	}

	c.backoff = 0
	c.handler = handler
	c.client = wrapper.NewClient(handler)
	c.log.Info("Connected to %s", url)
	return nil
}

// ReadRegisters reads holding registers, reconnecting once on a link error.
func (c *Client) ReadRegisters(ctx context.Context, addr, quantity uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if c.client == nil {
			if err = c.connect(ctx); err != nil {
				return nil, err
			}
		}
		var data []byte
		data, err = c.client.ReadHoldingRegisters(ctx, addr, quantity)
		if err == nil {
			return data, nil
		}
		if !isConnError(err) {
			return nil, err
		}
		c.log.Error("connection error: %v, reconnecting", err)
		c.client = nil
	}
	return nil, err
}

// ReadFloat reads a named register and returns its scaled value.
func (c *Client) ReadFloat(ctx context.Context, name string) (float64, error) {
	def, ok := c.config.Registers[name]
	if !ok {
		return 0, fmt.Errorf("register %q not configured", name)
	}
	n, err := RegisterCount(def.DataType)
	if err != nil {
		return 0, err
	}
	raw, err := c.ReadRegisters(ctx, def.Address, n)
	if err != nil {
		return 0, fmt.Errorf("register read failed for %s: %w", name, err)
	}
	return Decode(def, raw)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
		c.client = nil
	}
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "closed by the remote host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused")
}
