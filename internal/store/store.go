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

// Package store holds the key/value backends the controller persists its
// learned state to.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

var ErrNotFound = errors.New("key not found")

// Store is the opaque load/save contract. Values are encoded by the caller.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Open builds the backend named by kind ("badger", "file" or "memory").
func Open(kind, path string) (Store, error) {
	switch kind {
	case "badger":
		return OpenBadger(filepath.Join(path, "badger"))
	case "file":
		return NewFile(filepath.Join(path, "state"))
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

// Memory is an in-process Store, used by tests and the "memory" backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailPuts makes Put return an error, for exercising I/O failure paths
	FailPuts bool
	puts     int
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts {
		return errors.New("memory store: put disabled")
	}
	m.puts++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Puts returns how many writes succeeded.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

func (m *Memory) Close() error { return nil }
