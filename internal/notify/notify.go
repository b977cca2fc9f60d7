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

// Package notify delivers user-visible notifications raised by the learning
// engine. Delivery is fire-and-forget from the engine's point of view.
package notify

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

type Kind string

const (
	KindLearningStopped     Kind = "learning-stopped"
	KindUndersizedHeating   Kind = "undersized-heating"
	KindCoefficientsLearned Kind = "coefficients-learned"
)

// dedupThreshold is the smallest coefficient change worth a repeated notification.
const dedupThreshold = 0.005

type Notification struct {
	ID      string    `json:"id"`
	Zone    string    `json:"zone"`
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Kint    float64   `json:"kint"`
	Kext    float64   `json:"kext"`
	Time    time.Time `json:"time"`
}

// StableID is the per-zone identifier of a notification kind; a newer
// notification with the same id replaces the older one on the receiving side.
func StableID(zone string, kind Kind) string {
	return zone + "." + string(kind)
}

type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Dedup drops notifications whose coefficients are materially unchanged
// from the last one delivered with the same id.
type Dedup struct {
	next Sink
	mu   sync.Mutex
	last map[string]Notification
}

func NewDedup(next Sink) *Dedup {
	return &Dedup{next: next, last: make(map[string]Notification)}
}

func (d *Dedup) Notify(ctx context.Context, n Notification) error {
	d.mu.Lock()
	prev, seen := d.last[n.ID]
	if seen && math.Abs(prev.Kint-n.Kint) < dedupThreshold && math.Abs(prev.Kext-n.Kext) < dedupThreshold {
		d.mu.Unlock()
		return nil
	}
	d.last[n.ID] = n
	d.mu.Unlock()

	err := d.next.Notify(ctx, n)
	if err != nil {
		// let the next attempt through
		d.mu.Lock()
		if seen {
			d.last[n.ID] = prev
		} else {
			delete(d.last, n.ID)
		}
		d.mu.Unlock()
	}
	return err
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notification, for tests and the CLI dry-run.
type Recorder struct {
	mu  sync.Mutex
	All []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	r.All = append(r.All, n)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := 0
	for _, n := range r.All {
		if n.Kind == kind {
			c++
		}
	}
	return c
}
