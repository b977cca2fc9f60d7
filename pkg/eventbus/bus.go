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

package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

type Topic string
type Event = any

// Bus is an in-memory pub/sub that keeps the last event per topic.
// Subscribers hold a one slot channel and only ever see the most recent
// event: a slow reader loses intermediate values, never the latest.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[uint64]chan Event
	last      map[Topic]Event
	idCounter atomic.Uint64
	closed    atomic.Bool

	published atomic.Int64
	delivered atomic.Int64
	replaced  atomic.Int64
	dropped   atomic.Int64
}

// Stats counts bus traffic since start.
type Stats struct {
	Published int64
	Delivered int64
	Replaced  int64 // an unread event was overwritten
	Dropped   int64
}

func New() *Bus {
	return &Bus{
		subs: make(map[Topic]map[uint64]chan Event),
		last: make(map[Topic]Event),
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Replaced:  b.replaced.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Publish stores ev as the topic's last event and hands it to every
// subscriber, replacing anything they have not read yet.
func (b *Bus) Publish(topic Topic, ev Event) {
	// sends never block, so they happen under the lock and cannot race
	// an unsubscribe closing the channel
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return
	}
	b.published.Add(1)
	b.last[topic] = ev
	for _, ch := range b.subs[topic] {
		b.replace(ch, ev)
	}
}

func (b *Bus) replace(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		b.delivered.Add(1)
		return
	default:
	}
	select {
	case <-ch:
		b.replaced.Add(1)
	default:
	}
	select {
	case ch <- ev:
		b.delivered.Add(1)
	default:
		// not expected while publishers hold the lock
		b.dropped.Add(1)
	}
}

// Subscribe returns a channel of events on topic. With withLast the
// topic's last event, if any, is delivered right away. The channel is
// closed when ctx ends, unsubscribe is called, or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, withLast bool) (<-chan Event, func()) {
	ch := make(chan Event, 1)
	id := b.idCounter.Add(1)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]chan Event)
	}
	b.subs[topic][id] = ch
	if withLast {
		if last, ok := b.last[topic]; ok {
			b.replace(ch, last)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsub := func() { once.Do(func() { close(done) }) }

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		// Close may already own this channel
		if m, ok := b.subs[topic]; ok {
			if _, mine := m[id]; mine {
				delete(m, id)
				if len(m) == 0 {
					delete(b.subs, topic)
				}
				close(ch)
			}
		}
	}()

	return ch, unsub
}

// GetLast returns the last event published on topic.
func (b *Bus) GetLast(topic Topic) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[topic]
	return v, ok
}

// Last is GetLast with the payload type asserted.
func Last[T any](b *Bus, topic Topic) (T, bool) {
	v, ok := b.GetLast(topic)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Close closes every subscriber channel. Publish becomes a no-op and
// Subscribe hands out closed channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return
	}
	for _, m := range b.subs {
		for _, ch := range m {
			close(ch)
		}
	}
	b.subs = make(map[Topic]map[uint64]chan Event)
}
