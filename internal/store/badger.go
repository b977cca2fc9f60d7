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

package store

import (
	"autotpi/pkg/logger"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger persists state in an embedded BadgerDB.
type Badger struct {
	db     *badger.DB
	log    *logger.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

type badgerLogger struct {
	log *logger.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debug(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debug(f, v...) }

// OpenBadger opens (or creates) a database in dir with synchronous writes.
func OpenBadger(dir string) (*Badger, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create badger dir %s: %w", dir, err)
	}
	log := logger.New("Store")
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log})
	return openBadger(opts, log)
}

// OpenBadgerInMemory is for tests.
func OpenBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return openBadger(opts, logger.New("Store"))
}

func openBadger(opts badger.Options, log *logger.Logger) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	b := &Badger{
		db:     db,
		log:    log,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}
	if opts.InMemory {
		close(b.doneGC)
	} else {
		go b.runGC(10 * time.Minute)
	}
	return b, nil
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, nil
}

func (b *Badger) Put(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", key, err)
	}
	return nil
}

func (b *Badger) Close() error {
	select {
	case <-b.stopGC:
	default:
		close(b.stopGC)
	}
	<-b.doneGC
	return b.db.Close()
}

// runGC triggers value log garbage collection periodically.
func (b *Badger) runGC(interval time.Duration) {
	defer close(b.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("value log GC: %v", err)
			}
		}
	}
}
