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

package service

import (
	"autotpi/pkg/logger"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Runnable is a long lived part of the app. Run blocks until ctx ends.
type Runnable interface {
	Run(ctx context.Context)
}

// Func adapts a plain function to Runnable.
type Func func(ctx context.Context)

func (f Func) Run(ctx context.Context) { f(ctx) }

// Named labels a Runnable in the panic log.
func Named(name string, r Runnable) Runnable {
	return named{name, r}
}

type named struct {
	name string
	Runnable
}

func (n named) String() string { return n.name }

// Start runs every service in its own goroutine. A panic in one is logged
// and cancels the rest. The returned channel yields the exit code once
// all of them have returned.
func Start(ctx context.Context, ctxCancel context.CancelFunc, services ...Runnable) <-chan int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var exitCode int
	exitCh := make(chan int, 1)

	log := logger.New("Panic")

	for _, s := range services {
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("%s: %v\n%s", label(s), r, debug.Stack())
					mu.Lock()
					exitCode = -1
					mu.Unlock()
					ctxCancel()
				}
			}()
			s.Run(ctx)
		})
	}

	go func() {
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		exitCh <- exitCode
	}()

	return exitCh
}

func label(r Runnable) string {
	if s, ok := r.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", r)
}
