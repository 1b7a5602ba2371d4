/*
Copyright © 2020 Marvin

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package errconcurrent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Group runs one goroutine per task and keeps every failure, unlike errgroup it never stops at the first error
type Group struct {
	wg  sync.WaitGroup
	sem *semaphore.Weighted

	mu      sync.Mutex
	results []Result
}

// Result is a failed task with its error, Task is the value passed to Go and names the task in Err
type Result struct {
	Task interface{}
	Err  error
}

func NewGroup() *Group {
	return &Group{}
}

// SetLimit bounds the running goroutines, a negative limit removes the bound.
// It must be called before the first Go.
func (g *Group) SetLimit(n int) {
	if n < 0 {
		g.sem = nil
		return
	}
	if n == 0 {
		n = 1
	}
	g.sem = semaphore.NewWeighted(int64(n))
}

// Go blocks while the limit is reached, then runs f(t) in a new goroutine
func (g *Group) Go(t interface{}, f func(t interface{}) error) {
	if g.sem != nil {
		// a background context never fails the acquire
		_ = g.sem.Acquire(context.Background(), 1)
	}
	g.wg.Add(1)
	go func() {
		defer func() {
			if g.sem != nil {
				g.sem.Release(1)
			}
			g.wg.Done()
		}()
		if err := f(t); err != nil {
			g.mu.Lock()
			g.results = append(g.results, Result{Task: t, Err: err})
			g.mu.Unlock()
		}
	}()
}

// Wait returns the failed tasks in completion order once every goroutine returned
func (g *Group) Wait() []Result {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.results
}

// Err joins the failures, nil when every task succeeded
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for _, r := range g.results {
		errs = append(errs, fmt.Errorf("task [%v] failed: %w", r.Task, r.Err))
	}
	return errors.Join(errs...)
}
