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
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
)

func TestGroupCollectsFailedTasks(t *testing.T) {
	g := NewGroup()
	g.SetLimit(2)

	var running, peak int32
	for i := 0; i < 6; i++ {
		g.Go(fmt.Sprintf("channel-%d", i), func(t interface{}) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			defer atomic.AddInt32(&running, -1)
			if t.(string) == "channel-1" || t.(string) == "channel-4" {
				return errors.New("route failed")
			}
			return nil
		})
	}
	results := g.Wait()
	if len(results) != 2 {
		t.Fatalf("Wait() results = %+v, want 2 failed tasks", results)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("peak running = %d, limit 2", p)
	}
	err := g.Err()
	if err == nil || !errors.Is(err, results[0].Err) {
		t.Fatalf("Err() = %v", err)
	}
	for _, name := range []string{"task [channel-1] failed", "task [channel-4] failed"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Err() = %q, want it to name %q", err, name)
		}
	}
}

func TestGroupNoFailure(t *testing.T) {
	g := NewGroup()
	g.Go("item", func(interface{}) error { return nil })
	if results := g.Wait(); len(results) != 0 {
		t.Errorf("Wait() = %+v", results)
	}
	if err := g.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}
