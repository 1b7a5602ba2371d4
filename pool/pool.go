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
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

// IPool runs node exchanges on a bounded set of workers
type IPool interface {
	SubmitTask(t Task)
	// Wait blocks until every submitted task has produced its result
	Wait()
	// Release stops the workers, the pool is unusable afterwards
	Release()
	RunningWorkerCount() int
	FreeWorkerCount() int
}

// Task is one exchange with a remote node, Name carries the node id and Group the sync action
type Task struct {
	Name  string      `json:"name"`
	Group string      `json:"group"`
	Job   interface{} `json:"job"`
}

func (t Task) String() string {
	s, _ := stringutil.MarshalJSON(t)
	return s
}

type Result struct {
	Task  Task
	Error error
}

type pool struct {
	ctx     context.Context
	workers int

	queueSize     int
	retries       int
	retryInterval time.Duration
	recoverPanic  bool
	execute       func(ctx context.Context, t Task) error
	onResult      func(r Result)
	onCanceled    func(ctx context.Context, t Task) error

	queue   chan Task
	busy    *atomic.Int32
	pending sync.WaitGroup
	stopped sync.WaitGroup
	release sync.Once
}

// NewPool starts maxWorkers workers, a non positive count runs a single worker
func NewPool(ctx context.Context, maxWorkers int, opts ...Option) IPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	p := &pool{
		ctx:       ctx,
		workers:   maxWorkers,
		queueSize: constant.DefaultTaskQueueChannelSize,
		busy:      atomic.NewInt32(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan Task, p.queueSize)
	p.stopped.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.work(i)
	}
	return p
}

func (p *pool) SubmitTask(t Task) {
	p.pending.Add(1)
	p.queue <- t
}

func (p *pool) Wait() {
	p.pending.Wait()
}

func (p *pool) Release() {
	p.release.Do(func() {
		close(p.queue)
		p.stopped.Wait()
	})
}

func (p *pool) RunningWorkerCount() int {
	return int(p.busy.Load())
}

func (p *pool) FreeWorkerCount() int {
	return p.workers - int(p.busy.Load())
}
