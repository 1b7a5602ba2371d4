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
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/logger"
)

var errCanceled = errors.New("node exchange canceled")

func (p *pool) work(id int) {
	defer p.stopped.Done()
	for t := range p.queue {
		p.busy.Inc()
		err := p.attempt(t)
		p.report(id, t, err)
		p.busy.Dec()
		p.pending.Done()
	}
}

// attempt runs the task until it succeeds, the retries are spent or the pool context ends
func (p *pool) attempt(t Task) error {
	var err error
	for i := 0; i <= p.retries; i++ {
		if i > 0 {
			logger.Warn("node exchange failed, retrying",
				zap.String("task", t.String()),
				zap.Int("attempt", i+1),
				zap.Error(err))
			if !p.sleep() {
				err = errCanceled
				break
			}
		}
		if err = p.run(t); err == nil || errors.Is(err, errCanceled) {
			break
		}
	}
	if errors.Is(err, errCanceled) && p.onCanceled != nil {
		return p.onCanceled(context.Background(), t)
	}
	return err
}

func (p *pool) sleep() bool {
	if p.retryInterval <= 0 {
		return p.ctx.Err() == nil
	}
	timer := time.NewTimer(p.retryInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// run returns as soon as the pool context ends, the exchange goroutine observes the canceled context
func (p *pool) run(t Task) error {
	if p.execute == nil {
		return nil
	}
	if p.ctx.Err() != nil {
		return errCanceled
	}
	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.execute(ctx, t) }()
	select {
	case err := <-done:
		return err
	case <-p.ctx.Done():
		logger.Error("node exchange interrupted", zap.String("task", t.String()))
		return errCanceled
	}
}

func (p *pool) report(id int, t Task, err error) {
	if p.onResult == nil {
		return
	}
	if p.recoverPanic {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("node exchange result callback panic",
					zap.Int("worker", id),
					zap.String("task", t.String()),
					zap.Any("panic", r))
			}
		}()
	}
	p.onResult(Result{Task: t, Error: err})
}
