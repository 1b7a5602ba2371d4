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
	"time"
)

// Option configures a node exchange pool
type Option func(*pool)

// WithExecuteHandle is the exchange run for every submitted task
func WithExecuteHandle(fn func(ctx context.Context, t Task) error) Option {
	return func(p *pool) { p.execute = fn }
}

// WithResultCallback receives the final outcome of every task, after retries
func WithResultCallback(fn func(r Result)) Option {
	return func(p *pool) { p.onResult = fn }
}

// WithRetryCount is the number of extra attempts of a failed exchange
func WithRetryCount(n int) Option {
	return func(p *pool) { p.retries = n }
}

// WithRetryInterval waits between two attempts of the same task
func WithRetryInterval(d time.Duration) Option {
	return func(p *pool) { p.retryInterval = d }
}

// WithTaskQueueSize bounds the submitted tasks waiting for a free worker
func WithTaskQueueSize(size int) Option {
	return func(p *pool) { p.queueSize = size }
}

// WithPanicHandle recovers a panicking result callback and keeps the worker alive
func WithPanicHandle(recoverPanic bool) Option {
	return func(p *pool) { p.recoverPanic = recoverPanic }
}

// WithCanceledHandle replaces the result of a task interrupted by the pool context
func WithCanceledHandle(fn func(ctx context.Context, t Task) error) Option {
	return func(p *pool) { p.onCanceled = fn }
}
