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
package lock

import (
	"context"
	"time"
)

type ILock interface {
	InitLock(ctx context.Context, action string) error
	AcquireLock(ctx context.Context, action, serverID string, now time.Time, timeout time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, action, serverID string, now time.Time) (bool, error)
	ListLock(ctx context.Context) ([]*Lock, error)
}
