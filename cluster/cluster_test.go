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
package cluster

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/utils/configutil"
	"github.com/wentaojin/dbsync/utils/constant"
)

func newStore(t *testing.T) *model.Store {
	t.Helper()
	store, err := model.CreateDatabaseConnection(&model.Database{
		Type: model.DatabaseTypeSqlite,
		Path: filepath.Join(t.TempDir(), "meta.db"),
	}, "warn")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDatabaseLock(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a, err := NewDatabaseLock(ctx, store, "server-a", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewDatabaseLock(ctx, store, "server-b", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		lock Lock
		want bool
	}{
		{"a acquires", a, true},
		{"a reacquires its own lock", a, true},
		{"b is refused", b, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lock.Lock(ctx, constant.LockActionRoute)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Lock() = %v, want %v", got, tt.want)
			}
		})
	}

	// releasing a lock held by another server is a no-op
	if err = b.Unlock(ctx, constant.LockActionRoute); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Lock(ctx, constant.LockActionRoute); ok {
		t.Fatalf("Lock() after foreign unlock = true")
	}
	if err = a.Unlock(ctx, constant.LockActionRoute); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Lock(ctx, constant.LockActionRoute); !ok {
		t.Fatalf("Lock() after release = false")
	}

	locks, err := a.FindLocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, lk := range locks {
		if lk.LockAction != constant.LockActionRoute {
			continue
		}
		if lk.LockingServerID == nil || *lk.LockingServerID != "server-b" || lk.LastLockingServerID != "server-a" {
			t.Errorf("FindLocks() route lock = %+v", lk)
		}
	}
	if len(locks) != 4 {
		t.Errorf("FindLocks() = %d locks, want 4", len(locks))
	}
}

func TestDatabaseLockTimeout(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a, err := NewDatabaseLock(ctx, store, "server-a", 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewDatabaseLock(ctx, store, "server-b", time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Lock(ctx, constant.LockActionPush); !ok {
		t.Fatal("Lock() = false")
	}
	time.Sleep(5 * time.Millisecond)
	// b breaks a lock older than its timeout, a never breaks b's lock
	if ok, _ := b.Lock(ctx, constant.LockActionPush); !ok {
		t.Errorf("Lock() of an expired lock = false")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := a.Lock(ctx, constant.LockActionPush); ok {
		t.Errorf("Lock() with zero timeout broke a held lock")
	}
}

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, &configutil.ClusterOptions{Enabled: false}, nil, "server-a")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.Lock(ctx, constant.LockActionPurge); !ok {
		t.Fatal("Lock() = false")
	}
	if ok, _ := l.Lock(ctx, constant.LockActionPurge); ok {
		t.Error("Lock() of a held lock = true")
	}
	if err = l.Unlock(ctx, constant.LockActionPurge); err != nil {
		t.Fatal(err)
	}
	locks, _ := l.FindLocks(ctx)
	if len(locks) != 1 || locks[0].LockingServerID != nil || locks[0].LastLockingServerID != "server-a" {
		t.Errorf("FindLocks() = %+v", locks)
	}
}

func TestNewServerID(t *testing.T) {
	if got := NewServerID(" s1 "); got != "s1" {
		t.Errorf("NewServerID() = %s, want s1", got)
	}
	if got := NewServerID(""); got == "" {
		t.Errorf("NewServerID() is blank")
	}
}
