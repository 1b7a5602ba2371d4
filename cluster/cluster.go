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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/model/lock"
	"github.com/wentaojin/dbsync/utils/configutil"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/etcdutil"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

// lock implementation types
const (
	TypeDatabase = "database"
	TypeEtcd     = "etcd"
)

// Lock serializes named actions across the servers of one node
type Lock interface {
	// Lock reports whether the server holds the action lock after the call
	Lock(ctx context.Context, action string) (bool, error)
	Unlock(ctx context.Context, action string) error
	ServerID() string
	FindLocks(ctx context.Context) ([]*lock.Lock, error)
}

// NewServerID returns the configured server id, else the host name, else a random uuid
func NewServerID(configured string) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}
	if host := stringutil.GetLocalHostName(); host != "" {
		return host
	}
	return uuid.NewString()
}

// New builds the cluster lock of the options, a disabled cluster uses the in-memory lock
func New(ctx context.Context, opts *configutil.ClusterOptions, store *model.Store, serverID string) (Lock, error) {
	if opts == nil || !opts.Enabled {
		return NewMemoryLock(serverID), nil
	}
	switch strings.ToLower(opts.Type) {
	case "", TypeDatabase:
		return NewDatabaseLock(ctx, store, serverID, opts.LockTimeoutDuration())
	case TypeEtcd:
		client, err := etcdutil.CreateClient(ctx, opts.Endpoints, nil)
		if err != nil {
			return nil, fmt.Errorf("cluster etcd client create failed: %v", err)
		}
		return etcdutil.NewLocker(client, etcdutil.DefaultLockPrefix, serverID, opts.LockTimeoutDuration()), nil
	default:
		return nil, fmt.Errorf("cluster lock type [%s] is not supported, please choose database or etcd", opts.Type)
	}
}

// DatabaseLock compare-and-sets rows of the lock table
type DatabaseLock struct {
	store    *model.Store
	serverID string
	timeout  time.Duration
}

// NewDatabaseLock initializes a row for every known action
func NewDatabaseLock(ctx context.Context, store *model.Store, serverID string, timeout time.Duration) (*DatabaseLock, error) {
	for _, action := range []string{constant.LockActionRoute, constant.LockActionPush, constant.LockActionPull, constant.LockActionPurge} {
		if err := store.LockRW().InitLock(ctx, action); err != nil {
			return nil, err
		}
	}
	return &DatabaseLock{store: store, serverID: serverID, timeout: timeout}, nil
}

func (l *DatabaseLock) ServerID() string {
	return l.serverID
}

func (l *DatabaseLock) Lock(ctx context.Context, action string) (bool, error) {
	if err := l.store.LockRW().InitLock(ctx, action); err != nil {
		return false, err
	}
	ok, err := l.store.LockRW().AcquireLock(ctx, action, l.serverID, time.Now(), l.timeout)
	if err != nil {
		return false, err
	}
	if !ok {
		logger.Debug("cluster lock held by another server",
			zap.String("action", action),
			zap.String("server_id", l.serverID))
	}
	return ok, nil
}

func (l *DatabaseLock) Unlock(ctx context.Context, action string) error {
	ok, err := l.store.LockRW().ReleaseLock(ctx, action, l.serverID, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("cluster lock was not held on release",
			zap.String("action", action),
			zap.String("server_id", l.serverID))
	}
	return nil
}

func (l *DatabaseLock) FindLocks(ctx context.Context) ([]*lock.Lock, error) {
	return l.store.LockRW().ListLock(ctx)
}

// MemoryLock is the lock of a node served by one process
type MemoryLock struct {
	serverID string

	mu    sync.Mutex
	locks map[string]*lock.Lock
}

func NewMemoryLock(serverID string) *MemoryLock {
	return &MemoryLock{serverID: serverID, locks: make(map[string]*lock.Lock)}
}

func (l *MemoryLock) ServerID() string {
	return l.serverID
}

func (l *MemoryLock) Lock(_ context.Context, action string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[action]
	if !ok {
		lk = &lock.Lock{LockAction: action}
		l.locks[action] = lk
	}
	if lk.LockingServerID != nil {
		return false, nil
	}
	now := time.Now()
	serverID := l.serverID
	lk.LockingServerID = &serverID
	lk.LockTime = &now
	return true, nil
}

func (l *MemoryLock) Unlock(_ context.Context, action string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[action]
	if !ok || lk.LockingServerID == nil {
		return nil
	}
	lk.LastLockingServerID = *lk.LockingServerID
	lk.LastLockTime = lk.LockTime
	lk.LockingServerID, lk.LockTime = nil, nil
	return nil
}

func (l *MemoryLock) FindLocks(_ context.Context) ([]*lock.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	actions := make([]string, 0, len(l.locks))
	for action := range l.locks {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	locks := make([]*lock.Lock, 0, len(actions))
	for _, action := range actions {
		c := *l.locks[action]
		locks = append(locks, &c)
	}
	return locks, nil
}
