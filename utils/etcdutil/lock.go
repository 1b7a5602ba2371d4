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
package etcdutil

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/wentaojin/dbsync/model/lock"
)

// DefaultLockPrefix is the key prefix of the cluster locks
const DefaultLockPrefix = "/dbsync/lock/"

type lockValue struct {
	ServerID string    `json:"serverID"`
	LockTime time.Time `json:"lockTime"`
}

// Locker is a cluster lock stored in etcd, a held lock is attached to a lease of the lock timeout so a crashed
// holder loses it
type Locker struct {
	client   *clientv3.Client
	prefix   string
	serverID string
	timeout  time.Duration
}

func NewLocker(client *clientv3.Client, prefix, serverID string, timeout time.Duration) *Locker {
	if prefix == "" {
		prefix = DefaultLockPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Locker{client: client, prefix: prefix, serverID: serverID, timeout: timeout}
}

func (l *Locker) key(action string) string {
	return l.prefix + action
}

func (l *Locker) lastKey(action string) string {
	return l.prefix + "last/" + action
}

func (l *Locker) ServerID() string {
	return l.serverID
}

// Lock creates the lock key when it is absent, a lock already held by the server is refreshed
func (l *Locker) Lock(ctx context.Context, action string) (bool, error) {
	key := l.key(action)
	val, err := json.Marshal(&lockValue{ServerID: l.serverID, LockTime: time.Now()})
	if err != nil {
		return false, err
	}
	var (
		opts    []clientv3.OpOption
		leaseID clientv3.LeaseID
	)
	if l.timeout > 0 {
		lease, err := l.client.Grant(ctx, int64(math.Ceil(l.timeout.Seconds())))
		if err != nil {
			return false, fmt.Errorf("etcd lock [%s] lease grant failed: %v", action, err)
		}
		leaseID = lease.ID
		opts = append(opts, clientv3.WithLease(leaseID))
	}

	resp, err := TxnKey(ctx, l.client,
		[]clientv3.Cmp{clientv3.Compare(clientv3.CreateRevision(key), "=", 0)},
		[]clientv3.Op{clientv3.OpPut(key, string(val), opts...)},
		clientv3.OpGet(key))
	if err != nil {
		l.revoke(leaseID)
		return false, fmt.Errorf("etcd lock [%s] acquire failed: %v", action, err)
	}
	if resp.Succeeded {
		return true, nil
	}

	kvs := resp.Responses[0].GetResponseRange().Kvs
	if len(kvs) == 0 {
		l.revoke(leaseID)
		return false, nil
	}
	holder := &lockValue{}
	if err = json.Unmarshal(kvs[0].Value, holder); err != nil || holder.ServerID != l.serverID {
		l.revoke(leaseID)
		return false, nil
	}
	refresh, err := TxnKey(ctx, l.client,
		[]clientv3.Cmp{clientv3.Compare(clientv3.ModRevision(key), "=", kvs[0].ModRevision)},
		[]clientv3.Op{clientv3.OpPut(key, string(val), opts...)})
	if err != nil {
		l.revoke(leaseID)
		return false, fmt.Errorf("etcd lock [%s] refresh failed: %v", action, err)
	}
	if !refresh.Succeeded {
		l.revoke(leaseID)
	}
	return refresh.Succeeded, nil
}

func (l *Locker) revoke(leaseID clientv3.LeaseID) {
	if leaseID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	_, _ = l.client.Revoke(ctx, leaseID)
}

// Unlock deletes the lock key when the server holds it
func (l *Locker) Unlock(ctx context.Context, action string) error {
	key := l.key(action)
	resp, err := GetKey(ctx, l.client, key)
	if err != nil {
		return fmt.Errorf("etcd lock [%s] get failed: %v", action, err)
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	holder := &lockValue{}
	if err = json.Unmarshal(resp.Kvs[0].Value, holder); err != nil {
		return fmt.Errorf("etcd lock [%s] value unmarshal failed: %v", action, err)
	}
	if holder.ServerID != l.serverID {
		return nil
	}
	last, err := json.Marshal(&lockValue{ServerID: l.serverID, LockTime: holder.LockTime})
	if err != nil {
		return err
	}
	_, err = TxnKey(ctx, l.client,
		[]clientv3.Cmp{clientv3.Compare(clientv3.ModRevision(key), "=", resp.Kvs[0].ModRevision)},
		[]clientv3.Op{clientv3.OpDelete(key), clientv3.OpPut(l.lastKey(action), string(last))})
	if err != nil {
		return fmt.Errorf("etcd lock [%s] release failed: %v", action, err)
	}
	return nil
}

// FindLocks returns the locks known to etcd
func (l *Locker) FindLocks(ctx context.Context) ([]*lock.Lock, error) {
	resp, err := GetKey(ctx, l.client, l.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd lock prefix [%s] get failed: %v", l.prefix, err)
	}
	locks := make(map[string]*lock.Lock)
	var actions []string
	get := func(action string) *lock.Lock {
		if lk, ok := locks[action]; ok {
			return lk
		}
		lk := &lock.Lock{LockAction: action}
		locks[action] = lk
		actions = append(actions, action)
		return lk
	}
	for _, kv := range resp.Kvs {
		name := strings.TrimPrefix(string(kv.Key), l.prefix)
		v := &lockValue{}
		if err = json.Unmarshal(kv.Value, v); err != nil {
			return nil, fmt.Errorf("etcd lock key [%s] value unmarshal failed: %v", kv.Key, err)
		}
		lockTime := v.LockTime
		if strings.HasPrefix(name, "last/") {
			lk := get(strings.TrimPrefix(name, "last/"))
			lk.LastLockingServerID = v.ServerID
			lk.LastLockTime = &lockTime
			continue
		}
		lk := get(name)
		serverID := v.ServerID
		lk.LockingServerID = &serverID
		lk.LockTime = &lockTime
	}
	result := make([]*lock.Lock, 0, len(actions))
	for _, a := range actions {
		result = append(result, locks[a])
	}
	return result, nil
}
