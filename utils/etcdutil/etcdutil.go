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
	"crypto/tls"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	DefaultDialTimeout = 30 * time.Second
	// DefaultRequestTimeout bounds one lock read or compare-and-set
	DefaultRequestTimeout = 10 * time.Second
	// DefaultAutoSyncIntervalDuration refreshes the member list of the lock cluster
	DefaultAutoSyncIntervalDuration = 30 * time.Second
)

// CreateClient connects to the etcd cluster that holds the cluster locks of the sync servers
func CreateClient(ctx context.Context, endpoints []string, tlsCfg *tls.Config) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Context:          ctx,
		Endpoints:        endpoints,
		DialTimeout:      DefaultDialTimeout,
		AutoSyncInterval: DefaultAutoSyncIntervalDuration,
		TLS:              tlsCfg,
	})
}

// GetKey reads the lock keys with the request timeout
func GetKey(ctx context.Context, client *clientv3.Client, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()
	return client.Get(ctx, key, opts...)
}

// TxnKey commits the ops when every compare holds, otherwise the else ops
func TxnKey(ctx context.Context, client *clientv3.Client, cmps []clientv3.Cmp, thenOps []clientv3.Op, elseOps ...clientv3.Op) (*clientv3.TxnResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()
	return client.Txn(ctx).If(cmps...).Then(thenOps...).Else(elseOps...).Commit()
}
