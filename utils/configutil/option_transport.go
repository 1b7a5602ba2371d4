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
package configutil

import (
	"time"

	"github.com/wentaojin/dbsync/utils/constant"
)

// TransportOptions tunes push, pull and the payload encoding
type TransportOptions struct {
	PushCron    string `toml:"push-cron" json:"push-cron"`
	PullCron    string `toml:"pull-cron" json:"pull-cron"`
	PushWorkers int    `toml:"push-workers" json:"push-workers"`
	RetryCount  int    `toml:"retry-count" json:"retry-count"`
	// RetryInterval milliseconds between two attempts against the same node
	RetryInterval int64 `toml:"retry-interval" json:"retry-interval"`
	// Timeout milliseconds of one push or pull attempt
	Timeout     int64  `toml:"timeout" json:"timeout"`
	Compression string `toml:"compression" json:"compression"`
}

type TransportOption func(opts *TransportOptions)

func DefaultTransportConfig() *TransportOptions {
	return &TransportOptions{
		PushCron:    constant.DefaultPushCron,
		PullCron:    constant.DefaultPullCron,
		PushWorkers: constant.DefaultPushWorkers,
		Timeout:     constant.DefaultTransportTimeout,
		Compression: constant.CompressionNone,
	}
}

func (o *TransportOptions) TimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Millisecond
}

func (o *TransportOptions) RetryIntervalDuration() time.Duration {
	return time.Duration(o.RetryInterval) * time.Millisecond
}

func WithPushWorkers(workers int) TransportOption {
	return func(opts *TransportOptions) {
		opts.PushWorkers = workers
	}
}

func WithCompression(codec string) TransportOption {
	return func(opts *TransportOptions) {
		opts.Compression = codec
	}
}

func WithTransportTimeout(ms int64) TransportOption {
	return func(opts *TransportOptions) {
		opts.Timeout = ms
	}
}

// ClusterOptions selects the cluster lock implementation
type ClusterOptions struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// Type is database or etcd
	Type      string   `toml:"type" json:"type"`
	Endpoints []string `toml:"endpoints" json:"endpoints"`
	// LockTimeout milliseconds after which another server may break the lock, zero never breaks it
	LockTimeout int64 `toml:"lock-timeout" json:"lock-timeout"`
}

func DefaultClusterConfig() *ClusterOptions {
	return &ClusterOptions{
		Type:        "database",
		LockTimeout: constant.DefaultLockTimeout,
	}
}

func (o *ClusterOptions) LockTimeoutDuration() time.Duration {
	return time.Duration(o.LockTimeout) * time.Millisecond
}

// PurgeOptions controls the metadata purge job
type PurgeOptions struct {
	PurgeCron        string `toml:"purge-cron" json:"purge-cron"`
	RetentionMinutes int    `toml:"retention-minutes" json:"retention-minutes"`
}

func DefaultPurgeConfig() *PurgeOptions {
	return &PurgeOptions{
		PurgeCron:        constant.DefaultPurgeCron,
		RetentionMinutes: constant.DefaultPurgeRetention,
	}
}

// LoadOptions selects where incoming batches are written
type LoadOptions struct {
	Writer       string   `toml:"writer" json:"writer"`
	KafkaBrokers []string `toml:"kafka-brokers" json:"kafka-brokers"`
	KafkaTopic   string   `toml:"kafka-topic" json:"kafka-topic"`
}

func DefaultLoadConfig() *LoadOptions {
	return &LoadOptions{
		Writer: constant.WriterTypeDatabase,
	}
}
