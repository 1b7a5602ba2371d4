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

// NodeOptions identifies the local replication node
type NodeOptions struct {
	NodeID        string `toml:"node-id" json:"node-id"`
	NodeGroupID   string `toml:"node-group-id" json:"node-group-id"`
	ExternalID    string `toml:"external-id" json:"external-id"`
	ServerAddr    string `toml:"server-addr" json:"server-addr"`
	SecurityToken string `toml:"security-token" json:"-"`
	// ServerID identifies the process in the cluster lock, blank is the host name
	ServerID string `toml:"server-id" json:"server-id"`
}

type NodeOption func(opts *NodeOptions)

func DefaultNodeConfig() *NodeOptions {
	return &NodeOptions{
		NodeGroupID: constant.DefaultNodeGroupID,
		ServerAddr:  constant.DefaultServerAddr,
	}
}

func WithNodeID(nodeID string) NodeOption {
	return func(opts *NodeOptions) {
		opts.NodeID = nodeID
	}
}

func WithNodeGroupID(groupID string) NodeOption {
	return func(opts *NodeOptions) {
		opts.NodeGroupID = groupID
	}
}

func WithExternalID(externalID string) NodeOption {
	return func(opts *NodeOptions) {
		opts.ExternalID = externalID
	}
}

func WithServerAddr(addr string) NodeOption {
	return func(opts *NodeOptions) {
		opts.ServerAddr = addr
	}
}

func WithSecurityToken(token string) NodeOption {
	return func(opts *NodeOptions) {
		opts.SecurityToken = token
	}
}

func WithServerID(serverID string) NodeOption {
	return func(opts *NodeOptions) {
		opts.ServerID = serverID
	}
}

// RoutingOptions tunes the router engine and the gap detector
type RoutingOptions struct {
	RouteCron      string `toml:"route-cron" json:"route-cron"`
	RoutingThreads int    `toml:"routing-threads" json:"routing-threads"`
	PeekAheadSize  int    `toml:"peek-ahead-size" json:"peek-ahead-size"`
	LargestGapSize int64  `toml:"largest-gap-size" json:"largest-gap-size"`
	GapMaxRescans  int    `toml:"gap-max-rescans" json:"gap-max-rescans"`
	// StaleGapTimeout milliseconds after which an empty gap may be skipped
	StaleGapTimeout int64 `toml:"stale-gap-timeout" json:"stale-gap-timeout"`
	MaxOpenGaps     int   `toml:"max-open-gaps" json:"max-open-gaps"`
	// StaleRoutingMinute minutes after which an unfinished RT batch is purged
	StaleRoutingMinute int `toml:"stale-routing-minute" json:"stale-routing-minute"`
}

type RoutingOption func(opts *RoutingOptions)

func DefaultRoutingConfig() *RoutingOptions {
	return &RoutingOptions{
		RouteCron:          constant.DefaultRouteCron,
		RoutingThreads:     constant.DefaultRoutingThreads,
		PeekAheadSize:      constant.DefaultPeekAheadSize,
		LargestGapSize:     constant.DefaultLargestGapSize,
		GapMaxRescans:      constant.DefaultGapMaxRescans,
		StaleGapTimeout:    constant.DefaultStaleGapTimeout,
		MaxOpenGaps:        constant.DefaultMaxOpenGaps,
		StaleRoutingMinute: constant.DefaultStaleRoutingMinute,
	}
}

func (o *RoutingOptions) StaleGapDuration() time.Duration {
	return time.Duration(o.StaleGapTimeout) * time.Millisecond
}

func WithRoutingThreads(threads int) RoutingOption {
	return func(opts *RoutingOptions) {
		opts.RoutingThreads = threads
	}
}
