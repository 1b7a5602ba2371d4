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
package topology

import (
	"sort"
	"strings"
	"time"

	"github.com/wentaojin/dbsync/model/config"
)

// Snapshot is an immutable view of the replication topology, callers never modify the returned entities
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	Nodes            []*config.Node
	Links            []*config.NodeGroupLink
	Channels         []*config.Channel
	Triggers         []*config.Trigger
	TriggerRouters   []*config.TriggerRouter
	Routers          []*config.Router
	Conflicts        []*config.Conflict
	TransformTables  []*config.TransformTable
	TransformColumns []*config.TransformColumn
	LoadFilters      []*config.LoadFilter

	nodes    map[string]*config.Node
	channels map[string]*config.Channel
	triggers map[string]*config.Trigger
	routers  map[string]*config.Router
}

// TriggerRoute is a trigger router resolved with its trigger and router
type TriggerRoute struct {
	Trigger       *config.Trigger
	TriggerRouter *config.TriggerRouter
	Router        *config.Router
}

func newSnapshot(s *Snapshot) *Snapshot {
	sort.SliceStable(s.Channels, func(i, j int) bool {
		if s.Channels[i].ProcessingOrder != s.Channels[j].ProcessingOrder {
			return s.Channels[i].ProcessingOrder < s.Channels[j].ProcessingOrder
		}
		return s.Channels[i].ChannelID < s.Channels[j].ChannelID
	})
	sort.SliceStable(s.TriggerRouters, func(i, j int) bool {
		if s.TriggerRouters[i].InitialLoadOrder != s.TriggerRouters[j].InitialLoadOrder {
			return s.TriggerRouters[i].InitialLoadOrder < s.TriggerRouters[j].InitialLoadOrder
		}
		return s.TriggerRouters[i].RouterID < s.TriggerRouters[j].RouterID
	})

	s.nodes = make(map[string]*config.Node, len(s.Nodes))
	for _, n := range s.Nodes {
		s.nodes[n.NodeID] = n
	}
	s.channels = make(map[string]*config.Channel, len(s.Channels))
	for _, c := range s.Channels {
		s.channels[c.ChannelID] = c
	}
	s.triggers = make(map[string]*config.Trigger, len(s.Triggers))
	for _, t := range s.Triggers {
		s.triggers[t.TriggerID] = t
	}
	s.routers = make(map[string]*config.Router, len(s.Routers))
	for _, r := range s.Routers {
		s.routers[r.RouterID] = r
	}
	return s
}

func (s *Snapshot) Node(nodeID string) (*config.Node, bool) {
	n, ok := s.nodes[nodeID]
	return n, ok
}

func (s *Snapshot) Channel(channelID string) (*config.Channel, bool) {
	c, ok := s.channels[channelID]
	return c, ok
}

func (s *Snapshot) Router(routerID string) (*config.Router, bool) {
	r, ok := s.routers[routerID]
	return r, ok
}

// EnabledChannels returns the enabled channels in processing order
func (s *Snapshot) EnabledChannels() []*config.Channel {
	var channels []*config.Channel
	for _, c := range s.Channels {
		if c.Enabled {
			channels = append(channels, c)
		}
	}
	return channels
}

// NodesInGroup returns the sync enabled nodes of the node group
func (s *Snapshot) NodesInGroup(nodeGroupID string) []*config.Node {
	var nodes []*config.Node
	for _, n := range s.Nodes {
		if n.NodeGroupID == nodeGroupID && n.SyncEnabled {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Link returns the node group link of source to target
func (s *Snapshot) Link(sourceGroupID, targetGroupID string) (*config.NodeGroupLink, bool) {
	for _, l := range s.Links {
		if l.SourceNodeGroupID == sourceGroupID && l.TargetNodeGroupID == targetGroupID {
			return l, true
		}
	}
	return nil, false
}

// TargetNodes returns the sync enabled nodes the source node group sends to with the given data event action
func (s *Snapshot) TargetNodes(sourceGroupID, action string) []*config.Node {
	var nodes []*config.Node
	for _, l := range s.Links {
		if l.SourceNodeGroupID != sourceGroupID || !strings.EqualFold(l.DataEventAction, action) {
			continue
		}
		nodes = append(nodes, s.NodesInGroup(l.TargetNodeGroupID)...)
	}
	return nodes
}

// TriggerRoutes returns the enabled trigger routers of a captured table on the channel whose router starts
// at the source node group
func (s *Snapshot) TriggerRoutes(tableName, channelID, sourceGroupID string) []*TriggerRoute {
	var routes []*TriggerRoute
	for _, tr := range s.TriggerRouters {
		if !tr.Enabled {
			continue
		}
		t, ok := s.triggers[tr.TriggerID]
		if !ok || t.ChannelID != channelID || !strings.EqualFold(t.SourceTableName, tableName) {
			continue
		}
		r, ok := s.routers[tr.RouterID]
		if !ok || r.SourceNodeGroupID != sourceGroupID {
			continue
		}
		if _, ok = s.Link(r.SourceNodeGroupID, r.TargetNodeGroupID); !ok {
			continue
		}
		routes = append(routes, &TriggerRoute{Trigger: t, TriggerRouter: tr, Router: r})
	}
	return routes
}

// RouterIDs returns the ids of all routers
func (s *Snapshot) RouterIDs() []string {
	ids := make([]string, 0, len(s.Routers))
	for _, r := range s.Routers {
		ids = append(ids, r.RouterID)
	}
	return ids
}

// TargetTable returns the target table name the router maps the source table to, blank keeps the source name
func (s *Snapshot) TargetTable(routerID, _ string) string {
	if r, ok := s.routers[routerID]; ok {
		return r.TargetTableName
	}
	return ""
}
