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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3labs/diff/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/load"
	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/model/config"
)

// Manager loads topology snapshots from the metadata store, a new snapshot version is published only when
// the configuration changed
type Manager struct {
	store *model.Store

	current atomic.Pointer[Snapshot]

	mu       sync.Mutex
	settings map[string]*load.Settings
}

func NewManager(store *model.Store) *Manager {
	return &Manager{
		store:    store,
		settings: make(map[string]*load.Settings),
	}
}

// Current returns the last loaded snapshot, the first call loads it
func (m *Manager) Current(ctx context.Context) (*Snapshot, error) {
	if s := m.current.Load(); s != nil {
		return s, nil
	}
	s, _, err := m.Refresh(ctx)
	return s, err
}

// Refresh reloads the topology and returns the change log against the previous snapshot
func (m *Manager) Refresh(ctx context.Context) (*Snapshot, diff.Changelog, error) {
	next, err := m.load(ctx)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current.Load()
	if prev == nil {
		next.Version = 1
		m.current.Store(next)
		logger.Info("topology snapshot loaded",
			zap.Uint64("version", next.Version),
			zap.Int("nodes", len(next.Nodes)),
			zap.Int("channels", len(next.Channels)),
			zap.Int("routers", len(next.Routers)))
		return next, nil, nil
	}

	changes, err := diff.Diff(newView(prev), newView(next))
	if err != nil {
		return nil, nil, fmt.Errorf("topology snapshot diff failed: %v", err)
	}
	if len(changes) == 0 {
		return prev, nil, nil
	}
	next.Version = prev.Version + 1
	m.current.Store(next)
	m.settings = make(map[string]*load.Settings)
	for _, c := range changes {
		logger.Info("topology snapshot changed",
			zap.Uint64("version", next.Version),
			zap.String("type", c.Type),
			zap.Strings("path", c.Path),
			zap.Any("from", c.From),
			zap.Any("to", c.To))
	}
	return next, changes, nil
}

func (m *Manager) load(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{LoadedAt: time.Now()}
	var err error
	if s.Nodes, err = m.store.NodeRW().ListNode(ctx); err != nil {
		return nil, err
	}
	if s.Links, err = m.store.NodeGroupLinkRW().ListNodeGroupLink(ctx); err != nil {
		return nil, err
	}
	if s.Channels, err = m.store.ChannelRW().ListChannel(ctx); err != nil {
		return nil, err
	}
	if s.Triggers, err = m.store.TriggerRW().ListTrigger(ctx); err != nil {
		return nil, err
	}
	if s.TriggerRouters, err = m.store.TriggerRouterRW().ListTriggerRouter(ctx); err != nil {
		return nil, err
	}
	if s.Routers, err = m.store.RouterRW().ListRouter(ctx); err != nil {
		return nil, err
	}
	// the previous snapshot stays current when a stored router is malformed
	if err = compileRouters(s.Routers); err != nil {
		return nil, fmt.Errorf("topology snapshot load failed: %w", err)
	}
	if s.Conflicts, err = m.store.ConflictRW().ListConflict(ctx); err != nil {
		return nil, err
	}
	if s.TransformTables, err = m.store.TransformRW().ListTransformTable(ctx); err != nil {
		return nil, err
	}
	if s.TransformColumns, err = m.store.TransformRW().ListTransformColumn(ctx); err != nil {
		return nil, err
	}
	if s.LoadFilters, err = m.store.LoadFilterRW().ListLoadFilter(ctx); err != nil {
		return nil, err
	}
	return newSnapshot(s), nil
}

// LookupNode returns the node from the current snapshot, an unknown node triggers one reload
func (m *Manager) LookupNode(ctx context.Context, nodeID string) (*config.Node, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if n, ok := s.Node(nodeID); ok {
		return n, nil
	}
	if s, _, err = m.Refresh(ctx); err != nil {
		return nil, err
	}
	if n, ok := s.Node(nodeID); ok {
		return n, nil
	}
	return nil, fmt.Errorf("lookup node [%s] failed: %w", nodeID, ErrUnknownNode)
}

// LoadSettings returns the immutable load settings of the node group link, built once per snapshot version
func (m *Manager) LoadSettings(ctx context.Context, sourceGroupID, targetGroupID string) (*load.Settings, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	key := sourceGroupID + "->" + targetGroupID

	m.mu.Lock()
	defer m.mu.Unlock()
	if settings, ok := m.settings[key]; ok {
		return settings, nil
	}

	var (
		conflicts []*config.Conflict
		tables    []*config.TransformTable
		filters   []*config.LoadFilter
	)
	for _, c := range s.Conflicts {
		if c.SourceNodeGroupID == sourceGroupID && c.TargetNodeGroupID == targetGroupID {
			conflicts = append(conflicts, c)
		}
	}
	transformIDs := make(map[string]struct{})
	for _, t := range s.TransformTables {
		if t.SourceNodeGroupID == sourceGroupID && t.TargetNodeGroupID == targetGroupID {
			tables = append(tables, t)
			transformIDs[t.TransformID] = struct{}{}
		}
	}
	var columns []*config.TransformColumn
	for _, c := range s.TransformColumns {
		if _, ok := transformIDs[c.TransformID]; ok {
			columns = append(columns, c)
		}
	}
	for _, f := range s.LoadFilters {
		if f.SourceNodeGroupID == sourceGroupID && f.TargetNodeGroupID == targetGroupID {
			filters = append(filters, f)
		}
	}
	settings, err := load.NewSettings(sourceGroupID, targetGroupID, conflicts, tables, columns, filters)
	if err != nil {
		return nil, err
	}
	m.settings[key] = settings
	return settings, nil
}

// view is the comparable part of a snapshot keyed by entity id
type view struct {
	Nodes            map[string]config.Node
	Links            map[string]config.NodeGroupLink
	Channels         map[string]config.Channel
	Triggers         map[string]config.Trigger
	TriggerRouters   map[string]config.TriggerRouter
	Routers          map[string]config.Router
	Conflicts        map[string]config.Conflict
	TransformTables  map[string]config.TransformTable
	TransformColumns map[string]config.TransformColumn
	LoadFilters      map[string]config.LoadFilter
}

func newView(s *Snapshot) *view {
	v := &view{
		Nodes:            make(map[string]config.Node),
		Links:            make(map[string]config.NodeGroupLink),
		Channels:         make(map[string]config.Channel),
		Triggers:         make(map[string]config.Trigger),
		TriggerRouters:   make(map[string]config.TriggerRouter),
		Routers:          make(map[string]config.Router),
		Conflicts:        make(map[string]config.Conflict),
		TransformTables:  make(map[string]config.TransformTable),
		TransformColumns: make(map[string]config.TransformColumn),
		LoadFilters:      make(map[string]config.LoadFilter),
	}
	// entity timestamps are not configuration
	for _, e := range s.Nodes {
		c := *e
		c.Entity = nil
		v.Nodes[c.NodeID] = c
	}
	for _, e := range s.Links {
		c := *e
		c.Entity = nil
		v.Links[c.SourceNodeGroupID+"->"+c.TargetNodeGroupID] = c
	}
	for _, e := range s.Channels {
		c := *e
		c.Entity = nil
		v.Channels[c.ChannelID] = c
	}
	for _, e := range s.Triggers {
		c := *e
		c.Entity = nil
		v.Triggers[c.TriggerID] = c
	}
	for _, e := range s.TriggerRouters {
		c := *e
		c.Entity = nil
		v.TriggerRouters[c.TriggerID+"/"+c.RouterID] = c
	}
	for _, e := range s.Routers {
		c := *e
		c.Entity = nil
		v.Routers[c.RouterID] = c
	}
	for _, e := range s.Conflicts {
		c := *e
		c.Entity = nil
		v.Conflicts[c.ConflictID] = c
	}
	for _, e := range s.TransformTables {
		c := *e
		c.Entity = nil
		v.TransformTables[c.TransformID] = c
	}
	for _, e := range s.TransformColumns {
		c := *e
		c.Entity = nil
		v.TransformColumns[c.TransformID+"/"+c.TargetColumnName] = c
	}
	for _, e := range s.LoadFilters {
		c := *e
		c.Entity = nil
		v.LoadFilters[c.FilterID] = c
	}
	return v
}
