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
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/scylladb/go-set/strset"
	"gorm.io/gorm"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/utils/constant"
)

var (
	// ErrSyntax is wrapped by every router expression parse failure
	ErrSyntax = errors.New("router expression syntax error")

	ErrUnknownRouterType = errors.New("unknown router type")
)

// SyntaxError reports a malformed router expression
type SyntaxError struct {
	Expression string
	Reason     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("router expression [%s] invalid: %s", e.Expression, e.Reason)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// Metadata is the change being routed and the routing configuration it matched
type Metadata struct {
	Data          *data.Data
	Channel       *config.Channel
	Router        *config.Router
	TriggerRouter *config.TriggerRouter
}

// ColumnValues returns the column values routers may match on, keyed by column name and upper case column
// name, old values are prefixed with OLD_
func (m *Metadata) ColumnValues() map[string]*string {
	values := make(map[string]*string)
	put := func(prefix string, columns []string, row []*string) {
		for i, c := range columns {
			if i >= len(row) {
				break
			}
			values[prefix+c] = row[i]
			values[prefix+strings.ToUpper(c)] = row[i]
		}
	}
	d := m.Data
	useRow, useOld, usePk := true, true, true
	if m.Channel != nil {
		useRow, useOld, usePk = m.Channel.UseRowDataToRoute, m.Channel.UseOldDataToRoute, m.Channel.UsePkDataToRoute
	}
	if usePk && len(d.PkData) > 0 {
		put("", d.PkColumnNames, d.PkData)
	}
	if useRow {
		switch {
		case len(d.RowData) > 0:
			put("", d.ColumnNames, d.RowData)
		case d.EventType == constant.EventTypeDelete && len(d.OldData) > 0:
			put("", d.ColumnNames, d.OldData)
		}
	}
	if useOld && len(d.OldData) > 0 {
		put("OLD_", d.ColumnNames, d.OldData)
	}
	return values
}

// Context is the routing context of one channel pass, its cache lives as long as the pass
type Context struct {
	ChannelID string
	// DB answers lookup queries of lookup table routers
	DB *gorm.DB

	mu    sync.Mutex
	cache map[string]interface{}
}

func NewContext(channelID string, db *gorm.DB) *Context {
	return &Context{
		ChannelID: channelID,
		DB:        db,
		cache:     make(map[string]interface{}),
	}
}

func (c *Context) CacheGet(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache[key]
	return v, ok
}

func (c *Context) CachePut(key string, val interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = val
}

// Evaluator decides the target node ids of a change, it must be deterministic for the same change and context
type Evaluator interface {
	Evaluate(ctx context.Context, rc *Context, meta *Metadata, nodes []*config.Node, initialLoad bool) (*strset.Set, error)
}

// Factory compiles the router expression, malformed expressions are rejected here rather than while routing
type Factory func(r *config.Router) (Evaluator, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		constant.RouterTypeDefault: newDefaultRouter,
		constant.RouterTypeColumn:  newColumnMatchRouter,
		constant.RouterTypeLookup:  newLookupTableRouter,
	}
)

// Register adds a custom router type
func Register(routerType string, factory Factory) error {
	routerType = strings.ToLower(strings.TrimSpace(routerType))
	if routerType == "" || factory == nil {
		return fmt.Errorf("router type [%s] register failed: blank type or nil factory", routerType)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[routerType]; ok {
		return fmt.Errorf("router type [%s] register failed: already registered", routerType)
	}
	registry[routerType] = factory
	return nil
}

// Compile builds the evaluator of the router, a blank type is the default router
func Compile(r *config.Router) (Evaluator, error) {
	routerType := strings.ToLower(strings.TrimSpace(r.RouterType))
	if routerType == "" {
		routerType = constant.RouterTypeDefault
	}
	registryMu.RLock()
	factory, ok := registry[routerType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("router [%s] compile failed: %w [%s]", r.RouterID, ErrUnknownRouterType, r.RouterType)
	}
	eval, err := factory(r)
	if err != nil {
		return nil, fmt.Errorf("router [%s] compile failed: %w", r.RouterID, err)
	}
	return eval, nil
}

type cacheEntry struct {
	signature string
	eval      Evaluator
}

// Cache keeps the compiled evaluator of every router, an entry is recompiled when the router type or
// expression changes
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

func (c *Cache) Get(r *config.Router) (Evaluator, error) {
	signature := r.RouterType + "\x00" + r.RouterExpression
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[r.RouterID]; ok && e.signature == signature {
		return e.eval, nil
	}
	eval, err := Compile(r)
	if err != nil {
		return nil, err
	}
	c.entries[r.RouterID] = &cacheEntry{signature: signature, eval: eval}
	return eval, nil
}

// Invalidate drops routers that no longer exist
func (c *Cache) Invalidate(routerIDs []string) {
	keep := strset.New(routerIDs...)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if !keep.Has(id) {
			delete(c.entries, id)
		}
	}
}

func toNodeIDs(nodes []*config.Node, nodeIDs *strset.Set) *strset.Set {
	if nodeIDs == nil {
		nodeIDs = strset.NewWithSize(len(nodes))
	}
	for _, n := range nodes {
		nodeIDs.Add(n.NodeID)
	}
	return nodeIDs
}
