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
package load

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/utils/constant"
)

// SettingsProvider returns the load settings of a node group link
type SettingsProvider interface {
	LoadSettings(ctx context.Context, sourceGroupID, targetGroupID string) (*Settings, error)
}

// TableTransform maps a source table onto a target table with its ordered column transforms
type TableTransform struct {
	TransformID  string
	SourceTable  string
	TargetTable  string
	ColumnPolicy string
	Columns      []*config.TransformColumn
}

// Settings is the immutable conflict, transform and filter configuration of a node group link
type Settings struct {
	SourceNodeGroupID string
	TargetNodeGroupID string

	conflicts  map[string]*config.Conflict
	transforms map[string][]*TableTransform
	filters    []*compiledFilter
}

type compiledFilter struct {
	table  string
	filter Filter
}

// DefaultConflict detects by primary key and falls back between insert and update
func DefaultConflict() *config.Conflict {
	return &config.Conflict{
		ConflictID:  "default",
		DetectType:  constant.ConflictDetectPkData,
		ResolveType: constant.ConflictResolveFallback,
	}
}

// NewSettings validates and compiles the configuration of the link, an invalid entry fails the whole snapshot
func NewSettings(sourceGroupID, targetGroupID string, conflicts []*config.Conflict, tables []*config.TransformTable,
	columns []*config.TransformColumn, filters []*config.LoadFilter) (*Settings, error) {
	s := &Settings{
		SourceNodeGroupID: sourceGroupID,
		TargetNodeGroupID: targetGroupID,
		conflicts:         make(map[string]*config.Conflict),
		transforms:        make(map[string][]*TableTransform),
	}

	for _, c := range conflicts {
		switch c.DetectType {
		case constant.ConflictDetectPkData, constant.ConflictDetectChangedData, constant.ConflictDetectOldData:
		case constant.ConflictDetectTimestamp, constant.ConflictDetectVersion:
			if strings.TrimSpace(c.DetectExpression) == "" {
				return nil, fmt.Errorf("conflict [%s] detect type [%s] requires the detect expression column", c.ConflictID, c.DetectType)
			}
		default:
			return nil, fmt.Errorf("conflict [%s] detect type [%s] is not supported", c.ConflictID, c.DetectType)
		}
		switch c.ResolveType {
		case constant.ConflictResolveFallback, constant.ConflictResolveIgnore, constant.ConflictResolveManual:
		case constant.ConflictResolveNewerWins:
			if c.DetectType != constant.ConflictDetectTimestamp && c.DetectType != constant.ConflictDetectVersion {
				return nil, fmt.Errorf("conflict [%s] resolve type [%s] requires detect type use_timestamp or use_version", c.ConflictID, c.ResolveType)
			}
		default:
			return nil, fmt.Errorf("conflict [%s] resolve type [%s] is not supported", c.ConflictID, c.ResolveType)
		}
		key := strings.ToUpper(c.TargetTableName)
		if _, ok := s.conflicts[key]; ok {
			return nil, fmt.Errorf("conflict [%s] duplicates the setting of table [%s]", c.ConflictID, c.TargetTableName)
		}
		s.conflicts[key] = c
	}

	columnsByTransform := make(map[string][]*config.TransformColumn)
	for _, c := range columns {
		if _, err := getColumnTransform(c.TransformType); err != nil {
			return nil, fmt.Errorf("transform [%s] column [%s] failed: %v", c.TransformID, c.TargetColumnName, err)
		}
		columnsByTransform[c.TransformID] = append(columnsByTransform[c.TransformID], c)
	}
	for _, t := range tables {
		policy := t.ColumnPolicy
		if policy == "" {
			policy = constant.TransformColumnPolicyImplied
		}
		if policy != constant.TransformColumnPolicyImplied && policy != constant.TransformColumnPolicySpecified {
			return nil, fmt.Errorf("transform [%s] column policy [%s] is not supported", t.TransformID, t.ColumnPolicy)
		}
		if t.TargetTableName == "" {
			return nil, fmt.Errorf("transform [%s] target table name is required", t.TransformID)
		}
		cols := columnsByTransform[t.TransformID]
		sort.SliceStable(cols, func(i, j int) bool {
			return cols[i].TransformOrder < cols[j].TransformOrder
		})
		key := strings.ToUpper(t.SourceTableName)
		s.transforms[key] = append(s.transforms[key], &TableTransform{
			TransformID:  t.TransformID,
			SourceTable:  t.SourceTableName,
			TargetTable:  t.TargetTableName,
			ColumnPolicy: policy,
			Columns:      cols,
		})
	}

	enabled := make([]*config.LoadFilter, 0, len(filters))
	for _, f := range filters {
		if f.Enabled {
			enabled = append(enabled, f)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].FilterOrder < enabled[j].FilterOrder
	})
	for _, f := range enabled {
		factory, err := getFilterFactory(f.FilterType)
		if err != nil {
			return nil, fmt.Errorf("load filter [%s] failed: %v", f.FilterID, err)
		}
		compiled, err := factory(f.FilterExpression)
		if err != nil {
			return nil, fmt.Errorf("load filter [%s] expression [%s] failed: %v", f.FilterID, f.FilterExpression, err)
		}
		s.filters = append(s.filters, &compiledFilter{table: f.TargetTableName, filter: compiled})
	}
	return s, nil
}

// Conflict returns the setting of the target table, else the link wide setting, else the default
func (s *Settings) Conflict(table string) *config.Conflict {
	if s != nil {
		if c, ok := s.conflicts[strings.ToUpper(table)]; ok {
			return c
		}
		if c, ok := s.conflicts[""]; ok {
			return c
		}
	}
	return DefaultConflict()
}

// Transforms returns the table transforms of the source table, none means the row loads unchanged
func (s *Settings) Transforms(sourceTable string) []*TableTransform {
	if s == nil {
		return nil
	}
	return s.transforms[strings.ToUpper(sourceTable)]
}

// Filters returns the ordered filters applying to the table
func (s *Settings) Filters(table string) []Filter {
	if s == nil {
		return nil
	}
	var fs []Filter
	for _, f := range s.filters {
		if f.table == "" || strings.EqualFold(f.table, table) {
			fs = append(fs, f.filter)
		}
	}
	return fs
}
