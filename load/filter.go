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
	"strings"
	"sync"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/router"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

// FilterContext carries the batch being loaded to the filters
type FilterContext struct {
	SourceNode *config.Node
	BatchID    uint64
}

// Filter inspects a row before it is written. It may modify the row, return ErrIgnoreRow to skip it or an
// *IgnoreColumnError to drop columns. Any other error fails the batch.
type Filter interface {
	Filter(ctx context.Context, fc *FilterContext, row *Row) error
}

// FilterFunc adapts a function to the Filter interface
type FilterFunc func(ctx context.Context, fc *FilterContext, row *Row) error

func (f FilterFunc) Filter(ctx context.Context, fc *FilterContext, row *Row) error {
	return f(ctx, fc, row)
}

// FilterFactory compiles the expression of a load filter
type FilterFactory func(expression string) (Filter, error)

var (
	filterMu        sync.RWMutex
	filterFactories = map[string]FilterFactory{
		constant.LoadFilterExcludeUpdateColumns: newExcludeUpdateColumnsFilter,
		constant.LoadFilterSourceExternalID:     newSourceExternalIDFilter,
		constant.LoadFilterIgnoreRows:           newIgnoreRowsFilter,
	}
)

// RegisterFilter adds a custom load filter type
func RegisterFilter(filterType string, factory FilterFactory) error {
	filterMu.Lock()
	defer filterMu.Unlock()
	if _, ok := filterFactories[filterType]; ok {
		return fmt.Errorf("load filter type [%s] has been registered", filterType)
	}
	filterFactories[filterType] = factory
	return nil
}

func getFilterFactory(filterType string) (FilterFactory, error) {
	filterMu.RLock()
	defer filterMu.RUnlock()
	factory, ok := filterFactories[filterType]
	if !ok {
		return nil, fmt.Errorf("load filter type [%s] is not supported", filterType)
	}
	return factory, nil
}

// exclude_update_columns: comma separated columns never written by updates
func newExcludeUpdateColumnsFilter(expression string) (Filter, error) {
	var columns []string
	for _, c := range strings.Split(expression, constant.StringSeparatorComma) {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no column is specified")
	}
	return FilterFunc(func(_ context.Context, _ *FilterContext, row *Row) error {
		if row.EventType != constant.EventTypeUpdate {
			return nil
		}
		return &IgnoreColumnError{Columns: columns}
	}), nil
}

// source_external_id: sets the column to the external id of the node the batch came from
func newSourceExternalIDFilter(expression string) (Filter, error) {
	column := strings.TrimSpace(expression)
	if column == "" {
		return nil, fmt.Errorf("no column is specified")
	}
	return FilterFunc(func(_ context.Context, fc *FilterContext, row *Row) error {
		if row.EventType == constant.EventTypeDelete || fc.SourceNode == nil {
			return nil
		}
		externalID := fc.SourceNode.ExternalID
		row.SetValue(column, &externalID)
		return nil
	}), nil
}

// ignore_rows: column clauses, a row matching any clause is skipped
func newIgnoreRowsFilter(expression string) (Filter, error) {
	exprs, err := router.ParseColumnExpression(expression)
	if err != nil {
		return nil, err
	}
	return FilterFunc(func(_ context.Context, _ *FilterContext, row *Row) error {
		for _, e := range exprs {
			columnValue, ok := row.Value(e.Column)
			if !ok || (row.EventType == constant.EventTypeDelete && len(row.OldValues) > 0) {
				if old, found := row.OldValue(e.Column); found {
					columnValue, ok = old, true
				}
			}
			if !ok {
				continue
			}
			var compareValue *string
			if e.Value != router.TokenNull {
				compareValue = stringutil.StringPtr(e.Value)
			}
			if e.Match(columnValue, compareValue) {
				return ErrIgnoreRow
			}
		}
		return nil
	}), nil
}
