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
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/utils/constant"
)

// ErrRemoveColumn drops the target column from the transformed row
var ErrRemoveColumn = errors.New("remove column")

// TransformContext is the state a column transform sees
type TransformContext struct {
	Source     *Row
	Target     *Row
	Column     *config.TransformColumn
	Tx         Tx
	SourceNode *config.Node
}

// ColumnTransform computes the new and old value of one target column
type ColumnTransform interface {
	Transform(ctx context.Context, tc *TransformContext, value, oldValue *string) (*string, *string, error)
}

// ColumnTransformFunc adapts a function to the ColumnTransform interface
type ColumnTransformFunc func(ctx context.Context, tc *TransformContext, value, oldValue *string) (*string, *string, error)

func (f ColumnTransformFunc) Transform(ctx context.Context, tc *TransformContext, value, oldValue *string) (*string, *string, error) {
	return f(ctx, tc, value, oldValue)
}

var (
	transformMu      sync.RWMutex
	columnTransforms = map[string]ColumnTransform{
		constant.TransformTypeCopy:     ColumnTransformFunc(copyTransform),
		constant.TransformTypeConst:    ColumnTransformFunc(constTransform),
		constant.TransformTypeAdditive: ColumnTransformFunc(additiveTransform),
		constant.TransformTypeLookup:   ColumnTransformFunc(lookupTransform),
		constant.TransformTypeRemove:   ColumnTransformFunc(removeTransform),
	}
)

// RegisterColumnTransform adds a custom column transform type
func RegisterColumnTransform(transformType string, t ColumnTransform) error {
	transformMu.Lock()
	defer transformMu.Unlock()
	if _, ok := columnTransforms[transformType]; ok {
		return fmt.Errorf("column transform type [%s] has been registered", transformType)
	}
	columnTransforms[transformType] = t
	return nil
}

func getColumnTransform(transformType string) (ColumnTransform, error) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	t, ok := columnTransforms[transformType]
	if !ok {
		return nil, fmt.Errorf("column transform type [%s] is not supported", transformType)
	}
	return t, nil
}

func copyTransform(_ context.Context, _ *TransformContext, value, oldValue *string) (*string, *string, error) {
	return value, oldValue, nil
}

func constTransform(_ context.Context, tc *TransformContext, _, _ *string) (*string, *string, error) {
	v := tc.Column.TransformExpression
	return &v, &v, nil
}

func additiveTransform(_ context.Context, tc *TransformContext, value, oldValue *string) (*string, *string, error) {
	tc.Target.MarkAdditive(tc.Column.TargetColumnName)
	return value, oldValue, nil
}

func removeTransform(_ context.Context, _ *TransformContext, _, _ *string) (*string, *string, error) {
	return nil, nil, ErrRemoveColumn
}

var lookupParameter = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_$#]*)`)

// lookupTransform runs the expression against the target, :COLUMN binds the new source value of the column
func lookupTransform(ctx context.Context, tc *TransformContext, _, _ *string) (*string, *string, error) {
	if tc.Tx == nil {
		return nil, nil, fmt.Errorf("lookup transform of column [%s] requires a target transaction", tc.Column.TargetColumnName)
	}
	var args []interface{}
	query := lookupParameter.ReplaceAllStringFunc(tc.Column.TransformExpression, func(param string) string {
		v, _ := tc.Source.Value(param[1:])
		if v == nil {
			v, _ = tc.Source.OldValue(param[1:])
		}
		args = append(args, value(v))
		return "?"
	})
	v, err := tc.Tx.QueryValue(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup transform of column [%s] query failed: %v", tc.Column.TargetColumnName, err)
	}
	return v, v, nil
}

// Apply transforms the source row into the target row of the table transform
func (t *TableTransform) Apply(ctx context.Context, tx Tx, sourceNode *config.Node, source *Row) (*Row, error) {
	target := &Row{
		DataID:       source.DataID,
		EventType:    source.EventType,
		Table:        t.TargetTable,
		ExternalData: source.ExternalData,
		Line:         source.Line,
	}
	hasOld := len(source.OldValues) > 0
	if t.ColumnPolicy == constant.TransformColumnPolicyImplied {
		for i, c := range source.Columns {
			target.Columns = append(target.Columns, c)
			target.Values = append(target.Values, indexValue(source.Values, i))
			if hasOld {
				target.OldValues = append(target.OldValues, indexValue(source.OldValues, i))
			}
		}
	}

	var keys []string
	keySources := make(map[string]string)
	for _, column := range t.Columns {
		transform, err := getColumnTransform(column.TransformType)
		if err != nil {
			return nil, err
		}
		v, _ := source.Value(column.SourceColumnName)
		old, _ := source.OldValue(column.SourceColumnName)
		newValue, oldValue, err := transform.Transform(ctx, &TransformContext{
			Source:     source,
			Target:     target,
			Column:     column,
			Tx:         tx,
			SourceNode: sourceNode,
		}, v, old)
		if errors.Is(err, ErrRemoveColumn) {
			target.RemoveColumns(column.TargetColumnName)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("transform [%s] column [%s] failed: %v", t.TransformID, column.TargetColumnName, err)
		}
		target.SetValue(column.TargetColumnName, newValue)
		if hasOld {
			if i := target.index(column.TargetColumnName); i >= 0 && i < len(target.OldValues) {
				target.OldValues[i] = oldValue
			}
		}
		if column.PK {
			keys = append(keys, column.TargetColumnName)
			keySources[column.TargetColumnName] = column.SourceColumnName
		}
	}

	if len(keys) == 0 {
		for _, k := range source.KeyColumns {
			if target.index(k) >= 0 {
				keys = append(keys, k)
				keySources[k] = k
			}
		}
	}
	target.KeyColumns = keys

	if len(source.PkValues) > 0 {
		for _, k := range keys {
			v, _ := target.Value(k)
			if src := keySources[k]; src != "" {
				for i, sk := range source.KeyColumns {
					if sk == src && i < len(source.PkValues) {
						v = source.PkValues[i]
					}
				}
			}
			target.PkValues = append(target.PkValues, v)
		}
	}
	return target, nil
}

func indexValue(values []*string, i int) *string {
	if i < len(values) {
		return values[i]
	}
	return nil
}
