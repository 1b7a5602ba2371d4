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
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

var (
	// ErrIgnoreRow skips the row, the batch continues
	ErrIgnoreRow = errors.New("ignore row")
	// ErrIgnoreBatch rolls the batch back and acknowledges it as loaded
	ErrIgnoreBatch = errors.New("ignore batch")
	// ErrDuplicateKey is returned by writers when an insert hits an existing key
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrConflict is an unresolved conflict that fails the batch
	ErrConflict = errors.New("unresolved data conflict")
	// ErrNoMatchColumns is returned by writers asked to update or delete without a where clause
	ErrNoMatchColumns = errors.New("no columns to match the row")
)

// IgnoreColumnError drops the columns from the row, the row is still written
type IgnoreColumnError struct {
	Columns []string
}

func (e *IgnoreColumnError) Error() string {
	return fmt.Sprintf("ignore columns [%s]", strings.Join(e.Columns, ","))
}

// ColumnValue is one column of a statement, a non nil Delta adds to the current value instead of setting it
type ColumnValue struct {
	Column string
	Value  *string
	Delta  *decimal.Decimal
	Key    bool
}

// Row is one change being loaded
type Row struct {
	DataID       uint64
	EventType    string
	Table        string
	Columns      []string
	KeyColumns   []string
	Values       []*string
	OldValues    []*string
	PkValues     []*string
	ExternalData string
	// Line is the line of the row within its batch, the batch header is line 1
	Line int64

	additive map[string]bool
}

func (r *Row) index(column string) int {
	for i, c := range r.Columns {
		if strings.EqualFold(c, column) {
			return i
		}
	}
	return -1
}

// Value returns the new value of the column
func (r *Row) Value(column string) (*string, bool) {
	i := r.index(column)
	if i < 0 || i >= len(r.Values) {
		return nil, false
	}
	return r.Values[i], true
}

// OldValue returns the old value of the column
func (r *Row) OldValue(column string) (*string, bool) {
	i := r.index(column)
	if i < 0 || i >= len(r.OldValues) {
		return nil, false
	}
	return r.OldValues[i], true
}

// SetValue sets the new value of the column, an unknown column is appended
func (r *Row) SetValue(column string, value *string) {
	i := r.index(column)
	if i < 0 {
		r.Columns = append(r.Columns, column)
		r.Values = append(r.Values, value)
		if len(r.OldValues) > 0 {
			r.OldValues = append(r.OldValues, nil)
		}
		return
	}
	for len(r.Values) <= i {
		r.Values = append(r.Values, nil)
	}
	r.Values[i] = value
}

// RemoveColumns drops non key columns from the row
func (r *Row) RemoveColumns(columns ...string) {
	for _, column := range columns {
		if r.IsKey(column) {
			continue
		}
		i := r.index(column)
		if i < 0 {
			continue
		}
		r.Columns = append(r.Columns[:i:i], r.Columns[i+1:]...)
		if i < len(r.Values) {
			r.Values = append(r.Values[:i:i], r.Values[i+1:]...)
		}
		if i < len(r.OldValues) {
			r.OldValues = append(r.OldValues[:i:i], r.OldValues[i+1:]...)
		}
	}
}

func (r *Row) IsKey(column string) bool {
	for _, k := range r.KeyColumns {
		if strings.EqualFold(k, column) {
			return true
		}
	}
	return false
}

// MarkAdditive applies the column as a delta of new minus old on updates
func (r *Row) MarkAdditive(column string) {
	if r.additive == nil {
		r.additive = make(map[string]bool)
	}
	r.additive[strings.ToUpper(column)] = true
}

func (r *Row) IsAdditive(column string) bool {
	return r.additive[strings.ToUpper(column)]
}

// MatchColumns returns the columns that identify the row, a table without key columns is matched on all of them
func (r *Row) MatchColumns() []string {
	if len(r.KeyColumns) > 0 {
		return r.KeyColumns
	}
	return r.Columns
}

// KeyValues returns the key of the row as it exists at the target: captured pk data, else old values, else new
// values
func (r *Row) KeyValues() []ColumnValue {
	keyed := len(r.KeyColumns) > 0
	columns := r.MatchColumns()
	keys := make([]ColumnValue, 0, len(columns))
	for i, k := range columns {
		var v *string
		switch {
		case keyed && i < len(r.PkValues):
			v = r.PkValues[i]
		case len(r.OldValues) > 0:
			v, _ = r.OldValue(k)
		default:
			v, _ = r.Value(k)
		}
		keys = append(keys, ColumnValue{Column: k, Value: v})
	}
	return keys
}

// NewKeyValues returns the key of the row after the change
func (r *Row) NewKeyValues() []ColumnValue {
	columns := r.MatchColumns()
	keys := make([]ColumnValue, 0, len(columns))
	for _, k := range columns {
		v, ok := r.Value(k)
		if !ok && r.EventType == constant.EventTypeDelete {
			v, _ = r.OldValue(k)
		}
		keys = append(keys, ColumnValue{Column: k, Value: v})
	}
	return keys
}

// InsertValues returns all columns with their new values
func (r *Row) InsertValues() []ColumnValue {
	values := make([]ColumnValue, 0, len(r.Columns))
	for i, c := range r.Columns {
		var v *string
		if i < len(r.Values) {
			v = r.Values[i]
		}
		values = append(values, ColumnValue{Column: c, Value: v, Key: r.IsKey(c)})
	}
	return values
}

// UpdateValues returns the non key columns to set, changedOnly keeps columns whose value differs from the old
// value. Additive columns become deltas when the old value is known.
func (r *Row) UpdateValues(changedOnly bool) ([]ColumnValue, error) {
	var values []ColumnValue
	for i, c := range r.Columns {
		if r.IsKey(c) && !r.keyChanged(c) {
			continue
		}
		var v *string
		if i < len(r.Values) {
			v = r.Values[i]
		}
		old, hasOld := r.OldValue(c)
		if changedOnly && hasOld && stringutil.NullableEqual(old, v) {
			continue
		}
		if r.IsAdditive(c) && r.EventType == constant.EventTypeUpdate && hasOld {
			delta, err := additiveDelta(v, old)
			if err != nil {
				return nil, fmt.Errorf("column [%s] additive value failed: %v", c, err)
			}
			if delta.IsZero() {
				continue
			}
			values = append(values, ColumnValue{Column: c, Delta: &delta})
			continue
		}
		if r.IsAdditive(c) && r.EventType == constant.EventTypeInsert {
			// an insert that fell back to an update adds the inserted amount
			delta, err := additiveDelta(v, nil)
			if err != nil {
				return nil, fmt.Errorf("column [%s] additive value failed: %v", c, err)
			}
			values = append(values, ColumnValue{Column: c, Delta: &delta})
			continue
		}
		values = append(values, ColumnValue{Column: c, Value: v})
	}
	return values, nil
}

func (r *Row) keyChanged(column string) bool {
	i := -1
	for idx, k := range r.KeyColumns {
		if strings.EqualFold(k, column) {
			i = idx
		}
	}
	if i < 0 || i >= len(r.PkValues) {
		return false
	}
	v, _ := r.Value(column)
	return !stringutil.NullableEqual(v, r.PkValues[i])
}

// ChangedValues returns the old values of the non additive columns whose value changed
func (r *Row) ChangedValues() []ColumnValue {
	var values []ColumnValue
	for _, c := range r.Columns {
		if r.IsKey(c) || r.IsAdditive(c) {
			continue
		}
		old, ok := r.OldValue(c)
		if !ok {
			continue
		}
		v, _ := r.Value(c)
		if !stringutil.NullableEqual(old, v) {
			values = append(values, ColumnValue{Column: c, Value: old})
		}
	}
	return values
}

// OldColumnValues returns the old values of all non key, non additive columns
func (r *Row) OldColumnValues() []ColumnValue {
	var values []ColumnValue
	for _, c := range r.Columns {
		if r.IsKey(c) || r.IsAdditive(c) {
			continue
		}
		if old, ok := r.OldValue(c); ok {
			values = append(values, ColumnValue{Column: c, Value: old})
		}
	}
	return values
}

func additiveDelta(value, old *string) (decimal.Decimal, error) {
	n := decimal.Zero
	o := decimal.Zero
	var err error
	if value != nil {
		if n, err = decimal.NewFromString(strings.TrimSpace(*value)); err != nil {
			return decimal.Zero, err
		}
	}
	if old != nil {
		if o, err = decimal.NewFromString(strings.TrimSpace(*old)); err != nil {
			return decimal.Zero, err
		}
	}
	return n.Sub(o), nil
}
