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
	"strings"
	"time"

	"github.com/shopspring/decimal"

	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/utils/constant"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// rowWriter writes the rows of one batch and resolves their conflicts, counters go to the incoming batch
type rowWriter struct {
	tx       Tx
	settings *Settings
	in       *batchmodel.IncomingBatch
}

func (w *rowWriter) write(ctx context.Context, row *Row) error {
	c := w.settings.Conflict(row.Table)
	var err error
	switch row.EventType {
	case constant.EventTypeInsert, constant.EventTypeReload:
		err = w.insert(ctx, c, row)
	case constant.EventTypeUpdate:
		err = w.update(ctx, c, row)
	case constant.EventTypeDelete:
		err = w.delete(ctx, c, row)
	case constant.EventTypeSQL, constant.EventTypeCreate:
		statement, _ := firstValue(row)
		if statement == "" {
			return fmt.Errorf("data [%d] event [%s] carries no statement", row.DataID, row.EventType)
		}
		err = w.tx.Exec(ctx, statement)
	default:
		return fmt.Errorf("data [%d] event type [%s] is not supported", row.DataID, row.EventType)
	}
	if err != nil {
		return err
	}
	w.in.StatementCount++
	return nil
}

func firstValue(row *Row) (string, bool) {
	if len(row.Values) == 0 || row.Values[0] == nil {
		return "", false
	}
	return *row.Values[0], true
}

func (w *rowWriter) insert(ctx context.Context, c *config.Conflict, row *Row) error {
	err := w.tx.Insert(ctx, row.Table, row.InsertValues())
	if !errors.Is(err, ErrDuplicateKey) {
		return err
	}
	// a reload is an upsert whatever the conflict setting
	if row.EventType == constant.EventTypeReload {
		return w.fallbackUpdate(ctx, c, row)
	}
	switch c.ResolveType {
	case constant.ConflictResolveFallback:
		return w.fallbackUpdate(ctx, c, row)
	case constant.ConflictResolveNewerWins:
		newer, exists, err := w.incomingIsNewer(ctx, c, row, row.Value)
		if err != nil {
			return err
		}
		if !exists || newer {
			return w.fallbackUpdate(ctx, c, row)
		}
		w.in.IgnoreCount++
		return nil
	default:
		return w.unresolved(c, row)
	}
}

func (w *rowWriter) fallbackUpdate(ctx context.Context, c *config.Conflict, row *Row) error {
	values, err := row.UpdateValues(c.ResolveChangesOnly)
	if err != nil {
		return err
	}
	rows, err := w.tx.Update(ctx, row.Table, values, row.NewKeyValues())
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("table [%s] data [%d] fallback update matched no row: %w", row.Table, row.DataID, ErrConflict)
	}
	w.in.FallbackUpdateCount++
	return nil
}

func (w *rowWriter) update(ctx context.Context, c *config.Conflict, row *Row) error {
	values, err := row.UpdateValues(false)
	if err != nil {
		return err
	}
	var rows int64
	switch c.DetectType {
	case constant.ConflictDetectTimestamp, constant.ConflictDetectVersion:
		newer, exists, err := w.incomingIsNewer(ctx, c, row, row.Value)
		if err != nil {
			return err
		}
		if exists && newer {
			if rows, err = w.tx.Update(ctx, row.Table, values, row.KeyValues()); err != nil {
				return err
			}
		} else if exists {
			return w.resolveStale(ctx, c, row)
		}
	default:
		if rows, err = w.tx.Update(ctx, row.Table, values, w.detectWhere(c, row)); err != nil {
			return err
		}
	}
	if rows > 0 {
		return nil
	}

	switch c.ResolveType {
	case constant.ConflictResolveFallback, constant.ConflictResolveNewerWins:
		current, err := w.tx.Get(ctx, row.Table, row.MatchColumns(), row.KeyValues())
		if err != nil {
			return err
		}
		if current == nil {
			if err = w.tx.Insert(ctx, row.Table, row.InsertValues()); err != nil {
				return err
			}
			w.in.FallbackInsertCount++
			return nil
		}
		if c.ResolveType == constant.ConflictResolveNewerWins {
			w.in.IgnoreCount++
			return nil
		}
		values, err = row.UpdateValues(c.ResolveChangesOnly)
		if err != nil {
			return err
		}
		if _, err = w.tx.Update(ctx, row.Table, values, row.KeyValues()); err != nil {
			return err
		}
		w.in.FallbackUpdateCount++
		return nil
	default:
		return w.unresolved(c, row)
	}
}

// resolveStale handles a change older than the target row
func (w *rowWriter) resolveStale(ctx context.Context, c *config.Conflict, row *Row) error {
	switch c.ResolveType {
	case constant.ConflictResolveNewerWins:
		w.in.IgnoreCount++
		return nil
	case constant.ConflictResolveFallback:
		if row.EventType == constant.EventTypeDelete {
			_, err := w.tx.Delete(ctx, row.Table, row.KeyValues())
			return err
		}
		values, err := row.UpdateValues(c.ResolveChangesOnly)
		if err != nil {
			return err
		}
		if _, err = w.tx.Update(ctx, row.Table, values, row.KeyValues()); err != nil {
			return err
		}
		w.in.FallbackUpdateCount++
		return nil
	default:
		return w.unresolved(c, row)
	}
}

func (w *rowWriter) delete(ctx context.Context, c *config.Conflict, row *Row) error {
	var (
		rows int64
		err  error
	)
	switch c.DetectType {
	case constant.ConflictDetectTimestamp, constant.ConflictDetectVersion:
		newer, exists, err := w.incomingIsNewer(ctx, c, row, row.OldValue)
		if err != nil {
			return err
		}
		if exists && !newer {
			return w.resolveStale(ctx, c, row)
		}
		if exists {
			if rows, err = w.tx.Delete(ctx, row.Table, row.KeyValues()); err != nil {
				return err
			}
		}
	default:
		if rows, err = w.tx.Delete(ctx, row.Table, w.detectWhere(c, row)); err != nil {
			return err
		}
	}
	if rows > 0 {
		return nil
	}

	switch c.ResolveType {
	case constant.ConflictResolveFallback, constant.ConflictResolveNewerWins:
		if c.DetectType == constant.ConflictDetectChangedData || c.DetectType == constant.ConflictDetectOldData {
			if rows, err = w.tx.Delete(ctx, row.Table, row.KeyValues()); err != nil {
				return err
			}
			if rows > 0 {
				return nil
			}
		}
		w.in.MissingDeleteCount++
		return nil
	default:
		return w.unresolved(c, row)
	}
}

func (w *rowWriter) unresolved(c *config.Conflict, row *Row) error {
	switch c.ResolveType {
	case constant.ConflictResolveIgnore:
		if c.ResolveRowOnly {
			w.in.IgnoreCount++
			return nil
		}
		return ErrIgnoreBatch
	default:
		return fmt.Errorf("table [%s] data [%d] event [%s] conflict [%s]: %w", row.Table, row.DataID, row.EventType, c.ConflictID, ErrConflict)
	}
}

// detectWhere returns the where clause that only matches the target row when it has not diverged
func (w *rowWriter) detectWhere(c *config.Conflict, row *Row) []ColumnValue {
	where := row.KeyValues()
	switch c.DetectType {
	case constant.ConflictDetectChangedData:
		if row.EventType == constant.EventTypeDelete {
			return append(where, row.OldColumnValues()...)
		}
		return append(where, row.ChangedValues()...)
	case constant.ConflictDetectOldData:
		return append(where, row.OldColumnValues()...)
	}
	return where
}

// incomingIsNewer compares the detect column of the row with the target row, exists is false when the target
// has no row with the key
func (w *rowWriter) incomingIsNewer(ctx context.Context, c *config.Conflict, row *Row, valueOf func(string) (*string, bool)) (bool, bool, error) {
	column := strings.TrimSpace(c.DetectExpression)
	current, err := w.tx.Get(ctx, row.Table, []string{column}, row.KeyValues())
	if err != nil {
		return false, false, err
	}
	if current == nil {
		return false, false, nil
	}
	incoming, _ := valueOf(column)
	targetValue := current[column]
	switch {
	case incoming == nil:
		return false, true, nil
	case targetValue == nil:
		return true, true, nil
	}
	cmp, err := compareDetectValues(c.DetectType, *incoming, *targetValue)
	if err != nil {
		return false, true, fmt.Errorf("table [%s] detect column [%s] compare failed: %v", row.Table, column, err)
	}
	if row.EventType == constant.EventTypeDelete {
		// a delete carries the version it saw, it wins unless the target moved past it
		return cmp >= 0, true, nil
	}
	return cmp > 0, true, nil
}

func compareDetectValues(detectType, incoming, current string) (int, error) {
	if detectType == constant.ConflictDetectVersion {
		a, err := decimal.NewFromString(strings.TrimSpace(incoming))
		if err != nil {
			return 0, err
		}
		b, err := decimal.NewFromString(strings.TrimSpace(current))
		if err != nil {
			return 0, err
		}
		return a.Cmp(b), nil
	}
	a, errA := parseTimestamp(incoming)
	b, errB := parseTimestamp(current)
	if errA != nil || errB != nil {
		return strings.Compare(incoming, current), nil
	}
	return a.Compare(b), nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp [%s] format is not supported", s)
}
