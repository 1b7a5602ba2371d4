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
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const mysqlErrDuplicateEntry = 1062

// DatabaseWriter writes rows through a gorm database, the database must be opened with TranslateError so
// duplicate keys of every dialect surface as gorm.ErrDuplicatedKey
type DatabaseWriter struct {
	db *gorm.DB
}

func NewDatabaseWriter(db *gorm.DB) *DatabaseWriter {
	return &DatabaseWriter{db: db}
}

func (w *DatabaseWriter) Begin(ctx context.Context) (Tx, error) {
	tx := w.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("target database begin transaction failed: %v", tx.Error)
	}
	return &databaseTx{tx: tx}, nil
}

type databaseTx struct {
	tx *gorm.DB
}

func (t *databaseTx) quote(name string) string {
	return t.tx.Statement.Quote(name)
}

func (t *databaseTx) where(where []ColumnValue) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	for _, w := range where {
		if w.Value == nil {
			conds = append(conds, fmt.Sprintf("%s IS NULL", t.quote(w.Column)))
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = ?", t.quote(w.Column)))
		args = append(args, *w.Value)
	}
	return strings.Join(conds, " AND "), args
}

func value(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func (t *databaseTx) Insert(ctx context.Context, table string, values []ColumnValue) error {
	columns := make([]string, 0, len(values))
	marks := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		columns = append(columns, t.quote(v.Column))
		marks = append(marks, "?")
		args = append(args, value(v.Value))
	}
	statement := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.quote(table), strings.Join(columns, ", "), strings.Join(marks, ", "))
	err := t.tx.WithContext(ctx).Exec(statement, args...).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("insert table [%s] failed: %w", table, ErrDuplicateKey)
		}
		return err
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

func (t *databaseTx) Update(ctx context.Context, table string, values []ColumnValue, where []ColumnValue) (int64, error) {
	if len(where) == 0 {
		return 0, fmt.Errorf("update table [%s] failed: %w", table, ErrNoMatchColumns)
	}
	if len(values) == 0 {
		// nothing to set, the row still counts as found when it exists
		current, err := t.Get(ctx, table, []string{where[0].Column}, where)
		if err != nil || current == nil {
			return 0, err
		}
		return 1, nil
	}
	sets := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values)+len(where))
	for _, v := range values {
		if v.Delta != nil {
			sets = append(sets, fmt.Sprintf("%s = %s + ?", t.quote(v.Column), t.quote(v.Column)))
			args = append(args, deltaArg(v))
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = ?", t.quote(v.Column)))
		args = append(args, value(v.Value))
	}
	conds, condArgs := t.where(where)
	args = append(args, condArgs...)
	res := t.tx.WithContext(ctx).Exec(fmt.Sprintf("UPDATE %s SET %s WHERE %s", t.quote(table), strings.Join(sets, ", "), conds), args...)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return 0, fmt.Errorf("update table [%s] failed: %w", table, ErrDuplicateKey)
		}
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// deltaArg binds whole deltas as integers so integer columns keep their type, fractions are bound as their
// exact decimal text
func deltaArg(v ColumnValue) interface{} {
	if v.Delta.Equal(v.Delta.Truncate(0)) {
		return v.Delta.IntPart()
	}
	return v.Delta.String()
}

func (t *databaseTx) Delete(ctx context.Context, table string, where []ColumnValue) (int64, error) {
	if len(where) == 0 {
		return 0, fmt.Errorf("delete table [%s] failed: %w", table, ErrNoMatchColumns)
	}
	conds, args := t.where(where)
	res := t.tx.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s WHERE %s", t.quote(table), conds), args...)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (t *databaseTx) Get(ctx context.Context, table string, columns []string, where []ColumnValue) (map[string]*string, error) {
	if len(where) == 0 || len(columns) == 0 {
		return nil, fmt.Errorf("query table [%s] failed: %w", table, ErrNoMatchColumns)
	}
	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		quoted = append(quoted, t.quote(c))
	}
	conds, args := t.where(where)
	rows, err := t.tx.WithContext(ctx).Raw(fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(quoted, ", "), t.quote(table), conds), args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	dest := make([]sql.NullString, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err = rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	current := make(map[string]*string, len(columns))
	for i, c := range columns {
		if dest[i].Valid {
			s := dest[i].String
			current[c] = &s
		} else {
			current[c] = nil
		}
	}
	return current, nil
}

func (t *databaseTx) QueryValue(ctx context.Context, query string, args ...interface{}) (*string, error) {
	rows, err := t.tx.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var v sql.NullString
	if err = rows.Scan(&v); err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.String, nil
}

func (t *databaseTx) Exec(ctx context.Context, statement string) error {
	return t.tx.WithContext(ctx).Exec(statement).Error
}

func (t *databaseTx) Commit() error {
	return t.tx.Commit().Error
}

func (t *databaseTx) Rollback() error {
	return t.tx.Rollback().Error
}
