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

import "context"

// Writer opens target transactions, one per batch
type Writer interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx writes the rows of one batch to the target
type Tx interface {
	// Insert returns ErrDuplicateKey when the key already exists
	Insert(ctx context.Context, table string, values []ColumnValue) error
	Update(ctx context.Context, table string, values []ColumnValue, where []ColumnValue) (int64, error)
	Delete(ctx context.Context, table string, where []ColumnValue) (int64, error)
	// Get returns the current values of the columns, nil when no row matches
	Get(ctx context.Context, table string, columns []string, where []ColumnValue) (map[string]*string, error)
	// QueryValue returns the first column of the first row of the query
	QueryValue(ctx context.Context, query string, args ...interface{}) (*string, error)
	Exec(ctx context.Context, statement string) error
	Commit() error
	Rollback() error
}
