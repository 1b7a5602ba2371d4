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
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wentaojin/dbsync/utils/constant"
)

// record types of the batch stream
const (
	RecordTypeBatch  = "batch"
	RecordTypeTable  = "table"
	RecordTypeInsert = "insert"
	RecordTypeUpdate = "update"
	RecordTypeDelete = "delete"
	RecordTypeReload = "reload"
	RecordTypeSQL    = "sql"
	RecordTypeCreate = "create"
	RecordTypeCommit = "commit"
)

// maxLineSize bounds one record line of the stream
const maxLineSize = 64 * 1024 * 1024

var eventRecordTypes = map[string]string{
	constant.EventTypeInsert: RecordTypeInsert,
	constant.EventTypeUpdate: RecordTypeUpdate,
	constant.EventTypeDelete: RecordTypeDelete,
	constant.EventTypeReload: RecordTypeReload,
	constant.EventTypeSQL:    RecordTypeSQL,
	constant.EventTypeCreate: RecordTypeCreate,
}

// Record is one line of the batch stream. A batch is a batch header, table records announcing the shape of
// the following rows, row records and a commit record.
type Record struct {
	Type string `json:"type"`

	BatchID      uint64 `json:"batch_id,omitempty"`
	SourceNodeID string `json:"source_node_id,omitempty"`
	TargetNodeID string `json:"target_node_id,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`

	Table      string   `json:"table,omitempty"`
	KeyColumns []string `json:"keys,omitempty"`
	Columns    []string `json:"columns,omitempty"`

	DataID       uint64    `json:"data_id,omitempty"`
	Row          []*string `json:"row,omitempty"`
	Old          []*string `json:"old,omitempty"`
	Pk           []*string `json:"pk,omitempty"`
	ExternalData string    `json:"external_data,omitempty"`
}

// RecordTypeOf returns the row record type of a change event type
func RecordTypeOf(eventType string) (string, error) {
	t, ok := eventRecordTypes[eventType]
	if !ok {
		return "", fmt.Errorf("unknown event type [%s]", eventType)
	}
	return t, nil
}

// EventTypeOf returns the change event type of a row record type
func EventTypeOf(recordType string) (string, bool) {
	for e, t := range eventRecordTypes {
		if t == recordType {
			return e, true
		}
	}
	return "", false
}

// IsRow reports whether the record carries a change
func (r *Record) IsRow() bool {
	_, ok := EventTypeOf(r.Type)
	return ok
}

// Writer writes records as json lines and counts the written lines
type Writer struct {
	w     *bufio.Writer
	lines int64
	bytes int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes the record and returns its 1-based line number
func (w *Writer) Write(r *Record) (int64, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("marshal record [%s] failed: %v", r.Type, err)
	}
	b = append(b, '\n')
	if _, err = w.w.Write(b); err != nil {
		return 0, fmt.Errorf("write record [%s] failed: %v", r.Type, err)
	}
	w.lines++
	w.bytes += int64(len(b))
	return w.lines, nil
}

func (w *Writer) Lines() int64 {
	return w.lines
}

func (w *Writer) Bytes() int64 {
	return w.bytes
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader reads json line records and tracks the line number of the last record
type Reader struct {
	scanner *bufio.Scanner
	line    int64
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next record, io.EOF at the end of the stream. Blank lines are counted and skipped.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		b := r.scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		rec := &Record{}
		if err := json.Unmarshal(b, rec); err != nil {
			return nil, fmt.Errorf("line [%d] decode record failed: %v", r.line, err)
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("line [%d] read record failed: %v", r.line, err)
	}
	return nil, io.EOF
}

// Line returns the 1-based line number of the last returned record
func (r *Reader) Line() int64 {
	return r.line
}
