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
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/protocol"
)

// TableMapper returns the target table name of a change routed by the router, blank keeps the source name
type TableMapper func(routerID, sourceTable string) string

// Extractor renders outgoing batches into the wire format. Rendering only depends on the batch and its
// data events so a resent batch is byte identical.
type Extractor struct {
	store       *model.Store
	batches     *batch.Manager
	localNodeID string
	mapper      TableMapper
}

func NewExtractor(store *model.Store, batches *batch.Manager, localNodeID string, mapper TableMapper) *Extractor {
	return &Extractor{
		store:       store,
		batches:     batches,
		localNodeID: localNodeID,
		mapper:      mapper,
	}
}

// Render writes the batch to the writer without touching its status
func (e *Extractor) Render(ctx context.Context, b *batchmodel.OutgoingBatch, w *protocol.Writer) error {
	events, err := e.store.DataEventRW().ListDataEvent(ctx, b.BatchID)
	if err != nil {
		return err
	}
	routers := make(map[uint64]string, len(events))
	for _, ev := range events {
		routers[ev.DataID] = ev.RouterID
	}
	dataS, err := e.store.DataRW().ListBatchData(ctx, b.BatchID)
	if err != nil {
		return err
	}

	if _, err = w.Write(&protocol.Record{
		Type:         protocol.RecordTypeBatch,
		BatchID:      b.BatchID,
		SourceNodeID: e.localNodeID,
		TargetNodeID: b.NodeID,
		ChannelID:    b.ChannelID,
	}); err != nil {
		return err
	}
	var table *protocol.Record
	for _, d := range dataS {
		if err = ctx.Err(); err != nil {
			return err
		}
		next := e.tableRecord(d, routers[d.DataID])
		if table == nil || !sameTable(table, next) {
			if _, err = w.Write(next); err != nil {
				return err
			}
			table = next
		}
		recordType, err := protocol.RecordTypeOf(d.EventType)
		if err != nil {
			return fmt.Errorf("batch [%d] data [%d] render failed: %v", b.BatchID, d.DataID, err)
		}
		if _, err = w.Write(&protocol.Record{
			Type:         recordType,
			DataID:       d.DataID,
			Row:          d.RowData,
			Old:          d.OldData,
			Pk:           d.PkData,
			ExternalData: d.ExternalData,
		}); err != nil {
			return err
		}
	}
	_, err = w.Write(&protocol.Record{Type: protocol.RecordTypeCommit, BatchID: b.BatchID})
	return err
}

func (e *Extractor) tableRecord(d *data.Data, routerID string) *protocol.Record {
	name := d.TableName
	if e.mapper != nil {
		if target := e.mapper(routerID, d.TableName); target != "" {
			name = target
		}
	}
	return &protocol.Record{
		Type:       protocol.RecordTypeTable,
		Table:      name,
		KeyColumns: d.PkColumnNames,
		Columns:    d.ColumnNames,
	}
}

func sameTable(a, b *protocol.Record) bool {
	if a.Table != b.Table || len(a.KeyColumns) != len(b.KeyColumns) || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.KeyColumns {
		if a.KeyColumns[i] != b.KeyColumns[i] {
			return false
		}
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	return true
}

// Extract renders the batches into one payload and marks every rendered batch as sending
func (e *Extractor) Extract(ctx context.Context, batches []*batchmodel.OutgoingBatch) ([]byte, error) {
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	for _, b := range batches {
		startBytes := w.Bytes()
		if err := e.Render(ctx, b, w); err != nil {
			return nil, err
		}
		if _, err := e.batches.MarkSending(ctx, b.BatchID, w.Bytes()-startBytes); err != nil {
			return nil, err
		}
		logger.Debug("outgoing batch extracted",
			zap.Uint64("batch_id", b.BatchID),
			zap.String("node_id", b.NodeID),
			zap.String("channel_id", b.ChannelID),
			zap.Int64("bytes", w.Bytes()-startBytes))
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FindDataID re-renders the batch and returns the data id of the change on the line, line numbers count
// from the batch header. Zero is returned when the line holds no change.
func (e *Extractor) FindDataID(ctx context.Context, batchID uint64, lineNumber int64) (uint64, error) {
	b, err := e.store.OutgoingBatchRW().GetOutgoingBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	if err = e.Render(ctx, b, w); err != nil {
		return 0, err
	}
	if err = w.Flush(); err != nil {
		return 0, err
	}
	r := protocol.NewReader(&buf)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if r.Line() == lineNumber {
			if rec.IsRow() {
				return rec.DataID, nil
			}
			return 0, nil
		}
	}
}
