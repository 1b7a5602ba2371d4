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
	"io"
	"path/filepath"
	"testing"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
)

func strPtr(s string) *string {
	return &s
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	store, err := model.CreateDatabaseConnection(&model.Database{
		Type: model.DatabaseTypeSqlite,
		Path: filepath.Join(t.TempDir(), "meta.db"),
	}, "warn")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var events []*data.DataEvent
	changes := []*data.Data{
		{ChannelID: "default", TableName: "item", EventType: constant.EventTypeInsert, ColumnNames: []string{"ID", "NAME"},
			PkColumnNames: []string{"ID"}, RowData: []*string{strPtr("1"), strPtr("a")}, PkData: []*string{strPtr("1")}},
		{ChannelID: "default", TableName: "item", EventType: constant.EventTypeUpdate, ColumnNames: []string{"ID", "NAME"},
			PkColumnNames: []string{"ID"}, RowData: []*string{strPtr("1"), nil}, PkData: []*string{strPtr("1")}},
		{ChannelID: "default", TableName: "sale", EventType: constant.EventTypeDelete, ColumnNames: []string{"ID"},
			PkColumnNames: []string{"ID"}, OldData: []*string{strPtr("7")}, PkData: []*string{strPtr("7")}},
	}
	for _, d := range changes {
		if _, err = store.DataRW().CreateData(ctx, d); err != nil {
			t.Fatal(err)
		}
		events = append(events, &data.DataEvent{DataID: d.DataID, NodeID: "store-1", RouterID: "r1"})
	}

	batches := batch.NewManager(store)
	b, err := batches.OpenBatch(ctx, "store-1", "default", constant.BatchTypeEvents)
	if err != nil {
		t.Fatal(err)
	}
	if err = batches.CloseBatch(ctx, b, events); err != nil {
		t.Fatal(err)
	}

	mapper := func(routerID, sourceTable string) string {
		if routerID == "r1" && sourceTable == "sale" {
			return "sale_history"
		}
		return ""
	}
	e := NewExtractor(store, batches, "corp", mapper)
	first, err := e.Extract(ctx, []*batchmodel.OutgoingBatch{b})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Extract(ctx, []*batchmodel.OutgoingBatch{b})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("Extract() resend payload differs")
	}

	got, err := batches.GetBatch(ctx, b.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constant.BatchStatusSending || got.SentCount != 2 || got.ByteCount != int64(len(first)) {
		t.Errorf("Extract() batch = %s/%d/%d", got.Status, got.SentCount, got.ByteCount)
	}

	// batch, table item, insert, update, table sale_history, delete, commit
	wantTypes := []string{protocol.RecordTypeBatch, protocol.RecordTypeTable, protocol.RecordTypeInsert, protocol.RecordTypeUpdate,
		protocol.RecordTypeTable, protocol.RecordTypeDelete, protocol.RecordTypeCommit}
	r := protocol.NewReader(bytes.NewReader(first))
	var records []*protocol.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, rec)
	}
	if len(records) != len(wantTypes) {
		t.Fatalf("Extract() records = %d, want %d", len(records), len(wantTypes))
	}
	for i, rec := range records {
		if rec.Type != wantTypes[i] {
			t.Errorf("record %d type = %s, want %s", i+1, rec.Type, wantTypes[i])
		}
	}
	if records[0].SourceNodeID != "corp" || records[0].TargetNodeID != "store-1" {
		t.Errorf("header = %+v", records[0])
	}
	if records[4].Table != "sale_history" {
		t.Errorf("mapped table = %s, want sale_history", records[4].Table)
	}
	if records[3].Row[1] != nil {
		t.Errorf("null column value not preserved")
	}

	tests := []struct {
		line int64
		want uint64
	}{
		{1, 0},
		{3, changes[0].DataID},
		{4, changes[1].DataID},
		{6, changes[2].DataID},
		{7, 0},
		{99, 0},
	}
	for _, tt := range tests {
		got, err := e.FindDataID(ctx, b.BatchID, tt.line)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("FindDataID(%d) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
