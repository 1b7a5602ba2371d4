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
package batch

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
)

func newTestStore(t *testing.T) *model.Store {
	t.Helper()
	store, err := model.CreateDatabaseConnection(&model.Database{
		Type: model.DatabaseTypeSqlite,
		Path: filepath.Join(t.TempDir(), "meta.db"),
	}, "warn")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newClosedBatch(t *testing.T, m *Manager, nodeID, channelID string, dataIDs ...uint64) *batchmodel.OutgoingBatch {
	t.Helper()
	ctx := context.Background()
	b, err := m.OpenBatch(ctx, nodeID, channelID, constant.BatchTypeEvents)
	if err != nil {
		t.Fatal(err)
	}
	var events []*data.DataEvent
	for _, id := range dataIDs {
		events = append(events, &data.DataEvent{DataID: id, NodeID: nodeID, RouterID: "r1", CreateTime: time.Now()})
	}
	if err = m.CloseBatch(ctx, b, events); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{constant.BatchStatusRouting, constant.BatchStatusNew, true},
		{constant.BatchStatusRouting, constant.BatchStatusSending, false},
		{constant.BatchStatusNew, constant.BatchStatusSending, true},
		{constant.BatchStatusNew, constant.BatchStatusOK, false},
		{constant.BatchStatusSending, constant.BatchStatusSending, true},
		{constant.BatchStatusSending, constant.BatchStatusOK, true},
		{constant.BatchStatusSending, constant.BatchStatusError, true},
		{constant.BatchStatusError, constant.BatchStatusSending, true},
		{constant.BatchStatusError, constant.BatchStatusNew, true},
		{constant.BatchStatusOK, constant.BatchStatusSending, false},
		{constant.BatchStatusOK, constant.BatchStatusError, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t))

	b, err := m.OpenBatch(ctx, "store-1", "default", constant.BatchTypeEvents)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != constant.BatchStatusRouting {
		t.Fatalf("OpenBatch() status = %s, want RT", b.Status)
	}
	ready, err := m.FindBatchesToExtract(ctx, "store-1", []*config.Channel{{ChannelID: "default", Enabled: true}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Fatalf("FindBatchesToExtract() returned a routing batch")
	}

	events := []*data.DataEvent{{DataID: 1, NodeID: "store-1", RouterID: "r1"}, {DataID: 2, NodeID: "store-1", RouterID: "r1"}}
	if err = m.CloseBatch(ctx, b, events); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetBatch(ctx, b.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constant.BatchStatusNew || got.DataEventCount != 2 {
		t.Errorf("CloseBatch() batch = %s/%d, want NE/2", got.Status, got.DataEventCount)
	}

	if _, err = m.SetStatus(ctx, b.BatchID, constant.BatchStatusOK, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetStatus(NE->OK) error = %v, want invalid transition", err)
	}
	if _, err = m.MarkSending(ctx, b.BatchID, 128); err != nil {
		t.Fatal(err)
	}
	if _, err = m.MarkSending(ctx, b.BatchID, 128); err != nil {
		t.Fatal(err)
	}
	got, _ = m.GetBatch(ctx, b.BatchID)
	if got.Status != constant.BatchStatusSending || got.SentCount != 2 || got.ExtractCount != 2 || got.ByteCount != 128 {
		t.Errorf("MarkSending() batch = %+v", got)
	}

	updated, err := m.MarkOK(ctx, b.BatchID)
	if err != nil || !updated {
		t.Fatalf("MarkOK() = %v, %v", updated, err)
	}
	updated, err = m.MarkOK(ctx, b.BatchID)
	if err != nil || updated {
		t.Errorf("MarkOK() on OK batch = %v, %v, want false, nil", updated, err)
	}
	if err = m.MarkError(ctx, &protocol.Ack{BatchID: b.BatchID, Status: constant.BatchStatusError}); err != nil {
		t.Errorf("MarkError() on OK batch error = %v", err)
	}
	got, _ = m.GetBatch(ctx, b.BatchID)
	if got.Status != constant.BatchStatusOK || got.LoadCount != 1 {
		t.Errorf("batch after late error ack = %s/%d, want OK/1", got.Status, got.LoadCount)
	}
}

func TestCloseEmptyBatch(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t))
	b, err := m.OpenBatch(ctx, "store-1", "default", constant.BatchTypeEvents)
	if err != nil {
		t.Fatal(err)
	}
	if err = m.CloseBatch(ctx, b, nil); err != nil {
		t.Fatal(err)
	}
	if _, err = m.GetBatch(ctx, b.BatchID); err == nil {
		t.Errorf("GetBatch() empty closed batch still exists")
	}
}

func TestFindBatchesToExtract(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t))

	var ids []uint64
	for i := uint64(1); i <= 4; i++ {
		ids = append(ids, newClosedBatch(t, m, "store-1", "default", i).BatchID)
	}
	other := newClosedBatch(t, m, "store-1", "other", 10).BatchID
	newClosedBatch(t, m, "store-2", "default", 20)

	channels := []*config.Channel{
		{ChannelID: "other", Enabled: true, ProcessingOrder: 1},
		{ChannelID: "default", Enabled: true, MaxBatchToSend: 3, ProcessingOrder: 2},
	}
	batchIDs := func(batches []*batchmodel.OutgoingBatch) []uint64 {
		var out []uint64
		for _, b := range batches {
			out = append(out, b.BatchID)
		}
		return out
	}

	ready, err := m.FindBatchesToExtract(ctx, "store-1", channels)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{other, ids[0], ids[1], ids[2]}
	if !reflect.DeepEqual(batchIDs(ready), want) {
		t.Errorf("FindBatchesToExtract() = %v, want %v", batchIDs(ready), want)
	}

	// a batch in error holds back the later batches of its channel
	if _, err = m.MarkSending(ctx, ids[1], 10); err != nil {
		t.Fatal(err)
	}
	if err = m.MarkError(ctx, &protocol.Ack{BatchID: ids[1], Status: constant.BatchStatusError, FailedLineNumber: 3, SqlMessage: "boom"}); err != nil {
		t.Fatal(err)
	}
	ready, err = m.FindBatchesToExtract(ctx, "store-1", channels)
	if err != nil {
		t.Fatal(err)
	}
	want = []uint64{other, ids[0], ids[1]}
	if !reflect.DeepEqual(batchIDs(ready), want) {
		t.Errorf("FindBatchesToExtract() with error = %v, want %v", batchIDs(ready), want)
	}
	got, _ := m.GetBatch(ctx, ids[1])
	if got.FailedLineNumber != 3 || got.SqlMessage != "boom" {
		t.Errorf("MarkError() failure detail = %d/%s", got.FailedLineNumber, got.SqlMessage)
	}

	if _, err = m.ResetBatch(ctx, ids[1]); err != nil {
		t.Fatal(err)
	}
	got, _ = m.GetBatch(ctx, ids[1])
	if got.Status != constant.BatchStatusNew || got.SqlMessage != "" {
		t.Errorf("ResetBatch() batch = %s/%s, want NE and cleared failure", got.Status, got.SqlMessage)
	}

	counts, err := m.CountBatches(ctx, "store-1", "default", constant.BatchStatusNew)
	if err != nil {
		t.Fatal(err)
	}
	if counts != 4 {
		t.Errorf("CountBatches() = %d, want 4", counts)
	}
}

func TestPurgeStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := NewManager(store)
	b, err := m.OpenBatch(ctx, "store-1", "default", constant.BatchTypeEvents)
	if err != nil {
		t.Fatal(err)
	}
	closed := newClosedBatch(t, m, "store-1", "default", 1)

	n, err := m.PurgeStale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PurgeStale() = %d, want 1", n)
	}
	if _, err = m.GetBatch(ctx, b.BatchID); err == nil {
		t.Errorf("PurgeStale() routing batch still exists")
	}
	if _, err = m.GetBatch(ctx, closed.BatchID); err != nil {
		t.Errorf("PurgeStale() removed a closed batch: %v", err)
	}
}

func TestIncomingService(t *testing.T) {
	ctx := context.Background()
	s := NewIncomingService(newTestStore(t))
	header := &protocol.Record{Type: protocol.RecordTypeBatch, BatchID: 9, SourceNodeID: "corp", ChannelID: "default"}

	in, loaded, err := s.Acquire(ctx, header)
	if err != nil || loaded {
		t.Fatalf("Acquire() = %v, %v", loaded, err)
	}
	in.FailedLineNumber = 4
	in.SqlMessage = "boom"
	if err = s.Fail(ctx, in); err != nil {
		t.Fatal(err)
	}

	in, loaded, err = s.Acquire(ctx, header)
	if err != nil || loaded {
		t.Fatalf("Acquire() after failure = %v, %v", loaded, err)
	}
	in.StatementCount = 3
	if err = s.Finish(ctx, in, constant.IncomingStatusOK); err != nil {
		t.Fatal(err)
	}

	in, loaded, err = s.Acquire(ctx, header)
	if err != nil || !loaded {
		t.Fatalf("Acquire() after load = %v, %v, want already loaded", loaded, err)
	}
	if in.StatementCount != 3 || in.SqlMessage != "" {
		t.Errorf("Acquire() loaded batch = %+v", in)
	}
	if _, _, err = s.Acquire(ctx, &protocol.Record{Type: protocol.RecordTypeCommit}); err == nil {
		t.Errorf("Acquire() non header record, want error")
	}
}
