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
package route

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

const routeSeedYAML = `
nodes:
  - nodeID: corp
    nodeGroupID: corp
    externalID: "000"
    syncEnabled: true
  - nodeID: store-1
    nodeGroupID: store
    externalID: "001"
    syncEnabled: true
  - nodeID: store-2
    nodeGroupID: store
    externalID: "002"
    syncEnabled: true
nodeGroupLinks:
  - sourceNodeGroupID: corp
    targetNodeGroupID: store
    dataEventAction: W
channels:
  - channelID: item
    enabled: true
    maxBatchSize: 2
    batchAlgorithm: nontransactional
    useRowDataToRoute: true
  - channelID: sale
    enabled: true
    maxBatchSize: 100
    useRowDataToRoute: true
triggers:
  - triggerID: item_t
    sourceTableName: item
    channelID: item
    syncOnIncomingBatch: true
  - triggerID: sale_t
    sourceTableName: sale
    channelID: sale
routers:
  - routerID: corp_2_store
    routerType: default
    sourceNodeGroupID: corp
    targetNodeGroupID: store
    syncOnInsert: true
    syncOnUpdate: true
    syncOnDelete: false
  - routerID: corp_2_one_store
    routerType: column
    routerExpression: STORE_ID=:EXTERNAL_ID
    sourceNodeGroupID: corp
    targetNodeGroupID: store
    syncOnInsert: true
    syncOnUpdate: true
    syncOnDelete: true
triggerRouters:
  - triggerID: item_t
    routerID: corp_2_store
    enabled: true
  - triggerID: sale_t
    routerID: corp_2_one_store
    enabled: true
`

type fakeLocker struct {
	held     bool
	acquired int
}

func (l *fakeLocker) Lock(_ context.Context, _ string) (bool, error) {
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, _ string) error {
	return nil
}

func newRouteService(t *testing.T, gapOpts *GapOptions) (*model.Store, *Service, *fakeLocker) {
	t.Helper()
	store, err := model.CreateDatabaseConnection(&model.Database{
		Type: model.DatabaseTypeSqlite,
		Path: filepath.Join(t.TempDir(), "meta.db"),
	}, "warn")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	seed, err := topology.ParseSeed(strings.NewReader(routeSeedYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err = topology.Import(context.Background(), store, seed); err != nil {
		t.Fatal(err)
	}
	locker := &fakeLocker{}
	svc := NewService(Options{
		LocalNodeID:  "corp",
		LocalGroupID: "corp",
		Gap:          gapOpts,
	}, store, topology.NewManager(store), batch.NewManager(store), locker, nil)
	return store, svc, locker
}

func capture(t *testing.T, store *model.Store, d *data.Data) *data.Data {
	t.Helper()
	if d.ColumnNames == nil {
		d.ColumnNames = []string{"ID", "STORE_ID"}
		d.PkColumnNames = []string{"ID"}
	}
	d, err := store.DataRW().CreateData(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func row(values ...string) []*string {
	var r []*string
	for _, v := range values {
		r = append(r, stringutil.StringPtr(v))
	}
	return r
}

func batchesOf(t *testing.T, store *model.Store, channelID string) map[string][]*batchmodel.OutgoingBatch {
	t.Helper()
	batches, err := store.OutgoingBatchRW().ListOutgoingBatch(context.Background(), &batchmodel.Filter{ChannelID: channelID})
	if err != nil {
		t.Fatal(err)
	}
	byNode := make(map[string][]*batchmodel.OutgoingBatch)
	for _, b := range batches {
		byNode[b.NodeID] = append(byNode[b.NodeID], b)
	}
	return byNode
}

func openGaps(t *testing.T, store *model.Store) [][2]uint64 {
	t.Helper()
	gaps, err := store.DataGapRW().ListDataGap(context.Background(), constant.GapStatusOpen)
	if err != nil {
		t.Fatal(err)
	}
	var ranges [][2]uint64
	for _, g := range gaps {
		ranges = append(ranges, [2]uint64{g.StartID, g.EndID})
	}
	return ranges
}

func TestRouteDefaultRouter(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100})
	for i := 0; i < 3; i++ {
		capture(t, store, &data.Data{ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	}

	stats, err := svc.Route(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var item *Statistics
	for _, s := range stats {
		if s.ChannelID == "item" {
			item = s
		}
	}
	if item == nil || item.DataRead != 3 || item.DataRouted != 3 || item.BatchesClosed != 4 {
		t.Fatalf("Route() item statistics = %+v", item)
	}

	byNode := batchesOf(t, store, "item")
	for _, nodeID := range []string{"store-1", "store-2"} {
		var sizes []int64
		for _, b := range byNode[nodeID] {
			if b.Status != constant.BatchStatusNew {
				t.Errorf("batch [%d] status = %s, want NE", b.BatchID, b.Status)
			}
			sizes = append(sizes, b.DataEventCount)
		}
		if want := []int64{2, 1}; !reflect.DeepEqual(sizes, want) {
			t.Errorf("node %s batch sizes = %v, want %v", nodeID, sizes, want)
		}
	}
	if _, ok := byNode["corp"]; ok {
		t.Errorf("changes routed back to the local node")
	}

	if want := [][2]uint64{{4, 103}}; !reflect.DeepEqual(openGaps(t, store), want) {
		t.Errorf("open gaps = %v, want %v", openGaps(t, store), want)
	}

	// a second pass finds nothing new
	if _, err = svc.Route(ctx); err != nil {
		t.Fatal(err)
	}
	if got := batchesOf(t, store, "item"); len(got["store-1"]) != 2 {
		t.Errorf("rerun created batches, store-1 has %d", len(got["store-1"]))
	}
}

func TestRouteColumnRouterAndUnrouted(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100})
	capture(t, store, &data.Data{ChannelID: "sale", TableName: "sale", EventType: constant.EventTypeInsert, RowData: row("1", "002")})
	capture(t, store, &data.Data{ChannelID: "sale", TableName: "sale", EventType: constant.EventTypeInsert, RowData: row("2", "009")})
	capture(t, store, &data.Data{ChannelID: "sale", TableName: "unknown", EventType: constant.EventTypeInsert, RowData: row("3", "001")})

	if _, err := svc.Route(ctx); err != nil {
		t.Fatal(err)
	}
	byNode := batchesOf(t, store, "sale")
	if len(byNode) != 1 || len(byNode["store-2"]) != 1 || byNode["store-2"][0].DataEventCount != 1 {
		t.Fatalf("sale batches = %v, want one batch for store-2", byNode)
	}

	processed, err := store.DataEventRW().ListProcessedDataID(ctx, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := []uint64{1, 2, 3}; !reflect.DeepEqual(processed, want) {
		t.Errorf("processed data ids = %v, want %v", processed, want)
	}
	unrouted, err := store.DataEventRW().ListDataEvent(ctx, constant.UnroutedBatchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(unrouted) != 2 || unrouted[0].NodeID != constant.UnroutedNodeID {
		t.Errorf("unrouted events = %v, want data 2 and 3", unrouted)
	}
}

func TestRouteSyncFlagsAndPingBack(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100})
	capture(t, store, &data.Data{ChannelID: "item", TableName: "item", EventType: constant.EventTypeDelete, OldData: row("1", "001"), PkData: row("1")})
	capture(t, store, &data.Data{ChannelID: "item", TableName: "item", EventType: constant.EventTypeUpdate, RowData: row("1", "001"), SourceNodeID: "store-1"})

	if _, err := svc.Route(ctx); err != nil {
		t.Fatal(err)
	}
	byNode := batchesOf(t, store, "item")
	if len(byNode["store-1"]) != 0 || len(byNode["store-2"]) != 1 {
		t.Fatalf("item batches = %v, want the update for store-2 only", byNode)
	}
	events, err := store.DataEventRW().ListDataEvent(ctx, byNode["store-2"][0].BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].DataID != 2 {
		t.Errorf("store-2 events = %v, want data 2", events)
	}
}

func TestGapHolesAndSkip(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100, MaxRescans: 2})
	for _, id := range []uint64{1, 2, 5} {
		capture(t, store, &data.Data{DataID: id, ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	}
	if _, err := svc.Route(ctx); err != nil {
		t.Fatal(err)
	}
	if want := [][2]uint64{{3, 4}, {6, 105}}; !reflect.DeepEqual(openGaps(t, store), want) {
		t.Fatalf("open gaps = %v, want %v", openGaps(t, store), want)
	}

	// a late commit fills part of the hole
	capture(t, store, &data.Data{DataID: 3, ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	if _, err := svc.Route(ctx); err != nil {
		t.Fatal(err)
	}
	if want := [][2]uint64{{4, 4}, {6, 105}}; !reflect.DeepEqual(openGaps(t, store), want) {
		t.Fatalf("open gaps = %v, want %v", openGaps(t, store), want)
	}

	// the empty hole is skipped once rescanned enough
	for i := 0; i < 2; i++ {
		if _, err := svc.Route(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if want := [][2]uint64{{6, 105}}; !reflect.DeepEqual(openGaps(t, store), want) {
		t.Errorf("open gaps = %v, want %v", openGaps(t, store), want)
	}
}

func TestGapKeepsRangeWithData(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100, MaxRescans: 1})
	capture(t, store, &data.Data{DataID: 1, ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	// data of a channel that is not routed keeps its gap open
	capture(t, store, &data.Data{DataID: 2, ChannelID: "legacy", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	capture(t, store, &data.Data{DataID: 3, ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	for i := 0; i < 3; i++ {
		if _, err := svc.Route(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if want := [][2]uint64{{2, 2}, {4, 103}}; !reflect.DeepEqual(openGaps(t, store), want) {
		t.Errorf("open gaps = %v, want %v", openGaps(t, store), want)
	}
}

func TestGapBackpressure(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100, MaxRescans: 100, MaxOpenGaps: 2})
	for _, id := range []uint64{1, 3, 5, 7} {
		capture(t, store, &data.Data{DataID: id, ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	}
	if _, err := svc.Route(ctx); err != nil {
		t.Fatal(err)
	}
	if !svc.GapDetector().Backpressure() {
		t.Errorf("Backpressure() = false, want true")
	}
	if got := openGaps(t, store); len(got) != 2 || got[len(got)-1] != [2]uint64{8, 107} {
		t.Errorf("open gaps = %v, want two with the open ended gap last", got)
	}
}

func TestRouteLockHeld(t *testing.T) {
	store, svc, locker := newRouteService(t, nil)
	capture(t, store, &data.Data{ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	locker.held = true
	stats, err := svc.Route(context.Background())
	if err != nil || stats != nil {
		t.Fatalf("Route() = %v, %v, want skipped pass", stats, err)
	}
	if got := batchesOf(t, store, "item"); len(got) != 0 {
		t.Errorf("batches created while the lock was held: %v", got)
	}
}

func TestReaderBoundaries(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newRouteService(t, nil)
	for _, tx := range []string{"t1", "t1", "t2", ""} {
		capture(t, store, &data.Data{ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, TransactionID: tx})
	}
	reader := NewReader(NewChangeLog(store), 1, 3, true)
	var boundaries []bool
	read, err := reader.Read(ctx, "item", []*data.DataGap{{StartID: 1, EndID: 100}}, func(_ context.Context, _ *data.Data, boundary bool) error {
		boundaries = append(boundaries, boundary)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if read != 3 {
		t.Errorf("Read() = %d, want max data to route 3", read)
	}
	if want := []bool{false, true, true}; !reflect.DeepEqual(boundaries, want) {
		t.Errorf("boundaries = %v, want %v", boundaries, want)
	}
}

func TestReaderKeepsTransactionPastLimit(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newRouteService(t, nil)
	for _, tx := range []string{"t1", "t1", "t1", "t2", "t2"} {
		capture(t, store, &data.Data{ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, TransactionID: tx})
	}
	tests := []struct {
		name          string
		transactional bool
		want          []bool
	}{
		{"transaction aware", true, []bool{false, false, true}},
		{"non transactional", false, []bool{false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var boundaries []bool
			reader := NewReader(NewChangeLog(store), 1, 2, tt.transactional)
			read, err := reader.Read(ctx, "item", []*data.DataGap{{StartID: 1, EndID: 100}}, func(_ context.Context, _ *data.Data, boundary bool) error {
				boundaries = append(boundaries, boundary)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if read != len(tt.want) || !reflect.DeepEqual(boundaries, tt.want) {
				t.Errorf("Read() = %d boundaries %v, want %v", read, boundaries, tt.want)
			}
		})
	}
}

func TestRouteTransactionNotSplitAtMaxData(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100})
	sale, err := store.ChannelRW().GetChannel(ctx, "sale")
	if err != nil {
		t.Fatal(err)
	}
	sale.MaxDataToRoute = 2
	if _, err = store.ChannelRW().CreateChannel(ctx, sale); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		capture(t, store, &data.Data{ChannelID: "sale", TableName: "sale", EventType: constant.EventTypeInsert, TransactionID: "tx1", RowData: row("1", "001")})
	}
	capture(t, store, &data.Data{ChannelID: "sale", TableName: "sale", EventType: constant.EventTypeInsert, TransactionID: "tx2", RowData: row("2", "001")})

	for i := 0; i < 2; i++ {
		if _, err = svc.Route(ctx); err != nil {
			t.Fatal(err)
		}
	}
	var sizes []int64
	for _, b := range batchesOf(t, store, "sale")["store-1"] {
		sizes = append(sizes, b.DataEventCount)
	}
	if want := []int64{3, 1}; !reflect.DeepEqual(sizes, want) {
		t.Errorf("store-1 batch sizes = %v, want tx1 whole in the first batch", sizes)
	}
}

func TestRouteFailedChannelKeepsGapsMoving(t *testing.T) {
	ctx := context.Background()
	store, svc, _ := newRouteService(t, &GapOptions{LargestGapSize: 100})
	item, err := store.ChannelRW().GetChannel(ctx, "item")
	if err != nil {
		t.Fatal(err)
	}
	item.BatchAlgorithm = "missing"
	if _, err = store.ChannelRW().CreateChannel(ctx, item); err != nil {
		t.Fatal(err)
	}
	capture(t, store, &data.Data{ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert, RowData: row("1", "001")})
	capture(t, store, &data.Data{ChannelID: "sale", TableName: "sale", EventType: constant.EventTypeInsert, RowData: row("2", "002")})

	_, err = svc.Route(ctx)
	if err == nil || !strings.Contains(err.Error(), "task [item] failed") {
		t.Fatalf("Route() error = %v, want the item channel failure", err)
	}
	if got := batchesOf(t, store, "sale"); len(got["store-2"]) != 1 {
		t.Errorf("sale batches = %v, want one batch for store-2", got)
	}
	if want := [][2]uint64{{1, 1}, {3, 102}}; !reflect.DeepEqual(openGaps(t, store), want) {
		t.Errorf("open gaps = %v, want %v", openGaps(t, store), want)
	}
}
