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
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/service"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/utils/configutil"
	"github.com/wentaojin/dbsync/utils/constant"
)

const serverSeedYAML = `
nodes:
  - nodeID: corp
    nodeGroupID: corp
    syncEnabled: true
  - nodeID: store-1
    nodeGroupID: store
    syncEnabled: true
    syncURL: %s
  - nodeID: store-9
    nodeGroupID: store
    syncEnabled: false
nodeGroupLinks:
  - sourceNodeGroupID: corp
    targetNodeGroupID: store
    dataEventAction: P
  - sourceNodeGroupID: store
    targetNodeGroupID: corp
    dataEventAction: W
channels:
  - channelID: item
    enabled: true
    maxBatchSize: 100
    useRowDataToRoute: true
triggers:
  - triggerID: item_t
    sourceTableName: item
    channelID: item
routers:
  - routerID: corp_2_store
    routerType: default
    sourceNodeGroupID: corp
    targetNodeGroupID: store
    syncOnInsert: true
    syncOnUpdate: true
    syncOnDelete: true
triggerRouters:
  - triggerID: item_t
    routerID: corp_2_store
    enabled: true
securityTokens:
  corp: corp-token
  store-1: store-token
  store-9: disabled-token
`

func newEngine(t *testing.T, url, nodeID, groupID, token, compression string) *service.Engine {
	t.Helper()
	ctx := context.Background()
	store, err := model.CreateDatabaseConnection(&model.Database{
		Type: model.DatabaseTypeSqlite,
		Path: filepath.Join(t.TempDir(), nodeID+".db"),
	}, "warn")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	seed, err := topology.ParseSeed(strings.NewReader(fmt.Sprintf(serverSeedYAML, url)))
	if err != nil {
		t.Fatal(err)
	}
	if err = topology.Import(ctx, store, seed); err != nil {
		t.Fatal(err)
	}
	if err = store.Base().Exec("CREATE TABLE item (ID INTEGER PRIMARY KEY, NAME TEXT)").Error; err != nil {
		t.Fatal(err)
	}
	cfg := service.DefaultConfig()
	cfg.Node = &configutil.NodeOptions{NodeID: nodeID, NodeGroupID: groupID, SecurityToken: token}
	cfg.Transport.Compression = compression
	e, err := service.NewEngine(ctx, cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Stop() })
	return e
}

type testServer struct {
	url    string
	engine *service.Engine
}

// newTestServer serves store-1, the url is known before the engine is built so the seed can carry it
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	var handler atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Load().(http.Handler).ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	e := newEngine(t, srv.URL, "store-1", "store", "store-token", constant.CompressionNone)
	handler.Store(NewServer("", e).Handler())
	return &testServer{url: srv.URL, engine: e}
}

func TestServerPush(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	corp := newEngine(t, ts.url, "corp", "corp", "corp-token", constant.CompressionSnappy)
	for _, row := range [][2]string{{"1", "apple"}, {"2", "pear"}} {
		id, name := row[0], row[1]
		_, err := corp.Store().DataRW().CreateData(ctx, &data.Data{
			ChannelID: "item", TableName: "item", EventType: constant.EventTypeInsert,
			ColumnNames: []string{"ID", "NAME"}, PkColumnNames: []string{"ID"},
			RowData: []*string{&id, &name}, PkData: []*string{&id},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := corp.Route(ctx); err != nil {
		t.Fatal(err)
	}
	transfers, err := corp.Push(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 1 || transfers[0].NodeID != "store-1" || transfers[0].Acks != 1 {
		t.Fatalf("Push() = %+v", transfers)
	}
	var name string
	if err = ts.engine.Store().Base().Raw("SELECT NAME FROM item WHERE ID = 2").Scan(&name).Error; err != nil {
		t.Fatal(err)
	}
	if name != "pear" {
		t.Errorf("loaded NAME = %q, want pear", name)
	}

	body, err := Request(http.MethodGet, ts.url+constant.HTTPPathStats, nil)
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Code int                    `json:"code"`
		Data *service.StatsSnapshot `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusOK || len(resp.Data.Channels) != 1 || resp.Data.Channels[0].BatchesLoaded != 1 {
		t.Errorf("stats = %s", body)
	}

	metrics, err := Request(http.MethodGet, ts.url+APIMetricsPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(metrics), `dbsync_batches_total{channel="item",event="loaded"} 1`) {
		t.Errorf("metrics = %s", metrics)
	}

	incoming, err := Request(http.MethodGet, ts.url+APIIncomePath+"?node=corp", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(incoming), `"status":"OK"`) {
		t.Errorf("incoming = %s", incoming)
	}
}

func TestServerAuthenticate(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		nodeID string
		token  string
		want   int
	}{
		{"valid", "corp", "corp-token", http.StatusOK},
		{"bad token", "corp", "nope", http.StatusUnauthorized},
		{"unknown node", "store-5", "", http.StatusUnauthorized},
		{"disabled node", "store-9", "disabled-token", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.url+constant.HTTPPathPull, nil)
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set(constant.HTTPHeaderNodeID, tt.nodeID)
			req.Header.Set(constant.HTTPHeaderSecurityToken, tt.token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServerOperatorAPI(t *testing.T) {
	ts := newTestServer(t)

	body, err := Request(http.MethodPost, ts.url+APIBatchPath+"/42/reset", nil)
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err = json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusBadRequest || resp.Error == "" {
		t.Errorf("reset of an unknown batch = %s", body)
	}

	body, err = Request(http.MethodGet, ts.url+APIBatchPath+"?page=x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusBadRequest {
		t.Errorf("list with a bad page = %s", body)
	}

	body, err = Request(http.MethodGet, ts.url+APILockPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusOK {
		t.Errorf("locks = %s", body)
	}
}
