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
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/server"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/utils/constant"
)

const testConfigTOML = `
[node]
node-id = "store-1"
node-group-id = "store"
server-addr = "127.0.0.1:9000"

[database]
type = "sqlite"
path = "meta.db"

[transport]
compression = "snappy"
retry-count = 5

[target]
type = "mysql"
host = "10.0.0.8"
port = 3306
schema = "shop"

[log]
log-level = "debug"
`

func TestServerLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(testConfigTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	a := &AppServer{App: &App{}, config: path, addr: "0.0.0.0:9100", compression: constant.CompressionLz4, threads: 8}
	cfg, err := a.loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.NodeID != "store-1" || cfg.Node.NodeGroupID != "store" {
		t.Errorf("node = %+v", cfg.Node)
	}
	if cfg.Node.ServerAddr != "0.0.0.0:9100" {
		t.Errorf("flag did not override the server addr, got %s", cfg.Node.ServerAddr)
	}
	if cfg.Transport.Compression != constant.CompressionLz4 || cfg.Transport.RetryCount != 5 || cfg.Routing.RoutingThreads != 8 {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	// sections left out of the file keep their defaults
	if cfg.Routing == nil || cfg.Routing.RoutingThreads == 0 || cfg.Purge == nil {
		t.Errorf("defaults lost: routing %+v purge %+v", cfg.Routing, cfg.Purge)
	}
	ec := cfg.engineConfig()
	if ec.TargetDatabase == nil || ec.TargetDatabase.Host != "10.0.0.8" || ec.LogLevel != "debug" {
		t.Errorf("engine config = %+v", ec)
	}

	a = &AppServer{App: &App{}, config: filepath.Join(t.TempDir(), "missing.toml")}
	if _, err = a.loadConfig(); err == nil {
		t.Errorf("loadConfig() of a missing file error = nil")
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{"", "", true},
		{"127.0.0.1:31415", "http://127.0.0.1:31415", false},
		{"https://sync.example.com/", "https://sync.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := (&App{Server: tt.server}).serverURL()
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("serverURL() = %q, %v", got, err)
			}
		})
	}
}

func TestBatchCommands(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == server.APIBatchPath:
			gotQuery = r.URL.RawQuery
			_ = json.NewEncoder(w).Encode(server.Response{Code: http.StatusOK, Data: []*batchmodel.OutgoingBatch{
				{BatchID: 7, NodeID: "store-1", ChannelID: "item", Status: constant.BatchStatusError, SqlMessage: "duplicate key", LastUpdateTime: now},
			}})
		case r.Method == http.MethodPost && r.URL.Path == server.APIBatchPath+"/7/reset":
			_ = json.NewEncoder(w).Encode(server.Response{Code: http.StatusOK, Data: &batchmodel.OutgoingBatch{
				BatchID: 7, NodeID: "store-1", ChannelID: "item", Status: constant.BatchStatusNew, LastUpdateTime: now,
			}})
		default:
			_ = json.NewEncoder(w).Encode(server.Response{Code: http.StatusBadRequest, Error: "batch [8] is not in error"})
		}
	}))
	defer srv.Close()

	app := &App{Server: srv.URL}
	var out bytes.Buffer
	list := app.AppBatch().(*AppBatch).AppBatchList().Cmd()
	list.SetOut(&out)
	list.SetArgs([]string{"--node", "store-1", "--status", "ER"})
	if err := list.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotQuery, "status=ER") || !strings.Contains(gotQuery, "node=store-1") {
		t.Errorf("list query = %s", gotQuery)
	}
	if !strings.Contains(out.String(), "duplicate key") {
		t.Errorf("list output = %s", out.String())
	}

	out.Reset()
	reset := app.AppBatch().(*AppBatch).AppBatchReset().Cmd()
	reset.SetOut(&out)
	reset.SetArgs([]string{"--batch", "7"})
	if err := reset.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "store-1") {
		t.Errorf("reset output = %s", out.String())
	}

	reset = app.AppBatch().(*AppBatch).AppBatchReset().Cmd()
	reset.SetOut(&out)
	reset.SetErr(&out)
	reset.SetArgs([]string{"--batch", "8"})
	if err := reset.Execute(); err == nil || !strings.Contains(err.Error(), "not in error") {
		t.Errorf("reset of a batch not in error = %v", err)
	}
}

func TestImportSeed(t *testing.T) {
	dir := t.TempDir()
	seedFile := filepath.Join(dir, "seed.yaml")
	seed := `
nodes:
  - nodeID: corp
    nodeGroupID: corp
    syncEnabled: true
channels:
  - channelID: item
    enabled: true
securityTokens:
  corp: corp-token
`
	if err := os.WriteFile(seedFile, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewConfig()
	cfg.Database.Path = filepath.Join(dir, "meta.db")
	ctx := context.Background()
	if err := importSeed(ctx, cfg, seedFile); err != nil {
		t.Fatal(err)
	}
	if err := importSeed(ctx, cfg, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("importSeed() of a missing file error = nil")
	}

	store, err := model.CreateDatabaseConnection(cfg.Database, "warn")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	snap, err := topology.NewManager(store).Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.Node("corp"); !ok {
		t.Errorf("imported node corp not found")
	}
	if channels := snap.EnabledChannels(); len(channels) != 1 || channels[0].ChannelID != "item" {
		t.Errorf("imported channels = %+v", channels)
	}
}
