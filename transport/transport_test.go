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
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/extract"
	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
)

func TestHTTPTransportPush(t *testing.T) {
	codec, err := protocol.GetCodec(constant.CompressionSnappy)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte(`{"type":"B","batch_id":7}` + "\n")
	var gotPayload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != constant.HTTPPathPush || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get(constant.HTTPHeaderNodeID) != "corp" || r.Header.Get(constant.HTTPHeaderSecurityToken) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		c, err := protocol.GetCodec(r.Header.Get(constant.HTTPHeaderCompression))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		gotPayload, _ = c.Decompress(raw)
		_ = protocol.EncodeAcks(w, []*protocol.Ack{protocol.NewOKAck(7, "store-1")})
	}))
	defer srv.Close()
	node := &config.Node{NodeID: "store-1", SyncURL: srv.URL + "/"}

	tests := []struct {
		name    string
		creds   Credentials
		wantErr error
	}{
		{"accepted", Credentials{NodeID: "corp", SecurityToken: "secret"}, nil},
		{"rejected token", Credentials{NodeID: "corp", SecurityToken: "bad"}, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewHTTPTransport(tt.creds, codec, time.Second)
			acks, err := tr.Push(context.Background(), node, payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Push() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(acks, []*protocol.Ack{protocol.NewOKAck(7, "store-1")}) {
				t.Errorf("Push() acks = %+v", acks)
			}
			if !bytes.Equal(gotPayload, payload) {
				t.Errorf("server payload = %q, want %q", gotPayload, payload)
			}
		})
	}
}

func TestHTTPTransportPullAndAcks(t *testing.T) {
	lz4, err := protocol.GetCodec(constant.CompressionLz4)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte(`{"type":"B","batch_id":9}` + "\n")
	var gotAcks []*protocol.Ack
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case constant.HTTPPathPull:
			body, _ := lz4.Compress(payload)
			w.Header().Set(constant.HTTPHeaderCompression, lz4.Name())
			_, _ = w.Write(body)
		case constant.HTTPPathAck:
			gotAcks, _ = protocol.DecodeAcks(r.Body)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	node := &config.Node{NodeID: "corp", SyncURL: srv.URL}
	tr := NewHTTPTransport(Credentials{NodeID: "store-1"}, nil, 0)
	ctx := context.Background()

	rc, err := tr.Pull(ctx, node)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, payload) {
		t.Errorf("Pull() = %q, want %q", got, payload)
	}

	acks := []*protocol.Ack{{BatchID: 9, NodeID: "store-1", Status: constant.BatchStatusError, FailedLineNumber: 3, SqlMessage: "dup"}}
	if err = tr.SendAcks(ctx, node, acks); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gotAcks, acks) {
		t.Errorf("server acks = %+v", gotAcks)
	}

	if _, err = tr.Push(ctx, &config.Node{NodeID: "corp", SyncURL: srv.URL + "/other"}, payload); err == nil {
		t.Errorf("Push() to a failing endpoint error = nil")
	}
	if _, err = tr.Push(ctx, &config.Node{NodeID: "corp"}, payload); err == nil {
		t.Errorf("Push() without sync url error = nil")
	}
}

type fakeEndpoint struct {
	pushed []byte
	acks   []*protocol.Ack
}

func (f *fakeEndpoint) HandlePush(_ context.Context, sourceNodeID string, payload io.Reader) ([]*protocol.Ack, error) {
	f.pushed, _ = io.ReadAll(payload)
	return []*protocol.Ack{protocol.NewOKAck(1, sourceNodeID)}, nil
}

func (f *fakeEndpoint) HandlePull(context.Context, string) ([]byte, error) {
	return []byte("pulled"), nil
}

func (f *fakeEndpoint) HandleAcks(_ context.Context, _ string, acks []*protocol.Ack) error {
	f.acks = acks
	return nil
}

type tokenAuth map[string]string

func (a tokenAuth) Authenticate(_ context.Context, nodeID, token string) error {
	if a[nodeID] != token {
		return errors.New("token mismatch")
	}
	return nil
}

func TestLocalTransport(t *testing.T) {
	ctx := context.Background()
	network := NewNetwork()
	ep := &fakeEndpoint{}
	network.Register("store-1", ep, tokenAuth{"corp": "secret"})
	node := &config.Node{NodeID: "store-1"}

	tr := NewLocalTransport(Credentials{NodeID: "corp", SecurityToken: "secret"}, network)
	acks, err := tr.Push(ctx, node, []byte("batch"))
	if err != nil {
		t.Fatal(err)
	}
	if string(ep.pushed) != "batch" || len(acks) != 1 || acks[0].NodeID != "corp" {
		t.Errorf("Push() = %+v, endpoint got %q", acks, ep.pushed)
	}

	tr.SetFault(func(op string, _ *config.Node, payload []byte) ([]byte, error) {
		switch op {
		case OpPull:
			return payload[:3], nil
		case OpAck:
			return nil, errors.New("ack lost")
		}
		return payload, nil
	})
	rc, err := tr.Pull(ctx, node)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "pul" {
		t.Errorf("Pull() with truncating fault = %q", got)
	}
	if err = tr.SendAcks(ctx, node, []*protocol.Ack{protocol.NewOKAck(1, "store-1")}); err == nil {
		t.Errorf("SendAcks() with failing fault error = nil")
	}
	if ep.acks != nil {
		t.Errorf("endpoint received acks through a failing fault")
	}

	bad := NewLocalTransport(Credentials{NodeID: "corp", SecurityToken: "bad"}, network)
	if _, err = bad.Push(ctx, node, nil); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Push() with bad token error = %v", err)
	}
	if _, err = tr.Push(ctx, &config.Node{NodeID: "store-9"}, nil); err == nil {
		t.Errorf("Push() to an unregistered node error = nil")
	}
}

func TestAckHandler(t *testing.T) {
	ctx := context.Background()
	store, err := model.CreateDatabaseConnection(&model.Database{
		Type: model.DatabaseTypeSqlite,
		Path: filepath.Join(t.TempDir(), "meta.db"),
	}, "warn")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	batches := batch.NewManager(store)
	extractor := extract.NewExtractor(store, batches, "corp", nil)
	id := "1"
	newBatch := func() uint64 {
		d, err := store.DataRW().CreateData(ctx, &data.Data{
			ChannelID: "default", TableName: "item", EventType: constant.EventTypeInsert,
			ColumnNames: []string{"ID"}, PkColumnNames: []string{"ID"}, RowData: []*string{&id}, PkData: []*string{&id},
		})
		if err != nil {
			t.Fatal(err)
		}
		b, err := batches.OpenBatch(ctx, "store-1", "default", constant.BatchTypeEvents)
		if err != nil {
			t.Fatal(err)
		}
		if err = batches.CloseBatch(ctx, b, []*data.DataEvent{{DataID: d.DataID, NodeID: "store-1", RouterID: "r"}}); err != nil {
			t.Fatal(err)
		}
		if _, err = extractor.Extract(ctx, []*batchmodel.OutgoingBatch{b}); err != nil {
			t.Fatal(err)
		}
		return b.BatchID
	}
	okID, errID := newBatch(), newBatch()

	h := NewAckHandler(batches, extractor, nil)
	acks := []*protocol.Ack{
		protocol.NewOKAck(okID, "store-1"),
		// line 3 is the insert after the batch header and the table record
		{BatchID: errID, NodeID: "store-1", Status: constant.BatchStatusError, FailedLineNumber: 3, SqlMessage: "constraint"},
	}
	if err = h.Handle(ctx, "store-1", acks); err != nil {
		t.Fatal(err)
	}
	okBatch, _ := batches.GetBatch(ctx, okID)
	errBatch, _ := batches.GetBatch(ctx, errID)
	if okBatch.Status != constant.BatchStatusOK {
		t.Errorf("acked batch status = %s", okBatch.Status)
	}
	if errBatch.Status != constant.BatchStatusError || errBatch.FailedDataID != 2 || errBatch.SqlMessage != "constraint" {
		t.Errorf("failed batch = %+v", errBatch)
	}

	// a late error ack never downgrades an OK batch
	if err = h.Handle(ctx, "store-1", []*protocol.Ack{{BatchID: okID, Status: constant.BatchStatusError}}); err != nil {
		t.Fatal(err)
	}
	if okBatch, _ = batches.GetBatch(ctx, okID); okBatch.Status != constant.BatchStatusOK {
		t.Errorf("OK batch status after error ack = %s", okBatch.Status)
	}
	if err = h.Handle(ctx, "store-2", []*protocol.Ack{protocol.NewOKAck(errID, "store-2")}); err == nil {
		t.Errorf("Handle() of another node's batch error = nil")
	}
}
