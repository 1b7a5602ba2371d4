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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
)

// HTTPTransport calls the sync endpoints of the remote node server
type HTTPTransport struct {
	creds  Credentials
	codec  protocol.Codec
	client *http.Client
}

func NewHTTPTransport(creds Credentials, codec protocol.Codec, timeout time.Duration) *HTTPTransport {
	if codec == nil {
		codec, _ = protocol.GetCodec(constant.CompressionNone)
	}
	if timeout <= 0 {
		timeout = constant.DefaultTransportTimeout * time.Millisecond
	}
	return &HTTPTransport{
		creds:  creds,
		codec:  codec,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Push(ctx context.Context, node *config.Node, payload []byte) ([]*protocol.Ack, error) {
	body, err := t.codec.Compress(payload)
	if err != nil {
		return nil, err
	}
	resp, err := t.do(ctx, http.MethodPost, node, constant.HTTPPathPush, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	acks, err := protocol.DecodeAcks(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("node [%s] push response: %v", node.NodeID, err)
	}
	logger.Debug("transport push finished",
		zap.String("node_id", node.NodeID),
		zap.Int("payload_bytes", len(payload)),
		zap.Int("compressed_bytes", len(body)),
		zap.Int("acks", len(acks)))
	return acks, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, node *config.Node) (io.ReadCloser, error) {
	resp, err := t.do(ctx, http.MethodGet, node, constant.HTTPPathPull, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("node [%s] pull read failed: %v", node.NodeID, err)
	}
	if len(raw) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	codec, err := protocol.GetCodec(resp.Header.Get(constant.HTTPHeaderCompression))
	if err != nil {
		return nil, err
	}
	payload, err := codec.Decompress(raw)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (t *HTTPTransport) SendAcks(ctx context.Context, node *config.Node, acks []*protocol.Ack) error {
	var buf bytes.Buffer
	if err := protocol.EncodeAcks(&buf, acks); err != nil {
		return err
	}
	resp, err := t.do(ctx, http.MethodPost, node, constant.HTTPPathAck, buf.Bytes())
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (t *HTTPTransport) do(ctx context.Context, method string, node *config.Node, path string, body []byte) (*http.Response, error) {
	if node.SyncURL == "" {
		return nil, fmt.Errorf("node [%s] has no sync url", node.NodeID)
	}
	url := strings.TrimRight(node.SyncURL, "/") + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("node [%s] request [%s] build failed: %v", node.NodeID, url, err)
	}
	req.Header.Set(constant.HTTPHeaderNodeID, t.creds.NodeID)
	req.Header.Set(constant.HTTPHeaderSecurityToken, t.creds.SecurityToken)
	req.Header.Set(constant.HTTPHeaderCompression, t.codec.Name())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("node [%s] request [%s] failed: %w", node.NodeID, url, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("node [%s] request [%s]: %w", node.NodeID, url, ErrUnauthorized)
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("node [%s] request [%s] status [%d]: %s", node.NodeID, url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
