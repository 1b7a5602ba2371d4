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
package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/load"
	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
)

// HandlePush loads the batches pushed by the source node. Acks of the batches loaded before a truncated
// stream are still returned, the unfinished batch has none and is resent.
func (e *Engine) HandlePush(ctx context.Context, sourceNodeID string, payload io.Reader) ([]*protocol.Ack, error) {
	acks, err := e.loader.Load(ctx, payload)
	e.publishLoaded(ctx, sourceNodeID, acks)
	if err != nil {
		if errors.Is(err, load.ErrTruncatedStream) {
			logger.Warn("pushed stream truncated, partial acks returned",
				zap.String("source_node_id", sourceNodeID),
				zap.Int("acks", len(acks)))
			return acks, nil
		}
		return acks, err
	}
	return acks, nil
}

// HandlePull extracts the ready batches of the target node
func (e *Engine) HandlePull(ctx context.Context, targetNodeID string) ([]byte, error) {
	s, err := e.topo.Current(ctx)
	if err != nil {
		return nil, err
	}
	node, ok := s.Node(targetNodeID)
	if !ok {
		return nil, fmt.Errorf("pull from unknown node [%s]", targetNodeID)
	}
	if _, ok = s.Link(e.cfg.Node.NodeGroupID, node.NodeGroupID); !ok {
		return nil, fmt.Errorf("node group [%s] has no link to node group [%s]", e.cfg.Node.NodeGroupID, node.NodeGroupID)
	}
	batches, err := e.batches.FindBatchesToExtract(ctx, targetNodeID, s.EnabledChannels())
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, nil
	}
	payload, err := e.extractor.Extract(ctx, batches)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		e.bus.Publish(constant.TopicBatchSent, b)
	}
	logger.Info("outgoing batches pulled",
		zap.String("node_id", targetNodeID),
		zap.Int("batches", len(batches)),
		zap.Int("bytes", len(payload)))
	return payload, nil
}

// HandleAcks applies the acks of batches the node pulled
func (e *Engine) HandleAcks(ctx context.Context, nodeID string, acks []*protocol.Ack) error {
	return e.acks.Handle(ctx, nodeID, acks)
}

func (e *Engine) publishLoaded(ctx context.Context, sourceNodeID string, acks []*protocol.Ack) {
	for _, ack := range acks {
		channelID := ""
		if in, err := e.store.IncomingBatchRW().GetIncomingBatch(ctx, sourceNodeID, ack.BatchID); err == nil && in != nil {
			channelID = in.ChannelID
		}
		e.bus.Publish(constant.TopicBatchLoaded, channelID, ack)
	}
}
