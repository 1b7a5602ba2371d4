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
	"context"
	"fmt"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/extract"
	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
)

// AckHandler applies load acks to the outgoing batches
type AckHandler struct {
	batches   *batch.Manager
	extractor *extract.Extractor
	bus       EventBus.Bus
}

func NewAckHandler(batches *batch.Manager, extractor *extract.Extractor, bus EventBus.Bus) *AckHandler {
	return &AckHandler{batches: batches, extractor: extractor, bus: bus}
}

// Handle marks OK acks loaded and ER acks failed, recovering the failed change from the failed line when the
// remote did not report it. Acks of batches already OK are ignored.
func (h *AckHandler) Handle(ctx context.Context, nodeID string, acks []*protocol.Ack) error {
	for _, ack := range acks {
		b, err := h.batches.GetBatch(ctx, ack.BatchID)
		if err != nil {
			return err
		}
		if b.NodeID != nodeID {
			return fmt.Errorf("ack of batch [%d] from node [%s] but the batch targets node [%s]", ack.BatchID, nodeID, b.NodeID)
		}
		switch ack.Status {
		case constant.BatchStatusOK:
			updated, err := h.batches.MarkOK(ctx, ack.BatchID)
			if err != nil {
				return err
			}
			if !updated {
				logger.Debug("outgoing batch already acknowledged", zap.Uint64("batch_id", ack.BatchID))
				continue
			}
		case constant.BatchStatusError:
			if b.Status == constant.BatchStatusOK {
				continue
			}
			if ack.FailedDataID == 0 && ack.FailedLineNumber > 0 {
				dataID, err := h.extractor.FindDataID(ctx, ack.BatchID, ack.FailedLineNumber)
				if err != nil {
					logger.Warn("outgoing batch failed data id recovery failed",
						zap.Uint64("batch_id", ack.BatchID),
						zap.Int64("failed_line_number", ack.FailedLineNumber),
						zap.Error(err))
				} else {
					ack.FailedDataID = dataID
				}
			}
			if err = h.batches.MarkError(ctx, ack); err != nil {
				return err
			}
		default:
			return fmt.Errorf("ack of batch [%d] has unknown status [%s]", ack.BatchID, ack.Status)
		}
		if h.bus != nil {
			h.bus.Publish(constant.TopicBatchAcked, b.ChannelID, ack)
		}
	}
	return nil
}
