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
	"fmt"

	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

// IncomingService records batches delivered to the node so redelivery of a loaded batch is a no-op
type IncomingService struct {
	store    *model.Store
	hostname string
}

func NewIncomingService(store *model.Store) *IncomingService {
	return &IncomingService{
		store:    store,
		hostname: stringutil.GetLocalHostName(),
	}
}

// Acquire registers the delivery of the batch header, it reports true when the batch was already loaded
func (s *IncomingService) Acquire(ctx context.Context, header *protocol.Record) (*batchmodel.IncomingBatch, bool, error) {
	if header.Type != protocol.RecordTypeBatch {
		return nil, false, fmt.Errorf("acquire incoming batch failed: record [%s] is not a batch header", header.Type)
	}
	existing, err := s.store.IncomingBatchRW().GetIncomingBatch(ctx, header.SourceNodeID, header.BatchID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && (existing.Status == constant.IncomingStatusOK || existing.Status == constant.IncomingStatusIgnored) {
		return existing, true, nil
	}
	in := &batchmodel.IncomingBatch{
		BatchID:            header.BatchID,
		NodeID:             header.SourceNodeID,
		ChannelID:          header.ChannelID,
		Status:             constant.IncomingStatusLoading,
		LastUpdateHostname: s.hostname,
	}
	if existing != nil {
		in.CreateTime = existing.CreateTime
	}
	in, err = s.store.IncomingBatchRW().CreateIncomingBatch(ctx, in)
	if err != nil {
		return nil, false, err
	}
	return in, false, nil
}

// Finish records the batch as loaded with its counters, status is OK or IG
func (s *IncomingService) Finish(ctx context.Context, in *batchmodel.IncomingBatch, status string) error {
	if status != constant.IncomingStatusOK && status != constant.IncomingStatusIgnored {
		return fmt.Errorf("finish incoming batch [%d] failed: status [%s] is not a finished status", in.BatchID, status)
	}
	in.Status = status
	in.FailedRowNumber, in.FailedLineNumber = 0, 0
	in.SqlState, in.SqlCode, in.SqlMessage = "", 0, ""
	in.LastUpdateHostname = s.hostname
	_, err := s.store.IncomingBatchRW().CreateIncomingBatch(ctx, in)
	return err
}

// Fail records the batch as failed, the failure fields of in are kept
func (s *IncomingService) Fail(ctx context.Context, in *batchmodel.IncomingBatch) error {
	in.Status = constant.IncomingStatusError
	in.LastUpdateHostname = s.hostname
	_, err := s.store.IncomingBatchRW().CreateIncomingBatch(ctx, in)
	return err
}

func (s *IncomingService) ListBatches(ctx context.Context, filter *batchmodel.Filter) ([]*batchmodel.IncomingBatch, error) {
	return s.store.IncomingBatchRW().ListIncomingBatch(ctx, filter)
}
