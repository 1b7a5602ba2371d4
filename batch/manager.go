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
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

var (
	ErrInvalidTransition = errors.New("invalid batch status transition")
	// ErrConcurrentUpdate is returned when the batch status changed between read and update
	ErrConcurrentUpdate = errors.New("batch status changed concurrently")
)

var transitions = map[string][]string{
	constant.BatchStatusRouting: {constant.BatchStatusNew},
	constant.BatchStatusNew:     {constant.BatchStatusSending, constant.BatchStatusError},
	constant.BatchStatusSending: {constant.BatchStatusSending, constant.BatchStatusOK, constant.BatchStatusError},
	constant.BatchStatusError:   {constant.BatchStatusSending, constant.BatchStatusNew},
	constant.BatchStatusOK:      {},
}

// ValidTransition reports whether an outgoing batch may move between the statuses
func ValidTransition(from, to string) bool {
	return stringutil.IsContainedString(transitions[from], to)
}

// Manager owns the outgoing batch lifecycle of the node
type Manager struct {
	store    *model.Store
	hostname string
}

func NewManager(store *model.Store) *Manager {
	return &Manager{
		store:    store,
		hostname: stringutil.GetLocalHostName(),
	}
}

// OpenBatch creates a batch in routing status, it is invisible to extraction until closed
func (m *Manager) OpenBatch(ctx context.Context, nodeID, channelID, batchType string) (*batchmodel.OutgoingBatch, error) {
	return m.store.OutgoingBatchRW().CreateOutgoingBatch(ctx, &batchmodel.OutgoingBatch{
		NodeID:             nodeID,
		ChannelID:          channelID,
		Status:             constant.BatchStatusRouting,
		BatchType:          batchType,
		LastUpdateHostname: m.hostname,
	})
}

// CloseBatch inserts the data events of the batch and makes it visible in one transaction, a batch without
// events is deleted
func (m *Manager) CloseBatch(ctx context.Context, b *batchmodel.OutgoingBatch, events []*data.DataEvent) error {
	return m.store.Transaction(ctx, func(txnCtx context.Context) error {
		if len(events) == 0 {
			return m.store.OutgoingBatchRW().DeleteOutgoingBatch(txnCtx, []uint64{b.BatchID})
		}
		for _, e := range events {
			e.BatchID = b.BatchID
		}
		if err := m.store.DataEventRW().CreateDataEvent(txnCtx, events, constant.DefaultMaxBatchSize); err != nil {
			return err
		}
		rows, err := m.store.OutgoingBatchRW().UpdateOutgoingBatch(txnCtx, b.BatchID, []string{constant.BatchStatusRouting}, map[string]interface{}{
			"status":               constant.BatchStatusNew,
			"data_event_count":     int64(len(events)),
			"last_update_hostname": m.hostname,
		})
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("batch [%d] close failed: %w", b.BatchID, ErrConcurrentUpdate)
		}
		b.Status = constant.BatchStatusNew
		b.DataEventCount = int64(len(events))
		return nil
	})
}

// FindBatchesToExtract returns the ready batches of the node in channel processing order and batch id order.
// At most max_batch_to_send batches are returned per channel, a channel stops at its first batch in error.
func (m *Manager) FindBatchesToExtract(ctx context.Context, nodeID string, channels []*config.Channel) ([]*batchmodel.OutgoingBatch, error) {
	var ready []*batchmodel.OutgoingBatch
	for _, c := range channels {
		if !c.Enabled {
			continue
		}
		limit := c.MaxBatchToSend
		if limit <= 0 {
			limit = constant.DefaultMaxBatchToSend
		}
		batches, err := m.store.OutgoingBatchRW().ListOutgoingBatch(ctx, &batchmodel.Filter{
			NodeID:    nodeID,
			ChannelID: c.ChannelID,
			Statuses:  []string{constant.BatchStatusNew, constant.BatchStatusSending, constant.BatchStatusError},
		})
		if err != nil {
			return nil, err
		}
		for i, b := range batches {
			if i >= limit {
				break
			}
			ready = append(ready, b)
			if b.Status == constant.BatchStatusError {
				break
			}
		}
	}
	return ready, nil
}

// SetStatus moves the batch to the status, extra columns are updated in the same statement
func (m *Manager) SetStatus(ctx context.Context, batchID uint64, status string, updates map[string]interface{}) (*batchmodel.OutgoingBatch, error) {
	b, err := m.store.OutgoingBatchRW().GetOutgoingBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !ValidTransition(b.Status, status) {
		return nil, fmt.Errorf("batch [%d] status [%s] to [%s]: %w", batchID, b.Status, status, ErrInvalidTransition)
	}
	if updates == nil {
		updates = make(map[string]interface{})
	}
	updates["status"] = status
	updates["last_update_hostname"] = m.hostname
	rows, err := m.store.OutgoingBatchRW().UpdateOutgoingBatch(ctx, batchID, []string{b.Status}, updates)
	if err != nil {
		return nil, err
	}
	if rows != 1 {
		return nil, fmt.Errorf("batch [%d] status [%s] to [%s]: %w", batchID, b.Status, status, ErrConcurrentUpdate)
	}
	b.Status = status
	return b, nil
}

// MarkSending records an extraction of the batch
func (m *Manager) MarkSending(ctx context.Context, batchID uint64, byteCount int64) (*batchmodel.OutgoingBatch, error) {
	return m.SetStatus(ctx, batchID, constant.BatchStatusSending, map[string]interface{}{
		"byte_count":    byteCount,
		"extract_count": gorm.Expr("extract_count + ?", 1),
		"sent_count":    gorm.Expr("sent_count + ?", 1),
	})
}

// MarkOK records a successful load, an already OK batch is left as is and reported as not updated
func (m *Manager) MarkOK(ctx context.Context, batchID uint64) (bool, error) {
	b, err := m.store.OutgoingBatchRW().GetOutgoingBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	if b.Status == constant.BatchStatusOK {
		return false, nil
	}
	_, err = m.SetStatus(ctx, batchID, constant.BatchStatusOK, map[string]interface{}{
		"load_count":         gorm.Expr("load_count + ?", 1),
		"failed_data_id":     uint64(0),
		"failed_line_number": int64(0),
		"sql_state":          "",
		"sql_code":           0,
		"sql_message":        "",
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkError records a failed load with its failure detail
func (m *Manager) MarkError(ctx context.Context, ack *protocol.Ack) error {
	b, err := m.store.OutgoingBatchRW().GetOutgoingBatch(ctx, ack.BatchID)
	if err != nil {
		return err
	}
	if b.Status == constant.BatchStatusOK {
		return nil
	}
	_, err = m.SetStatus(ctx, ack.BatchID, constant.BatchStatusError, map[string]interface{}{
		"failed_data_id":     ack.FailedDataID,
		"failed_line_number": ack.FailedLineNumber,
		"sql_state":          ack.SqlState,
		"sql_code":           ack.SqlCode,
		"sql_message":        ack.SqlMessage,
	})
	if err != nil {
		return err
	}
	logger.Warn("outgoing batch load failed",
		zap.Uint64("batch_id", ack.BatchID),
		zap.String("node_id", b.NodeID),
		zap.String("channel_id", b.ChannelID),
		zap.Uint64("failed_data_id", ack.FailedDataID),
		zap.Int64("failed_line_number", ack.FailedLineNumber),
		zap.String("sql_state", ack.SqlState),
		zap.Int("sql_code", ack.SqlCode),
		zap.String("sql_message", ack.SqlMessage))
	return nil
}

// ResetBatch is the operator retry of a batch in error
func (m *Manager) ResetBatch(ctx context.Context, batchID uint64) (*batchmodel.OutgoingBatch, error) {
	return m.SetStatus(ctx, batchID, constant.BatchStatusNew, map[string]interface{}{
		"failed_data_id":     uint64(0),
		"failed_line_number": int64(0),
		"sql_state":          "",
		"sql_code":           0,
		"sql_message":        "",
	})
}

func (m *Manager) GetBatch(ctx context.Context, batchID uint64) (*batchmodel.OutgoingBatch, error) {
	return m.store.OutgoingBatchRW().GetOutgoingBatch(ctx, batchID)
}

func (m *Manager) ListBatches(ctx context.Context, filter *batchmodel.Filter) ([]*batchmodel.OutgoingBatch, error) {
	return m.store.OutgoingBatchRW().ListOutgoingBatch(ctx, filter)
}

// CountBatches counts batches of the node and channel in the status, blank arguments match everything
func (m *Manager) CountBatches(ctx context.Context, nodeID, channelID, status string) (int64, error) {
	filter := &batchmodel.Filter{NodeID: nodeID, ChannelID: channelID}
	if status != "" {
		filter.Statuses = []string{status}
	}
	return m.store.OutgoingBatchRW().CountOutgoingBatch(ctx, filter)
}

// PurgeStale deletes batches left in routing status by an interrupted routing pass together with their events
func (m *Manager) PurgeStale(ctx context.Context, before time.Time) (int, error) {
	stale, err := m.store.OutgoingBatchRW().ListStaleOutgoingBatch(ctx, constant.BatchStatusRouting, before)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	var batchIDs []uint64
	for _, b := range stale {
		batchIDs = append(batchIDs, b.BatchID)
	}
	err = m.store.Transaction(ctx, func(txnCtx context.Context) error {
		if err := m.store.DataEventRW().DeleteDataEvent(txnCtx, batchIDs); err != nil {
			return err
		}
		return m.store.OutgoingBatchRW().DeleteOutgoingBatch(txnCtx, batchIDs)
	})
	if err != nil {
		return 0, err
	}
	logger.Warn("stale routing batches purged", zap.Uint64s("batch_ids", batchIDs))
	return len(batchIDs), nil
}
