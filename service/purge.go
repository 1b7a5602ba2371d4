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
	"time"

	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/utils/constant"
)

// PurgeStatistics counts the rows removed by one purge pass
type PurgeStatistics struct {
	StaleBatches    int
	Data            int64
	DataEvents      int64
	OutgoingBatches int64
	DataGaps        int64
	IncomingBatches int64
}

// Purge removes stale routing batches, then the changes whose batches are all OK and older than the
// retention together with their events and batches, then resolved gaps and loaded incoming batches.
// Nil is returned when another server holds the purge lock.
func (e *Engine) Purge(ctx context.Context) (*PurgeStatistics, error) {
	ok, err := e.lock.Lock(ctx, constant.LockActionPurge)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	defer func() {
		if err := e.lock.Unlock(context.Background(), constant.LockActionPurge); err != nil {
			logger.Error("purge unlock failed", zap.Error(err))
		}
	}()
	return e.purge(ctx, time.Now())
}

func (e *Engine) purge(ctx context.Context, now time.Time) (*PurgeStatistics, error) {
	startTime := time.Now()
	stats := &PurgeStatistics{}
	staleBefore := now.Add(-time.Duration(e.cfg.Routing.StaleRoutingMinute) * time.Minute)
	before := now.Add(-time.Duration(e.cfg.Purge.RetentionMinutes) * time.Minute)

	var err error
	if stats.StaleBatches, err = e.batches.PurgeStale(ctx, staleBefore); err != nil {
		return nil, err
	}

	dataRW, eventRW, batchRW := e.store.DataRW(), e.store.DataEventRW(), e.store.OutgoingBatchRW()
	if stats.Data, err = dataRW.PurgeData(ctx, before, batchRW.TableName(ctx)); err != nil {
		return nil, err
	}
	if stats.DataEvents, err = eventRW.PurgeDataEvent(ctx, dataRW.TableName(ctx)); err != nil {
		return nil, err
	}
	if stats.OutgoingBatches, err = batchRW.PurgeOutgoingBatch(ctx, before, eventRW.TableName(ctx)); err != nil {
		return nil, err
	}
	if stats.DataGaps, err = e.store.DataGapRW().PurgeDataGap(ctx, before); err != nil {
		return nil, err
	}
	if stats.IncomingBatches, err = e.store.IncomingBatchRW().PurgeIncomingBatch(ctx, before); err != nil {
		return nil, err
	}

	logger.Info("metadata purged",
		zap.String("node_id", e.cfg.Node.NodeID),
		zap.Time("before", before),
		zap.Int("stale_batches", stats.StaleBatches),
		zap.Int64("data", stats.Data),
		zap.Int64("data_events", stats.DataEvents),
		zap.Int64("outgoing_batches", stats.OutgoingBatches),
		zap.Int64("data_gaps", stats.DataGaps),
		zap.Int64("incoming_batches", stats.IncomingBatches),
		zap.Duration("cost", time.Since(startTime)))
	return stats, nil
}
