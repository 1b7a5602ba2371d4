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
	"reflect"
	"time"

	"github.com/wentaojin/dbsync/model/common"
	"github.com/wentaojin/dbsync/utils/constant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Filter narrows batch listings, blank fields match everything
type Filter struct {
	NodeID    string
	ChannelID string
	Statuses  []string
	Page      int
	PageSize  int
}

func (f *Filter) scope(db *gorm.DB) *gorm.DB {
	if f == nil {
		return db
	}
	if f.NodeID != "" {
		db = db.Where("node_id = ?", f.NodeID)
	}
	if f.ChannelID != "" {
		db = db.Where("channel_id = ?", f.ChannelID)
	}
	if len(f.Statuses) > 0 {
		db = db.Where("status IN (?)", f.Statuses)
	}
	if f.Page > 0 || f.PageSize > 0 {
		db = db.Scopes(common.Paginate(f.Page, f.PageSize))
	}
	return db
}

type RWOutgoingBatch struct {
	common.GormDB
}

func NewOutgoingBatchRW(db *gorm.DB) *RWOutgoingBatch {
	m := &RWOutgoingBatch{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWOutgoingBatch) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(OutgoingBatch{}).Name())
}

func (rw *RWOutgoingBatch) CreateOutgoingBatch(ctx context.Context, data *OutgoingBatch) (*OutgoingBatch, error) {
	now := time.Now()
	if data.CreateTime.IsZero() {
		data.CreateTime = now
	}
	data.LastUpdateTime = now
	err := rw.DB(ctx).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWOutgoingBatch) GetOutgoingBatch(ctx context.Context, batchID uint64) (*OutgoingBatch, error) {
	var dataS []*OutgoingBatch
	err := rw.DB(ctx).Model(&OutgoingBatch{}).Where("batch_id = ?", batchID).Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("get table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	if len(dataS) == 0 {
		return nil, fmt.Errorf("the table [%s] batch [%d] record not found", rw.TableName(ctx), batchID)
	}
	return dataS[0], nil
}

// UpdateOutgoingBatch updates the batch only while its status is one of the from statuses, it returns the
// affected rows so callers can detect a lost compare-and-set
func (rw *RWOutgoingBatch) UpdateOutgoingBatch(ctx context.Context, batchID uint64, fromStatuses []string, updates map[string]interface{}) (int64, error) {
	updates["last_update_time"] = time.Now()
	db := rw.DB(ctx).Model(&OutgoingBatch{}).Where("batch_id = ?", batchID)
	if len(fromStatuses) > 0 {
		db = db.Where("status IN (?)", fromStatuses)
	}
	res := db.Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("update table [%s] record failed: %v", rw.TableName(ctx), res.Error)
	}
	return res.RowsAffected, nil
}

func (rw *RWOutgoingBatch) ListOutgoingBatch(ctx context.Context, filter *Filter) ([]*OutgoingBatch, error) {
	var dataS []*OutgoingBatch
	err := rw.DB(ctx).Model(&OutgoingBatch{}).Scopes(filter.scope).Order("batch_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWOutgoingBatch) CountOutgoingBatch(ctx context.Context, filter *Filter) (int64, error) {
	var counts int64
	if filter == nil {
		filter = &Filter{}
	}
	f := *filter
	f.Page, f.PageSize = 0, 0
	err := rw.DB(ctx).Model(&OutgoingBatch{}).Scopes(f.scope).Count(&counts).Error
	if err != nil {
		return 0, fmt.Errorf("count table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return counts, nil
}

// ListStaleOutgoingBatch returns batches of the status not updated since the time
func (rw *RWOutgoingBatch) ListStaleOutgoingBatch(ctx context.Context, status string, before time.Time) ([]*OutgoingBatch, error) {
	var dataS []*OutgoingBatch
	err := rw.DB(ctx).Model(&OutgoingBatch{}).Where("status = ? AND last_update_time < ?", status, before).Order("batch_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] stale record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWOutgoingBatch) DeleteOutgoingBatch(ctx context.Context, batchIDs []uint64) error {
	err := rw.DB(ctx).Where("batch_id IN (?)", batchIDs).Delete(&OutgoingBatch{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

// PurgeOutgoingBatch deletes OK batches older than the time whose data events were all purged
func (rw *RWOutgoingBatch) PurgeOutgoingBatch(ctx context.Context, before time.Time, eventTable string) (int64, error) {
	batchTable := rw.TableName(ctx)
	res := rw.DB(ctx).Where("status = ? AND last_update_time < ?", constant.BatchStatusOK, before).
		Where(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s e WHERE e.batch_id = %s.batch_id)", eventTable, batchTable)).
		Delete(&OutgoingBatch{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge table [%s] record failed: %v", batchTable, res.Error)
	}
	return res.RowsAffected, nil
}

type RWIncomingBatch struct {
	common.GormDB
}

func NewIncomingBatchRW(db *gorm.DB) *RWIncomingBatch {
	m := &RWIncomingBatch{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWIncomingBatch) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(IncomingBatch{}).Name())
}

// GetIncomingBatch returns nil when the batch was never delivered
func (rw *RWIncomingBatch) GetIncomingBatch(ctx context.Context, nodeID string, batchID uint64) (*IncomingBatch, error) {
	var dataS []*IncomingBatch
	err := rw.DB(ctx).Model(&IncomingBatch{}).Where("node_id = ? AND batch_id = ?", nodeID, batchID).Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("get table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	if len(dataS) == 0 {
		return nil, nil
	}
	return dataS[0], nil
}

// CreateIncomingBatch upserts the delivery attempt
func (rw *RWIncomingBatch) CreateIncomingBatch(ctx context.Context, data *IncomingBatch) (*IncomingBatch, error) {
	now := time.Now()
	if data.CreateTime.IsZero() {
		data.CreateTime = now
	}
	data.LastUpdateTime = now
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}, {Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "status", "statement_count", "fallback_insert_count", "fallback_update_count", "ignore_count", "missing_delete_count", "failed_row_number", "failed_line_number", "sql_state", "sql_code", "sql_message", "last_update_hostname", "last_update_time"}),
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWIncomingBatch) ListIncomingBatch(ctx context.Context, filter *Filter) ([]*IncomingBatch, error) {
	var dataS []*IncomingBatch
	err := rw.DB(ctx).Model(&IncomingBatch{}).Scopes(filter.scope).Order("node_id, batch_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

// PurgeIncomingBatch deletes OK and ignored deliveries older than the time
func (rw *RWIncomingBatch) PurgeIncomingBatch(ctx context.Context, before time.Time) (int64, error) {
	res := rw.DB(ctx).Where("status IN (?) AND last_update_time < ?",
		[]string{constant.IncomingStatusOK, constant.IncomingStatusIgnored}, before).Delete(&IncomingBatch{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge table [%s] record failed: %v", rw.TableName(ctx), res.Error)
	}
	return res.RowsAffected, nil
}
