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
package data

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

type RWData struct {
	common.GormDB
}

func NewDataRW(db *gorm.DB) *RWData {
	m := &RWData{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWData) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(Data{}).Name())
}

func (rw *RWData) eventTableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(DataEvent{}).Name())
}

func (rw *RWData) CreateData(ctx context.Context, data *Data) (*Data, error) {
	if data.CreateTime.IsZero() {
		data.CreateTime = time.Now()
	}
	err := rw.DB(ctx).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWData) GetData(ctx context.Context, dataID uint64) (*Data, error) {
	var dataS []*Data
	err := rw.DB(ctx).Model(&Data{}).Where("data_id = ?", dataID).Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("get table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	if len(dataS) == 0 {
		return nil, fmt.Errorf("the table [%s] data id [%d] record not found", rw.TableName(ctx), dataID)
	}
	return dataS[0], nil
}

func (rw *RWData) MaxDataID(ctx context.Context) (uint64, error) {
	var maxID uint64
	err := rw.DB(ctx).Model(&Data{}).Select("COALESCE(MAX(data_id), 0)").Scan(&maxID).Error
	if err != nil {
		return 0, fmt.Errorf("max table [%s] data id failed: %v", rw.TableName(ctx), err)
	}
	return maxID, nil
}

// ScanData returns the changes of the channel within [fromID, toID] in data id order, skipping changes that
// already have data events
func (rw *RWData) ScanData(ctx context.Context, channelID string, fromID, toID uint64, limit int) ([]*Data, error) {
	var dataS []*Data
	dataTable := rw.TableName(ctx)
	err := rw.DB(ctx).Model(&Data{}).
		Where("channel_id = ? AND data_id BETWEEN ? AND ?", channelID, fromID, toID).
		Where(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s e WHERE e.data_id = %s.data_id)", rw.eventTableName(ctx), dataTable)).
		Order("data_id").Limit(limit).Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("scan table [%s] record failed: %v", dataTable, err)
	}
	return dataS, nil
}

func (rw *RWData) CountDataInRange(ctx context.Context, fromID, toID uint64) (int64, error) {
	var counts int64
	err := rw.DB(ctx).Model(&Data{}).Where("data_id BETWEEN ? AND ?", fromID, toID).Count(&counts).Error
	if err != nil {
		return 0, fmt.Errorf("count table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return counts, nil
}

// ListBatchData returns the changes routed to the batch in data id order
func (rw *RWData) ListBatchData(ctx context.Context, batchID uint64) ([]*Data, error) {
	var dataS []*Data
	dataTable := rw.TableName(ctx)
	err := rw.DB(ctx).Model(&Data{}).
		Joins(fmt.Sprintf("INNER JOIN %s e ON e.data_id = %s.data_id", rw.eventTableName(ctx), dataTable)).
		Where("e.batch_id = ?", batchID).
		Order(fmt.Sprintf("%s.data_id", dataTable)).Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] batch [%d] record failed: %v", dataTable, batchID, err)
	}
	return dataS, nil
}

// PurgeData deletes changes older than the time whose data events all belong to OK batches or are unrouted
func (rw *RWData) PurgeData(ctx context.Context, before time.Time, batchTable string) (int64, error) {
	dataTable := rw.TableName(ctx)
	eventTable := rw.eventTableName(ctx)
	// the newest change is kept so the auto increment never hands out a purged id again
	maxID, err := rw.MaxDataID(ctx)
	if err != nil {
		return 0, err
	}
	res := rw.DB(ctx).
		Where("create_time < ? AND data_id < ?", before, maxID).
		Where(fmt.Sprintf("EXISTS (SELECT 1 FROM %s e WHERE e.data_id = %s.data_id)", eventTable, dataTable)).
		Where(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s e INNER JOIN %s b ON b.batch_id = e.batch_id WHERE e.data_id = %s.data_id AND b.status <> ?)",
			eventTable, batchTable, dataTable), constant.BatchStatusOK).
		Delete(&Data{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge table [%s] record failed: %v", dataTable, res.Error)
	}
	return res.RowsAffected, nil
}

type RWDataEvent struct {
	common.GormDB
}

func NewDataEventRW(db *gorm.DB) *RWDataEvent {
	m := &RWDataEvent{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWDataEvent) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(DataEvent{}).Name())
}

func (rw *RWDataEvent) CreateDataEvent(ctx context.Context, data []*DataEvent, batchSize int) error {
	if len(data) == 0 {
		return nil
	}
	err := rw.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(data, batchSize).Error
	if err != nil {
		return fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

// ListProcessedDataID returns the distinct data ids within [fromID, toID] that have data events
func (rw *RWDataEvent) ListProcessedDataID(ctx context.Context, fromID, toID uint64) ([]uint64, error) {
	var ids []uint64
	err := rw.DB(ctx).Model(&DataEvent{}).Distinct("data_id").
		Where("data_id BETWEEN ? AND ?", fromID, toID).Order("data_id").Pluck("data_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] data id failed: %v", rw.TableName(ctx), err)
	}
	return ids, nil
}

func (rw *RWDataEvent) ListDataEvent(ctx context.Context, batchID uint64) ([]*DataEvent, error) {
	var dataS []*DataEvent
	err := rw.DB(ctx).Model(&DataEvent{}).Where("batch_id = ?", batchID).Order("data_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWDataEvent) CountDataEvent(ctx context.Context, batchID uint64) (int64, error) {
	var counts int64
	err := rw.DB(ctx).Model(&DataEvent{}).Where("batch_id = ?", batchID).Count(&counts).Error
	if err != nil {
		return 0, fmt.Errorf("count table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return counts, nil
}

func (rw *RWDataEvent) DeleteDataEvent(ctx context.Context, batchIDs []uint64) error {
	err := rw.DB(ctx).Where("batch_id IN (?)", batchIDs).Delete(&DataEvent{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

// PurgeDataEvent deletes the data events whose change has been purged
func (rw *RWDataEvent) PurgeDataEvent(ctx context.Context, dataTable string) (int64, error) {
	eventTable := rw.TableName(ctx)
	res := rw.DB(ctx).
		Where(fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s d WHERE d.data_id = %s.data_id)", dataTable, eventTable)).
		Delete(&DataEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge table [%s] record failed: %v", eventTable, res.Error)
	}
	return res.RowsAffected, nil
}

type RWDataGap struct {
	common.GormDB
}

func NewDataGapRW(db *gorm.DB) *RWDataGap {
	m := &RWDataGap{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWDataGap) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(DataGap{}).Name())
}

// CreateDataGap inserts the gap, an existing gap with the same range is reopened
func (rw *RWDataGap) CreateDataGap(ctx context.Context, data *DataGap) (*DataGap, error) {
	now := time.Now()
	if data.CreateTime.IsZero() {
		data.CreateTime = now
	}
	data.LastUpdateTime = now
	err := rw.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "start_id"}, {Name: "end_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "scan_count", "last_update_hostname", "last_update_time"}),
	}).Create(data).Error
	if err != nil {
		return nil, fmt.Errorf("create table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return data, nil
}

func (rw *RWDataGap) ListDataGap(ctx context.Context, status string) ([]*DataGap, error) {
	var dataS []*DataGap
	err := rw.DB(ctx).Model(&DataGap{}).Where("status = ?", status).Order("start_id, end_id").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}

func (rw *RWDataGap) UpdateDataGap(ctx context.Context, startID, endID uint64, updates map[string]interface{}) error {
	updates["last_update_time"] = time.Now()
	err := rw.DB(ctx).Model(&DataGap{}).Where("start_id = ? AND end_id = ?", startID, endID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

func (rw *RWDataGap) DeleteDataGap(ctx context.Context, startID, endID uint64) error {
	err := rw.DB(ctx).Where("start_id = ? AND end_id = ?", startID, endID).Delete(&DataGap{}).Error
	if err != nil {
		return fmt.Errorf("delete table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return nil
}

// PurgeDataGap deletes resolved and skipped gaps not updated since the time
func (rw *RWDataGap) PurgeDataGap(ctx context.Context, before time.Time) (int64, error) {
	res := rw.DB(ctx).Where("status IN (?) AND last_update_time < ?",
		[]string{constant.GapStatusResolved, constant.GapStatusSkipped}, before).Delete(&DataGap{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge table [%s] record failed: %v", rw.TableName(ctx), res.Error)
	}
	return res.RowsAffected, nil
}
