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
	"time"
)

type IData interface {
	CreateData(ctx context.Context, data *Data) (*Data, error)
	GetData(ctx context.Context, dataID uint64) (*Data, error)
	MaxDataID(ctx context.Context) (uint64, error)
	ScanData(ctx context.Context, channelID string, fromID, toID uint64, limit int) ([]*Data, error)
	CountDataInRange(ctx context.Context, fromID, toID uint64) (int64, error)
	ListBatchData(ctx context.Context, batchID uint64) ([]*Data, error)
	PurgeData(ctx context.Context, before time.Time, batchTable string) (int64, error)
	TableName(ctx context.Context) string
}

type IDataEvent interface {
	CreateDataEvent(ctx context.Context, data []*DataEvent, batchSize int) error
	ListProcessedDataID(ctx context.Context, fromID, toID uint64) ([]uint64, error)
	ListDataEvent(ctx context.Context, batchID uint64) ([]*DataEvent, error)
	CountDataEvent(ctx context.Context, batchID uint64) (int64, error)
	DeleteDataEvent(ctx context.Context, batchIDs []uint64) error
	PurgeDataEvent(ctx context.Context, dataTable string) (int64, error)
	TableName(ctx context.Context) string
}

type IDataGap interface {
	CreateDataGap(ctx context.Context, data *DataGap) (*DataGap, error)
	ListDataGap(ctx context.Context, status string) ([]*DataGap, error)
	UpdateDataGap(ctx context.Context, startID, endID uint64, updates map[string]interface{}) error
	DeleteDataGap(ctx context.Context, startID, endID uint64) error
	PurgeDataGap(ctx context.Context, before time.Time) (int64, error)
}
