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
	"time"
)

// Data is a captured row change of the change log, immutable once written
type Data struct {
	DataID        uint64    `gorm:"primary_key;autoIncrement;comment:data id" json:"dataID"`
	ChannelID     string    `gorm:"type:varchar(50);not null;index:idx_data_channel;comment:channel id" json:"channelID"`
	TableName     string    `gorm:"type:varchar(255);not null;comment:source table name" json:"tableName"`
	EventType     string    `gorm:"type:varchar(1);not null;comment:I U D R S C" json:"eventType"`
	ColumnNames   []string  `gorm:"type:text;serializer:json;comment:captured column names" json:"columnNames"`
	PkColumnNames []string  `gorm:"type:text;serializer:json;comment:captured key column names" json:"pkColumnNames"`
	RowData       []*string `gorm:"type:longtext;serializer:json;comment:row data" json:"rowData"`
	OldData       []*string `gorm:"type:longtext;serializer:json;comment:old row data" json:"oldData"`
	PkData        []*string `gorm:"type:text;serializer:json;comment:key data" json:"pkData"`
	TransactionID string    `gorm:"type:varchar(255);comment:capture transaction id" json:"transactionID"`
	SourceNodeID  string    `gorm:"type:varchar(50);comment:node the change was loaded from" json:"sourceNodeID"`
	ExternalData  string    `gorm:"type:varchar(255);comment:trigger external data" json:"externalData"`
	CreateTime    time.Time `gorm:"not null;comment:capture time" json:"createTime"`
}

// DataEvent links a change to the outgoing batch it was routed to, batch 0 marks an unrouted change
type DataEvent struct {
	DataID     uint64    `gorm:"primaryKey;autoIncrement:false;comment:data id" json:"dataID"`
	BatchID    uint64    `gorm:"primaryKey;autoIncrement:false;index:idx_data_event_batch;comment:outgoing batch id" json:"batchID"`
	NodeID     string    `gorm:"type:varchar(50);not null;comment:target node id" json:"nodeID"`
	RouterID   string    `gorm:"type:varchar(50);not null;comment:router id" json:"routerID"`
	CreateTime time.Time `gorm:"not null;comment:route time" json:"createTime"`
}

// DataGap is a range of data ids not yet confirmed contiguous
type DataGap struct {
	StartID            uint64    `gorm:"primaryKey;autoIncrement:false;comment:gap start data id" json:"startID"`
	EndID              uint64    `gorm:"primaryKey;autoIncrement:false;comment:gap end data id" json:"endID"`
	Status             string    `gorm:"type:varchar(2);not null;index:idx_data_gap_status;comment:GP OK SK" json:"status"`
	ScanCount          int       `gorm:"type:int;not null;comment:empty rescans" json:"scanCount"`
	LastUpdateHostname string    `gorm:"type:varchar(255);comment:last update host name" json:"lastUpdateHostname"`
	CreateTime         time.Time `gorm:"not null;comment:gap create time" json:"createTime"`
	LastUpdateTime     time.Time `gorm:"not null;comment:gap update time" json:"lastUpdateTime"`
}

// Size returns the number of data ids covered by the gap
func (g *DataGap) Size() uint64 {
	return g.EndID - g.StartID + 1
}

func (g *DataGap) Contains(dataID uint64) bool {
	return dataID >= g.StartID && dataID <= g.EndID
}
