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
	"time"
)

// OutgoingBatch is an ordered group of data events addressed to one node on one channel
type OutgoingBatch struct {
	BatchID            uint64    `gorm:"primary_key;autoIncrement;comment:batch id" json:"batchID"`
	NodeID             string    `gorm:"type:varchar(50);not null;index:idx_outgoing_node_channel;comment:target node id" json:"nodeID"`
	ChannelID          string    `gorm:"type:varchar(50);not null;index:idx_outgoing_node_channel;comment:channel id" json:"channelID"`
	Status             string    `gorm:"type:varchar(2);not null;index:idx_outgoing_status;comment:RT NE SE OK ER" json:"status"`
	BatchType          string    `gorm:"type:varchar(20);not null;comment:EVENTS or INITIAL_LOAD" json:"batchType"`
	DataEventCount     int64     `gorm:"type:bigint;not null;comment:data event count" json:"dataEventCount"`
	ByteCount          int64     `gorm:"type:bigint;not null;comment:extracted bytes" json:"byteCount"`
	ExtractCount       int64     `gorm:"type:bigint;not null;comment:extract attempts" json:"extractCount"`
	SentCount          int64     `gorm:"type:bigint;not null;comment:send attempts" json:"sentCount"`
	LoadCount          int64     `gorm:"type:bigint;not null;comment:acknowledged loads" json:"loadCount"`
	FailedDataID       uint64    `gorm:"type:bigint;not null;comment:failed data id" json:"failedDataID"`
	FailedLineNumber   int64     `gorm:"type:bigint;not null;comment:failed line number" json:"failedLineNumber"`
	SqlState           string    `gorm:"type:varchar(10);comment:sql state" json:"sqlState"`
	SqlCode            int       `gorm:"type:int;not null;comment:sql code" json:"sqlCode"`
	SqlMessage         string    `gorm:"type:text;comment:sql message" json:"sqlMessage"`
	LastUpdateHostname string    `gorm:"type:varchar(255);comment:last update host name" json:"lastUpdateHostname"`
	CreateTime         time.Time `gorm:"not null;comment:create time" json:"createTime"`
	LastUpdateTime     time.Time `gorm:"not null;comment:last update time" json:"lastUpdateTime"`
}

// IncomingBatch is the target side record of a batch delivery keyed by source node and batch id
type IncomingBatch struct {
	BatchID             uint64    `gorm:"primaryKey;autoIncrement:false;comment:batch id" json:"batchID"`
	NodeID              string    `gorm:"primaryKey;type:varchar(50);comment:source node id" json:"nodeID"`
	ChannelID           string    `gorm:"type:varchar(50);not null;comment:channel id" json:"channelID"`
	Status              string    `gorm:"type:varchar(2);not null;comment:LD OK ER IG" json:"status"`
	StatementCount      int64     `gorm:"type:bigint;not null;comment:statement count" json:"statementCount"`
	FallbackInsertCount int64     `gorm:"type:bigint;not null;comment:update fallback to insert count" json:"fallbackInsertCount"`
	FallbackUpdateCount int64     `gorm:"type:bigint;not null;comment:insert fallback to update count" json:"fallbackUpdateCount"`
	IgnoreCount         int64     `gorm:"type:bigint;not null;comment:ignored row count" json:"ignoreCount"`
	MissingDeleteCount  int64     `gorm:"type:bigint;not null;comment:missing delete count" json:"missingDeleteCount"`
	FailedRowNumber     int64     `gorm:"type:bigint;not null;comment:failed row number" json:"failedRowNumber"`
	FailedLineNumber    int64     `gorm:"type:bigint;not null;comment:failed line number" json:"failedLineNumber"`
	SqlState            string    `gorm:"type:varchar(10);comment:sql state" json:"sqlState"`
	SqlCode             int       `gorm:"type:int;not null;comment:sql code" json:"sqlCode"`
	SqlMessage          string    `gorm:"type:text;comment:sql message" json:"sqlMessage"`
	LastUpdateHostname  string    `gorm:"type:varchar(255);comment:last update host name" json:"lastUpdateHostname"`
	CreateTime          time.Time `gorm:"not null;comment:create time" json:"createTime"`
	LastUpdateTime      time.Time `gorm:"not null;comment:last update time" json:"lastUpdateTime"`
}
