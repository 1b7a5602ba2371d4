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
package config

import "github.com/wentaojin/dbsync/model/common"

// Node is a replication endpoint
type Node struct {
	ID            uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	NodeID        string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_node_id;comment:node id" json:"nodeID"`
	NodeGroupID   string `gorm:"type:varchar(50);not null;index:idx_node_group;comment:node group id" json:"nodeGroupID"`
	ExternalID    string `gorm:"type:varchar(255);not null;comment:node external id" json:"externalID"`
	SyncEnabled   bool   `gorm:"not null;comment:node sync enabled" json:"syncEnabled"`
	SyncURL       string `gorm:"type:varchar(255);comment:node sync url" json:"syncURL"`
	SecurityToken string `gorm:"type:varchar(255);comment:node security token" json:"-"`
	*common.Entity
}

// NodeGroupLink is the directed relationship between two node groups
type NodeGroupLink struct {
	ID                uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	SourceNodeGroupID string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_node_group_link;comment:source node group id" json:"sourceNodeGroupID"`
	TargetNodeGroupID string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_node_group_link;comment:target node group id" json:"targetNodeGroupID"`
	DataEventAction   string `gorm:"type:varchar(1);not null;comment:P push or W wait for pull" json:"dataEventAction"`
	*common.Entity
}

// Channel is the unit of ordering, batching and throughput
type Channel struct {
	ID                uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	ChannelID         string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_channel_id;comment:channel id" json:"channelID"`
	Enabled           bool   `gorm:"not null;comment:channel enabled" json:"enabled"`
	MaxBatchSize      int    `gorm:"type:int;not null;comment:max data events of a batch" json:"maxBatchSize"`
	MaxBatchToSend    int    `gorm:"type:int;not null;comment:max batches sent in one push" json:"maxBatchToSend"`
	MaxDataToRoute    int    `gorm:"type:int;not null;comment:max changes routed in one pass" json:"maxDataToRoute"`
	UseOldDataToRoute bool   `gorm:"not null;comment:expose old data to routers" json:"useOldDataToRoute"`
	UseRowDataToRoute bool   `gorm:"not null;comment:expose row data to routers" json:"useRowDataToRoute"`
	UsePkDataToRoute  bool   `gorm:"not null;comment:expose pk data to routers" json:"usePkDataToRoute"`
	ProcessingOrder   int    `gorm:"type:int;not null;comment:channel processing order" json:"processingOrder"`
	BatchAlgorithm    string `gorm:"type:varchar(30);not null;comment:batch algorithm" json:"batchAlgorithm"`
	*common.Entity
}

// Trigger binds a captured source table to a channel
type Trigger struct {
	ID                  uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	TriggerID           string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_trigger_id;comment:trigger id" json:"triggerID"`
	SourceTableName     string `gorm:"type:varchar(255);not null;index:idx_trigger_table;comment:source table name" json:"sourceTableName"`
	ChannelID           string `gorm:"type:varchar(50);not null;comment:channel id" json:"channelID"`
	SyncOnIncomingBatch bool   `gorm:"not null;comment:capture changes loaded from other nodes" json:"syncOnIncomingBatch"`
	*common.Entity
}

// TriggerRouter binds a trigger to a router
type TriggerRouter struct {
	ID               uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	TriggerID        string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_trigger_router;comment:trigger id" json:"triggerID"`
	RouterID         string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_trigger_router;comment:router id" json:"routerID"`
	InitialLoadOrder int    `gorm:"type:int;not null;comment:initial load order" json:"initialLoadOrder"`
	Enabled          bool   `gorm:"not null;comment:trigger router enabled" json:"enabled"`
	PingBackEnabled  bool   `gorm:"not null;comment:route changes back to the node they came from" json:"pingBackEnabled"`
	*common.Entity
}

// Router selects target nodes of a source to target node group link
type Router struct {
	ID                uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	RouterID          string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_router_id;comment:router id" json:"routerID"`
	RouterType        string `gorm:"type:varchar(50);not null;comment:router type" json:"routerType"`
	RouterExpression  string `gorm:"type:text;comment:router expression" json:"routerExpression"`
	SourceNodeGroupID string `gorm:"type:varchar(50);not null;comment:source node group id" json:"sourceNodeGroupID"`
	TargetNodeGroupID string `gorm:"type:varchar(50);not null;comment:target node group id" json:"targetNodeGroupID"`
	TargetTableName   string `gorm:"type:varchar(255);comment:target table name" json:"targetTableName"`
	SyncOnInsert      bool   `gorm:"not null;comment:route insert" json:"syncOnInsert"`
	SyncOnUpdate      bool   `gorm:"not null;comment:route update" json:"syncOnUpdate"`
	SyncOnDelete      bool   `gorm:"not null;comment:route delete" json:"syncOnDelete"`
	*common.Entity
}

// Conflict is the conflict detection and resolution setting of a link, blank table means all tables
type Conflict struct {
	ID                 uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	ConflictID         string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_conflict_id;comment:conflict id" json:"conflictID"`
	SourceNodeGroupID  string `gorm:"type:varchar(50);not null;comment:source node group id" json:"sourceNodeGroupID"`
	TargetNodeGroupID  string `gorm:"type:varchar(50);not null;comment:target node group id" json:"targetNodeGroupID"`
	TargetTableName    string `gorm:"type:varchar(255);comment:target table name" json:"targetTableName"`
	DetectType         string `gorm:"type:varchar(30);not null;comment:detect type" json:"detectType"`
	DetectExpression   string `gorm:"type:varchar(255);comment:timestamp or version column" json:"detectExpression"`
	ResolveType        string `gorm:"type:varchar(30);not null;comment:resolve type" json:"resolveType"`
	ResolveRowOnly     bool   `gorm:"not null;comment:ignore the row only instead of the batch" json:"resolveRowOnly"`
	ResolveChangesOnly bool   `gorm:"not null;comment:fallback update changed columns only" json:"resolveChangesOnly"`
	*common.Entity
}

// TransformTable maps a source table to a target table of a link
type TransformTable struct {
	ID                uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	TransformID       string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_transform_id;comment:transform id" json:"transformID"`
	SourceNodeGroupID string `gorm:"type:varchar(50);not null;comment:source node group id" json:"sourceNodeGroupID"`
	TargetNodeGroupID string `gorm:"type:varchar(50);not null;comment:target node group id" json:"targetNodeGroupID"`
	SourceTableName   string `gorm:"type:varchar(255);not null;comment:source table name" json:"sourceTableName"`
	TargetTableName   string `gorm:"type:varchar(255);not null;comment:target table name" json:"targetTableName"`
	ColumnPolicy      string `gorm:"type:varchar(30);not null;comment:implied or specified" json:"columnPolicy"`
	*common.Entity
}

// TransformColumn transforms one target column
type TransformColumn struct {
	ID                  uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	TransformID         string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_transform_column;comment:transform id" json:"transformID"`
	TargetColumnName    string `gorm:"type:varchar(255);not null;uniqueIndex:uniq_transform_column;comment:target column name" json:"targetColumnName"`
	SourceColumnName    string `gorm:"type:varchar(255);comment:source column name" json:"sourceColumnName"`
	PK                  bool   `gorm:"not null;comment:target column is a key column" json:"pk"`
	TransformType       string `gorm:"type:varchar(30);not null;comment:transform type" json:"transformType"`
	TransformExpression string `gorm:"type:text;comment:transform expression" json:"transformExpression"`
	TransformOrder      int    `gorm:"type:int;not null;comment:transform order" json:"transformOrder"`
	*common.Entity
}

// LoadFilter is an ordered filter applied to loaded rows of a link
type LoadFilter struct {
	ID                uint64 `gorm:"primary_key;autoIncrement;comment:id" json:"id"`
	FilterID          string `gorm:"type:varchar(50);not null;uniqueIndex:uniq_load_filter_id;comment:load filter id" json:"filterID"`
	SourceNodeGroupID string `gorm:"type:varchar(50);not null;comment:source node group id" json:"sourceNodeGroupID"`
	TargetNodeGroupID string `gorm:"type:varchar(50);not null;comment:target node group id" json:"targetNodeGroupID"`
	TargetTableName   string `gorm:"type:varchar(255);comment:target table name" json:"targetTableName"`
	FilterType        string `gorm:"type:varchar(50);not null;comment:filter type" json:"filterType"`
	FilterExpression  string `gorm:"type:text;comment:filter expression" json:"filterExpression"`
	FilterOrder       int    `gorm:"type:int;not null;comment:filter order" json:"filterOrder"`
	Enabled           bool   `gorm:"not null;comment:filter enabled" json:"enabled"`
	*common.Entity
}
