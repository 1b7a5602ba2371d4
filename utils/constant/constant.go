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
package constant

// change event types, stored as one character in sync_data.event_type
const (
	EventTypeInsert = "I"
	EventTypeUpdate = "U"
	EventTypeDelete = "D"
	EventTypeReload = "R"
	EventTypeSQL    = "S"
	EventTypeCreate = "C"
)

// gap status
const (
	GapStatusOpen     = "GP"
	GapStatusResolved = "OK"
	GapStatusSkipped  = "SK"
)

// outgoing batch status
const (
	BatchStatusRouting = "RT"
	BatchStatusNew     = "NE"
	BatchStatusSending = "SE"
	BatchStatusOK      = "OK"
	BatchStatusError   = "ER"
)

// incoming batch status
const (
	IncomingStatusLoading = "LD"
	IncomingStatusOK      = "OK"
	IncomingStatusError   = "ER"
	IncomingStatusIgnored = "IG"
)

const (
	BatchTypeEvents      = "EVENTS"
	BatchTypeInitialLoad = "INITIAL_LOAD"

	// UnroutedBatchID marks data events of changes that routed to no node
	UnroutedBatchID uint64 = 0
	UnroutedNodeID         = "-1"
)

// router types
const (
	RouterTypeDefault = "default"
	RouterTypeColumn  = "column"
	RouterTypeLookup  = "lookuptable"
)

// channel batch algorithms
const (
	BatchAlgorithmDefault          = "default"
	BatchAlgorithmNonTransactional = "nontransactional"
	BatchAlgorithmTransactional    = "transactional"
)

// node group link data event action
const (
	DataEventActionPush = "P"
	DataEventActionWait = "W"
)

// cluster lock actions
const (
	LockActionRoute = "ROUTE"
	LockActionPush  = "PUSH"
	LockActionPull  = "PULL"
	LockActionPurge = "PURGE"
)

// conflict detect types
const (
	ConflictDetectPkData      = "use_pk_data"
	ConflictDetectChangedData = "use_changed_data"
	ConflictDetectOldData     = "use_old_data"
	ConflictDetectTimestamp   = "use_timestamp"
	ConflictDetectVersion     = "use_version"
)

// conflict resolve types
const (
	ConflictResolveFallback  = "fallback"
	ConflictResolveIgnore    = "ignore"
	ConflictResolveManual    = "manual"
	ConflictResolveNewerWins = "newer_wins"
)

// column transform types
const (
	TransformTypeCopy     = "copy"
	TransformTypeConst    = "const"
	TransformTypeAdditive = "additive"
	TransformTypeLookup   = "lookup"
	TransformTypeRemove   = "remove"

	TransformColumnPolicyImplied   = "implied"
	TransformColumnPolicySpecified = "specified"
)

// load filter types
const (
	LoadFilterExcludeUpdateColumns = "exclude_update_columns"
	LoadFilterSourceExternalID     = "source_external_id"
	LoadFilterIgnoreRows           = "ignore_rows"
)

// load writer types
const (
	WriterTypeDatabase = "database"
	WriterTypeKafka    = "kafka"
)

// payload compression codecs
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLz4    = "lz4"
)

// event bus topics
const (
	TopicBatchRouted = "batch:routed"
	TopicBatchSent   = "batch:sent"
	TopicBatchAcked  = "batch:acked"
	TopicBatchLoaded = "batch:loaded"
	TopicGapHealth   = "gap:health"
)

const (
	DefaultMaxBatchSize       = 1000
	DefaultMaxBatchToSend     = 60
	DefaultMaxDataToRoute     = 100000
	DefaultPeekAheadSize      = 100
	DefaultLargestGapSize     = 50000000
	DefaultGapMaxRescans      = 5
	DefaultStaleGapTimeout    = 1200000
	DefaultMaxOpenGaps        = 10000
	DefaultRoutingThreads     = 4
	DefaultLockTimeout        = 1800000
	DefaultTransportTimeout   = 30000
	DefaultPushWorkers        = 4
	DefaultPurgeRetention     = 7 * 24 * 60
	DefaultStaleRoutingMinute = 30

	DefaultTaskQueueChannelSize = 1024
	DefaultRouteCron            = "@every 10s"
	DefaultPushCron             = "@every 10s"
	DefaultPullCron             = "@every 30s"
	DefaultPurgeCron            = "@every 1h"
	DefaultRefreshCron          = "@every 1m"

	DefaultNodeGroupID   = "default"
	DefaultServerAddr    = "127.0.0.1:31415"
	DefaultLogLevel      = "info"
	DefaultSlowThreshold = 300
)

const (
	StringSeparatorComma = ","
	StringSeparatorEqual = "="
	StringSeparatorColon = ":"
)

const (
	HTTPHeaderNodeID        = "X-Sync-Node-Id"
	HTTPHeaderSecurityToken = "X-Sync-Security-Token"
	HTTPHeaderCompression   = "X-Sync-Compression"

	HTTPPathPush  = "/sync/push"
	HTTPPathPull  = "/sync/pull"
	HTTPPathAck   = "/sync/ack"
	HTTPPathStats = "/api/stats"
)
