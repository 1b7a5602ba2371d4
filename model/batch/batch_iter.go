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
	"time"
)

type IOutgoingBatch interface {
	CreateOutgoingBatch(ctx context.Context, data *OutgoingBatch) (*OutgoingBatch, error)
	GetOutgoingBatch(ctx context.Context, batchID uint64) (*OutgoingBatch, error)
	UpdateOutgoingBatch(ctx context.Context, batchID uint64, fromStatuses []string, updates map[string]interface{}) (int64, error)
	ListOutgoingBatch(ctx context.Context, filter *Filter) ([]*OutgoingBatch, error)
	CountOutgoingBatch(ctx context.Context, filter *Filter) (int64, error)
	ListStaleOutgoingBatch(ctx context.Context, status string, before time.Time) ([]*OutgoingBatch, error)
	DeleteOutgoingBatch(ctx context.Context, batchIDs []uint64) error
	PurgeOutgoingBatch(ctx context.Context, before time.Time, eventTable string) (int64, error)
	TableName(ctx context.Context) string
}

type IIncomingBatch interface {
	GetIncomingBatch(ctx context.Context, nodeID string, batchID uint64) (*IncomingBatch, error)
	CreateIncomingBatch(ctx context.Context, data *IncomingBatch) (*IncomingBatch, error)
	ListIncomingBatch(ctx context.Context, filter *Filter) ([]*IncomingBatch, error)
	PurgeIncomingBatch(ctx context.Context, before time.Time) (int64, error)
}
