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
package route

import (
	"context"

	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/model/data"
)

// ChangeLog is the captured change log the router reads
type ChangeLog interface {
	MaxID(ctx context.Context) (uint64, error)
	// Scan returns the changes of the channel within [fromID, toID] in id order that have no data event yet
	Scan(ctx context.Context, channelID string, fromID, toID uint64, limit int) ([]*data.Data, error)
	// CountInRange counts the changes of every channel within [fromID, toID]
	CountInRange(ctx context.Context, fromID, toID uint64) (int64, error)
}

type storeChangeLog struct {
	store *model.Store
}

// NewChangeLog reads the change log of the metadata store
func NewChangeLog(store *model.Store) ChangeLog {
	return &storeChangeLog{store: store}
}

func (c *storeChangeLog) MaxID(ctx context.Context) (uint64, error) {
	return c.store.DataRW().MaxDataID(ctx)
}

func (c *storeChangeLog) Scan(ctx context.Context, channelID string, fromID, toID uint64, limit int) ([]*data.Data, error) {
	return c.store.DataRW().ScanData(ctx, channelID, fromID, toID, limit)
}

func (c *storeChangeLog) CountInRange(ctx context.Context, fromID, toID uint64) (int64, error) {
	return c.store.DataRW().CountDataInRange(ctx, fromID, toID)
}
