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
package lock

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/wentaojin/dbsync/model/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RWLock struct {
	common.GormDB
}

func NewLockRW(db *gorm.DB) *RWLock {
	m := &RWLock{
		common.WarpDB(db),
	}
	return m
}

func (rw *RWLock) TableName(ctx context.Context) string {
	return rw.DB(ctx).NamingStrategy.TableName(reflect.TypeOf(Lock{}).Name())
}

// InitLock inserts the unlocked row of the action when it does not exist
func (rw *RWLock) InitLock(ctx context.Context, action string) error {
	err := rw.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&Lock{LockAction: action}).Error
	if err != nil {
		return fmt.Errorf("init table [%s] lock [%s] failed: %v", rw.TableName(ctx), action, err)
	}
	return nil
}

// AcquireLock compare-and-sets the lock: the row is free, already held by the server, or held longer than the
// timeout, a zero timeout never breaks a lock held by another server
func (rw *RWLock) AcquireLock(ctx context.Context, action, serverID string, now time.Time, timeout time.Duration) (bool, error) {
	db := rw.DB(ctx).Model(&Lock{}).Where("lock_action = ?", action)
	if timeout > 0 {
		db = db.Where("locking_server_id IS NULL OR locking_server_id = ? OR lock_time < ?", serverID, now.Add(-timeout))
	} else {
		db = db.Where("locking_server_id IS NULL OR locking_server_id = ?", serverID)
	}
	res := db.Updates(map[string]interface{}{
		"locking_server_id": serverID,
		"lock_time":         now,
	})
	if res.Error != nil {
		return false, fmt.Errorf("acquire table [%s] lock [%s] failed: %v", rw.TableName(ctx), action, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseLock frees the lock when the server holds it
func (rw *RWLock) ReleaseLock(ctx context.Context, action, serverID string, now time.Time) (bool, error) {
	res := rw.DB(ctx).Model(&Lock{}).Where("lock_action = ? AND locking_server_id = ?", action, serverID).
		Updates(map[string]interface{}{
			"locking_server_id":      nil,
			"lock_time":              nil,
			"last_locking_server_id": serverID,
			"last_lock_time":         now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("release table [%s] lock [%s] failed: %v", rw.TableName(ctx), action, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (rw *RWLock) ListLock(ctx context.Context) ([]*Lock, error) {
	var dataS []*Lock
	err := rw.DB(ctx).Model(&Lock{}).Order("lock_action").Find(&dataS).Error
	if err != nil {
		return nil, fmt.Errorf("list table [%s] record failed: %v", rw.TableName(ctx), err)
	}
	return dataS, nil
}
