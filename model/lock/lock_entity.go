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

import "time"

// Lock is a named cluster wide mutual exclusion row
type Lock struct {
	LockAction          string     `gorm:"primaryKey;type:varchar(50);comment:lock action" json:"lockAction"`
	LockingServerID     *string    `gorm:"type:varchar(255);comment:server holding the lock" json:"lockingServerID"`
	LockTime            *time.Time `gorm:"comment:lock acquire time" json:"lockTime"`
	LastLockingServerID string     `gorm:"type:varchar(255);comment:last server holding the lock" json:"lastLockingServerID"`
	LastLockTime        *time.Time `gorm:"comment:last lock acquire time" json:"lastLockTime"`
}
