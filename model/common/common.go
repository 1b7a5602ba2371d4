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
package common

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Entity is embedded by every metadata table row
type Entity struct {
	CreatedAt time.Time `gorm:"<-:create" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type GormDB struct {
	MetaDB *gorm.DB
}

func WarpDB(db *gorm.DB) GormDB {
	return GormDB{MetaDB: db}
}

const defaultPageSize = 100

type ctxTxnKeyStruct struct{}

var ctxTxnKey = ctxTxnKeyStruct{}

func CtxWithTransaction(ctx context.Context, db *gorm.DB) context.Context {
	return context.WithValue(ctx, ctxTxnKey, db)
}

// TransactionFromContext returns the transaction carried by the context
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(ctxTxnKey).(*gorm.DB)
	return tx, ok && tx != nil
}

// DB joins the transaction of the context, so a routing pass or a batch load commits its rows at once
func (m *GormDB) DB(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return m.MetaDB.WithContext(ctx)
}

// Paginate returns the gorm scope of the page, page starts at 1
func Paginate(page, pageSize int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if page < 1 {
			page = 1
		}
		if pageSize < 1 {
			pageSize = defaultPageSize
		}
		return db.Offset((page - 1) * pageSize).Limit(pageSize)
	}
}
