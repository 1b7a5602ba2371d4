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
package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/common"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/model/lock"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

const (
	DatabaseTypeMySQL  = "mysql"
	DatabaseTypeSqlite = "sqlite"

	// TablePrefix prefixes every metadata table
	TablePrefix = "sync_"
)

// DefaultStore is the metadata store of the process, set by the command line entrypoints
var DefaultStore *Store

// Store is the metadata store of one node: topology, change log, gaps, batches and locks
type Store struct {
	base *gorm.DB

	nodeRW          config.INode
	nodeGroupLinkRW config.INodeGroupLink
	channelRW       config.IChannel
	triggerRW       config.ITrigger
	triggerRouterRW config.ITriggerRouter
	routerRW        config.IRouter
	conflictRW      config.IConflict
	transformRW     config.ITransform
	loadFilterRW    config.ILoadFilter
	dataRW          data.IData
	dataEventRW     data.IDataEvent
	dataGapRW       data.IDataGap
	outgoingBatchRW batch.IOutgoingBatch
	incomingBatchRW batch.IIncomingBatch
	lockRW          lock.ILock
}

// Database is database configuration.
type Database struct {
	Type          string `toml:"type" json:"type"`
	Host          string `toml:"host" json:"host"`
	Port          uint64 `toml:"port" json:"port"`
	Username      string `toml:"username" json:"username"`
	Password      string `toml:"password" json:"-"`
	Schema        string `toml:"schema" json:"schema"`
	Path          string `toml:"path" json:"path"`
	SlowThreshold uint64 `toml:"slow-threshold" json:"slow-threshold"`
}

// OpenDatabase opens the configured database, metadata tables are prefixed
func OpenDatabase(cfg *Database, logLevel string, prefix string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Type) {
	case DatabaseTypeSqlite:
		dialector = sqlite.Open(cfg.Path)
	case DatabaseTypeMySQL, "":
		dialector = mysql.Open(buildMysqlDSN(cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Schema))
	default:
		return nil, fmt.Errorf("database type [%s] is not supported, please choose mysql or sqlite", cfg.Type)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		DisableNestedTransaction:                 true,
		TranslateError:                           true,
		Logger:                                   logger.GetGormLogger(logLevel, cfg.SlowThreshold),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   prefix,
			SingularTable: true,
		},
	})
	if err != nil || db.Error != nil {
		return nil, fmt.Errorf("database open failed, database error: [%v]", err)
	}
	if strings.EqualFold(cfg.Type, DatabaseTypeSqlite) {
		// sqlite serializes writers, a single connection avoids database is locked errors
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database get sql db failed: [%v]", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// CreateDatabaseConnection opens the metadata store and migrates its tables
func CreateDatabaseConnection(cfg *Database, logLevel string) (*Store, error) {
	db, err := OpenDatabase(cfg, logLevel, TablePrefix)
	if err != nil {
		return nil, err
	}
	store := NewStore(db)

	startTime := time.Now()
	logger.Info("database table migrate starting", zap.String("database", cfg.String()), zap.String("startTime", startTime.String()))
	if err = store.MigrateTables(); err != nil {
		return nil, fmt.Errorf("database [%s] migrate tables failed, database error: [%v]", cfg.Schema, err)
	}
	endTime := time.Now()
	logger.Info("database table migrate end", zap.String("database", cfg.String()), zap.String("endTime", endTime.String()), zap.String("cost", endTime.Sub(startTime).String()))
	return store, nil
}

func CreateDatabaseSchema(cfg *Database) error {
	if strings.EqualFold(cfg.Type, DatabaseTypeSqlite) {
		return nil
	}
	dsn := buildMysqlDSN(cfg.Username, cfg.Password, cfg.Host, cfg.Port, "")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("error on open mysql database connection: %v", err)
	}
	defer db.Close()

	err = db.Ping()
	if err != nil {
		return fmt.Errorf("database ping failed, database error: [%v]", err)
	}

	createSchema := fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, cfg.Schema)
	_, err = db.Exec(createSchema)
	if err != nil {
		return fmt.Errorf("database sql [%v] exec failed, database error: [%v]", createSchema, err)
	}
	return nil
}

func buildMysqlDSN(user, password, host string, port uint64, schema string) string {
	// clientFoundRows makes compare-and-set updates report matched rows
	if !strings.EqualFold(schema, "") {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local&clientFoundRows=true", user, password, host, port, schema)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/?charset=utf8mb4&parseTime=true&loc=Local&clientFoundRows=true", user, password, host, port)
}

// NewStore builds the reader writers over the opened database
func NewStore(db *gorm.DB) *Store {
	return &Store{
		base:            db,
		nodeRW:          config.NewNodeRW(db),
		nodeGroupLinkRW: config.NewNodeGroupLinkRW(db),
		channelRW:       config.NewChannelRW(db),
		triggerRW:       config.NewTriggerRW(db),
		triggerRouterRW: config.NewTriggerRouterRW(db),
		routerRW:        config.NewRouterRW(db),
		conflictRW:      config.NewConflictRW(db),
		transformRW:     config.NewTransformRW(db),
		loadFilterRW:    config.NewLoadFilterRW(db),
		dataRW:          data.NewDataRW(db),
		dataEventRW:     data.NewDataEventRW(db),
		dataGapRW:       data.NewDataGapRW(db),
		outgoingBatchRW: batch.NewOutgoingBatchRW(db),
		incomingBatchRW: batch.NewIncomingBatchRW(db),
		lockRW:          lock.NewLockRW(db),
	}
}

func (s *Store) migrateStream(models ...interface{}) (err error) {
	db := s.base
	if s.base.Dialector.Name() == DatabaseTypeMySQL {
		db = s.base.Set("gorm:table_options", " ENGINE=InnoDB DEFAULT CHARACTER SET UTF8MB4 COLLATE UTF8MB4_GENERAL_CI")
	}
	for _, m := range models {
		if err = db.AutoMigrate(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) MigrateTables() (err error) {
	return s.migrateStream(
		new(config.Node),
		new(config.NodeGroupLink),
		new(config.Channel),
		new(config.Trigger),
		new(config.TriggerRouter),
		new(config.Router),
		new(config.Conflict),
		new(config.TransformTable),
		new(config.TransformColumn),
		new(config.LoadFilter),
		new(data.Data),
		new(data.DataEvent),
		new(data.DataGap),
		new(batch.OutgoingBatch),
		new(batch.IncomingBatch),
		new(lock.Lock),
	)
}

// Transaction runs fc in one metadata transaction, reader writers called with txnCtx join it
func (s *Store) Transaction(ctx context.Context, fc func(txnCtx context.Context) error) (err error) {
	if s.base == nil {
		return fc(ctx)
	}
	// joined by the outer transaction
	if _, ok := common.TransactionFromContext(ctx); ok {
		return fc(ctx)
	}
	db := s.base.WithContext(ctx)

	return db.Transaction(func(tx *gorm.DB) error {
		return fc(common.CtxWithTransaction(ctx, tx))
	})
}

// Base returns the underlying gorm database
func (s *Store) Base() *gorm.DB {
	return s.base
}

func (s *Store) Close() error {
	sqlDB, err := s.base.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) NodeRW() config.INode {
	return s.nodeRW
}

func (s *Store) NodeGroupLinkRW() config.INodeGroupLink {
	return s.nodeGroupLinkRW
}

func (s *Store) ChannelRW() config.IChannel {
	return s.channelRW
}

func (s *Store) TriggerRW() config.ITrigger {
	return s.triggerRW
}

func (s *Store) TriggerRouterRW() config.ITriggerRouter {
	return s.triggerRouterRW
}

func (s *Store) RouterRW() config.IRouter {
	return s.routerRW
}

func (s *Store) ConflictRW() config.IConflict {
	return s.conflictRW
}

func (s *Store) TransformRW() config.ITransform {
	return s.transformRW
}

func (s *Store) LoadFilterRW() config.ILoadFilter {
	return s.loadFilterRW
}

func (s *Store) DataRW() data.IData {
	return s.dataRW
}

func (s *Store) DataEventRW() data.IDataEvent {
	return s.dataEventRW
}

func (s *Store) DataGapRW() data.IDataGap {
	return s.dataGapRW
}

func (s *Store) OutgoingBatchRW() batch.IOutgoingBatch {
	return s.outgoingBatchRW
}

func (s *Store) IncomingBatchRW() batch.IIncomingBatch {
	return s.incomingBatchRW
}

func (s *Store) LockRW() lock.ILock {
	return s.lockRW
}

func (d *Database) String() string {
	jsonByte, _ := json.Marshal(d)
	return stringutil.BytesToString(jsonByte)
}
