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
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/cluster"
	"github.com/wentaojin/dbsync/extract"
	"github.com/wentaojin/dbsync/load"
	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/route"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/transport"
	"github.com/wentaojin/dbsync/utils/configutil"
	"github.com/wentaojin/dbsync/utils/constant"
)

// Config is the configuration of one replication node
type Config struct {
	Node      *configutil.NodeOptions      `toml:"node" json:"node"`
	Routing   *configutil.RoutingOptions   `toml:"routing" json:"routing"`
	Transport *configutil.TransportOptions `toml:"transport" json:"transport"`
	Cluster   *configutil.ClusterOptions   `toml:"cluster" json:"cluster"`
	Purge     *configutil.PurgeOptions     `toml:"purge" json:"purge"`
	Load      *configutil.LoadOptions      `toml:"load" json:"load"`
	// TargetDatabase receives the incoming batches, nil loads into the metadata database
	TargetDatabase *model.Database `toml:"target" json:"target"`
	LogLevel       string          `toml:"-" json:"-"`
}

// DefaultConfig fills every section with its defaults
func DefaultConfig() *Config {
	return &Config{
		Node:      configutil.DefaultNodeConfig(),
		Routing:   configutil.DefaultRoutingConfig(),
		Transport: configutil.DefaultTransportConfig(),
		Cluster:   configutil.DefaultClusterConfig(),
		Purge:     configutil.DefaultPurgeConfig(),
		Load:      configutil.DefaultLoadConfig(),
		LogLevel:  constant.DefaultLogLevel,
	}
}

func (c *Config) complete() error {
	d := DefaultConfig()
	if c.Node == nil {
		c.Node = d.Node
	}
	if c.Routing == nil {
		c.Routing = d.Routing
	}
	if c.Transport == nil {
		c.Transport = d.Transport
	}
	if c.Cluster == nil {
		c.Cluster = d.Cluster
	}
	if c.Purge == nil {
		c.Purge = d.Purge
	}
	if c.Load == nil {
		c.Load = d.Load
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if strings.TrimSpace(c.Node.NodeID) == "" {
		return fmt.Errorf("the node id is not configured")
	}
	if strings.TrimSpace(c.Node.NodeGroupID) == "" {
		return fmt.Errorf("the node [%s] group id is not configured", c.Node.NodeID)
	}
	return nil
}

// EngineOption overrides a component built by the engine
type EngineOption func(e *Engine)

// WithTransport replaces the http transport
func WithTransport(t transport.Transport) EngineOption {
	return func(e *Engine) {
		e.transport = t
	}
}

// WithWriter replaces the writer built from the load options
func WithWriter(w load.Writer) EngineOption {
	return func(e *Engine) {
		e.writer = w
	}
}

// WithClusterLock replaces the lock built from the cluster options
func WithClusterLock(l cluster.Lock) EngineOption {
	return func(e *Engine) {
		e.lock = l
	}
}

// Engine runs the route, push, pull and purge jobs of the local node and serves its sync endpoints
type Engine struct {
	cfg   *Config
	store *model.Store

	topo      *topology.Manager
	auth      topology.Authenticator
	batches   *batch.Manager
	incoming  *batch.IncomingService
	extractor *extract.Extractor
	router    *route.Service
	loader    *load.Loader
	acks      *transport.AckHandler
	transport transport.Transport
	writer    load.Writer
	lock      cluster.Lock
	bus       EventBus.Bus
	stats     *Stats

	cron    *cron.Cron
	closers []func() error
	once    sync.Once
}

// NewEngine wires the components of the node on top of the metadata store
func NewEngine(ctx context.Context, cfg *Config, store *model.Store, opts ...EngineOption) (*Engine, error) {
	if err := cfg.complete(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		store: store,
		bus:   EventBus.New(),
		stats: NewStats(cfg.Node.NodeID),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.stats.Subscribe(e.bus); err != nil {
		return nil, err
	}

	e.topo = topology.NewManager(store)
	e.auth = topology.NewAuthenticator(e.topo)
	e.batches = batch.NewManager(store)
	e.incoming = batch.NewIncomingService(store)
	e.extractor = extract.NewExtractor(store, e.batches, cfg.Node.NodeID, e.mapTable)

	if e.lock == nil {
		lk, err := cluster.New(ctx, cfg.Cluster, store, cluster.NewServerID(cfg.Node.ServerID))
		if err != nil {
			return nil, err
		}
		e.lock = lk
	}
	e.router = route.NewService(route.Options{
		LocalNodeID:    cfg.Node.NodeID,
		LocalGroupID:   cfg.Node.NodeGroupID,
		RoutingThreads: cfg.Routing.RoutingThreads,
		PeekAheadSize:  cfg.Routing.PeekAheadSize,
		Gap: &route.GapOptions{
			LargestGapSize: uint64(cfg.Routing.LargestGapSize),
			MaxRescans:     cfg.Routing.GapMaxRescans,
			StaleTimeout:   cfg.Routing.StaleGapDuration(),
			MaxOpenGaps:    cfg.Routing.MaxOpenGaps,
		},
	}, store, e.topo, e.batches, e.lock, e.bus)

	if e.writer == nil {
		w, err := e.newWriter()
		if err != nil {
			return nil, err
		}
		e.writer = w
	}
	e.loader = load.NewLoader(cfg.Node.NodeID, cfg.Node.NodeGroupID, e.topo, e.topo, e.incoming, e.writer)
	e.acks = transport.NewAckHandler(e.batches, e.extractor, e.bus)

	if e.transport == nil {
		codec, err := protocol.GetCodec(cfg.Transport.Compression)
		if err != nil {
			return nil, err
		}
		e.transport = transport.NewHTTPTransport(transport.Credentials{
			NodeID:        cfg.Node.NodeID,
			SecurityToken: cfg.Node.SecurityToken,
		}, codec, cfg.Transport.TimeoutDuration())
	}

	if _, err := e.topo.Current(ctx); err != nil {
		return nil, err
	}
	logger.Info("sync engine created",
		zap.String("node_id", cfg.Node.NodeID),
		zap.String("node_group_id", cfg.Node.NodeGroupID),
		zap.String("server_id", e.lock.ServerID()),
		zap.String("writer", cfg.Load.Writer))
	return e, nil
}

func (e *Engine) newWriter() (load.Writer, error) {
	switch strings.ToLower(e.cfg.Load.Writer) {
	case constant.WriterTypeKafka:
		if len(e.cfg.Load.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("the kafka writer has no brokers configured")
		}
		w := load.NewKafkaWriter(e.cfg.Load.KafkaBrokers, e.cfg.Load.KafkaTopic)
		e.closers = append(e.closers, w.Close)
		return w, nil
	case constant.WriterTypeDatabase, "":
		if e.cfg.TargetDatabase == nil {
			return load.NewDatabaseWriter(e.store.Base()), nil
		}
		db, err := model.OpenDatabase(e.cfg.TargetDatabase, e.cfg.LogLevel, "")
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		return load.NewDatabaseWriter(db), nil
	default:
		return nil, fmt.Errorf("load writer [%s] is not supported, please choose database or kafka", e.cfg.Load.Writer)
	}
}

// mapTable resolves target table names against the current topology snapshot
func (e *Engine) mapTable(routerID, sourceTable string) string {
	s, err := e.topo.Current(context.Background())
	if err != nil {
		return ""
	}
	return s.TargetTable(routerID, sourceTable)
}

func (e *Engine) NodeID() string {
	return e.cfg.Node.NodeID
}

func (e *Engine) Store() *model.Store {
	return e.store
}

func (e *Engine) Topology() *topology.Manager {
	return e.topo
}

func (e *Engine) Authenticator() topology.Authenticator {
	return e.auth
}

func (e *Engine) Batches() *batch.Manager {
	return e.batches
}

func (e *Engine) Incoming() *batch.IncomingService {
	return e.incoming
}

func (e *Engine) Stats() *Stats {
	return e.stats
}

func (e *Engine) ClusterLock() cluster.Lock {
	return e.lock
}

func (e *Engine) Bus() EventBus.Bus {
	return e.bus
}

// Route runs one routing pass
func (e *Engine) Route(ctx context.Context) ([]*route.Statistics, error) {
	stats, err := e.router.Route(ctx)
	if err != nil {
		return nil, err
	}
	if stats != nil {
		e.stats.RecordRouting(stats)
	}
	return stats, nil
}

// RefreshTopology reloads the topology and logs what changed
func (e *Engine) RefreshTopology(ctx context.Context) error {
	s, changes, err := e.topo.Refresh(ctx)
	if err != nil {
		return err
	}
	if len(changes) > 0 {
		logger.Info("topology changed",
			zap.Uint64("version", s.Version),
			zap.Int("changes", len(changes)))
	}
	return nil
}

// Start schedules the jobs, each job skips a run while its previous run is still going
func (e *Engine) Start(ctx context.Context) error {
	cronLogger := logger.NewCronLogger(logger.GetRootLogger())
	e.cron = cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger)))

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"route", e.cfg.Routing.RouteCron, func(ctx context.Context) error { _, err := e.Route(ctx); return err }},
		{"push", e.cfg.Transport.PushCron, func(ctx context.Context) error { _, err := e.Push(ctx); return err }},
		{"pull", e.cfg.Transport.PullCron, func(ctx context.Context) error { _, err := e.Pull(ctx); return err }},
		{"purge", e.cfg.Purge.PurgeCron, func(ctx context.Context) error { _, err := e.Purge(ctx); return err }},
		{"refresh", constant.DefaultRefreshCron, e.RefreshTopology},
	}
	for _, j := range jobs {
		if strings.TrimSpace(j.spec) == "" {
			logger.Warn("sync job disabled", zap.String("job", j.name))
			continue
		}
		job := j
		if _, err := e.cron.AddFunc(job.spec, func() {
			startTime := time.Now()
			if err := job.run(ctx); err != nil {
				logger.Error("sync job failed", zap.String("job", job.name), zap.Error(err))
				return
			}
			logger.Debug("sync job finished", zap.String("job", job.name), zap.Duration("cost", time.Since(startTime)))
		}); err != nil {
			return fmt.Errorf("sync job [%s] cron [%s] add failed: %v", job.name, job.spec, err)
		}
	}
	e.cron.Start()
	logger.Info("sync engine started", zap.String("node_id", e.cfg.Node.NodeID))
	return nil
}

// Stop waits for the running jobs and closes the writers
func (e *Engine) Stop() error {
	var err error
	e.once.Do(func() {
		if e.cron != nil {
			<-e.cron.Stop().Done()
		}
		for _, c := range e.closers {
			if cerr := c(); cerr != nil && err == nil {
				err = cerr
			}
		}
		logger.Info("sync engine stopped", zap.String("node_id", e.cfg.Node.NodeID))
	})
	return err
}
