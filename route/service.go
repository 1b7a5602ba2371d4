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
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/scylladb/go-set/strset"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/errconcurrent"
	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/router"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/utils/constant"
)

// Locker serializes the routing pass across the servers of a node
type Locker interface {
	Lock(ctx context.Context, action string) (bool, error)
	Unlock(ctx context.Context, action string) error
}

// Statistics of one channel routing pass
type Statistics struct {
	ChannelID     string
	DataRead      int
	DataRouted    int
	DataUnrouted  int
	EventsCreated int
	BatchesClosed int
	Duration      time.Duration
}

type Options struct {
	LocalNodeID    string
	LocalGroupID   string
	RoutingThreads int
	PeekAheadSize  int
	Gap            *GapOptions
}

// Service routes captured changes into outgoing batches
type Service struct {
	opts     Options
	store    *model.Store
	topo     *topology.Manager
	batches  *batch.Manager
	gaps     *GapDetector
	changes  ChangeLog
	locker   Locker
	bus      EventBus.Bus
	routers  *router.Cache
	channelM sync.Map
}

func NewService(opts Options, store *model.Store, topo *topology.Manager, batches *batch.Manager, locker Locker, bus EventBus.Bus) *Service {
	if opts.RoutingThreads <= 0 {
		opts.RoutingThreads = constant.DefaultRoutingThreads
	}
	changes := NewChangeLog(store)
	return &Service{
		opts:    opts,
		store:   store,
		topo:    topo,
		batches: batches,
		gaps:    NewGapDetector(store, changes, opts.Gap),
		changes: changes,
		locker:  locker,
		bus:     bus,
		routers: router.NewCache(),
	}
}

func (s *Service) GapDetector() *GapDetector {
	return s.gaps
}

// Route runs one routing pass over every enabled channel, nil statistics are returned when another server
// holds the routing lock
func (s *Service) Route(ctx context.Context) ([]*Statistics, error) {
	if s.locker != nil {
		ok, err := s.locker.Lock(ctx, constant.LockActionRoute)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Debug("routing lock held by another server, skip")
			return nil, nil
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), constant.LockActionRoute); err != nil {
				logger.Warn("routing lock release failed", zap.Error(err))
			}
		}()
	}

	snapshot, err := s.topo.Current(ctx)
	if err != nil {
		return nil, err
	}
	s.routers.Invalidate(snapshot.RouterIDs())

	if err = s.gaps.BeforeRouting(ctx); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		stats []*Statistics
	)
	g := errconcurrent.NewGroup()
	g.SetLimit(s.opts.RoutingThreads)
	for _, c := range snapshot.EnabledChannels() {
		channel := c
		g.Go(channel.ChannelID, func(interface{}) error {
			st, err := s.routeChannel(ctx, snapshot, channel)
			if err != nil {
				return err
			}
			mu.Lock()
			stats = append(stats, st)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	routeErr := g.Err()
	if routeErr != nil {
		logger.Error("routing pass failed", zap.Error(routeErr))
	}

	// gaps only resolve ids with committed data events, so the healthy channels still advance
	if err = s.gaps.AfterRouting(ctx); err != nil {
		return stats, errors.Join(routeErr, err)
	}
	if s.bus != nil {
		s.bus.Publish(constant.TopicGapHealth, s.gaps.Backpressure())
	}
	return stats, routeErr
}

// RouteChannel routes the channel once against the current topology
func (s *Service) RouteChannel(ctx context.Context, channel *config.Channel) (*Statistics, error) {
	snapshot, err := s.topo.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.routeChannel(ctx, snapshot, channel)
}

func (s *Service) channelMutex(channelID string) *sync.Mutex {
	m, _ := s.channelM.LoadOrStore(channelID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// openBatch is the in progress batch of one target node
type openBatch struct {
	batch   *batchmodel.OutgoingBatch
	events  []*data.DataEvent
	dataIDs map[uint64]struct{}
}

type channelPass struct {
	s         *Service
	snapshot  *topology.Snapshot
	channel   *config.Channel
	algorithm router.BatchAlgorithm
	rc        *router.Context
	open      map[string]*openBatch
	stats     *Statistics
}

func (s *Service) routeChannel(ctx context.Context, snapshot *topology.Snapshot, channel *config.Channel) (*Statistics, error) {
	mu := s.channelMutex(channel.ChannelID)
	mu.Lock()
	defer mu.Unlock()

	startTime := time.Now()
	algorithm, err := router.GetBatchAlgorithm(channel.BatchAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("channel [%s] routing failed: %v", channel.ChannelID, err)
	}
	gaps, err := s.gaps.GetGaps(ctx)
	if err != nil {
		return nil, err
	}
	p := &channelPass{
		s:         s,
		snapshot:  snapshot,
		channel:   channel,
		algorithm: algorithm,
		rc:        router.NewContext(channel.ChannelID, s.store.Base()),
		open:      make(map[string]*openBatch),
		stats:     &Statistics{ChannelID: channel.ChannelID},
	}

	transactional := !strings.EqualFold(strings.TrimSpace(channel.BatchAlgorithm), constant.BatchAlgorithmNonTransactional)
	reader := NewReader(s.changes, s.opts.PeekAheadSize, channel.MaxDataToRoute, transactional)
	read, err := reader.Read(ctx, channel.ChannelID, gaps, p.route)
	p.stats.DataRead = read
	if err != nil {
		// open batches stay in routing status and are purged as stale
		return nil, fmt.Errorf("channel [%s] routing failed: %w", channel.ChannelID, err)
	}
	if err = p.closeAll(ctx); err != nil {
		return nil, err
	}
	p.stats.Duration = time.Since(startTime)
	if p.stats.DataRead > 0 {
		logger.Info("channel routing finished",
			zap.String("channel_id", channel.ChannelID),
			zap.Int("data_read", p.stats.DataRead),
			zap.Int("data_routed", p.stats.DataRouted),
			zap.Int("data_unrouted", p.stats.DataUnrouted),
			zap.Int("batches_closed", p.stats.BatchesClosed),
			zap.String("cost", p.stats.Duration.String()))
	}
	return p.stats, nil
}

func (p *channelPass) route(ctx context.Context, d *data.Data, boundary bool) error {
	routed := false
	for _, tr := range p.snapshot.TriggerRoutes(d.TableName, d.ChannelID, p.s.opts.LocalGroupID) {
		if !tr.Trigger.SyncOnIncomingBatch && d.SourceNodeID != "" {
			continue
		}
		if !syncsEventType(tr.Router, d.EventType) {
			continue
		}
		eval, err := p.s.routers.Get(tr.Router)
		if err != nil {
			return err
		}
		nodeIDs, err := eval.Evaluate(ctx, p.rc, &router.Metadata{
			Data:          d,
			Channel:       p.channel,
			Router:        tr.Router,
			TriggerRouter: tr.TriggerRouter,
		}, p.snapshot.NodesInGroup(tr.Router.TargetNodeGroupID), d.EventType == constant.EventTypeReload)
		if err != nil {
			return fmt.Errorf("data [%d] router [%s] evaluate failed: %w", d.DataID, tr.Router.RouterID, err)
		}
		if !tr.TriggerRouter.PingBackEnabled && d.SourceNodeID != "" {
			nodeIDs.Remove(d.SourceNodeID)
		}
		nodeIDs.Remove(p.s.opts.LocalNodeID)
		for _, nodeID := range sortedIDs(nodeIDs) {
			if err = p.add(ctx, nodeID, tr.Router.RouterID, d); err != nil {
				return err
			}
			routed = true
		}
	}

	if routed {
		p.stats.DataRouted++
	} else {
		if err := p.s.store.DataEventRW().CreateDataEvent(ctx, []*data.DataEvent{{
			DataID:     d.DataID,
			BatchID:    constant.UnroutedBatchID,
			NodeID:     constant.UnroutedNodeID,
			RouterID:   "",
			CreateTime: time.Now(),
		}}, 1); err != nil {
			return err
		}
		p.stats.DataUnrouted++
	}

	for nodeID, ob := range p.open {
		if p.algorithm.IsBatchComplete(len(ob.events), p.channel, boundary) {
			if err := p.close(ctx, nodeID, ob); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *channelPass) add(ctx context.Context, nodeID, routerID string, d *data.Data) error {
	ob, ok := p.open[nodeID]
	if !ok {
		// a batch opened by a reload request carries the initial load type
		batchType := constant.BatchTypeEvents
		if d.EventType == constant.EventTypeReload {
			batchType = constant.BatchTypeInitialLoad
		}
		b, err := p.s.batches.OpenBatch(ctx, nodeID, p.channel.ChannelID, batchType)
		if err != nil {
			return err
		}
		ob = &openBatch{batch: b, dataIDs: make(map[uint64]struct{})}
		p.open[nodeID] = ob
	}
	if _, ok = ob.dataIDs[d.DataID]; ok {
		return nil
	}
	ob.dataIDs[d.DataID] = struct{}{}
	ob.events = append(ob.events, &data.DataEvent{
		DataID:     d.DataID,
		NodeID:     nodeID,
		RouterID:   routerID,
		CreateTime: time.Now(),
	})
	return nil
}

func (p *channelPass) close(ctx context.Context, nodeID string, ob *openBatch) error {
	if err := p.s.batches.CloseBatch(ctx, ob.batch, ob.events); err != nil {
		return err
	}
	delete(p.open, nodeID)
	if len(ob.events) == 0 {
		return nil
	}
	p.stats.BatchesClosed++
	p.stats.EventsCreated += len(ob.events)
	if p.s.bus != nil {
		p.s.bus.Publish(constant.TopicBatchRouted, ob.batch)
	}
	return nil
}

func (p *channelPass) closeAll(ctx context.Context) error {
	for _, nodeID := range sortedKeys(p.open) {
		if err := p.close(ctx, nodeID, p.open[nodeID]); err != nil {
			return err
		}
	}
	return nil
}

func syncsEventType(r *config.Router, eventType string) bool {
	switch eventType {
	case constant.EventTypeInsert:
		return r.SyncOnInsert
	case constant.EventTypeUpdate:
		return r.SyncOnUpdate
	case constant.EventTypeDelete:
		return r.SyncOnDelete
	default:
		return true
	}
}

func sortedIDs(s *strset.Set) []string {
	ids := s.List()
	sort.Strings(ids)
	return ids
}

func sortedKeys(m map[string]*openBatch) []string {
	ids := make([]string, 0, len(m))
	for k := range m {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}
