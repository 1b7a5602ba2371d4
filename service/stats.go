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
	"sort"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/route"
	"github.com/wentaojin/dbsync/utils/constant"
)

// ChannelStats are the counters of one channel since the engine started
type ChannelStats struct {
	ChannelID      string `json:"channelID"`
	DataRouted     int64  `json:"dataRouted"`
	DataUnrouted   int64  `json:"dataUnrouted"`
	BatchesRouted  int64  `json:"batchesRouted"`
	BatchesSent    int64  `json:"batchesSent"`
	BatchesOK      int64  `json:"batchesOK"`
	BatchesError   int64  `json:"batchesError"`
	BatchesLoaded  int64  `json:"batchesLoaded"`
	LoadErrors     int64  `json:"loadErrors"`
	LastRouteMilli int64  `json:"lastRouteMilli"`
}

// StatsSnapshot is the json view served on the stats endpoint
type StatsSnapshot struct {
	NodeID          string          `json:"nodeID"`
	GapBackpressure bool            `json:"gapBackpressure"`
	RoutingPasses   int64           `json:"routingPasses"`
	LastRouteTime   time.Time       `json:"lastRouteTime"`
	Channels        []*ChannelStats `json:"channels"`
}

// Stats collects pipeline counters from routing results and batch events, and mirrors them as prometheus metrics
type Stats struct {
	nodeID string

	mu       sync.Mutex
	channels map[string]*ChannelStats

	backpressure  atomic.Bool
	routingPasses atomic.Int64
	lastRoute     atomic.Time

	registry       *prometheus.Registry
	dataRouted     *prometheus.CounterVec
	batchesTotal   *prometheus.CounterVec
	gapBackpressue prometheus.Gauge
}

func NewStats(nodeID string) *Stats {
	s := &Stats{
		nodeID:   nodeID,
		channels: make(map[string]*ChannelStats),
		registry: prometheus.NewRegistry(),
		dataRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbsync",
			Name:      "data_routed_total",
			Help:      "Captured changes routed by channel and result.",
		}, []string{"channel", "result"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbsync",
			Name:      "batches_total",
			Help:      "Batch lifecycle events by channel and event.",
		}, []string{"channel", "event"}),
		gapBackpressue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dbsync",
			Name:      "gap_backpressure",
			Help:      "One when the open data gaps exceed the configured maximum.",
		}),
	}
	s.registry.MustRegister(s.dataRouted, s.batchesTotal, s.gapBackpressue)
	return s
}

// Registry is the prometheus registry of the engine metrics
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// Subscribe attaches the stats to the batch events of the bus
func (s *Stats) Subscribe(bus EventBus.Bus) error {
	handlers := map[string]interface{}{
		constant.TopicBatchRouted: s.onBatchRouted,
		constant.TopicBatchSent:   s.onBatchSent,
		constant.TopicBatchAcked:  s.onBatchAcked,
		constant.TopicBatchLoaded: s.onBatchLoaded,
		constant.TopicGapHealth:   s.onGapHealth,
	}
	for topic, fn := range handlers {
		if err := bus.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stats) channel(channelID string) *ChannelStats {
	c, ok := s.channels[channelID]
	if !ok {
		c = &ChannelStats{ChannelID: channelID}
		s.channels[channelID] = c
	}
	return c
}

// RecordRouting adds the results of a routing pass
func (s *Stats) RecordRouting(stats []*route.Statistics) {
	s.routingPasses.Inc()
	s.lastRoute.Store(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stats {
		c := s.channel(st.ChannelID)
		c.DataRouted += int64(st.DataRouted)
		c.DataUnrouted += int64(st.DataUnrouted)
		c.LastRouteMilli = st.Duration.Milliseconds()
		s.dataRouted.WithLabelValues(st.ChannelID, "routed").Add(float64(st.DataRouted))
		s.dataRouted.WithLabelValues(st.ChannelID, "unrouted").Add(float64(st.DataUnrouted))
	}
}

func (s *Stats) onBatchRouted(b *batchmodel.OutgoingBatch) {
	s.mu.Lock()
	s.channel(b.ChannelID).BatchesRouted++
	s.mu.Unlock()
	s.batchesTotal.WithLabelValues(b.ChannelID, "routed").Inc()
}

func (s *Stats) onBatchSent(b *batchmodel.OutgoingBatch) {
	s.mu.Lock()
	s.channel(b.ChannelID).BatchesSent++
	s.mu.Unlock()
	s.batchesTotal.WithLabelValues(b.ChannelID, "sent").Inc()
}

func (s *Stats) onBatchAcked(channelID string, ack *protocol.Ack) {
	s.mu.Lock()
	c := s.channel(channelID)
	event := "ok"
	if ack.IsOK() {
		c.BatchesOK++
	} else {
		c.BatchesError++
		event = "error"
	}
	s.mu.Unlock()
	s.batchesTotal.WithLabelValues(channelID, event).Inc()
}

func (s *Stats) onBatchLoaded(channelID string, ack *protocol.Ack) {
	s.mu.Lock()
	c := s.channel(channelID)
	event := "loaded"
	if ack.IsOK() {
		c.BatchesLoaded++
	} else {
		c.LoadErrors++
		event = "load_error"
	}
	s.mu.Unlock()
	s.batchesTotal.WithLabelValues(channelID, event).Inc()
}

func (s *Stats) onGapHealth(backpressure bool) {
	s.backpressure.Store(backpressure)
	if backpressure {
		s.gapBackpressue.Set(1)
	} else {
		s.gapBackpressue.Set(0)
	}
}

// Snapshot copies the counters, channels are sorted by id
func (s *Stats) Snapshot() *StatsSnapshot {
	snap := &StatsSnapshot{
		NodeID:          s.nodeID,
		GapBackpressure: s.backpressure.Load(),
		RoutingPasses:   s.routingPasses.Load(),
		LastRouteTime:   s.lastRoute.Load(),
	}
	s.mu.Lock()
	for _, c := range s.channels {
		cp := *c
		snap.Channels = append(snap.Channels, &cp)
	}
	s.mu.Unlock()
	sort.Slice(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].ChannelID < snap.Channels[j].ChannelID
	})
	return snap
}

// Channel returns the counters of the channel, zero counters for an unknown channel
func (s *Stats) Channel(channelID string) ChannelStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[channelID]; ok {
		return *c
	}
	return ChannelStats{ChannelID: channelID}
}
