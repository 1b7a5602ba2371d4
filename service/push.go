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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/load"
	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/pool"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/utils/constant"
)

// Transfer is the outcome of one push or pull exchange with a remote node
type Transfer struct {
	NodeID  string
	Batches int
	Acks    int
	Bytes   int
	Err     error
}

// Push sends the ready batches to every node the local group pushes to, one worker per node. Nil is
// returned when another server holds the push lock.
func (e *Engine) Push(ctx context.Context) ([]*Transfer, error) {
	return e.exchange(ctx, constant.LockActionPush, func(s *topology.Snapshot) []*config.Node {
		return s.TargetNodes(e.cfg.Node.NodeGroupID, constant.DataEventActionPush)
	}, e.pushNode)
}

// Pull fetches the batches waiting for the local node from every node of a group linked to the local group
// with the wait action, then acknowledges them
func (e *Engine) Pull(ctx context.Context) ([]*Transfer, error) {
	return e.exchange(ctx, constant.LockActionPull, func(s *topology.Snapshot) []*config.Node {
		var nodes []*config.Node
		for _, l := range s.Links {
			if l.TargetNodeGroupID != e.cfg.Node.NodeGroupID || !strings.EqualFold(l.DataEventAction, constant.DataEventActionWait) {
				continue
			}
			nodes = append(nodes, s.NodesInGroup(l.SourceNodeGroupID)...)
		}
		return nodes
	}, e.pullNode)
}

func (e *Engine) exchange(ctx context.Context, action string, nodesOf func(s *topology.Snapshot) []*config.Node,
	fn func(ctx context.Context, s *topology.Snapshot, node *config.Node) (*Transfer, error)) ([]*Transfer, error) {
	ok, err := e.lock.Lock(ctx, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Debug("sync exchange skipped, lock held by another server", zap.String("action", action))
		return nil, nil
	}
	defer func() {
		if err := e.lock.Unlock(context.Background(), action); err != nil {
			logger.Error("sync exchange unlock failed", zap.String("action", action), zap.Error(err))
		}
	}()

	s, err := e.topo.Current(ctx)
	if err != nil {
		return nil, err
	}
	var nodes []*config.Node
	for _, n := range nodesOf(s) {
		if n.NodeID != e.cfg.Node.NodeID {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	var (
		mu        sync.Mutex
		transfers = make(map[string]*Transfer)
	)
	p := pool.NewPool(ctx, e.cfg.Transport.PushWorkers,
		pool.WithTaskQueueSize(len(nodes)),
		pool.WithRetryCount(e.cfg.Transport.RetryCount),
		pool.WithRetryInterval(e.cfg.Transport.RetryIntervalDuration()),
		pool.WithPanicHandle(true),
		pool.WithExecuteHandle(func(ctx context.Context, t pool.Task) error {
			tr, err := fn(ctx, s, t.Job.(*config.Node))
			if err != nil {
				return err
			}
			mu.Lock()
			transfers[t.Name] = tr
			mu.Unlock()
			return nil
		}),
		pool.WithResultCallback(func(r pool.Result) {
			if r.Error == nil {
				return
			}
			logger.Error("sync exchange with node failed",
				zap.String("action", action),
				zap.String("node_id", r.Task.Name),
				zap.Error(r.Error))
			mu.Lock()
			transfers[r.Task.Name] = &Transfer{NodeID: r.Task.Name, Err: r.Error}
			mu.Unlock()
		}))
	for _, n := range nodes {
		p.SubmitTask(pool.Task{Name: n.NodeID, Group: action, Job: n})
	}
	p.Wait()
	p.Release()

	result := make([]*Transfer, 0, len(nodes))
	var errs []error
	for _, n := range nodes {
		tr, ok := transfers[n.NodeID]
		if !ok {
			continue
		}
		result = append(result, tr)
		if tr.Err != nil {
			errs = append(errs, fmt.Errorf("node [%s]: %w", n.NodeID, tr.Err))
		}
	}
	return result, errors.Join(errs...)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := e.cfg.Transport.TimeoutDuration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) pushNode(ctx context.Context, s *topology.Snapshot, node *config.Node) (*Transfer, error) {
	tr := &Transfer{NodeID: node.NodeID}
	batches, err := e.batches.FindBatchesToExtract(ctx, node.NodeID, s.EnabledChannels())
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return tr, nil
	}
	payload, err := e.extractor.Extract(ctx, batches)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		e.bus.Publish(constant.TopicBatchSent, b)
	}
	tr.Batches, tr.Bytes = len(batches), len(payload)

	startTime := time.Now()
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	acks, err := e.transport.Push(callCtx, node, payload)
	if err != nil {
		return nil, err
	}
	tr.Acks = len(acks)
	if err = e.acks.Handle(ctx, node.NodeID, acks); err != nil {
		return nil, err
	}
	logger.Info("outgoing batches pushed",
		zap.String("node_id", node.NodeID),
		zap.Int("batches", tr.Batches),
		zap.Int("acks", tr.Acks),
		zap.Int("bytes", tr.Bytes),
		zap.Duration("cost", time.Since(startTime)))
	return tr, nil
}

func (e *Engine) pullNode(ctx context.Context, _ *topology.Snapshot, node *config.Node) (*Transfer, error) {
	tr := &Transfer{NodeID: node.NodeID}
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	rc, err := e.transport.Pull(callCtx, node)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	acks, loadErr := e.loader.Load(ctx, rc)
	e.publishLoaded(ctx, node.NodeID, acks)
	if loadErr != nil && !errors.Is(loadErr, load.ErrTruncatedStream) {
		return nil, loadErr
	}
	tr.Acks = len(acks)
	if len(acks) > 0 {
		if err = e.transport.SendAcks(callCtx, node, acks); err != nil {
			return nil, err
		}
	}
	if loadErr != nil {
		logger.Warn("pulled stream truncated, partial acks sent",
			zap.String("node_id", node.NodeID),
			zap.Int("acks", len(acks)))
	}
	if tr.Acks > 0 {
		logger.Info("incoming batches pulled",
			zap.String("node_id", node.NodeID),
			zap.Int("acks", tr.Acks))
	}
	return tr, nil
}
