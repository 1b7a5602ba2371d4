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
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

// GapOptions tunes the gap tracker
type GapOptions struct {
	// LargestGapSize is the width of the open ended gap after the highest routed change
	LargestGapSize uint64
	// MaxRescans is the number of empty passes before a gap may be skipped
	MaxRescans int
	// StaleTimeout skips an empty gap older than the timeout whatever its rescans
	StaleTimeout time.Duration
	// MaxOpenGaps raises backpressure when exceeded
	MaxOpenGaps int
}

func (o *GapOptions) withDefaults() GapOptions {
	opts := GapOptions{}
	if o != nil {
		opts = *o
	}
	if opts.LargestGapSize == 0 {
		opts.LargestGapSize = constant.DefaultLargestGapSize
	}
	if opts.MaxRescans <= 0 {
		opts.MaxRescans = constant.DefaultGapMaxRescans
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = constant.DefaultStaleGapTimeout * time.Millisecond
	}
	if opts.MaxOpenGaps <= 0 {
		opts.MaxOpenGaps = constant.DefaultMaxOpenGaps
	}
	return opts
}

// GapDetector tracks the ranges of change ids not yet known to be routed. Change ids are assigned before the
// capturing transaction commits so a range skipped by one pass may fill later.
type GapDetector struct {
	store    *model.Store
	changes  ChangeLog
	opts     GapOptions
	hostname string

	mu   sync.Mutex
	gaps []*data.DataGap

	backpressure atomic.Bool
}

func NewGapDetector(store *model.Store, changes ChangeLog, opts *GapOptions) *GapDetector {
	return &GapDetector{
		store:    store,
		changes:  changes,
		opts:     opts.withDefaults(),
		hostname: stringutil.GetLocalHostName(),
	}
}

// Backpressure reports whether the open gaps exceeded the configured maximum on the last pass
func (d *GapDetector) Backpressure() bool {
	return d.backpressure.Load()
}

// GetGaps returns the open gaps in id order
func (d *GapDetector) GetGaps(ctx context.Context) ([]*data.DataGap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gaps == nil {
		gaps, err := d.store.DataGapRW().ListDataGap(ctx, constant.GapStatusOpen)
		if err != nil {
			return nil, err
		}
		d.gaps = gaps
	}
	gaps := make([]*data.DataGap, 0, len(d.gaps))
	for _, g := range d.gaps {
		c := *g
		gaps = append(gaps, &c)
	}
	return gaps, nil
}

// AddGap opens the range [startID, endID]
func (d *GapDetector) AddGap(ctx context.Context, startID, endID uint64) error {
	_, err := d.store.DataGapRW().CreateDataGap(ctx, &data.DataGap{
		StartID:            startID,
		EndID:              endID,
		Status:             constant.GapStatusOpen,
		LastUpdateHostname: d.hostname,
	})
	return err
}

// ResolveGap closes the gap, found marks it resolved by routed changes, otherwise it is skipped as empty
func (d *GapDetector) ResolveGap(ctx context.Context, gap *data.DataGap, found bool) error {
	status := constant.GapStatusSkipped
	if found {
		status = constant.GapStatusResolved
	}
	return d.store.DataGapRW().UpdateDataGap(ctx, gap.StartID, gap.EndID, map[string]interface{}{
		"status":               status,
		"last_update_hostname": d.hostname,
	})
}

// BeforeRouting loads the open gaps, merges overlapping gaps and seeds the first gap of an empty tracker
func (d *GapDetector) BeforeRouting(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Transaction(ctx, func(txnCtx context.Context) error {
		gaps, err := d.store.DataGapRW().ListDataGap(txnCtx, constant.GapStatusOpen)
		if err != nil {
			return err
		}
		if len(gaps) == 0 {
			if err = d.AddGap(txnCtx, 1, d.opts.LargestGapSize); err != nil {
				return err
			}
			logger.Info("data gap seeded", zap.Uint64("start_id", 1), zap.Uint64("end_id", d.opts.LargestGapSize))
			d.gaps, err = d.store.DataGapRW().ListDataGap(txnCtx, constant.GapStatusOpen)
			return err
		}

		sort.SliceStable(gaps, func(i, j int) bool {
			if gaps[i].StartID != gaps[j].StartID {
				return gaps[i].StartID < gaps[j].StartID
			}
			return gaps[i].EndID < gaps[j].EndID
		})
		merged := make([]*data.DataGap, 0, len(gaps))
		for _, g := range gaps {
			if len(merged) == 0 {
				merged = append(merged, g)
				continue
			}
			prev := merged[len(merged)-1]
			if g.StartID > prev.EndID {
				merged = append(merged, g)
				continue
			}
			logger.Warn("data gap overlaps, merge",
				zap.Uint64("start_id", prev.StartID), zap.Uint64("end_id", prev.EndID),
				zap.Uint64("overlap_start_id", g.StartID), zap.Uint64("overlap_end_id", g.EndID))
			if err = d.store.DataGapRW().DeleteDataGap(txnCtx, g.StartID, g.EndID); err != nil {
				return err
			}
			if g.EndID > prev.EndID {
				if err = d.store.DataGapRW().DeleteDataGap(txnCtx, prev.StartID, prev.EndID); err != nil {
					return err
				}
				prev.EndID = g.EndID
				if _, err = d.store.DataGapRW().CreateDataGap(txnCtx, prev); err != nil {
					return err
				}
			}
		}
		d.gaps = merged
		return nil
	})
}

// AfterRouting replaces the gaps whose changes were routed by the holes left inside them and skips gaps
// confirmed empty after enough passes
func (d *GapDetector) AfterRouting(ctx context.Context) error {
	gaps, err := d.GetGaps(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		resolved, skipped, opened int
		open                      []*data.DataGap
	)
	err = d.store.Transaction(ctx, func(txnCtx context.Context) error {
		for i, g := range gaps {
			last := i == len(gaps)-1
			processed, err := d.store.DataEventRW().ListProcessedDataID(txnCtx, g.StartID, g.EndID)
			if err != nil {
				return err
			}
			if len(processed) > 0 {
				if err = d.ResolveGap(txnCtx, g, true); err != nil {
					return err
				}
				resolved++
				cursor := g.StartID
				for _, id := range processed {
					if id > cursor {
						if err = d.AddGap(txnCtx, cursor, id-1); err != nil {
							return err
						}
						opened++
					}
					cursor = id + 1
				}
				switch {
				case last:
					if err = d.AddGap(txnCtx, cursor, cursor+d.opts.LargestGapSize-1); err != nil {
						return err
					}
					opened++
				case cursor <= g.EndID:
					if err = d.AddGap(txnCtx, cursor, g.EndID); err != nil {
						return err
					}
					opened++
				}
				continue
			}
			if last {
				continue
			}

			g.ScanCount++
			if g.ScanCount >= d.opts.MaxRescans || time.Since(g.CreateTime) > d.opts.StaleTimeout {
				empty, err := d.isEmpty(txnCtx, g)
				if err != nil {
					return err
				}
				if empty {
					if err = d.ResolveGap(txnCtx, g, false); err != nil {
						return err
					}
					skipped++
					continue
				}
			}
			if err = d.store.DataGapRW().UpdateDataGap(txnCtx, g.StartID, g.EndID, map[string]interface{}{
				"scan_count":           g.ScanCount,
				"last_update_hostname": d.hostname,
			}); err != nil {
				return err
			}
		}

		open, err = d.store.DataGapRW().ListDataGap(txnCtx, constant.GapStatusOpen)
		if err != nil {
			return err
		}
		if len(open) <= d.opts.MaxOpenGaps {
			d.backpressure.Store(false)
			return nil
		}
		d.backpressure.Store(true)
		logger.Warn("data gap open count exceeds the maximum",
			zap.Int("open_gaps", len(open)),
			zap.Int("max_open_gaps", d.opts.MaxOpenGaps))

		// skip the oldest confirmed empty gaps beyond the cap, the open ended gap is never skipped
		candidates := append([]*data.DataGap(nil), open[:len(open)-1]...)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].CreateTime.Before(candidates[j].CreateTime)
		})
		excess := len(open) - d.opts.MaxOpenGaps
		for _, g := range candidates {
			if excess == 0 {
				break
			}
			empty, err := d.isEmpty(txnCtx, g)
			if err != nil {
				return err
			}
			if !empty {
				continue
			}
			if err = d.ResolveGap(txnCtx, g, false); err != nil {
				return err
			}
			skipped++
			excess--
		}
		open, err = d.store.DataGapRW().ListDataGap(txnCtx, constant.GapStatusOpen)
		return err
	})
	if err != nil {
		d.gaps = nil
		return err
	}
	d.gaps = open
	if resolved > 0 || skipped > 0 {
		logger.Info("data gap routing pass finished",
			zap.Int("resolved", resolved),
			zap.Int("skipped", skipped),
			zap.Int("opened", opened),
			zap.Int("open_gaps", len(open)))
	}
	return nil
}

func (d *GapDetector) isEmpty(ctx context.Context, g *data.DataGap) (bool, error) {
	count, err := d.changes.CountInRange(ctx, g.StartID, g.EndID)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}
