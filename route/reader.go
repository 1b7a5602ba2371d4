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

	"golang.org/x/sync/errgroup"

	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/utils/constant"
)

// ChangeHandler receives a change in id order, boundary reports that the next change belongs to another
// capture transaction or that the change is the last of the pass
type ChangeHandler func(ctx context.Context, d *data.Data, boundary bool) error

// Reader streams the changes of a channel inside the open gaps, a producer reads ahead into a bounded queue
type Reader struct {
	changes   ChangeLog
	peekAhead int
	maxData   int
	// transactional keeps reading past maxData until the capture transaction of the last change ends
	transactional bool
}

func NewReader(changes ChangeLog, peekAhead, maxData int, transactional bool) *Reader {
	if peekAhead <= 0 {
		peekAhead = constant.DefaultPeekAheadSize
	}
	if maxData <= 0 {
		maxData = constant.DefaultMaxDataToRoute
	}
	return &Reader{changes: changes, peekAhead: peekAhead, maxData: maxData, transactional: transactional}
}

// Read hands every unrouted change of the channel within the gaps to the handler and returns the number read
func (r *Reader) Read(ctx context.Context, channelID string, gaps []*data.DataGap, handle ChangeHandler) (int, error) {
	queue := make(chan *data.Data, r.peekAhead)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		var (
			read   int
			lastTx string
		)
		for _, gap := range gaps {
			fromID := gap.StartID
			for fromID <= gap.EndID {
				full := read >= r.maxData
				if full && (!r.transactional || lastTx == "") {
					return nil
				}
				limit := r.peekAhead
				if remain := r.maxData - read; !full && remain < limit {
					limit = remain
				}
				page, err := r.changes.Scan(gctx, channelID, fromID, gap.EndID, limit)
				if err != nil {
					return err
				}
				for _, d := range page {
					// past the limit only the rest of the open transaction is read
					if full && d.TransactionID != lastTx {
						return nil
					}
					select {
					case queue <- d:
					case <-gctx.Done():
						return gctx.Err()
					}
					read++
					lastTx = d.TransactionID
				}
				if len(page) < limit {
					break
				}
				fromID = page[len(page)-1].DataID + 1
			}
		}
		return nil
	})

	var count int
	g.Go(func() error {
		var pending *data.Data
		for d := range queue {
			if pending != nil {
				boundary := pending.TransactionID == "" || d.TransactionID != pending.TransactionID
				if err := handle(gctx, pending, boundary); err != nil {
					return err
				}
				count++
			}
			pending = d
		}
		if pending == nil || gctx.Err() != nil {
			return gctx.Err()
		}
		if err := handle(gctx, pending, true); err != nil {
			return err
		}
		count++
		return nil
	})

	err := g.Wait()
	return count, err
}
