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
package load

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/batch"
	"github.com/wentaojin/dbsync/logger"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/protocol"
	"github.com/wentaojin/dbsync/utils/constant"
)

// ErrTruncatedStream is returned when the stream ends inside a batch, the batch stays loading and no ack is
// produced so the source resends it
var ErrTruncatedStream = errors.New("truncated batch stream")

// NodeLookup resolves the node a batch came from
type NodeLookup interface {
	LookupNode(ctx context.Context, nodeID string) (*config.Node, error)
}

// Loader applies incoming batch streams to the target, one target transaction per batch
type Loader struct {
	localNodeID  string
	localGroupID string
	settings     SettingsProvider
	nodes        NodeLookup
	incoming     *batch.IncomingService
	writer       Writer
}

func NewLoader(localNodeID, localGroupID string, settings SettingsProvider, nodes NodeLookup,
	incoming *batch.IncomingService, writer Writer) *Loader {
	return &Loader{
		localNodeID:  localNodeID,
		localGroupID: localGroupID,
		settings:     settings,
		nodes:        nodes,
		incoming:     incoming,
		writer:       writer,
	}
}

// Load loads every batch of the stream and returns their acks. A batch that fails is acknowledged as an error
// and stops the stream. The returned error reports a stream that could not be read to the end of a batch.
func (l *Loader) Load(ctx context.Context, r io.Reader) ([]*protocol.Ack, error) {
	reader := protocol.NewReader(r)
	var acks []*protocol.Ack
	for {
		if err := ctx.Err(); err != nil {
			return acks, err
		}
		header, err := reader.Next()
		if err == io.EOF {
			return acks, nil
		}
		if err != nil {
			return acks, err
		}
		if header.Type != protocol.RecordTypeBatch {
			return acks, fmt.Errorf("load stream line [%d] record [%s] is not a batch header", reader.Line(), header.Type)
		}
		ack, err := l.loadBatch(ctx, reader, header)
		if err != nil {
			logger.Error("incoming batch load interrupted",
				zap.Uint64("batch_id", header.BatchID),
				zap.String("source_node_id", header.SourceNodeID),
				zap.Error(err))
			return acks, err
		}
		acks = append(acks, ack)
		if !ack.IsOK() {
			return acks, nil
		}
	}
}

// batchLoad is the state of the batch being loaded
type batchLoad struct {
	header     *protocol.Record
	headerLine int64
	in         *batchmodel.IncomingBatch
	sourceNode *config.Node
	settings   *Settings
	tx         Tx
	rows       *rowWriter
	rowNumber  int64
}

func (b *batchLoad) line(reader *protocol.Reader) int64 {
	return reader.Line() - b.headerLine + 1
}

func (l *Loader) loadBatch(ctx context.Context, reader *protocol.Reader, header *protocol.Record) (*protocol.Ack, error) {
	if header.TargetNodeID != "" && header.TargetNodeID != l.localNodeID {
		return nil, fmt.Errorf("batch [%d] is addressed to node [%s] not to node [%s]", header.BatchID, header.TargetNodeID, l.localNodeID)
	}
	b := &batchLoad{header: header, headerLine: reader.Line()}

	in, loaded, err := l.incoming.Acquire(ctx, header)
	if err != nil {
		return nil, err
	}
	if loaded {
		if err = skipBatch(reader, header); err != nil {
			return nil, err
		}
		logger.Info("incoming batch already loaded, skip",
			zap.Uint64("batch_id", header.BatchID),
			zap.String("source_node_id", header.SourceNodeID))
		return protocol.NewOKAck(header.BatchID, l.localNodeID), nil
	}
	in.StatementCount, in.FallbackInsertCount, in.FallbackUpdateCount, in.IgnoreCount, in.MissingDeleteCount = 0, 0, 0, 0, 0
	b.in = in

	b.sourceNode, err = l.nodes.LookupNode(ctx, header.SourceNodeID)
	if err != nil {
		return nil, err
	}
	b.settings, err = l.settings.LoadSettings(ctx, b.sourceNode.NodeGroupID, l.localGroupID)
	if err != nil {
		return nil, err
	}
	b.tx, err = l.writer.Begin(ctx)
	if err != nil {
		return nil, err
	}
	b.rows = &rowWriter{tx: b.tx, settings: b.settings, in: in}

	var table *protocol.Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			b.rollback()
			return nil, fmt.Errorf("batch [%d] from node [%s]: %w", header.BatchID, header.SourceNodeID, ErrTruncatedStream)
		}
		if err != nil {
			b.rollback()
			return nil, err
		}

		switch {
		case rec.Type == protocol.RecordTypeTable:
			table = rec
		case rec.Type == protocol.RecordTypeCommit:
			if err = b.tx.Commit(); err != nil {
				return l.fail(ctx, b, b.line(reader), 0, err)
			}
			if err = l.incoming.Finish(ctx, in, constant.IncomingStatusOK); err != nil {
				return nil, err
			}
			logger.Info("incoming batch loaded",
				zap.Uint64("batch_id", header.BatchID),
				zap.String("source_node_id", header.SourceNodeID),
				zap.String("channel_id", header.ChannelID),
				zap.Int64("statements", in.StatementCount),
				zap.Int64("fallback_inserts", in.FallbackInsertCount),
				zap.Int64("fallback_updates", in.FallbackUpdateCount),
				zap.Int64("ignored", in.IgnoreCount),
				zap.Int64("missing_deletes", in.MissingDeleteCount))
			return protocol.NewOKAck(header.BatchID, l.localNodeID), nil
		case rec.IsRow():
			b.rowNumber++
			line := b.line(reader)
			if table == nil {
				b.rollback()
				return l.fail(ctx, b, line, rec.DataID, fmt.Errorf("batch [%d] line [%d] row has no table record", header.BatchID, line))
			}
			row, err := newRow(table, rec, line)
			if err == nil {
				err = l.loadRow(ctx, b, row)
			}
			if errors.Is(err, ErrIgnoreBatch) {
				b.rollback()
				if err = skipBatch(reader, header); err != nil {
					return nil, err
				}
				if err = l.incoming.Finish(ctx, in, constant.IncomingStatusIgnored); err != nil {
					return nil, err
				}
				logger.Warn("incoming batch ignored by conflict resolution",
					zap.Uint64("batch_id", header.BatchID),
					zap.String("source_node_id", header.SourceNodeID),
					zap.Int64("line", line))
				return protocol.NewOKAck(header.BatchID, l.localNodeID), nil
			}
			if err != nil {
				b.rollback()
				return l.fail(ctx, b, line, rec.DataID, err)
			}
		default:
			b.rollback()
			return nil, fmt.Errorf("batch [%d] line [%d] record [%s] is unexpected: %w", header.BatchID, b.line(reader), rec.Type, ErrTruncatedStream)
		}
	}
}

func (b *batchLoad) rollback() {
	if err := b.tx.Rollback(); err != nil {
		logger.Warn("incoming batch rollback failed",
			zap.Uint64("batch_id", b.header.BatchID),
			zap.Error(err))
	}
}

func (l *Loader) loadRow(ctx context.Context, b *batchLoad, row *Row) error {
	fc := &FilterContext{SourceNode: b.sourceNode, BatchID: b.header.BatchID}
	for _, f := range b.settings.Filters(row.Table) {
		err := f.Filter(ctx, fc, row)
		var ignoreColumns *IgnoreColumnError
		switch {
		case err == nil:
		case errors.Is(err, ErrIgnoreRow):
			b.in.IgnoreCount++
			return nil
		case errors.As(err, &ignoreColumns):
			row.RemoveColumns(ignoreColumns.Columns...)
		default:
			return err
		}
	}

	transforms := b.settings.Transforms(row.Table)
	if len(transforms) == 0 {
		return b.rows.write(ctx, row)
	}
	for _, t := range transforms {
		target, err := t.Apply(ctx, b.tx, b.sourceNode, row)
		if err != nil {
			return err
		}
		if err = b.rows.write(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// fail records the batch as failed at the line and returns the error ack
func (l *Loader) fail(ctx context.Context, b *batchLoad, line int64, dataID uint64, cause error) (*protocol.Ack, error) {
	ack := &protocol.Ack{
		BatchID:          b.header.BatchID,
		NodeID:           l.localNodeID,
		Status:           constant.BatchStatusError,
		FailedLineNumber: line,
		FailedDataID:     dataID,
		SqlMessage:       cause.Error(),
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(cause, &mysqlErr) {
		ack.SqlState = string(mysqlErr.SQLState[:])
		ack.SqlCode = int(mysqlErr.Number)
		ack.SqlMessage = mysqlErr.Message
	}
	b.in.FailedLineNumber = line
	b.in.FailedRowNumber = b.rowNumber
	b.in.SqlState, b.in.SqlCode, b.in.SqlMessage = ack.SqlState, ack.SqlCode, ack.SqlMessage
	if err := l.incoming.Fail(ctx, b.in); err != nil {
		return nil, err
	}
	logger.Error("incoming batch load failed",
		zap.Uint64("batch_id", b.header.BatchID),
		zap.String("source_node_id", b.header.SourceNodeID),
		zap.Int64("line", line),
		zap.Uint64("data_id", dataID),
		zap.Error(cause))
	return ack, nil
}

// skipBatch reads past the commit of the batch
func skipBatch(reader *protocol.Reader, header *protocol.Record) error {
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return fmt.Errorf("batch [%d] from node [%s]: %w", header.BatchID, header.SourceNodeID, ErrTruncatedStream)
		}
		if err != nil {
			return err
		}
		if rec.Type == protocol.RecordTypeCommit {
			return nil
		}
	}
}

func newRow(table, rec *protocol.Record, line int64) (*Row, error) {
	eventType, ok := protocol.EventTypeOf(rec.Type)
	if !ok {
		return nil, fmt.Errorf("record type [%s] is not a row", rec.Type)
	}
	return &Row{
		DataID:       rec.DataID,
		EventType:    eventType,
		Table:        table.Table,
		Columns:      append([]string(nil), table.Columns...),
		KeyColumns:   append([]string(nil), table.KeyColumns...),
		Values:       rec.Row,
		OldValues:    rec.Old,
		PkValues:     rec.Pk,
		ExternalData: rec.ExternalData,
		Line:         line,
	}, nil
}
