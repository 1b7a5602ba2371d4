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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wentaojin/dbsync/utils/constant"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaMessage is the json value of a published row change
type KafkaMessage struct {
	Table     string             `json:"table"`
	EventType string             `json:"eventType"`
	Keys      map[string]*string `json:"keys,omitempty"`
	Values    map[string]*string `json:"values,omitempty"`
	Deltas    map[string]string  `json:"deltas,omitempty"`
	Statement string             `json:"statement,omitempty"`
}

// KafkaWriter publishes every row change of a batch as one message keyed by table and primary key. The
// messages of a batch are written together on commit.
type KafkaWriter struct {
	writer messageWriter
}

func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func newKafkaWriterWith(w messageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

// Close closes the underlying kafka writer
func (w *KafkaWriter) Close() error {
	if c, ok := w.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (w *KafkaWriter) Begin(ctx context.Context) (Tx, error) {
	return &kafkaTx{ctx: ctx, writer: w.writer}, nil
}

type kafkaTx struct {
	ctx      context.Context
	writer   messageWriter
	messages []kafka.Message
}

func (t *kafkaTx) publish(table string, msg *KafkaMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka message of table [%s] marshal failed: %v", table, err)
	}
	var key []string
	key = append(key, table)
	for _, k := range sortedKeys(msg.Keys) {
		if v := msg.Keys[k]; v != nil {
			key = append(key, *v)
		} else {
			key = append(key, "")
		}
	}
	t.messages = append(t.messages, kafka.Message{
		Key:   []byte(strings.Join(key, constant.StringSeparatorColon)),
		Value: value,
	})
	return nil
}

func sortedKeys(m map[string]*string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func columnMap(values []ColumnValue) (map[string]*string, map[string]string) {
	m := make(map[string]*string, len(values))
	var deltas map[string]string
	for _, v := range values {
		if v.Delta != nil {
			if deltas == nil {
				deltas = make(map[string]string)
			}
			deltas[v.Column] = v.Delta.String()
			continue
		}
		m[v.Column] = v.Value
	}
	return m, deltas
}

func (t *kafkaTx) Insert(_ context.Context, table string, values []ColumnValue) error {
	m, _ := columnMap(values)
	keys := make(map[string]*string)
	for _, v := range values {
		if v.Key {
			keys[v.Column] = v.Value
		}
	}
	return t.publish(table, &KafkaMessage{Table: table, EventType: constant.EventTypeInsert, Keys: keys, Values: m})
}

func (t *kafkaTx) Update(_ context.Context, table string, values []ColumnValue, where []ColumnValue) (int64, error) {
	m, deltas := columnMap(values)
	keys, _ := columnMap(where)
	return 1, t.publish(table, &KafkaMessage{Table: table, EventType: constant.EventTypeUpdate, Keys: keys, Values: m, Deltas: deltas})
}

func (t *kafkaTx) Delete(_ context.Context, table string, where []ColumnValue) (int64, error) {
	keys, _ := columnMap(where)
	return 1, t.publish(table, &KafkaMessage{Table: table, EventType: constant.EventTypeDelete, Keys: keys})
}

// Get knows no target state, every row is treated as absent
func (t *kafkaTx) Get(context.Context, string, []string, []ColumnValue) (map[string]*string, error) {
	return nil, nil
}

func (t *kafkaTx) QueryValue(context.Context, string, ...interface{}) (*string, error) {
	return nil, fmt.Errorf("kafka writer does not support lookup queries")
}

func (t *kafkaTx) Exec(_ context.Context, statement string) error {
	return t.publish("", &KafkaMessage{EventType: constant.EventTypeSQL, Statement: statement})
}

func (t *kafkaTx) Commit() error {
	if len(t.messages) == 0 {
		return nil
	}
	if err := t.writer.WriteMessages(t.ctx, t.messages...); err != nil {
		return fmt.Errorf("kafka write [%d] messages failed: %v", len(t.messages), err)
	}
	t.messages = nil
	return nil
}

func (t *kafkaTx) Rollback() error {
	t.messages = nil
	return nil
}
