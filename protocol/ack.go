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
package protocol

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/wentaojin/dbsync/utils/constant"
)

// Ack is the load result of one batch sent back to the source node
type Ack struct {
	BatchID uint64 `json:"batch_id"`
	// NodeID is the node that loaded the batch
	NodeID string `json:"node_id"`
	Status string `json:"status"`

	FailedLineNumber int64  `json:"failed_line_number,omitempty"`
	FailedDataID     uint64 `json:"failed_data_id,omitempty"`
	SqlState         string `json:"sql_state,omitempty"`
	SqlCode          int    `json:"sql_code,omitempty"`
	SqlMessage       string `json:"sql_message,omitempty"`
}

func (a *Ack) IsOK() bool {
	return a.Status == constant.BatchStatusOK
}

func NewOKAck(batchID uint64, nodeID string) *Ack {
	return &Ack{BatchID: batchID, NodeID: nodeID, Status: constant.BatchStatusOK}
}

func EncodeAcks(w io.Writer, acks []*Ack) error {
	if acks == nil {
		acks = []*Ack{}
	}
	if err := json.NewEncoder(w).Encode(acks); err != nil {
		return fmt.Errorf("encode acks failed: %v", err)
	}
	return nil
}

func DecodeAcks(r io.Reader) ([]*Ack, error) {
	var acks []*Ack
	if err := json.NewDecoder(r).Decode(&acks); err != nil {
		return nil, fmt.Errorf("decode acks failed: %v", err)
	}
	for _, a := range acks {
		if a.Status != constant.BatchStatusOK && a.Status != constant.BatchStatusError {
			return nil, fmt.Errorf("decode acks failed: batch [%d] unknown status [%s]", a.BatchID, a.Status)
		}
	}
	return acks, nil
}
