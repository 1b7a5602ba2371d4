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
package router

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/utils/constant"
)

// BatchAlgorithm decides at a transaction boundary whether an in-progress batch closes
type BatchAlgorithm interface {
	IsBatchComplete(size int, channel *config.Channel, boundary bool) bool
}

// BatchAlgorithmFunc adapts a function to a BatchAlgorithm
type BatchAlgorithmFunc func(size int, channel *config.Channel, boundary bool) bool

func (f BatchAlgorithmFunc) IsBatchComplete(size int, channel *config.Channel, boundary bool) bool {
	return f(size, channel, boundary)
}

var (
	algorithmMu sync.RWMutex
	algorithms  = map[string]BatchAlgorithm{
		constant.BatchAlgorithmDefault: BatchAlgorithmFunc(func(size int, channel *config.Channel, boundary bool) bool {
			return size >= maxBatchSize(channel) && boundary
		}),
		constant.BatchAlgorithmNonTransactional: BatchAlgorithmFunc(func(size int, channel *config.Channel, _ bool) bool {
			return size >= maxBatchSize(channel)
		}),
		// batches close only at the end of a routing pass
		constant.BatchAlgorithmTransactional: BatchAlgorithmFunc(func(int, *config.Channel, bool) bool {
			return false
		}),
	}
)

func maxBatchSize(channel *config.Channel) int {
	if channel == nil || channel.MaxBatchSize <= 0 {
		return constant.DefaultMaxBatchSize
	}
	return channel.MaxBatchSize
}

// RegisterBatchAlgorithm adds a custom batch algorithm
func RegisterBatchAlgorithm(name string, algorithm BatchAlgorithm) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || algorithm == nil {
		return fmt.Errorf("batch algorithm [%s] register failed: blank name or nil algorithm", name)
	}
	algorithmMu.Lock()
	defer algorithmMu.Unlock()
	if _, ok := algorithms[name]; ok {
		return fmt.Errorf("batch algorithm [%s] register failed: already registered", name)
	}
	algorithms[name] = algorithm
	return nil
}

// GetBatchAlgorithm returns the named algorithm, blank is the default algorithm
func GetBatchAlgorithm(name string) (BatchAlgorithm, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = constant.BatchAlgorithmDefault
	}
	algorithmMu.RLock()
	defer algorithmMu.RUnlock()
	a, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("batch algorithm [%s] not found", name)
	}
	return a, nil
}
