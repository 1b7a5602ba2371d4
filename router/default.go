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
	"context"

	"github.com/scylladb/go-set/strset"

	"github.com/wentaojin/dbsync/model/config"
)

// defaultRouter routes to every node of the target node group
type defaultRouter struct{}

func newDefaultRouter(_ *config.Router) (Evaluator, error) {
	return &defaultRouter{}, nil
}

func (r *defaultRouter) Evaluate(_ context.Context, _ *Context, _ *Metadata, nodes []*config.Node, _ bool) (*strset.Set, error) {
	return toNodeIDs(nodes, nil), nil
}
