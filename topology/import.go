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
package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/router"
)

// Seed is a topology import document, keys are the json names of the entities
type Seed struct {
	Nodes            []*config.Node            `json:"nodes"`
	NodeGroupLinks   []*config.NodeGroupLink   `json:"nodeGroupLinks"`
	Channels         []*config.Channel         `json:"channels"`
	Triggers         []*config.Trigger         `json:"triggers"`
	Routers          []*config.Router          `json:"routers"`
	TriggerRouters   []*config.TriggerRouter   `json:"triggerRouters"`
	Conflicts        []*config.Conflict        `json:"conflicts"`
	TransformTables  []*config.TransformTable  `json:"transformTables"`
	TransformColumns []*config.TransformColumn `json:"transformColumns"`
	LoadFilters      []*config.LoadFilter      `json:"loadFilters"`
	// SecurityTokens sets node tokens, node json never carries the token
	SecurityTokens map[string]string `json:"securityTokens"`
}

// ParseSeed reads a yaml topology document
func ParseSeed(r io.Reader) (*Seed, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read topology seed failed: %v", err)
	}
	var doc interface{}
	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse topology seed yaml failed: %v", err)
	}
	jsonBytes, err := json.Marshal(jsonCompatible(doc))
	if err != nil {
		return nil, fmt.Errorf("convert topology seed failed: %v", err)
	}
	seed := &Seed{}
	if err = json.Unmarshal(jsonBytes, seed); err != nil {
		return nil, fmt.Errorf("decode topology seed failed: %v", err)
	}
	for _, n := range seed.Nodes {
		if token, ok := seed.SecurityTokens[n.NodeID]; ok {
			n.SecurityToken = token
		}
	}
	return seed, nil
}

// jsonCompatible turns yaml.v2 maps into string keyed maps
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = jsonCompatible(val)
		}
		return m
	case []interface{}:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	default:
		return v
	}
}

// Import writes the seed into the metadata store in one transaction, existing entities are kept.
// A seed with a router that does not compile is rejected before anything is written.
func Import(ctx context.Context, store *model.Store, seed *Seed) error {
	if err := compileRouters(seed.Routers); err != nil {
		return fmt.Errorf("topology import failed: %w", err)
	}
	return store.Transaction(ctx, func(txnCtx context.Context) error {
		for _, n := range seed.Nodes {
			if _, err := store.NodeRW().CreateNode(txnCtx, n); err != nil {
				return err
			}
		}
		for _, l := range seed.NodeGroupLinks {
			if _, err := store.NodeGroupLinkRW().CreateNodeGroupLink(txnCtx, l); err != nil {
				return err
			}
		}
		for _, c := range seed.Channels {
			if _, err := store.ChannelRW().CreateChannel(txnCtx, c); err != nil {
				return err
			}
		}
		for _, t := range seed.Triggers {
			if _, err := store.TriggerRW().CreateTrigger(txnCtx, t); err != nil {
				return err
			}
		}
		for _, r := range seed.Routers {
			if _, err := store.RouterRW().CreateRouter(txnCtx, r); err != nil {
				return err
			}
		}
		for _, tr := range seed.TriggerRouters {
			if _, err := store.TriggerRouterRW().CreateTriggerRouter(txnCtx, tr); err != nil {
				return err
			}
		}
		for _, c := range seed.Conflicts {
			if _, err := store.ConflictRW().CreateConflict(txnCtx, c); err != nil {
				return err
			}
		}
		for _, t := range seed.TransformTables {
			if _, err := store.TransformRW().CreateTransformTable(txnCtx, t); err != nil {
				return err
			}
		}
		for _, c := range seed.TransformColumns {
			if _, err := store.TransformRW().CreateTransformColumn(txnCtx, c); err != nil {
				return err
			}
		}
		for _, f := range seed.LoadFilters {
			if _, err := store.LoadFilterRW().CreateLoadFilter(txnCtx, f); err != nil {
				return err
			}
		}
		logger.Info("topology seed imported",
			zap.Int("nodes", len(seed.Nodes)),
			zap.Int("links", len(seed.NodeGroupLinks)),
			zap.Int("channels", len(seed.Channels)),
			zap.Int("routers", len(seed.Routers)))
		return nil
	})
}

// compileRouters rejects router types and expressions that would otherwise fail while routing
func compileRouters(routers []*config.Router) error {
	var errs []error
	for _, r := range routers {
		if _, err := router.Compile(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
