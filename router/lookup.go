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
	"fmt"
	"regexp"
	"strings"

	"github.com/scylladb/go-set/strset"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/utils/constant"
)

const (
	LookupTable       = "LOOKUP_TABLE"
	KeyColumn         = "KEY_COLUMN"
	LookupKeyColumn   = "LOOKUP_KEY_COLUMN"
	ExternalIDColumn  = "EXTERNAL_ID_COLUMN"
	lookupCachePrefix = "lookup:"
)

var (
	lineSeparator = regexp.MustCompile(`\r\n|\r|\n`)
	lookupKeys    = []string{LookupTable, KeyColumn, LookupKeyColumn, ExternalIDColumn}
)

// LookupExpression is the parsed expression of a lookup table router
type LookupExpression struct {
	LookupTable      string
	KeyColumn        string
	LookupKeyColumn  string
	ExternalIDColumn string
}

// ParseLookupExpression parses the key=value lines of a lookup table router, all four keys are required once
func ParseLookupExpression(expression string) (*LookupExpression, error) {
	values := make(map[string]string)
	for _, line := range lineSeparator.Split(expression, -1) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens := splitDropTrailing(line, constant.StringSeparatorEqual)
		if len(tokens) != 2 {
			return nil, &SyntaxError{Expression: expression, Reason: fmt.Sprintf("line [%s] must be key=value", line)}
		}
		key := strings.TrimSpace(tokens[0])
		if !isLookupKey(key) {
			return nil, &SyntaxError{Expression: expression, Reason: fmt.Sprintf("unknown key [%s]", key)}
		}
		if _, ok := values[key]; ok {
			return nil, &SyntaxError{Expression: expression, Reason: fmt.Sprintf("duplicate key [%s]", key)}
		}
		values[key] = strings.TrimSpace(tokens[1])
	}
	for _, k := range lookupKeys {
		if v, ok := values[k]; !ok || v == "" {
			return nil, &SyntaxError{Expression: expression, Reason: fmt.Sprintf("missing key [%s]", k)}
		}
	}
	return &LookupExpression{
		LookupTable:      values[LookupTable],
		KeyColumn:        values[KeyColumn],
		LookupKeyColumn:  values[LookupKeyColumn],
		ExternalIDColumn: values[ExternalIDColumn],
	}, nil
}

func isLookupKey(key string) bool {
	for _, k := range lookupKeys {
		if k == key {
			return true
		}
	}
	return false
}

type lookupTableRouter struct {
	routerID   string
	expression *LookupExpression
}

func newLookupTableRouter(r *config.Router) (Evaluator, error) {
	exp, err := ParseLookupExpression(r.RouterExpression)
	if err != nil {
		return nil, err
	}
	return &lookupTableRouter{routerID: r.RouterID, expression: exp}, nil
}

func (r *lookupTableRouter) Evaluate(ctx context.Context, rc *Context, meta *Metadata, nodes []*config.Node, _ bool) (*strset.Set, error) {
	nodeIDs := strset.New()
	lookup, err := r.lookupMap(ctx, rc)
	if err != nil {
		return nil, err
	}
	columnValue := meta.ColumnValues()[r.expression.KeyColumn]
	if columnValue == nil {
		return nodeIDs, nil
	}
	externalIDs, ok := lookup[*columnValue]
	if !ok {
		return nodeIDs, nil
	}
	for _, n := range nodes {
		if externalIDs.Has(n.ExternalID) {
			nodeIDs.Add(n.NodeID)
		}
	}
	return nodeIDs, nil
}

// lookupMap reads the lookup table once per routing pass
func (r *lookupTableRouter) lookupMap(ctx context.Context, rc *Context) (map[string]*strset.Set, error) {
	if rc == nil || rc.DB == nil {
		return nil, fmt.Errorf("router [%s] lookup table [%s] failed: no lookup database", r.routerID, r.expression.LookupTable)
	}
	cacheKey := lookupCachePrefix + r.routerID
	if v, ok := rc.CacheGet(cacheKey); ok {
		return v.(map[string]*strset.Set), nil
	}

	rows, err := rc.DB.WithContext(ctx).
		Table(r.expression.LookupTable).
		Select(r.expression.LookupKeyColumn, r.expression.ExternalIDColumn).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("router [%s] lookup table [%s] query failed: %v", r.routerID, r.expression.LookupTable, err)
	}
	defer rows.Close()

	lookup := make(map[string]*strset.Set)
	for rows.Next() {
		var key, externalID *string
		if err = rows.Scan(&key, &externalID); err != nil {
			return nil, fmt.Errorf("router [%s] lookup table [%s] scan failed: %v", r.routerID, r.expression.LookupTable, err)
		}
		if key == nil || externalID == nil {
			continue
		}
		s, ok := lookup[*key]
		if !ok {
			s = strset.New()
			lookup[*key] = s
		}
		s.Add(*externalID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("router [%s] lookup table [%s] rows failed: %v", r.routerID, r.expression.LookupTable, err)
	}
	rc.CachePut(cacheKey, lookup)
	return lookup, nil
}
