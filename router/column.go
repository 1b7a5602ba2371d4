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
	"regexp"
	"strings"

	"github.com/scylladb/go-set/strset"

	"github.com/wentaojin/dbsync/model/config"
)

const (
	OperatorEquals      = "="
	OperatorNotEquals   = "!="
	OperatorContains    = "contains"
	OperatorNotContains = "not contains"

	TokenNodeID       = ":NODE_ID"
	TokenExternalID   = ":EXTERNAL_ID"
	TokenNodeGroupID  = ":NODE_GROUP_ID"
	TokenExternalData = "EXTERNAL_DATA"
	TokenNull         = "NULL"
)

// clauses are separated by new lines or OR, a new line may carry an OR on either side
var clauseSeparator = regexp.MustCompile(`\s*(\s+or|\s+OR)?(\r\n|\r|\n)(or\s+|OR\s+)?\s*|\s+or\s+|\s+OR\s+`)

// operators are tried in this order, != must win over =
var columnOperators = []string{OperatorNotEquals, OperatorEquals, OperatorNotContains, OperatorContains}

// Expression is one column match clause
type Expression struct {
	Column   string
	Operator string
	Value    string
}

// ParseColumnExpression parses the clauses of a column match router, the clauses are a disjunction
func ParseColumnExpression(expression string) ([]*Expression, error) {
	var expressions []*Expression
	if strings.TrimSpace(expression) == "" {
		return expressions, nil
	}
	for _, t := range clauseSeparator.Split(expression, -1) {
		if strings.TrimSpace(t) == "" {
			continue
		}
		var (
			exp *Expression
			err error
		)
		for _, operator := range columnOperators {
			if !strings.Contains(t, operator) {
				continue
			}
			tokens := splitDropTrailing(t, operator)
			if len(tokens) != 2 {
				continue
			}
			value, ok := parseValue(tokens[1])
			if !ok {
				err = &SyntaxError{Expression: expression, Reason: "clause [" + t + "] has no value"}
				break
			}
			exp = &Expression{
				Column:   strings.TrimSpace(tokens[0]),
				Operator: operator,
				Value:    value,
			}
			break
		}
		if err != nil {
			return nil, err
		}
		if exp == nil {
			return nil, &SyntaxError{Expression: expression, Reason: "clause [" + t + "] has no valid operator"}
		}
		expressions = append(expressions, exp)
	}
	return expressions, nil
}

// splitDropTrailing splits like strings.Split and drops trailing empty tokens
func splitDropTrailing(s, sep string) []string {
	tokens := strings.Split(s, sep)
	for len(tokens) > 0 && tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// parseValue trims the value and unquotes a value wrapped in ticks, doubled ticks inside become one tick
func parseValue(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		value = value[1 : len(value)-1]
		value = strings.ReplaceAll(value, "''", "'")
	}
	return value, true
}

type columnMatchRouter struct {
	expressions []*Expression
}

func newColumnMatchRouter(r *config.Router) (Evaluator, error) {
	expressions, err := ParseColumnExpression(r.RouterExpression)
	if err != nil {
		return nil, err
	}
	return &columnMatchRouter{expressions: expressions}, nil
}

func (r *columnMatchRouter) Evaluate(_ context.Context, _ *Context, meta *Metadata, nodes []*config.Node, _ bool) (*strset.Set, error) {
	nodeIDs := strset.New()
	columnValues := meta.ColumnValues()
	if len(columnValues) == 0 {
		return nodeIDs, nil
	}
	for _, e := range r.expressions {
		columnValue := columnValues[e.Column]
		switch {
		case strings.EqualFold(e.Value, TokenNodeID):
			for _, n := range nodes {
				if e.Match(columnValue, &n.NodeID) {
					nodeIDs.Add(n.NodeID)
				}
			}
		case strings.EqualFold(e.Value, TokenExternalID):
			for _, n := range nodes {
				if e.Match(columnValue, &n.ExternalID) {
					nodeIDs.Add(n.NodeID)
				}
			}
		case strings.EqualFold(e.Value, TokenNodeGroupID):
			for _, n := range nodes {
				if e.Match(columnValue, &n.NodeGroupID) {
					nodeIDs.Add(n.NodeID)
				}
			}
		default:
			var compareValue *string
			switch {
			case strings.EqualFold(e.Value, TokenExternalData):
				externalData := meta.Data.ExternalData
				compareValue = &externalData
			case strings.HasPrefix(e.Value, ":"):
				compareValue = columnValues[e.Value[1:]]
			case e.Value == TokenNull:
				compareValue = nil
			default:
				v := e.Value
				compareValue = &v
			}
			if e.Match(columnValue, compareValue) {
				toNodeIDs(nodes, nodeIDs)
			}
		}
	}
	return nodeIDs, nil
}

// Match compares a column value with the resolved compare value using the operator of the clause
func (e *Expression) Match(columnValue, compareValue *string) bool {
	switch e.Operator {
	case OperatorEquals:
		return (columnValue == nil && compareValue == nil) ||
			(columnValue != nil && compareValue != nil && *columnValue == *compareValue)
	case OperatorNotEquals:
		return (columnValue == nil && compareValue != nil) ||
			(columnValue != nil && (compareValue == nil || *columnValue != *compareValue))
	case OperatorContains:
		return columnValue != nil && compareValue != nil && containsItem(*columnValue, *compareValue)
	case OperatorNotContains:
		return columnValue != nil && compareValue != nil && !containsItem(*columnValue, *compareValue)
	}
	return false
}

func containsItem(list, item string) bool {
	for _, s := range splitDropTrailing(list, ",") {
		if s == item {
			return true
		}
	}
	return false
}
