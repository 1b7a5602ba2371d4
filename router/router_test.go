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
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wentaojin/dbsync/model/config"
	"github.com/wentaojin/dbsync/model/data"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

func TestParseColumnExpression(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		want       []*Expression
	}{
		{
			name:       "line feeds",
			expression: "one=two\ntwo=three\rthree!=:EXTERNAL_ID",
			want: []*Expression{
				{Column: "one", Operator: OperatorEquals, Value: "two"},
				{Column: "two", Operator: OperatorEquals, Value: "three"},
				{Column: "three", Operator: OperatorNotEquals, Value: ":EXTERNAL_ID"},
			},
		},
		{
			name:       "or",
			expression: "one=door OR two=three or three!=:EXTERNAL_ID",
			want: []*Expression{
				{Column: "one", Operator: OperatorEquals, Value: "door"},
				{Column: "two", Operator: OperatorEquals, Value: "three"},
				{Column: "three", Operator: OperatorNotEquals, Value: ":EXTERNAL_ID"},
			},
		},
		{
			name:       "or and line feeds",
			expression: "one=two OR three=four\r\nor   five!=:EXTERNAL_ID",
			want: []*Expression{
				{Column: "one", Operator: OperatorEquals, Value: "two"},
				{Column: "three", Operator: OperatorEquals, Value: "four"},
				{Column: "five", Operator: OperatorNotEquals, Value: ":EXTERNAL_ID"},
			},
		},
		{
			name: "ticks",
			expression: "one='two three' OR four='five'\r\nor six=isn't \r\n seven='can''t'" +
				" or eight='yall \n nine=' ten  ' or eleven  =  'twelve'  ",
			want: []*Expression{
				{Column: "one", Operator: OperatorEquals, Value: "two three"},
				{Column: "four", Operator: OperatorEquals, Value: "five"},
				{Column: "six", Operator: OperatorEquals, Value: "isn't"},
				{Column: "seven", Operator: OperatorEquals, Value: "can't"},
				{Column: "eight", Operator: OperatorEquals, Value: "'yall"},
				{Column: "nine", Operator: OperatorEquals, Value: " ten  "},
				{Column: "eleven", Operator: OperatorEquals, Value: "twelve"},
			},
		},
		{
			name:       "or inside column name",
			expression: "ORDER_ID=:EXTERNAL_ID",
			want: []*Expression{
				{Column: "ORDER_ID", Operator: OperatorEquals, Value: ":EXTERNAL_ID"},
			},
		},
		{
			name:       "contains",
			expression: "REGIONS contains EAST\nREGIONS not contains WEST",
			want: []*Expression{
				{Column: "REGIONS", Operator: OperatorContains, Value: "EAST"},
				{Column: "REGIONS", Operator: OperatorNotContains, Value: "WEST"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseColumnExpression(tt.expression)
			if err != nil {
				t.Fatalf("ParseColumnExpression() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseColumnExpression() = %s, want %s", dump(got), dump(tt.want))
			}
		})
	}
}

func dump(v any) string {
	s, _ := stringutil.MarshalJSON(v)
	return s
}

func TestColumnExpressionSyntaxError(t *testing.T) {
	for _, exp := range []string{"NODE_ID", "NODE_ID=", "A=B\nC"} {
		_, err := Compile(&config.Router{RouterID: "r1", RouterType: constant.RouterTypeColumn, RouterExpression: exp})
		if !errors.Is(err, ErrSyntax) {
			t.Errorf("Compile(%q) error = %v, want syntax error", exp, err)
		}
	}
}

func testNodes(ids ...string) []*config.Node {
	var nodes []*config.Node
	for _, id := range ids {
		nodes = append(nodes, &config.Node{NodeID: id, NodeGroupID: "client", ExternalID: id})
	}
	return nodes
}

func testMeta(columns []string, row ...string) *Metadata {
	var values []*string
	for _, r := range row {
		if r == "<nil>" {
			values = append(values, nil)
			continue
		}
		values = append(values, stringutil.StringPtr(r))
	}
	return &Metadata{Data: &data.Data{
		DataID:        1,
		TableName:     "mytable",
		EventType:     constant.EventTypeInsert,
		ColumnNames:   columns,
		PkColumnNames: columns[:1],
		RowData:       values,
		PkData:        values[:1],
		ExternalData:  "200",
	}}
}

func evaluate(t *testing.T, routerType, expression string, meta *Metadata, nodes []*config.Node, rc *Context) []string {
	t.Helper()
	eval, err := Compile(&config.Router{RouterID: "route1", RouterType: routerType, RouterExpression: expression})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err := eval.Evaluate(context.Background(), rc, meta, nodes, false)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	list := got.List()
	sort.Strings(list)
	return list
}

func TestColumnMatchRouter(t *testing.T) {
	columns := []string{"ID", "NODE_ID", "COLUMN2", "REGIONS"}
	tests := []struct {
		name       string
		expression string
		row        []string
		want       []string
	}{
		{"equals node id", "NODE_ID = :NODE_ID", []string{"1", "100", "Super Dooper", "EAST"}, []string{"100"}},
		{"not equals node id", "NODE_ID != :NODE_ID", []string{"1", "100", "Super Dooper", "EAST"}, []string{"200", "300"}},
		{"equals external id", "NODE_ID=:EXTERNAL_ID", []string{"1", "300", "x", "EAST"}, []string{"300"}},
		{"equals node group", "COLUMN2=:NODE_GROUP_ID", []string{"1", "100", "client", "EAST"}, []string{"100", "200", "300"}},
		{"constant miss", "COLUMN2=nothing", []string{"1", "100", "Super Dooper", "EAST"}, nil},
		{"constant hit", "COLUMN2='Super Dooper'", []string{"1", "100", "Super Dooper", "EAST"}, []string{"100", "200", "300"}},
		{"lower case column", "column2='Super Dooper'", []string{"1", "100", "Super Dooper", "EAST"}, nil},
		{"null", "COLUMN2=NULL", []string{"1", "100", "<nil>", "EAST"}, []string{"100", "200", "300"}},
		{"not null", "COLUMN2!=NULL", []string{"1", "100", "<nil>", "EAST"}, nil},
		{"column reference", "NODE_ID=:ID", []string{"100", "100", "x", "EAST"}, []string{"100", "200", "300"}},
		{"external data", "NODE_ID=EXTERNAL_DATA", []string{"1", "200", "x", "EAST"}, []string{"100", "200", "300"}},
		{"contains", "REGIONS contains WEST", []string{"1", "100", "x", "EAST,WEST"}, []string{"100", "200", "300"}},
		{"not contains", "REGIONS not contains WEST", []string{"1", "100", "x", "EAST,WEST"}, nil},
		{"disjunction", "NODE_ID=:NODE_ID OR COLUMN2=:NODE_ID", []string{"1", "100", "200", "EAST"}, []string{"100", "200"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluate(t, constant.RouterTypeColumn, tt.expression, testMeta(columns, tt.row...), testNodes("100", "200", "300"), nil)
			if !reflect.DeepEqual(got, tt.want) && !(len(got) == 0 && len(tt.want) == 0) {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestColumnMatchRouterOldData(t *testing.T) {
	meta := testMeta([]string{"ID", "STORE"}, "1", "200")
	meta.Data.EventType = constant.EventTypeUpdate
	meta.Data.OldData = []*string{stringutil.StringPtr("1"), stringutil.StringPtr("100")}

	got := evaluate(t, constant.RouterTypeColumn, "OLD_STORE=:EXTERNAL_ID OR STORE=:EXTERNAL_ID", meta, testNodes("100", "200", "300"), nil)
	if !reflect.DeepEqual(got, []string{"100", "200"}) {
		t.Errorf("Evaluate() = %v, want [100 200]", got)
	}

	meta.Channel = &config.Channel{UseRowDataToRoute: true}
	got = evaluate(t, constant.RouterTypeColumn, "OLD_STORE=:EXTERNAL_ID OR STORE=:EXTERNAL_ID", meta, testNodes("100", "200", "300"), nil)
	if !reflect.DeepEqual(got, []string{"200"}) {
		t.Errorf("Evaluate() without old data = %v, want [200]", got)
	}
}

func TestParseLookupExpression(t *testing.T) {
	valid := "LOOKUP_TABLE=STORE_LOOKUP\nKEY_COLUMN=STORE_ID\r\nLOOKUP_KEY_COLUMN=STORE_ID\n\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID\n"
	got, err := ParseLookupExpression(valid)
	if err != nil {
		t.Fatalf("ParseLookupExpression() error = %v", err)
	}
	want := &LookupExpression{
		LookupTable:      "STORE_LOOKUP",
		KeyColumn:        "STORE_ID",
		LookupKeyColumn:  "STORE_ID",
		ExternalIDColumn: "NODE_EXTERNAL_ID",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseLookupExpression() = %v, want %v", got, want)
	}

	tests := []struct {
		name       string
		expression string
	}{
		{"missing equals", "LOOKUP_TABLE STORE_LOOKUP\nKEY_COLUMN=STORE_ID\nLOOKUP_KEY_COLUMN=STORE_ID\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID"},
		{"duplicate key", "LOOKUP_TABLE=A\nLOOKUP_TABLE=B\nKEY_COLUMN=STORE_ID\nLOOKUP_KEY_COLUMN=STORE_ID\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID"},
		{"unknown key", "LOOKUP_TABLE=A\nKEY_COLUMN=STORE_ID\nLOOKUP_KEY_COLUMN=STORE_ID\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID\nOTHER=1"},
		{"missing lookup table", "KEY_COLUMN=STORE_ID\nLOOKUP_KEY_COLUMN=STORE_ID\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID"},
		{"missing key column", "LOOKUP_TABLE=A\nLOOKUP_KEY_COLUMN=STORE_ID\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID"},
		{"missing lookup key column", "LOOKUP_TABLE=A\nKEY_COLUMN=STORE_ID\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID"},
		{"missing external id column", "LOOKUP_TABLE=A\nKEY_COLUMN=STORE_ID\nLOOKUP_KEY_COLUMN=STORE_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(&config.Router{RouterID: "r1", RouterType: constant.RouterTypeLookup, RouterExpression: tt.expression})
			var syntaxErr *SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Errorf("Compile() error = %v, want *SyntaxError", err)
			}
		})
	}
}

func TestLookupTableRouter(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	for _, sql := range []string{
		"CREATE TABLE STORE_LOOKUP (STORE_ID VARCHAR(10), NODE_EXTERNAL_ID VARCHAR(10))",
		"INSERT INTO STORE_LOOKUP VALUES ('s1', '100'), ('s1', '300'), ('s2', '200')",
	} {
		if err = db.Exec(sql).Error; err != nil {
			t.Fatal(err)
		}
	}
	expression := "LOOKUP_TABLE=STORE_LOOKUP\nKEY_COLUMN=STORE_ID\nLOOKUP_KEY_COLUMN=STORE_ID\nEXTERNAL_ID_COLUMN=NODE_EXTERNAL_ID"
	rc := NewContext("default", db)
	nodes := testNodes("100", "200", "300")

	got := evaluate(t, constant.RouterTypeLookup, expression, testMeta([]string{"ID", "STORE_ID"}, "1", "s1"), nodes, rc)
	if !reflect.DeepEqual(got, []string{"100", "300"}) {
		t.Errorf("Evaluate() = %v, want [100 300]", got)
	}
	// cached for the pass, later table changes are not seen
	if err = db.Exec("DELETE FROM STORE_LOOKUP").Error; err != nil {
		t.Fatal(err)
	}
	got = evaluate(t, constant.RouterTypeLookup, expression, testMeta([]string{"ID", "STORE_ID"}, "2", "s2"), nodes, rc)
	if !reflect.DeepEqual(got, []string{"200"}) {
		t.Errorf("Evaluate() = %v, want [200]", got)
	}
}

func TestCompile(t *testing.T) {
	if _, err := Compile(&config.Router{RouterID: "r1", RouterType: "bsh"}); !errors.Is(err, ErrUnknownRouterType) {
		t.Errorf("Compile() error = %v, want unknown router type", err)
	}
	got := evaluate(t, "", "", testMeta([]string{"ID"}, "1"), testNodes("b", "a"), nil)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("default router = %v, want [a b]", got)
	}
	err := Register("even", func(r *config.Router) (Evaluator, error) { return &defaultRouter{}, nil })
	if err != nil {
		t.Fatal(err)
	}
	if err = Register("even", func(r *config.Router) (Evaluator, error) { return &defaultRouter{}, nil }); err == nil {
		t.Errorf("Register() duplicate type, want error")
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	r := &config.Router{RouterID: "r1", RouterType: constant.RouterTypeColumn, RouterExpression: "A=1"}
	first, err := c.Get(r)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := c.Get(r)
	if first != second {
		t.Errorf("Get() recompiled an unchanged router")
	}
	r.RouterExpression = "A=2"
	third, _ := c.Get(r)
	if third == first {
		t.Errorf("Get() reused an evaluator of a changed router")
	}
	r.RouterExpression = "A"
	if _, err = c.Get(r); !errors.Is(err, ErrSyntax) {
		t.Errorf("Get() error = %v, want syntax error", err)
	}
}

func TestBatchAlgorithm(t *testing.T) {
	channel := &config.Channel{MaxBatchSize: 2}
	tests := []struct {
		name     string
		size     int
		boundary bool
		want     bool
	}{
		{constant.BatchAlgorithmDefault, 2, true, true},
		{constant.BatchAlgorithmDefault, 2, false, false},
		{constant.BatchAlgorithmDefault, 1, true, false},
		{constant.BatchAlgorithmNonTransactional, 2, false, true},
		{constant.BatchAlgorithmNonTransactional, 1, true, false},
		{constant.BatchAlgorithmTransactional, 100, true, false},
	}
	for _, tt := range tests {
		a, err := GetBatchAlgorithm(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.IsBatchComplete(tt.size, channel, tt.boundary); got != tt.want {
			t.Errorf("%s IsBatchComplete(%d, %v) = %v, want %v", tt.name, tt.size, tt.boundary, got, tt.want)
		}
	}
	if _, err := GetBatchAlgorithm("nope"); err == nil {
		t.Errorf("GetBatchAlgorithm() unknown name, want error")
	}

	everyRow := BatchAlgorithmFunc(func(size int, _ *config.Channel, _ bool) bool { return size >= 1 })
	if err := RegisterBatchAlgorithm(" Every_Row ", everyRow); err != nil {
		t.Fatal(err)
	}
	a, err := GetBatchAlgorithm("every_row")
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsBatchComplete(1, channel, false) {
		t.Errorf("registered algorithm did not close the batch")
	}
	if err = RegisterBatchAlgorithm("every_row", everyRow); err == nil {
		t.Errorf("RegisterBatchAlgorithm() twice, want error")
	}
	if err = RegisterBatchAlgorithm(constant.BatchAlgorithmDefault, everyRow); err == nil {
		t.Errorf("RegisterBatchAlgorithm() over a built in algorithm, want error")
	}
}
