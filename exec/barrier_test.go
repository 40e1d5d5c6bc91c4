// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exec

import (
	"testing"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/msg"
	"github.com/ebay/gryphon/query/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccumulator(logic barrierLogic) *accumulator {
	return &accumulator{counter: msg.NewPathCounter(), state: logic.newState()}
}

func pairsOf(values ...int64) []msg.Pair {
	vals := make([]graph.Value, len(values))
	for i, v := range values {
		vals[i] = graph.IntValue(v)
	}
	return []msg.Pair{{Values: vals}}
}

func collectAll(t *testing.T, logic barrierLogic, op plan.Operator, batches ...[]msg.Pair) []msg.Pair {
	t.Helper()
	acc := newAccumulator(logic)
	m := &msg.Message{}
	for _, batch := range batches {
		m.Data = batch
		require.NoError(t, logic.collect(nil, &plan.QueryPlan{}, op, acc, m))
	}
	out, err := logic.finish(nil, &plan.QueryPlan{}, op, acc, m)
	require.NoError(t, err)
	return out
}

func Test_CountLogic(t *testing.T) {
	out := collectAll(t, &countLogic{}, &plan.Count{}, pairsOf(1, 2, 3), pairsOf(4, 5))
	require.Len(t, out, 1)
	assert.Equal(t, int64(5), out[0].Values[0].Int())

	// Zero items still count.
	out = collectAll(t, &countLogic{}, &plan.Count{})
	require.Len(t, out, 1)
	assert.Equal(t, int64(0), out[0].Values[0].Int())
}

func Test_DedupLogic_ByValue(t *testing.T) {
	out := collectAll(t, &dedupLogic{}, &plan.Dedup{}, pairsOf(1, 2, 1), pairsOf(2, 3))
	require.Len(t, out, 1)
	assert.Len(t, out[0].Values, 3)
}

func Test_DedupLogic_ByHistoryKeys(t *testing.T) {
	logic := &dedupLogic{}
	op := &plan.Dedup{Keys: []int{7}}
	a := msg.Pair{
		History: msg.History{{Key: 7, Value: graph.StringValue("x")}},
		Values:  []graph.Value{graph.IntValue(1)},
	}
	b := msg.Pair{
		History: msg.History{{Key: 7, Value: graph.StringValue("x")}},
		Values:  []graph.Value{graph.IntValue(2)},
	}
	c := msg.Pair{
		History: msg.History{{Key: 7, Value: graph.StringValue("y")}},
		Values:  []graph.Value{graph.IntValue(3)},
	}
	out := collectAll(t, logic, op, []msg.Pair{a, b, c})
	// One bucket per distinct key value.
	assert.Len(t, out, 2)
}

func Test_OrderLogic(t *testing.T) {
	op := &plan.Order{ProjectKey: -1}
	out := collectAll(t, &orderLogic{}, op, pairsOf(3, 1), pairsOf(2))
	require.Len(t, out, 1)
	got := make([]int64, len(out[0].Values))
	for i, v := range out[0].Values {
		got[i] = v.Int()
	}
	assert.Equal(t, []int64{1, 2, 3}, got)

	op = &plan.Order{ProjectKey: -1, Descending: true}
	out = collectAll(t, &orderLogic{}, op, pairsOf(3, 1), pairsOf(2))
	got = got[:0]
	for _, v := range out[0].Values {
		got = append(got, v.Int())
	}
	assert.Equal(t, []int64{3, 2, 1}, got)
}

func Test_OrderLogic_EmptyKeepsBucket(t *testing.T) {
	op := &plan.Order{ProjectKey: -1}
	acc := newAccumulator(&orderLogic{})
	m := &msg.Message{Data: []msg.Pair{{History: msg.History{{Key: 2, Value: graph.IntValue(9)}}}}}
	logic := &orderLogic{}
	require.NoError(t, logic.collect(nil, &plan.QueryPlan{}, op, acc, m))
	out, err := logic.finish(nil, &plan.QueryPlan{}, op, acc, m)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Values)
	assert.Len(t, out[0].History, 1)
}

func Test_RangeLogic(t *testing.T) {
	// range(1, 2) keeps the 2nd and 3rd items.
	out := collectAll(t, &rangeLogic{}, &plan.Range{Start: 1, End: 2}, pairsOf(10, 20, 30, 40))
	require.Len(t, out, 1)
	assert.Equal(t, int64(20), out[0].Values[0].Int())
	assert.Equal(t, int64(30), out[0].Values[1].Int())

	// range(0, -1) keeps everything.
	out = collectAll(t, &rangeLogic{}, &plan.Range{Start: 0, End: -1}, pairsOf(10, 20))
	require.Len(t, out, 1)
	assert.Len(t, out[0].Values, 2)

	// An inverted range keeps nothing.
	out = collectAll(t, &rangeLogic{}, &plan.Range{Start: 3, End: 1}, pairsOf(10, 20))
	assert.Empty(t, out)
}

func Test_MathLogic(t *testing.T) {
	tests := []struct {
		op     plan.MathKind
		expect float64
	}{
		{plan.MathSum, 10},
		{plan.MathMax, 4},
		{plan.MathMin, 1},
		{plan.MathMean, 2.5},
	}
	for _, test := range tests {
		out := collectAll(t, &mathLogic{}, &plan.Math{Op: test.op}, pairsOf(1, 2), pairsOf(3, 4))
		require.Len(t, out, 1, "%v", test.op)
		assert.Equal(t, test.expect, out[0].Values[0].Double(), "%v", test.op)
	}

	// No numeric input produces no output.
	out := collectAll(t, &mathLogic{}, &plan.Math{Op: plan.MathSum})
	assert.Empty(t, out)
}

func Test_WhereMatch(t *testing.T) {
	history := msg.History{
		{Key: 1, Value: graph.IntValue(5)},
		{Key: 3, Value: graph.IntValue(9)},
	}
	op := &plan.Where{Conds: []plan.WhereCond{
		{HistoryKey: -1, Pred: graph.PredEq, RefKeys: []int{1}},
	}}
	assert.True(t, whereMatch(op, history, graph.IntValue(5)))
	assert.False(t, whereMatch(op, history, graph.IntValue(9)))

	op = &plan.Where{Conds: []plan.WhereCond{
		{HistoryKey: -1, Pred: graph.PredNeq, RefKeys: []int{1}},
	}}
	assert.True(t, whereMatch(op, history, graph.IntValue(9)))

	// Comparing two recorded steps.
	op = &plan.Where{Conds: []plan.WhereCond{
		{HistoryKey: 1, Pred: graph.PredLt, RefKeys: []int{3}},
	}}
	assert.True(t, whereMatch(op, history, graph.IntValue(0)))

	// A missing reference never matches.
	op = &plan.Where{Conds: []plan.WhereCond{
		{HistoryKey: -1, Pred: graph.PredEq, RefKeys: []int{8}},
	}}
	assert.False(t, whereMatch(op, history, graph.IntValue(5)))
}

func Test_EndpointSets(t *testing.T) {
	m := &msg.Message{Data: []msg.Pair{{
		History: msg.History{{Key: 2, Value: graph.UintValue(7)}},
		Values:  []graph.Value{graph.UintValue(9)},
	}}}

	op := &plan.AddE{
		From: plan.Endpoint{Kind: plan.EndpointPlaceholder, VIDs: []graph.VID{1, 2}},
		To:   plan.Endpoint{Kind: plan.EndpointStepLabel, LabelStep: 2},
	}
	from, to, err := endpointSets(op, m)
	require.NoError(t, err)
	assert.Equal(t, []graph.VID{1, 2}, from)
	assert.Equal(t, []graph.VID{7}, to)

	// A NotApplicable endpoint draws from the input stream.
	op = &plan.AddE{
		From: plan.Endpoint{Kind: plan.EndpointNotApplicable},
		To:   plan.Endpoint{Kind: plan.EndpointPlaceholder, VIDs: []graph.VID{3}},
	}
	from, to, err = endpointSets(op, m)
	require.NoError(t, err)
	assert.Equal(t, []graph.VID{9}, from)
	assert.Equal(t, []graph.VID{3}, to)
}

func Test_QueryID(t *testing.T) {
	a := QueryID(0x8000000000000001, 0)
	b := QueryID(0x8000000000000001, 1)
	c := QueryID(0x8000000000000002, 0)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
