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

package parser

import (
	"testing"

	"github.com/ebay/gryphon/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Parse_SimpleChain(t *testing.T) {
	lines, err := Parse(`g.V().has("name", "marko").out("knows").values("name")`)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	steps := lines[0].Steps
	require.Len(t, steps, 4)
	assert.Equal(t, StepV, steps[0].Kind)
	assert.Equal(t, StepHas, steps[1].Kind)
	assert.Equal(t, StepOut, steps[2].Kind)
	assert.Equal(t, StepValues, steps[3].Kind)

	require.Len(t, steps[1].Args, 2)
	assert.Equal(t, LitArg{Value: graph.StringValue("name")}, steps[1].Args[0])
	assert.Equal(t, LitArg{Value: graph.StringValue("marko")}, steps[1].Args[1])
}

func Test_Parse_Predicates(t *testing.T) {
	lines, err := Parse(`g.V().has("age", gt(29))`)
	require.NoError(t, err)
	pred, ok := lines[0].Steps[1].Args[1].(PredArg)
	require.True(t, ok)
	assert.Equal(t, graph.PredGt, pred.Kind)
	require.Len(t, pred.Args, 1)
	assert.Equal(t, LitArg{Value: graph.IntValue(29)}, pred.Args[0])

	lines, err = Parse(`g.V().has("age", inside(27, 33))`)
	require.NoError(t, err)
	pred = lines[0].Steps[1].Args[1].(PredArg)
	assert.Equal(t, graph.PredInside, pred.Kind)
	assert.Len(t, pred.Args, 2)
}

func Test_Parse_Assignment(t *testing.T) {
	lines, err := Parse(`x = g.V().hasLabel("person"); g.V(x).out()`)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "x", lines[0].Var)
	assert.Empty(t, lines[1].Var)
	require.Len(t, lines[1].Steps[0].Args, 1)
	assert.Equal(t, IdentArg{Name: "x"}, lines[1].Steps[0].Args[0])
}

func Test_Parse_AddVAddE(t *testing.T) {
	lines, err := Parse(`g.addV("person").property("name", "kate")`)
	require.NoError(t, err)
	assert.Equal(t, StepAddV, lines[0].Steps[0].Kind)

	lines, err = Parse(`g.addE("knows").from(a).to(b)`)
	require.NoError(t, err)
	steps := lines[0].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, StepAddE, steps[0].Kind)
	assert.Equal(t, StepFrom, steps[1].Kind)
	assert.Equal(t, StepTo, steps[2].Kind)
}

func Test_Parse_Subqueries(t *testing.T) {
	lines, err := Parse(`g.V().union(out("knows"), in("created"))`)
	require.NoError(t, err)
	union := lines[0].Steps[1]
	require.Equal(t, StepUnion, union.Kind)
	require.Len(t, union.Args, 2)
	sub0, ok := union.Args[0].(SubArg)
	require.True(t, ok)
	require.Len(t, sub0.Steps, 1)
	assert.Equal(t, StepOut, sub0.Steps[0].Kind)

	lines, err = Parse(`g.V().where(and(out("knows").count().is(gt(1)), has("age", gt(20))))`)
	require.NoError(t, err)
	where := lines[0].Steps[1]
	require.Equal(t, StepWhere, where.Kind)
	and, ok := where.Args[0].(SubArg)
	require.True(t, ok)
	assert.Equal(t, StepAnd, and.Steps[0].Kind)
}

func Test_Parse_Commands(t *testing.T) {
	lines, err := Parse(`BuildIndex(V, "name")`)
	require.NoError(t, err)
	require.Len(t, lines[0].Steps, 1)
	assert.Equal(t, StepBuildIndex, lines[0].Steps[0].Kind)
	assert.Equal(t, IdentArg{Name: "V"}, lines[0].Steps[0].Args[0])

	lines, err = Parse(`SetConfig("caching", "enable")`)
	require.NoError(t, err)
	assert.Equal(t, StepSetConfig, lines[0].Steps[0].Kind)
}

func Test_Parse_MultiLine(t *testing.T) {
	trx := `g.V().hasLabel("person").as("p").out("created");
g.V().count()`
	lines, err := Parse(trx)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func Test_Parse_Errors(t *testing.T) {
	tests := []string{
		``,
		`g.V()extra`,
		`g.V(`,
		`g.teleport()`,
		`V().count()`,
		`g.V().has("age", gt(29)`,
		`x = BuildIndex(V, "name")`,
		`g.addV("person").from(x)`,
		`BuildIndex(V, "name").count()`,
	}
	for _, input := range tests {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func Test_Parse_OrderArgs(t *testing.T) {
	lines, err := Parse(`g.V().order("age", decr)`)
	require.NoError(t, err)
	order := lines[0].Steps[1]
	require.Len(t, order.Args, 2)
	assert.Equal(t, LitArg{Value: graph.StringValue("age")}, order.Args[0])
	assert.Equal(t, IdentArg{Name: "decr"}, order.Args[1])
}

func Test_Parse_RangeAndCoin(t *testing.T) {
	lines, err := Parse(`g.V().range(0, -1).coin(0.5)`)
	require.NoError(t, err)
	rng := lines[0].Steps[1]
	require.Len(t, rng.Args, 2)
	assert.Equal(t, LitArg{Value: graph.IntValue(0)}, rng.Args[0])
	assert.Equal(t, LitArg{Value: graph.IntValue(-1)}, rng.Args[1])
	coin := lines[0].Steps[2]
	assert.Equal(t, LitArg{Value: graph.DoubleValue(0.5)}, coin.Args[0])
}
