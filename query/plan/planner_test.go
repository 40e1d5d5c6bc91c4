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

package plan

import (
	"testing"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/index"
	"github.com/ebay/gryphon/query/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// modernStrings is the modern graph's string index: person=1 software=2;
// knows=1 created=2; name=1 age=2 lang=3; weight=1.
type modernStrings struct{}

func (modernStrings) LabelID(element graph.ElementType, name string) (graph.Label, bool) {
	if element == graph.Vertex {
		switch name {
		case "person":
			return 1, true
		case "software":
			return 2, true
		}
		return 0, false
	}
	switch name {
	case "knows":
		return 1, true
	case "created":
		return 2, true
	}
	return 0, false
}

func (modernStrings) PropKeyID(element graph.ElementType, name string) (graph.Label, graph.ValueType, bool) {
	if element == graph.Vertex {
		switch name {
		case "name":
			return 1, graph.TypeString, true
		case "age":
			return 2, graph.TypeInt, true
		case "lang":
			return 3, graph.TypeString, true
		}
		return 0, 0, false
	}
	if name == "weight" {
		return 1, graph.TypeDouble, true
	}
	return 0, 0, false
}

func (modernStrings) LabelName(element graph.ElementType, id graph.Label) string {
	if element == graph.Vertex {
		return [...]string{"", "person", "software"}[id]
	}
	return [...]string{"", "knows", "created"}[id]
}

func (modernStrings) PropKeyName(element graph.ElementType, id graph.Label) string {
	if element == graph.Vertex {
		return [...]string{"label", "name", "age", "lang"}[id]
	}
	return [...]string{"label", "weight"}[id]
}

func (modernStrings) AvailLabels(element graph.ElementType) string {
	if element == graph.Vertex {
		return "person software"
	}
	return "knows created"
}

func (modernStrings) AvailPropKeys(element graph.ElementType) string {
	if element == graph.Vertex {
		return "name age lang"
	}
	return "weight"
}

func newTestPlanner(idx *index.Store, opts Options) *Planner {
	return NewPlanner(modernStrings{}, idx, opts)
}

func mustPlan(t *testing.T, pl *Planner, input string) *TrxPlan {
	t.Helper()
	lines, err := parser.Parse(input)
	require.NoError(t, err)
	plan, err := pl.Plan(lines)
	require.NoError(t, err)
	return plan
}

func kinds(steps []Step) []Kind {
	out := make([]Kind, len(steps))
	for i, s := range steps {
		out[i] = s.Op.Kind()
	}
	return out
}

func Test_Plan_SimpleChain(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `g.V().has("name", "marko").out("knows").values("name")`)

	require.Len(t, plan.Queries, 2)
	steps := plan.Queries[0].Steps
	assert.Equal(t, []Kind{KindInit, KindHas, KindTraversal, KindValues, KindEnd}, kinds(steps))
	assert.True(t, plan.Queries[0].ReadOnly)
	assert.Equal(t, TrxReadOnly, plan.Kind)

	has := steps[1].Op.(*Has)
	require.Len(t, has.Preds, 1)
	assert.Equal(t, 1, has.Preds[0].PKey)
	assert.Equal(t, graph.PredEq, has.Preds[0].Pred.Kind)

	traversal := steps[2].Op.(*Traversal)
	assert.Equal(t, graph.DirOut, traversal.Direction)
	assert.Equal(t, graph.Label(1), traversal.Label)
	assert.True(t, steps[2].SendRemote)

	// The synthetic commit query.
	assert.Equal(t, []Kind{KindValidation, KindPostValidation, KindCommit, KindEnd},
		kinds(plan.Queries[1].Steps))
}

func Test_Plan_ConsecutiveHasMerges(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `g.V().has("name", "marko").has("age", gt(25))`)
	steps := plan.Queries[0].Steps
	assert.Equal(t, []Kind{KindInit, KindHas, KindEnd}, kinds(steps))
	assert.Len(t, steps[1].Op.(*Has).Preds, 2)
}

func Test_Plan_WriteKinds(t *testing.T) {
	pl := newTestPlanner(nil, Options{})

	plan := mustPlan(t, pl, `g.V().has("name", "peter").property("age", 36)`)
	assert.Equal(t, TrxUpdate, plan.Kind)
	assert.False(t, plan.Queries[0].ReadOnly)

	plan = mustPlan(t, pl, `g.addV("person").property("name", "kate")`)
	assert.Equal(t, TrxAdd|TrxUpdate, plan.Kind)

	plan = mustPlan(t, pl, `g.V().drop()`)
	assert.Equal(t, TrxDelete, plan.Kind)
	// Vertex drop gets the connected-edge drop pass.
	assert.Equal(t, []Kind{KindInit, KindDrop, KindDrop, KindEnd},
		kinds(plan.Queries[0].Steps))
}

func Test_Plan_Dependencies(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `
g.V().count();
g.V().has("name", "peter").property("age", 36);
g.V().count();
g.V().count()`)
	plan.TrxID = 1
	plan.BT = 10

	// Only the first read-only line is initially unblocked; the update
	// waits on it, the later reads wait on the update.
	ready := plan.NextQueries()
	require.Len(t, ready, 1)
	assert.Equal(t, 0, ready[0].QueryIndex)

	plan.FillResult(0, []graph.Value{graph.IntValue(6)})
	ready = plan.NextQueries()
	require.Len(t, ready, 1)
	assert.Equal(t, 1, ready[0].QueryIndex)
	assert.Equal(t, uint64(1), ready[0].TrxID)

	plan.FillResult(1, nil)
	ready = plan.NextQueries()
	require.Len(t, ready, 2)
	assert.Equal(t, 2, ready[0].QueryIndex)
	assert.Equal(t, 3, ready[1].QueryIndex)

	plan.FillResult(2, []graph.Value{graph.IntValue(6)})
	plan.FillResult(3, []graph.Value{graph.IntValue(6)})

	// The commit line runs last.
	ready = plan.NextQueries()
	require.Len(t, ready, 1)
	assert.Equal(t, 4, ready[0].QueryIndex)
	plan.FillResult(4, nil)
	assert.True(t, plan.Finished())
}

func Test_Plan_Placeholders(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `x = g.V().hasLabel("person"); g.V(x).out("knows")`)

	// Line 1 can't start until x is filled.
	ready := plan.NextQueries()
	require.Len(t, ready, 1)
	require.Equal(t, 0, ready[0].QueryIndex)

	plan.FillResult(0, []graph.Value{graph.UintValue(1), graph.UintValue(2)})
	ready = plan.NextQueries()
	require.Len(t, ready, 1)
	init := ready[0].Steps[0].Op.(*Init)
	require.Len(t, init.Seed, 2)
	assert.Equal(t, int64(1), init.Seed[0].Int())
}

func Test_Plan_AddE_Endpoints(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `
a = g.V().has("name", "marko");
b = g.V().has("name", "lop");
g.addE("knows").from(a).to(b)`)

	addE := plan.Queries[2].Steps[0].Op.(*AddE)
	assert.Equal(t, EndpointPlaceholder, addE.From.Kind)
	assert.Equal(t, EndpointPlaceholder, addE.To.Kind)

	plan.FillResult(0, []graph.Value{graph.UintValue(1)})
	plan.FillResult(1, []graph.Value{graph.UintValue(3)})
	assert.Equal(t, []graph.VID{1}, addE.From.VIDs)
	assert.Equal(t, []graph.VID{3}, addE.To.VIDs)
}

func Test_Plan_AddE_StepLabelEndpoint(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `g.V().has("name","marko").as("m").out("created").addE("knows").from("m")`)
	var addE *AddE
	for _, step := range plan.Queries[0].Steps {
		if op, ok := step.Op.(*AddE); ok {
			addE = op
		}
	}
	require.NotNil(t, addE)
	assert.Equal(t, EndpointStepLabel, addE.From.Kind)
	assert.Equal(t, EndpointNotApplicable, addE.To.Kind)
}

func Test_Plan_AddE_Errors(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	lines, err := parser.Parse(`g.addE("knows")`)
	require.NoError(t, err)
	_, err = pl.Plan(lines)
	assert.ErrorContains(t, err, "addE params not match")
}

func Test_Plan_Branches(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `g.V().union(out("knows"), in("created")).count()`)
	steps := plan.Queries[0].Steps
	// init, union, out, in, count, end
	assert.Equal(t, []Kind{KindInit, KindBranch, KindTraversal, KindTraversal, KindCount, KindEnd},
		kinds(steps))
	branch := steps[1].Op.(*Branch)
	assert.Equal(t, []int{2, 3}, branch.SubSteps)
	// Sub-chain tails point back to the branch; the branch continues after
	// the last sub-chain.
	assert.Equal(t, 1, steps[2].Next)
	assert.Equal(t, 1, steps[3].Next)
	assert.Equal(t, 4, steps[1].Next)
}

func Test_Plan_WhereSubquery(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `g.V().where(out("knows").count().is(gt(1)))`)
	steps := plan.Queries[0].Steps
	require.Equal(t, KindBranchFilter, steps[1].Op.Kind())
	assert.Equal(t, FilterAnd, steps[1].Op.(*BranchFilter).Filter)
}

func Test_Plan_WhereHistory(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	plan := mustPlan(t, pl, `g.V().as("a").out("knows").where(neq("a"))`)
	var where *Where
	for _, step := range plan.Queries[0].Steps {
		if op, ok := step.Op.(*Where); ok {
			where = op
		}
	}
	require.NotNil(t, where)
	require.Len(t, where.Conds, 1)
	assert.Equal(t, -1, where.Conds[0].HistoryKey)
	assert.Equal(t, graph.PredNeq, where.Conds[0].Pred)
	assert.Equal(t, []int{1}, where.Conds[0].RefKeys)
}

func Test_Plan_Reorder(t *testing.T) {
	pl := newTestPlanner(nil, Options{EnableStepReorder: true})
	// has() should move before order().
	plan := mustPlan(t, pl, `g.V().order("age", incr).has("name", "josh")`)
	steps := plan.Queries[0].Steps
	assert.Equal(t, KindHas, steps[1].Op.Kind())

	// A dedup with keys must not cross the as() it references.
	plan = mustPlan(t, pl, `g.V().order("age", incr).as("a").dedup("a")`)
	got := kinds(plan.Queries[0].Steps)
	asIdx, dedupIdx := -1, -1
	for i, k := range got {
		if k == KindAs {
			asIdx = i
		}
		if k == KindDedup {
			dedupIdx = i
		}
	}
	assert.Less(t, asIdx, dedupIdx)
}

func Test_Plan_IndexPushdown(t *testing.T) {
	idx := index.New()
	idx.Build(graph.Vertex, 1,
		[]uint64{1, 2, 3, 4, 5, 6},
		[]graph.Value{
			graph.StringValue("marko"), graph.StringValue("vadas"), graph.StringValue("lop"),
			graph.StringValue("josh"), graph.StringValue("ripple"), graph.StringValue("peter"),
		})
	pl := newTestPlanner(idx, Options{EnableIndex: true, IndexRatio: 3})
	plan := mustPlan(t, pl, `g.V().has("name", "marko").out("knows")`)

	steps := plan.Queries[0].Steps
	// The has() predicate was hoisted into the entry.
	assert.Equal(t, []Kind{KindInit, KindTraversal, KindEnd}, kinds(steps))
	init := steps[0].Op.(*Init)
	require.Len(t, init.Pushed, 1)
	assert.Equal(t, 1, init.Pushed[0].PKey)
}

func Test_Plan_IndexPushdown_DisabledWithoutIndex(t *testing.T) {
	pl := newTestPlanner(index.New(), Options{EnableIndex: true})
	plan := mustPlan(t, pl, `g.V().has("name", "marko")`)
	assert.Equal(t, []Kind{KindInit, KindHas, KindEnd}, kinds(plan.Queries[0].Steps))
}

func Test_Plan_Errors(t *testing.T) {
	pl := newTestPlanner(nil, Options{})
	bad := []string{
		`g.V().has("salary", 10)`,
		`g.V().hasLabel("robot")`,
		`g.V().out("likes")`,
		`g.E().out("knows")`,
		`g.V().values("name").values("name")`,
		`g.V().property("age", "old")`,
		`g.V().coin(7)`,
		`g.V().select("nothing")`,
		`g.V(y).count()`,
	}
	for _, input := range bad {
		lines, err := parser.Parse(input)
		require.NoError(t, err, input)
		_, err = pl.Plan(lines)
		assert.Error(t, err, "input %q", input)
	}
}

// Parse(serialize(plan)) == plan for every QueryPlan (§8 R3).
func Test_Plan_SerializeRoundTrip(t *testing.T) {
	pl := newTestPlanner(nil, Options{EnableStepReorder: true})
	inputs := []string{
		`g.V().has("name", "marko").out("knows").values("name")`,
		`g.V().union(out("knows"), in("created")).dedup().count()`,
		`g.V().hasLabel("person").as("p").out("created").order("name", decr).range(0, -1)`,
		`g.addV("person").property("name", "kate")`,
		`g.V().groupCount("name").cap("x")`,
		`g.E().values("weight").mean()`,
	}
	for _, input := range inputs {
		lines, err := parser.Parse(input)
		require.NoError(t, err, input)
		plan, err := pl.Plan(lines)
		if err != nil {
			// Lines using undefined side effects still exercise others.
			continue
		}
		for qi := range plan.Queries {
			qp := &plan.Queries[qi]
			data, err := Marshal(qp)
			require.NoError(t, err, input)
			got, err := Unmarshal(data)
			require.NoError(t, err, input)
			require.Equal(t, qp, got, "round trip of %q query %d", input, qi)
		}
	}
}
