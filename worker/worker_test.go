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

package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/ebay/gryphon/config"
	"github.com/ebay/gryphon/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newModernCluster spins up an in-process cluster over the modern graph.
func newModernCluster(t *testing.T, workers int, isolation string) *Cluster {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, loader.WriteModern(dir))
	cfg := &config.Gryphon{
		DataRoot:      dir,
		ExpertThreads: 2,
		Isolation:     isolation,
	}
	cfg.ApplyDefaults()
	cluster, err := NewCluster(cfg, workers)
	require.NoError(t, err)
	cluster.Start()
	t.Cleanup(cluster.Stop)
	return cluster
}

func run(t *testing.T, c *Cluster, trx string) *Reply {
	t.Helper()
	return c.Execute(context.Background(), 0, trx)
}

func requireCommitted(t *testing.T, reply *Reply) {
	t.Helper()
	require.False(t, reply.Aborted, "unexpected abort: %s", reply.Reason)
}

// values strips the per-query headers out of a reply.
func values(reply *Reply) []string {
	var out []string
	for _, r := range reply.Results {
		if len(r) >= 6 && r[:5] == "Query" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// §8 scenario 1.
func Test_E2E_TraversalValues(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "marko").out("knows").values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"vadas", "josh"}, values(reply))
	assert.Greater(t, reply.Latency, int64(0))
}

func Test_E2E_Count(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"6"}, values(reply))

	reply = run(t, c, `g.E().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"6"}, values(reply))
}

// §8 scenario 5.
func Test_E2E_DedupCount(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().out().dedup().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"4"}, values(reply))
}

// §8 scenario 3, driven through the full pipeline.
func Test_E2E_AddVertex(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.addV("person").property("name", "kate")`)
	requireCommitted(t, reply)

	reply = run(t, c, `g.V().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"7"}, values(reply))

	reply = run(t, c, `g.V().has("name", "kate").values("name")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"kate"}, values(reply))
}

// §8 scenario 4.
func Test_E2E_DropAll(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().drop()`)
	requireCommitted(t, reply)

	reply = run(t, c, `g.V().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"0"}, values(reply))

	reply = run(t, c, `g.E().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"0"}, values(reply))
}

func Test_E2E_PropertyUpdate(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "peter").property("age", 42)`)
	requireCommitted(t, reply)

	reply = run(t, c, `g.V().has("name", "peter").values("age")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"42"}, values(reply))
}

func Test_E2E_OrderAndRange(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().values("age").order(incr)`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"27", "29", "32", "35"}, values(reply))

	reply = run(t, c, `g.V().values("age").order(decr).limit(2)`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"35", "32"}, values(reply))

	reply = run(t, c, `g.V().values("age").order(incr).range(0, -1)`)
	requireCommitted(t, reply)
	assert.Len(t, values(reply), 4)

	reply = run(t, c, `g.V().values("age").order(incr).skip(3)`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"35"}, values(reply))
}

func Test_E2E_OrderByKey(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().hasLabel("person").order("age", decr).values("name")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"peter", "josh", "marko", "vadas"}, values(reply))
}

func Test_E2E_Math(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().values("age").mean()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"30.75"}, values(reply))

	reply = run(t, c, `g.V().values("age").sum()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"123"}, values(reply))

	reply = run(t, c, `g.V().values("age").max()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"35"}, values(reply))

	reply = run(t, c, `g.E().values("weight").min()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"0.2"}, values(reply))
}

func Test_E2E_HasLabel(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().hasLabel("software").count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"2"}, values(reply))
}

func Test_E2E_HasPredicates(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("age", gt(29)).values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"josh", "peter"}, values(reply))

	reply = run(t, c, `g.V().has("age", inside(27, 33)).count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"2"}, values(reply))

	reply = run(t, c, `g.V().hasNot("age").count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"2"}, values(reply))

	reply = run(t, c, `g.V().has("age", within(27, 35)).count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"2"}, values(reply))
}

func Test_E2E_Union(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "marko").union(out("knows"), out("created")).count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"3"}, values(reply))
}

func Test_E2E_WhereSubquery(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	// Only marko has outgoing "knows" edges.
	reply := run(t, c, `g.V().where(out("knows").count().is(gte(1))).values("name")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"marko"}, values(reply))
}

func Test_E2E_AndOrNot(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().and(has("age", gt(28)), out("created").count().is(gt(0))).values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"marko", "josh", "peter"}, values(reply))

	reply = run(t, c, `g.V().hasLabel("person").not(out("knows").count().is(gt(0))).values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"vadas", "josh", "peter"}, values(reply))
}

func Test_E2E_AsSelect(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "marko").as("a").out("knows").select("a").values("name")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"marko", "marko"}, values(reply))
}

func Test_E2E_AggregateCap(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "marko").out("knows").values("name").aggregate("x").cap("x")`)
	requireCommitted(t, reply)
	vals := values(reply)
	require.NotEmpty(t, vals)
	joined := ""
	for _, v := range vals {
		joined += v
	}
	assert.Contains(t, joined, "x:[")
	assert.Contains(t, joined, "vadas")
	assert.Contains(t, joined, "josh")
}

func Test_E2E_GroupCount(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().groupCount("label")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"person:4", "software:2"}, values(reply))
}

func Test_E2E_Properties(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "peter").properties()`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"{name:peter}", "{age:35}"}, values(reply))

	reply = run(t, c, `g.V().has("name", "peter").properties("age").key()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"age"}, values(reply))
}

func Test_E2E_DropProperty(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "peter").properties("age").drop()`)
	requireCommitted(t, reply)

	reply = run(t, c, `g.V().hasNot("age").count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"3"}, values(reply))

	reply = run(t, c, `g.V().has("name", "peter").values("name")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"peter"}, values(reply))
}

func Test_E2E_LabelStep(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("name", "lop").label()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"software"}, values(reply))
}

func Test_E2E_EdgeValues(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.E().values("weight").count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"6"}, values(reply))

	reply = run(t, c, `g.V().has("name", "marko").outE("knows").inV().values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"vadas", "josh"}, values(reply))
}

func Test_E2E_Placeholders(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `x = g.V().hasLabel("person"); g.V(x).count()`)
	requireCommitted(t, reply)
	vals := values(reply)
	require.NotEmpty(t, vals)
	assert.Equal(t, "4", vals[len(vals)-1])
}

func Test_E2E_AddEdge(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `
a = g.V().has("name", "vadas");
b = g.V().has("name", "lop");
g.addE("created").from(a).to(b)`)
	requireCommitted(t, reply)

	reply = run(t, c, `g.V().has("name", "vadas").out("created").values("name")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"lop"}, values(reply))
}

func Test_E2E_ParseErrorSurfaces(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().has("salary", 10)`)
	assert.True(t, reply.Aborted)
	assert.Contains(t, reply.Reason, "salary")

	reply = run(t, c, `g.teleport()`)
	assert.True(t, reply.Aborted)
}

func Test_E2E_BuildIndexAndPushdown(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `SetConfig("indexing", "enable")`)
	requireCommitted(t, reply)
	reply = run(t, c, `BuildIndex(V, "name")`)
	requireCommitted(t, reply)

	reply = run(t, c, `g.V().has("name", "marko").out("knows").values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"vadas", "josh"}, values(reply))
}

func Test_E2E_Coin(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `g.V().coin(1.0).count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"6"}, values(reply))

	reply = run(t, c, `g.V().coin(0.0).count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"0"}, values(reply))
}

func Test_E2E_ConcurrentWriters(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	const writers = 8
	var wg sync.WaitGroup
	aborts := 0
	var lock sync.Mutex
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := c.Execute(context.Background(), 0,
				`g.V().has("name", "peter").property("age", 42)`)
			if reply.Aborted {
				lock.Lock()
				aborts++
				lock.Unlock()
				assert.Contains(t, reply.Reason, "Abort")
			}
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the final state is consistent.
	reply := run(t, c, `g.V().has("name", "peter").values("age")`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"42"}, values(reply))
	t.Logf("%d of %d writers aborted", aborts, writers)
}

func Test_E2E_MultiWorker(t *testing.T) {
	c := newModernCluster(t, 2, config.SnapshotIsolation)

	reply := run(t, c, `g.V().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"6"}, values(reply))

	reply = run(t, c, `g.V().has("name", "marko").out("knows").values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"vadas", "josh"}, values(reply))

	reply = run(t, c, `g.V().out().dedup().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"4"}, values(reply))

	reply = run(t, c, `g.addV("person").property("name", "kate")`)
	requireCommitted(t, reply)
	reply = run(t, c, `g.V().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"7"}, values(reply))

	// Transactions may originate at any worker.
	reply = c.Execute(context.Background(), 1, `g.V().hasLabel("software").count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"2"}, values(reply))

	reply = run(t, c, `g.V().drop()`)
	requireCommitted(t, reply)
	reply = run(t, c, `g.V().count()`)
	requireCommitted(t, reply)
	assert.Equal(t, []string{"0"}, values(reply))
}

func Test_E2E_Serializable(t *testing.T) {
	c := newModernCluster(t, 1, config.Serializable)
	reply := run(t, c, `g.V().has("name", "marko").out("knows").values("name")`)
	requireCommitted(t, reply)
	assert.ElementsMatch(t, []string{"vadas", "josh"}, values(reply))

	reply = run(t, c, `g.V().has("name", "peter").property("age", 42)`)
	requireCommitted(t, reply)
}

func Test_E2E_MultiLineDependencies(t *testing.T) {
	c := newModernCluster(t, 1, config.SnapshotIsolation)
	reply := run(t, c, `
g.V().count();
g.V().has("name", "peter").property("age", 40);
g.V().has("name", "peter").values("age")`)
	requireCommitted(t, reply)
	vals := values(reply)
	// Line 1's count, line 2's written element, line 3's read.
	require.Len(t, vals, 3)
	assert.Equal(t, "6", vals[0])
	// The read-only line after the update sees the in-flight write.
	assert.Equal(t, "40", vals[2])
}
