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

package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ebay/gryphon/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(Options{
		RowPoolSize:     1 << 14,
		MVCCPoolSize:    1 << 16,
		ValueStoreItems: 1 << 16,
		Threads:         8,
		WorkerRank:      0,
		WorkerCount:     1,
	})
}

// loadModern installs the 6-vertex TinkerPop modern graph. Labels: person=1,
// software=2; edge labels knows=1, created=2; property keys name=1, age=2,
// lang=3, weight=1.
func loadModern(t *testing.T, s *Store) {
	t.Helper()
	people := map[graph.VID]string{1: "marko", 2: "vadas", 4: "josh", 6: "peter"}
	software := map[graph.VID]string{3: "lop", 5: "ripple"}
	ages := map[graph.VID]int64{1: 29, 2: 27, 4: 32, 6: 35}

	for vid := range people {
		s.LoadVertex(vid, 1, 0)
	}
	for vid := range software {
		s.LoadVertex(vid, 2, 0)
	}
	for vid, name := range people {
		s.LoadVP(graph.NewVPID(vid, 1), graph.StringValue(name), 0)
		s.LoadVP(graph.NewVPID(vid, 2), graph.IntValue(ages[vid]), 0)
	}
	for vid, name := range software {
		s.LoadVP(graph.NewVPID(vid, 1), graph.StringValue(name), 0)
		s.LoadVP(graph.NewVPID(vid, 3), graph.StringValue("java"), 0)
	}

	type e struct {
		out, in graph.VID
		label   graph.Label
		weight  float64
	}
	edges := []e{
		{1, 2, 1, 0.5}, {1, 4, 1, 1.0}, // marko knows vadas, josh
		{1, 3, 2, 0.4},                 // marko created lop
		{4, 5, 2, 1.0}, {4, 3, 2, 0.4}, // josh created ripple, lop
		{6, 3, 2, 0.2}, // peter created lop
	}
	for _, edge := range edges {
		eid := graph.NewEID(edge.out, edge.in)
		s.LoadEdge(eid, edge.label, 0)
		s.LoadEP(graph.NewEPID(eid, 1), graph.DoubleValue(edge.weight), 0)
	}
}

func Test_Store_LoadAndRead(t *testing.T) {
	s := newTestStore(t)
	loadModern(t, s)

	const trx = 0x8000000000000001
	value, stat := s.GetVP(graph.NewVPID(6, 1), trx, 1, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, "peter", value.String())

	label, stat := s.GetVL(1, trx, 1, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, graph.Label(1), label)

	vids, stat := s.AllVertices(trx, 1, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, []graph.VID{1, 2, 3, 4, 5, 6}, vids)

	eids, stat := s.AllEdges(trx, 1, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Len(t, eids, 6)

	// marko's out-neighbors over "knows".
	nbs, stat := s.ConnectedVertices(1, graph.DirOut, 1, trx, 1, true)
	require.Equal(t, ReadSuccess, stat)
	assert.ElementsMatch(t, []graph.VID{2, 4}, nbs)

	// Edge property read through the topology chain.
	weight, stat := s.GetEP(graph.NewEPID(graph.NewEID(1, 2), 1), trx, 1, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, 0.5, weight.Double())
}

// §8 scenario 2: two transactions race on vertex 6's age; the loser sees
// the uncommitted tail and conflicts.
func Test_Store_WriteWriteConflict(t *testing.T) {
	s := newTestStore(t)
	loadModern(t, s)

	const trxA = 0x8000000000000001
	const trxB = 0x8000000000000002
	pid := graph.NewVPID(6, 2)

	require.Equal(t, WriteOK, s.ProcessModifyVP(pid, graph.IntValue(42), trxA, 10, 0))
	assert.Equal(t, WriteConflict, s.ProcessModifyVP(pid, graph.IntValue(42), trxB, 11, 1))

	s.Commit(trxA, 12)
	value, stat := s.GetVP(pid, 0x8000000000000003, 12, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, int64(42), value.Int())

	// B still conflicts after A committed past B's begin time.
	assert.Equal(t, WriteConflict, s.ProcessModifyVP(pid, graph.IntValue(42), trxB, 11, 1))
	s.Abort(trxB, 1)
}

// §8 scenario 3: a vertex added at CT=101 is visible at BT=102 and not at
// BT=99.
func Test_Store_AddVertexVisibility(t *testing.T) {
	s := newTestStore(t)
	loadModern(t, s)

	const trx = 0x8000000000000010
	vid := s.ProcessAddVertex(1, trx, 100, 0)
	require.Equal(t, WriteOK, s.ProcessModifyVP(graph.NewVPID(vid, 1), graph.StringValue("kate"), trx, 100, 0))
	s.Commit(trx, 101)

	exists, stat := s.VertexExists(vid, 0x8000000000000011, 102, true)
	require.Equal(t, ReadSuccess, stat)
	assert.True(t, exists)

	exists, stat = s.VertexExists(vid, 0x8000000000000012, 99, true)
	require.Equal(t, ReadSuccess, stat)
	assert.False(t, exists)

	name, stat := s.GetVP(graph.NewVPID(vid, 1), 0x8000000000000011, 102, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, "kate", name.String())
}

// §8 scenario 4: dropping all vertices flips counts across the commit time.
func Test_Store_DropVertexVisibility(t *testing.T) {
	s := newTestStore(t)
	loadModern(t, s)

	const trx = 0x8000000000000020
	const ct = 50
	vids, stat := s.AllVertices(trx, 10, false)
	require.Equal(t, ReadSuccess, stat)
	for _, vid := range vids {
		eids, wstat := s.ProcessDropVertex(vid, trx, 10, 0)
		require.Equal(t, WriteOK, wstat)
		for _, eid := range eids {
			// An edge this transaction already dropped reads as absent, so
			// the second endpoint's drop does not list it again.
			require.Equal(t, WriteOK, s.ProcessDropEdge(eid, trx, 10, 0))
		}
	}
	s.Commit(trx, ct)

	after, stat := s.AllVertices(0x8000000000000021, ct, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Empty(t, after)

	before, stat := s.AllVertices(0x8000000000000022, ct-1, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Len(t, before, 6)

	edgesAfter, stat := s.AllEdges(0x8000000000000023, ct, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Empty(t, edgesAfter)
}

// §8 V4: racing writers of the same new property key end up sharing one
// cell.
func Test_Store_NoDuplicateCells(t *testing.T) {
	s := newTestStore(t)
	s.LoadVertex(1, 1, 0)

	const writers = 8
	pid := graph.NewVPID(1, 5)
	var wg sync.WaitGroup
	stats := make([]WriteStat, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trx := 0x8000000000000030 + uint64(i)
			stats[i] = s.ProcessModifyVP(pid, graph.IntValue(int64(i)), trx, 10, i)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, stat := range stats {
		if stat == WriteOK {
			winners++
			s.Commit(0x8000000000000030+uint64(i), 20)
		}
	}
	require.Equal(t, 1, winners, "exactly one racing writer wins the cell")

	v := s.vertex(1)
	assert.Equal(t, 1, v.VPRows.PropertyCount())
}

func Test_Store_AbortReleasesValueCells(t *testing.T) {
	s := newTestStore(t)
	loadModern(t, s)
	baseline := s.vpStore.Outstanding()

	const trx = 0x8000000000000040
	require.Equal(t, WriteOK,
		s.ProcessModifyVP(graph.NewVPID(6, 1), graph.StringValue("someone-else"), trx, 10, 0))
	require.Greater(t, s.vpStore.Outstanding(), baseline)
	s.Abort(trx, 0)
	assert.Equal(t, baseline, s.vpStore.Outstanding())

	// The old value is intact.
	value, stat := s.GetVP(graph.NewVPID(6, 1), 0x8000000000000041, 20, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, "peter", value.String())
}

func Test_Store_PropertyDelete(t *testing.T) {
	s := newTestStore(t)
	loadModern(t, s)

	const trx = 0x8000000000000050
	// Zero value writes a logical delete.
	require.Equal(t, WriteOK, s.ProcessModifyVP(graph.NewVPID(6, 1), graph.Value{}, trx, 10, 0))
	s.Commit(trx, 11)

	_, stat := s.GetVP(graph.NewVPID(6, 1), 0x8000000000000051, 11, true)
	assert.Equal(t, ReadNotFound, stat)

	// Older snapshots still see it.
	value, stat := s.GetVP(graph.NewVPID(6, 1), 0x8000000000000052, 10, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, "peter", value.String())
}

func Test_Store_AddEdge(t *testing.T) {
	s := newTestStore(t)
	loadModern(t, s)

	const trx = 0x8000000000000060
	eid := graph.NewEID(2, 3) // vadas -> lop
	require.Equal(t, WriteOK, s.ProcessAddEdge(eid, 2, trx, 10, 0))
	s.Commit(trx, 11)

	nbs, stat := s.ConnectedVertices(2, graph.DirOut, 2, 0x8000000000000061, 11, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Equal(t, []graph.VID{3}, nbs)

	// Not visible before the commit.
	nbs, stat = s.ConnectedVertices(2, graph.DirOut, 2, 0x8000000000000062, 10, true)
	require.Equal(t, ReadSuccess, stat)
	assert.Empty(t, nbs)
}

func Test_Store_PropertyRowIndexMaterializes(t *testing.T) {
	s := newTestStore(t)
	s.LoadVertex(1, 1, 0)
	// More properties than one row holds forces the pkey index into
	// existence; lookups must still agree.
	for pkey := graph.Label(1); pkey <= propertyRowCells+3; pkey++ {
		s.LoadVP(graph.NewVPID(1, pkey), graph.IntValue(int64(pkey)), 0)
	}
	v := s.vertex(1)
	require.NotNil(t, v.VPRows.index.Load())
	for pkey := graph.Label(1); pkey <= propertyRowCells+3; pkey++ {
		value, stat := s.GetVP(graph.NewVPID(1, pkey), 0x8000000000000070, 1, true)
		require.Equal(t, ReadSuccess, stat, "pkey %d", pkey)
		assert.Equal(t, int64(pkey), value.Int())
	}
}

func Test_Store_RWRecord(t *testing.T) {
	s := newTestStore(t)
	const trx = 0x8000000000000080
	s.PushToRWRecord(trx, 3, true)
	s.PushToRWRecord(trx, 2, false)
	s.PushToRWRecord(trx, 1, true)
	reads, writes := s.RWRecord(trx)
	assert.Equal(t, int64(4), reads)
	assert.Equal(t, int64(2), writes)
}

func Test_Store_AssignVID_Partitioned(t *testing.T) {
	s := New(Options{
		RowPoolSize:     1 << 12,
		MVCCPoolSize:    1 << 12,
		ValueStoreItems: 1 << 12,
		Threads:         1,
		WorkerRank:      2,
		WorkerCount:     3,
	})
	for i := 0; i < 5; i++ {
		vid := s.AssignVID()
		assert.Equal(t, 2, vid.Worker(3), fmt.Sprintf("vid %d", vid))
	}
}
