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

package loader

import (
	"testing"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoaderStore() *storage.Store {
	return storage.New(storage.Options{
		RowPoolSize:     1 << 14,
		MVCCPoolSize:    1 << 16,
		ValueStoreItems: 1 << 16,
		Threads:         1,
		WorkerRank:      0,
		WorkerCount:     1,
	})
}

func Test_LoadStrings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteModern(dir))

	strs, err := LoadStrings(dir)
	require.NoError(t, err)

	id, ok := strs.LabelID(graph.Vertex, "person")
	require.True(t, ok)
	assert.Equal(t, graph.Label(1), id)
	assert.Equal(t, "person", strs.LabelName(graph.Vertex, 1))

	key, vt, ok := strs.PropKeyID(graph.Vertex, "age")
	require.True(t, ok)
	assert.Equal(t, graph.Label(2), key)
	assert.Equal(t, graph.TypeInt, vt)

	key, vt, ok = strs.PropKeyID(graph.Edge, "weight")
	require.True(t, ok)
	assert.Equal(t, graph.Label(1), key)
	assert.Equal(t, graph.TypeDouble, vt)

	_, _, ok = strs.PropKeyID(graph.Vertex, "salary")
	assert.False(t, ok)

	assert.Contains(t, strs.AvailPropKeys(graph.Vertex), "age")
	assert.Contains(t, strs.AvailLabels(graph.Edge), "knows")
}

func Test_Load_SingleWorker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteModern(dir))
	strs, err := LoadStrings(dir)
	require.NoError(t, err)

	store := newLoaderStore()
	stats, err := Load(dir, store, strs, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Vertices)
	assert.Equal(t, 6, stats.Edges)
	assert.Equal(t, 12, stats.VertexProps)
	assert.Equal(t, 6, stats.EdgeProps)

	const trx = 0x8000000000000001
	value, stat := store.GetVP(graph.NewVPID(6, 1), trx, 1, true)
	require.Equal(t, storage.ReadSuccess, stat)
	assert.Equal(t, "peter", value.String())

	weight, stat := store.GetEP(graph.NewEPID(graph.NewEID(1, 2), 1), trx, 1, true)
	require.Equal(t, storage.ReadSuccess, stat)
	assert.Equal(t, 0.5, weight.Double())
}

func Test_Load_Partitioned(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteModern(dir))
	strs, err := LoadStrings(dir)
	require.NoError(t, err)

	total := 0
	for rank := 0; rank < 2; rank++ {
		store := storage.New(storage.Options{
			RowPoolSize:     1 << 14,
			MVCCPoolSize:    1 << 16,
			ValueStoreItems: 1 << 16,
			Threads:         1,
			WorkerRank:      rank,
			WorkerCount:     2,
		})
		stats, err := Load(dir, store, strs, rank, 2)
		require.NoError(t, err)
		total += stats.Vertices
	}
	assert.Equal(t, 6, total, "each vertex loads on exactly one worker")
}
