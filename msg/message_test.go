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

package msg

import (
	"testing"

	"github.com/ebay/gryphon/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_PathCounter_SingleLevel(t *testing.T) {
	c := NewPathCounter()
	// Three INIT messages fanned out with path "3": ready on the third.
	assert.False(t, c.Collect("3", ""))
	assert.False(t, c.Collect("3", ""))
	assert.True(t, c.Collect("3", ""))
}

func Test_PathCounter_Nested(t *testing.T) {
	c := NewPathCounter()
	// Fan-out of 2, each split again into 2: four leaves total.
	assert.False(t, c.Collect("2\t2", ""))
	assert.True(t, c.Collect("2\t2", "2"), "one subtree complete relative to end path 2")

	c = NewPathCounter()
	assert.False(t, c.Collect("2\t2", ""))
	assert.False(t, c.Collect("2\t2", ""))
	assert.False(t, c.Collect("2\t3", ""))
	assert.False(t, c.Collect("2\t3", ""))
	assert.True(t, c.Collect("2\t3", ""))
}

func Test_PathCounter_UnevenTree(t *testing.T) {
	c := NewPathCounter()
	// Root split 2: left arrives whole, right split 3.
	assert.False(t, c.Collect("2", ""))
	assert.False(t, c.Collect("2\t3", ""))
	assert.False(t, c.Collect("2\t3", ""))
	assert.True(t, c.Collect("2\t3", ""))
}

func Test_CreateInitMessages(t *testing.T) {
	seed := []Pair{{Values: []graph.Value{graph.IntValue(6)}}}
	msgs := CreateInitMessages(7, 1, 0, 3, 2, seed)
	require.Len(t, msgs, 3)
	for node, m := range msgs {
		assert.Equal(t, uint64(7), m.Meta.QID)
		assert.Equal(t, node, m.Meta.RecverNode)
		assert.Equal(t, 2, m.Meta.RecverThread)
		assert.Equal(t, 1, m.Meta.ParentNode)
		assert.Equal(t, "3", m.Meta.Path)
		assert.Equal(t, TypeInit, m.Meta.Type)
	}
	// Seed payload lands only on the parent worker.
	assert.Empty(t, msgs[0].Data)
	assert.Len(t, msgs[1].Data, 1)
}

func Test_CreateNextMessages_PartitionsByRoute(t *testing.T) {
	parent := &Message{Meta: Meta{QID: 9, Path: "2", RecverNode: 0, RecverThread: 1}}
	routed := []Routed{
		{Route{Node: 0, Thread: 0}, Pair{Values: []graph.Value{graph.UintValue(0)}}},
		{Route{Node: 1, Thread: 0}, Pair{Values: []graph.Value{graph.UintValue(1)}}},
		{Route{Node: 0, Thread: 0}, Pair{Values: []graph.Value{graph.UintValue(2)}}},
	}
	msgs := CreateNextMessages(parent, 3, routed, TypeFeed, 1<<20, Route{})
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, msgs[0].Meta.RecverNode)
	assert.Len(t, msgs[0].Data, 2)
	assert.Equal(t, 1, msgs[1].Meta.RecverNode)
	assert.Len(t, msgs[1].Data, 1)
	for _, m := range msgs {
		assert.Equal(t, "2\t2", m.Meta.Path)
		assert.Equal(t, 3, m.Meta.Step)
	}
}

func Test_CreateNextMessages_EmptyStillReportsPath(t *testing.T) {
	parent := &Message{Meta: Meta{QID: 9, Path: "4"}}
	msgs := CreateNextMessages(parent, 2, nil, TypeFeed, 1<<20, Route{Node: 0, Thread: 0})
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Data)
	assert.Equal(t, "4\t1", msgs[0].Meta.Path)
}

func Test_CreateNextMessages_SplitsBySize(t *testing.T) {
	parent := &Message{Meta: Meta{QID: 9, Path: "1"}}
	var routed []Routed
	for i := 0; i < 100; i++ {
		routed = append(routed, Routed{
			Route{Node: 0, Thread: 0},
			Pair{Values: []graph.Value{graph.StringValue("payload-payload")}},
		})
	}
	msgs := CreateNextMessages(parent, 1, routed, TypeFeed, 512, Route{})
	require.Greater(t, len(msgs), 1)
	total := 0
	for _, m := range msgs {
		total += len(m.Data)
		assert.Equal(t, extendPath("1", len(msgs)), m.Meta.Path)
	}
	assert.Equal(t, 100, total)
}

func Test_CreateBranchMessages(t *testing.T) {
	parent := &Message{
		Meta: Meta{QID: 5, Path: "2\t3", RecverNode: 1, RecverThread: 2},
		Data: []Pair{{Values: []graph.Value{graph.IntValue(1)}}},
	}
	msgs := CreateBranchMessages(parent, 4, []int{5, 8}, 77)
	require.Len(t, msgs, 2)
	for i, m := range msgs {
		require.Len(t, m.Meta.BranchInfos, 1)
		info := m.Meta.BranchInfos[0]
		assert.Equal(t, 4, info.Key)
		assert.Equal(t, 77, info.MsgID)
		assert.Equal(t, i, info.Index)
		assert.Equal(t, "2\t3", info.MsgPath)
		assert.Equal(t, "2\t3\t2", m.Meta.Path)
		assert.Equal(t, []int{5, 8}[i], m.Meta.Step)
		// Payload is cloned, not shared.
		m.Data[0].Values[0] = graph.IntValue(99)
	}
	assert.Equal(t, int64(1), parent.Data[0].Values[0].Int())
}

func Test_History_Bucketing(t *testing.T) {
	h := History{
		{Key: 1, Value: graph.StringValue("marko")},
		{Key: 3, Value: graph.IntValue(29)},
	}
	v, ok := h.Get(3)
	require.True(t, ok)
	assert.Equal(t, int64(29), v.Int())
	_, ok = h.Get(2)
	assert.False(t, ok)

	assert.Equal(t, h.BucketKey([]int{1}), h.BucketKey([]int{1}))
	assert.NotEqual(t, h.BucketKey([]int{1}), h.BucketKey([]int{3}))

	truncated := h.TruncateAfter(1)
	assert.Len(t, truncated, 1)
}

func Test_AbortMessage(t *testing.T) {
	parent := &Message{Meta: Meta{QID: 5, RecverNode: 2, ParentNode: 0, ParentThread: 9}}
	m := CreateAbortMessage(parent, "Abort with [Processing][TryModifyVP]")
	assert.Equal(t, TypeAbort, m.Meta.Type)
	assert.Equal(t, 0, m.Meta.RecverNode)
	assert.Equal(t, 9, m.Meta.RecverThread)
	require.Len(t, m.Data, 1)
	assert.Contains(t, m.Data[0].Values[0].String(), "Abort")
}
