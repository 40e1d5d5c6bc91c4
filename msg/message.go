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

// Package msg defines the unit of dataflow between operator experts: tagged
// tuple batches with routing metadata, fan-out path accounting, and branch
// bookkeeping.
package msg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ebay/gryphon/graph"
)

// Type tags a message's role in the pipeline.
type Type uint8

// The message types.
const (
	TypeInit Type = iota
	TypeSpawn
	TypeFeed
	TypeBarrier
	TypeBranch
	TypeExit
	TypeAbort
)

func (t Type) String() string {
	switch t {
	case TypeInit:
		return "INIT"
	case TypeSpawn:
		return "SPAWN"
	case TypeFeed:
		return "FEED"
	case TypeBarrier:
		return "BARRIER"
	case TypeBranch:
		return "BRANCH"
	case TypeExit:
		return "EXIT"
	case TypeAbort:
		return "ABORT"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// A HistoryEntry is one breadcrumb: the chain index of an as()/projection
// step and the value the element had there.
type HistoryEntry struct {
	Key   int
	Value graph.Value
}

// History is the ordered breadcrumb list accompanying each value batch.
type History []HistoryEntry

// Get returns the value recorded for a label-step key.
func (h History) Get(key int) (graph.Value, bool) {
	for _, entry := range h {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return graph.Value{}, false
}

// TruncateAfter drops every breadcrumb recorded after 'key', keeping the key
// itself. Barrier operators inside branches use this to collapse histories
// back to the branch point.
func (h History) TruncateAfter(key int) History {
	for i, entry := range h {
		if entry.Key == key {
			return h[:i+1]
		}
	}
	return h
}

// Clone copies the history so a branch can extend it independently.
func (h History) Clone() History {
	out := make(History, len(h))
	copy(out, h)
	return out
}

// BucketKey renders the history bucket identity over the given label-step keys; an
// empty key list means the whole history.
func (h History) BucketKey(keys []int) string {
	var b strings.Builder
	if len(keys) == 0 {
		for _, entry := range h {
			fmt.Fprintf(&b, "%d:", entry.Key)
			entry.Value.Key(&b)
			b.WriteByte('|')
		}
		return b.String()
	}
	for _, key := range keys {
		if value, ok := h.Get(key); ok {
			fmt.Fprintf(&b, "%d:", key)
			value.Key(&b)
			b.WriteByte('|')
		}
	}
	return b.String()
}

// A Pair is one history bucket and its values.
type Pair struct {
	History History
	Values  []graph.Value
}

// approxSize estimates wire size for payload splitting.
func (p *Pair) approxSize() int {
	size := 16
	for _, entry := range p.History {
		size += 8 + len(entry.Value.Content)
	}
	for _, value := range p.Values {
		size += 8 + len(value.Content)
	}
	return size
}

// BranchInfo records one level of branch nesting, pushed when a branch
// operator spawns sub-queries and popped when the collecting barrier fires.
type BranchInfo struct {
	// Chain index of the branch operator.
	Key int
	// Identity of the spawning message, scoping the barrier's accumulator.
	MsgID int
	// Which sub-query of the branch this message belongs to.
	Index int
	// The spawner's msg_path: the end path the branch collector reduces
	// to, counting one arrival per sub-branch.
	MsgPath string
	// The spawned messages' root path (MsgPath extended by the branch
	// count): the end path barriers inside the branch reduce to.
	SpawnPath string
	// Where the branch collector lives: the spawning worker and thread.
	Node   int
	Thread int
}

// Meta is the routing block of a message.
type Meta struct {
	QID  uint64
	Step int

	SenderNode   int
	SenderThread int
	RecverNode   int
	RecverThread int

	// The worker (and its collector thread) that owns the query's results.
	ParentNode   int
	ParentThread int

	Type Type

	// Fan-out encoding: one "\t"-separated count per split, reduced by
	// barrier collectors to detect completeness.
	Path string

	BranchInfos []BranchInfo
}

// A Message is a Meta plus its payload.
type Message struct {
	Meta Meta
	Data []Pair
}

// DataSize returns the approximate payload size in bytes.
func (m *Message) DataSize() int {
	size := 0
	for i := range m.Data {
		size += m.Data[i].approxSize()
	}
	return size
}

func (m *Message) String() string {
	return fmt.Sprintf("msg{qid=%d step=%d %v %d->%d path=%q pairs=%d}",
		m.Meta.QID, m.Meta.Step, m.Meta.Type,
		m.Meta.SenderNode, m.Meta.RecverNode, m.Meta.Path, len(m.Data))
}

// EndPath returns the root path of the innermost branch, or "" outside any
// branch. A barrier is complete when it has reduced Path back to this.
func (m *Meta) EndPath() string {
	if len(m.BranchInfos) == 0 {
		return ""
	}
	return m.BranchInfos[len(m.BranchInfos)-1].SpawnPath
}

// BarrierKey identifies the barrier accumulator this message feeds:
// (qid, branch msg id, branch index).
func (m *Meta) BarrierKey() string {
	branchMsg, branchIndex := -1, -1
	if len(m.BranchInfos) > 0 {
		top := m.BranchInfos[len(m.BranchInfos)-1]
		branchMsg, branchIndex = top.MsgID, top.Index
	}
	return fmt.Sprintf("%d/%d/%d/%d", m.QID, m.Step, branchMsg, branchIndex)
}

// extendPath appends a fan-out count to a path.
func extendPath(path string, fanout int) string {
	if path == "" {
		return strconv.Itoa(fanout)
	}
	return path + "\t" + strconv.Itoa(fanout)
}

// A PathCounter reduces message paths against fan-out counts. One counter
// lives in each barrier accumulator.
type PathCounter struct {
	counts map[string]int
}

// NewPathCounter returns an empty counter.
func NewPathCounter() *PathCounter {
	return &PathCounter{counts: make(map[string]int)}
}

// Collect folds one arriving message path into the counter. It returns true
// when every fanned-out message between endPath and this barrier has been
// seen, and resets the consumed counts so a short-circuited barrier chain
// can reuse the counter.
func (c *PathCounter) Collect(path, endPath string) bool {
	for path != endPath {
		i := strings.LastIndexByte(path, '\t')
		numStr := path[i+1:]
		num, err := strconv.Atoi(numStr)
		if err != nil {
			panic(fmt.Sprintf("msg: malformed path %q", path))
		}
		c.counts[path]++
		if c.counts[path] != num {
			return false
		}
		c.counts[path] = 0
		if i < 0 {
			path = ""
		} else {
			path = path[:i]
		}
	}
	return true
}
