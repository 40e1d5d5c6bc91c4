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
	"sync"
	"sync/atomic"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/storage/mempool"
)

// topologyRowCells is the edge-header capacity of one topology row.
const topologyRowCells = 8

// edgeHeader is one adjacency entry of a vertex. The version chain is the
// edge's single MVCC identity, shared with the edge map.
type edgeHeader struct {
	isOut bool
	label graph.Label
	conn  graph.VID
	mvcc  *MVCCList[EdgeMVCC]
}

// TopologyRow is a fixed-capacity chunk of adjacency entries.
type TopologyRow struct {
	cells [topologyRowCells]edgeHeader
	next  uint32
}

// A TopologyRowList is the per-vertex adjacency list: a chain of rows of
// edge headers. Same publication discipline as PropertyRowList: readers scan
// the first 'count' cells lock-free.
type TopologyRowList struct {
	pool *mempool.Pool[TopologyRow]

	count atomic.Int32

	lock sync.Mutex
	head uint32
	tail uint32
}

// NewTopologyRowList returns an empty adjacency list drawing rows from the
// pool.
func NewTopologyRowList(pool *mempool.Pool[TopologyRow]) *TopologyRowList {
	return &TopologyRowList{
		pool: pool,
		head: mempool.NilOffset,
		tail: mempool.NilOffset,
	}
}

func (l *TopologyRowList) cellAt(i int) *edgeHeader {
	off := l.head
	for i >= topologyRowCells {
		off = l.pool.Item(off).next
		i -= topologyRowCells
	}
	return &l.pool.Item(off).cells[i]
}

// appendCell links a new adjacency entry. The count increment publishes it.
func (l *TopologyRowList) appendCell(isOut bool, label graph.Label, conn graph.VID,
	mvcc *MVCCList[EdgeMVCC], tid int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	n := int(l.count.Load())
	if n%topologyRowCells == 0 {
		rowOff := l.pool.Get(tid)
		row := l.pool.Item(rowOff)
		*row = TopologyRow{next: mempool.NilOffset}
		if l.tail == mempool.NilOffset {
			l.head = rowOff
		} else {
			l.pool.Item(l.tail).next = rowOff
		}
		l.tail = rowOff
	}
	cell := &l.pool.Item(l.tail).cells[n%topologyRowCells]
	*cell = edgeHeader{isOut: isOut, label: label, conn: conn, mvcc: mvcc}
	l.count.Store(int32(n + 1))
}

// InsertInitialCell records an adjacency during loading, sharing the edge's
// version chain.
func (l *TopologyRowList) InsertInitialCell(isOut bool, label graph.Label, conn graph.VID,
	mvcc *MVCCList[EdgeMVCC], tid int) {
	l.appendCell(isOut, label, conn, mvcc, tid)
}

// ProcessAddEdge records a new adjacency whose version chain already holds
// the transaction's uncommitted version.
func (l *TopologyRowList) ProcessAddEdge(isOut bool, label graph.Label, conn graph.VID,
	mvcc *MVCCList[EdgeMVCC], tid int) {
	l.appendCell(isOut, label, conn, mvcc, tid)
}

// ConnectedVertices returns neighbor vids reachable in the given direction
// whose edge is visible and whose label matches (wildcard when label is 0).
func (l *TopologyRowList) ConnectedVertices(dir graph.Direction, label graph.Label,
	trxID, bt uint64, readOnly bool) ([]graph.VID, ReadStat) {
	n := int(l.count.Load())
	var out []graph.VID
	for i := 0; i < n; i++ {
		cell := l.cellAt(i)
		if !matchDirection(cell.isOut, dir) {
			continue
		}
		version, stat := cell.mvcc.VisibleVersion(trxID, bt, readOnly)
		if stat == ReadAbort {
			return nil, ReadAbort
		}
		if stat != ReadSuccess || !version.Exists {
			continue
		}
		if label != 0 && version.Label != label {
			continue
		}
		out = append(out, cell.conn)
	}
	return out, ReadSuccess
}

// ConnectedEdges returns the eids of visible edges in the given direction,
// from the perspective of vertex 'self'.
func (l *TopologyRowList) ConnectedEdges(self graph.VID, dir graph.Direction, label graph.Label,
	trxID, bt uint64, readOnly bool) ([]graph.EID, ReadStat) {
	n := int(l.count.Load())
	var out []graph.EID
	for i := 0; i < n; i++ {
		cell := l.cellAt(i)
		if !matchDirection(cell.isOut, dir) {
			continue
		}
		version, stat := cell.mvcc.VisibleVersion(trxID, bt, readOnly)
		if stat == ReadAbort {
			return nil, ReadAbort
		}
		if stat != ReadSuccess || !version.Exists {
			continue
		}
		if label != 0 && version.Label != label {
			continue
		}
		if cell.isOut {
			out = append(out, graph.NewEID(self, cell.conn))
		} else {
			out = append(out, graph.NewEID(cell.conn, self))
		}
	}
	return out, ReadSuccess
}

func matchDirection(isOut bool, dir graph.Direction) bool {
	switch dir {
	case graph.DirOut:
		return isOut
	case graph.DirIn:
		return !isOut
	case graph.DirBoth:
		return true
	}
	return false
}
