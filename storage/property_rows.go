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

	"github.com/ebay/gryphon/storage/mempool"
)

// propertyRowCells is the cell capacity of one property row.
const propertyRowCells = 8

// propertyCell holds one property of one element. Once allocated, a cell is
// never moved or reclaimed; only its version chain grows.
type propertyCell struct {
	pid  uint64
	mvcc *MVCCList[PropertyMVCC]
}

// PropertyRow is a fixed-capacity chunk of property cells, pool-allocated
// and chained through a pool offset.
type PropertyRow struct {
	cells [propertyRowCells]propertyCell
	next  uint32
}

// A PropertyRowList is the per-element chain of property rows. Readers scan
// the first 'count' cells without the lock; writers append under it. Once
// the list outgrows one row, a pkey → cell map is materialized to make
// lookups O(1).
type PropertyRowList struct {
	pool *mempool.Pool[PropertyRow]

	count atomic.Int32

	lock sync.Mutex
	head uint32
	tail uint32
	// Built under lock once count exceeds one row; read via atomic pointer.
	index atomic.Pointer[map[uint64]*propertyCell]
}

// NewPropertyRowList returns an empty row list drawing rows from the pool.
func NewPropertyRowList(pool *mempool.Pool[PropertyRow]) *PropertyRowList {
	return &PropertyRowList{
		pool: pool,
		head: mempool.NilOffset,
		tail: mempool.NilOffset,
	}
}

// cellAt returns the i-th cell. Rows hold propertyRowCells cells each.
// Callers pass i < count, which guarantees the row chain reaches it.
func (l *PropertyRowList) cellAt(i int) *propertyCell {
	off := l.head
	for i >= propertyRowCells {
		off = l.pool.Item(off).next
		i -= propertyRowCells
	}
	return &l.pool.Item(off).cells[i]
}

// locateCell finds the cell for pid, or nil. Lock-free: it snapshots count
// and consults the index map if one has been published.
func (l *PropertyRowList) locateCell(pid uint64) *propertyCell {
	if idx := l.index.Load(); idx != nil {
		return (*idx)[pid]
	}
	n := int(l.count.Load())
	for i := 0; i < n; i++ {
		cell := l.cellAt(i)
		if cell.pid == pid {
			return cell
		}
	}
	return nil
}

// allocateCell returns the cell for pid, creating it if needed. A cell
// becomes visible to readers only after its version chain is linked, by the
// count increment at the end.
func (l *PropertyRowList) allocateCell(pid uint64, mvcc *MVCCList[PropertyMVCC], tid int) *propertyCell {
	l.lock.Lock()
	defer l.lock.Unlock()

	// Re-check under the lock; a racing thread may have allocated it.
	n := int(l.count.Load())
	for i := 0; i < n; i++ {
		cell := l.cellAt(i)
		if cell.pid == pid {
			return cell
		}
	}

	if n%propertyRowCells == 0 {
		rowOff := l.pool.Get(tid)
		row := l.pool.Item(rowOff)
		*row = PropertyRow{next: mempool.NilOffset}
		if l.tail == mempool.NilOffset {
			l.head = rowOff
		} else {
			l.pool.Item(l.tail).next = rowOff
		}
		l.tail = rowOff
	}

	cell := &l.pool.Item(l.tail).cells[n%propertyRowCells]
	cell.pid = pid
	cell.mvcc = mvcc
	l.count.Store(int32(n + 1))

	if n+1 > propertyRowCells {
		l.rebuildIndex(n + 1)
	} else if idx := l.index.Load(); idx != nil {
		l.rebuildIndex(n + 1)
	}
	return cell
}

// rebuildIndex republishes the pkey → cell map. Called with the lock held.
func (l *PropertyRowList) rebuildIndex(n int) {
	idx := make(map[uint64]*propertyCell, n)
	for i := 0; i < n; i++ {
		cell := l.cellAt(i)
		idx[cell.pid] = cell
	}
	l.index.Store(&idx)
}

// InsertInitialProperty installs a committed property during loading.
func (l *PropertyRowList) InsertInitialProperty(pid uint64, header ValueHeader,
	mvccPool *mempool.Pool[mvccItem[PropertyMVCC]], tid int) {
	mvcc := NewMVCCList(mvccPool)
	mvcc.AppendInitialVersion(PropertyMVCC{Header: header}, tid)
	l.allocateCell(pid, mvcc, tid)
}

// ModifyProperty appends an uncommitted version holding 'header' for the
// property, allocating the cell on first write. It returns the version chain
// for the transaction's process list and whether the property already
// existed.
func (l *PropertyRowList) ModifyProperty(pid uint64, header ValueHeader,
	trxID, bt uint64, mvccPool *mempool.Pool[mvccItem[PropertyMVCC]],
	tid int) (list *MVCCList[PropertyMVCC], existed bool, stat WriteStat) {

	cell := l.locateCell(pid)
	if cell == nil {
		mvcc := NewMVCCList(mvccPool)
		slot, _ := mvcc.AppendVersion(trxID, bt, tid)
		slot.Header = header
		cell = l.allocateCell(pid, mvcc, tid)
		if cell.mvcc != mvcc {
			// Lost the allocation race; release the orphan version and retry
			// through the winner's chain.
			mvcc.AbortVersion(trxID, tid)
			slot, stat := cell.mvcc.AppendVersion(trxID, bt, tid)
			if stat != WriteOK {
				return nil, true, stat
			}
			slot.Header = header
			return cell.mvcc, true, WriteOK
		}
		return mvcc, false, WriteOK
	}

	slot, stat := cell.mvcc.AppendVersion(trxID, bt, tid)
	if stat != WriteOK {
		return nil, true, stat
	}
	slot.Header = header
	return cell.mvcc, true, WriteOK
}

// ReadProperty returns the visible version's header for pid.
func (l *PropertyRowList) ReadProperty(pid uint64, trxID, bt uint64, readOnly bool) (ValueHeader, ReadStat) {
	cell := l.locateCell(pid)
	if cell == nil {
		return ValueHeader{}, ReadNotFound
	}
	version, stat := cell.mvcc.VisibleVersion(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return ValueHeader{}, stat
	}
	if version.Header.IsDeleted() {
		return ValueHeader{}, ReadNotFound
	}
	return version.Header, ReadSuccess
}

// ReadAllProperties returns the (pid, header) of every visible property.
func (l *PropertyRowList) ReadAllProperties(trxID, bt uint64, readOnly bool) ([]uint64, []ValueHeader, ReadStat) {
	n := int(l.count.Load())
	pids := make([]uint64, 0, n)
	headers := make([]ValueHeader, 0, n)
	for i := 0; i < n; i++ {
		cell := l.cellAt(i)
		version, stat := cell.mvcc.VisibleVersion(trxID, bt, readOnly)
		if stat == ReadAbort {
			return nil, nil, ReadAbort
		}
		if stat != ReadSuccess || version.Header.IsDeleted() {
			continue
		}
		pids = append(pids, cell.pid)
		headers = append(headers, version.Header)
	}
	return pids, headers, ReadSuccess
}

// PropertyCount returns how many cells have ever been allocated; visible
// cells are a subset.
func (l *PropertyRowList) PropertyCount() int {
	return int(l.count.Load())
}
