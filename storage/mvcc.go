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
	"math"
	"sync"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/storage/mempool"
	log "github.com/sirupsen/logrus"
)

// MaxTime is the end_time of the newest committed version of every chain.
const MaxTime = uint64(math.MaxUint64)

// A ValueHeader locates a property payload in the MVCC value store. A header
// with Count == 0 marks a logically deleted property.
type ValueHeader struct {
	HeadOffset uint32
	Count      uint32
}

// IsDeleted reports whether the header marks a logical delete.
func (h ValueHeader) IsDeleted() bool {
	return h.Count == 0
}

// PropertyMVCC is the version payload of a property: where its bytes live.
type PropertyMVCC struct {
	Header ValueHeader
}

// VertexMVCC is the version payload of a vertex: whether it exists.
type VertexMVCC struct {
	Exists bool
}

// EdgeMVCC is the version payload of an edge.
type EdgeMVCC struct {
	Exists bool
	Label  graph.Label
	// Property rows of the edge; carried in the version so that a re-added
	// edge starts from fresh properties.
	EPRows *PropertyRowList
}

// mvccItem is one version in a chain. Items live in a mempool arena and link
// through 32-bit offsets.
type mvccItem[V any] struct {
	begin uint64
	end   uint64
	trxID uint64
	value V
	next  uint32
}

// committed reports whether the item is a committed version.
func (it *mvccItem[V]) committed() bool {
	return it.trxID == 0 && it.begin < it.end
}

// An MVCCList is an append-ordered chain of versions for one entity or
// property. At most one uncommitted item can sit at the tail; appends are
// serialized by the list's lock and the critical sections are O(1).
type MVCCList[V any] struct {
	pool *mempool.Pool[mvccItem[V]]

	lock sync.Mutex
	// Offsets into pool; mempool.NilOffset when the list is empty. prevTail
	// tracks the item before tail so commit and abort stay O(1).
	head     uint32
	tail     uint32
	prevTail uint32
}

// NewMVCCList returns an empty version chain drawing items from the given
// pool.
func NewMVCCList[V any](pool *mempool.Pool[mvccItem[V]]) *MVCCList[V] {
	return &MVCCList[V]{
		pool:     pool,
		head:     mempool.NilOffset,
		tail:     mempool.NilOffset,
		prevTail: mempool.NilOffset,
	}
}

// AppendInitialVersion installs a committed version visible at every begin
// time. Only the loader calls this, before any transaction runs.
func (l *MVCCList[V]) AppendInitialVersion(value V, tid int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.tail != mempool.NilOffset {
		log.Panicf("storage: AppendInitialVersion on non-empty MVCC list")
	}
	off := l.pool.Get(tid)
	item := l.pool.Item(off)
	*item = mvccItem[V]{begin: 0, end: MaxTime, trxID: 0, value: value, next: mempool.NilOffset}
	l.head = off
	l.tail = off
}

// VisibleVersion returns the version visible to the transaction (trxID, bt).
// Read-only transactions skip an uncommitted tail of another transaction;
// read-write transactions return ReadAbort on one, to preserve
// serializability. A transaction always sees its own uncommitted write.
func (l *MVCCList[V]) VisibleVersion(trxID, bt uint64, readOnly bool) (V, ReadStat) {
	var zero V
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.head == mempool.NilOffset {
		return zero, ReadNotFound
	}

	// The tail decides how to treat in-flight writes.
	tailItem := l.pool.Item(l.tail)
	if tailItem.trxID != 0 && tailItem.trxID == trxID {
		return tailItem.value, ReadSuccess
	}
	if tailItem.trxID != 0 && !readOnly {
		return zero, ReadAbort
	}

	// Walk committed versions; the last one with begin <= bt is visible.
	// Versions are in begin-time order, so stop at the first that starts
	// after bt.
	found := false
	var value V
	for off := l.head; off != mempool.NilOffset; off = l.pool.Item(off).next {
		item := l.pool.Item(off)
		if !item.committed() {
			break
		}
		if item.begin > bt {
			break
		}
		value = item.value
		found = true
	}
	if !found {
		return zero, ReadNotFound
	}
	return value, ReadSuccess
}

// AppendVersion reserves an uncommitted version slot for the transaction and
// returns a pointer to fill. It fails with WriteConflict if the tail is an
// uncommitted write of another transaction or a commit newer than bt
// (first-committer-wins). A transaction re-writing its own uncommitted
// version gets the same slot back.
func (l *MVCCList[V]) AppendVersion(trxID, bt uint64, tid int) (*V, WriteStat) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.tail != mempool.NilOffset {
		tailItem := l.pool.Item(l.tail)
		if tailItem.trxID != 0 {
			if tailItem.trxID == trxID {
				return &tailItem.value, WriteOK
			}
			return nil, WriteConflict
		}
		if tailItem.begin > bt {
			// Someone committed after this transaction began.
			return nil, WriteConflict
		}
	}

	off := l.pool.Get(tid)
	item := l.pool.Item(off)
	*item = mvccItem[V]{begin: bt, end: MaxTime, trxID: trxID, next: mempool.NilOffset}
	if l.tail == mempool.NilOffset {
		l.head = off
	} else {
		l.pool.Item(l.tail).next = off
	}
	l.prevTail = l.tail
	l.tail = off
	return &item.value, WriteOK
}

// CommitVersion publishes the transaction's uncommitted tail at commit time
// ct: the tail becomes committed with begin = ct, and the previous version's
// end becomes ct. Applying the same commit twice is a no-op.
func (l *MVCCList[V]) CommitVersion(trxID, ct uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.tail == mempool.NilOffset {
		log.Panicf("storage: CommitVersion on empty MVCC list")
	}
	tailItem := l.pool.Item(l.tail)
	if tailItem.trxID == 0 {
		if tailItem.begin == ct {
			return // already applied
		}
		log.Panicf("storage: CommitVersion(trx=%d) but tail is committed at %d", trxID, tailItem.begin)
	}
	if tailItem.trxID != trxID {
		log.Panicf("storage: CommitVersion(trx=%d) but tail owned by trx=%d", trxID, tailItem.trxID)
	}
	tailItem.trxID = 0
	tailItem.begin = ct
	tailItem.end = MaxTime
	if l.prevTail != mempool.NilOffset {
		l.pool.Item(l.prevTail).end = ct
	}
}

// AbortVersion unlinks the transaction's uncommitted tail and returns its
// payload so the caller can release any value-store cells it holds. The
// second return is false if there was nothing to abort (abort is
// idempotent).
func (l *MVCCList[V]) AbortVersion(trxID uint64, tid int) (V, bool) {
	var zero V
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.tail == mempool.NilOffset {
		return zero, false
	}
	tailItem := l.pool.Item(l.tail)
	if tailItem.trxID != trxID {
		return zero, false
	}
	value := tailItem.value
	removed := l.tail
	if l.prevTail == mempool.NilOffset {
		l.head = mempool.NilOffset
		l.tail = mempool.NilOffset
	} else {
		l.pool.Item(l.prevTail).next = mempool.NilOffset
		l.tail = l.prevTail
		// prevTail is now stale; recompute it here by walking from head.
		// Chains are short and the lock is already held.
		l.prevTail = l.findPrev(l.tail)
	}
	l.pool.Free(removed, tid)
	return value, true
}

// findPrev returns the offset of the item before 'off', or NilOffset.
// Called with the lock held.
func (l *MVCCList[V]) findPrev(off uint32) uint32 {
	if off == mempool.NilOffset || l.head == off {
		return mempool.NilOffset
	}
	cursor := l.head
	for cursor != mempool.NilOffset {
		next := l.pool.Item(cursor).next
		if next == off {
			return cursor
		}
		cursor = next
	}
	return mempool.NilOffset
}

// forEach visits every version in chain order. Used by invariant checks and
// tests.
func (l *MVCCList[V]) forEach(visit func(begin, end, trxID uint64, value V)) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for off := l.head; off != mempool.NilOffset; off = l.pool.Item(off).next {
		item := l.pool.Item(off)
		visit(item.begin, item.end, item.trxID, item.value)
	}
}
