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

// Package storage implements the per-worker MVCC graph store: vertices,
// edges, property rows, and version chains, all allocated from offset-based
// memory pools.
package storage

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/storage/mempool"
)

// VertexItem is the per-vertex record in the vertex map.
type VertexItem struct {
	Label  graph.Label
	VPRows *PropertyRowList
	VERows *TopologyRowList
	MVCC   *MVCCList[VertexMVCC]
}

// processKind says what a process-list entry recorded, which decides how
// commit and abort treat it.
type processKind uint8

const (
	processAddV processKind = iota
	processDropV
	processModifyVP
	processAddVP
	processModifyEP
	processAddEP
	processAddE
	processDropE
)

// processEntry is one MVCC append made by a transaction, recorded at write
// time so commit/abort can walk them.
type processEntry struct {
	kind     processKind
	property *MVCCList[PropertyMVCC]
	vertex   *MVCCList[VertexMVCC]
	edge     *MVCCList[EdgeMVCC]
}

// TransactionItem accumulates a transaction's process list and read/write
// audit counts on this worker.
type TransactionItem struct {
	lock        sync.Mutex
	processList []processEntry
	readCount   int64
	writeCount  int64
}

// mapShards spreads the concurrent maps; must be a power of two.
const mapShards = 64

type vertexShard struct {
	lock sync.RWMutex
	m    map[graph.VID]*VertexItem
}

type edgeShard struct {
	lock sync.RWMutex
	m    map[graph.EID]*MVCCList[EdgeMVCC]
}

// Options sizes the store's pools.
type Options struct {
	// Capacity, in items, of the row pools and MVCC item pools.
	RowPoolSize  uint32
	MVCCPoolSize uint32
	// Capacity, in cells, of each property value store.
	ValueStoreItems uint32
	// Number of expert threads this store serves.
	Threads int
	// This worker's rank and the cluster's worker count, for VID assignment.
	WorkerRank  int
	WorkerCount int
}

// A Store is one worker's partition of the graph.
type Store struct {
	opts Options

	vertexShards [mapShards]vertexShard
	edgeShards   [mapShards]edgeShard

	trxLock sync.Mutex
	trxMap  map[uint64]*TransactionItem

	vpRowPool *mempool.Pool[PropertyRow]
	epRowPool *mempool.Pool[PropertyRow]
	veRowPool *mempool.Pool[TopologyRow]

	propertyMVCCPool *mempool.Pool[mvccItem[PropertyMVCC]]
	vertexMVCCPool   *mempool.Pool[mvccItem[VertexMVCC]]
	edgeMVCCPool     *mempool.Pool[mvccItem[EdgeMVCC]]

	vpStore *ValueStore
	epStore *ValueStore

	rw *rwSets

	// Next local VID counter; the assigned VID is counter*workerCount+rank.
	nextLocalVID atomic.Uint32
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.Threads == 0 {
		opts.Threads = 1
	}
	if opts.WorkerCount == 0 {
		opts.WorkerCount = 1
	}
	s := &Store{
		opts:             opts,
		trxMap:           make(map[uint64]*TransactionItem),
		vpRowPool:        mempool.New[PropertyRow](opts.RowPoolSize, opts.Threads, 256),
		epRowPool:        mempool.New[PropertyRow](opts.RowPoolSize, opts.Threads, 256),
		veRowPool:        mempool.New[TopologyRow](opts.RowPoolSize, opts.Threads, 256),
		propertyMVCCPool: mempool.New[mvccItem[PropertyMVCC]](opts.MVCCPoolSize, opts.Threads, 512),
		vertexMVCCPool:   mempool.New[mvccItem[VertexMVCC]](opts.MVCCPoolSize, opts.Threads, 512),
		edgeMVCCPool:     mempool.New[mvccItem[EdgeMVCC]](opts.MVCCPoolSize, opts.Threads, 512),
		vpStore:          NewValueStore(opts.ValueStoreItems, opts.Threads),
		epStore:          NewValueStore(opts.ValueStoreItems, opts.Threads),
		rw:               newRWSets(),
	}
	for i := range s.vertexShards {
		s.vertexShards[i].m = make(map[graph.VID]*VertexItem)
	}
	for i := range s.edgeShards {
		s.edgeShards[i].m = make(map[graph.EID]*MVCCList[EdgeMVCC])
	}
	return s
}

func shardOf(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:]) & (mapShards - 1)
}

func (s *Store) vertexShard(vid graph.VID) *vertexShard {
	return &s.vertexShards[shardOf(uint64(vid))]
}

func (s *Store) edgeShard(eid graph.EID) *edgeShard {
	return &s.edgeShards[shardOf(uint64(eid))]
}

// vertex returns the vertex item, or nil.
func (s *Store) vertex(vid graph.VID) *VertexItem {
	shard := s.vertexShard(vid)
	shard.lock.RLock()
	v := shard.m[vid]
	shard.lock.RUnlock()
	return v
}

// edge returns the edge's version chain, or nil.
func (s *Store) edge(eid graph.EID) *MVCCList[EdgeMVCC] {
	shard := s.edgeShard(eid)
	shard.lock.RLock()
	e := shard.m[eid]
	shard.lock.RUnlock()
	return e
}

// transaction returns (creating if needed) the per-transaction record.
func (s *Store) transaction(trxID uint64) *TransactionItem {
	s.trxLock.Lock()
	defer s.trxLock.Unlock()
	t := s.trxMap[trxID]
	if t == nil {
		t = &TransactionItem{}
		s.trxMap[trxID] = t
	}
	return t
}

// recordProcess appends to the transaction's process list.
func (s *Store) recordProcess(trxID uint64, entry processEntry) {
	t := s.transaction(trxID)
	t.lock.Lock()
	t.processList = append(t.processList, entry)
	t.lock.Unlock()
}

// PushToRWRecord audits reads and writes performed by operator experts on
// behalf of a transaction; RWRecord reports the totals. Validation does not
// read these counts.
func (s *Store) PushToRWRecord(trxID uint64, count int, isRead bool) {
	t := s.transaction(trxID)
	t.lock.Lock()
	if isRead {
		t.readCount += int64(count)
	} else {
		t.writeCount += int64(count)
	}
	t.lock.Unlock()
}

// RWRecord returns the audited (reads, writes) of a transaction on this
// worker.
func (s *Store) RWRecord(trxID uint64) (reads, writes int64) {
	t := s.transaction(trxID)
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.readCount, t.writeCount
}

// AssignVID mints a fresh, globally unique vertex id for this worker.
func (s *Store) AssignVID() graph.VID {
	local := s.nextLocalVID.Add(1) - 1
	return graph.VID(local*uint32(s.opts.WorkerCount) + uint32(s.opts.WorkerRank))
}

// noteLoadedVID advances the local VID counter past a vid seen during
// loading, keeping AssignVID collision-free.
func (s *Store) noteLoadedVID(vid graph.VID) {
	local := (uint32(vid) - uint32(s.opts.WorkerRank)) / uint32(s.opts.WorkerCount)
	for {
		cur := s.nextLocalVID.Load()
		if cur > local {
			return
		}
		if s.nextLocalVID.CompareAndSwap(cur, local+1) {
			return
		}
	}
}

// UsageStrings reports pool counters for startup logging.
func (s *Store) UsageStrings() map[string]string {
	return map[string]string{
		"vp_row_pool":   s.vpRowPool.UsageString(),
		"ep_row_pool":   s.epRowPool.UsageString(),
		"ve_row_pool":   s.veRowPool.UsageString(),
		"property_mvcc": s.propertyMVCCPool.UsageString(),
		"vertex_mvcc":   s.vertexMVCCPool.UsageString(),
		"edge_mvcc":     s.edgeMVCCPool.UsageString(),
		"vp_store":      s.vpStore.UsageString(),
		"ep_store":      s.epStore.UsageString(),
	}
}
