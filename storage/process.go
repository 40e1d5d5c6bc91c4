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
	"github.com/ebay/gryphon/graph"
)

// ProcessAddVertex creates a vertex owned by the transaction and returns its
// vid. The first MVCC version can't conflict, so this never fails.
func (s *Store) ProcessAddVertex(label graph.Label, trxID, bt uint64, tid int) graph.VID {
	vid := s.AssignVID()
	item := &VertexItem{
		Label:  label,
		VPRows: NewPropertyRowList(s.vpRowPool),
		VERows: NewTopologyRowList(s.veRowPool),
		MVCC:   NewMVCCList(s.vertexMVCCPool),
	}
	slot, _ := item.MVCC.AppendVersion(trxID, bt, tid)
	slot.Exists = true
	s.recordWrite(trxID, uint64(vid))

	shard := s.vertexShard(vid)
	shard.lock.Lock()
	shard.m[vid] = item
	shard.lock.Unlock()

	s.recordProcess(trxID, processEntry{kind: processAddV, vertex: item.MVCC})
	return vid
}

// ProcessDropVertex appends a non-existence version on the vertex and
// returns the ids of its incident edges so the caller can drop them too.
func (s *Store) ProcessDropVertex(vid graph.VID, trxID, bt uint64,
	tid int) ([]graph.EID, WriteStat) {
	v := s.vertex(vid)
	if v == nil {
		return nil, WriteNotFound
	}
	slot, stat := v.MVCC.AppendVersion(trxID, bt, tid)
	if stat != WriteOK {
		return nil, stat
	}
	slot.Exists = false
	s.recordWrite(trxID, uint64(vid))
	s.recordProcess(trxID, processEntry{kind: processDropV, vertex: v.MVCC})

	// Connected edges, visible or added by this transaction, still need
	// their own non-existence versions; the expert fans these out.
	eids, rstat := v.VERows.ConnectedEdges(vid, graph.DirBoth, 0, trxID, bt, false)
	if rstat == ReadAbort {
		return nil, WriteConflict
	}
	return eids, WriteOK
}

// ProcessAddEdge registers the edge trx-locally: an uncommitted existence
// version in the edge map plus adjacency entries on whichever endpoints this
// worker hosts. Call once per hosting worker.
func (s *Store) ProcessAddEdge(eid graph.EID, label graph.Label, trxID, bt uint64,
	tid int) WriteStat {
	shard := s.edgeShard(eid)
	shard.lock.Lock()
	mvcc := shard.m[eid]
	isNew := mvcc == nil
	if isNew {
		mvcc = NewMVCCList(s.edgeMVCCPool)
		shard.m[eid] = mvcc
	}
	shard.lock.Unlock()

	slot, stat := mvcc.AppendVersion(trxID, bt, tid)
	if stat != WriteOK {
		return stat
	}
	*slot = EdgeMVCC{
		Exists: true,
		Label:  label,
		EPRows: NewPropertyRowList(s.epRowPool),
	}
	s.recordWrite(trxID, uint64(eid))
	s.recordProcess(trxID, processEntry{kind: processAddE, edge: mvcc})

	if isNew {
		if out := s.vertex(eid.Out()); out != nil {
			out.VERows.ProcessAddEdge(true, label, eid.In(), mvcc, tid)
		}
		if in := s.vertex(eid.In()); in != nil {
			in.VERows.ProcessAddEdge(false, label, eid.Out(), mvcc, tid)
		}
	}
	return WriteOK
}

// ProcessDropEdge appends a non-existence version on the edge.
func (s *Store) ProcessDropEdge(eid graph.EID, trxID, bt uint64, tid int) WriteStat {
	mvcc := s.edge(eid)
	if mvcc == nil {
		return WriteNotFound
	}
	slot, stat := mvcc.AppendVersion(trxID, bt, tid)
	if stat != WriteOK {
		return stat
	}
	*slot = EdgeMVCC{Exists: false}
	s.recordWrite(trxID, uint64(eid))
	s.recordProcess(trxID, processEntry{kind: processDropE, edge: mvcc})
	return WriteOK
}

// ProcessModifyVP writes a vertex property: a fresh version holding the new
// value, or a cell allocation on first write. A zero Value writes a logical
// delete.
func (s *Store) ProcessModifyVP(pid graph.VPID, value graph.Value, trxID, bt uint64,
	tid int) WriteStat {
	v := s.vertex(pid.VID())
	if v == nil {
		return WriteNotFound
	}
	header := ValueHeader{}
	if !value.IsZero() {
		header = s.vpStore.Insert(value, tid)
	}
	list, existed, stat := v.VPRows.ModifyProperty(uint64(pid), header, trxID, bt, s.propertyMVCCPool, tid)
	if stat != WriteOK {
		// The reserved cells are unreachable; release them.
		s.vpStore.Free(header, tid)
		return stat
	}
	kind := processAddVP
	if existed {
		kind = processModifyVP
	}
	s.recordWrite(trxID, uint64(pid))
	s.recordProcess(trxID, processEntry{kind: kind, property: list})
	return WriteOK
}

// ProcessModifyEP writes an edge property.
func (s *Store) ProcessModifyEP(pid graph.EPID, value graph.Value, trxID, bt uint64,
	tid int) WriteStat {
	e := s.edge(pid.EID())
	if e == nil {
		return WriteNotFound
	}
	version, rstat := e.VisibleVersion(trxID, bt, false)
	if rstat != ReadSuccess || !version.Exists {
		if rstat == ReadAbort {
			return WriteConflict
		}
		return WriteNotFound
	}
	header := ValueHeader{}
	if !value.IsZero() {
		header = s.epStore.Insert(value, tid)
	}
	list, existed, stat := version.EPRows.ModifyProperty(uint64(pid), header, trxID, bt, s.propertyMVCCPool, tid)
	if stat != WriteOK {
		s.epStore.Free(header, tid)
		return stat
	}
	kind := processAddEP
	if existed {
		kind = processModifyEP
	}
	s.recordWrite(trxID, uint64(pid))
	s.recordProcess(trxID, processEntry{kind: kind, property: list})
	return WriteOK
}

// Commit publishes every MVCC append of the transaction at commit time ct
// and drops the transaction record. Commit is idempotent.
func (s *Store) Commit(trxID, ct uint64) {
	s.trxLock.Lock()
	t := s.trxMap[trxID]
	s.trxLock.Unlock()
	if t == nil {
		return
	}
	t.lock.Lock()
	entries := t.processList
	t.lock.Unlock()
	for _, entry := range entries {
		switch entry.kind {
		case processModifyVP, processAddVP, processModifyEP, processAddEP:
			entry.property.CommitVersion(trxID, ct)
		case processAddV, processDropV:
			entry.vertex.CommitVersion(trxID, ct)
		case processAddE, processDropE:
			entry.edge.CommitVersion(trxID, ct)
		}
	}
	s.commitRWSets(trxID, ct)
	s.trxLock.Lock()
	delete(s.trxMap, trxID)
	s.trxLock.Unlock()
}

// Abort unlinks every uncommitted version of the transaction, releasing
// value-store cells held by property writes. Abort is idempotent.
func (s *Store) Abort(trxID uint64, tid int) {
	s.trxLock.Lock()
	t := s.trxMap[trxID]
	s.trxLock.Unlock()
	if t == nil {
		return
	}
	t.lock.Lock()
	entries := t.processList
	t.lock.Unlock()
	for _, entry := range entries {
		switch entry.kind {
		case processModifyVP, processAddVP:
			if value, ok := entry.property.AbortVersion(trxID, tid); ok {
				s.vpStore.Free(value.Header, tid)
			}
		case processModifyEP, processAddEP:
			if value, ok := entry.property.AbortVersion(trxID, tid); ok {
				s.epStore.Free(value.Header, tid)
			}
		case processAddV, processDropV:
			entry.vertex.AbortVersion(trxID, tid)
		case processAddE, processDropE:
			entry.edge.AbortVersion(trxID, tid)
		}
	}
	s.abortRWSets(trxID)
	s.trxLock.Lock()
	delete(s.trxMap, trxID)
	s.trxLock.Unlock()
}

// LoadVertex installs a vertex during initial loading, with a committed
// existence version.
func (s *Store) LoadVertex(vid graph.VID, label graph.Label, tid int) *VertexItem {
	item := &VertexItem{
		Label:  label,
		VPRows: NewPropertyRowList(s.vpRowPool),
		VERows: NewTopologyRowList(s.veRowPool),
		MVCC:   NewMVCCList(s.vertexMVCCPool),
	}
	item.MVCC.AppendInitialVersion(VertexMVCC{Exists: true}, tid)

	shard := s.vertexShard(vid)
	shard.lock.Lock()
	shard.m[vid] = item
	shard.lock.Unlock()

	s.noteLoadedVID(vid)
	return item
}

// LoadEdge installs an edge during initial loading, wiring the adjacency of
// any endpoint vertex this worker hosts to the edge's single version chain.
func (s *Store) LoadEdge(eid graph.EID, label graph.Label, tid int) {
	shard := s.edgeShard(eid)
	shard.lock.Lock()
	mvcc := shard.m[eid]
	if mvcc == nil {
		mvcc = NewMVCCList(s.edgeMVCCPool)
		mvcc.AppendInitialVersion(EdgeMVCC{
			Exists: true,
			Label:  label,
			EPRows: NewPropertyRowList(s.epRowPool),
		}, tid)
		shard.m[eid] = mvcc
	}
	shard.lock.Unlock()

	if out := s.vertex(eid.Out()); out != nil {
		out.VERows.InsertInitialCell(true, label, eid.In(), mvcc, tid)
	}
	if in := s.vertex(eid.In()); in != nil {
		in.VERows.InsertInitialCell(false, label, eid.Out(), mvcc, tid)
	}
}

// LoadVP installs a committed vertex property during initial loading.
func (s *Store) LoadVP(pid graph.VPID, value graph.Value, tid int) {
	v := s.vertex(pid.VID())
	if v == nil {
		return
	}
	header := s.vpStore.Insert(value, tid)
	v.VPRows.InsertInitialProperty(uint64(pid), header, s.propertyMVCCPool, tid)
}

// LoadEP installs a committed edge property during initial loading.
func (s *Store) LoadEP(pid graph.EPID, value graph.Value, tid int) {
	e := s.edge(pid.EID())
	if e == nil {
		return
	}
	version, stat := e.VisibleVersion(0, 1, true)
	if stat != ReadSuccess || !version.Exists {
		return
	}
	header := s.epStore.Insert(value, tid)
	version.EPRows.InsertInitialProperty(uint64(pid), header, s.propertyMVCCPool, tid)
}
