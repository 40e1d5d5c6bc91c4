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
	"sort"

	"github.com/ebay/gryphon/graph"
)

// GetVP reads one vertex property.
func (s *Store) GetVP(pid graph.VPID, trxID, bt uint64, readOnly bool) (graph.Value, ReadStat) {
	v := s.vertex(pid.VID())
	if v == nil {
		return graph.Value{}, ReadNotFound
	}
	header, stat := v.VPRows.ReadProperty(uint64(pid), trxID, bt, readOnly)
	if stat != ReadSuccess {
		return graph.Value{}, stat
	}
	return s.vpStore.Read(header), ReadSuccess
}

// GetAllVP reads every visible property of a vertex as (pkey, value) pairs.
func (s *Store) GetAllVP(vid graph.VID, trxID, bt uint64, readOnly bool) ([]graph.Label, []graph.Value, ReadStat) {
	v := s.vertex(vid)
	if v == nil {
		return nil, nil, ReadNotFound
	}
	pids, headers, stat := v.VPRows.ReadAllProperties(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return nil, nil, stat
	}
	keys := make([]graph.Label, len(pids))
	values := make([]graph.Value, len(headers))
	for i := range pids {
		keys[i] = graph.VPID(pids[i]).PKey()
		values[i] = s.vpStore.Read(headers[i])
	}
	return keys, values, ReadSuccess
}

// GetVL reads a vertex's label. Labels are immutable, so visibility is the
// vertex's own existence version.
func (s *Store) GetVL(vid graph.VID, trxID, bt uint64, readOnly bool) (graph.Label, ReadStat) {
	v := s.vertex(vid)
	if v == nil {
		return 0, ReadNotFound
	}
	version, stat := v.MVCC.VisibleVersion(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return 0, stat
	}
	if !version.Exists {
		return 0, ReadNotFound
	}
	return v.Label, ReadSuccess
}

// VertexExists reports whether the vertex is visible to the transaction.
func (s *Store) VertexExists(vid graph.VID, trxID, bt uint64, readOnly bool) (bool, ReadStat) {
	v := s.vertex(vid)
	if v == nil {
		return false, ReadNotFound
	}
	version, stat := v.MVCC.VisibleVersion(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return false, stat
	}
	return version.Exists, ReadSuccess
}

// GetEP reads one edge property.
func (s *Store) GetEP(pid graph.EPID, trxID, bt uint64, readOnly bool) (graph.Value, ReadStat) {
	e := s.edge(pid.EID())
	if e == nil {
		return graph.Value{}, ReadNotFound
	}
	version, stat := e.VisibleVersion(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return graph.Value{}, stat
	}
	if !version.Exists {
		return graph.Value{}, ReadNotFound
	}
	header, stat := version.EPRows.ReadProperty(uint64(pid), trxID, bt, readOnly)
	if stat != ReadSuccess {
		return graph.Value{}, stat
	}
	return s.epStore.Read(header), ReadSuccess
}

// GetAllEP reads every visible property of an edge.
func (s *Store) GetAllEP(eid graph.EID, trxID, bt uint64, readOnly bool) ([]graph.Label, []graph.Value, ReadStat) {
	e := s.edge(eid)
	if e == nil {
		return nil, nil, ReadNotFound
	}
	version, stat := e.VisibleVersion(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return nil, nil, stat
	}
	if !version.Exists {
		return nil, nil, ReadNotFound
	}
	pids, headers, stat := version.EPRows.ReadAllProperties(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return nil, nil, stat
	}
	keys := make([]graph.Label, len(pids))
	values := make([]graph.Value, len(headers))
	for i := range pids {
		keys[i] = graph.EPID(pids[i]).PKey()
		values[i] = s.epStore.Read(headers[i])
	}
	return keys, values, ReadSuccess
}

// GetEL reads an edge's label.
func (s *Store) GetEL(eid graph.EID, trxID, bt uint64, readOnly bool) (graph.Label, ReadStat) {
	e := s.edge(eid)
	if e == nil {
		return 0, ReadNotFound
	}
	version, stat := e.VisibleVersion(trxID, bt, readOnly)
	if stat != ReadSuccess {
		return 0, stat
	}
	if !version.Exists {
		return 0, ReadNotFound
	}
	return version.Label, ReadSuccess
}

// ConnectedVertices lists the visible neighbors of a vertex.
func (s *Store) ConnectedVertices(vid graph.VID, dir graph.Direction, label graph.Label,
	trxID, bt uint64, readOnly bool) ([]graph.VID, ReadStat) {
	v := s.vertex(vid)
	if v == nil {
		return nil, ReadNotFound
	}
	return v.VERows.ConnectedVertices(dir, label, trxID, bt, readOnly)
}

// ConnectedEdges lists the visible incident edges of a vertex.
func (s *Store) ConnectedEdges(vid graph.VID, dir graph.Direction, label graph.Label,
	trxID, bt uint64, readOnly bool) ([]graph.EID, ReadStat) {
	v := s.vertex(vid)
	if v == nil {
		return nil, ReadNotFound
	}
	return v.VERows.ConnectedEdges(vid, dir, label, trxID, bt, readOnly)
}

// AllVertices returns every vertex visible to the transaction, in vid order
// so results are stable across runs.
func (s *Store) AllVertices(trxID, bt uint64, readOnly bool) ([]graph.VID, ReadStat) {
	var out []graph.VID
	for i := range s.vertexShards {
		shard := &s.vertexShards[i]
		shard.lock.RLock()
		for vid, item := range shard.m {
			version, stat := item.MVCC.VisibleVersion(trxID, bt, readOnly)
			if stat == ReadAbort {
				shard.lock.RUnlock()
				return nil, ReadAbort
			}
			if stat == ReadSuccess && version.Exists {
				out = append(out, vid)
			}
		}
		shard.lock.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, ReadSuccess
}

// AllEdges returns every edge visible to the transaction, in eid order.
func (s *Store) AllEdges(trxID, bt uint64, readOnly bool) ([]graph.EID, ReadStat) {
	var out []graph.EID
	for i := range s.edgeShards {
		shard := &s.edgeShards[i]
		shard.lock.RLock()
		for eid, mvcc := range shard.m {
			version, stat := mvcc.VisibleVersion(trxID, bt, readOnly)
			if stat == ReadAbort {
				shard.lock.RUnlock()
				return nil, ReadAbort
			}
			if stat == ReadSuccess && version.Exists {
				out = append(out, eid)
			}
		}
		shard.lock.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, ReadSuccess
}
