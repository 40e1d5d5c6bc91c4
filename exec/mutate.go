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

package exec

import (
	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/msg"
	"github.com/ebay/gryphon/query/plan"
	"github.com/ebay/gryphon/storage"
)

// propertyExpert writes one property on each input element.
type propertyExpert struct{}

func (x *propertyExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Property)
	qp := qs.qp
	writes := 0

	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
				continue
			}
			writes++
			var stat storage.WriteStat
			if op.Element == graph.Vertex {
				stat = e.Ctx.Store.ProcessModifyVP(
					graph.NewVPID(graph.VID(id), op.PKey), op.Value, qp.TrxID, qp.BT, tid)
			} else {
				stat = e.Ctx.Store.ProcessModifyEP(
					graph.NewEPID(graph.EID(id), op.PKey), op.Value, qp.TrxID, qp.BT, tid)
			}
			switch stat {
			case storage.WriteConflict:
				return nil, errAbort("Processing", "TryModifyProperty")
			case storage.WriteNotFound:
				continue
			}
			values = append(values, v)
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, writes, false)
	return e.forward(qs, m, out, tid)
}

// addVExpert creates a vertex on the parent worker and streams its vid.
type addVExpert struct{}

func (x *addVExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.AddV)
	qp := qs.qp

	var out []msg.Pair
	if m.Meta.RecverNode == m.Meta.ParentNode {
		vid := e.Ctx.Store.ProcessAddVertex(op.Label, qp.TrxID, qp.BT, tid)
		e.Ctx.Store.PushToRWRecord(qp.TrxID, 1, false)
		out = []msg.Pair{{Values: []graph.Value{graph.UintValue(uint64(vid))}}}
	}
	return e.forward(qs, m, out, tid)
}

// addEExpert creates edges between its endpoint sets. Each worker registers
// the edges whose endpoints it hosts; the shared version chain keeps the
// edge's identity single.
type addEExpert struct{}

func (x *addEExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.AddE)
	qp := qs.qp

	from, to, err := endpointSets(op, m)
	if err != nil {
		return nil, err
	}

	writes := 0
	var values []graph.Value
	for _, src := range from {
		for _, dst := range to {
			eid := graph.NewEID(src, dst)
			local := e.Ctx.ownerOf(src) == e.Ctx.Rank || e.Ctx.ownerOf(dst) == e.Ctx.Rank
			if !local {
				continue
			}
			writes++
			stat := e.Ctx.Store.ProcessAddEdge(eid, op.Label, qp.TrxID, qp.BT, tid)
			if stat == storage.WriteConflict {
				return nil, errAbort("Processing", "TryAddEdge")
			}
			// Emit each edge once, from its out-endpoint's worker.
			if e.Ctx.ownerOf(src) == e.Ctx.Rank {
				values = append(values, graph.UintValue(uint64(eid)))
			}
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, writes, false)

	var out []msg.Pair
	if len(values) > 0 {
		out = []msg.Pair{{Values: values}}
	}
	return e.forward(qs, m, out, tid)
}

// endpointSets resolves the from/to vid sets of an addE: the input stream,
// a placeholder fill, or a recorded step label.
func endpointSets(op *plan.AddE, m *msg.Message) (from, to []graph.VID, err error) {
	resolve := func(endpoint plan.Endpoint) ([]graph.VID, error) {
		switch endpoint.Kind {
		case plan.EndpointPlaceholder:
			return endpoint.VIDs, nil
		case plan.EndpointStepLabel:
			var vids []graph.VID
			for _, pair := range m.Data {
				if recorded, ok := pair.History.Get(endpoint.LabelStep); ok {
					vids = append(vids, graph.VID(uint64(recorded.Int())))
				}
			}
			return vids, nil
		case plan.EndpointNotApplicable:
			// The input stream supplies this side.
			var vids []graph.VID
			for _, pair := range m.Data {
				for _, v := range pair.Values {
					vids = append(vids, graph.VID(uint64(v.Int())))
				}
			}
			return vids, nil
		}
		return nil, errAbort("Processing", "AddE")
	}
	if from, err = resolve(op.From); err != nil {
		return nil, nil, err
	}
	to, err = resolve(op.To)
	return from, to, err
}

// dropExpert writes logical deletes. The first pass drops the targets; a
// vertex drop then feeds the connected edges to the follow-up edge-drop
// pass.
type dropExpert struct{}

func (x *dropExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Drop)
	qp := qs.qp
	writes := 0

	if op.IsProperty {
		return x.dropProperties(e, qs, m, tid)
	}

	var out []msg.Pair
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if op.Element == graph.Vertex {
				if e.Ctx.ownerOf(graph.VID(id)) != e.Ctx.Rank {
					continue
				}
				writes++
				eids, stat := e.Ctx.Store.ProcessDropVertex(graph.VID(id), qp.TrxID, qp.BT, tid)
				if stat == storage.WriteConflict {
					return nil, errAbort("Processing", "TryDropVertex")
				}
				// The connected edges flow to the follow-up drop pass.
				for _, eid := range eids {
					values = append(values, graph.UintValue(uint64(eid)))
				}
			} else {
				eid := graph.EID(id)
				hosted := e.Ctx.ownerOf(eid.Out()) == e.Ctx.Rank || e.Ctx.ownerOf(eid.In()) == e.Ctx.Rank
				if !hosted {
					continue
				}
				writes++
				stat := e.Ctx.Store.ProcessDropEdge(eid, qp.TrxID, qp.BT, tid)
				if stat == storage.WriteConflict {
					return nil, errAbort("Processing", "TryDropEdge")
				}
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, writes, false)

	// Edge drops fan out to both endpoint owners so each replica of the
	// adjacency gets its non-existence version.
	if op.Element == graph.Vertex {
		return e.forwardEdgeDrops(qs, m, out, tid)
	}
	return e.forward(qs, m, out, tid)
}

// dropProperties writes logical deletes for a properties() stream. The pid
// of each property rides in the pair's history, placed there by the
// properties expert.
func (x *dropExpert) dropProperties(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Drop)
	qp := qs.qp
	writes := 0
	for _, pair := range m.Data {
		pid, ok := lastIntHistory(pair.History)
		if !ok {
			continue
		}
		var owner int
		if op.Element == graph.Vertex {
			owner = e.Ctx.ownerOf(graph.VPID(pid).VID())
		} else {
			owner = e.Ctx.ownerOf(graph.EPID(pid).EID().Out())
		}
		if owner != e.Ctx.Rank {
			continue
		}
		writes++
		var stat storage.WriteStat
		if op.Element == graph.Vertex {
			stat = e.Ctx.Store.ProcessModifyVP(graph.VPID(pid), graph.Value{}, qp.TrxID, qp.BT, tid)
		} else {
			stat = e.Ctx.Store.ProcessModifyEP(graph.EPID(pid), graph.Value{}, qp.TrxID, qp.BT, tid)
		}
		if stat == storage.WriteConflict {
			return nil, errAbort("Processing", "TryDropProperty")
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, writes, false)
	return e.forward(qs, m, nil, tid)
}

// lastIntHistory returns the most recent int-typed breadcrumb, the pid the
// properties expert recorded.
func lastIntHistory(history msg.History) (uint64, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Value.Type == graph.TypeInt {
			return uint64(history[i].Value.Int()), true
		}
	}
	return 0, false
}

// forwardEdgeDrops routes dropped-vertex edges to every worker hosting an
// endpoint.
func (e *Engine) forwardEdgeDrops(qs *queryState, m *msg.Message, data []msg.Pair, tid int) ([]msg.Message, error) {
	next := qs.qp.Steps[m.Meta.Step].Next
	var routed []msg.Routed
	for i := range data {
		byNode := make(map[int][]graph.Value)
		for _, v := range data[i].Values {
			eid := graph.EID(uint64(v.Int()))
			outOwner := e.Ctx.ownerOf(eid.Out())
			inOwner := e.Ctx.ownerOf(eid.In())
			byNode[outOwner] = append(byNode[outOwner], v)
			if inOwner != outOwner {
				byNode[inOwner] = append(byNode[inOwner], v)
			}
		}
		for node, values := range byNode {
			routed = append(routed, msg.Routed{
				Route: msg.Route{Node: node, Thread: e.Ctx.threadFor(m.Meta.QID, next)},
				Pair:  msg.Pair{History: data[i].History, Values: values},
			})
		}
	}
	fallback := msg.Route{Node: m.Meta.RecverNode, Thread: e.Ctx.threadFor(m.Meta.QID, next)}
	return msg.CreateNextMessages(m, next, routed, msg.TypeFeed, e.Ctx.MaxMessageSize, fallback), nil
}

// buildIndexExpert rebuilds one property index from committed state.
type buildIndexExpert struct{}

func (x *buildIndexExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.BuildIndex)
	qp := qs.qp

	var ids []uint64
	var values []graph.Value
	collect := func(id uint64) {
		if op.PKey == 0 {
			var label graph.Label
			var stat storage.ReadStat
			if op.Element == graph.Vertex {
				label, stat = e.Ctx.Store.GetVL(graph.VID(id), qp.TrxID, qp.BT, true)
			} else {
				label, stat = e.Ctx.Store.GetEL(graph.EID(id), qp.TrxID, qp.BT, true)
			}
			if stat == storage.ReadSuccess {
				ids = append(ids, id)
				values = append(values, graph.IntValue(int64(label)))
			}
			return
		}
		value, stat := e.readProperty(op.Element, id, op.PKey, qp, true)
		if stat == storage.ReadSuccess {
			ids = append(ids, id)
			values = append(values, value)
		}
	}
	if op.Element == graph.Vertex {
		vids, _ := e.Ctx.Store.AllVertices(qp.TrxID, qp.BT, true)
		for _, vid := range vids {
			collect(uint64(vid))
		}
	} else {
		eids, _ := e.Ctx.Store.AllEdges(qp.TrxID, qp.BT, true)
		for _, eid := range eids {
			collect(uint64(eid))
		}
	}
	e.Ctx.Indexes.Build(op.Element, op.PKey, ids, values)

	var out []msg.Pair
	if m.Meta.RecverNode == m.Meta.ParentNode {
		out = []msg.Pair{{Values: []graph.Value{graph.StringValue("BuildIndex finished")}}}
	}
	return e.forward(qs, m, out, tid)
}

// setConfigExpert flips a runtime tunable.
type setConfigExpert struct{}

func (x *setConfigExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.SetConfig)
	ok := false
	if e.Ctx.Tunables != nil {
		if op.IsInt {
			ok = e.Ctx.Tunables.SetInt(op.Name, op.IntValue)
		} else {
			ok = e.Ctx.Tunables.Set(op.Name, op.Enable)
		}
	}
	if !ok {
		return nil, errAbort("Processing", "SetConfig")
	}
	var out []msg.Pair
	if m.Meta.RecverNode == m.Meta.ParentNode {
		out = []msg.Pair{{Values: []graph.Value{graph.StringValue("SetConfig finished")}}}
	}
	return e.forward(qs, m, out, tid)
}
