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
	"fmt"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/msg"
	"github.com/ebay/gryphon/query/plan"
	"github.com/ebay/gryphon/storage"
)

// errAbort wraps the abort reason surfaced to the client.
func errAbort(stage, detail string) error {
	return fmt.Errorf("Abort with [%s][%s]", stage, detail)
}

// initExpert seeds a query with its input elements: an explicit seed set,
// index candidates for pushed-down predicates, or a partition scan.
type initExpert struct{}

func (x *initExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Init)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)

	var ids []uint64
	switch {
	case m.Meta.RecverNode == m.Meta.ParentNode && len(op.Seed) > 0:
		// The seed travels on the parent's INIT only; other workers
		// contribute nothing and just report their path.
		for _, v := range op.Seed {
			ids = append(ids, uint64(v.Int()))
		}
	case len(op.Seed) > 0:
		// Seeded query: nothing to scan on non-parent workers.
	default:
		var stat storage.ReadStat
		ids, stat = e.scanPartition(op, qp, readOnly)
		if stat == storage.ReadAbort {
			return nil, errAbort("Processing", "Init")
		}
	}

	// Verify pushed-down predicates (and existence) against MVCC-visible
	// state; index hits are only candidates.
	var values []graph.Value
	for _, id := range ids {
		if len(op.Seed) > 0 && e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
			if m.Meta.RecverNode != m.Meta.ParentNode {
				continue
			}
			// Seeds for remote partitions flow onward; their owner verifies
			// them at the next read.
			values = append(values, graph.UintValue(id))
			continue
		}
		keep, stat := e.checkPushed(op, qp, id, readOnly)
		if stat == storage.ReadAbort {
			return nil, errAbort("Processing", "Init")
		}
		if keep {
			values = append(values, graph.UintValue(id))
		}
	}

	e.Ctx.Store.PushToRWRecord(qp.TrxID, len(values), true)
	var data []msg.Pair
	if len(values) > 0 {
		data = []msg.Pair{{Values: values}}
	}
	return e.forward(qs, m, data, tid)
}

// scanPartition lists this worker's visible elements, going through the
// index when a pushed predicate has one.
func (e *Engine) scanPartition(op *plan.Init, qp *plan.QueryPlan, readOnly bool) ([]uint64, storage.ReadStat) {
	if len(op.Pushed) > 0 && e.Ctx.Indexes != nil {
		if ids, ok := e.Ctx.Indexes.Lookup(op.Element, graph.Label(op.Pushed[0].PKey), op.Pushed[0].Pred); ok {
			local := ids[:0]
			for _, id := range ids {
				if e.ownerOfElement(op.Element, id) == e.Ctx.Rank {
					local = append(local, id)
				}
			}
			return local, storage.ReadSuccess
		}
	}
	if op.Element == graph.Vertex {
		vids, stat := e.Ctx.Store.AllVertices(qp.TrxID, qp.BT, readOnly)
		ids := make([]uint64, len(vids))
		for i, vid := range vids {
			ids[i] = uint64(vid)
		}
		return ids, stat
	}
	// Cross-worker edges sit in both endpoint owners' maps; only the out
	// endpoint's owner reports them.
	eids, stat := e.Ctx.Store.AllEdges(qp.TrxID, qp.BT, readOnly)
	ids := make([]uint64, 0, len(eids))
	for _, eid := range eids {
		if e.Ctx.ownerOf(eid.Out()) == e.Ctx.Rank {
			ids = append(ids, uint64(eid))
		}
	}
	return ids, stat
}

func (e *Engine) ownerOfElement(element graph.ElementType, id uint64) int {
	if element == graph.Edge {
		return e.Ctx.ownerOf(graph.EID(id).Out())
	}
	return e.Ctx.ownerOf(graph.VID(id))
}

// checkPushed re-verifies existence plus any hoisted predicates.
func (e *Engine) checkPushed(op *plan.Init, qp *plan.QueryPlan, id uint64, readOnly bool) (bool, storage.ReadStat) {
	if op.Element == graph.Vertex {
		exists, stat := e.Ctx.Store.VertexExists(graph.VID(id), qp.TrxID, qp.BT, readOnly)
		if stat == storage.ReadAbort || !exists {
			return false, stat
		}
	} else {
		_, stat := e.Ctx.Store.GetEL(graph.EID(id), qp.TrxID, qp.BT, readOnly)
		if stat != storage.ReadSuccess {
			return false, stat
		}
	}
	for _, pushed := range op.Pushed {
		keep, stat := e.evalHasPred(op.Element, id, pushed, qp, readOnly)
		if stat == storage.ReadAbort || !keep {
			return false, stat
		}
	}
	return true, storage.ReadSuccess
}

// traversalExpert walks the topology rows of each input element.
type traversalExpert struct{}

func (x *traversalExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Traversal)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)
	reads := 0

	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			if op.In == graph.Edge {
				// inV/outV/bothV read the endpoints straight off the eid.
				eid := graph.EID(uint64(v.Int()))
				switch op.Direction {
				case graph.DirOut:
					values = append(values, graph.UintValue(uint64(eid.Out())))
				case graph.DirIn:
					values = append(values, graph.UintValue(uint64(eid.In())))
				default:
					values = append(values,
						graph.UintValue(uint64(eid.Out())), graph.UintValue(uint64(eid.In())))
				}
				continue
			}
			vid := graph.VID(uint64(v.Int()))
			if e.Ctx.ownerOf(vid) != e.Ctx.Rank {
				continue
			}
			reads++
			if op.Out == graph.Vertex {
				nbs, stat := e.Ctx.Store.ConnectedVertices(vid, op.Direction, op.Label, qp.TrxID, qp.BT, readOnly)
				if stat == storage.ReadAbort {
					return nil, errAbort("Processing", "Traversal")
				}
				for _, nb := range nbs {
					values = append(values, graph.UintValue(uint64(nb)))
				}
			} else {
				eids, stat := e.Ctx.Store.ConnectedEdges(vid, op.Direction, op.Label, qp.TrxID, qp.BT, readOnly)
				if stat == storage.ReadAbort {
					return nil, errAbort("Processing", "Traversal")
				}
				for _, eid := range eids {
					values = append(values, graph.UintValue(uint64(eid)))
				}
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, reads, true)
	return e.forward(qs, m, out, tid)
}

// readProperty reads one property of an element, going through the expert
// cache for read-only transactions.
func (e *Engine) readProperty(element graph.ElementType, id uint64, pkey graph.Label,
	qp *plan.QueryPlan, readOnly bool) (graph.Value, storage.ReadStat) {
	var pid uint64
	if element == graph.Vertex {
		pid = uint64(graph.NewVPID(graph.VID(id), pkey))
	} else {
		pid = uint64(graph.NewEPID(graph.EID(id), pkey))
	}
	useCache := readOnly && e.Ctx.Tunables != nil && e.Ctx.Tunables.Snapshot().EnableCache
	if useCache {
		if v, ok := e.Ctx.Cache.Get(pid, qp.BT); ok {
			return v, storage.ReadSuccess
		}
	}
	var value graph.Value
	var stat storage.ReadStat
	if element == graph.Vertex {
		value, stat = e.Ctx.Store.GetVP(graph.VPID(pid), qp.TrxID, qp.BT, readOnly)
	} else {
		value, stat = e.Ctx.Store.GetEP(graph.EPID(pid), qp.TrxID, qp.BT, readOnly)
	}
	if stat == storage.ReadSuccess {
		e.Ctx.Store.RecordRead(qp.TrxID, pid)
		if useCache {
			e.Ctx.Cache.Put(pid, qp.BT, value)
		}
	} else if stat == storage.ReadNotFound {
		e.Ctx.Store.RecordRead(qp.TrxID, pid)
	}
	return value, stat
}

// evalHasPred evaluates one has() predicate against an element.
func (e *Engine) evalHasPred(element graph.ElementType, id uint64, hp plan.HasPred,
	qp *plan.QueryPlan, readOnly bool) (bool, storage.ReadStat) {
	// Key 0 is the label pseudo-property.
	if hp.PKey == 0 {
		var label graph.Label
		var stat storage.ReadStat
		if element == graph.Vertex {
			label, stat = e.Ctx.Store.GetVL(graph.VID(id), qp.TrxID, qp.BT, readOnly)
		} else {
			label, stat = e.Ctx.Store.GetEL(graph.EID(id), qp.TrxID, qp.BT, readOnly)
		}
		if stat != storage.ReadSuccess {
			return false, stat
		}
		return hp.Pred.Eval(graph.IntValue(int64(label))), storage.ReadSuccess
	}

	// Key -1 matches the predicate against any property.
	if hp.PKey == -1 {
		keys, values, stat := e.readAllProperties(element, id, qp, readOnly)
		if stat != storage.ReadSuccess {
			return false, stat
		}
		_ = keys
		for _, v := range values {
			if hp.Pred.Eval(v) {
				return true, storage.ReadSuccess
			}
		}
		return false, storage.ReadSuccess
	}

	value, stat := e.readProperty(element, id, graph.Label(hp.PKey), qp, readOnly)
	if stat == storage.ReadAbort {
		return false, stat
	}
	if stat == storage.ReadNotFound {
		return hp.Pred.EvalMissing(), storage.ReadSuccess
	}
	return hp.Pred.Eval(value), storage.ReadSuccess
}

func (e *Engine) readAllProperties(element graph.ElementType, id uint64,
	qp *plan.QueryPlan, readOnly bool) ([]graph.Label, []graph.Value, storage.ReadStat) {
	if element == graph.Vertex {
		return e.Ctx.Store.GetAllVP(graph.VID(id), qp.TrxID, qp.BT, readOnly)
	}
	return e.Ctx.Store.GetAllEP(graph.EID(id), qp.TrxID, qp.BT, readOnly)
}

// hasExpert filters elements by property predicates.
type hasExpert struct{}

func (x *hasExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Has)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)
	reads := 0

	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
				continue
			}
			keep := true
			for _, hp := range op.Preds {
				reads++
				ok, stat := e.evalHasPred(op.Element, id, hp, qp, readOnly)
				if stat == storage.ReadAbort {
					return nil, errAbort("Processing", "Has")
				}
				if !ok {
					keep = false
					break
				}
			}
			if keep {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, reads, true)
	return e.forward(qs, m, out, tid)
}

// hasLabelExpert keeps elements whose label is in the operator's set.
type hasLabelExpert struct{}

func (x *hasLabelExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.HasLabel)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)
	reads := 0

	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
				continue
			}
			reads++
			var label graph.Label
			var stat storage.ReadStat
			if op.Element == graph.Vertex {
				label, stat = e.Ctx.Store.GetVL(graph.VID(id), qp.TrxID, qp.BT, readOnly)
			} else {
				label, stat = e.Ctx.Store.GetEL(graph.EID(id), qp.TrxID, qp.BT, readOnly)
			}
			if stat == storage.ReadAbort {
				return nil, errAbort("Processing", "HasLabel")
			}
			if stat != storage.ReadSuccess {
				continue
			}
			for _, want := range op.Labels {
				if label == want {
					values = append(values, v)
					break
				}
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, reads, true)
	return e.forward(qs, m, out, tid)
}

// isExpert filters scalar values by predicates.
type isExpert struct{}

func (x *isExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Is)
	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			keep := true
			for _, pred := range op.Preds {
				if !pred.Eval(v) {
					keep = false
					break
				}
			}
			if keep {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	return e.forward(qs, m, out, tid)
}

// whereExpert filters values by history comparisons.
type whereExpert struct{}

func (x *whereExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Where)
	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			if whereMatch(op, pair.History, v) {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	return e.forward(qs, m, out, tid)
}

func whereMatch(op *plan.Where, history msg.History, v graph.Value) bool {
	for _, cond := range op.Conds {
		subject := v
		if cond.HistoryKey >= 0 {
			recorded, ok := history.Get(cond.HistoryKey)
			if !ok {
				return false
			}
			subject = recorded
		}
		var operands []graph.Value
		for _, key := range cond.RefKeys {
			if recorded, ok := history.Get(key); ok {
				operands = append(operands, recorded)
			}
		}
		pred := graph.Predicate{Kind: cond.Pred, Values: operands}
		if len(operands) == 0 && cond.Pred != graph.PredNone {
			return false
		}
		if !pred.Eval(subject) {
			return false
		}
	}
	return true
}

// valuesExpert projects elements to their property values.
type valuesExpert struct{}

func (x *valuesExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Values)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)
	reads := 0

	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
				continue
			}
			keys := op.Keys
			if len(keys) == 0 {
				allKeys, allValues, stat := e.readAllProperties(op.Element, id, qp, readOnly)
				if stat == storage.ReadAbort {
					return nil, errAbort("Processing", "Values")
				}
				_ = allKeys
				values = append(values, allValues...)
				reads += len(allValues)
				continue
			}
			for _, key := range keys {
				reads++
				value, stat := e.readProperty(op.Element, id, key, qp, readOnly)
				if stat == storage.ReadAbort {
					return nil, errAbort("Processing", "Values")
				}
				if stat == storage.ReadSuccess {
					values = append(values, value)
				}
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, reads, true)
	return e.forward(qs, m, out, tid)
}

// propertiesExpert projects elements to (pid, "{key:value}") pairs.
type propertiesExpert struct{}

func (x *propertiesExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Properties)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)
	reads := 0

	var out []msg.Pair
	for _, pair := range m.Data {
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
				continue
			}
			keys, propValues, stat := e.readAllProperties(op.Element, id, qp, readOnly)
			if stat == storage.ReadAbort {
				return nil, errAbort("Processing", "Properties")
			}
			reads += len(keys)
			for i, key := range keys {
				if len(op.Keys) > 0 && !containsKey(op.Keys, key) {
					continue
				}
				var pid uint64
				if op.Element == graph.Vertex {
					pid = uint64(graph.NewVPID(graph.VID(id), key))
				} else {
					pid = uint64(graph.NewEPID(graph.EID(id), key))
				}
				name := e.Ctx.Strings.PropKeyName(op.Element, key)
				rendered := graph.StringValue(fmt.Sprintf("{%s:%s}", name, propValues[i].String()))
				// Each property is its own (pid, rendered) pair; the pid rides
				// in the history so a following drop() can target the cell.
				history := pair.History.Clone()
				history = append(history, msg.HistoryEntry{Key: m.Meta.Step, Value: graph.UintValue(pid)})
				out = append(out, msg.Pair{History: history, Values: []graph.Value{rendered}})
			}
		}
	}
	e.Ctx.Store.PushToRWRecord(qp.TrxID, reads, true)
	return e.forward(qs, m, out, tid)
}

func containsKey(keys []graph.Label, key graph.Label) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// labelExpert projects elements to their label name.
type labelExpert struct{}

func (x *labelExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Label)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)

	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
				continue
			}
			var label graph.Label
			var stat storage.ReadStat
			if op.Element == graph.Vertex {
				label, stat = e.Ctx.Store.GetVL(graph.VID(id), qp.TrxID, qp.BT, readOnly)
			} else {
				label, stat = e.Ctx.Store.GetEL(graph.EID(id), qp.TrxID, qp.BT, readOnly)
			}
			if stat == storage.ReadAbort {
				return nil, errAbort("Processing", "Label")
			}
			if stat == storage.ReadSuccess {
				values = append(values, graph.StringValue(e.Ctx.Strings.LabelName(op.Element, label)))
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	return e.forward(qs, m, out, tid)
}

// keyExpert projects property pairs ("{key:value}" strings) to their key
// names.
type keyExpert struct{}

func (x *keyExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		var values []graph.Value
		for _, v := range pair.Values {
			s := v.String()
			if len(s) > 2 && s[0] == '{' {
				for i := 1; i < len(s); i++ {
					if s[i] == ':' {
						values = append(values, graph.StringValue(s[1:i]))
						break
					}
				}
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	return e.forward(qs, m, out, tid)
}

// asExpert records each value in its pair's history.
type asExpert struct{}

func (x *asExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.As)
	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		// Each value becomes its own history bucket so later selects and
		// wheres can refer to it individually.
		for _, v := range pair.Values {
			history := pair.History.Clone()
			history = append(history, msg.HistoryEntry{Key: op.LabelStep, Value: v})
			out = append(out, msg.Pair{History: history, Values: []graph.Value{v}})
		}
	}
	return e.forward(qs, m, out, tid)
}

// selectExpert projects history entries back out.
type selectExpert struct{}

func (x *selectExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Select)
	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		if len(op.Keys) == 1 {
			if recorded, ok := pair.History.Get(op.Keys[0]); ok {
				out = append(out, msg.Pair{History: pair.History,
					Values: repeatValue(recorded, len(pair.Values))})
			}
			continue
		}
		var values []graph.Value
		for i, key := range op.Keys {
			if recorded, ok := pair.History.Get(key); ok {
				values = append(values,
					graph.StringValue(fmt.Sprintf("{%s:%s}", op.Names[i], recorded.String())))
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	return e.forward(qs, m, out, tid)
}

func repeatValue(v graph.Value, n int) []graph.Value {
	if n == 0 {
		n = 1
	}
	out := make([]graph.Value, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// projectExpert maps elements to (key, value) projections feeding group and
// order.
type projectExpert struct{}

func (x *projectExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.Project)
	qp := qs.qp
	readOnly := readOnlyTrx(qp)
	stepIndex := m.Meta.Step

	out := make([]msg.Pair, 0, len(m.Data))
	for _, pair := range m.Data {
		for _, v := range pair.Values {
			id := uint64(v.Int())
			if e.ownerOfElement(op.Element, id) != e.Ctx.Rank {
				continue
			}
			projected, stat := e.projectValue(op, id, op.KeyID, qp, readOnly)
			if stat == storage.ReadAbort {
				return nil, errAbort("Processing", "Project")
			}
			if stat != storage.ReadSuccess {
				continue
			}
			value := v
			if op.ValueID != -1 {
				value, stat = e.projectValue(op, id, op.ValueID, qp, readOnly)
				if stat == storage.ReadAbort {
					return nil, errAbort("Processing", "Project")
				}
				if stat != storage.ReadSuccess {
					continue
				}
			}
			// The projection rides in the history under this step's key.
			history := pair.History.Clone()
			history = append(history, msg.HistoryEntry{Key: stepIndex, Value: projected})
			out = append(out, msg.Pair{History: history, Values: []graph.Value{value}})
		}
	}
	return e.forward(qs, m, out, tid)
}

// projectValue reads a projection component: a property, or the label when
// keyID is 0.
func (e *Engine) projectValue(op *plan.Project, id uint64, keyID int,
	qp *plan.QueryPlan, readOnly bool) (graph.Value, storage.ReadStat) {
	if keyID == 0 {
		var label graph.Label
		var stat storage.ReadStat
		if op.Element == graph.Vertex {
			label, stat = e.Ctx.Store.GetVL(graph.VID(id), qp.TrxID, qp.BT, readOnly)
		} else {
			label, stat = e.Ctx.Store.GetEL(graph.EID(id), qp.TrxID, qp.BT, readOnly)
		}
		if stat != storage.ReadSuccess {
			return graph.Value{}, stat
		}
		return graph.StringValue(e.Ctx.Strings.LabelName(op.Element, label)), storage.ReadSuccess
	}
	return e.readProperty(op.Element, id, graph.Label(keyID), qp, readOnly)
}
