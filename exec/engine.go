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
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/msg"
	"github.com/ebay/gryphon/query/plan"
	"github.com/ebay/gryphon/util/parallel"
	log "github.com/sirupsen/logrus"
)

// An Expert processes one message of its operator kind and returns the
// outbound messages. Returning an error converts the message into a
// transaction abort.
type Expert interface {
	Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error)
}

// queryState is the per-query execution state on one worker: the released
// plan plus the barrier accumulators keyed by (qid, branch msg, branch
// index).
type queryState struct {
	qp *plan.QueryPlan

	lock     sync.Mutex
	barriers map[string]*accumulator
}

// accumulator is one barrier's partial state.
type accumulator struct {
	lock    sync.Mutex
	counter *msg.PathCounter
	data    []msg.Pair
	// Expert-specific state, created by the barrier expert on first use.
	state any
}

// An Engine is one worker's expert adapter: a fixed pool of threads pulling
// messages from the mailbox and dispatching to the registry.
type Engine struct {
	Ctx *Context

	registry map[plan.Kind]Expert

	lock    sync.Mutex
	queries map[uint64]*queryState

	// Side-effect slots of aggregate()/cap(), keyed by "trxid/sekey".
	seLock      sync.Mutex
	sideEffects map[string][]graph.Value

	nextMsgID atomic.Int64
}

// NewEngine builds the engine with the full expert registry.
func NewEngine(ctx *Context) *Engine {
	e := &Engine{
		Ctx:         ctx,
		queries:     make(map[uint64]*queryState),
		sideEffects: make(map[string][]graph.Value),
	}
	e.registry = newRegistry()
	return e
}

// newRegistry wires every operator kind to its expert instance.
func newRegistry() map[plan.Kind]Expert {
	barrier := func(sub barrierLogic) Expert {
		return &barrierExpert{logic: sub}
	}
	return map[plan.Kind]Expert{
		plan.KindInit:           &initExpert{},
		plan.KindTraversal:      &traversalExpert{},
		plan.KindHas:            &hasExpert{},
		plan.KindHasLabel:       &hasLabelExpert{},
		plan.KindIs:             &isExpert{},
		plan.KindWhere:          &whereExpert{},
		plan.KindValues:         &valuesExpert{},
		plan.KindProperties:     &propertiesExpert{},
		plan.KindProperty:       &propertyExpert{},
		plan.KindAddV:           &addVExpert{},
		plan.KindAddE:           &addEExpert{},
		plan.KindDrop:           &dropExpert{},
		plan.KindLabel:          &labelExpert{},
		plan.KindKey:            &keyExpert{},
		plan.KindAs:             &asExpert{},
		plan.KindSelect:         &selectExpert{},
		plan.KindProject:        &projectExpert{},
		plan.KindBranch:         &branchExpert{},
		plan.KindRepeat:         &branchExpert{},
		plan.KindBranchFilter:   &branchFilterExpert{},
		plan.KindCount:          barrier(&countLogic{}),
		plan.KindDedup:          barrier(&dedupLogic{}),
		plan.KindGroup:          barrier(&groupLogic{}),
		plan.KindOrder:          barrier(&orderLogic{}),
		plan.KindRange:          barrier(&rangeLogic{}),
		plan.KindCoin:           barrier(&coinLogic{}),
		plan.KindMath:           barrier(&mathLogic{}),
		plan.KindAggregate:      barrier(&aggregateLogic{}),
		plan.KindCap:            barrier(&capLogic{}),
		plan.KindEnd:            barrier(&endLogic{}),
		plan.KindValidation:     &validationExpert{},
		plan.KindPostValidation: barrier(&postValidationLogic{}),
		plan.KindCommit:         &commitExpert{},
		plan.KindBuildIndex:     &buildIndexExpert{},
		plan.KindSetConfig:      &setConfigExpert{},
	}
}

// RegisterQuery makes a released plan visible to this worker's experts.
// Every worker registers the plan before the INIT fan-out reaches it.
func (e *Engine) RegisterQuery(qp *plan.QueryPlan) {
	e.lock.Lock()
	e.queries[QueryID(qp.TrxID, qp.QueryIndex)] = &queryState{
		qp:       qp,
		barriers: make(map[string]*accumulator),
	}
	e.lock.Unlock()
}

// UnregisterQuery drops a finished query's state.
func (e *Engine) UnregisterQuery(qid uint64) {
	e.lock.Lock()
	delete(e.queries, qid)
	e.lock.Unlock()
}

// QueryID composes the cluster-wide query id of one line of a transaction.
func QueryID(trxID uint64, queryIndex int) uint64 {
	return trxID<<8 | uint64(queryIndex)&0xFF
}

// Run pulls messages on every expert thread until the context ends.
func (e *Engine) Run(ctx context.Context) {
	wait := parallel.GoN(e.Ctx.Threads, func(tid int) {
		for {
			m, err := e.Ctx.Mailbox.Recv(ctx, tid)
			if err != nil {
				return
			}
			e.handle(ctx, &m, tid)
		}
	})
	wait()
}

// handle dispatches one message to its expert and sends the outputs.
func (e *Engine) handle(ctx context.Context, m *msg.Message, tid int) {
	e.lock.Lock()
	qs := e.queries[m.Meta.QID]
	e.lock.Unlock()
	if qs == nil {
		log.WithFields(log.Fields{
			"qid":  m.Meta.QID,
			"step": m.Meta.Step,
		}).Warn("Dropping message for unregistered query")
		return
	}
	out, err := e.process(qs, m, tid)
	if err != nil {
		abort := msg.CreateAbortMessage(m, err.Error())
		out = []msg.Message{abort}
	}
	for _, om := range out {
		if sendErr := e.Ctx.Mailbox.Send(ctx, om); sendErr != nil {
			return
		}
	}
}

// process runs the expert for the message's current operator.
func (e *Engine) process(qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	step := m.Meta.Step
	if step < 0 || step >= len(qs.qp.Steps) {
		log.Panicf("exec: message for query %d addresses step %d of %d",
			m.Meta.QID, step, len(qs.qp.Steps))
	}
	kind := qs.qp.Steps[step].Op.Kind()
	expert := e.registry[kind]
	if expert == nil {
		return nil, fmt.Errorf("no expert for operator %v", kind)
	}
	return expert.Process(e, qs, m, tid)
}

// barrierKinds are the operators that must see all partial results before
// emitting.
var barrierKinds = map[plan.Kind]bool{
	plan.KindCount:          true,
	plan.KindDedup:          true,
	plan.KindGroup:          true,
	plan.KindOrder:          true,
	plan.KindRange:          true,
	plan.KindCoin:           true,
	plan.KindMath:           true,
	plan.KindAggregate:      true,
	plan.KindCap:            true,
	plan.KindEnd:            true,
	plan.KindPostValidation: true,
}

// forward routes data to the operator after the message's current step:
// barriers centralize on the parent worker, remote-send operators partition
// per destination owner, everything else stays on the local thread.
func (e *Engine) forward(qs *queryState, m *msg.Message, data []msg.Pair, tid int) ([]msg.Message, error) {
	cur := qs.qp.Steps[m.Meta.Step]
	next := cur.Next
	if next >= len(qs.qp.Steps) {
		log.Panicf("exec: operator %v has no successor", cur.Op.Kind())
	}
	nextOp := qs.qp.Steps[next].Op

	// Results flowing back into their branch operator collect at the
	// spawning worker.
	if isBranchKind(nextOp.Kind()) && next <= m.Meta.Step {
		if top := topBranchInfo(m); top != nil && top.Key == next {
			route := msg.Route{Node: top.Node, Thread: top.Thread}
			routed := make([]msg.Routed, len(data))
			for i := range data {
				routed[i] = msg.Routed{Route: route, Pair: data[i]}
			}
			return msg.CreateNextMessages(m, next, routed, msg.TypeBranch,
				e.Ctx.MaxMessageSize, route), nil
		}
	}

	var fallback msg.Route
	var routed []msg.Routed
	switch {
	case barrierKinds[nextOp.Kind()]:
		route := msg.Route{Node: m.Meta.ParentNode, Thread: e.Ctx.threadFor(m.Meta.QID, next)}
		fallback = route
		for i := range data {
			routed = append(routed, msg.Routed{Route: route, Pair: data[i]})
		}
	case nextOp.Kind() == plan.KindCommit:
		// The commit decision fans out to every worker.
		for node := 0; node < e.Ctx.WorkerCount; node++ {
			route := msg.Route{Node: node, Thread: e.Ctx.threadFor(m.Meta.QID, next)}
			for i := range data {
				routed = append(routed, msg.Routed{Route: route, Pair: data[i]})
			}
		}
		fallback = msg.Route{Node: m.Meta.ParentNode, Thread: e.Ctx.threadFor(m.Meta.QID, next)}
	case cur.SendRemote:
		element, ok := outputElement(cur)
		fallback = msg.Route{Node: m.Meta.RecverNode, Thread: e.Ctx.threadFor(m.Meta.QID, next)}
		if !ok {
			for i := range data {
				routed = append(routed, msg.Routed{Route: fallback, Pair: data[i]})
			}
			break
		}
		routed = e.partitionByOwner(data, element, m.Meta.QID, next)
	default:
		route := msg.Route{Node: m.Meta.RecverNode, Thread: tid}
		fallback = route
		for i := range data {
			routed = append(routed, msg.Routed{Route: route, Pair: data[i]})
		}
	}
	msgType := msg.TypeFeed
	if barrierKinds[nextOp.Kind()] {
		msgType = msg.TypeBarrier
	}
	return msg.CreateNextMessages(m, next, routed, msgType, e.Ctx.MaxMessageSize, fallback), nil
}

// partitionByOwner splits each pair's values by the owning worker of the
// element they name.
func (e *Engine) partitionByOwner(data []msg.Pair, element graph.ElementType,
	qid uint64, next int) []msg.Routed {
	var out []msg.Routed
	for i := range data {
		byNode := make(map[int][]graph.Value)
		for _, v := range data[i].Values {
			byNode[e.ownerOfValue(element, v)] = append(byNode[e.ownerOfValue(element, v)], v)
		}
		for node, values := range byNode {
			out = append(out, msg.Routed{
				Route: msg.Route{Node: node, Thread: e.Ctx.threadFor(qid, next)},
				Pair:  msg.Pair{History: data[i].History, Values: values},
			})
		}
	}
	return out
}

// ownerOfValue maps an element-id value to its hosting worker; edges live
// with their out endpoint.
func (e *Engine) ownerOfValue(element graph.ElementType, v graph.Value) int {
	id := uint64(v.Int())
	if element == graph.Edge {
		return e.Ctx.ownerOf(graph.EID(id).Out())
	}
	return e.Ctx.ownerOf(graph.VID(id))
}

// outputElement says what element ids a step emits, if any. Operators that
// know their output type answer directly; pass-through operators use the
// element hint the planner recorded.
func outputElement(step plan.Step) (graph.ElementType, bool) {
	switch o := step.Op.(type) {
	case *plan.Init:
		return o.Element, true
	case *plan.Traversal:
		return o.Out, true
	case *plan.Has:
		return o.Element, true
	case *plan.HasLabel:
		return o.Element, true
	case *plan.AddV:
		return graph.Vertex, true
	case *plan.AddE:
		return graph.Edge, true
	}
	if step.RemoteElement != 0 {
		return step.RemoteElement, true
	}
	return 0, false
}

func isBranchKind(kind plan.Kind) bool {
	return kind == plan.KindBranch || kind == plan.KindRepeat || kind == plan.KindBranchFilter
}

func topBranchInfo(m *msg.Message) *msg.BranchInfo {
	if len(m.Meta.BranchInfos) == 0 {
		return nil
	}
	return &m.Meta.BranchInfos[len(m.Meta.BranchInfos)-1]
}

// sideEffectKey scopes aggregate() slots to the transaction.
func sideEffectKey(trxID uint64, key int) string {
	return fmt.Sprintf("%d/%d", trxID, key)
}

// appendSideEffect stores aggregated values.
func (e *Engine) appendSideEffect(trxID uint64, key int, values []graph.Value) {
	e.seLock.Lock()
	k := sideEffectKey(trxID, key)
	e.sideEffects[k] = append(e.sideEffects[k], values...)
	e.seLock.Unlock()
}

// sideEffect reads an aggregate slot.
func (e *Engine) sideEffect(trxID uint64, key int) []graph.Value {
	e.seLock.Lock()
	defer e.seLock.Unlock()
	return e.sideEffects[sideEffectKey(trxID, key)]
}

// ClearTransaction drops side-effect slots after commit/abort.
func (e *Engine) ClearTransaction(trxID uint64) {
	e.seLock.Lock()
	prefix := fmt.Sprintf("%d/", trxID)
	for k := range e.sideEffects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.sideEffects, k)
		}
	}
	e.seLock.Unlock()
}

// readOnlyTrx reports whether the whole transaction is read-only, which
// relaxes MVCC visibility to skip uncommitted tails.
func readOnlyTrx(qp *plan.QueryPlan) bool {
	return qp.TrxKind == plan.TrxReadOnly
}
