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
	log "github.com/sirupsen/logrus"
)

// validationExpert runs each worker's local validation of the transaction
// against its RCT-derived check set. Verdicts converge at the parent's
// post-validation barrier.
type validationExpert struct{}

func (x *validationExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	qp := qs.qp
	verdict := e.validateLocal(qp)
	out := []msg.Pair{{Values: []graph.Value{boolValue(verdict)}}}
	return e.forward(qs, m, out, tid)
}

// validateLocal checks this worker's reads against transactions that
// committed inside the (bt, ct) window. Write-write conflicts abort eagerly
// at append time, so snapshot isolation has nothing left to check here;
// serializability additionally rejects read-write overlap with the check
// set.
func (e *Engine) validateLocal(qp *plan.QueryPlan) bool {
	if qp.TrxKind == plan.TrxReadOnly {
		return true
	}
	if !e.Ctx.Serializable {
		return true
	}
	if qp.CT == 0 || qp.CT <= qp.BT+1 {
		return true
	}
	checkSet := e.Ctx.RCT.QueryTrx(qp.BT+1, qp.CT-1)
	if len(checkSet) == 0 {
		return true
	}
	readSet := e.Ctx.Store.ReadSet(qp.TrxID)
	if len(readSet) == 0 {
		return true
	}
	reads := make(map[uint64]bool, len(readSet))
	for _, pid := range readSet {
		reads[pid] = true
	}
	for _, committed := range checkSet {
		for _, pid := range e.Ctx.Store.CommittedWrites(committed) {
			if reads[pid] {
				log.WithFields(log.Fields{
					"trx":      qp.TrxID,
					"conflict": committed,
					"pid":      pid,
				}).Debug("Validation found a conflicting recent commit")
				return false
			}
		}
	}
	return true
}

// postValidationLogic is the parent-side barrier that ANDs the per-worker
// verdicts into the commit/abort decision.
type postValidationLogic struct{}

type postValidationState struct {
	allValid bool
}

func (l *postValidationLogic) newState() any {
	return &postValidationState{allValid: true}
}

func (l *postValidationLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	state := acc.state.(*postValidationState)
	for _, pair := range m.Data {
		for _, v := range pair.Values {
			if v.Int() == 0 {
				state.allValid = false
			}
		}
	}
	return nil
}

func (l *postValidationLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	state := acc.state.(*postValidationState)
	return []msg.Pair{{Values: []graph.Value{boolValue(state.allValid)}}}, nil
}

// commitExpert applies the decision on every worker: publish or roll back
// the MVCC appends. The status table's C/A bit flips on the originating
// worker only after the terminal barrier has seen every partition apply, so
// a reader that observes COMMITTED always sees the published versions.
type commitExpert struct{}

func (x *commitExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	qp := qs.qp
	commit := true
	for _, pair := range m.Data {
		for _, v := range pair.Values {
			if v.Int() == 0 {
				commit = false
			}
		}
	}

	if commit {
		e.Ctx.Store.Commit(qp.TrxID, qp.CT)
		if qp.TrxKind != plan.TrxReadOnly {
			e.Ctx.RCT.InsertTrx(qp.CT, qp.TrxID)
		}
	} else {
		e.Ctx.Store.Abort(qp.TrxID, tid)
	}
	e.ClearTransaction(qp.TrxID)

	var out []msg.Pair
	if m.Meta.RecverNode == m.Meta.ParentNode {
		status := "COMMITTED"
		if !commit {
			status = "ABORTED"
		}
		out = []msg.Pair{{Values: []graph.Value{graph.StringValue(status)}}}
	}
	return e.forward(qs, m, out, tid)
}

func boolValue(b bool) graph.Value {
	if b {
		return graph.IntValue(1)
	}
	return graph.IntValue(0)
}
