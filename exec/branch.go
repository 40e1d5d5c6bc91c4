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
)

// branchKey scopes a branch collector's accumulator to the spawning
// message, across all of its sub-branches.
func branchKey(qid uint64, step, msgID int) string {
	return fmt.Sprintf("branch/%d/%d/%d", qid, step, msgID)
}

// collectPhase reports whether the message is returning into its branch
// operator rather than entering it.
func collectPhase(m *msg.Message) (*msg.BranchInfo, bool) {
	top := topBranchInfo(m)
	if top != nil && top.Key == m.Meta.Step {
		return top, true
	}
	return nil, false
}

// branchExpert implements union and repeat: spawn the sub-chains, then
// merge their outputs.
type branchExpert struct{}

func (x *branchExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	var subSteps []int
	switch op := qs.qp.Steps[m.Meta.Step].Op.(type) {
	case *plan.Branch:
		subSteps = op.SubSteps
	case *plan.Repeat:
		subSteps = op.SubSteps
	}

	if top, collecting := collectPhase(m); collecting {
		key := branchKey(m.Meta.QID, m.Meta.Step, top.MsgID)
		ready, acc := e.collectBranch(qs, key, m, top.MsgPath)
		if !ready {
			return nil, nil
		}
		m.Meta.BranchInfos = m.Meta.BranchInfos[:len(m.Meta.BranchInfos)-1]
		m.Meta.Path = top.MsgPath
		return e.forward(qs, m, acc.data, tid)
	}

	msgID := int(e.nextMsgID.Add(1))
	return msg.CreateBranchMessages(m, m.Meta.Step, subSteps, msgID), nil
}

// collectBranch accumulates returning sub-branch payloads until the path
// counter reduces every sub-branch back to the spawner's path.
func (e *Engine) collectBranch(qs *queryState, key string, m *msg.Message, endPath string) (bool, *accumulator) {
	qs.lock.Lock()
	acc := qs.barriers[key]
	if acc == nil {
		acc = &accumulator{counter: msg.NewPathCounter()}
		qs.barriers[key] = acc
	}
	qs.lock.Unlock()

	acc.lock.Lock()
	acc.data = append(acc.data, m.Data...)
	ready := acc.counter.Collect(m.Meta.Path, endPath)
	acc.lock.Unlock()

	if ready {
		qs.lock.Lock()
		delete(qs.barriers, key)
		qs.lock.Unlock()
	}
	return ready, acc
}

// branchFilterExpert implements and/or/not: spawn labelled sub-chains, then
// keep inputs by their per-branch pass bits.
type branchFilterExpert struct{}

// filterState survives from spawn to collection in the accumulator table.
type filterState struct {
	inputs []msg.Pair
	bits   []uint32
}

func (x *branchFilterExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	op := qs.qp.Steps[m.Meta.Step].Op.(*plan.BranchFilter)

	if top, collecting := collectPhase(m); collecting {
		return x.collect(e, qs, op, top, m, tid)
	}

	// Spawn: tag every input value with its index so the collection can map
	// sub-results back onto inputs.
	msgID := int(e.nextMsgID.Add(1))
	state := &filterState{}
	var tagged []msg.Pair
	for _, pair := range m.Data {
		for _, v := range pair.Values {
			idx := len(state.inputs)
			state.inputs = append(state.inputs, msg.Pair{History: pair.History, Values: []graph.Value{v}})
			state.bits = append(state.bits, 0)
			history := pair.History.Clone()
			history = append(history, msg.HistoryEntry{Key: m.Meta.Step, Value: graph.IntValue(int64(idx))})
			tagged = append(tagged, msg.Pair{History: history, Values: []graph.Value{v}})
		}
	}

	key := branchKey(m.Meta.QID, m.Meta.Step, msgID)
	qs.lock.Lock()
	qs.barriers[key] = &accumulator{counter: msg.NewPathCounter(), state: state}
	qs.lock.Unlock()

	spawnSource := *m
	spawnSource.Data = tagged
	return msg.CreateBranchMessages(&spawnSource, m.Meta.Step, op.SubSteps, msgID), nil
}

func (x *branchFilterExpert) collect(e *Engine, qs *queryState, op *plan.BranchFilter,
	top *msg.BranchInfo, m *msg.Message, tid int) ([]msg.Message, error) {
	key := branchKey(m.Meta.QID, m.Meta.Step, top.MsgID)
	qs.lock.Lock()
	acc := qs.barriers[key]
	qs.lock.Unlock()
	if acc == nil {
		return nil, errAbort("Processing", "BranchFilter")
	}

	acc.lock.Lock()
	state := acc.state.(*filterState)
	for _, pair := range m.Data {
		if recorded, ok := pair.History.Get(m.Meta.Step); ok {
			idx := int(recorded.Int())
			if idx >= 0 && idx < len(state.bits) {
				state.bits[idx] |= 1 << uint(top.Index)
			}
		}
	}
	ready := acc.counter.Collect(m.Meta.Path, top.MsgPath)
	acc.lock.Unlock()
	if !ready {
		return nil, nil
	}

	qs.lock.Lock()
	delete(qs.barriers, key)
	qs.lock.Unlock()

	all := uint32(1)<<uint(len(op.SubSteps)) - 1
	var out []msg.Pair
	for i, input := range state.inputs {
		pass := false
		switch op.Filter {
		case plan.FilterAnd:
			pass = state.bits[i] == all
		case plan.FilterOr:
			pass = state.bits[i] != 0
		case plan.FilterNot:
			pass = state.bits[i] == 0
		}
		if pass {
			out = append(out, input)
		}
	}

	m.Meta.BranchInfos = m.Meta.BranchInfos[:len(m.Meta.BranchInfos)-1]
	m.Meta.Path = top.MsgPath
	return e.forward(qs, m, out, tid)
}
