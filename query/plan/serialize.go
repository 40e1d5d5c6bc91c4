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

package plan

import (
	"encoding/json"
	"fmt"

	"github.com/ebay/gryphon/graph"
)

// opFactories maps a kind to a fresh concrete operator for unmarshaling.
var opFactories = map[Kind]func() Operator{
	KindInit:           func() Operator { return &Init{} },
	KindTraversal:      func() Operator { return &Traversal{} },
	KindHas:            func() Operator { return &Has{} },
	KindHasLabel:       func() Operator { return &HasLabel{} },
	KindIs:             func() Operator { return &Is{} },
	KindWhere:          func() Operator { return &Where{} },
	KindValues:         func() Operator { return &Values{} },
	KindProperties:     func() Operator { return &Properties{} },
	KindProperty:       func() Operator { return &Property{} },
	KindAddV:           func() Operator { return &AddV{} },
	KindAddE:           func() Operator { return &AddE{} },
	KindDrop:           func() Operator { return &Drop{} },
	KindLabel:          func() Operator { return &Label{} },
	KindKey:            func() Operator { return &Key{} },
	KindCount:          func() Operator { return &Count{} },
	KindDedup:          func() Operator { return &Dedup{} },
	KindGroup:          func() Operator { return &Group{} },
	KindOrder:          func() Operator { return &Order{} },
	KindRange:          func() Operator { return &Range{} },
	KindCoin:           func() Operator { return &Coin{} },
	KindMath:           func() Operator { return &Math{} },
	KindAggregate:      func() Operator { return &Aggregate{} },
	KindCap:            func() Operator { return &Cap{} },
	KindAs:             func() Operator { return &As{} },
	KindSelect:         func() Operator { return &Select{} },
	KindProject:        func() Operator { return &Project{} },
	KindBranch:         func() Operator { return &Branch{} },
	KindBranchFilter:   func() Operator { return &BranchFilter{} },
	KindRepeat:         func() Operator { return &Repeat{} },
	KindEnd:            func() Operator { return &End{} },
	KindValidation:     func() Operator { return &Validation{} },
	KindPostValidation: func() Operator { return &PostValidation{} },
	KindCommit:         func() Operator { return &Commit{} },
	KindBuildIndex:     func() Operator { return &BuildIndex{} },
	KindSetConfig:      func() Operator { return &SetConfig{} },
}

// stepEnvelope is the wire form of one Step.
type stepEnvelope struct {
	Kind          Kind            `json:"kind"`
	Op            json.RawMessage `json:"op"`
	Next          int             `json:"next"`
	SendRemote    bool            `json:"sendRemote,omitempty"`
	RemoteElement uint8           `json:"remoteElement,omitempty"`
}

// planEnvelope is the wire form of a QueryPlan.
type planEnvelope struct {
	QueryIndex int            `json:"queryIndex"`
	ReadOnly   bool           `json:"readOnly"`
	TrxID      uint64         `json:"trxID,omitempty"`
	BT         uint64         `json:"bt,omitempty"`
	TrxKind    TrxKind        `json:"trxKind,omitempty"`
	CT         uint64         `json:"ct,omitempty"`
	Steps      []stepEnvelope `json:"steps"`
}

// Marshal serializes a QueryPlan, preserving concrete operator types.
func Marshal(qp *QueryPlan) ([]byte, error) {
	env := planEnvelope{
		QueryIndex: qp.QueryIndex,
		ReadOnly:   qp.ReadOnly,
		TrxID:      qp.TrxID,
		BT:         qp.BT,
		TrxKind:    qp.TrxKind,
		CT:         qp.CT,
		Steps:      make([]stepEnvelope, len(qp.Steps)),
	}
	for i, step := range qp.Steps {
		raw, err := json.Marshal(step.Op)
		if err != nil {
			return nil, fmt.Errorf("marshaling step %d (%v): %v", i, step.Op.Kind(), err)
		}
		env.Steps[i] = stepEnvelope{
			Kind:          step.Op.Kind(),
			Op:            raw,
			Next:          step.Next,
			SendRemote:    step.SendRemote,
			RemoteElement: uint8(step.RemoteElement),
		}
	}
	return json.Marshal(env)
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(data []byte) (*QueryPlan, error) {
	var env planEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	qp := &QueryPlan{
		QueryIndex: env.QueryIndex,
		ReadOnly:   env.ReadOnly,
		TrxID:      env.TrxID,
		BT:         env.BT,
		TrxKind:    env.TrxKind,
		CT:         env.CT,
		Steps:      make([]Step, len(env.Steps)),
	}
	for i, step := range env.Steps {
		factory := opFactories[step.Kind]
		if factory == nil {
			return nil, fmt.Errorf("unknown operator kind %d in step %d", step.Kind, i)
		}
		op := factory()
		if err := json.Unmarshal(step.Op, op); err != nil {
			return nil, fmt.Errorf("unmarshaling step %d (%v): %v", i, step.Kind, err)
		}
		qp.Steps[i] = Step{Op: op, Next: step.Next, SendRemote: step.SendRemote,
			RemoteElement: graph.ElementType(step.RemoteElement)}
	}
	return qp, nil
}
