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
	"fmt"
	"sort"
	"strings"

	"github.com/ebay/gryphon/graph"
	log "github.com/sirupsen/logrus"
)

// TrxKind classifies a transaction's write behavior as the union of its
// lines.
type TrxKind uint8

// The transaction kind bits; zero is read-only.
const (
	TrxReadOnly TrxKind = 0
	TrxUpdate   TrxKind = 1 << iota
	TrxAdd
	TrxDelete
)

func (k TrxKind) String() string {
	if k == TrxReadOnly {
		return "READONLY"
	}
	var parts []string
	if k&TrxUpdate != 0 {
		parts = append(parts, "UPDATE")
	}
	if k&TrxAdd != 0 {
		parts = append(parts, "ADD")
	}
	if k&TrxDelete != 0 {
		parts = append(parts, "DELETE")
	}
	return strings.Join(parts, "|")
}

// A Step is one operator in a chain plus its chain wiring.
type Step struct {
	Op Operator
	// Index of the next operator; the chain end points one past the last.
	Next int
	// Whether outputs partition by destination worker.
	SendRemote bool
	// For pass-through operators on element streams, the element kind the
	// values name; the locality mapper needs it to pick the owner.
	RemoteElement graph.ElementType
}

// A QueryPlan is one line's operator chain, stamped with transaction info
// when the scheduler releases it.
type QueryPlan struct {
	QueryIndex int
	Steps      []Step
	ReadOnly   bool

	TrxID   uint64
	BT      uint64
	TrxKind TrxKind
	// Commit time, stamped by the worker when it releases the validation
	// query; zero elsewhere.
	CT uint64
}

func (qp *QueryPlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "query %d ro=%v:", qp.QueryIndex, qp.ReadOnly)
	for i, step := range qp.Steps {
		fmt.Fprintf(&b, "\n  %d: %s -> %d remote=%v", i, step.Op, step.Next, step.SendRemote)
	}
	return b.String()
}

// PlaceholderSlot says where in an operator a produced result gets spliced.
type PlaceholderSlot uint8

// The placeholder slots.
const (
	SlotSeed PlaceholderSlot = iota
	SlotFrom
	SlotTo
)

// A Placeholder is one pending splice: when the source query finishes, its
// result vector lands in (Query, Step, Slot) of a later query.
type Placeholder struct {
	Query int
	Step  int
	Slot  PlaceholderSlot
}

// A TrxPlan is the parsed transaction: its query DAG, dependency counts, and
// placeholder map.
type TrxPlan struct {
	Queries []QueryPlan
	Kind    TrxKind

	TrxID uint64
	BT    uint64

	// query → successors, and remaining predecessor counts.
	topo      map[int]map[int]bool
	depsCount map[int]int

	// source query → splices it feeds.
	placeholders map[int][]Placeholder

	results  map[int][]graph.Value
	received int
	aborted  bool
}

// NewTrxPlan creates an empty plan for the given number of query lines (the
// validation/commit line is appended by the planner on top of these).
func NewTrxPlan(lines int) *TrxPlan {
	p := &TrxPlan{
		Queries:      make([]QueryPlan, 0, lines+1),
		topo:         make(map[int]map[int]bool),
		depsCount:    make(map[int]int),
		placeholders: make(map[int][]Placeholder),
		results:      make(map[int][]graph.Value),
	}
	return p
}

// RegDependency records that dst must wait for src.
func (p *TrxPlan) RegDependency(src, dst int) {
	if p.topo[src] == nil {
		p.topo[src] = make(map[int]bool)
	}
	if !p.topo[src][dst] {
		p.topo[src][dst] = true
		p.depsCount[dst]++
	}
}

// RegPlaceholder records that dst's operator consumes src's result vector,
// and the implied dependency.
func (p *TrxPlan) RegPlaceholder(src int, ph Placeholder) {
	p.placeholders[src] = append(p.placeholders[src], ph)
	p.RegDependency(src, ph.Query)
}

// FillResult consumes one finished query: splices its results into
// dependents, decrements their dependency counts, and appends the values to
// the transaction's reply (with the per-query header).
func (p *TrxPlan) FillResult(queryIndex int, values []graph.Value) {
	for _, ph := range p.placeholders[queryIndex] {
		step := &p.Queries[ph.Query].Steps[ph.Step]
		switch ph.Slot {
		case SlotSeed:
			op := step.Op.(*Init)
			op.Seed = append(op.Seed, values...)
		case SlotFrom, SlotTo:
			op := step.Op.(*AddE)
			vids := make([]graph.VID, 0, len(values))
			for _, v := range values {
				vids = append(vids, graph.VID(v.Int()))
			}
			endpoint := Endpoint{Kind: EndpointPlaceholder, VIDs: vids}
			if ph.Slot == SlotFrom {
				op.From = endpoint
			} else {
				op.To = endpoint
			}
		default:
			log.Panicf("plan: unknown placeholder slot %d", ph.Slot)
		}
	}
	for dst := range p.topo[queryIndex] {
		p.depsCount[dst]--
	}

	if !isControlQuery(&p.Queries[queryIndex]) {
		header := graph.StringValue(fmt.Sprintf("Query %d: ", queryIndex+1))
		p.results[queryIndex] = append(p.results[queryIndex], header)
	}
	p.results[queryIndex] = append(p.results[queryIndex], values...)
	p.received++
}

// isControlQuery hides the synthetic validation line from client output.
func isControlQuery(qp *QueryPlan) bool {
	return len(qp.Steps) > 0 && qp.Steps[0].Op.Kind() == KindValidation
}

// Abort marks the transaction aborted; NextQueries stops releasing work.
func (p *TrxPlan) Abort() {
	p.aborted = true
}

// Aborted reports whether Abort was called.
func (p *TrxPlan) Aborted() bool {
	return p.aborted
}

// Finished reports whether every query has reported its result.
func (p *TrxPlan) Finished() bool {
	return p.received == len(p.Queries)
}

// NextQueries releases the queries whose dependency count reached zero,
// stamped with the transaction's identity. It returns nil when the
// transaction is complete or aborted.
func (p *TrxPlan) NextQueries() []*QueryPlan {
	if p.aborted || p.Finished() {
		return nil
	}
	var ready []int
	for index, count := range p.depsCount {
		if count == 0 {
			ready = append(ready, index)
		}
	}
	sort.Ints(ready)
	var out []*QueryPlan
	for _, index := range ready {
		delete(p.depsCount, index)
		qp := &p.Queries[index]
		qp.QueryIndex = index
		qp.TrxID = p.TrxID
		qp.BT = p.BT
		qp.TrxKind = p.Kind
		out = append(out, qp)
	}
	return out
}

// Result flattens the per-query results in line order.
func (p *TrxPlan) Result() []graph.Value {
	var indexes []int
	for index := range p.results {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	var out []graph.Value
	for _, index := range indexes {
		out = append(out, p.results[index]...)
	}
	return out
}
