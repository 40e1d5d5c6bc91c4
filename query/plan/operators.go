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

// Package plan defines the operator model the planner emits and the executor
// consumes: per-line operator chains assembled into a transaction DAG.
package plan

import (
	"fmt"
	"strings"

	"github.com/ebay/gryphon/graph"
)

// Kind identifies an operator for registry dispatch.
type Kind uint8

// The operator kinds.
const (
	KindInit Kind = iota
	KindTraversal
	KindHas
	KindHasLabel
	KindIs
	KindWhere
	KindValues
	KindProperties
	KindProperty
	KindAddV
	KindAddE
	KindDrop
	KindLabel
	KindKey
	KindCount
	KindDedup
	KindGroup
	KindOrder
	KindRange
	KindCoin
	KindMath
	KindAggregate
	KindCap
	KindAs
	KindSelect
	KindProject
	KindBranch
	KindBranchFilter
	KindRepeat
	KindEnd
	KindValidation
	KindPostValidation
	KindCommit
	KindBuildIndex
	KindSetConfig
)

var kindNames = map[Kind]string{
	KindInit:           "init",
	KindTraversal:      "traversal",
	KindHas:            "has",
	KindHasLabel:       "hasLabel",
	KindIs:             "is",
	KindWhere:          "where",
	KindValues:         "values",
	KindProperties:     "properties",
	KindProperty:       "property",
	KindAddV:           "addV",
	KindAddE:           "addE",
	KindDrop:           "drop",
	KindLabel:          "label",
	KindKey:            "key",
	KindCount:          "count",
	KindDedup:          "dedup",
	KindGroup:          "group",
	KindOrder:          "order",
	KindRange:          "range",
	KindCoin:           "coin",
	KindMath:           "math",
	KindAggregate:      "aggregate",
	KindCap:            "cap",
	KindAs:             "as",
	KindSelect:         "select",
	KindProject:        "project",
	KindBranch:         "branch",
	KindBranchFilter:   "branchFilter",
	KindRepeat:         "repeat",
	KindEnd:            "end",
	KindValidation:     "validation",
	KindPostValidation: "postValidation",
	KindCommit:         "commit",
	KindBuildIndex:     "buildIndex",
	KindSetConfig:      "setConfig",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// An Operator is one step's definition. Concrete types below carry the
// parameters each expert needs.
type Operator interface {
	Kind() Kind
	String() string
}

// HasPred pairs a property key with a predicate. PKey -1 means "any key".
type HasPred struct {
	PKey int
	Pred graph.Predicate
}

func (h HasPred) String() string {
	return fmt.Sprintf("%d %v", h.PKey, h.Pred)
}

// Init seeds a query: g.V(), g.E(), possibly with explicit input ids (from a
// placeholder) and predicates pushed down from an index-enabled has().
type Init struct {
	Element graph.ElementType
	// Explicit input ids; empty means scan the whole partition.
	Seed []graph.Value
	// Index-enabled predicates hoisted out of has()/hasLabel() steps.
	Pushed []HasPred
}

func (op *Init) Kind() Kind { return KindInit }
func (op *Init) String() string {
	return fmt.Sprintf("Init(%v seed=%d pushed=%d)", op.Element, len(op.Seed), len(op.Pushed))
}

// Traversal walks topology: in/out/both[E|V].
type Traversal struct {
	In        graph.ElementType
	Out       graph.ElementType
	Direction graph.Direction
	// Edge label filter; 0 is the wildcard.
	Label graph.Label
}

func (op *Traversal) Kind() Kind { return KindTraversal }
func (op *Traversal) String() string {
	return fmt.Sprintf("Traversal(%v->%v %v label=%d)", op.In, op.Out, op.Direction, op.Label)
}

// Has filters elements by property predicates.
type Has struct {
	Element graph.ElementType
	Preds   []HasPred
}

func (op *Has) Kind() Kind { return KindHas }
func (op *Has) String() string {
	parts := make([]string, len(op.Preds))
	for i, p := range op.Preds {
		parts[i] = p.String()
	}
	return fmt.Sprintf("Has(%v %s)", op.Element, strings.Join(parts, ", "))
}

// HasLabel keeps elements whose label is in the set.
type HasLabel struct {
	Element graph.ElementType
	Labels  []graph.Label
}

func (op *HasLabel) Kind() Kind { return KindHasLabel }
func (op *HasLabel) String() string {
	return fmt.Sprintf("HasLabel(%v %v)", op.Element, op.Labels)
}

// Is filters scalar values by predicates.
type Is struct {
	Preds []graph.Predicate
}

func (op *Is) Kind() Kind { return KindIs }
func (op *Is) String() string {
	return fmt.Sprintf("Is(%v)", op.Preds)
}

// WhereCond compares the current value against a history entry.
// HistoryKey -1 compares against the value recorded at another key only.
type WhereCond struct {
	HistoryKey int
	Pred       graph.PredKind
	// Label-step keys whose recorded values are predicate operands.
	RefKeys []int
}

// Where filters by history comparisons.
type Where struct {
	Conds []WhereCond
}

func (op *Where) Kind() Kind { return KindWhere }
func (op *Where) String() string {
	return fmt.Sprintf("Where(%v)", op.Conds)
}

// Values projects elements to property values.
type Values struct {
	Element graph.ElementType
	Keys    []graph.Label
}

func (op *Values) Kind() Kind { return KindValues }
func (op *Values) String() string {
	return fmt.Sprintf("Values(%v %v)", op.Element, op.Keys)
}

// Properties projects elements to (pid, "{key:value}") pairs.
type Properties struct {
	Element graph.ElementType
	Keys    []graph.Label
}

func (op *Properties) Kind() Kind { return KindProperties }
func (op *Properties) String() string {
	return fmt.Sprintf("Properties(%v %v)", op.Element, op.Keys)
}

// Property writes one property on each input element.
type Property struct {
	Element graph.ElementType
	PKey    graph.Label
	Value   graph.Value
}

func (op *Property) Kind() Kind { return KindProperty }
func (op *Property) String() string {
	return fmt.Sprintf("Property(%v %d=%v)", op.Element, op.PKey, op.Value)
}

// AddV creates a vertex per input (or one, at the chain head).
type AddV struct {
	Label graph.Label
}

func (op *AddV) Kind() Kind { return KindAddV }
func (op *AddV) String() string {
	return fmt.Sprintf("AddV(%d)", op.Label)
}

// EndpointKind says how an addE endpoint is specified.
type EndpointKind uint8

// The endpoint kinds.
const (
	EndpointNotApplicable EndpointKind = iota
	EndpointStepLabel
	EndpointPlaceholder
)

// Endpoint is one side of an addE.
type Endpoint struct {
	Kind EndpointKind
	// For EndpointStepLabel: the label-step key whose history value is the
	// endpoint.
	LabelStep int
	// For EndpointPlaceholder: the vids spliced in from an earlier query.
	VIDs []graph.VID
}

func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointNotApplicable:
		return "-"
	case EndpointStepLabel:
		return fmt.Sprintf("step(%d)", e.LabelStep)
	case EndpointPlaceholder:
		return fmt.Sprintf("vids(%d)", len(e.VIDs))
	}
	return "?"
}

// AddE creates edges between endpoints.
type AddE struct {
	Label graph.Label
	From  Endpoint
	To    Endpoint
}

func (op *AddE) Kind() Kind { return KindAddE }
func (op *AddE) String() string {
	return fmt.Sprintf("AddE(%d from=%v to=%v)", op.Label, op.From, op.To)
}

// Drop logically deletes input elements or properties.
type Drop struct {
	Element    graph.ElementType
	IsProperty bool
}

func (op *Drop) Kind() Kind { return KindDrop }
func (op *Drop) String() string {
	return fmt.Sprintf("Drop(%v property=%v)", op.Element, op.IsProperty)
}

// Label projects elements to their label name.
type Label struct {
	Element graph.ElementType
}

func (op *Label) Kind() Kind { return KindLabel }
func (op *Label) String() string {
	return fmt.Sprintf("Label(%v)", op.Element)
}

// Key projects properties to their key name.
type Key struct {
	Element graph.ElementType
}

func (op *Key) Kind() Kind { return KindKey }
func (op *Key) String() string {
	return fmt.Sprintf("Key(%v)", op.Element)
}

// Count is the counting barrier.
type Count struct{}

func (op *Count) Kind() Kind     { return KindCount }
func (op *Count) String() string { return "Count()" }

// Dedup deduplicates values per history bucket, optionally keyed by
// label-step keys.
type Dedup struct {
	Keys []int
}

func (op *Dedup) Kind() Kind { return KindDedup }
func (op *Dedup) String() string {
	return fmt.Sprintf("Dedup(%v)", op.Keys)
}

// Group groups values by a projected key; IsCount emits sizes instead of
// members.
type Group struct {
	IsCount bool
	// Label-step key of the projection feeding the group key; -1 groups by
	// the value itself.
	ProjectKey int
}

func (op *Group) Kind() Kind { return KindGroup }
func (op *Group) String() string {
	return fmt.Sprintf("Group(count=%v key=%d)", op.IsCount, op.ProjectKey)
}

// Order sorts values, optionally by a projected key.
type Order struct {
	ProjectKey int
	Descending bool
}

func (op *Order) Kind() Kind { return KindOrder }
func (op *Order) String() string {
	return fmt.Sprintf("Order(key=%d desc=%v)", op.ProjectKey, op.Descending)
}

// Range keeps items [Start, End]; End -1 is unbounded. limit(n) is
// Range(0, n-1), skip(n) is Range(n, -1).
type Range struct {
	Start int
	End   int
}

func (op *Range) Kind() Kind { return KindRange }
func (op *Range) String() string {
	return fmt.Sprintf("Range(%d, %d)", op.Start, op.End)
}

// Coin keeps each item with the given probability.
type Coin struct {
	Rate float64
}

func (op *Coin) Kind() Kind { return KindCoin }
func (op *Coin) String() string {
	return fmt.Sprintf("Coin(%g)", op.Rate)
}

// MathKind selects the aggregate of a Math barrier.
type MathKind uint8

// The math aggregates.
const (
	MathSum MathKind = iota
	MathMax
	MathMin
	MathMean
)

func (k MathKind) String() string {
	switch k {
	case MathSum:
		return "sum"
	case MathMax:
		return "max"
	case MathMin:
		return "min"
	case MathMean:
		return "mean"
	}
	return fmt.Sprintf("MathKind(%d)", uint8(k))
}

// Math is the numeric aggregation barrier.
type Math struct {
	Op MathKind
}

func (op *Math) Kind() Kind { return KindMath }
func (op *Math) String() string {
	return fmt.Sprintf("Math(%v)", op.Op)
}

// Aggregate stores the stream into a side-effect slot.
type Aggregate struct {
	SideEffectKey int
}

func (op *Aggregate) Kind() Kind { return KindAggregate }
func (op *Aggregate) String() string {
	return fmt.Sprintf("Aggregate(%d)", op.SideEffectKey)
}

// Cap emits the contents of side-effect slots.
type Cap struct {
	Keys  []int
	Names []string
}

func (op *Cap) Kind() Kind { return KindCap }
func (op *Cap) String() string {
	return fmt.Sprintf("Cap(%v)", op.Names)
}

// As records the current value in the history under a label-step key.
type As struct {
	LabelStep int
}

func (op *As) Kind() Kind { return KindAs }
func (op *As) String() string {
	return fmt.Sprintf("As(%d)", op.LabelStep)
}

// Select projects history entries back out.
type Select struct {
	Keys  []int
	Names []string
}

func (op *Select) Kind() Kind { return KindSelect }
func (op *Select) String() string {
	return fmt.Sprintf("Select(%v)", op.Names)
}

// Project maps an element to a (key property, value property) pair for
// group/order projections. A key/value id of 0 projects the label; -1 the
// element itself.
type Project struct {
	Element graph.ElementType
	KeyID   int
	ValueID int
}

func (op *Project) Kind() Kind { return KindProject }
func (op *Project) String() string {
	return fmt.Sprintf("Project(%v %d %d)", op.Element, op.KeyID, op.ValueID)
}

// Branch spawns sub-chains whose outputs merge (union, repeat).
type Branch struct {
	SubSteps []int
}

func (op *Branch) Kind() Kind { return KindBranch }
func (op *Branch) String() string {
	return fmt.Sprintf("Branch(%v)", op.SubSteps)
}

// FilterKind is the combining rule of a BranchFilter.
type FilterKind uint8

// The branch-filter kinds.
const (
	FilterAnd FilterKind = iota
	FilterOr
	FilterNot
)

func (k FilterKind) String() string {
	switch k {
	case FilterAnd:
		return "and"
	case FilterOr:
		return "or"
	case FilterNot:
		return "not"
	}
	return fmt.Sprintf("FilterKind(%d)", uint8(k))
}

// BranchFilter spawns labelled sub-chains and keeps inputs by combining
// their per-input pass bits.
type BranchFilter struct {
	Filter   FilterKind
	SubSteps []int
}

func (op *BranchFilter) Kind() Kind { return KindBranchFilter }
func (op *BranchFilter) String() string {
	return fmt.Sprintf("BranchFilter(%v %v)", op.Filter, op.SubSteps)
}

// Repeat re-runs a sub-chain; parsed like a branch with a single sub-query.
type Repeat struct {
	SubSteps []int
}

func (op *Repeat) Kind() Kind { return KindRepeat }
func (op *Repeat) String() string {
	return fmt.Sprintf("Repeat(%v)", op.SubSteps)
}

// End is the terminal barrier aggregating a query's results to its origin.
type End struct{}

func (op *End) Kind() Kind     { return KindEnd }
func (op *End) String() string { return "End()" }

// Validation runs the isolation-level validation against the RCT check set.
type Validation struct{}

func (op *Validation) Kind() Kind     { return KindValidation }
func (op *Validation) String() string { return "Validation()" }

// PostValidation decides commit vs abort from the validation verdicts.
type PostValidation struct{}

func (op *PostValidation) Kind() Kind     { return KindPostValidation }
func (op *PostValidation) String() string { return "PostValidation()" }

// Commit applies the commit or abort to storage and the status table.
type Commit struct{}

func (op *Commit) Kind() Kind     { return KindCommit }
func (op *Commit) String() string { return "Commit()" }

// BuildIndex builds the secondary index of one property key.
type BuildIndex struct {
	Element graph.ElementType
	PKey    graph.Label
}

func (op *BuildIndex) Kind() Kind { return KindBuildIndex }
func (op *BuildIndex) String() string {
	return fmt.Sprintf("BuildIndex(%v %d)", op.Element, op.PKey)
}

// SetConfig flips a runtime tunable.
type SetConfig struct {
	Name   string
	Enable bool
	// IntValue carries numeric settings; used when Enable doesn't apply.
	IntValue int
	IsInt    bool
}

func (op *SetConfig) Kind() Kind { return KindSetConfig }
func (op *SetConfig) String() string {
	if op.IsInt {
		return fmt.Sprintf("SetConfig(%s=%d)", op.Name, op.IntValue)
	}
	return fmt.Sprintf("SetConfig(%s=%v)", op.Name, op.Enable)
}
