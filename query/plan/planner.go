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
	"math"
	"strings"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/index"
	"github.com/ebay/gryphon/query/parser"
)

// A StringIndex resolves label and property-key names to their persisted
// ids. The loader's string index implements it.
type StringIndex interface {
	LabelID(element graph.ElementType, name string) (graph.Label, bool)
	// PropKeyID returns the key id and the value type (1=int 2=double
	// 3=char 4=string) declared for the key.
	PropKeyID(element graph.ElementType, name string) (graph.Label, graph.ValueType, bool)
	LabelName(element graph.ElementType, id graph.Label) string
	PropKeyName(element graph.ElementType, id graph.Label) string
	AvailLabels(element graph.ElementType) string
	AvailPropKeys(element graph.ElementType) string
}

// Options tune the planner's behavior-preserving rewrites.
type Options struct {
	EnableStepReorder bool
	EnableIndex       bool
	// Cardinality ratio for index push-down.
	IndexRatio uint64
}

// A Planner assembles TrxPlans from parsed lines.
type Planner struct {
	strings StringIndex
	indexes *index.Store
	opts    Options
}

// NewPlanner creates a planner. 'indexes' may be nil when no push-down
// should happen.
func NewPlanner(strings StringIndex, indexes *index.Store, opts Options) *Planner {
	if opts.IndexRatio == 0 {
		opts.IndexRatio = 3
	}
	return &Planner{strings: strings, indexes: indexes, opts: opts}
}

// ioType tracks the value kind flowing between steps, for type checking.
type ioType uint8

const (
	ioVertex ioType = iota
	ioEdge
	ioInt
	ioDouble
	ioChar
	ioString
	ioVP
	ioEP
	ioCollection
)

func (t ioType) String() string {
	return [...]string{"vertex", "edge", "int", "double", "char", "string", "vp", "ep", "collection"}[t]
}

func (t ioType) isElement() bool {
	return t == ioVertex || t == ioEdge
}

func (t ioType) element() (graph.ElementType, bool) {
	switch t {
	case ioVertex:
		return graph.Vertex, true
	case ioEdge:
		return graph.Edge, true
	}
	return 0, false
}

func (t ioType) isNumber() bool {
	return t == ioInt || t == ioDouble
}

func valueIO(vt graph.ValueType) ioType {
	switch vt {
	case graph.TypeInt:
		return ioInt
	case graph.TypeDouble:
		return ioDouble
	case graph.TypeChar:
		return ioChar
	}
	return ioString
}

// planError is the planner's error type; it surfaces verbatim to the
// client.
type planError struct {
	message string
}

func (e *planError) Error() string {
	return e.message
}

func planErrorf(format string, args ...any) error {
	return &planError{message: fmt.Sprintf(format, args...)}
}

// trxState carries cross-line planner state.
type trxState struct {
	plan *TrxPlan
	// variable → (producing line, its output type).
	vars map[string]varInfo
	// last update (non-read-only) line, -1 before any.
	lastUpdate int
	// side-effect key allocator, transaction-wide.
	nextSideEffect int
}

type varInfo struct {
	line int
	io   ioType
}

// lineState carries per-line planner state.
type lineState struct {
	trx       *trxState
	lineIndex int
	steps     []Step
	io        ioType
	readOnly  bool
	// label-step name → chain index of its as()/projection.
	str2ls map[string]int
	// label-step key → output type at that step.
	ls2type map[int]ioType
	// side-effect name → key.
	str2se map[string]int
	// chain index where the innermost sub-query starts.
	firstInSub int
	// index push-down bookkeeping.
	minCount    uint64
	indexCounts []uint64
}

// Plan assembles the transaction plan for the parsed lines.
func (pl *Planner) Plan(lines []parser.Line) (*TrxPlan, error) {
	trx := &trxState{
		plan:       NewTrxPlan(len(lines)),
		vars:       make(map[string]varInfo),
		lastUpdate: -1,
	}
	trx.plan.Queries = make([]QueryPlan, len(lines)+1)

	for lineIndex, line := range lines {
		trx.plan.depsCount[lineIndex] = 0
		ls := &lineState{
			trx:       trx,
			lineIndex: lineIndex,
			io:        ioVertex,
			readOnly:  true,
			str2ls:    make(map[string]int),
			ls2type:   make(map[int]ioType),
			str2se:    make(map[string]int),
			minCount:  math.MaxUint64,
		}
		if err := pl.planLine(ls, line); err != nil {
			return nil, err
		}
		ls.appendStep(&End{}, false)
		trx.plan.Queries[lineIndex] = QueryPlan{Steps: ls.steps, ReadOnly: ls.readOnly}

		if !ls.readOnly {
			// An update line depends on every line since (and including) the
			// previous update.
			begin := 0
			if trx.lastUpdate > 0 {
				begin = trx.lastUpdate
			}
			for i := begin; i < lineIndex; i++ {
				trx.plan.RegDependency(i, lineIndex)
			}
			trx.lastUpdate = lineIndex
		} else if trx.lastUpdate >= 0 {
			trx.plan.RegDependency(trx.lastUpdate, lineIndex)
		}
		if line.Var != "" {
			trx.vars[line.Var] = varInfo{line: lineIndex, io: ls.io}
		}
	}

	pl.addCommitStatement(trx, len(lines))
	return trx.plan, nil
}

// addCommitStatement appends the synthetic validation + commit query that
// depends on every line since the last update.
func (pl *Planner) addCommitStatement(trx *trxState, lineCount int) {
	valid := QueryPlan{
		Steps: []Step{
			{Op: &Validation{}, Next: 1},
			{Op: &PostValidation{}, Next: 2},
			{Op: &Commit{}, Next: 3},
			{Op: &End{}, Next: 4},
		},
		ReadOnly: false,
	}
	trx.plan.Queries[lineCount] = valid
	trx.plan.depsCount[lineCount] = 0
	begin := 0
	if trx.lastUpdate > 0 {
		begin = trx.lastUpdate
	}
	for i := begin; i < lineCount; i++ {
		trx.plan.RegDependency(i, lineCount)
	}
}

// planLine lowers one line's tokens into a chain.
func (pl *Planner) planLine(ls *lineState, line parser.Line) error {
	first := line.Steps[0].Kind
	switch first {
	case parser.StepBuildIndex:
		return pl.planBuildIndex(ls, line.Steps[0])
	case parser.StepSetConfig:
		return pl.planSetConfig(ls, line.Steps[0])
	}

	tokens := line.Steps
	if first == parser.StepV || first == parser.StepE {
		if err := pl.planEntry(ls, tokens[0]); err != nil {
			return err
		}
		tokens = tokens[1:]
	}
	// g.addV / g.addE lines start directly at the add step, with vertex
	// input type assumed for addE's sake.
	tail := append([]parser.StepToken(nil), tokens...)
	pl.reorder(tail)
	if err := pl.planSteps(ls, tail); err != nil {
		return err
	}
	return checkAddE(ls.steps)
}

// planEntry lowers g.V()/g.E(), registering the seed placeholder when the
// entry names a variable.
func (pl *Planner) planEntry(ls *lineState, token parser.StepToken) error {
	op := &Init{}
	if token.Kind == parser.StepV {
		op.Element = graph.Vertex
		ls.io = ioVertex
	} else {
		op.Element = graph.Edge
		ls.io = ioEdge
	}
	if len(token.Args) > 1 {
		return planErrorf("expect at most one input set for g.%v", token.Kind)
	}
	if len(token.Args) == 1 {
		ident, ok := token.Args[0].(parser.IdentArg)
		if !ok {
			return planErrorf("expect a variable in g.%v(...)", token.Kind)
		}
		if err := ls.regPlaceholder(ident.Name, 0, SlotSeed, ls.io); err != nil {
			return err
		}
	}
	// Entry outputs partition by owner: seeded inputs may name any worker's
	// elements.
	ls.appendStep(op, true)
	return nil
}

// planSteps lowers the (already reordered) step tokens.
func (pl *Planner) planSteps(ls *lineState, tokens []parser.StepToken) error {
	for _, token := range tokens {
		var err error
		switch token.Kind {
		case parser.StepAddV:
			err = pl.planAddV(ls, token)
		case parser.StepAddE:
			err = pl.planAddE(ls, token)
		case parser.StepFrom, parser.StepTo:
			err = pl.planFromTo(ls, token)
		case parser.StepAggregate:
			err = pl.planAggregate(ls, token)
		case parser.StepAs:
			err = pl.planAs(ls, token)
		case parser.StepUnion:
			err = pl.planBranch(ls, token, &Branch{})
		case parser.StepRepeat:
			err = pl.planBranch(ls, token, &Repeat{})
		case parser.StepAnd, parser.StepOr, parser.StepNot:
			err = pl.planBranchFilter(ls, token)
		case parser.StepCap:
			err = pl.planCap(ls, token)
		case parser.StepCount:
			err = pl.planCount(ls, token)
		case parser.StepDedup:
			err = pl.planDedup(ls, token)
		case parser.StepDrop:
			err = pl.planDrop(ls, token)
		case parser.StepGroup, parser.StepGroupCount:
			err = pl.planGroup(ls, token)
		case parser.StepHas, parser.StepHasKey, parser.StepHasValue, parser.StepHasNot:
			err = pl.planHas(ls, token)
		case parser.StepHasLabel:
			err = pl.planHasLabel(ls, token)
		case parser.StepIs:
			err = pl.planIs(ls, token)
		case parser.StepKey:
			err = pl.planKey(ls, token)
		case parser.StepLabel:
			err = pl.planLabel(ls, token)
		case parser.StepMax, parser.StepMean, parser.StepMin, parser.StepSum:
			err = pl.planMath(ls, token)
		case parser.StepOrder:
			err = pl.planOrder(ls, token)
		case parser.StepProperties:
			err = pl.planProperties(ls, token)
		case parser.StepProperty:
			err = pl.planProperty(ls, token)
		case parser.StepLimit, parser.StepRange, parser.StepSkip:
			err = pl.planRange(ls, token)
		case parser.StepCoin:
			err = pl.planCoin(ls, token)
		case parser.StepSelect:
			err = pl.planSelect(ls, token)
		case parser.StepIn, parser.StepOut, parser.StepBoth,
			parser.StepInE, parser.StepOutE, parser.StepBothE,
			parser.StepInV, parser.StepOutV, parser.StepBothV:
			err = pl.planTraversal(ls, token)
		case parser.StepValues:
			err = pl.planValues(ls, token)
		case parser.StepWhere:
			err = pl.planWhere(ls, token)
		default:
			err = planErrorf("unexpected step %v", token.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// appendStep adds an operator with default chain wiring.
func (ls *lineState) appendStep(op Operator, sendRemote bool) int {
	index := len(ls.steps)
	step := Step{Op: op, Next: index + 1, SendRemote: sendRemote}
	if sendRemote {
		if element, ok := ls.io.element(); ok {
			step.RemoteElement = element
		}
	}
	ls.steps = append(ls.steps, step)
	return index
}

// removeLastStep drops the step appended last.
func (ls *lineState) removeLastStep() {
	ls.steps = ls.steps[:len(ls.steps)-1]
}

// lastStepIs reports whether the chain's current last operator (following
// Next pointers, so branch sub-chains don't confuse it) has the given kind.
func (ls *lineState) lastStepIs(kind Kind) bool {
	current := len(ls.steps)
	itr := current - 1
	if itr < ls.firstInSub {
		return false
	}
	for ls.steps[itr].Next != current {
		itr = ls.steps[itr].Next
	}
	return ls.steps[itr].Op.Kind() == kind
}

// lastStep returns the chain's current last operator.
func (ls *lineState) lastStep() *Step {
	return &ls.steps[len(ls.steps)-1]
}

// regPlaceholder wires a variable reference to the producing line.
func (ls *lineState) regPlaceholder(name string, step int, slot PlaceholderSlot, want ioType) error {
	info, ok := ls.trx.vars[name]
	if !ok {
		return planErrorf("unexpected variable '%s'", name)
	}
	if info.io != want {
		return planErrorf("expect %v but get '%s' with type %v", want, name, info.io)
	}
	ls.trx.plan.RegPlaceholder(info.line, Placeholder{Query: ls.lineIndex, Step: step, Slot: slot})
	return nil
}

// argString extracts a string (or identifier) argument.
func argString(arg parser.Arg) (string, bool) {
	switch a := arg.(type) {
	case parser.LitArg:
		if a.Value.Type == graph.TypeString {
			return a.Value.String(), true
		}
	case parser.IdentArg:
		return a.Name, true
	}
	return "", false
}

// argInt extracts an int argument.
func argInt(arg parser.Arg) (int64, bool) {
	if a, ok := arg.(parser.LitArg); ok && a.Value.Type == graph.TypeInt {
		return a.Value.Int(), true
	}
	return 0, false
}

// labelArg resolves a label-name argument for the current element type.
func (pl *Planner) labelArg(ls *lineState, arg parser.Arg, element graph.ElementType, step parser.StepKind) (graph.Label, error) {
	name, ok := argString(arg)
	if !ok {
		return 0, planErrorf("expect a label name in %v", step)
	}
	id, found := pl.strings.LabelID(element, name)
	if !found {
		return 0, planErrorf("unexpected label in %v : %s, expected is %s",
			step, name, pl.strings.AvailLabels(element))
	}
	return id, nil
}

// propKeyArg resolves a property-key argument for the current element type.
// The name "label" maps to key 0.
func (pl *Planner) propKeyArg(ls *lineState, arg parser.Arg, element graph.ElementType, step parser.StepKind) (graph.Label, graph.ValueType, error) {
	name, ok := argString(arg)
	if !ok {
		return 0, 0, planErrorf("expect a property key in %v", step)
	}
	if name == "label" {
		return 0, graph.TypeString, nil
	}
	id, vt, found := pl.strings.PropKeyID(element, name)
	if !found {
		return 0, 0, planErrorf("unexpected key in %v : %s, expected is %s",
			step, name, pl.strings.AvailPropKeys(element))
	}
	return id, vt, nil
}

// predicateArg lowers a predicate argument: a bare literal means eq, no
// argument means any.
func predicateArg(args []parser.Arg, from int) (graph.Predicate, error) {
	if len(args) <= from {
		return graph.Predicate{Kind: graph.PredAny, Values: []graph.Value{graph.IntValue(-1)}}, nil
	}
	switch a := args[from].(type) {
	case parser.LitArg:
		return graph.Predicate{Kind: graph.PredEq, Values: []graph.Value{a.Value}}, nil
	case parser.PredArg:
		pred := graph.Predicate{Kind: a.Kind}
		for _, pa := range a.Args {
			lit, ok := pa.(parser.LitArg)
			if !ok {
				return graph.Predicate{}, planErrorf("unexpected predicate value")
			}
			pred.Values = append(pred.Values, lit.Value)
		}
		if err := checkPredicateArity(pred); err != nil {
			return graph.Predicate{}, err
		}
		return pred, nil
	}
	return graph.Predicate{}, planErrorf("unexpected predicate")
}

func checkPredicateArity(pred graph.Predicate) error {
	switch pred.Kind {
	case graph.PredEq, graph.PredNeq, graph.PredLt, graph.PredLte,
		graph.PredGt, graph.PredGte:
		if len(pred.Values) != 1 {
			return planErrorf("expect only one param for %v", pred.Kind)
		}
	case graph.PredInside, graph.PredOutside, graph.PredBetween:
		if len(pred.Values) != 2 {
			return planErrorf("expect two params for %v", pred.Kind)
		}
	}
	return nil
}

func elementOf(ls *lineState, step parser.StepKind) (graph.ElementType, error) {
	element, ok := ls.io.element()
	if !ok {
		return 0, planErrorf("expect vertex/edge input for %v", step)
	}
	return element, nil
}

func (ls *lineState) subTokens(args []parser.Arg, step parser.StepKind) ([][]parser.StepToken, error) {
	if len(args) == 0 {
		return nil, planErrorf("expect at least one parameter for %v", step)
	}
	subs := make([][]parser.StepToken, 0, len(args))
	for _, arg := range args {
		sub, ok := arg.(parser.SubArg)
		if !ok {
			return nil, planErrorf("expect sub queries in %v", step)
		}
		subs = append(subs, sub.Steps)
	}
	return subs, nil
}

// availKeys formats the usable label-step keys for error messages.
func availKeys(m map[string]int) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return strings.Join(names, " ")
}
