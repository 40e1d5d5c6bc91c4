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
	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/query/parser"
)

func (pl *Planner) planAddV(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 1 {
		return planErrorf("expect one parameter for addV")
	}
	ls.io = ioVertex
	label, err := pl.labelArg(ls, token.Args[0], graph.Vertex, token.Kind)
	if err != nil {
		return err
	}
	ls.appendStep(&AddV{Label: label}, true)
	ls.trx.plan.Kind |= TrxAdd
	ls.readOnly = false
	return nil
}

func (pl *Planner) planAddE(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 1 {
		return planErrorf("expect one parameter for addE")
	}
	if ls.io != ioVertex {
		return planErrorf("expect vertex before addE")
	}
	label, err := pl.labelArg(ls, token.Args[0], graph.Edge, token.Kind)
	if err != nil {
		return err
	}
	ls.io = ioEdge
	ls.appendStep(&AddE{Label: label}, true)
	ls.trx.plan.Kind |= TrxAdd
	ls.readOnly = false
	return nil
}

func (pl *Planner) planFromTo(ls *lineState, token parser.StepToken) error {
	if !ls.lastStepIs(KindAddE) {
		return planErrorf("expect 'addE()' before from/to")
	}
	if len(token.Args) != 1 {
		return planErrorf("expect one parameter for %v", token.Kind)
	}
	op := ls.lastStep().Op.(*AddE)
	stepIndex := len(ls.steps) - 1

	name, ok := argString(token.Args[0])
	if !ok {
		return planErrorf("expect a step label or variable in %v", token.Kind)
	}
	var endpoint Endpoint
	if lsKey, found := ls.str2ls[name]; found {
		endpoint = Endpoint{Kind: EndpointStepLabel, LabelStep: lsKey}
	} else if _, found := ls.trx.vars[name]; found {
		slot := SlotFrom
		if token.Kind == parser.StepTo {
			slot = SlotTo
		}
		if err := ls.regPlaceholder(name, stepIndex, slot, ioVertex); err != nil {
			return err
		}
		endpoint = Endpoint{Kind: EndpointPlaceholder}
	} else {
		return planErrorf("unexpected variable %s", name)
	}

	if token.Kind == parser.StepFrom {
		op.From = endpoint
	} else {
		op.To = endpoint
	}
	return nil
}

// checkAddE enforces the endpoint rules: g.addE needs both endpoints as
// placeholders; a chained addE needs at least one endpoint and at most one
// placeholder.
func checkAddE(steps []Step) error {
	for i, step := range steps {
		op, ok := step.Op.(*AddE)
		if !ok {
			continue
		}
		count := 0
		for _, e := range []Endpoint{op.From, op.To} {
			switch e.Kind {
			case EndpointStepLabel:
				count++
			case EndpointPlaceholder:
				count += 2
			}
		}
		if (i == 0 && count != 4) || (i != 0 && (count == 0 || count == 4)) {
			return planErrorf("addE params not match")
		}
	}
	return nil
}

func (pl *Planner) planAggregate(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 1 {
		return planErrorf("expect one parameter for aggregate")
	}
	name, ok := argString(token.Args[0])
	if !ok {
		return planErrorf("expect a name in aggregate")
	}
	key, found := ls.str2se[name]
	if !found {
		key = ls.trx.nextSideEffect
		ls.trx.nextSideEffect++
		ls.str2se[name] = key
	}
	ls.appendStep(&Aggregate{SideEffectKey: key}, ls.io.isElement())
	return nil
}

func (pl *Planner) planAs(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 1 {
		return planErrorf("expect one parameter for as")
	}
	name, ok := argString(token.Args[0])
	if !ok {
		return planErrorf("expect a name in as")
	}
	if _, dup := ls.str2ls[name]; dup {
		return planErrorf("duplicated key: %s", name)
	}
	lsKey := len(ls.steps)
	ls.str2ls[name] = lsKey
	ls.ls2type[lsKey] = ls.io
	ls.appendStep(&As{LabelStep: lsKey}, false)
	return nil
}

func (pl *Planner) planBranch(ls *lineState, token parser.StepToken, op Operator) error {
	subs, err := ls.subTokens(token.Args, token.Kind)
	if err != nil {
		return err
	}
	current := ls.appendStep(op, false)
	subSteps, err := pl.planSub(ls, subs, current, false)
	if err != nil {
		return err
	}
	switch branch := op.(type) {
	case *Branch:
		branch.SubSteps = subSteps
	case *Repeat:
		branch.SubSteps = subSteps
	}
	return nil
}

func (pl *Planner) planBranchFilter(ls *lineState, token parser.StepToken) error {
	subs, err := ls.subTokens(token.Args, token.Kind)
	if err != nil {
		return err
	}
	var filter FilterKind
	switch token.Kind {
	case parser.StepAnd:
		filter = FilterAnd
	case parser.StepOr:
		filter = FilterOr
	case parser.StepNot:
		filter = FilterNot
	}
	op := &BranchFilter{Filter: filter}
	current := ls.appendStep(op, false)
	subSteps, err := pl.planSub(ls, subs, current, true)
	if err != nil {
		return err
	}
	op.SubSteps = subSteps
	return nil
}

// planSub lowers branch sub-chains. Each sub-chain's last operator points
// back to the branch operator; the branch operator's Next lands after the
// final sub-chain. Filter branches restore the input type; value branches
// take the (single) output type of their subs.
func (pl *Planner) planSub(ls *lineState, subs [][]parser.StepToken, current int,
	filterBranch bool) ([]int, error) {
	currentType := ls.io
	var subType ioType
	first := true
	savedFirstInSub := ls.firstInSub
	var subSteps []int

	for _, sub := range subs {
		ls.io = currentType
		ls.firstInSub = len(ls.steps)
		start := len(ls.steps)

		tokens := append([]parser.StepToken(nil), sub...)
		pl.reorder(tokens)
		if err := pl.planSteps(ls, tokens); err != nil {
			return nil, err
		}
		if len(ls.steps) == start {
			return nil, planErrorf("empty sub query")
		}
		if first {
			subType = ls.io
			first = false
		} else if !filterBranch && subType != ls.io {
			return nil, planErrorf("expect same output type in sub queries")
		}
		subSteps = append(subSteps, start)

		// Rewire this sub-chain's tail back into the branch operator.
		end := len(ls.steps)
		last := start
		for ls.steps[last].Next != end {
			last = ls.steps[last].Next
		}
		ls.steps[last].Next = current
	}

	ls.steps[current].Next = len(ls.steps)
	if filterBranch {
		ls.io = currentType
	} else {
		ls.io = subType
	}
	ls.firstInSub = savedFirstInSub
	return subSteps, nil
}

func (pl *Planner) planCap(ls *lineState, token parser.StepToken) error {
	if len(token.Args) < 1 {
		return planErrorf("expect at least one parameter for cap")
	}
	op := &Cap{}
	for _, arg := range token.Args {
		name, ok := argString(arg)
		if !ok {
			return planErrorf("expect names in cap")
		}
		key, found := ls.str2se[name]
		if !found {
			return planErrorf("unexpected key in cap: %s", name)
		}
		op.Keys = append(op.Keys, key)
		op.Names = append(op.Names, name)
	}
	ls.appendStep(op, false)
	ls.io = ioCollection
	return nil
}

func (pl *Planner) planCount(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 0 {
		return planErrorf("expect no parameter for count")
	}
	ls.appendStep(&Count{}, false)
	ls.io = ioInt
	return nil
}

func (pl *Planner) planDedup(ls *lineState, token parser.StepToken) error {
	op := &Dedup{}
	for _, arg := range token.Args {
		name, ok := argString(arg)
		if !ok {
			return planErrorf("expect keys in dedup")
		}
		key, found := ls.str2ls[name]
		if !found {
			return planErrorf("unexpected key in dedup: %s, avail is %s", name, availKeys(ls.str2ls))
		}
		op.Keys = append(op.Keys, key)
	}
	ls.appendStep(op, ls.io.isElement())
	return nil
}

func (pl *Planner) planDrop(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 0 {
		return planErrorf("expect no param in drop")
	}
	var element graph.ElementType
	isProperty := false
	switch ls.io {
	case ioVP:
		isProperty = true
		element = graph.Vertex
	case ioVertex:
		element = graph.Vertex
	case ioEP:
		isProperty = true
		element = graph.Edge
	case ioEdge:
		element = graph.Edge
	default:
		return planErrorf("unexpected input type before drop")
	}
	ls.appendStep(&Drop{Element: element, IsProperty: isProperty}, false)

	// Dropping a vertex also drops its connected edges in a second pass.
	if ls.io == ioVertex {
		ls.appendStep(&Drop{Element: graph.Edge}, false)
	}
	ls.trx.plan.Kind |= TrxDelete
	ls.readOnly = false
	return nil
}

func (pl *Planner) planGroup(ls *lineState, token parser.StepToken) error {
	if len(token.Args) > 2 {
		return planErrorf("expect at most two params in group")
	}
	op := &Group{IsCount: token.Kind == parser.StepGroupCount, ProjectKey: -1}
	if len(token.Args) > 0 {
		element, err := elementOf(ls, token.Kind)
		if err != nil {
			return err
		}
		keys := [2]int{-1, -1}
		for i, arg := range token.Args {
			id, _, err := pl.propKeyArg(ls, arg, element, token.Kind)
			if err != nil {
				return err
			}
			keys[i] = int(id)
		}
		op.ProjectKey = len(ls.steps)
		ls.appendStep(&Project{Element: element, KeyID: keys[0], ValueID: keys[1]}, false)
	}
	ls.appendStep(op, false)
	ls.io = ioCollection
	return nil
}

func (pl *Planner) planHas(ls *lineState, token parser.StepToken) error {
	if token.Kind != parser.StepHasValue && len(token.Args) < 1 {
		return planErrorf("expect at least one param for %v", token.Kind)
	}
	element, err := elementOf(ls, token.Kind)
	if err != nil {
		return err
	}
	if !ls.lastStepIs(KindHas) {
		ls.appendStep(&Has{Element: element}, false)
	}
	op := ls.lastStep().Op.(*Has)

	switch token.Kind {
	case parser.StepHas:
		if len(token.Args) > 2 {
			return planErrorf("expect at most two params for has")
		}
		key, vt, err := pl.propKeyArg(ls, token.Args[0], element, token.Kind)
		if err != nil {
			return err
		}
		pred, err := predicateArg(token.Args, 1)
		if err != nil {
			return err
		}
		if err := checkPredValueTypes(pred, vt); err != nil {
			return err
		}
		op.Preds = append(op.Preds, HasPred{PKey: int(key), Pred: pred})

	case parser.StepHasValue:
		for _, arg := range token.Args {
			lit, ok := arg.(parser.LitArg)
			if !ok {
				return planErrorf("unexpected value in hasValue")
			}
			op.Preds = append(op.Preds, HasPred{
				PKey: -1,
				Pred: graph.Predicate{Kind: graph.PredEq, Values: []graph.Value{lit.Value}},
			})
		}

	case parser.StepHasNot:
		if len(token.Args) != 1 {
			return planErrorf("expect one param for hasNot")
		}
		key, _, err := pl.propKeyArg(ls, token.Args[0], element, token.Kind)
		if err != nil {
			return err
		}
		op.Preds = append(op.Preds, HasPred{PKey: int(key), Pred: graph.Predicate{Kind: graph.PredNone}})

	case parser.StepHasKey:
		if len(token.Args) != 1 {
			return planErrorf("expect one param for hasKey")
		}
		key, _, err := pl.propKeyArg(ls, token.Args[0], element, token.Kind)
		if err != nil {
			return err
		}
		op.Preds = append(op.Preds, HasPred{PKey: int(key), Pred: graph.Predicate{Kind: graph.PredAny}})
	}

	pl.tryIndexPushdown(ls, element, op)
	return nil
}

// checkPredValueTypes rejects predicates whose values can't match the key's
// declared type.
func checkPredValueTypes(pred graph.Predicate, vt graph.ValueType) error {
	for _, v := range pred.Values {
		if pred.Kind == graph.PredAny || pred.Kind == graph.PredNone {
			continue
		}
		vNum := v.Type == graph.TypeInt || v.Type == graph.TypeDouble
		kNum := vt == graph.TypeInt || vt == graph.TypeDouble
		if vNum != kNum {
			return planErrorf("predicate type not match")
		}
	}
	return nil
}

// tryIndexPushdown hoists an index-enabled predicate of a has() directly
// after the graph entry into the entry operator, keeping the running
// cardinality minimum and pushing back predicates that no longer qualify.
func (pl *Planner) tryIndexPushdown(ls *lineState, element graph.ElementType, op *Has) {
	if pl.indexes == nil || !pl.opts.EnableIndex {
		return
	}
	if len(ls.steps) != 2 || ls.steps[0].Op.Kind() != KindInit {
		return
	}
	if len(op.Preds) == 0 {
		return
	}
	last := op.Preds[len(op.Preds)-1]
	if last.PKey == -1 {
		return
	}
	count, enabled := pl.indexes.Estimate(element, graph.Label(last.PKey), last.Pred)
	if !enabled || count/pl.opts.IndexRatio >= ls.minCount {
		return
	}
	init := ls.steps[0].Op.(*Init)
	init.Pushed = append(init.Pushed, last)
	ls.indexCounts = append(ls.indexCounts, count)
	op.Preds = op.Preds[:len(op.Preds)-1]

	if count < ls.minCount {
		ls.minCount = count
		// Push back previously hoisted predicates that exceed the new
		// threshold.
		kept := init.Pushed[:0]
		keptCounts := ls.indexCounts[:0]
		for i, pushed := range init.Pushed {
			if ls.indexCounts[i]/pl.opts.IndexRatio >= ls.minCount && ls.indexCounts[i] != count {
				op.Preds = append(op.Preds, pushed)
			} else {
				kept = append(kept, pushed)
				keptCounts = append(keptCounts, ls.indexCounts[i])
			}
		}
		init.Pushed = kept
		ls.indexCounts = keptCounts
	}

	if len(op.Preds) == 0 {
		ls.removeLastStep()
	}
}

func (pl *Planner) planHasLabel(ls *lineState, token parser.StepToken) error {
	if len(token.Args) < 1 {
		return planErrorf("expect at least one param for hasLabel")
	}
	element, err := elementOf(ls, token.Kind)
	if err != nil {
		return err
	}
	if !ls.lastStepIs(KindHasLabel) {
		ls.appendStep(&HasLabel{Element: element}, false)
	}
	op := ls.lastStep().Op.(*HasLabel)
	for _, arg := range token.Args {
		label, err := pl.labelArg(ls, arg, element, token.Kind)
		if err != nil {
			return err
		}
		op.Labels = append(op.Labels, label)
	}

	// A hasLabel right after the entry turns into a pushed label predicate
	// when the label index exists.
	if pl.indexes != nil && pl.opts.EnableIndex &&
		len(ls.steps) == 2 && ls.steps[0].Op.Kind() == KindInit {
		values := make([]graph.Value, len(op.Labels))
		for i, label := range op.Labels {
			values[i] = graph.IntValue(int64(label))
		}
		pred := graph.Predicate{Kind: graph.PredWithin, Values: values}
		if _, enabled := pl.indexes.Estimate(element, 0, pred); enabled {
			ls.removeLastStep()
			init := ls.steps[0].Op.(*Init)
			init.Pushed = append(init.Pushed, HasPred{PKey: 0, Pred: pred})
		}
	}
	return nil
}

func (pl *Planner) planIs(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 1 {
		return planErrorf("expect one param for is")
	}
	switch ls.io {
	case ioInt, ioDouble, ioChar, ioString:
	default:
		return planErrorf("unexpected input type for is")
	}
	if !ls.lastStepIs(KindIs) {
		ls.appendStep(&Is{}, false)
	}
	op := ls.lastStep().Op.(*Is)
	pred, err := predicateArg(token.Args, 0)
	if err != nil {
		return err
	}
	op.Preds = append(op.Preds, pred)
	return nil
}

func (pl *Planner) planKey(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 0 {
		return planErrorf("expect no parameter for key")
	}
	element, err := propElementOf(ls, token.Kind)
	if err != nil {
		return err
	}
	ls.appendStep(&Key{Element: element}, false)
	ls.io = ioString
	return nil
}

func (pl *Planner) planLabel(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 0 {
		return planErrorf("expect no parameter for label")
	}
	element, err := elementOf(ls, token.Kind)
	if err != nil {
		return err
	}
	ls.appendStep(&Label{Element: element}, false)
	ls.io = ioString
	return nil
}

// propElementOf also accepts property inputs (for key()).
func propElementOf(ls *lineState, step parser.StepKind) (graph.ElementType, error) {
	switch ls.io {
	case ioVertex, ioVP:
		return graph.Vertex, nil
	case ioEdge, ioEP:
		return graph.Edge, nil
	}
	return 0, planErrorf("expect vertex/edge input for %v", step)
}

func (pl *Planner) planMath(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 0 {
		return planErrorf("expect no parameter for %v", token.Kind)
	}
	if !ls.io.isNumber() {
		return planErrorf("expect number input for math related step")
	}
	var kind MathKind
	switch token.Kind {
	case parser.StepMax:
		kind = MathMax
	case parser.StepMean:
		kind = MathMean
	case parser.StepMin:
		kind = MathMin
	case parser.StepSum:
		kind = MathSum
	}
	ls.appendStep(&Math{Op: kind}, false)
	ls.io = ioDouble
	return nil
}

func (pl *Planner) planOrder(ls *lineState, token parser.StepToken) error {
	if len(token.Args) > 2 {
		return planErrorf("expect at most two params in order")
	}
	op := &Order{ProjectKey: -1}
	for _, arg := range token.Args {
		if name, ok := argString(arg); ok && (name == "incr" || name == "decr") {
			op.Descending = name == "decr"
			continue
		}
		element, err := elementOf(ls, token.Kind)
		if err != nil {
			return err
		}
		key, _, err := pl.propKeyArg(ls, arg, element, token.Kind)
		if err != nil {
			return err
		}
		op.ProjectKey = len(ls.steps)
		ls.appendStep(&Project{Element: element, KeyID: int(key), ValueID: -1}, false)
	}
	ls.appendStep(op, ls.io.isElement())
	return nil
}

func (pl *Planner) planProperties(ls *lineState, token parser.StepToken) error {
	element, err := elementOf(ls, token.Kind)
	if err != nil {
		return err
	}
	op := &Properties{Element: element}
	for _, arg := range token.Args {
		key, _, err := pl.propKeyArg(ls, arg, element, token.Kind)
		if err != nil {
			return err
		}
		op.Keys = append(op.Keys, key)
	}
	ls.appendStep(op, false)
	if element == graph.Vertex {
		ls.io = ioVP
	} else {
		ls.io = ioEP
	}
	return nil
}

func (pl *Planner) planProperty(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 2 {
		return planErrorf("expect two params for property")
	}
	element, err := elementOf(ls, token.Kind)
	if err != nil {
		return err
	}
	key, vt, err := pl.propKeyArg(ls, token.Args[0], element, token.Kind)
	if err != nil {
		return err
	}
	lit, ok := token.Args[1].(parser.LitArg)
	if !ok {
		return planErrorf("expect a literal value in property()")
	}
	value := lit.Value
	if value.Type != vt {
		// An int literal can serve a double-typed key.
		if vt == graph.TypeDouble && value.Type == graph.TypeInt {
			value = graph.DoubleValue(float64(value.Int()))
		} else {
			return planErrorf("property key type no match with value type in property()")
		}
	}
	ls.appendStep(&Property{Element: element, PKey: key, Value: value}, false)
	ls.trx.plan.Kind |= TrxUpdate
	ls.readOnly = false
	return nil
}

func (pl *Planner) planRange(ls *lineState, token parser.StepToken) error {
	var ints []int
	for _, arg := range token.Args {
		n, ok := argInt(arg)
		if !ok {
			return planErrorf("expect number in %v", token.Kind)
		}
		ints = append(ints, int(n))
	}
	op := &Range{Start: 0, End: -1}
	switch token.Kind {
	case parser.StepRange:
		if len(ints) != 2 {
			return planErrorf("expect two parameters for range")
		}
		op.Start, op.End = ints[0], ints[1]
	case parser.StepLimit:
		if len(ints) != 1 {
			return planErrorf("expect one parameter for limit")
		}
		op.End = ints[0] - 1
	case parser.StepSkip:
		if len(ints) != 1 {
			return planErrorf("expect one parameter for skip")
		}
		op.Start = ints[0]
	}
	ls.appendStep(op, ls.io.isElement())
	return nil
}

func (pl *Planner) planCoin(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 1 {
		return planErrorf("one parameter in range of [0, 1] of coin step is needed")
	}
	lit, ok := token.Args[0].(parser.LitArg)
	if !ok {
		return planErrorf("expected a value in range [0.0, 1.0]")
	}
	rate, ok := lit.Value.Number()
	if !ok || rate < 0.0 || rate > 1.0 {
		return planErrorf("expected a value in range [0.0, 1.0]")
	}
	ls.appendStep(&Coin{Rate: rate}, ls.io.isElement())
	return nil
}

func (pl *Planner) planSelect(ls *lineState, token parser.StepToken) error {
	if len(token.Args) < 1 {
		return planErrorf("expect at least one params for select")
	}
	op := &Select{}
	var lastType ioType
	for _, arg := range token.Args {
		name, ok := argString(arg)
		if !ok {
			return planErrorf("expect names in select")
		}
		key, found := ls.str2ls[name]
		if !found {
			return planErrorf("unexpected label step: %s", name)
		}
		op.Keys = append(op.Keys, key)
		op.Names = append(op.Names, name)
		lastType = ls.ls2type[key]
	}
	sendRemote := false
	if len(op.Keys) == 1 {
		ls.io = lastType
		sendRemote = ls.io.isElement()
	} else {
		ls.io = ioCollection
	}
	ls.appendStep(op, sendRemote)
	return nil
}

func (pl *Planner) planTraversal(ls *lineState, token parser.StepToken) error {
	op := &Traversal{}
	switch token.Kind {
	case parser.StepIn, parser.StepOut, parser.StepBoth:
		if ls.io != ioVertex {
			return planErrorf("expect vertex input for %v", token.Kind)
		}
		op.In, op.Out = graph.Vertex, graph.Vertex
	case parser.StepInE, parser.StepOutE, parser.StepBothE:
		if ls.io != ioVertex {
			return planErrorf("expect vertex input for %v", token.Kind)
		}
		op.In, op.Out = graph.Vertex, graph.Edge
	case parser.StepInV, parser.StepOutV, parser.StepBothV:
		if ls.io != ioEdge {
			return planErrorf("expect edge input for %v", token.Kind)
		}
		op.In, op.Out = graph.Edge, graph.Vertex
	}
	switch token.Kind {
	case parser.StepIn, parser.StepInE, parser.StepInV:
		op.Direction = graph.DirIn
	case parser.StepOut, parser.StepOutE, parser.StepOutV:
		op.Direction = graph.DirOut
	default:
		op.Direction = graph.DirBoth
	}

	switch {
	case op.In == graph.Edge:
		if len(token.Args) != 0 {
			return planErrorf("expect no param for %v", token.Kind)
		}
	default:
		if len(token.Args) > 1 {
			return planErrorf("expect at most one param for %v", token.Kind)
		}
		if len(token.Args) == 1 {
			label, err := pl.labelArg(ls, token.Args[0], graph.Edge, token.Kind)
			if err != nil {
				return err
			}
			op.Label = label
		}
	}
	ls.appendStep(op, true)
	if op.Out == graph.Edge {
		ls.io = ioEdge
	} else {
		ls.io = ioVertex
	}
	return nil
}

func (pl *Planner) planValues(ls *lineState, token parser.StepToken) error {
	element, err := elementOf(ls, token.Kind)
	if err != nil {
		return err
	}
	op := &Values{Element: element}
	outType := graph.TypeString
	first := true
	for _, arg := range token.Args {
		key, vt, err := pl.propKeyArg(ls, arg, element, token.Kind)
		if err != nil {
			return err
		}
		if first {
			outType = vt
			first = false
		} else if outType != vt {
			return planErrorf("expect same type of key in values")
		}
		op.Keys = append(op.Keys, key)
	}
	ls.appendStep(op, false)
	ls.io = valueIO(outType)
	return nil
}

func (pl *Planner) planWhere(ls *lineState, token parser.StepToken) error {
	if len(token.Args) == 0 || len(token.Args) > 2 {
		return planErrorf("expect one or two params for where")
	}

	// where(subquery) runs as a single-branch AND filter.
	if len(token.Args) == 1 {
		if sub, ok := token.Args[0].(parser.SubArg); ok {
			op := &BranchFilter{Filter: FilterAnd}
			current := ls.appendStep(op, false)
			subSteps, err := pl.planSub(ls, [][]parser.StepToken{sub.Steps}, current, true)
			if err != nil {
				return planErrorf("error when parsing where: %v", err)
			}
			op.SubSteps = subSteps
			return nil
		}
	}

	historyKey := -1
	predIndex := 0
	if len(token.Args) == 2 {
		name, ok := argString(token.Args[0])
		if !ok {
			return planErrorf("unexpected label step in where")
		}
		key, found := ls.str2ls[name]
		if !found {
			return planErrorf("unexpected label step: %s", name)
		}
		historyKey = key
		predIndex = 1
	}

	pred, ok := token.Args[predIndex].(parser.PredArg)
	if !ok {
		return planErrorf("expect a predicate in where")
	}
	// Predicate operands are label-step names (or side-effect names for
	// within/without) whose recorded values get compared at runtime.
	keyMap := ls.str2ls
	if pred.Kind == graph.PredWithin || pred.Kind == graph.PredWithout {
		keyMap = ls.str2se
	}
	cond := WhereCond{HistoryKey: historyKey, Pred: pred.Kind}
	for _, pa := range pred.Args {
		name, ok := argString(pa)
		if !ok {
			return planErrorf("unexpected key in where predicate")
		}
		key, found := keyMap[name]
		if !found {
			return planErrorf("unexpected key: %s, avail is %s", name, availKeys(keyMap))
		}
		cond.RefKeys = append(cond.RefKeys, key)
	}

	if !ls.lastStepIs(KindWhere) {
		ls.appendStep(&Where{}, false)
	}
	op := ls.lastStep().Op.(*Where)
	op.Conds = append(op.Conds, cond)
	return nil
}

func (pl *Planner) planBuildIndex(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 2 {
		return planErrorf("expect 2 parameters")
	}
	name, _ := argString(token.Args[0])
	var element graph.ElementType
	switch name {
	case "V":
		element = graph.Vertex
		ls.io = ioVertex
	case "E":
		element = graph.Edge
		ls.io = ioEdge
	default:
		return planErrorf("expect V/E but get: %s", name)
	}
	key, _, err := pl.propKeyArg(ls, token.Args[1], element, token.Kind)
	if err != nil {
		return err
	}
	ls.appendStep(&BuildIndex{Element: element, PKey: key}, false)
	ls.readOnly = false
	return nil
}

func (pl *Planner) planSetConfig(ls *lineState, token parser.StepToken) error {
	if len(token.Args) != 2 {
		return planErrorf("expect 2 parameters")
	}
	name, ok := argString(token.Args[0])
	if !ok {
		return planErrorf("expect a config name")
	}
	op := &SetConfig{Name: name}
	if n, isInt := argInt(token.Args[1]); isInt {
		op.IsInt = true
		op.IntValue = int(n)
	} else {
		value, ok := argString(token.Args[1])
		if !ok {
			return planErrorf("expect 'enable' or 'y' or 't'")
		}
		switch {
		case value == "enable" || strings0(value) == 'y' || strings0(value) == 't':
			op.Enable = true
		case value == "disable" || strings0(value) == 'n' || strings0(value) == 'f':
			op.Enable = false
		default:
			return planErrorf("expect 'enable' or 'y' or 't'")
		}
	}
	ls.appendStep(op, false)
	ls.readOnly = false
	return nil
}

func strings0(s string) byte {
	if s == "" {
		return 0
	}
	return s[0]
}

// stepPriority returns the reorder priority of a step; -1 means the step
// never moves. Lower priorities are eligible to run earlier.
func stepPriority(kind parser.StepKind) int {
	switch kind {
	case parser.StepIs, parser.StepWhere:
		return 0
	case parser.StepHas, parser.StepHasNot, parser.StepHasKey, parser.StepHasValue:
		return 1
	case parser.StepHasLabel:
		return 2
	case parser.StepAnd, parser.StepOr, parser.StepNot:
		return 3
	case parser.StepDedup:
		return 4
	case parser.StepAs:
		return 5
	case parser.StepOrder:
		return 6
	default:
		return -1
	}
}

// reorder moves filter-only steps earlier when behavior-preserving: a
// where/dedup that references as() labels never crosses an as() step.
func (pl *Planner) reorder(tokens []parser.StepToken) {
	if !pl.opts.EnableStepReorder {
		return
	}
	for i := 1; i < len(tokens); i++ {
		priority := stepPriority(tokens[i].Kind)
		if priority == -1 {
			continue
		}
		current := i
		checkAs := false
		switch tokens[i].Kind {
		case parser.StepWhere:
			isQuery := false
			if len(tokens[i].Args) == 1 {
				_, isQuery = tokens[i].Args[0].(parser.SubArg)
			}
			if isQuery {
				priority = stepPriority(parser.StepAnd)
			} else {
				checkAs = true
			}
		case parser.StepDedup:
			checkAs = len(tokens[i].Args) != 0
		}
		for j := i - 1; j >= 0; j-- {
			if checkAs && tokens[j].Kind == parser.StepAs {
				break
			}
			if stepPriority(tokens[j].Kind) > priority {
				tokens[current], tokens[j] = tokens[j], tokens[current]
				current = j
			} else {
				break
			}
		}
	}
}
