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
	"math/rand"
	"sort"
	"strings"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/msg"
	"github.com/ebay/gryphon/query/plan"
	"github.com/ebay/gryphon/util/cmp"
	"github.com/ebay/gryphon/util/random"
)

// barrierLogic is the operator-specific half of a barrier expert: accumulate
// partial payloads, then emit once the path counter says every fan-out
// arrived.
type barrierLogic interface {
	newState() any
	collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error
	finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error)
}

// barrierExpert is the shared barrier base: it keys the accumulator by
// (qid, branch msg, branch index), detects readiness by collapsing the
// message path, and either forwards the payload or short-circuits into a
// following barrier.
type barrierExpert struct {
	logic barrierLogic
}

func (x *barrierExpert) Process(e *Engine, qs *queryState, m *msg.Message, tid int) ([]msg.Message, error) {
	key := m.Meta.BarrierKey()
	qs.lock.Lock()
	acc := qs.barriers[key]
	if acc == nil {
		acc = &accumulator{
			counter: msg.NewPathCounter(),
			state:   x.logic.newState(),
		}
		qs.barriers[key] = acc
	}
	qs.lock.Unlock()

	op := qs.qp.Steps[m.Meta.Step].Op

	acc.lock.Lock()
	if err := x.logic.collect(e, qs.qp, op, acc, m); err != nil {
		acc.lock.Unlock()
		return nil, err
	}
	if !acc.counter.Collect(m.Meta.Path, m.Meta.EndPath()) {
		acc.lock.Unlock()
		return nil, nil
	}
	data, err := x.logic.finish(e, qs.qp, op, acc, m)
	acc.lock.Unlock()

	qs.lock.Lock()
	delete(qs.barriers, key)
	qs.lock.Unlock()
	if err != nil {
		return nil, err
	}

	m.Meta.Path = m.Meta.EndPath()

	// The terminal barrier sends the aggregate home instead of forwarding.
	if _, isEnd := x.logic.(*endLogic); isEnd {
		var values []graph.Value
		for _, pair := range data {
			values = append(values, pair.Values...)
		}
		return []msg.Message{msg.CreateExitMessage(m, values)}, nil
	}

	// When the next operator is also a barrier there's no fan-out to wait
	// for; move the payload into this message and run it in place.
	next := qs.qp.Steps[m.Meta.Step].Next
	if next < len(qs.qp.Steps) && barrierKinds[qs.qp.Steps[next].Op.Kind()] {
		m.Meta.Step = next
		m.Data = data
		return e.process(qs, m, tid)
	}
	return e.forward(qs, m, data, tid)
}

// historyBuckets accumulates pairs per history identity, preserving the
// first-seen order of buckets.
type historyBuckets struct {
	order   []string
	buckets map[string]*msg.Pair
}

func newHistoryBuckets() *historyBuckets {
	return &historyBuckets{buckets: make(map[string]*msg.Pair)}
}

func (h *historyBuckets) add(pair msg.Pair) *msg.Pair {
	key := pair.History.BucketKey(nil)
	bucket := h.buckets[key]
	if bucket == nil {
		bucket = &msg.Pair{History: pair.History}
		h.buckets[key] = bucket
		h.order = append(h.order, key)
	}
	bucket.Values = append(bucket.Values, pair.Values...)
	return bucket
}

func (h *historyBuckets) pairs() []msg.Pair {
	out := make([]msg.Pair, 0, len(h.order))
	for _, key := range h.order {
		out = append(out, *h.buckets[key])
	}
	return out
}

// countLogic counts values per history bucket.
type countLogic struct{}

func (l *countLogic) newState() any { return newHistoryBuckets() }

func (l *countLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	buckets := acc.state.(*historyBuckets)
	for _, pair := range m.Data {
		buckets.add(pair)
	}
	return nil
}

func (l *countLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	buckets := acc.state.(*historyBuckets)
	out := buckets.pairs()
	if len(out) == 0 {
		return []msg.Pair{{Values: []graph.Value{graph.IntValue(0)}}}, nil
	}
	for i := range out {
		out[i].Values = []graph.Value{graph.IntValue(int64(len(out[i].Values)))}
	}
	return out, nil
}

// dedupLogic deduplicates values per history bucket, or whole buckets by
// their projected key set.
type dedupState struct {
	buckets *historyBuckets
	seen    map[string]bool
}

type dedupLogic struct{}

func (l *dedupLogic) newState() any {
	return &dedupState{buckets: newHistoryBuckets(), seen: make(map[string]bool)}
}

func (l *dedupLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	state := acc.state.(*dedupState)
	keys := op.(*plan.Dedup).Keys
	for _, pair := range m.Data {
		if len(keys) > 0 {
			// Dedup whole buckets by the values recorded at the given
			// label-step keys.
			identity := pair.History.BucketKey(keys)
			if state.seen[identity] {
				continue
			}
			state.seen[identity] = true
			if len(pair.Values) > 0 {
				state.buckets.add(msg.Pair{History: pair.History, Values: pair.Values[:1]})
			}
			continue
		}
		bucket := state.buckets.add(msg.Pair{History: pair.History})
		for _, v := range pair.Values {
			identity := pair.History.BucketKey(nil) + "\x00" + cmp.GetKey(v)
			if state.seen[identity] {
				continue
			}
			state.seen[identity] = true
			bucket.Values = append(bucket.Values, v)
		}
	}
	return nil
}

func (l *dedupLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	state := acc.state.(*dedupState)
	out := state.buckets.pairs()
	kept := out[:0]
	for _, pair := range out {
		if len(pair.Values) > 0 {
			kept = append(kept, pair)
		}
	}
	return kept, nil
}

// groupLogic groups values by a projected key.
type groupState struct {
	order  []string
	groups map[string][]graph.Value
}

type groupLogic struct{}

func (l *groupLogic) newState() any {
	return &groupState{groups: make(map[string][]graph.Value)}
}

func (l *groupLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	state := acc.state.(*groupState)
	projectKey := op.(*plan.Group).ProjectKey
	for _, pair := range m.Data {
		for _, v := range pair.Values {
			groupKey := v
			if projectKey >= 0 {
				if recorded, ok := pair.History.Get(projectKey); ok {
					groupKey = recorded
				}
			}
			key := groupKey.String()
			if _, exists := state.groups[key]; !exists {
				state.order = append(state.order, key)
			}
			state.groups[key] = append(state.groups[key], v)
		}
	}
	return nil
}

func (l *groupLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	state := acc.state.(*groupState)
	isCount := op.(*plan.Group).IsCount
	sort.Strings(state.order)
	values := make([]graph.Value, 0, len(state.order))
	for _, key := range state.order {
		members := state.groups[key]
		if isCount {
			values = append(values, graph.StringValue(fmt.Sprintf("%s:%d", key, len(members))))
		} else {
			parts := make([]string, len(members))
			for i, member := range members {
				parts[i] = member.String()
			}
			values = append(values, graph.StringValue(fmt.Sprintf("%s:[%s]", key, strings.Join(parts, ", "))))
		}
	}
	return []msg.Pair{{Values: values}}, nil
}

// orderLogic sorts values, by a projected key when one is present.
type orderItem struct {
	sortKey graph.Value
	value   graph.Value
	seq     int
}

type orderBucket struct {
	history msg.History
	items   []orderItem
}

type orderState struct {
	order   []string
	buckets map[string]*orderBucket
	nextSeq int
}

type orderLogic struct{}

func (l *orderLogic) newState() any {
	return &orderState{buckets: make(map[string]*orderBucket)}
}

func (l *orderLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	state := acc.state.(*orderState)
	projectKey := op.(*plan.Order).ProjectKey
	for _, pair := range m.Data {
		history := pair.History
		var projected graph.Value
		hasProjection := false
		if projectKey >= 0 {
			if recorded, ok := history.Get(projectKey); ok {
				projected = recorded
				hasProjection = true
			}
			history = withoutKey(history, projectKey)
		}
		key := history.BucketKey(nil)
		bucket := state.buckets[key]
		if bucket == nil {
			bucket = &orderBucket{history: history}
			state.buckets[key] = bucket
			state.order = append(state.order, key)
		}
		for _, v := range pair.Values {
			sortKey := v
			if hasProjection {
				sortKey = projected
			}
			bucket.items = append(bucket.items, orderItem{sortKey: sortKey, value: v, seq: state.nextSeq})
			state.nextSeq++
		}
	}
	return nil
}

func (l *orderLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	state := acc.state.(*orderState)
	descending := op.(*plan.Order).Descending
	out := make([]msg.Pair, 0, len(state.order))
	for _, key := range state.order {
		bucket := state.buckets[key]
		items := bucket.items
		sort.SliceStable(items, func(i, j int) bool {
			c := items[i].sortKey.Compare(items[j].sortKey)
			if c == 0 {
				return items[i].seq < items[j].seq
			}
			if descending {
				return c > 0
			}
			return c < 0
		})
		values := make([]graph.Value, len(items))
		for i, item := range items {
			values[i] = item.value
		}
		// An empty bucket still reports its history.
		out = append(out, msg.Pair{History: bucket.history, Values: values})
	}
	return out, nil
}

func withoutKey(history msg.History, key int) msg.History {
	out := make(msg.History, 0, len(history))
	for _, entry := range history {
		if entry.Key != key {
			out = append(out, entry)
		}
	}
	return out
}

// rangeLogic keeps items [start, end] in arrival order; end -1 is
// unbounded.
type rangeLogic struct{}

func (l *rangeLogic) newState() any { return newHistoryBuckets() }

func (l *rangeLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	buckets := acc.state.(*historyBuckets)
	for _, pair := range m.Data {
		buckets.add(pair)
	}
	return nil
}

func (l *rangeLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	rangeOp := op.(*plan.Range)
	buckets := acc.state.(*historyBuckets)
	count := 0
	var out []msg.Pair
	for _, pair := range buckets.pairs() {
		var values []graph.Value
		for _, v := range pair.Values {
			if rangeOp.End != -1 && count > rangeOp.End {
				break
			}
			if count >= rangeOp.Start {
				values = append(values, v)
			}
			count++
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	return out, nil
}

// coinLogic keeps each value with the configured probability.
type coinState struct {
	buckets *historyBuckets
	rand    *rand.Rand
}

type coinLogic struct{}

func (l *coinLogic) newState() any {
	return &coinState{buckets: newHistoryBuckets(), rand: random.NewSource()}
}

func (l *coinLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	state := acc.state.(*coinState)
	for _, pair := range m.Data {
		state.buckets.add(pair)
	}
	return nil
}

func (l *coinLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	rate := op.(*plan.Coin).Rate
	state := acc.state.(*coinState)
	var out []msg.Pair
	for _, pair := range state.buckets.pairs() {
		var values []graph.Value
		for _, v := range pair.Values {
			if state.rand.Float64() < rate {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			out = append(out, msg.Pair{History: pair.History, Values: values})
		}
	}
	return out, nil
}

// mathLogic folds numeric values into sum/max/min/mean.
type mathState struct {
	count int64
	sum   float64
	max   float64
	min   float64
}

type mathLogic struct{}

func (l *mathLogic) newState() any { return &mathState{} }

func (l *mathLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	state := acc.state.(*mathState)
	for _, pair := range m.Data {
		for _, v := range pair.Values {
			n, ok := v.Number()
			if !ok {
				continue
			}
			if state.count == 0 || n > state.max {
				state.max = n
			}
			if state.count == 0 || n < state.min {
				state.min = n
			}
			state.sum += n
			state.count++
		}
	}
	return nil
}

func (l *mathLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	state := acc.state.(*mathState)
	if state.count == 0 {
		return nil, nil
	}
	var result float64
	switch op.(*plan.Math).Op {
	case plan.MathSum:
		result = state.sum
	case plan.MathMax:
		result = state.max
	case plan.MathMin:
		result = state.min
	case plan.MathMean:
		result = state.sum / float64(state.count)
	}
	return []msg.Pair{{Values: []graph.Value{graph.DoubleValue(result)}}}, nil
}

// aggregateLogic stores the stream into its side-effect slot, passing the
// payload through.
type aggregateLogic struct{}

func (l *aggregateLogic) newState() any { return newHistoryBuckets() }

func (l *aggregateLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	buckets := acc.state.(*historyBuckets)
	for _, pair := range m.Data {
		buckets.add(pair)
	}
	return nil
}

func (l *aggregateLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	buckets := acc.state.(*historyBuckets)
	out := buckets.pairs()
	var all []graph.Value
	for _, pair := range out {
		all = append(all, pair.Values...)
	}
	e.appendSideEffect(qp.TrxID, op.(*plan.Aggregate).SideEffectKey, all)
	return out, nil
}

// capLogic emits the contents of side-effect slots.
type capLogic struct{}

func (l *capLogic) newState() any { return newHistoryBuckets() }

func (l *capLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	return nil
}

func (l *capLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	capOp := op.(*plan.Cap)
	var values []graph.Value
	for i, key := range capOp.Keys {
		stored := e.sideEffect(qp.TrxID, key)
		parts := make([]string, len(stored))
		for j, v := range stored {
			parts[j] = v.String()
		}
		values = append(values, graph.StringValue(
			fmt.Sprintf("%s:[%s]", capOp.Names[i], strings.Join(parts, ", "))))
	}
	return []msg.Pair{{Values: values}}, nil
}

// endLogic aggregates a query's final payload; the barrier base turns its
// result into the EXIT message home.
type endLogic struct{}

func (l *endLogic) newState() any { return newHistoryBuckets() }

func (l *endLogic) collect(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) error {
	buckets := acc.state.(*historyBuckets)
	for _, pair := range m.Data {
		buckets.add(pair)
	}
	return nil
}

func (l *endLogic) finish(e *Engine, qp *plan.QueryPlan, op plan.Operator, acc *accumulator, m *msg.Message) ([]msg.Pair, error) {
	return acc.state.(*historyBuckets).pairs(), nil
}
