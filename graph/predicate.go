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

package graph

import "fmt"

// PredKind enumerates the predicate operators of the query surface.
type PredKind uint8

// The predicate kinds. Any matches every present value; None matches only a
// missing value.
const (
	PredEq PredKind = iota
	PredNeq
	PredLt
	PredLte
	PredGt
	PredGte
	PredInside
	PredOutside
	PredBetween
	PredWithin
	PredWithout
	PredAny
	PredNone
)

var predNames = map[PredKind]string{
	PredEq:      "eq",
	PredNeq:     "neq",
	PredLt:      "lt",
	PredLte:     "lte",
	PredGt:      "gt",
	PredGte:     "gte",
	PredInside:  "inside",
	PredOutside: "outside",
	PredBetween: "between",
	PredWithin:  "within",
	PredWithout: "without",
	PredAny:     "any",
	PredNone:    "none",
}

// PredKindOf maps a predicate name from the query surface to its kind.
func PredKindOf(name string) (PredKind, bool) {
	for k, n := range predNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

func (k PredKind) String() string {
	if n, ok := predNames[k]; ok {
		return n
	}
	return fmt.Sprintf("PredKind(%d)", uint8(k))
}

// A Predicate is an operator parameter evaluated against property values.
// Scalar kinds carry one value, range kinds two, set kinds any number.
type Predicate struct {
	Kind   PredKind
	Values []Value
}

// Eval evaluates the predicate against a present value.
func (p Predicate) Eval(v Value) bool {
	switch p.Kind {
	case PredAny:
		return true
	case PredNone:
		return false
	case PredEq:
		return v.Equal(p.Values[0])
	case PredNeq:
		return !v.Equal(p.Values[0])
	case PredLt:
		return v.Compare(p.Values[0]) < 0
	case PredLte:
		return v.Compare(p.Values[0]) <= 0
	case PredGt:
		return v.Compare(p.Values[0]) > 0
	case PredGte:
		return v.Compare(p.Values[0]) >= 0
	case PredInside:
		return v.Compare(p.Values[0]) > 0 && v.Compare(p.Values[1]) < 0
	case PredOutside:
		return v.Compare(p.Values[0]) < 0 || v.Compare(p.Values[1]) > 0
	case PredBetween:
		return v.Compare(p.Values[0]) >= 0 && v.Compare(p.Values[1]) <= 0
	case PredWithin:
		for _, w := range p.Values {
			if v.Equal(w) {
				return true
			}
		}
		return false
	case PredWithout:
		for _, w := range p.Values {
			if v.Equal(w) {
				return false
			}
		}
		return true
	}
	panic(fmt.Sprintf("graph: unknown predicate kind %d", p.Kind))
}

// EvalMissing evaluates the predicate for an element that has no value for
// the key: None keeps it, everything else drops it.
func (p Predicate) EvalMissing() bool {
	return p.Kind == PredNone
}

func (p Predicate) String() string {
	s := p.Kind.String() + "("
	for i, v := range p.Values {
		if i > 0 {
			s += ", "
		}
		s += v.String()
	}
	return s + ")"
}
