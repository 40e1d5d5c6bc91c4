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

// Package parser turns transaction text into step tokens. A transaction is a
// semicolon-separated list of lines; each line is an optional "name ="
// assignment followed by a g.V()/g.E()/g.addV/g.addE step chain, or a
// BuildIndex/SetConfig command. The planner in query/plan resolves tokens
// into operator chains.
package parser

import (
	"fmt"

	"github.com/ebay/gryphon/graph"
)

// StepKind identifies a surface-syntax step.
type StepKind uint8

// The surface steps. StepV/StepE are the g.V()/g.E() graph entries.
const (
	StepV StepKind = iota
	StepE
	StepIn
	StepOut
	StepBoth
	StepInE
	StepOutE
	StepBothE
	StepInV
	StepOutV
	StepBothV
	StepAddV
	StepAddE
	StepFrom
	StepTo
	StepAggregate
	StepAnd
	StepAs
	StepCap
	StepCoin
	StepCount
	StepDedup
	StepDrop
	StepGroup
	StepGroupCount
	StepHas
	StepHasKey
	StepHasLabel
	StepHasNot
	StepHasValue
	StepIs
	StepKey
	StepLabel
	StepLimit
	StepMax
	StepMean
	StepMin
	StepNot
	StepOr
	StepOrder
	StepProperties
	StepProperty
	StepRange
	StepRepeat
	StepSelect
	StepSkip
	StepSum
	StepUnion
	StepValues
	StepWhere
	StepBuildIndex
	StepSetConfig
)

// stepNames maps surface names to kinds; the reverse map feeds String().
var stepNames = map[string]StepKind{
	"V":          StepV,
	"E":          StepE,
	"in":         StepIn,
	"out":        StepOut,
	"both":       StepBoth,
	"inE":        StepInE,
	"outE":       StepOutE,
	"bothE":      StepBothE,
	"inV":        StepInV,
	"outV":       StepOutV,
	"bothV":      StepBothV,
	"addV":       StepAddV,
	"addE":       StepAddE,
	"from":       StepFrom,
	"to":         StepTo,
	"aggregate":  StepAggregate,
	"and":        StepAnd,
	"as":         StepAs,
	"cap":        StepCap,
	"coin":       StepCoin,
	"count":      StepCount,
	"dedup":      StepDedup,
	"drop":       StepDrop,
	"group":      StepGroup,
	"groupCount": StepGroupCount,
	"has":        StepHas,
	"hasKey":     StepHasKey,
	"hasLabel":   StepHasLabel,
	"hasNot":     StepHasNot,
	"hasValue":   StepHasValue,
	"is":         StepIs,
	"key":        StepKey,
	"label":      StepLabel,
	"limit":      StepLimit,
	"max":        StepMax,
	"mean":       StepMean,
	"min":        StepMin,
	"not":        StepNot,
	"or":         StepOr,
	"order":      StepOrder,
	"properties": StepProperties,
	"property":   StepProperty,
	"range":      StepRange,
	"repeat":     StepRepeat,
	"select":     StepSelect,
	"skip":       StepSkip,
	"sum":        StepSum,
	"union":      StepUnion,
	"values":     StepValues,
	"where":      StepWhere,
	"BuildIndex": StepBuildIndex,
	"SetConfig":  StepSetConfig,
}

var stepKindNames = func() map[StepKind]string {
	m := make(map[StepKind]string, len(stepNames))
	for name, kind := range stepNames {
		m[kind] = name
	}
	return m
}()

func (k StepKind) String() string {
	if name, ok := stepKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StepKind(%d)", uint8(k))
}

// An Arg is one argument of a step: a literal, a bare identifier, a
// predicate call, or a nested step chain.
type Arg interface {
	argNode()
}

// LitArg is a literal value argument.
type LitArg struct {
	Value graph.Value
}

func (LitArg) argNode() {}

// IdentArg is a bare identifier: a variable, a step label, or a keyword
// like incr/decr.
type IdentArg struct {
	Name string
}

func (IdentArg) argNode() {}

// PredArg is a predicate call like gt(29) or within("a", "b").
type PredArg struct {
	Kind graph.PredKind
	Args []Arg
}

func (PredArg) argNode() {}

// SubArg is a nested step chain, the body of union/and/or/not/repeat/where.
type SubArg struct {
	Steps []StepToken
}

func (SubArg) argNode() {}

// A StepToken is one parsed step call.
type StepToken struct {
	Kind StepKind
	Args []Arg
}

func (s StepToken) String() string {
	return fmt.Sprintf("%v/%d", s.Kind, len(s.Args))
}

// A Line is one parsed query line.
type Line struct {
	// Assignment target, or "".
	Var string
	// The step chain; for command lines a single BuildIndex/SetConfig token.
	Steps []StepToken
}

// A ParseError reports a syntax problem with the offending line.
type ParseError struct {
	LineNum int
	Line    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Parser error at line %d:\n%s\n%s", e.LineNum+1, e.Line, e.Message)
}
