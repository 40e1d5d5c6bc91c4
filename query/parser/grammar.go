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

package parser

import (
	"fmt"
	"strings"

	"github.com/ebay/gryphon/graph"
	p "github.com/vektah/goparsify"
)

var (
	// lineParser is the parser function called by Parse for each line of a
	// transaction.
	lineParser p.Parser
)

func init() {
	ident := p.Chars("A-Za-z0-9_", 1)

	// Steps nest inside branch/filter arguments, so the chain parser has to
	// refer to itself through an indirection.
	var stepChain p.Parser
	subquery := p.NewParser("subquery", func(ps *p.State, node *p.Result) {
		stepChain(ps, node)
	})

	literal := p.Any(
		p.NumberLit().Map(func(n *p.Result) {
			switch v := n.Result.(type) {
			case int64:
				n.Result = LitArg{Value: graph.IntValue(v)}
			case float64:
				n.Result = LitArg{Value: graph.DoubleValue(v)}
			}
		}),
		p.StringLit(`"'`).Map(func(n *p.Result) {
			n.Result = LitArg{Value: graph.StringValue(n.Token)}
		}),
	)

	predicate := predParser(subquery, literal, ident)

	trace := func(name string, parser p.Parser) p.Parser {
		return func(ps *p.State, node *p.Result) {
			fmt.Println("DEBUG trying", name, "at pos", ps.Pos, "cut", ps.Cut)
			parser(ps, node)
			fmt.Println("DEBUG after", name, "errored=", ps.Errored(), "pos", ps.Pos, "cut", ps.Cut)
		}
	}

	arg := p.Any(
		trace("predicate", predicate),
		trace("subquery", subquery),
		trace("literal", literal),
		trace("ident", ident.Map(func(n *p.Result) {
			n.Result = IdentArg{Name: n.Token}
		})))

	argList := repeatZeroOrMore(arg, ",")

	step := p.Seq(stepName(), "(", p.Cut(), p.Maybe(argList), ")").Map(func(n *p.Result) {
		token := StepToken{Kind: n.Child[0].Result.(StepKind)}
		if n.Child[3].Result != nil || len(n.Child[3].Child) > 0 {
			for _, child := range n.Child[3].Child {
				token.Args = append(token.Args, child.Result.(Arg))
			}
		}
		n.Result = token
	})

	stepChain = repeatOneOrMore(step, ".").Map(func(n *p.Result) {
		steps := make([]StepToken, 0, len(n.Child))
		for _, child := range n.Child {
			steps = append(steps, child.Result.(StepToken))
		}
		n.Result = SubArg{Steps: steps}
	})

	gQuery := p.Seq("g", ".", stepChain).Map(func(n *p.Result) {
		n.Result = n.Child[2].Result
	})

	assignment := p.Seq(ident, "=", p.Cut(), gQuery).Map(func(n *p.Result) {
		n.Result = Line{
			Var:   n.Child[0].Token,
			Steps: n.Child[3].Result.(SubArg).Steps,
		}
	})

	queryLine := gQuery.Map(func(n *p.Result) {
		n.Result = Line{Steps: n.Result.(SubArg).Steps}
	})

	// BuildIndex / SetConfig commands reuse the step grammar; they're just
	// one-call chains without the g. prefix.
	command := step.Map(func(n *p.Result) {
		n.Result = Line{Steps: []StepToken{n.Result.(StepToken)}}
	})

	lineParser = p.Any(assignment, queryLine, command)
}

// stepName matches a known step name. Parsing the whole identifier first
// keeps has/hasLabel/hasNot unambiguous.
func stepName() p.Parser {
	return p.NewParser("step", func(ps *p.State, node *p.Result) {
		ps.WS(ps)
		in := ps.Get()
		end := 0
		for end < len(in) && isIdentChar(in[end]) {
			end++
		}
		kind, ok := stepNames[in[:end]]
		fmt.Println("DEBUG stepName try:", in[:end], "ok=", ok)
		if end == 0 || !ok {
			ps.ErrorHere("step name")
			return
		}
		node.Token = in[:end]
		node.Result = kind
		ps.Advance(end)
	})
}

// predParser matches a predicate call: a known predicate name applied to
// literals or identifiers.
func predParser(subquery, literal, ident p.Parser) p.Parser {
	name := p.NewParser("predicate", func(ps *p.State, node *p.Result) {
		ps.WS(ps)
		in := ps.Get()
		end := 0
		for end < len(in) && isIdentChar(in[end]) {
			end++
		}
		kind, ok := graph.PredKindOf(in[:end])
		fmt.Println("DEBUG predicate name try:", in[:end], "ok=", ok)
		if end == 0 || !ok {
			ps.ErrorHere("predicate name")
			return
		}
		node.Result = kind
		ps.Advance(end)
	})
	predArg := p.Any(literal, ident.Map(func(n *p.Result) {
		n.Result = IdentArg{Name: n.Token}
	}))
	return p.Seq(name, "(", p.Cut(), repeatZeroOrMore(predArg, ","), ")").Map(func(n *p.Result) {
		pred := PredArg{Kind: n.Child[0].Result.(graph.PredKind)}
		for _, child := range n.Child[3].Child {
			pred.Args = append(pred.Args, child.Result.(Arg))
		}
		n.Result = pred
	})
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// repeatZeroOrMore matches zero or more parsers with an optional separator,
// returning matches as .Child[n]. This and repeatOneOrMore exist because the
// difference between Some & Many is not obvious from the name.
func repeatZeroOrMore(parser p.Parserish, sep ...p.Parserish) p.Parser {
	return p.Some(parser, sep...)
}

// repeatOneOrMore matches one or more parsers with an optional separator.
func repeatOneOrMore(parser p.Parserish, sep ...p.Parserish) p.Parser {
	return p.Many(parser, sep...)
}

// Parse splits a transaction into lines and parses each. Lines are
// separated by semicolons or newlines; blank lines are skipped.
func Parse(trx string) ([]Line, error) {
	var lines []Line
	rawLines := splitLines(trx)
	for lineNum, raw := range rawLines {
		result, err := p.Run(lineParser, raw, p.ASCIIWhitespace)
		if err != nil {
			return nil, &ParseError{LineNum: lineNum, Line: raw, Message: err.Error()}
		}
		line := result.(Line)
		if err := checkLine(&line); err != nil {
			return nil, &ParseError{LineNum: lineNum, Line: raw, Message: err.Error()}
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, &ParseError{Message: "empty transaction"}
	}
	return lines, nil
}

// checkLine enforces the line-level shape: commands stand alone, queries
// start at a graph entry, and from/to only follow addE.
func checkLine(line *Line) error {
	first := line.Steps[0].Kind
	if first == StepBuildIndex || first == StepSetConfig {
		if len(line.Steps) != 1 {
			return errorf("%v does not chain with other steps", first)
		}
		if line.Var != "" {
			return errorf("%v cannot be assigned to a variable", first)
		}
		return nil
	}
	switch first {
	case StepV, StepE, StepAddV, StepAddE:
	default:
		return errorf("execute query with g.V or g.E")
	}
	for i, step := range line.Steps {
		if step.Kind == StepFrom || step.Kind == StepTo {
			if !followsAddE(line.Steps, i) {
				return errorf("expect 'addE()' before from/to")
			}
		}
	}
	return nil
}

// followsAddE allows from/to directly after addE, or after addE plus the
// other endpoint step.
func followsAddE(steps []StepToken, i int) bool {
	if i >= 1 && steps[i-1].Kind == StepAddE {
		return true
	}
	return i >= 2 && steps[i-2].Kind == StepAddE &&
		(steps[i-1].Kind == StepFrom || steps[i-1].Kind == StepTo)
}

func errorf(format string, args ...any) error {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

func splitLines(trx string) []string {
	fields := strings.FieldsFunc(trx, func(r rune) bool {
		return r == ';' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
