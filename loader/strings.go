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

// Package loader reads the tab/space-delimited graph source files and the
// four string ↔ id index files into the storage layer.
package loader

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ebay/gryphon/graph"
)

// The index file names under the data root.
const (
	VertexLabelFile = "vtx_label_index"
	EdgeLabelFile   = "edge_label_index"
	VertexPKeyFile  = "vtx_pkey_index"
	EdgePKeyFile    = "edge_pkey_index"
)

// Strings is the bidirectional string ↔ id index of labels and property
// keys. It implements the planner's StringIndex.
type Strings struct {
	vLabel  map[string]graph.Label
	eLabel  map[string]graph.Label
	vPKey   map[string]graph.Label
	ePKey   map[string]graph.Label
	vLabelR map[graph.Label]string
	eLabelR map[graph.Label]string
	vPKeyR  map[graph.Label]string
	ePKeyR  map[graph.Label]string
	vPType  map[graph.Label]graph.ValueType
	ePType  map[graph.Label]graph.ValueType
}

func newStrings() *Strings {
	return &Strings{
		vLabel:  make(map[string]graph.Label),
		eLabel:  make(map[string]graph.Label),
		vPKey:   make(map[string]graph.Label),
		ePKey:   make(map[string]graph.Label),
		vLabelR: make(map[graph.Label]string),
		eLabelR: make(map[graph.Label]string),
		vPKeyR:  make(map[graph.Label]string),
		ePKeyR:  make(map[graph.Label]string),
		vPType:  make(map[graph.Label]graph.ValueType),
		ePType:  make(map[graph.Label]graph.ValueType),
	}
}

// LabelID implements plan.StringIndex.
func (s *Strings) LabelID(element graph.ElementType, name string) (graph.Label, bool) {
	m := s.vLabel
	if element == graph.Edge {
		m = s.eLabel
	}
	id, ok := m[name]
	return id, ok
}

// PropKeyID implements plan.StringIndex.
func (s *Strings) PropKeyID(element graph.ElementType, name string) (graph.Label, graph.ValueType, bool) {
	if element == graph.Edge {
		id, ok := s.ePKey[name]
		return id, s.ePType[id], ok
	}
	id, ok := s.vPKey[name]
	return id, s.vPType[id], ok
}

// LabelName implements plan.StringIndex.
func (s *Strings) LabelName(element graph.ElementType, id graph.Label) string {
	if element == graph.Edge {
		return s.eLabelR[id]
	}
	return s.vLabelR[id]
}

// PropKeyName implements plan.StringIndex.
func (s *Strings) PropKeyName(element graph.ElementType, id graph.Label) string {
	if id == 0 {
		return "label"
	}
	if element == graph.Edge {
		return s.ePKeyR[id]
	}
	return s.vPKeyR[id]
}

// AvailLabels implements plan.StringIndex.
func (s *Strings) AvailLabels(element graph.ElementType) string {
	if element == graph.Edge {
		return joinKeys(s.eLabel)
	}
	return joinKeys(s.vLabel)
}

// AvailPropKeys implements plan.StringIndex.
func (s *Strings) AvailPropKeys(element graph.ElementType) string {
	if element == graph.Edge {
		return joinKeys(s.ePKey)
	}
	return joinKeys(s.vPKey)
}

func joinKeys(m map[string]graph.Label) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// PropType returns the declared value type of a property key.
func (s *Strings) PropType(element graph.ElementType, id graph.Label) graph.ValueType {
	if element == graph.Edge {
		return s.ePType[id]
	}
	return s.vPType[id]
}

// LoadStrings reads the four index files from the data root. Label files
// hold "name id" lines; property-key files hold "name id type" lines with
// type 1=int 2=double 3=char 4=string.
func LoadStrings(root string) (*Strings, error) {
	s := newStrings()
	load := func(file string, withType bool, ids map[string]graph.Label,
		reverse map[graph.Label]string, types map[graph.Label]graph.ValueType) error {
		return forEachLine(filepath.Join(root, file), func(fields []string) error {
			want := 2
			if withType {
				want = 3
			}
			if len(fields) != want {
				return fmt.Errorf("expected %d fields, got %d", want, len(fields))
			}
			id, err := strconv.ParseUint(fields[1], 10, 8)
			if err != nil {
				return fmt.Errorf("bad id %q: %v", fields[1], err)
			}
			ids[fields[0]] = graph.Label(id)
			reverse[graph.Label(id)] = fields[0]
			if withType {
				vt, err := strconv.ParseUint(fields[2], 10, 8)
				if err != nil || vt < 1 || vt > 4 {
					return fmt.Errorf("bad value type %q", fields[2])
				}
				types[graph.Label(id)] = graph.ValueType(vt)
			}
			return nil
		})
	}
	if err := load(VertexLabelFile, false, s.vLabel, s.vLabelR, nil); err != nil {
		return nil, err
	}
	if err := load(EdgeLabelFile, false, s.eLabel, s.eLabelR, nil); err != nil {
		return nil, err
	}
	if err := load(VertexPKeyFile, true, s.vPKey, s.vPKeyR, s.vPType); err != nil {
		return nil, err
	}
	if err := load(EdgePKeyFile, true, s.ePKey, s.ePKeyR, s.ePType); err != nil {
		return nil, err
	}
	return s, nil
}

// forEachLine streams the whitespace-split fields of every non-blank,
// non-comment line.
func forEachLine(path string, visit func(fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := visit(strings.Fields(line)); err != nil {
			return fmt.Errorf("%v:%d: %v", path, lineNum, err)
		}
	}
	return scanner.Err()
}
