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

package loader

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// The graph source file names under the data root.
const (
	VerticesFile   = "vertices"
	EdgesFile      = "edges"
	VertexPropFile = "vtx_property"
	EdgePropFile   = "edge_property"
)

// Stats counts what one worker loaded.
type Stats struct {
	Vertices        int
	Edges           int
	VertexProps     int
	EdgeProps       int
	SkippedVertices int
}

// Load fills the store with this worker's partition of the graph: vertices
// it owns (vid mod workerCount == rank), edges touching an owned endpoint,
// and their properties.
func Load(root string, store *storage.Store, strs *Strings, rank, workerCount int) (Stats, error) {
	var stats Stats
	owned := func(vid graph.VID) bool {
		return vid.Worker(workerCount) == rank
	}

	err := forEachLine(filepath.Join(root, VerticesFile), func(fields []string) error {
		if len(fields) != 2 {
			return fmt.Errorf("expected 'vid label', got %d fields", len(fields))
		}
		vid, err := parseVID(fields[0])
		if err != nil {
			return err
		}
		label, ok := strs.vLabel[fields[1]]
		if !ok {
			return fmt.Errorf("unknown vertex label %q", fields[1])
		}
		if !owned(vid) {
			stats.SkippedVertices++
			return nil
		}
		store.LoadVertex(vid, label, 0)
		stats.Vertices++
		return nil
	})
	if err != nil {
		return stats, err
	}

	err = forEachLine(filepath.Join(root, EdgesFile), func(fields []string) error {
		if len(fields) != 3 {
			return fmt.Errorf("expected 'out_vid in_vid label', got %d fields", len(fields))
		}
		out, err := parseVID(fields[0])
		if err != nil {
			return err
		}
		in, err := parseVID(fields[1])
		if err != nil {
			return err
		}
		label, ok := strs.eLabel[fields[2]]
		if !ok {
			return fmt.Errorf("unknown edge label %q", fields[2])
		}
		if !owned(out) && !owned(in) {
			return nil
		}
		store.LoadEdge(graph.NewEID(out, in), label, 0)
		stats.Edges++
		return nil
	})
	if err != nil {
		return stats, err
	}

	err = forEachLine(filepath.Join(root, VertexPropFile), func(fields []string) error {
		if len(fields) != 3 {
			return fmt.Errorf("expected 'vid key value', got %d fields", len(fields))
		}
		vid, err := parseVID(fields[0])
		if err != nil {
			return err
		}
		if !owned(vid) {
			return nil
		}
		key, ok := strs.vPKey[fields[1]]
		if !ok {
			return fmt.Errorf("unknown vertex property key %q", fields[1])
		}
		value, err := parseTyped(fields[2], strs.vPType[key])
		if err != nil {
			return err
		}
		store.LoadVP(graph.NewVPID(vid, key), value, 0)
		stats.VertexProps++
		return nil
	})
	if err != nil {
		return stats, err
	}

	err = forEachLine(filepath.Join(root, EdgePropFile), func(fields []string) error {
		if len(fields) != 4 {
			return fmt.Errorf("expected 'out_vid in_vid key value', got %d fields", len(fields))
		}
		out, err := parseVID(fields[0])
		if err != nil {
			return err
		}
		in, err := parseVID(fields[1])
		if err != nil {
			return err
		}
		if !owned(out) && !owned(in) {
			return nil
		}
		key, ok := strs.ePKey[fields[2]]
		if !ok {
			return fmt.Errorf("unknown edge property key %q", fields[2])
		}
		value, err := parseTyped(fields[3], strs.ePType[key])
		if err != nil {
			return err
		}
		store.LoadEP(graph.NewEPID(graph.NewEID(out, in), key), value, 0)
		stats.EdgeProps++
		return nil
	})
	if err != nil {
		return stats, err
	}

	printer := message.NewPrinter(language.English)
	log.WithFields(log.Fields{
		"rank":     rank,
		"vertices": printer.Sprintf("%d", stats.Vertices),
		"edges":    printer.Sprintf("%d", stats.Edges),
		"vProps":   printer.Sprintf("%d", stats.VertexProps),
		"eProps":   printer.Sprintf("%d", stats.EdgeProps),
	}).Info("Loaded graph partition")
	return stats, nil
}

func parseVID(s string) (graph.VID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v > graph.MaxVID {
		return 0, fmt.Errorf("bad vid %q", s)
	}
	return graph.VID(v), nil
}

// parseTyped converts a property file value using the key's declared type.
func parseTyped(s string, vt graph.ValueType) (graph.Value, error) {
	switch vt {
	case graph.TypeInt:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return graph.Value{}, fmt.Errorf("bad int %q", s)
		}
		return graph.IntValue(v), nil
	case graph.TypeDouble:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return graph.Value{}, fmt.Errorf("bad double %q", s)
		}
		return graph.DoubleValue(v), nil
	case graph.TypeChar:
		if len(s) != 1 {
			return graph.Value{}, fmt.Errorf("bad char %q", s)
		}
		return graph.CharValue(s[0]), nil
	default:
		return graph.StringValue(s), nil
	}
}
