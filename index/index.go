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

// Package index keeps the secondary property indexes behind BuildIndex and
// the planner's index push-down: per (element type, property key), an
// ordered map from value to element ids with cardinality estimates.
//
// Index maintenance under concurrent writers is out of scope; an index is a
// snapshot of committed data at build time, and lookups yield candidates
// that the entry operator re-verifies against MVCC-visible state.
package index

import (
	"sync"

	"github.com/ebay/gryphon/graph"
	"github.com/google/btree"
)

// entry is one indexed value and the element ids carrying it.
type entry struct {
	value graph.Value
	ids   []uint64
}

func (a entry) Less(b btree.Item) bool {
	return a.value.Compare(b.(entry).value) < 0
}

// propIndex is the ordered index of one property key.
type propIndex struct {
	tree  *btree.BTree
	total uint64
}

// A Store is one worker's index collection.
type Store struct {
	lock    sync.RWMutex
	indexes map[indexKey]*propIndex
}

type indexKey struct {
	element graph.ElementType
	pkey    graph.Label
}

// New creates an empty index store.
func New() *Store {
	return &Store{indexes: make(map[indexKey]*propIndex)}
}

// Build (re)builds the index of one property key from a snapshot of
// committed (id, value) pairs. Building the label pseudo-key (0) indexes
// element labels.
func (s *Store) Build(element graph.ElementType, pkey graph.Label, ids []uint64, values []graph.Value) {
	idx := &propIndex{tree: btree.New(16)}
	for i, id := range ids {
		probe := entry{value: values[i]}
		if existing := idx.tree.Get(probe); existing != nil {
			e := existing.(entry)
			e.ids = append(e.ids, id)
			idx.tree.ReplaceOrInsert(e)
		} else {
			probe.ids = []uint64{id}
			idx.tree.ReplaceOrInsert(probe)
		}
		idx.total++
	}
	s.lock.Lock()
	s.indexes[indexKey{element, pkey}] = idx
	s.lock.Unlock()
}

// IsEnabled reports whether the key has an index.
func (s *Store) IsEnabled(element graph.ElementType, pkey graph.Label) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.indexes[indexKey{element, pkey}]
	return ok
}

// Estimate returns how many entries match the predicate, and whether the
// key is indexed at all. The planner compares this against its cardinality
// threshold.
func (s *Store) Estimate(element graph.ElementType, pkey graph.Label, pred graph.Predicate) (uint64, bool) {
	s.lock.RLock()
	idx := s.indexes[indexKey{element, pkey}]
	s.lock.RUnlock()
	if idx == nil {
		return 0, false
	}
	var count uint64
	idx.tree.Ascend(func(i btree.Item) bool {
		e := i.(entry)
		if pred.Eval(e.value) {
			count += uint64(len(e.ids))
		}
		return true
	})
	return count, true
}

// Lookup returns the candidate element ids matching the predicate. Callers
// re-verify candidates against MVCC-visible state.
func (s *Store) Lookup(element graph.ElementType, pkey graph.Label, pred graph.Predicate) ([]uint64, bool) {
	s.lock.RLock()
	idx := s.indexes[indexKey{element, pkey}]
	s.lock.RUnlock()
	if idx == nil {
		return nil, false
	}
	var out []uint64
	idx.tree.Ascend(func(i btree.Item) bool {
		e := i.(entry)
		if pred.Eval(e.value) {
			out = append(out, e.ids...)
		}
		return true
	})
	return out, true
}
