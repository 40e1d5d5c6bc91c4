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

// Package rct maintains the recent-committed-transactions index: commit time
// → committed trxids, ordered so validation can collect every commit in a
// begin-time window.
package rct

import (
	"sync"

	"github.com/google/btree"
)

// item is one commit-time bucket in the btree.
type item struct {
	ct     uint64
	trxIDs []uint64
}

// Less orders buckets by commit time.
func (a item) Less(b btree.Item) bool {
	return a.ct < b.(item).ct
}

// An Index is one worker's RCT. Insertions come from the commit path;
// queries from validation.
type Index struct {
	lock sync.Mutex
	tree *btree.BTree
}

// New creates an empty index.
func New() *Index {
	return &Index{
		tree: btree.New(16),
	}
}

// InsertTrx records that trxID committed at ct.
func (idx *Index) InsertTrx(ct, trxID uint64) {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	if existing := idx.tree.Get(item{ct: ct}); existing != nil {
		bucket := existing.(item)
		bucket.trxIDs = append(bucket.trxIDs, trxID)
		idx.tree.ReplaceOrInsert(bucket)
		return
	}
	idx.tree.ReplaceOrInsert(item{ct: ct, trxIDs: []uint64{trxID}})
}

// QueryTrx returns every trxid with commit time in [lo, hi].
func (idx *Index) QueryTrx(lo, hi uint64) []uint64 {
	if hi < lo {
		return nil
	}
	idx.lock.Lock()
	defer idx.lock.Unlock()
	var out []uint64
	idx.tree.AscendGreaterOrEqual(item{ct: lo}, func(i btree.Item) bool {
		bucket := i.(item)
		if bucket.ct > hi {
			return false
		}
		out = append(out, bucket.trxIDs...)
		return true
	})
	return out
}

// EraseBelow drops buckets with commit time older than minCT, once no active
// transaction can need them.
func (idx *Index) EraseBelow(minCT uint64) {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	var stale []uint64
	idx.tree.AscendLessThan(item{ct: minCT}, func(i btree.Item) bool {
		stale = append(stale, i.(item).ct)
		return true
	})
	for _, ct := range stale {
		idx.tree.Delete(item{ct: ct})
	}
}

// Len returns the number of distinct commit times indexed.
func (idx *Index) Len() int {
	idx.lock.Lock()
	defer idx.lock.Unlock()
	return idx.tree.Len()
}
