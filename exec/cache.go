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
	"github.com/dgraph-io/ristretto/v2"
	"github.com/ebay/gryphon/graph"
	log "github.com/sirupsen/logrus"
)

// A Cache holds property values read by read-only transactions, keyed by
// (pid, begin time of the reading transaction). Read-write
// transactions bypass it: their reads must see their own uncommitted
// writes.
type Cache struct {
	values *ristretto.Cache[uint64, graph.Value]
}

// NewCache creates the expert read cache sized to roughly maxItems entries.
func NewCache(maxItems int64) *Cache {
	values, err := ristretto.NewCache(&ristretto.Config[uint64, graph.Value]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		log.WithError(err).Panic("Failed to create expert cache")
	}
	return &Cache{values: values}
}

// cacheKey folds the snapshot time into the pid. Property ids use the full
// 64 bits, so mix rather than pack.
func cacheKey(pid, bt uint64) uint64 {
	return pid ^ bt*0x9E3779B97F4A7C15
}

// Get returns the cached value for (pid, bt).
func (c *Cache) Get(pid, bt uint64) (graph.Value, bool) {
	if c == nil {
		return graph.Value{}, false
	}
	return c.values.Get(cacheKey(pid, bt))
}

// Put stores a committed value read at bt.
func (c *Cache) Put(pid, bt uint64, value graph.Value) {
	if c == nil {
		return
	}
	c.values.Set(cacheKey(pid, bt), value, 1)
}
