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

package storage

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ebay/gryphon/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Insert then read back returns equal bytes and equal type (§8 R1).
func Test_ValueStore_RoundTrip(t *testing.T) {
	store := NewValueStore(1<<16, 1)
	values := []graph.Value{
		graph.IntValue(42),
		graph.DoubleValue(3.14),
		graph.CharValue('x'),
		graph.StringValue(""),
		graph.StringValue("short"),
		graph.StringValue("exactly15bytes!"),                   // fills one cell
		graph.StringValue(strings.Repeat("long-payload. ", 50)), // spans many cells
	}
	for _, value := range values {
		header := store.Insert(value, 0)
		got := store.Read(header)
		assert.Equal(t, value.Type, got.Type)
		assert.Equal(t, string(value.Content), string(got.Content))
		store.Free(header, 0)
	}
	assert.Equal(t, int64(0), store.Outstanding())
}

func Test_ValueStore_DeletedHeader(t *testing.T) {
	store := NewValueStore(1<<12, 1)
	header := ValueHeader{}
	assert.True(t, header.IsDeleted())
	assert.Equal(t, graph.Value{}, store.Read(header))
	store.Free(header, 0) // no-op
	assert.Equal(t, int64(0), store.Outstanding())
}

// Interleaved inserts and frees across 8 threads leave no cell behind
// (§8 scenario 6, scaled to unit-test size).
func Test_ValueStore_ConcurrentChurn(t *testing.T) {
	const nthreads = 8
	const rounds = 5000
	store := NewValueStore(1<<16, nthreads)

	var wg sync.WaitGroup
	for tid := 0; tid < nthreads; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			var held []ValueHeader
			for i := 0; i < rounds; i++ {
				value := graph.StringValue(fmt.Sprintf("t%d-i%d-%s", tid, i,
					strings.Repeat("x", i%40)))
				held = append(held, store.Insert(value, tid))
				if len(held) > 16 {
					store.Free(held[0], tid)
					held = held[1:]
				}
			}
			for _, header := range held {
				store.Free(header, tid)
			}
		}(tid)
	}
	wg.Wait()

	require.Equal(t, int64(0), store.Outstanding())
}
