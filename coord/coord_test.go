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

package coord

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RegisterTrx_UniqueAndRouted(t *testing.T) {
	c := New()
	a := c.RegisterTrx(0)
	b := c.RegisterTrx(1)
	assert.NotEqual(t, a, b)
	assert.True(t, IsValidTrxID(a))
	assert.True(t, IsValidTrxID(b))

	w, ok := c.WorkerFromTrxID(b)
	require.True(t, ok)
	assert.Equal(t, 1, w)
}

func Test_Timestamps_Monotonic(t *testing.T) {
	c := New()
	trx := c.RegisterTrx(0)
	bt := c.AllocateBT(trx)
	ct := c.AllocateCT(trx)
	assert.Greater(t, ct, bt)
	assert.False(t, IsValidTrxID(bt), "timestamps are not trxids")
}

func Test_MinActiveBT(t *testing.T) {
	c := New()
	a := c.RegisterTrx(0)
	b := c.RegisterTrx(0)
	btA := c.AllocateBT(a)
	btB := c.AllocateBT(b)
	require.Less(t, btA, btB)

	assert.Equal(t, btA, c.MinActiveBT())
	c.FinishTrx(a)
	assert.Equal(t, btB, c.MinActiveBT())
	c.FinishTrx(b)
	assert.Greater(t, c.MinActiveBT(), btB)
}

func Test_Concurrent_AllocationsDistinct(t *testing.T) {
	c := New()
	const n = 64
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = c.RegisterTrx(i % 4)
			c.AllocateBT(ids[i])
		}(i)
	}
	wg.Wait()
	seen := map[uint64]bool{}
	for _, id := range ids {
		require.False(t, seen[id])
		seen[id] = true
	}
}
