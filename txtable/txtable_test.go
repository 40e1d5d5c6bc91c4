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

package txtable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningTable(t *testing.T, main, indirect int) *Table {
	t.Helper()
	table := New(main, indirect)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go table.Run(ctx)
	return table
}

func Test_Lifecycle_Commit(t *testing.T) {
	table := newRunningTable(t, 64, 16)

	const trx = 0x8000000000010000
	table.Insert(trx, 100, false)
	status, ok := table.QueryStatus(trx)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, status)

	require.True(t, table.EnterValidation(trx, 105))
	status, _ = table.QueryStatus(trx)
	assert.Equal(t, StatusValidating, status)
	ct, _ := table.QueryCT(trx)
	assert.Equal(t, uint64(105), ct)

	require.True(t, table.Commit(trx))
	status, _ = table.QueryStatus(trx)
	assert.Equal(t, StatusCommitted, status)
}

func Test_Lifecycle_AbortBeforeValidation(t *testing.T) {
	table := newRunningTable(t, 64, 16)

	const trx = 0x8000000000020000
	table.Insert(trx, 100, false)
	require.True(t, table.Abort(trx, 106))
	status, _ := table.QueryStatus(trx)
	assert.Equal(t, StatusAborted, status)
}

func Test_Lifecycle_AbortAfterValidation(t *testing.T) {
	table := newRunningTable(t, 64, 16)

	const trx = 0x8000000000030000
	table.Insert(trx, 100, false)
	require.True(t, table.EnterValidation(trx, 105))
	require.True(t, table.Abort(trx, 106))
	status, _ := table.QueryStatus(trx)
	assert.Equal(t, StatusAborted, status)
}

func Test_DuplicateInsertPanics(t *testing.T) {
	table := newRunningTable(t, 64, 16)
	const trx = 0x8000000000040000
	table.Insert(trx, 100, false)
	assert.Panics(t, func() {
		table.Insert(trx, 101, false)
	})
}

func Test_UnknownTrx(t *testing.T) {
	table := newRunningTable(t, 64, 16)
	_, ok := table.QueryStatus(12345)
	assert.False(t, ok)
	assert.False(t, table.EnterValidation(12345, 1))
}

func Test_BucketOverflow_UsesIndirectRegion(t *testing.T) {
	// One main bucket: everything after the first 7 inserts overflows into
	// indirect buckets.
	table := newRunningTable(t, 1, 8)
	for i := uint64(0); i < 30; i++ {
		table.Insert(0x9000000000000000+i, 100+i, false)
	}
	for i := uint64(0); i < 30; i++ {
		status, ok := table.QueryStatus(0x9000000000000000 + i)
		require.True(t, ok, "trx %d", i)
		assert.Equal(t, StatusProcessing, status)
	}
}

func Test_GC_ReusesErasedSlots(t *testing.T) {
	table := newRunningTable(t, 1, 2)

	// Fill and finish transactions, then sweep them and verify their slots
	// can be reused by new inserts.
	for round := 0; round < 5; round++ {
		base := 0xA000000000000000 + uint64(round)*100
		for i := uint64(0); i < 10; i++ {
			trx := base + i
			table.Insert(trx, 100, false)
			require.True(t, table.EnterValidation(trx, 200))
			require.True(t, table.Commit(trx))
		}
		erased := table.EraseBelow(300)
		assert.Equal(t, 10, erased, "round %d", round)
	}
}

func Test_GC_KeepsRecentEntries(t *testing.T) {
	table := newRunningTable(t, 64, 16)
	const trx = 0xB000000000000000
	table.Insert(trx, 100, true) // read-only: GC-listed at insert, keyed by bt
	assert.Equal(t, 0, table.EraseBelow(100))
	assert.Equal(t, 1, table.EraseBelow(101))
	_, ok := table.QueryStatus(trx)
	assert.False(t, ok, "erased slot should not resolve")
}

func Test_LocalStub(t *testing.T) {
	table := newRunningTable(t, 64, 16)
	const trx = 0xC000000000000000
	table.Insert(trx, 100, false)
	require.True(t, table.EnterValidation(trx, 104))
	require.True(t, table.Commit(trx))

	stub := LocalStub{Table: table}
	status, ok := stub.Status(trx)
	require.True(t, ok)
	assert.Equal(t, StatusCommitted, status)
	ct, ok := stub.CommitTime(trx)
	require.True(t, ok)
	assert.Equal(t, uint64(104), ct)
}
