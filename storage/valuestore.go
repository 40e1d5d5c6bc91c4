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
	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/storage/mempool"
)

// valueCellSize is the payload capacity of one value-store cell.
const valueCellSize = 16

// valueCell is one fixed-size chunk of a property payload.
type valueCell struct {
	bytes [valueCellSize]byte
}

// A ValueStore keeps variable-length property payloads in chains of
// fixed-size cells drawn from a free-list pool. The first cell stores a
// one-byte type tag followed by content; subsequent cells are pure content.
type ValueStore struct {
	pool *mempool.Pool[valueCell]
}

// NewValueStore creates a store with the given cell capacity, serving the
// given number of threads.
func NewValueStore(cells uint32, nthreads int) *ValueStore {
	return &ValueStore{
		pool: mempool.New[valueCell](cells, nthreads, 1024),
	}
}

// cellsFor returns how many cells a payload of 'count' bytes occupies.
func cellsFor(count uint32) uint32 {
	n := count / valueCellSize
	if n*valueCellSize != count {
		n++
	}
	return n
}

// Insert copies the value into freshly allocated cells and returns the
// header locating it.
func (s *ValueStore) Insert(value graph.Value, tid int) ValueHeader {
	header := ValueHeader{Count: uint32(len(value.Content)) + 1}
	cells := cellsFor(header.Count)
	header.HeadOffset = s.pool.GetN(cells, tid)

	off := header.HeadOffset
	content := value.Content
	for i := uint32(0); i < cells; i++ {
		cell := s.pool.Item(off)
		if i == 0 {
			cell.bytes[0] = byte(value.Type)
			n := copy(cell.bytes[1:], content)
			content = content[n:]
		} else {
			n := copy(cell.bytes[:], content)
			content = content[n:]
		}
		off = s.pool.Next(off)
	}
	return header
}

// Read reconstructs the value a header points at. Reading a deleted header
// returns the zero Value.
func (s *ValueStore) Read(header ValueHeader) graph.Value {
	if header.IsDeleted() {
		return graph.Value{}
	}
	value := graph.Value{Content: make([]byte, 0, header.Count-1)}
	cells := cellsFor(header.Count)
	remaining := header.Count - 1

	off := header.HeadOffset
	for i := uint32(0); i < cells; i++ {
		cell := s.pool.Item(off)
		if i == 0 {
			value.Type = graph.ValueType(cell.bytes[0])
			n := remaining
			if n > valueCellSize-1 {
				n = valueCellSize - 1
			}
			value.Content = append(value.Content, cell.bytes[1:1+n]...)
			remaining -= n
		} else {
			n := remaining
			if n > valueCellSize {
				n = valueCellSize
			}
			value.Content = append(value.Content, cell.bytes[:n]...)
			remaining -= n
		}
		off = s.pool.Next(off)
	}
	return value
}

// Free returns a header's cells to the free list. Freeing a deleted header
// is a no-op.
func (s *ValueStore) Free(header ValueHeader, tid int) {
	if header.IsDeleted() {
		return
	}
	s.pool.FreeN(header.HeadOffset, cellsFor(header.Count), tid)
}

// Outstanding returns allocated-minus-freed cells, for leak checks.
func (s *ValueStore) Outstanding() int64 {
	return s.pool.Outstanding()
}

// UsageString summarizes allocation counters for startup logging.
func (s *ValueStore) UsageString() string {
	return s.pool.UsageString()
}
