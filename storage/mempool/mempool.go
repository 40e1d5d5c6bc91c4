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

// Package mempool provides a fixed-capacity free-list allocator with
// per-thread blocks. Items are addressed by 32-bit offsets rather than
// pointers, which keeps the reference graph of the storage layer flat and
// snapshot-friendly.
package mempool

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// NilOffset marks "no item". Offset 0 is a valid item.
const NilOffset = ^uint32(0)

// A Pool hands out items of type T from a pre-allocated arena. The free list
// is a chain of offsets. Each thread owns a private block of free cells and
// only touches the shared list on refill or drain, so Get and Free are
// lock-free in the common case. The caller guarantees that a given tid is
// used by one goroutine at a time.
type Pool[T any] struct {
	items []T
	next  []uint32

	blockSize uint32

	// Global free list, protected by lock. The cell at tail is a sentinel and
	// is never handed out; the list always retains at least head and tail.
	lock sync.Mutex
	head uint32
	tail uint32

	threads []threadBlock

	gets  atomic.Int64
	frees atomic.Int64
}

// threadBlock is the thread-private span of the free list. Padded to a cache
// line so adjacent threads don't false-share.
type threadBlock struct {
	head  uint32
	tail  uint32
	count uint32
	_     [52]byte
}

// New creates a pool with the given item capacity, serving the given number
// of threads. blockSize is the refill/drain granularity.
func New[T any](capacity uint32, nthreads int, blockSize uint32) *Pool[T] {
	if capacity < uint32(nthreads)*(blockSize+2) {
		log.Panicf("mempool: capacity %d too small for %d threads with block size %d",
			capacity, nthreads, blockSize)
	}
	p := &Pool[T]{
		items:     make([]T, capacity),
		next:      make([]uint32, capacity),
		blockSize: blockSize,
		head:      0,
		tail:      capacity - 1,
		threads:   make([]threadBlock, nthreads),
	}
	for i := range p.next {
		p.next[i] = uint32(i) + 1
	}
	for tid := range p.threads {
		p.threads[tid].head = NilOffset
		p.threads[tid].tail = NilOffset
	}
	return p
}

// Item returns the item at the given offset. The pointer stays valid for the
// pool's lifetime; the arena never moves.
func (p *Pool[T]) Item(offset uint32) *T {
	return &p.items[offset]
}

// Next exposes the free-list successor of an offset. Multi-cell users (the
// value store) chain their cells through it.
func (p *Pool[T]) Next(offset uint32) uint32 {
	return p.next[offset]
}

// SetNext rewires the free-list successor of an offset. Only valid on cells
// the caller currently owns.
func (p *Pool[T]) SetNext(offset, next uint32) {
	p.next[offset] = next
}

// Get returns the offset of a free cell. It panics if the global list is
// exhausted, which is a sizing error.
func (p *Pool[T]) Get(tid int) uint32 {
	st := &p.threads[tid]
	if st.count == 0 {
		p.refill(st)
	}
	off := st.head
	st.head = p.next[off]
	st.count--
	if st.count == 0 {
		st.head = NilOffset
		st.tail = NilOffset
	}
	p.gets.Add(1)
	return off
}

// GetN removes n chained cells from the free list and returns the offset of
// the first; the chain runs through Next. Requests larger than the block size
// bypass the thread block and come from the global list.
func (p *Pool[T]) GetN(n uint32, tid int) uint32 {
	if n == 0 {
		log.Panicf("mempool: GetN(0)")
	}
	if n > p.blockSize {
		p.lock.Lock()
		first := p.head
		cursor := p.head
		for i := uint32(0); i < n; i++ {
			if cursor == p.tail {
				log.Panicf("mempool: global free list exhausted (capacity %d)", len(p.items))
			}
			cursor = p.next[cursor]
		}
		p.head = cursor
		p.lock.Unlock()
		p.gets.Add(int64(n))
		return first
	}
	st := &p.threads[tid]
	for st.count < n {
		p.refill(st)
	}
	first := st.head
	for i := uint32(0); i < n; i++ {
		st.head = p.next[st.head]
	}
	st.count -= n
	if st.count == 0 {
		st.head = NilOffset
		st.tail = NilOffset
	}
	p.gets.Add(int64(n))
	return first
}

// Free returns one cell to the thread's block, draining a block back to the
// global list when the local block reaches twice the block size.
func (p *Pool[T]) Free(offset uint32, tid int) {
	p.FreeN(offset, 1, tid)
}

// FreeN returns a chain of n cells starting at offset. Chains longer than
// twice the block size go straight to the global list.
func (p *Pool[T]) FreeN(offset, n uint32, tid int) {
	if n == 0 {
		return
	}
	p.frees.Add(int64(n))
	if n > 2*p.blockSize {
		chainTail := offset
		for i := uint32(0); i < n-1; i++ {
			chainTail = p.next[chainTail]
		}
		p.lock.Lock()
		p.next[p.tail] = offset
		p.tail = chainTail
		p.lock.Unlock()
		return
	}

	st := &p.threads[tid]
	if st.count == 0 {
		st.head = offset
	} else {
		p.next[st.tail] = offset
	}
	st.tail = offset
	for i := uint32(0); i < n-1; i++ {
		st.tail = p.next[st.tail]
	}
	st.count += n

	if st.count >= 2*p.blockSize {
		toFree := st.count - p.blockSize
		chainHead := st.head
		chainTail := chainHead
		for i := uint32(0); i < toFree-1; i++ {
			chainTail = p.next[chainTail]
		}
		st.head = p.next[chainTail]
		st.count -= toFree
		p.lock.Lock()
		p.next[p.tail] = chainHead
		p.tail = chainTail
		p.lock.Unlock()
	}
}

// refill appends one block from the global list to the thread's block. The
// global list keeps its tail sentinel; running into it means the pool was
// sized too small, which panics.
func (p *Pool[T]) refill(st *threadBlock) {
	p.lock.Lock()
	cursor := p.head
	blockHead := cursor
	var blockTail uint32
	for i := uint32(0); i < p.blockSize; i++ {
		if p.next[cursor] == p.tail {
			log.Panicf("mempool: global free list exhausted (capacity %d)", len(p.items))
		}
		blockTail = cursor
		cursor = p.next[cursor]
	}
	p.head = cursor
	p.lock.Unlock()

	if st.count == 0 {
		st.head = blockHead
	} else {
		p.next[st.tail] = blockHead
	}
	st.tail = blockTail
	st.count += p.blockSize
}

// Outstanding returns gets minus frees, the number of cells currently held by
// callers.
func (p *Pool[T]) Outstanding() int64 {
	return p.gets.Load() - p.frees.Load()
}

// Capacity returns the total number of cells in the arena.
func (p *Pool[T]) Capacity() uint32 {
	return uint32(len(p.items))
}

// UsageString summarizes allocation counters for startup logging.
func (p *Pool[T]) UsageString() string {
	return fmt.Sprintf("Get: %d, Free: %d, Total: %d", p.gets.Load(), p.frees.Load(), len(p.items))
}
