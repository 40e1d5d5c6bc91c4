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

// Package txtable implements the per-worker transaction status table: an
// open-addressed slot array with indirect-bucket overflow, a single-writer
// transition queue, and a garbage sweeper driven by the cluster's minimum
// active begin time.
package txtable

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebay/gryphon/util/clocks"
	log "github.com/sirupsen/logrus"
)

// Status of a transaction in its lifecycle state machine.
type Status uint8

// The transaction states.
const (
	StatusProcessing Status = iota
	StatusValidating
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "PROCESSING"
	case StatusValidating:
		return "VALIDATING"
	case StatusCommitted:
		return "COMMITTED"
	case StatusAborted:
		return "ABORTED"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Flag bits of a slot's packed state word.
const (
	flagP uint32 = 1 << iota
	flagV
	flagC
	flagA
	flagOccupied
	flagErased
)

// associativity is the slot count per bucket; the last slot of each bucket
// is the indirect header pointing at an overflow bucket.
const associativity = 8

// A slot is the packed per-transaction record: 64-bit trxid, state bits, and
// 64-bit commit time. All fields are atomics so remote stubs can read a slot
// without coordinating with the writer, mirroring the one-sided-RDMA read.
type slot struct {
	trxID atomic.Uint64
	state atomic.Uint32
	ct    atomic.Uint64
}

func (s *slot) status() Status {
	state := s.state.Load()
	if state&flagA != 0 && state&flagC != 0 {
		log.Panicf("txtable: slot for trx %d is both committed and aborted", s.trxID.Load())
	}
	switch {
	case state&flagA != 0:
		return StatusAborted
	case state&flagC != 0:
		return StatusCommitted
	case state&flagV != 0:
		return StatusValidating
	default:
		return StatusProcessing
	}
}

func (s *slot) empty() bool {
	state := s.state.Load()
	return state&flagOccupied == 0 || state&flagErased != 0
}

// gcNode is an entry of the singly-linked GC lists.
type gcNode struct {
	ts   uint64
	slot *slot
	next *gcNode
}

// A Table is one worker's transaction status table. State transitions go
// through the Run loop (the exclusive executor); reads may come from any
// goroutine.
type Table struct {
	slots       []slot
	mainBuckets uint64
	// Next unassigned indirect bucket, used only by the executor.
	nextIndirect uint64
	maxIndirect  uint64

	requests chan request

	// GC lists: read-only transactions keyed by begin time, writable
	// transactions keyed by finish (commit/abort) time. Guarded by gcLock;
	// the sweeper and the executor both touch them.
	gcLock  sync.Mutex
	roHead  *gcNode
	roTail  *gcNode
	nroHead *gcNode
	nroTail *gcNode
}

// A request is one state transition for the executor. Invalid transitions
// panic; the executor forwards the panic value to the submitting goroutine
// so it surfaces at the call site.
type request struct {
	apply func()
	done  chan any
}

// New creates a table with the given bucket counts. Capacity is
// (main+indirect)*associativity slots.
func New(mainBuckets, indirectBuckets int) *Table {
	return &Table{
		slots:        make([]slot, (mainBuckets+indirectBuckets)*associativity),
		mainBuckets:  uint64(mainBuckets),
		nextIndirect: uint64(mainBuckets),
		maxIndirect:  uint64(mainBuckets + indirectBuckets),
		requests:     make(chan request, 128),
	}
}

// Run consumes the transition queue until the context ends. Exactly one
// goroutine may run this per table.
func (t *Table) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-t.requests:
			func() {
				defer func() {
					req.done <- recover()
				}()
				req.apply()
			}()
		}
	}
}

// submit hands a transition to the executor and waits for it.
func (t *Table) submit(apply func()) {
	req := request{apply: apply, done: make(chan any, 1)}
	t.requests <- req
	if p := <-req.done; p != nil {
		panic(p)
	}
}

// trxHash spreads trxids over the main buckets. The low bits of a trxid are
// the coordinator's cluster-wide sequence; the shift folds higher bits in.
func (t *Table) trxHash(trxID uint64) uint64 {
	return (trxID ^ trxID>>17) % t.mainBuckets
}

// findSlot locates the slot of trxID, or nil.
func (t *Table) findSlot(trxID uint64) *slot {
	bucket := t.trxHash(trxID)
	for {
		base := bucket * associativity
		for i := uint64(0); i < associativity-1; i++ {
			s := &t.slots[base+i]
			if s.trxID.Load() == trxID && s.state.Load()&flagOccupied != 0 && s.state.Load()&flagErased == 0 {
				return s
			}
		}
		header := &t.slots[base+associativity-1]
		next := header.trxID.Load()
		if next == 0 {
			return nil
		}
		bucket = next
	}
}

// Insert registers a fresh transaction in state PROCESSING. Registering a
// trxid twice panics: the coordinator never reissues ids. Read-only
// transactions are queued for GC immediately, keyed by their begin time.
func (t *Table) Insert(trxID, bt uint64, readOnly bool) {
	t.submit(func() {
		s := t.insertSlot(trxID)
		s.trxID.Store(trxID)
		s.ct.Store(0)
		s.state.Store(flagP | flagOccupied)
		if readOnly {
			t.recordGC(s, bt, true)
		}
	})
}

// insertSlot finds a free slot for trxID, extending into the indirect
// region when a bucket fills. Executor-only.
func (t *Table) insertSlot(trxID uint64) *slot {
	bucket := t.trxHash(trxID)
	for {
		base := bucket * associativity
		for i := uint64(0); i < associativity-1; i++ {
			s := &t.slots[base+i]
			if s.trxID.Load() == trxID && !s.empty() {
				log.Panicf("txtable: trx %d already present", trxID)
			}
			if s.empty() {
				return s
			}
		}
		header := &t.slots[base+associativity-1]
		next := header.trxID.Load()
		if next != 0 {
			bucket = next
			continue
		}
		if t.nextIndirect >= t.maxIndirect {
			log.Panicf("txtable: out of indirect-header region (%d buckets)", t.maxIndirect-t.mainBuckets)
		}
		header.trxID.Store(t.nextIndirect)
		bucket = t.nextIndirect
		t.nextIndirect++
	}
}

// EnterValidation moves PROCESSING → VALIDATING and records the commit time
// allocated for the transaction.
func (t *Table) EnterValidation(trxID, ct uint64) bool {
	found := false
	t.submit(func() {
		s := t.findSlot(trxID)
		if s == nil {
			return
		}
		state := s.state.Load()
		if state&flagP == 0 || state&(flagV|flagC|flagA) != 0 {
			log.Panicf("txtable: invalid transition to VALIDATING for trx %d (state %b)", trxID, state)
		}
		s.ct.Store(ct)
		s.state.Store(state | flagV)
		found = true
	})
	return found
}

// Commit moves VALIDATING → COMMITTED. The transaction is then queued for GC
// keyed by its commit time.
func (t *Table) Commit(trxID uint64) bool {
	found := false
	t.submit(func() {
		s := t.findSlot(trxID)
		if s == nil {
			return
		}
		state := s.state.Load()
		if state&flagP == 0 || state&flagV == 0 || state&(flagC|flagA) != 0 {
			log.Panicf("txtable: invalid transition to COMMITTED for trx %d (state %b)", trxID, state)
		}
		s.state.Store(state | flagC)
		t.recordGC(s, s.ct.Load(), false)
		found = true
	})
	return found
}

// Abort moves PROCESSING or VALIDATING → ABORTED. 'ft' keys the slot for GC.
func (t *Table) Abort(trxID, ft uint64) bool {
	found := false
	t.submit(func() {
		s := t.findSlot(trxID)
		if s == nil {
			return
		}
		state := s.state.Load()
		if state&flagP == 0 || state&flagC != 0 {
			log.Panicf("txtable: invalid transition to ABORTED for trx %d (state %b)", trxID, state)
		}
		s.state.Store(state | flagA)
		t.recordGC(s, ft, false)
		found = true
	})
	return found
}

// QueryStatus reads a transaction's current status.
func (t *Table) QueryStatus(trxID uint64) (Status, bool) {
	s := t.findSlot(trxID)
	if s == nil {
		return 0, false
	}
	return s.status(), true
}

// QueryCT reads a transaction's commit time; zero until it enters
// validation.
func (t *Table) QueryCT(trxID uint64) (uint64, bool) {
	s := t.findSlot(trxID)
	if s == nil {
		return 0, false
	}
	return s.ct.Load(), true
}

// recordGC appends a finished (or read-only) transaction's slot to the GC
// list.
func (t *Table) recordGC(s *slot, ts uint64, readOnly bool) {
	node := &gcNode{ts: ts, slot: s}
	t.gcLock.Lock()
	if readOnly {
		if t.roTail == nil {
			t.roHead, t.roTail = node, node
		} else {
			t.roTail.next = node
			t.roTail = node
		}
	} else {
		if t.nroTail == nil {
			t.nroHead, t.nroTail = node, node
		} else {
			t.nroTail.next = node
			t.nroTail = node
		}
	}
	t.gcLock.Unlock()
}

// EraseBelow marks erased every GC-listed slot whose timestamp is older than
// minBT, making the slot reusable. It returns how many were erased.
func (t *Table) EraseBelow(minBT uint64) int {
	t.gcLock.Lock()
	defer t.gcLock.Unlock()
	erased := 0
	t.roHead, t.roTail, erased = eraseList(t.roHead, t.roTail, minBT, erased)
	t.nroHead, t.nroTail, erased = eraseList(t.nroHead, t.nroTail, minBT, erased)
	return erased
}

func eraseList(head, tail *gcNode, minBT uint64, erased int) (*gcNode, *gcNode, int) {
	for head != nil && head.ts < minBT {
		state := head.slot.state.Load()
		head.slot.state.Store(state | flagErased)
		erased++
		head = head.next
	}
	if head == nil {
		tail = nil
	}
	return head, tail, erased
}

// RunSweeper periodically erases slots below the watermark until the context
// ends.
func (t *Table) RunSweeper(ctx context.Context, clock clocks.Source,
	watermark func() uint64, interval time.Duration) {
	for {
		if err := clock.SleepUntil(ctx, clock.Now().Add(interval)); err != nil {
			return
		}
		if n := t.EraseBelow(watermark()); n > 0 {
			log.WithFields(log.Fields{"erased": n}).Debug("txtable: swept finished transactions")
		}
	}
}
