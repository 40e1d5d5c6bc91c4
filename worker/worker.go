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

// Package worker drives one partition of the graph engine: it parses client
// transactions, schedules the query DAG over the expert pipeline, and runs
// the transaction lifecycle through validation and commit.
package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ebay/gryphon/config"
	"github.com/ebay/gryphon/coord"
	"github.com/ebay/gryphon/exec"
	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/index"
	"github.com/ebay/gryphon/loader"
	"github.com/ebay/gryphon/mailbox"
	"github.com/ebay/gryphon/msg"
	"github.com/ebay/gryphon/query/parser"
	"github.com/ebay/gryphon/query/plan"
	"github.com/ebay/gryphon/rct"
	"github.com/ebay/gryphon/storage"
	"github.com/ebay/gryphon/txtable"
	opentracing "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
)

// A Worker hosts one partition: its store, status table, RCT, expert
// engine, and the scheduler for transactions it originates.
type Worker struct {
	Rank        int
	WorkerCount int
	Cfg         *config.Gryphon
	Coord       *coord.Coordinator
	Store       *storage.Store
	Strings     *loader.Strings
	Indexes     *index.Store
	Table       *txtable.Table
	RCT         *rct.Index
	Engine      *exec.Engine
	Mailbox     mailbox.Mailbox

	// Thread index of the collector queue (one past the expert threads).
	collectorTid int

	// Cluster glue: register/unregister a released plan on every worker.
	registerAll   func(qp *plan.QueryPlan)
	unregisterAll func(qid uint64)

	pendingLock sync.Mutex
	pending     map[uint64]chan<- queryEvent
}

// queryEvent is one finished query delivered by the collector.
type queryEvent struct {
	qid     uint64
	values  []graph.Value
	aborted bool
	reason  string
}

// A Reply is the framed answer to one client transaction.
type Reply struct {
	Results []string `json:"results"`
	// Elapsed microseconds, as the client protocol frames it.
	Latency int64  `json:"latency"`
	Aborted bool   `json:"aborted,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RunCollector consumes EXIT and ABORT messages addressed to this worker's
// collector thread until the context ends.
func (w *Worker) RunCollector(ctx context.Context) {
	for {
		m, err := w.Mailbox.Recv(ctx, w.collectorTid)
		if err != nil {
			return
		}
		event := queryEvent{qid: m.Meta.QID}
		switch m.Meta.Type {
		case msg.TypeExit:
			for _, pair := range m.Data {
				event.values = append(event.values, pair.Values...)
			}
		case msg.TypeAbort:
			event.aborted = true
			if len(m.Data) > 0 && len(m.Data[0].Values) > 0 {
				event.reason = m.Data[0].Values[0].String()
			}
		default:
			log.WithFields(log.Fields{
				"type": m.Meta.Type,
				"qid":  m.Meta.QID,
			}).Warn("Collector received unexpected message type")
			continue
		}
		w.deliver(event)
	}
}

func (w *Worker) deliver(event queryEvent) {
	w.pendingLock.Lock()
	ch := w.pending[event.qid]
	delete(w.pending, event.qid)
	w.pendingLock.Unlock()
	if ch != nil {
		ch <- event
	}
	// A second abort for an already-finished query is expected: several
	// experts can abort the same query; the first event wins.
}

func (w *Worker) addPending(qid uint64, ch chan<- queryEvent) {
	w.pendingLock.Lock()
	w.pending[qid] = ch
	w.pendingLock.Unlock()
}

// Execute runs one client transaction to completion and returns its reply.
func (w *Worker) Execute(ctx context.Context, trx string) *Reply {
	span, ctx := opentracing.StartSpanFromContext(ctx, "transaction")
	defer span.Finish()
	start := time.Now()

	reply := func(results []string, aborted bool, reason string) *Reply {
		return &Reply{
			Results: results,
			Latency: time.Since(start).Microseconds(),
			Aborted: aborted,
			Reason:  reason,
		}
	}

	lines, err := parser.Parse(trx)
	if err != nil {
		return reply(nil, true, err.Error())
	}
	tun := w.Cfg.Runtime.Snapshot()
	planner := plan.NewPlanner(w.Strings, w.Indexes, plan.Options{
		EnableStepReorder: tun.EnableStepReorder,
		EnableIndex:       tun.EnableIndex,
		IndexRatio:        uint64(tun.IndexRatio),
	})
	tplan, err := planner.Plan(lines)
	if err != nil {
		return reply(nil, true, err.Error())
	}

	trxID := w.Coord.RegisterTrx(w.Rank)
	bt := w.Coord.AllocateBT(trxID)
	tplan.TrxID = trxID
	tplan.BT = bt
	w.Table.Insert(trxID, bt, tplan.Kind == plan.TrxReadOnly)
	span.SetTag("trxid", trxID)

	validationIndex := len(tplan.Queries) - 1
	events := make(chan queryEvent, len(tplan.Queries)+4)
	inflight := make(map[uint64]int)

	finish := func(aborted bool, reason string) *Reply {
		for qid := range inflight {
			w.unregisterAll(qid)
		}
		if !aborted {
			values := tplan.Result()
			results := make([]string, len(values))
			for i, v := range values {
				results[i] = v.String()
			}
			return reply(results, false, "")
		}
		return reply(nil, true, reason)
	}

	for {
		for _, qp := range tplan.NextQueries() {
			if qp.QueryIndex == validationIndex {
				qp.CT = w.Coord.AllocateCT(trxID)
				w.Table.EnterValidation(trxID, qp.CT)
			}
			qid := w.release(qp, events)
			inflight[qid] = qp.QueryIndex
		}
		if len(inflight) == 0 {
			break
		}

		var event queryEvent
		select {
		case event = <-events:
		case <-ctx.Done():
			return finish(true, "context canceled")
		}
		queryIndex := inflight[event.qid]
		delete(inflight, event.qid)
		w.unregisterAll(event.qid)

		if event.aborted {
			tplan.Abort()
			w.applyAbort(ctx, tplan)
			return finish(true, event.reason)
		}
		if queryIndex == validationIndex {
			// Every partition has applied the decision; flipping the status
			// bit now keeps the commit atomic from a reader's perspective.
			if len(event.values) > 0 && event.values[0].String() == "ABORTED" {
				w.Table.Abort(trxID, tplan.BT)
				w.Coord.FinishTrx(trxID)
				tplan.Abort()
				tplan.FillResult(queryIndex, nil)
				return finish(true, "Abort with [Validation]")
			}
			w.Table.Commit(trxID)
			w.Coord.FinishTrx(trxID)
			tplan.FillResult(queryIndex, nil)
			continue
		}
		tplan.FillResult(queryIndex, event.values)
	}
	return finish(false, "")
}

// release registers a ready query on every worker and sends its INIT
// fan-out. Queries whose chain begins with addV run only on the originating
// worker.
func (w *Worker) release(qp *plan.QueryPlan, events chan<- queryEvent) uint64 {
	qid := exec.QueryID(qp.TrxID, qp.QueryIndex)
	w.registerAll(qp)
	w.addPending(qid, events)

	recvThread := int(qid % uint64(w.Cfg.ExpertThreads))
	first := qp.Steps[0].Op.Kind()
	// A chain that opens by creating a vertex runs once, on the originating
	// worker; everything else fans out so each partition contributes.
	if first == plan.KindAddV {
		init := msg.Message{
			Meta: msg.Meta{
				QID:          qid,
				Step:         0,
				SenderNode:   w.Rank,
				SenderThread: w.collectorTid,
				RecverNode:   w.Rank,
				RecverThread: recvThread,
				ParentNode:   w.Rank,
				ParentThread: w.collectorTid,
				Type:         msg.TypeInit,
				Path:         "1",
			},
		}
		w.send(init)
		return qid
	}

	inits := msg.CreateInitMessages(qid, w.Rank, w.collectorTid,
		w.WorkerCount, recvThread, nil)
	for _, m := range inits {
		w.send(m)
	}
	return qid
}

// applyAbort rolls the transaction back on every worker after a runtime
// abort: the commit operator of the validation query is driven directly
// with an abort decision.
func (w *Worker) applyAbort(ctx context.Context, tplan *plan.TrxPlan) {
	validationIndex := len(tplan.Queries) - 1
	qp := &tplan.Queries[validationIndex]
	qp.QueryIndex = validationIndex
	qp.TrxID = tplan.TrxID
	qp.BT = tplan.BT
	qp.TrxKind = tplan.Kind
	w.registerAll(qp)

	qid := exec.QueryID(tplan.TrxID, validationIndex)
	events := make(chan queryEvent, 4)
	w.addPending(qid, events)

	commitStep := commitStepOf(qp)
	workers := w.WorkerCount
	for node := 0; node < workers; node++ {
		w.send(msg.Message{
			Meta: msg.Meta{
				QID:          qid,
				Step:         commitStep,
				SenderNode:   w.Rank,
				SenderThread: w.collectorTid,
				RecverNode:   node,
				RecverThread: int(qid % uint64(w.Cfg.ExpertThreads)),
				ParentNode:   w.Rank,
				ParentThread: w.collectorTid,
				Type:         msg.TypeFeed,
				Path:         strconv.Itoa(workers),
			},
			Data: []msg.Pair{{Values: []graph.Value{graph.IntValue(0)}}},
		})
	}

	select {
	case <-events:
		w.Table.Abort(tplan.TrxID, tplan.BT)
		w.Coord.FinishTrx(tplan.TrxID)
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		log.WithFields(log.Fields{"trx": tplan.TrxID}).Warn("Timed out applying abort")
	}
	w.unregisterAll(qid)
}

// commitStepOf finds the commit operator in the validation chain.
func commitStepOf(qp *plan.QueryPlan) int {
	for i, step := range qp.Steps {
		if step.Op.Kind() == plan.KindCommit {
			return i
		}
	}
	return 0
}

func (w *Worker) send(m msg.Message) {
	if err := w.Mailbox.Send(context.Background(), m); err != nil {
		log.WithError(err).Warn("Mailbox send failed")
	}
}
