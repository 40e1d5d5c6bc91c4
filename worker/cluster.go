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

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ebay/gryphon/config"
	"github.com/ebay/gryphon/coord"
	"github.com/ebay/gryphon/exec"
	"github.com/ebay/gryphon/index"
	"github.com/ebay/gryphon/loader"
	"github.com/ebay/gryphon/mailbox"
	"github.com/ebay/gryphon/query/plan"
	"github.com/ebay/gryphon/rct"
	"github.com/ebay/gryphon/storage"
	"github.com/ebay/gryphon/txtable"
	"github.com/ebay/gryphon/util/clocks"
	"github.com/ebay/gryphon/util/parallel"
	log "github.com/sirupsen/logrus"
)

// A Cluster is the set of in-process workers sharing one coordinator and
// one message fabric. A multi-process deployment replaces the fabric with
// the network transports; everything else is per-worker state already.
type Cluster struct {
	Cfg     *config.Gryphon
	Coord   *coord.Coordinator
	Network *mailbox.Network
	Workers []*Worker

	cancel context.CancelFunc
	waits  []func()
}

// stubRouter resolves the status-table stub of the worker hosting a trxid.
type stubRouter struct {
	cluster *Cluster
}

// StubFor implements txtable.Router. Unknown (finished) transactions route
// to worker 0's table, which simply won't find the row.
func (r stubRouter) StubFor(trxID uint64) txtable.Stub {
	rank, ok := r.cluster.Coord.WorkerFromTrxID(trxID)
	if !ok {
		rank = 0
	}
	return txtable.LocalStub{Table: r.cluster.Workers[rank].Table}
}

// NewCluster builds workerCount workers over the data in cfg.DataRoot.
func NewCluster(cfg *config.Gryphon, workerCount int) (*Cluster, error) {
	cfg.ApplyDefaults()
	strs, err := loader.LoadStrings(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("loading string indexes: %v", err)
	}

	c := &Cluster{
		Cfg:     cfg,
		Coord:   coord.New(),
		Network: mailbox.NewNetwork(workerCount, cfg.ExpertThreads+1, 1024),
	}

	for rank := 0; rank < workerCount; rank++ {
		store := storage.New(storage.Options{
			RowPoolSize:     uint32(cfg.RowPoolSize),
			MVCCPoolSize:    uint32(cfg.MVCCPoolSize),
			ValueStoreItems: uint32(cfg.ValueStoreItems),
			Threads:         cfg.ExpertThreads,
			WorkerRank:      rank,
			WorkerCount:     workerCount,
		})
		if _, err := loader.Load(cfg.DataRoot, store, strs, rank, workerCount); err != nil {
			return nil, fmt.Errorf("loading worker %d: %v", rank, err)
		}
		for name, usage := range store.UsageStrings() {
			log.WithFields(log.Fields{"rank": rank, "pool": name}).Debug(usage)
		}

		table := txtable.New(cfg.TrxTableBuckets, cfg.IndirectBuckets)
		engineCtx := &exec.Context{
			Rank:           rank,
			WorkerCount:    workerCount,
			Threads:        cfg.ExpertThreads,
			Store:          store,
			Indexes:        index.New(),
			Strings:        strs,
			RCT:            rct.New(),
			Mailbox:        c.Network.Mailbox(rank),
			Cache:          exec.NewCache(int64(cfg.ExpertCacheItems)),
			Tunables:       &cfg.Runtime,
			MaxMessageSize: cfg.MaxMessageSize,
			Serializable:   cfg.Isolation == config.Serializable,
		}
		engine := exec.NewEngine(engineCtx)

		w := &Worker{
			Rank:         rank,
			WorkerCount:  workerCount,
			Cfg:          cfg,
			Coord:        c.Coord,
			Store:        store,
			Strings:      strs,
			Indexes:      engineCtx.Indexes,
			Table:        table,
			RCT:          engineCtx.RCT,
			Engine:       engine,
			Mailbox:      engineCtx.Mailbox,
			collectorTid: cfg.ExpertThreads,
			pending:      make(map[uint64]chan<- queryEvent),
		}
		w.registerAll = func(qp *plan.QueryPlan) {
			for _, peer := range c.Workers {
				peer.Engine.RegisterQuery(qp)
			}
		}
		w.unregisterAll = func(qid uint64) {
			for _, peer := range c.Workers {
				peer.Engine.UnregisterQuery(qid)
			}
		}
		c.Workers = append(c.Workers, w)
	}
	return c, nil
}

// Start launches the engines, collectors, status-table executors, and GC
// sweepers.
func (c *Cluster) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for _, w := range c.Workers {
		w := w
		c.waits = append(c.waits,
			parallel.Go(func() { w.Engine.Run(ctx) }),
			parallel.Go(func() { w.Table.Run(ctx) }),
			parallel.Go(func() { w.RunCollector(ctx) }),
			parallel.Go(func() {
				w.Table.RunSweeper(ctx, clocks.Wall, c.Coord.MinActiveBT, 5*time.Second)
			}),
		)
	}
}

// Stop shuts the cluster down and waits for its goroutines.
func (c *Cluster) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	for _, wait := range c.waits {
		wait()
	}
}

// Execute runs a transaction on its originating worker.
func (c *Cluster) Execute(ctx context.Context, rank int, trx string) *Reply {
	return c.Workers[rank].Execute(ctx, trx)
}
