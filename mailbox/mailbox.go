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

// Package mailbox moves messages between expert threads across workers. The
// contract is at-most-once, in-order delivery per (sender thread, receiver
// thread) link; this implementation keeps the whole cluster in one process
// and backs each receiver thread with a bounded channel, which preserves
// per-sender FIFO order. The RDMA and TCP transports of a multi-process
// deployment plug in behind the same interface.
package mailbox

import (
	"context"
	"strconv"

	"github.com/ebay/gryphon/msg"
)

// A Mailbox is one worker's view of the cluster's message fabric.
type Mailbox interface {
	// Send routes a message to its Meta.RecverNode / Meta.RecverThread. It
	// blocks while the destination queue is full.
	Send(ctx context.Context, m msg.Message) error
	// Recv blocks for the next message addressed to the given expert thread.
	Recv(ctx context.Context, tid int) (msg.Message, error)
}

// A Network connects the in-process workers. Build one per cluster, then
// hand each worker its Mailbox.
type Network struct {
	workers []*local
}

// NewNetwork creates the fabric for workerCount workers with the given
// number of expert threads each. queueDepth bounds each receiver queue.
func NewNetwork(workerCount, threads, queueDepth int) *Network {
	n := &Network{
		workers: make([]*local, workerCount),
	}
	for rank := range n.workers {
		queues := make([]chan msg.Message, threads)
		for tid := range queues {
			queues[tid] = make(chan msg.Message, queueDepth)
		}
		n.workers[rank] = &local{network: n, rank: rank, queues: queues}
	}
	return n
}

// Mailbox returns worker 'rank's mailbox.
func (n *Network) Mailbox(rank int) Mailbox {
	return n.workers[rank]
}

// local is the in-process mailbox of one worker.
type local struct {
	network *Network
	rank    int
	queues  []chan msg.Message
}

func (l *local) Send(ctx context.Context, m msg.Message) error {
	dest := l.network.workers[m.Meta.RecverNode]
	queue := dest.queues[m.Meta.RecverThread]
	metrics.sent.WithLabelValues(strconv.Itoa(l.rank)).Inc()
	select {
	case queue <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *local) Recv(ctx context.Context, tid int) (msg.Message, error) {
	select {
	case m := <-l.queues[tid]:
		metrics.received.WithLabelValues(strconv.Itoa(l.rank)).Inc()
		return m, nil
	case <-ctx.Done():
		return msg.Message{}, ctx.Err()
	}
}
