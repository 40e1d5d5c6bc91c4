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

// Package exec runs operator experts over the message pipeline: an adapter
// pool pulls messages from the mailbox and dispatches them to the expert
// registered for the message's current operator.
package exec

import (
	"github.com/cespare/xxhash/v2"
	"github.com/ebay/gryphon/config"
	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/index"
	"github.com/ebay/gryphon/mailbox"
	"github.com/ebay/gryphon/query/plan"
	"github.com/ebay/gryphon/rct"
	"github.com/ebay/gryphon/storage"
)

// Context is the per-worker environment threaded through every expert call.
// It replaces the global singletons of a worker process with one explicit
// value.
type Context struct {
	Rank        int
	WorkerCount int
	Threads     int

	Store    *storage.Store
	Indexes  *index.Store
	Strings  plan.StringIndex
	RCT      *rct.Index
	Mailbox  mailbox.Mailbox
	Cache    *Cache
	Tunables *config.Tunables

	MaxMessageSize int
	Serializable   bool
}

// ownerOf maps a vertex to its hosting worker.
func (c *Context) ownerOf(vid graph.VID) int {
	return vid.Worker(c.WorkerCount)
}

// threadFor picks the expert thread handling a (query, step) on any worker,
// spreading queries over the pool deterministically.
func (c *Context) threadFor(qid uint64, step int) int {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(qid >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(uint64(step) >> (8 * i))
	}
	return int(xxhash.Sum64(buf[:]) % uint64(c.Threads))
}
