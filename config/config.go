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

// Package config defines the Gryphon configuration: the JSON settings file,
// the cluster hostfile, and the runtime-tunable flags behind SetConfig.
package config

import (
	"sync"
)

// Isolation levels accepted in the config file.
const (
	SnapshotIsolation = "SI"
	Serializable      = "SERIALIZABLE"
)

// Gryphon is the root of the configuration tree, loaded from a JSON file.
type Gryphon struct {
	// Path to the cluster hostfile (one node per line, master first).
	HostFile string `json:"hostFile"`
	// Number of expert worker threads per worker process.
	ExpertThreads int `json:"expertThreads"`
	// SI or SERIALIZABLE.
	Isolation string `json:"isolation"`
	// Whether the mailbox should use RDMA between workers. Only the
	// in-process transport is built in; the flag selects the stub mode.
	UseRDMA bool `json:"useRDMA"`
	// Maximum payload bytes per message before the builder splits.
	MaxMessageSize int `json:"maxMessageSize"`
	// Pool capacities, in items.
	RowPoolSize      int `json:"rowPoolSize"`
	MVCCPoolSize     int `json:"mvccPoolSize"`
	ValueStoreItems  int `json:"valueStoreItems"`
	TrxTableBuckets  int `json:"trxTableBuckets"`
	IndirectBuckets  int `json:"indirectBuckets"`
	ExpertCacheItems int `json:"expertCacheItems"`
	// Directory with the graph source files and the four string indexes.
	DataRoot string `json:"dataRoot"`
	// Where snapshots would go; unused until snapshot persistence lands.
	SnapshotRoot string `json:"snapshotRoot"`
	// Address for the client HTTP API (worker 0 only).
	HTTPAddress string `json:"httpAddress"`
	// Address for the Prometheus metrics endpoint.
	MetricsAddress string `json:"metricsAddress"`

	// Runtime-tunable flags, adjustable with the SetConfig command.
	Runtime Tunables `json:"runtime"`
}

// Tunables are the flags a SetConfig("name", value) command can flip while
// the system is running. Reads take the lock, so keep them off hot paths or
// snapshot them per query.
type Tunables struct {
	lock sync.Mutex

	EnableCache       bool `json:"enableCache"`
	EnableStepReorder bool `json:"enableStepReorder"`
	EnableIndex       bool `json:"enableIndex"`
	// Cardinality ratio for index push-down, the "ratio" of the planner's
	// threshold test.
	IndexRatio int `json:"indexRatio"`
}

// Snapshot returns a copy of the tunables, safe to read without the lock.
func (t *Tunables) Snapshot() Tunables {
	t.lock.Lock()
	defer t.lock.Unlock()
	return Tunables{
		EnableCache:       t.EnableCache,
		EnableStepReorder: t.EnableStepReorder,
		EnableIndex:       t.EnableIndex,
		IndexRatio:        t.IndexRatio,
	}
}

// Set flips one tunable by name. It returns false for an unknown name.
func (t *Tunables) Set(name string, enable bool) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	switch name {
	case "caching":
		t.EnableCache = enable
	case "step_reorder":
		t.EnableStepReorder = enable
	case "indexing":
		t.EnableIndex = enable
	default:
		return false
	}
	return true
}

// SetInt sets one integer tunable by name. It returns false for an unknown
// name.
func (t *Tunables) SetInt(name string, value int) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	switch name {
	case "index_ratio":
		t.IndexRatio = value
	default:
		return false
	}
	return true
}

// ApplyDefaults fills in the zero-valued fields that have non-zero defaults.
func (cfg *Gryphon) ApplyDefaults() {
	if cfg.ExpertThreads == 0 {
		cfg.ExpertThreads = 4
	}
	if cfg.Isolation == "" {
		cfg.Isolation = SnapshotIsolation
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.RowPoolSize == 0 {
		cfg.RowPoolSize = 1 << 16
	}
	if cfg.MVCCPoolSize == 0 {
		cfg.MVCCPoolSize = 1 << 18
	}
	if cfg.ValueStoreItems == 0 {
		cfg.ValueStoreItems = 1 << 18
	}
	if cfg.TrxTableBuckets == 0 {
		cfg.TrxTableBuckets = 1 << 12
	}
	if cfg.IndirectBuckets == 0 {
		cfg.IndirectBuckets = 1 << 10
	}
	if cfg.ExpertCacheItems == 0 {
		cfg.ExpertCacheItems = 1 << 16
	}
	if cfg.Runtime.IndexRatio == 0 {
		cfg.Runtime.IndexRatio = 3
	}
}
