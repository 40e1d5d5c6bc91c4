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

// A Stub answers status queries about transactions hosted on some worker.
// The hosting worker reads its own table directly; remote workers go through
// whichever transport the deployment wires up. In RDMA mode that's a
// one-sided read of the packed slot; in TCP mode a request-reply round trip.
// Both reduce to this interface.
type Stub interface {
	// Status returns the transaction's current state.
	Status(trxID uint64) (Status, bool)
	// CommitTime returns the commit time registered when the transaction
	// entered validation; zero before that.
	CommitTime(trxID uint64) (uint64, bool)
}

// LocalStub reads the hosting worker's own table.
type LocalStub struct {
	Table *Table
}

// Status implements Stub.
func (s LocalStub) Status(trxID uint64) (Status, bool) {
	return s.Table.QueryStatus(trxID)
}

// CommitTime implements Stub.
func (s LocalStub) CommitTime(trxID uint64) (uint64, bool) {
	return s.Table.QueryCT(trxID)
}

// A Router finds the stub of the worker hosting a trxid.
type Router interface {
	StubFor(trxID uint64) Stub
}
